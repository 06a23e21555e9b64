package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alpkeskin/gotoon"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/config"
	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/store"
	"github.com/openbootdotdev/reposnap/internal/system"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

var version = "dev"

// app carries state shared by every subcommand of one invocation.
type app struct {
	cfgFile      string
	verbose      bool
	settings     *config.Settings
	log          *logrus.Logger
	env          system.EnvReader
	registry     metrics.Registry
	isTTY        func() bool
	selectPreset func(snapshot.Preset) (snapshot.Preset, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		env:          system.OSEnv,
		registry:     metrics.NewRegistry(),
		isTTY:        system.HasTTY,
		selectPreset: ui.SelectPreset,
	})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reposnap",
		Short: "Snapshot and restore a multi-repository workspace",
		Long: `reposnap - workspace snapshot tool

Captures the git state of several repositories together with their working
trees, stores the archive in an S3-compatible bucket, and restores or diffs
against it later.`,
		Example: `  # Snapshot the repositories listed in .reposnap.yml
  reposnap create nightly -b dev-snapshots

  # Pick repositories interactively
  reposnap create before-upgrade --pick

  # See what changed since a snapshot
  reposnap diff nightly-1717234200000-1a2b3c4d

  # Restore into a fresh directory
  reposnap restore nightly-1717234200000-1a2b3c4d -t ~/restored`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.reposnap/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newCreateCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newRestoreCmd(a))
	rootCmd.AddCommand(newDiffCmd(a))
	rootCmd.AddCommand(newDeleteCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SetUsageTemplate(usageTemplate)
	return rootCmd
}

func (a *app) init() error {
	a.log = logrus.New()
	a.log.SetOutput(os.Stderr)
	a.log.SetLevel(logrus.WarnLevel)
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	settings, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.settings = settings
	if settings.File != "" {
		a.log.WithField("file", settings.File).Debug("using config file")
	}
	return nil
}

// bucket resolves the bucket flag against the configured default.
func (a *app) bucket(cmd *cobra.Command) (string, error) {
	b, _ := cmd.Flags().GetString("bucket")
	if b == "" {
		b = a.settings.Bucket
	}
	if b == "" {
		return "", errors.New("bucket is required (use --bucket or set bucket in the config file)")
	}
	return b, nil
}

// manifest loads the workspace manifest from the working directory, if any.
func (a *app) manifest() (*config.Manifest, error) {
	wd, err := a.env.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	m, err := config.LoadManifest(wd, a.settings.Manifest)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

func (a *app) engine(onStep func(engine.Step)) (*engine.Engine, error) {
	st, err := store.Open(a.settings.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts := engine.Options{
		Store:              st,
		Env:                a.env,
		Log:                a.log,
		Metrics:            a.registry,
		InspectConcurrency: a.settings.InspectConcurrency,
		OnStep:             onStep,
	}
	m, err := a.manifest()
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts.DefaultPaths = m.Paths()
		opts.Excludes = m.Exclude
	}
	return engine.New(opts)
}

// progress returns a step renderer unless machine-readable output was requested.
func progress(title string, quiet bool) (func(engine.Step), func()) {
	if quiet {
		return nil, func() {}
	}
	sp := ui.NewStageProgress(title)
	return sp.Update, sp.Finish
}

func addBucketFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("bucket", "b", "", "bucket holding snapshots (default from config)")
}

func writeJSON(w io.Writer, v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(output))
	return nil
}

func writeToon(w io.Writer, v interface{}) error {
	output, err := gotoon.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode Toon: %w", err)
	}
	fmt.Fprintln(w, output)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reposnap v%s\n", version)
		},
	}
}

const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}

Configuration:
  File:        $HOME/.reposnap/config.yaml
  Environment: REPOSNAP_BUCKET, REPOSNAP_STORE_ENDPOINT, REPOSNAP_STORE_ACCESS_KEY, ...
`

// Execute runs the root command. A cancelled prompt is not an error.
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	if errors.Is(err, ui.ErrUserCancelled) {
		return nil
	}
	return err
}
