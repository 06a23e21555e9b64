package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/archive"
	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/git"
	"github.com/openbootdotdev/reposnap/internal/inspect"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func newCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot the workspace repositories",
		Long: `Inspect each repository, pack the working trees into one archive and upload
it together with a metadata document.

Repositories come from --path, else the workspace manifest (.reposnap.yml),
else the current directory.

Presets:
  light    skips node_modules, .pnpm-store, dist and *.log
  medium   skips .pnpm-store and *.log (default)
  heavy    keeps everything`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, a, args[0])
		},
	}

	addBucketFlag(cmd)
	cmd.Flags().StringP("preset", "p", "", "inclusion preset: light, medium, heavy (default from config)")
	cmd.Flags().StringArray("path", nil, "repository path to include (repeatable)")
	cmd.Flags().StringP("description", "d", "", "free-form note stored with the snapshot")
	cmd.Flags().Bool("pick", false, "choose repositories interactively")
	cmd.Flags().Bool("json", false, "Output as JSON to stdout")
	return cmd
}

func runCreate(cmd *cobra.Command, a *app, name string) error {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	pick, _ := cmd.Flags().GetBool("pick")
	presetFlag, _ := cmd.Flags().GetString("preset")
	paths, _ := cmd.Flags().GetStringArray("path")
	description, _ := cmd.Flags().GetString("description")

	bucket, err := a.bucket(cmd)
	if err != nil {
		return err
	}
	preset := a.settings.Preset
	switch {
	case presetFlag != "":
		if preset, err = snapshot.ParsePreset(presetFlag); err != nil {
			return err
		}
	case !a.settings.PresetSet && !jsonFlag && a.isTTY() && a.selectPreset != nil:
		if preset, err = a.selectPreset(preset); err != nil {
			return err
		}
	}

	if pick {
		if !a.isTTY() {
			return errors.New("--pick requires an interactive terminal")
		}
		if paths, err = a.pickRepositories(cmd.Context(), paths); err != nil {
			return err
		}
		if len(paths) == 0 {
			ui.Warn("No repositories selected")
			return nil
		}
	}

	onStep, finish := progress("Creating snapshot "+name, jsonFlag)
	e, err := a.engine(onStep)
	if err != nil {
		finish()
		return err
	}
	res, err := e.Create(cmd.Context(), engine.CreateRequest{
		Name:        name,
		Preset:      preset,
		Bucket:      bucket,
		Paths:       paths,
		Description: description,
	})
	finish()
	if err != nil {
		return err
	}

	if jsonFlag {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	showCreateSummary(name, res)
	return nil
}

func showCreateSummary(name string, res *engine.CreateResult) {
	m := res.Metadata
	ui.Header("Snapshot " + name)
	ui.Success(fmt.Sprintf("Snapshot %s created", res.ID))
	ui.Info(fmt.Sprintf("Location:     %s", res.Location))
	ui.Info(fmt.Sprintf("Preset:       %s", m.Preset))
	ui.Info(fmt.Sprintf("Size:         %s", humanize.Bytes(uint64(m.ArchiveSize))))
	ui.Info(fmt.Sprintf("Uploaded in:  %s", res.UploadDuration.Round(time.Millisecond)))
	ui.Info(fmt.Sprintf("Repositories: %d", len(m.Repositories)))
	for _, r := range m.Repositories {
		state := ui.Green("clean")
		if r.Dirty {
			state = ui.Yellow("dirty")
		}
		ui.Info(fmt.Sprintf("  %-24s %s @ %s (%s)", r.Name, r.Branch, shortSha(r.Commit), state))
	}
	for _, p := range res.Skipped {
		ui.Warn(fmt.Sprintf("Skipped %s (not a git repository)", p))
	}
}

// pickRepositories offers the candidate repositories in a fuzzy picker.
func (a *app) pickRepositories(ctx context.Context, paths []string) ([]string, error) {
	candidates := paths
	if len(candidates) == 0 {
		m, err := a.manifest()
		if err != nil {
			return nil, err
		}
		if m != nil && m.HasRepositories() {
			candidates = m.Paths()
		} else {
			wd, err := a.env.Getwd()
			if err != nil {
				return nil, err
			}
			if candidates, err = discoverRepositories(afero.NewOsFs(), wd); err != nil {
				return nil, err
			}
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no repositories found to pick from")
	}

	client := git.NewClient(a.log)
	items := make([]ui.PickerItem, 0, len(candidates))
	for _, p := range candidates {
		detail := "not a repository"
		if branch, err := client.CurrentBranch(ctx, p); err == nil {
			detail = branch
		}
		items = append(items, ui.PickerItem{Path: p, Name: inspect.ResolveName(p), Detail: detail})
	}
	return ui.RunPicker(items)
}

// discoverRepositories returns dir itself when it is a repository, otherwise
// its immediate subdirectories that are.
func discoverRepositories(fs afero.Fs, dir string) ([]string, error) {
	if ok, _ := afero.DirExists(fs, filepath.Join(dir, archive.VCSDir)); ok {
		return []string{dir}, nil
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var repos []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if ok, _ := afero.Exists(fs, filepath.Join(p, archive.VCSDir)); ok {
			repos = append(repos, p)
		}
	}
	sort.Strings(repos)
	return repos, nil
}

func shortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	if sha == "" {
		return "-"
	}
	return sha
}
