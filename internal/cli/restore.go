package cli

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func newRestoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a snapshot's repositories",
		Long: `Download a snapshot archive, verify its checksum and extract every
repository under the target directory.

Existing repository directories are never replaced unless --overwrite is
given (or confirmed interactively).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, a, args[0])
		},
	}

	addBucketFlag(cmd)
	cmd.Flags().StringP("target", "t", "", "directory to restore into (default: a new temporary directory)")
	cmd.Flags().BoolP("overwrite", "f", false, "replace existing repository directories")
	cmd.Flags().Bool("no-verify", false, "skip archive checksum verification")
	cmd.Flags().Bool("json", false, "Output as JSON to stdout")
	return cmd
}

func runRestore(cmd *cobra.Command, a *app, id string) error {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	target, _ := cmd.Flags().GetString("target")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	noVerify, _ := cmd.Flags().GetBool("no-verify")

	bucket, err := a.bucket(cmd)
	if err != nil {
		return err
	}

	onStep, finish := progress("Restoring "+id, jsonFlag)
	e, err := a.engine(func(s engine.Step) {
		if onStep != nil {
			onStep(s)
		}
	})
	if err != nil {
		finish()
		return err
	}
	req := engine.RestoreRequest{
		ID:         id,
		Bucket:     bucket,
		TargetPath: target,
		Overwrite:  overwrite,
		SkipVerify: noVerify || !a.settings.VerifyChecksum,
	}
	res, err := e.Restore(cmd.Context(), req)
	finish()

	var conflict *snapshot.ConflictError
	if errors.As(err, &conflict) && !jsonFlag && a.isTTY() {
		ok, cerr := ui.Confirm(fmt.Sprintf("%s already exists. Overwrite?", conflict.Path), false)
		if cerr != nil {
			return cerr
		}
		if !ok {
			return ui.ErrUserCancelled
		}
		req.Overwrite = true
		onStep, finish = progress("Restoring "+id, false)
		res, err = e.Restore(cmd.Context(), req)
		finish()
	}
	if err != nil {
		return err
	}

	if jsonFlag {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	showRestoreSummary(res)
	return nil
}

func showRestoreSummary(res *engine.RestoreResult) {
	ui.Success(fmt.Sprintf("Restored %d repositor%s into %s", len(res.RestoredPaths), pluralY(len(res.RestoredPaths)), res.TargetPath))
	for _, p := range res.RestoredPaths {
		ui.Info(p)
	}
	verified := ui.Yellow("skipped")
	if res.Verified {
		verified = ui.Green("ok")
	}
	ui.Info(fmt.Sprintf("Checksum: %s", verified))
	ui.Muted(fmt.Sprintf("  %s archive, downloaded in %s, extracted in %s",
		humanize.Bytes(uint64(res.Metadata.ArchiveSize)), res.DownloadDuration, res.ExtractDuration))
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
