package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/snapshot"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func newDiffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [id]",
		Short: "Compare live repositories with a snapshot",
		Long: `Report branch, commit, changed-file and stash differences between the
repositories on disk and a snapshot. A changed-file count of -1 means the
repository is missing or the snapshot commit is not available locally.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			return runDiff(cmd, a, id)
		},
	}

	addBucketFlag(cmd)
	cmd.Flags().StringArray("path", nil, "repository path to compare (repeatable)")
	cmd.Flags().String("metadata-file", "", "diff against a local metadata document instead of the bucket")
	cmd.Flags().Bool("json", false, "Output as JSON to stdout")
	cmd.Flags().Bool("toon", false, "Output as Toon to stdout")
	return cmd
}

func runDiff(cmd *cobra.Command, a *app, id string) error {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	toonFlag, _ := cmd.Flags().GetBool("toon")
	paths, _ := cmd.Flags().GetStringArray("path")
	metadataFile, _ := cmd.Flags().GetString("metadata-file")

	if id == "" && metadataFile == "" {
		return fmt.Errorf("snapshot id is required unless --metadata-file is given")
	}
	req := engine.DiffRequest{ID: id, Paths: paths, MetadataFile: metadataFile}
	if metadataFile == "" {
		bucket, err := a.bucket(cmd)
		if err != nil {
			return err
		}
		req.Bucket = bucket
	}

	e, err := a.engine(nil)
	if err != nil {
		return err
	}
	res, err := e.Diff(cmd.Context(), req)
	if err != nil {
		return err
	}

	switch {
	case jsonFlag:
		return writeJSON(cmd.OutOrStdout(), res)
	case toonFlag:
		return writeToon(cmd.OutOrStdout(), res)
	}
	ui.Header("Diff")
	printDiff(cmd.OutOrStdout(), res)
	return nil
}

func printDiff(w io.Writer, res *snapshot.DiffResult) {
	fmt.Fprintf(w, "Snapshot %s (%s)\n", res.SnapshotMetadata.ID, res.SnapshotMetadata.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━")

	for _, r := range res.Repositories {
		if !r.Changed() {
			fmt.Fprintf(w, "%s %s\n", ui.Green("="), r.Path)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", ui.Yellow("~"), r.Path)
		if r.BranchDiff != nil {
			fmt.Fprintf(w, "    branch:  %s -> %s\n", r.BranchDiff.Snapshot, ui.Blue(r.BranchDiff.Current))
		}
		if r.CommitDiff != nil {
			fmt.Fprintf(w, "    commit:  %s -> %s\n", shortSha(r.CommitDiff.Snapshot), shortSha(r.CommitDiff.Current))
		}
		switch {
		case r.FilesChanged == snapshot.FilesUnknown:
			fmt.Fprintf(w, "    files:   %s\n", ui.Red("unknown (missing or commit not available)"))
		case r.FilesChanged > 0:
			fmt.Fprintf(w, "    files:   %d changed\n", r.FilesChanged)
		}
		if r.NewStashes > 0 {
			fmt.Fprintf(w, "    stashes: +%d\n", r.NewStashes)
		}
	}

	fmt.Fprintln(w)
	if res.Summary.IsMatch {
		fmt.Fprintln(w, ui.Green("Workspace matches the snapshot"))
		return
	}
	fmt.Fprintf(w, "%d repositor%s changed, %d file(s) changed\n",
		res.Summary.ReposChanged, pluralY(res.Summary.ReposChanged), res.Summary.TotalFilesChanged)
}
