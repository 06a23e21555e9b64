package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/catalog"
	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a)
		},
	}

	addBucketFlag(cmd)
	cmd.Flags().String("prefix", "", "only snapshots whose name starts with prefix")
	cmd.Flags().IntP("max", "n", catalog.DefaultMaxResults, "maximum number of snapshots")
	cmd.Flags().Bool("json", false, "Output as JSON to stdout")
	cmd.Flags().Bool("toon", false, "Output as Toon to stdout")
	return cmd
}

func runList(cmd *cobra.Command, a *app) error {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	toonFlag, _ := cmd.Flags().GetBool("toon")
	prefix, _ := cmd.Flags().GetString("prefix")
	maxResults, _ := cmd.Flags().GetInt("max")

	bucket, err := a.bucket(cmd)
	if err != nil {
		return err
	}
	e, err := a.engine(nil)
	if err != nil {
		return err
	}
	res, err := e.List(cmd.Context(), engine.ListRequest{Bucket: bucket, Prefix: prefix, MaxResults: maxResults})
	if err != nil {
		return err
	}

	switch {
	case jsonFlag:
		return writeJSON(cmd.OutOrStdout(), res)
	case toonFlag:
		return writeToon(cmd.OutOrStdout(), res)
	}

	printList(cmd.OutOrStdout(), res)
	if res.Skipped > 0 {
		ui.Warn(fmt.Sprintf("%d snapshot(s) skipped: unreadable metadata", res.Skipped))
	}
	return nil
}

func printList(w io.Writer, res *catalog.ListResult) {
	if res.Count == 0 {
		fmt.Fprintln(w, "No snapshots found")
		return
	}
	fmt.Fprintf(w, "%-44s %-7s %10s  %-8s %s\n", "ID", "PRESET", "SIZE", "OS", "CREATED")
	for _, s := range res.Snapshots {
		fmt.Fprintf(w, "%s %-7s %10s  %-8s %s\n",
			ui.Cyan(fmt.Sprintf("%-44s", s.ID)), s.Preset, humanize.Bytes(uint64(s.Size)), s.OS, humanize.Time(s.CreatedAt))
	}
	fmt.Fprintf(w, "\n%d snapshot(s)\n", res.Count)
}
