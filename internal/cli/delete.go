package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/ui"
)

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a snapshot's archive and metadata",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, a, args[0])
		},
	}

	addBucketFlag(cmd)
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func runDelete(cmd *cobra.Command, a *app, id string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	bucket, err := a.bucket(cmd)
	if err != nil {
		return err
	}

	if !yes {
		if !a.isTTY() {
			return errors.New("refusing to delete without --yes in a non-interactive session")
		}
		ok, err := ui.Confirm(fmt.Sprintf("Delete snapshot %s from %s?", id, bucket), false)
		if err != nil {
			return err
		}
		if !ok {
			return ui.ErrUserCancelled
		}
	}

	e, err := a.engine(nil)
	if err != nil {
		return err
	}
	res, err := e.Delete(cmd.Context(), engine.DeleteRequest{ID: id, Bucket: bucket})
	if err != nil {
		return err
	}

	ui.Success(fmt.Sprintf("Deleted snapshot %s", res.ID))
	for _, key := range res.Keys {
		ui.Muted("  " + key)
	}
	return nil
}
