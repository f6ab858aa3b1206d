package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (r *root) clipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clip",
		Short: "Clipboard commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the clipboard now",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.clip.ClearNow(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Clipboard cleared")
			return nil
		}),
	})
	return cmd
}
