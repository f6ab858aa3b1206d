package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/security"
	"github.com/illarion/vaultguard/internal/vault"
)

func (r *root) compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact [path]",
		Short: "Compact a vault file to reclaim disk space",
		Long: "Compacts the vault database to reclaim unused disk space.\n" +
			"Defaults to the current vault. Does not require a password.",
		Args: cobra.MaximumNArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()

			var path string
			if len(args) == 1 {
				p, err := security.CleanVaultPath(args[0])
				if err != nil {
					return err
				}
				path = p
			} else {
				p, ok, err := a.selector.Current(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return vault.NewError(vault.ErrNoCurrentVault, "", nil)
				}
				path = p
			}

			// Get file size before
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := a.backend.Compact(ctx, path); err != nil {
				return err
			}

			// Get file size after
			info, err = os.Stat(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
			return nil
		}),
	}
}
