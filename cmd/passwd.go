package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/crypto"
)

func (r *root) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password of the current vault",
		Long: "Changes the master password of the unlocked vault.\n" +
			"Requires both the current and new passwords. Records and the\n" +
			"active session are kept. The new password may be given in " + NewPasswordEnv + ".",
		Args: cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			currentPassword, err := r.password("Enter current master password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(currentPassword)

			newPassword, err := r.newPassword(NewPasswordEnv)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(newPassword)

			err = a.auth.WithSession(ctx, func(ctx context.Context, token string) error {
				return a.backend.ChangePassword(ctx, token, currentPassword, newPassword)
			})
			if err != nil {
				return err
			}

			// Compact database after rewriting the key
			if err := a.backend.Compact(ctx, a.auth.State().VaultPath); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: compaction failed: %s\n", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "password changed successfully")
			return nil
		}),
	}
}
