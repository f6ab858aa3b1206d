package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/config"
)

func (r *root) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change auto-lock and clipboard timeouts",
		Long: "Settings:\n" +
			"  " + config.SettingAutoLock + "        minutes without focus before the vault locks (0 disables)\n" +
			"  " + config.SettingClipboard + "  seconds before a copied secret is cleared (0 disables)",
		Args: cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			s, err := a.auth.Settings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s = %d\n", config.SettingAutoLock, s.AutoLockTimeoutMinutes)
			fmt.Fprintf(out, "%s = %d\n", config.SettingClipboard, s.ClearClipboardTimeoutSeconds)
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "get <key>",
			Short:     "Print one setting",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{config.SettingAutoLock, config.SettingClipboard},
			RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
				s, err := a.auth.Settings()
				if err != nil {
					return err
				}
				v, err := s.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting",
			Args:  cobra.ExactArgs(2),
			RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
				ctx := cmd.Context()

				// Corrupt settings are replaced rather than blocking the fix.
				s := a.settings(ctx)
				if err := s.Set(args[0], args[1]); err != nil {
					return err
				}

				a.resolve(ctx)
				if err := a.auth.UpdateSettings(ctx, s); err != nil {
					return err
				}
				v, _ := s.Get(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %d\n", args[0], v)
				return nil
			}),
		},
	)
	return cmd
}
