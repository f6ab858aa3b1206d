package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/auth"
	"github.com/illarion/vaultguard/internal/core"
	"github.com/illarion/vaultguard/internal/crypto"
	"github.com/illarion/vaultguard/internal/git"
	"github.com/illarion/vaultguard/internal/security"
	"github.com/illarion/vaultguard/internal/vault"
)

func (r *root) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current vault and whether it is unlocked",
		Long:  "Shows the current vault, the lock state and the next step.\nDoes not require a password.",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st := a.resolve(ctx)
			step, path, err := a.auth.NextStep(ctx)
			if err != nil {
				return err
			}
			if path == "" {
				path = st.VaultPath
			}

			fmt.Fprintf(out, "Vault: %s\n", vaultLabel(path))
			fmt.Fprintf(out, "State: %s\n", lockLabel(st))

			settings := a.settings(ctx)
			fmt.Fprintf(out, "Auto-lock: %s\n", minutesLabel(settings.AutoLockTimeoutMinutes))
			fmt.Fprintf(out, "Clipboard clear: %s\n", secondsLabel(settings.ClearClipboardTimeoutSeconds))

			switch step {
			case auth.StepChooseVault:
				fmt.Fprintln(out, "\nNo vault selected. Run 'vaultguard create' or 'vaultguard open <path>'")
			case auth.StepEnterPassword:
				fmt.Fprintln(out, "\nRun 'vaultguard unlock' to unlock")
			}

			fmt.Fprint(out, git.FormatExposures(git.CheckAll(a.cfg.StatePath(), path)))
			return nil
		}),
	}
}

func (r *root) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new vault and unlock it",
		Long: "Creates a new vault in the vault directory and unlocks it.\n" +
			"Prompts for a master password that will be used for encryption.\n" +
			"The password is not stored anywhere - you must remember it.",
		Args: cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()

			// Read password (env var or prompt with confirmation)
			password, err := r.newPassword(core.PasswordEnv)
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			a.resolve(ctx)
			ref, err := a.auth.CreateVault(ctx, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created vault %s\n", vaultLabel(ref.Path))
			warnAutoLock(cmd, a)
			return nil
		}),
	}
}

func (r *root) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Unlock an existing vault file and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()

			path, err := security.CleanVaultPath(args[0])
			if err != nil {
				return err
			}

			password, err := r.password("Enter master password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			a.resolve(ctx)
			if err := a.auth.Login(ctx, path, password); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Unlocked %s\n", vaultLabel(path))
			warnAutoLock(cmd, a)
			return nil
		}),
	}
}

func (r *root) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the current vault",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st := a.resolve(ctx)
			if st.Status == auth.Authenticated {
				fmt.Fprintf(out, "Already unlocked: %s\n", vaultLabel(st.VaultPath))
				return nil
			}

			step, path, err := a.auth.NextStep(ctx)
			if err != nil {
				return err
			}
			if step == auth.StepChooseVault {
				return vault.NewError(vault.ErrNoCurrentVault, "", nil)
			}

			password, err := r.password(fmt.Sprintf("Enter master password for %s: ", vaultLabel(path)))
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			if err := a.auth.Unlock(ctx, password); err != nil {
				return err
			}

			fmt.Fprintf(out, "✓ Unlocked %s\n", vaultLabel(path))
			warnAutoLock(cmd, a)
			return nil
		}),
	}
}

func (r *root) lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the vault and end the session",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()

			st := a.resolve(ctx)
			a.auth.Logout(ctx)

			if st.Status == auth.Authenticated {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Locked")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Vault is already locked")
			}
			return nil
		}),
	}
}

func (r *root) switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch",
		Short: "Lock the vault and deselect it",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()

			a.resolve(ctx)
			if err := a.auth.SwitchVault(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Locked. Choose a vault with 'vaultguard open <path>' or 'vaultguard create'")
			return nil
		}),
	}
}

func (r *root) recentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently opened vaults",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			refs, err := a.selector.ListRecent(ctx)
			if err != nil {
				return err
			}
			current, _, err := a.selector.Current(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Recent vaults:")
			if len(refs) == 0 {
				fmt.Fprintln(out, "  (none)")
				return nil
			}
			for _, ref := range refs {
				marker := " "
				if ref.Path == current {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-24s %s  (last opened %s)\n", marker, ref.DisplayName, ref.Path, formatTime(ref.LastAccessed))
			}
			return nil
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <path>",
		Short: "Remove a vault from the recent list",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.selector.Forget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
			return nil
		}),
	})
	return cmd
}

func lockLabel(st auth.State) string {
	switch st.Status {
	case auth.Authenticated:
		return "unlocked"
	case auth.Unauthenticated:
		if st.Reason != auth.ReasonNone {
			return fmt.Sprintf("locked (%s)", st.Reason)
		}
		return "locked"
	default:
		return st.Status.String()
	}
}

func minutesLabel(n int) string {
	if n <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d min after focus is lost", n)
}

func secondsLabel(n int) string {
	if n <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d s after copy", n)
}

// warnAutoLock tells the user when focus-driven auto-lock could not start.
func warnAutoLock(cmd *cobra.Command, a *app) {
	if err := a.auth.AutoLockError(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", err)
	}
}
