package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/clipboard"
	"github.com/illarion/vaultguard/internal/config"
	"github.com/illarion/vaultguard/internal/core"
)

// env is what the commands take from the process. Tests swap it out.
type env struct {
	clipboard clipboard.Writer
	// clock drives clipboard expiry.
	clock     clockwork.Clock
	prompt    core.PromptFunc
	// edit runs the external editor. The shell leaves raw mode around it.
	edit func(text string) (string, error)
	// interactive is set inside the shell, where timers outlive a command.
	interactive bool
}

func processEnv() *env {
	return &env{
		clipboard: clipboard.System{},
		clock:     clockwork.NewRealClock(),
		prompt:    core.TerminalPrompt(os.Stderr, core.StdinFD()),
		edit:      core.EditText,
	}
}

type root struct {
	env *env
	// shared is the app of an enclosing shell. Commands reuse it instead
	// of wiring their own.
	shared     *app
	configPath string
	flags      config.Flags
}

// Execute runs the vaultguard command line.
func Execute(ctx context.Context) error {
	cmd := newRootCmd(processEnv())
	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(cmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

func newRootCmd(e *env) *cobra.Command {
	return (&root{env: e}).command()
}

func (r *root) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vaultguard",
		Short:         "Local password vault with session locking and auto-lock",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", "config file (default <data-dir>/config.toml)")
	pf.StringVar(&r.flags.DataDir, "data-dir", "", "directory for state and config")
	pf.StringVar(&r.flags.VaultDir, "vault-dir", "", "directory new vaults are created in (default <data-dir>/vaults)")
	pf.StringVar(&r.flags.TokenStore, "token-store", "", fmt.Sprintf("where the session token is kept: %s or %s", config.TokenStoreKeyring, config.TokenStoreFile))
	pf.StringVar(&r.flags.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&r.flags.LogFormat, "log-format", "", "text or json")

	cmd.AddCommand(
		r.statusCmd(),
		r.createCmd(),
		r.openCmd(),
		r.unlockCmd(),
		r.lockCmd(),
		r.switchCmd(),
		r.recentCmd(),
		r.settingsCmd(),
		r.credCmd(),
		r.noteCmd(),
		r.clipCmd(),
		r.compactCmd(),
		r.passwdCmd(),
		r.shellCmd(),
	)
	return cmd
}

// run wraps a command body with a wired app that is closed afterwards.
func (r *root) run(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if r.shared != nil {
			return fn(cmd, args, r.shared)
		}

		a, err := r.open(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd, args, a)
	}
}

func (r *root) loadConfig() (*config.Config, error) {
	return config.LoadWithFlags(r.configPath, r.flags)
}

func printError(w io.Writer, err error) {
	msg, hint := describe(err)
	fmt.Fprintf(w, "Error: %s\n", msg)
	if hint != "" {
		fmt.Fprintln(w, hint)
	}
}
