package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/illarion/vaultguard/internal/auth"
	"github.com/illarion/vaultguard/internal/core"
	"github.com/illarion/vaultguard/internal/focus"
)

func (r *root) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with auto-lock and clipboard expiry",
		Long: "Starts an interactive prompt that accepts the other commands.\n" +
			"While the vault is unlocked, losing terminal focus for the configured\n" +
			"time locks it, and copied secrets are cleared on schedule.\n" +
			"Auto-lock needs a terminal that supports xterm focus reporting.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if r.shared != nil {
				return errors.New("already in a shell")
			}
			return r.shell(cmd)
		},
	}
}

// rawMode tracks the terminal state so the editor can run in cooked mode.
type rawMode struct {
	fd  int
	old *term.State
}

func enterRaw(fd int) (*rawMode, error) {
	if !term.IsTerminal(fd) {
		return &rawMode{fd: fd}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	return &rawMode{fd: fd, old: old}, nil
}

func (m *rawMode) restore() {
	if m.old != nil {
		term.Restore(m.fd, m.old)
	}
}

// cooked runs fn with the terminal back in its original mode.
func (m *rawMode) cooked(fn func() error) error {
	if m.old == nil {
		return fn()
	}
	m.restore()
	defer term.MakeRaw(m.fd)
	return fn()
}

func (r *root) shell(cmd *cobra.Command) error {
	ctx := cmd.Context()
	fd := core.StdinFD()
	errOut := cmd.ErrOrStderr()

	observer := focus.NewTerminalObserver(cmd.InOrStdin(), cmd.OutOrStdout(), fd)
	if err := observer.Enable(); err != nil {
		fmt.Fprintf(errOut, "warning: %s\n", err)
	}
	defer observer.Close()

	mode, err := enterRaw(fd)
	if err != nil {
		return err
	}
	defer mode.restore()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{observer, cmd.OutOrStdout()}, "")

	// Logs and errors go through the line editor so raw mode output stays aligned.
	cmd.SetErr(t)
	a, err := r.open(cmd, observer)
	if err != nil {
		return err
	}
	defer a.Close()

	shellEnv := &env{
		clipboard: r.env.clipboard,
		clock:     r.env.clock,
		prompt: func(prompt string) ([]byte, error) {
			s, err := t.ReadPassword(prompt)
			return []byte(s), err
		},
		edit: func(text string) (string, error) {
			var out string
			err := mode.cooked(func() error {
				var err error
				out, err = r.env.edit(text)
				return err
			})
			return out, err
		},
		interactive: true,
	}

	cancel := a.auth.Subscribe(func(st auth.State) {
		t.SetPrompt(shellPrompt(st))
		if st.Status == auth.Unauthenticated && st.Reason == auth.ReasonAutoLock {
			fmt.Fprintln(t, "Vault locked after inactivity")
		}
	})
	defer cancel()

	st := a.resolve(ctx)
	t.SetPrompt(shellPrompt(st))
	fmt.Fprintf(t, "vaultguard shell: %s %s. Type 'help' for commands, 'exit' to quit.\n", vaultLabel(st.VaultPath), lockLabel(st))
	if st.Status == auth.Authenticated {
		if err := a.auth.AutoLockError(); err != nil {
			fmt.Fprintf(t, "warning: %s\n", err)
		}
	}

	for ctx.Err() == nil {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		}

		r.exec(ctx, t, shellEnv, a, args)
	}
	return nil
}

// exec runs one shell line through a fresh command tree that shares a.
func (r *root) exec(ctx context.Context, t *term.Terminal, e *env, a *app, args []string) {
	sub := (&root{env: e, shared: a}).command()
	sub.SetArgs(args)
	sub.SetIn(strings.NewReader(""))
	sub.SetOut(t)
	sub.SetErr(t)

	if err := sub.ExecuteContext(ctx); err != nil {
		printError(t, err)
	}
}

func shellPrompt(st auth.State) string {
	if st.Status == auth.Authenticated {
		return "vaultguard> "
	}
	return "vaultguard (locked)> "
}
