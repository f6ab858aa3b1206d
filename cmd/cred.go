package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/vault"
)

func (r *root) credCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cred",
		Aliases: []string{"credential", "credentials"},
		Short:   "Manage stored credentials",
	}
	cmd.AddCommand(
		r.credAddCmd(),
		r.credListCmd(),
		r.credSearchCmd(),
		r.credShowCmd(),
		r.credCopyCmd(),
		r.credRmCmd(),
	)
	return cmd
}

func (r *root) credAddCmd() *cobra.Command {
	var (
		c             vault.Credential
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new credential",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			secret, err := r.secret(cmd, passwordStdin, fmt.Sprintf("Password for %s: ", c.Website))
			if err != nil {
				return err
			}
			c.Password = secret

			saved, err := a.auth.SaveCredential(ctx, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s (%s)\n", saved.Website, shortID(saved.ID))
			return nil
		}),
	}

	f := cmd.Flags()
	f.StringVarP(&c.Website, "website", "w", "", "website or service name")
	f.StringVarP(&c.Username, "username", "u", "", "login name")
	f.StringVarP(&c.Notes, "notes", "n", "", "free-form notes")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	cmd.MarkFlagRequired("website")
	return cmd
}

func (r *root) credListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List credentials, newest first",
		Args:    cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			creds, err := a.auth.ListCredentials(ctx)
			if err != nil {
				return err
			}
			printCredentials(cmd.OutOrStdout(), creds)
			return nil
		}),
	}
}

func (r *root) credSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find credentials by website or username",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			creds, err := a.auth.SearchCredentials(ctx, args[0])
			if err != nil {
				return err
			}
			printCredentials(cmd.OutOrStdout(), creds)
			return nil
		}),
	}
}

func (r *root) credShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one credential",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			c, err := findCredential(ctx, a, args[0])
			if err != nil {
				return err
			}

			password := strings.Repeat("•", 8)
			if reveal {
				password = c.Password
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", c.ID)
			fmt.Fprintf(out, "Website:  %s\n", c.Website)
			fmt.Fprintf(out, "Username: %s\n", c.Username)
			fmt.Fprintf(out, "Password: %s\n", password)
			if c.Notes != "" {
				fmt.Fprintf(out, "Notes:    %s\n", c.Notes)
			}
			fmt.Fprintf(out, "Created:  %s\n", formatTime(c.CreatedAt))
			fmt.Fprintf(out, "Updated:  %s\n", formatTime(c.UpdatedAt))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the password in clear text")
	return cmd
}

func (r *root) credCopyCmd() *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "copy <id>",
		Short: "Copy a password to the clipboard and clear it after a delay",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			c, err := findCredential(ctx, a, args[0])
			if err != nil {
				return err
			}

			var value string
			switch field {
			case "password":
				value = c.Password
			case "username":
				value = c.Username
			default:
				return fmt.Errorf("unknown field %q, use password or username", field)
			}

			return r.copy(cmd, a, value, fmt.Sprintf("%s of %s", field, c.Website))
		}),
	}

	cmd.Flags().StringVarP(&field, "field", "f", "password", "field to copy: password or username")
	return cmd
}

func (r *root) credRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			c, err := findCredential(ctx, a, args[0])
			if err != nil {
				return err
			}
			if err := a.auth.DeleteCredential(ctx, c.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s (%s)\n", c.Website, shortID(c.ID))
			return nil
		}),
	}
}

// copy puts value on the clipboard. Outside the shell the command waits
// for the clear, since the timer does not outlive the process.
func (r *root) copy(cmd *cobra.Command, a *app, value, what string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	ttl := a.settings(ctx).ClipboardTTL()

	if !a.clip.CopyWithExpiry(ctx, value, ttl) {
		return vault.NewError(vault.ErrClipboardWriteFailed, "", nil)
	}

	if ttl <= 0 {
		fmt.Fprintf(out, "✓ Copied %s (auto-clear is off)\n", what)
		return nil
	}
	if r.env.interactive {
		fmt.Fprintf(out, "✓ Copied %s, clearing in %s\n", what, ttl)
		return nil
	}

	fmt.Fprintf(out, "✓ Copied %s, clearing in %s (Ctrl-C clears now)\n", what, ttl)
	select {
	case <-ctx.Done():
	case <-a.clip.Cleared():
	}
	// Close clears unless the timer already did.
	a.clip.Close()
	fmt.Fprintln(out, "Clipboard cleared")
	return nil
}

// secret reads a record password from stdin or an echo-free prompt.
func (r *root) secret(cmd *cobra.Command, fromStdin bool, prompt string) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	b, err := r.env.prompt(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// findCredential accepts a full ID or a unique prefix of one.
func findCredential(ctx context.Context, a *app, ref string) (vault.Credential, error) {
	c, err := a.auth.GetCredential(ctx, ref)
	if !errors.Is(err, vault.ErrNotFound) {
		return c, err
	}

	all, err := a.auth.ListCredentials(ctx)
	if err != nil {
		return vault.Credential{}, err
	}
	return matchPrefix(all, ref, func(c vault.Credential) string { return c.ID })
}

func matchPrefix[T any](items []T, prefix string, id func(T) string) (T, error) {
	var (
		found T
		n     int
	)
	for _, it := range items {
		if strings.HasPrefix(id(it), prefix) {
			found = it
			n++
		}
	}

	switch {
	case n == 0 || prefix == "":
		var zero T
		return zero, vault.NewError(vault.ErrNotFound, fmt.Sprintf("No item matches %q", prefix), nil)
	case n > 1:
		var zero T
		return zero, fmt.Errorf("%q matches %d items, use more characters", prefix, n)
	}
	return found, nil
}

func printCredentials(w io.Writer, creds []vault.Credential) {
	if len(creds) == 0 {
		fmt.Fprintln(w, "(no credentials)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWEBSITE\tUSERNAME\tUPDATED")
	for _, c := range creds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(c.ID), c.Website, c.Username, formatTime(c.UpdatedAt))
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
