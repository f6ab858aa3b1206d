package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/core"
	"github.com/illarion/vaultguard/internal/vault"
)

func (r *root) noteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "note",
		Aliases: []string{"notes"},
		Short:   "Manage secure notes",
	}
	cmd.AddCommand(
		r.noteAddCmd(),
		r.noteListCmd(),
		r.noteShowCmd(),
		r.noteEditCmd(),
		r.noteRmCmd(),
	)
	return cmd
}

// noteBody is where a note's content comes from: a flag, a file, or stdin
// when neither is given.
type noteBody struct {
	content string
	file    string
}

func (b *noteBody) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&b.content, "content", "c", "", "note content")
	cmd.Flags().StringVarP(&b.file, "file", "f", "", "read content from file ('-' for stdin)")
}

func (*noteBody) set(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("content") || cmd.Flags().Changed("file")
}

func (b *noteBody) read(cmd *cobra.Command) (string, error) {
	switch {
	case cmd.Flags().Changed("content"):
		return b.content, nil
	case b.file == "-" || b.file == "":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(b.file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", b.file, err)
		}
		return string(data), nil
	}
}

func (r *root) noteAddCmd() *cobra.Command {
	var (
		title string
		body  noteBody
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new note",
		Long:  "Stores a new note. Content comes from --content, --file, or stdin\n(the editor inside the shell).",
		Args:  cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			var content string
			var err error
			if !body.set(cmd) && r.env.interactive {
				content, err = r.env.edit("")
			} else {
				content, err = body.read(cmd)
			}
			if err != nil {
				return err
			}

			saved, err := a.auth.SaveNote(ctx, vault.Note{Title: title, Content: content})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved note %q (%s)\n", saved.Title, shortID(saved.ID))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "note title")
	body.register(cmd)
	cmd.MarkFlagRequired("title")
	return cmd
}

func (r *root) noteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List notes, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: r.run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			notes, err := a.auth.ListNotes(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(notes) == 0 {
				fmt.Fprintln(out, "(no notes)")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
			for _, n := range notes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", shortID(n.ID), n.Title, formatTime(n.UpdatedAt))
			}
			tw.Flush()
			return nil
		}),
	}
}

func (r *root) noteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a note",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			n, err := findNote(ctx, a, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", n.Title)
			fmt.Fprint(out, n.Content)
			if !strings.HasSuffix(n.Content, "\n") {
				fmt.Fprintln(out)
			}
			return nil
		}),
	}
}

func (r *root) noteEditCmd() *cobra.Command {
	var (
		title string
		body  noteBody
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a note and show what changed",
		Long: "Replaces the title and/or content of a note. Without --content or --file\n" +
			"the note opens in $VISUAL or $EDITOR. The change is printed as a line diff.",
		Args: cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			n, err := findNote(ctx, a, args[0])
			if err != nil {
				return err
			}
			before := n

			if body.set(cmd) {
				if n.Content, err = body.read(cmd); err != nil {
					return err
				}
			} else if !cmd.Flags().Changed("title") {
				if n.Content, err = r.env.edit(n.Content); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("title") {
				n.Title = title
			}

			out := cmd.OutOrStdout()
			if n.Title == before.Title && n.Content == before.Content {
				fmt.Fprintln(out, "No changes")
				return nil
			}

			if _, err := a.auth.SaveNote(ctx, n); err != nil {
				return err
			}

			if n.Title != before.Title {
				fmt.Fprintf(out, "- title: %s\n+ title: %s\n", before.Title, n.Title)
			}
			fmt.Fprint(out, core.LineDiff(before.Content, n.Content))
			fmt.Fprintf(out, "✓ Updated note %q\n", n.Title)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	body.register(cmd)
	return cmd
}

func (r *root) noteRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if err := a.unlocked(ctx); err != nil {
				return err
			}

			n, err := findNote(ctx, a, args[0])
			if err != nil {
				return err
			}
			if err := a.auth.DeleteNote(ctx, n.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted note %q\n", n.Title)
			return nil
		}),
	}
}

// findNote accepts a full ID or a unique prefix of one.
func findNote(ctx context.Context, a *app, ref string) (vault.Note, error) {
	n, err := a.auth.GetNote(ctx, ref)
	if !errors.Is(err, vault.ErrNotFound) {
		return n, err
	}

	all, err := a.auth.ListNotes(ctx)
	if err != nil {
		return vault.Note{}, err
	}
	return matchPrefix(all, ref, func(n vault.Note) string { return n.ID })
}
