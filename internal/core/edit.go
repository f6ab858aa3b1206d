package core

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// EditText opens text in the user's editor and returns the saved result.
// The temporary file is private to the user and removed afterwards.
func EditText(text string) (string, error) {
	tmpFile, err := os.CreateTemp("", "vaultguard-note-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if err := os.Chmod(tmpFile.Name(), 0600); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := tmpFile.WriteString(text); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := invokeEditor(tmpFile.Name()); err != nil {
		return "", err
	}

	edited, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read edited file: %w", err)
	}
	return string(edited), nil
}

// invokeEditor opens the specified editor and waits for user to finish
func invokeEditor(filename string) error {
	editor := getEditor()

	// Check if editor is available
	if _, err := exec.LookPath(editor); err != nil {
		return fmt.Errorf("editor '%s' not found: %w\nPlease set VISUAL or EDITOR environment variable", editor, err)
	}

	cmd := exec.Command(editor, filename)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if ok {
		return fmt.Errorf("editor exited with code %d", exitErr.ExitCode())
	}
	return err
}

// getEditor returns the editor to use, checking environment variables with fallback
func getEditor() string {
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if runtime.GOOS == "windows" {
		return "notepad"
	}
	return "vi"
}

// LineDiff renders a line-level diff of two texts. Removed lines start with
// "- ", added lines with "+ " and unchanged lines with two spaces. It is
// empty when the texts are equal.
func LineDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var buf strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			buf.WriteString(prefix)
			buf.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				buf.WriteByte('\n')
			}
		}
	}
	return buf.String()
}
