package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Exposure is how git sees one local file
type Exposure struct {
	Path    string
	InRepo  bool
	Tracked bool
	Ignored bool
}

// Exposed reports whether the file could end up in a commit
func (e Exposure) Exposed() bool {
	return e.InRepo && (e.Tracked || !e.Ignored)
}

// IsGitRepo checks if dir is inside a git work tree
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	err := cmd.Run()
	return err == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(dir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = dir
	output, err := cmd.Output()

	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(dir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = dir
	err := cmd.Run()

	// git check-ignore returns exit code 0 if file is ignored
	return err == nil
}

// Check inspects path from its own directory. Without git on PATH every
// file reports as outside a repository.
func Check(path string) Exposure {
	e := Exposure{Path: path}
	dir := filepath.Dir(path)

	if !IsGitRepo(dir) {
		return e
	}
	e.InRepo = true
	e.Tracked = IsTracked(dir, path)
	e.Ignored = IsIgnored(dir, path)
	return e
}

// CheckAll runs Check for every path
func CheckAll(paths ...string) []Exposure {
	out := make([]Exposure, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		out = append(out, Check(p))
	}
	return out
}

// FormatExposures formats the exposed files for display. It is empty when
// nothing is exposed.
func FormatExposures(exposures []Exposure) string {
	var result strings.Builder

	for _, e := range exposures {
		if !e.Exposed() {
			continue
		}
		if result.Len() == 0 {
			result.WriteString("\nGit:\n")
		}
		name := filepath.Base(e.Path)
		if e.Tracked {
			result.WriteString(fmt.Sprintf("   error: %s is tracked by git (run: git rm --cached %s)\n", name, e.Path))
		} else {
			result.WriteString(fmt.Sprintf("   warning: %s is inside a git work tree and not in .gitignore\n", name))
		}
	}

	return result.String()
}
