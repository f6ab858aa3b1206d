// Package git checks whether local vaultguard files are exposed to git.
//
// Checks performed for each file:
//   - Whether it sits inside a git work tree
//   - Whether it is tracked by git (should not be)
//   - Whether it is covered by .gitignore (should be)
//
// The state database can hold a session token, and vault files are only
// as strong as their master password, so neither belongs in a repository.
package git
