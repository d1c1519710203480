package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetRalphHome returns the Ralph state directory for the current repository.
// Priority order:
//  1. RALPH_HOME environment variable (if set)
//  2. <repo root>/.ralph, where repo root is detected by walking up for go.mod
//     or a .ralph-root marker
//  3. Current working directory's .ralph (fallback)
//
// The directory is created if it doesn't exist.
func GetRalphHome() (string, error) {
	if home := os.Getenv("RALPH_HOME"); home != "" {
		return ensureDir(home)
	}

	repoRoot, err := findRepoRoot()
	if err == nil && repoRoot != "" {
		return ensureDir(filepath.Join(repoRoot, ".ralph"))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return ensureDir(filepath.Join(cwd, ".ralph"))
}

func ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create ralph home directory: %w", err)
	}
	return path, nil
}

// findRepoRoot locates the repository root by walking up from the current
// working directory looking for a .ralph-root marker or a go.mod file.
func findRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		if _, err := os.Stat(filepath.Join(current, ".ralph-root")); err == nil {
			return current, nil
		}
		if _, err := os.Stat(filepath.Join(current, "go.mod")); err == nil {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return "", fmt.Errorf("repository root not found (looking for .ralph-root or go.mod)")
}

// WorktreeDir returns $RALPH_HOME/worktrees, creating it if needed.
func WorktreeDir() (string, error) {
	home, err := GetRalphHome()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(home, "worktrees"))
}

// SessionsDir returns $RALPH_HOME/sessions, creating it if needed.
func SessionsDir() (string, error) {
	home, err := GetRalphHome()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(home, "sessions"))
}

// SessionDBPath returns the path to the session manager's sqlite database.
func SessionDBPath() (string, error) {
	home, err := GetRalphHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "sessions.db"), nil
}

// LearningsPath returns the path to the learnings log file.
func LearningsPath() (string, error) {
	home, err := GetRalphHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "learnings.md"), nil
}
