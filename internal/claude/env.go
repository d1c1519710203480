// Package claude provides utilities for invoking Claude CLI.
package claude

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// cliTmpDir is the clean temp directory every provider CLI invocation runs
// under. A dedicated directory avoids picking up VSCode socket files that
// crash the Claude CLI when --settings is used (known bug:
// github.com/anthropics/claude-code/issues/7624); since worker goroutines
// invoke this concurrently across many worktrees, the directory is shared
// rather than per-invocation.
var cliTmpDir string

func init() {
	cliTmpDir = filepath.Join(os.TempDir(), "ralph-factory-claude")
	os.MkdirAll(cliTmpDir, 0755)
}

// SetCleanEnv points cmd's TMPDIR at cliTmpDir instead of the ambient one,
// leaving the rest of the process environment untouched.
func SetCleanEnv(cmd *exec.Cmd) {
	cmd.Env = os.Environ()

	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "TMPDIR=") {
			cmd.Env[i] = "TMPDIR=" + cliTmpDir
			return
		}
	}
	cmd.Env = append(cmd.Env, "TMPDIR="+cliTmpDir)
}

// CleanTmpDir returns the temp directory provider CLI invocations run under.
func CleanTmpDir() string {
	return cliTmpDir
}
