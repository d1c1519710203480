package collab

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ShellGateRunner implements ValidationRunner by running each gate as a
// shell command inside the worktree, in the spirit of the teacher's
// command-running idiom (exec.CommandContext + CombinedOutput); the gates
// themselves are arbitrary configured commands (build/lint/test), so no
// third-party library applies here — the contract is "run what the
// operator configured" rather than any specific build/test framework.
type ShellGateRunner struct {
	Shell string // defaults to "sh"
}

func NewShellGateRunner() *ShellGateRunner {
	return &ShellGateRunner{Shell: "sh"}
}

// Run executes every configured gate in order inside worktreePath. With
// FailFast it stops at the first failing gate; otherwise it runs them all
// and reports every gate that failed.
func (r *ShellGateRunner) Run(ctx context.Context, worktreePath string, cfg ValidationGateConfig) (ValidationOutcome, error) {
	if len(cfg.Gates) == 0 {
		return ValidationOutcome{Passed: true}, nil
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	ctxToUse := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var failed []string
	attempts := 0
	for _, gate := range cfg.Gates {
		attempts++
		cmd := exec.CommandContext(ctxToUse, shell, "-c", gate)
		cmd.Dir = worktreePath
		if out, err := cmd.CombinedOutput(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v: %s", gate, err, strings.TrimSpace(string(out))))
			if cfg.FailFast {
				break
			}
		}
	}

	return ValidationOutcome{
		Passed:      len(failed) == 0,
		FailedGates: failed,
		Attempts:    attempts,
	}, nil
}

var _ ValidationRunner = (*ShellGateRunner)(nil)
