package provider

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// CodexProvider invokes the Codex CLI's non-interactive exec subcommand,
// matching the other adapters' argv-prompt/auto-approval subprocess shape.
type CodexProvider struct {
	path string
}

func NewCodexProvider(path string) *CodexProvider {
	if path == "" {
		path = "codex"
	}
	return &CodexProvider{path: path}
}

func (c *CodexProvider) Invoke(ctx context.Context, prompt string, opts Options) Result {
	if opts.DryRun {
		return dryRunResult()
	}

	ctxToUse := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"exec", "--full-auto", "--skip-git-repo-check", prompt}
	if opts.Model != "" && opts.Model != "auto" && opts.Model != "default" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(ctxToUse, c.path, args...)
	cmd.Dir = opts.ProjectRoot
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		combined := stdout.String() + "\n" + stderr.String()
		return Result{Success: false, Output: combined, Error: err.Error()}
	}

	return Result{Success: true, Output: strings.TrimSpace(stdout.String())}
}
