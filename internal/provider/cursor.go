package provider

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// CursorProvider invokes the cursor-agent CLI, grounded on its
// argv-prompt/--force/--workspace subprocess idiom.
type CursorProvider struct {
	path string
}

func NewCursorProvider(path string) *CursorProvider {
	if path == "" {
		path = "cursor-agent"
	}
	return &CursorProvider{path: path}
}

func (c *CursorProvider) Invoke(ctx context.Context, prompt string, opts Options) Result {
	if opts.DryRun {
		return dryRunResult()
	}

	ctxToUse := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"agent", prompt, "--print", "--output-format", "text", "--force", "--workspace", opts.ProjectRoot}
	if opts.Model != "" && opts.Model != "auto" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(ctxToUse, c.path, args...)
	cmd.Dir = opts.ProjectRoot
	cmd.Env = append(os.Environ(), "NO_OPEN_BROWSER=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		combined := stdout.String() + "\n" + stderr.String()
		return Result{Success: false, Output: combined, Error: err.Error()}
	}

	return Result{Success: true, Output: strings.TrimSpace(stdout.String())}
}
