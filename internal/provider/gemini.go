package provider

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// GeminiProvider invokes the Gemini CLI, grounded on the prompt-via-stdin,
// --approval-mode yolo subprocess idiom used elsewhere in the Ralph family.
type GeminiProvider struct {
	path string
}

func NewGeminiProvider(path string) *GeminiProvider {
	if path == "" {
		path = "gemini"
	}
	return &GeminiProvider{path: path}
}

func (g *GeminiProvider) Invoke(ctx context.Context, prompt string, opts Options) Result {
	if opts.DryRun {
		return dryRunResult()
	}

	ctxToUse := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"--output-format", "text", "--approval-mode", "yolo"}
	if opts.Model != "" && opts.Model != "auto" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.CommandContext(ctxToUse, g.path, args...)
	cmd.Stdin = strings.NewReader(prompt)
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
