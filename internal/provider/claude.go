package provider

import (
	"context"

	"ralph/internal/claude"
)

// factorySystemPrompt keeps the Claude CLI in free-form coding-agent mode;
// the Factory's prompts (not this adapter) carry the completion-marker
// instruction per spec §4.E.
const factorySystemPrompt = "You are an autonomous coding agent working inside a git worktree. Make the requested changes directly in the working directory, then respond exactly as instructed by the prompt."

// ClaudeProvider invokes the Claude CLI via the claude.Invoker, reusing the
// teacher's subprocess plumbing. The invoker makes a single call per
// request; a rate-limited call comes back as a failed result.
type ClaudeProvider struct {
	inv *claude.Invoker
}

// NewClaudeProvider builds a ClaudeProvider. path overrides the CLI binary
// location; empty uses "claude" from $PATH.
func NewClaudeProvider(path string) *ClaudeProvider {
	inv := claude.NewInvoker()
	if path != "" {
		inv.ClaudePath = path
	}
	return &ClaudeProvider{inv: inv}
}

func (c *ClaudeProvider) Invoke(ctx context.Context, prompt string, opts Options) Result {
	if opts.DryRun {
		return dryRunResult()
	}

	ctxToUse := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := claude.Request{
		Prompt:       prompt,
		Dir:          opts.ProjectRoot,
		SystemPrompt: factorySystemPrompt,
		BypassPerms:  true,
	}

	resp, err := c.inv.Invoke(ctxToUse, req)
	if err != nil {
		return Result{Success: false, Output: err.Error(), Error: err.Error()}
	}

	content, _, parseErr := claude.ParseResponse(resp.RawOutput)
	if parseErr != nil {
		return Result{Success: false, Output: string(resp.RawOutput), Error: parseErr.Error()}
	}
	if content == "" {
		content = string(resp.RawOutput)
	}

	return Result{Success: true, Output: content}
}
