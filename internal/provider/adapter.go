// Package provider implements the Provider Adapter (spec §4.D): invoking
// the external LLM CLIs (Claude, Gemini, Cursor, Codex) and recognising
// their completion signal.
package provider

import (
	"context"
	"strings"
	"time"
)

// completionMarkers is the closed set from spec §4.D: presence of any one
// is the completion contract.
var completionMarkers = []string{
	"<complete>DONE</complete>",
	"<promise>COMPLETE</promise>",
	"task completed successfully",
	`"subtype":"success"`,
}

// HasCompletionMarker reports whether output contains any recognised
// completion marker. The phrase marker is matched case-insensitively; the
// tag and JSON markers are matched literally, since they're sentinel
// syntax rather than prose.
func HasCompletionMarker(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range completionMarkers {
		if m == "task completed successfully" {
			if strings.Contains(lower, m) {
				return true
			}
			continue
		}
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// Options configures one provider invocation (spec §4.D).
type Options struct {
	ProjectRoot string
	DryRun      bool
	Model       string
	Mode        string
	TokenLimit  int
	Timeout     time.Duration
}

// Result is what every provider invocation returns, uniformly, regardless
// of which CLI produced it (spec §4.D).
type Result struct {
	Success bool
	Output  string
	Summary string
	Error   string
}

// Provider invokes one external CLI with a prompt and returns its raw
// result. Completion-marker detection and rate-limit classification happen
// one layer up, in the Worker (spec §4.D).
type Provider interface {
	Invoke(ctx context.Context, prompt string, opts Options) Result
}

// dryRunResult is returned by every adapter when opts.DryRun is set,
// without invoking the CLI (spec §4.D).
func dryRunResult() Result {
	return Result{
		Success: true,
		Output:  "<complete>DONE</complete>\n(dry run: no work was done)",
	}
}

// Registry maps a provider name to its adapter.
type Registry map[string]Provider

// NewRegistry builds the standard four-provider registry.
func NewRegistry(claudePath, geminiPath, cursorPath, codexPath string) Registry {
	return Registry{
		"claude": NewClaudeProvider(claudePath),
		"gemini": NewGeminiProvider(geminiPath),
		"cursor": NewCursorProvider(cursorPath),
		"codex":  NewCodexProvider(codexPath),
	}
}

// Invoke dispatches to the named provider, or returns a failure Result if
// the provider isn't registered.
func (r Registry) Invoke(ctx context.Context, providerName, prompt string, opts Options) Result {
	if opts.DryRun {
		return dryRunResult()
	}
	p, ok := r[providerName]
	if !ok {
		return Result{Success: false, Error: "unknown provider: " + providerName}
	}
	return p.Invoke(ctx, prompt, opts)
}
