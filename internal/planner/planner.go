// Package planner implements the Planner (spec §4.H): a demand-driven LLM
// loop that evaluates whether the spec is satisfied and appends new tasks
// to the backlog.
package planner

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"ralph/internal/models"
	"ralph/internal/provider"
)

// plannerTask is the shape of one entry in a planner response's newTasks
// array (spec §4.H).
type plannerTask struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	EstimatedHours     *float64 `json:"estimated_hours"`
	Complexity         string   `json:"complexity"`
}

// response is the full shape the planner's provider is asked to emit.
type response struct {
	SpecSatisfied bool          `json:"specSatisfied"`
	Reasoning     string        `json:"reasoning"`
	NewTasks      []plannerTask `json:"newTasks"`
}

// Config configures one Planner.
type Config struct {
	Provider        string
	Model           string
	Interval        time.Duration
	ProjectDesc     string
	SpecContent     []string // pre-fetched, truncated reference spec text
	ProviderTimeout time.Duration
}

// Planner runs independently of the worker pool; it never blocks the main
// loop and communicates only through its two callbacks (spec §4.H, §9).
type Planner struct {
	cfg       Config
	providers provider.Registry
	schedule  *Schedule

	mu            sync.Mutex
	hasEvaluated  bool
	specSatisfied bool

	onNewTasks      func([]models.BacklogItem)
	onSpecSatisfied func()
}

// New builds a Planner and starts its interval timer. onNewTasks and
// onSpecSatisfied may be nil.
func New(cfg Config, providers provider.Registry, onNewTasks func([]models.BacklogItem), onSpecSatisfied func()) *Planner {
	return &Planner{
		cfg:             cfg,
		providers:       providers,
		schedule:        NewSchedule(cfg.Interval),
		onNewTasks:      onNewTasks,
		onSpecSatisfied: onSpecSatisfied,
	}
}

// Stop releases the planner's interval timer.
func (p *Planner) Stop() {
	p.schedule.Stop()
}

// HasEvaluated reports whether at least one evaluation has completed.
func (p *Planner) HasEvaluated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasEvaluated
}

// SpecSatisfied reports the last-reported "spec satisfied" flag.
func (p *Planner) SpecSatisfied() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.specSatisfied
}

// MaybeRefill evaluates if pendingCount is below threshold and the interval
// timer has fired since it was last consumed, or if no evaluation has run
// yet at all (spec §4.H). Safe to call from the orchestrator's control
// thread after every completion.
func (p *Planner) MaybeRefill(ctx context.Context, pendingCount, threshold int, existingIDs map[string]bool) {
	if pendingCount >= threshold {
		return
	}

	timerDue := p.schedule.Due()
	if !timerDue && p.HasEvaluated() {
		return
	}

	p.evaluate(ctx, existingIDs)
}

// EvaluateAtStartup runs one evaluation unconditionally, if reference spec
// content or a project description is configured (spec §4.I init step 1).
func (p *Planner) EvaluateAtStartup(ctx context.Context, existingIDs map[string]bool) {
	if len(p.cfg.SpecContent) == 0 && p.cfg.ProjectDesc == "" {
		return
	}
	p.evaluate(ctx, existingIDs)
}

func (p *Planner) evaluate(ctx context.Context, existingIDs map[string]bool) {
	prompt := p.buildContext(existingIDs)
	opts := provider.Options{Model: p.cfg.Model, Timeout: p.cfg.ProviderTimeout}
	result := p.providers.Invoke(ctx, p.cfg.Provider, prompt, opts)

	p.mu.Lock()
	p.hasEvaluated = true
	p.mu.Unlock()

	if !result.Success {
		return
	}

	resp, ok := parseResponse(result.Output)
	if !ok {
		return
	}

	if resp.SpecSatisfied {
		p.mu.Lock()
		p.specSatisfied = true
		p.mu.Unlock()
		if p.onSpecSatisfied != nil {
			p.onSpecSatisfied()
		}
	}

	sanitized := sanitizeTasks(resp.NewTasks, existingIDs)
	if len(sanitized) > 0 && p.onNewTasks != nil {
		p.onNewTasks(sanitized)
	}
}

func (p *Planner) buildContext(existingIDs map[string]bool) string {
	var b strings.Builder
	b.WriteString("Project: " + p.cfg.ProjectDesc + "\n\n")
	b.WriteString("Existing backlog item count: ")
	b.WriteString(strconv.Itoa(len(existingIDs)))
	b.WriteString("\n\n")
	for _, spec := range p.cfg.SpecContent {
		b.WriteString("Reference specification:\n")
		b.WriteString(spec)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond with JSON: {\"specSatisfied\": bool, \"reasoning\": string, \"newTasks\": [{\"id\":..., \"description\":..., \"priority\":...}]}\n")
	return b.String()
}

var plannerMarkdown = goldmark.New()

// parseResponse accepts either a bare top-level JSON object or one
// extracted from a fenced code block (spec §4.H, §8). Fenced blocks are
// located by walking a goldmark AST (the teacher's markdown-parsing idiom
// in internal/parser/markdown.go, which walks goldmark's ast.Node tree
// rather than regexing fences) so a response with prose before or after
// the block, or additional non-JSON fences, still parses correctly.
// Malformed output yields ok=false rather than a panic or error
// propagation.
func parseResponse(raw string) (response, bool) {
	var resp response

	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil {
		return resp, true
	}

	source := []byte(raw)
	doc := plannerMarkdown.Parser().Parse(text.NewReader(source))
	var found bool
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if found || !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var block strings.Builder
		for i := 0; i < fenced.Lines().Len(); i++ {
			line := fenced.Lines().At(i)
			block.Write(line.Value(source))
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(block.String())), &resp); err == nil {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if found {
		return resp, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err == nil {
			return resp, true
		}
	}

	return response{}, false
}

// sanitizeTasks drops entries with empty id, empty description, or an id
// already present in the PRD, and assigns status=pending to survivors
// (spec §4.H, §8).
func sanitizeTasks(tasks []plannerTask, existingIDs map[string]bool) []models.BacklogItem {
	var out []models.BacklogItem
	for _, t := range tasks {
		if t.ID == "" || t.Description == "" {
			continue
		}
		if existingIDs[t.ID] {
			continue
		}

		priority := models.Priority(t.Priority)
		switch priority {
		case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		default:
			priority = models.PriorityMedium
		}

		out = append(out, models.BacklogItem{
			ID:                 t.ID,
			Name:               t.ID,
			Description:        t.Description,
			Priority:           priority,
			Status:             models.StatusPending,
			AcceptanceCriteria: t.AcceptanceCriteria,
			EstimatedHours:     t.EstimatedHours,
			ComplexityHint:     models.Complexity(t.Complexity),
		})
		existingIDs[t.ID] = true
	}
	return out
}
