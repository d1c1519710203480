package collab

import (
	"context"
	"fmt"
	"strings"

	"ralph/internal/claude"
	"ralph/internal/models"
)

// NopJudgePanel is the trivial JudgePanel: it records that no judge ran
// rather than rejecting work. Used when no judge provider is configured.
type NopJudgePanel struct{}

func (NopJudgePanel) Evaluate(ctx context.Context, item models.BacklogItem, jc JudgeContext) (models.JudgeResult, error) {
	return models.JudgeResult{Verdict: "not_evaluated"}, nil
}

var _ JudgePanel = NopJudgePanel{}

const judgeSchema = `{
  "type": "object",
  "properties": {
    "verdict": {"type": "string", "enum": ["approve", "reject"]},
    "notes": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["verdict"]
}`

type judgeResponse struct {
	Verdict string   `json:"verdict"`
	Notes   []string `json:"notes"`
}

// LLMJudgePanel polls each of an item's configured judges in turn via
// claude.Service, following the teacher's InvokeAndParse request/schema
// idiom (grounded on internal/claude/service.go, which the teacher built
// for exactly this "embed Service, call InvokeAndParse" shape). A reject
// from any judge rejects the panel as a whole; notes from every judge are
// concatenated so the worker's retry prompt can surface all of them.
type LLMJudgePanel struct {
	svc *claude.Service
}

// NewLLMJudgePanel builds a panel backed by svc.
func NewLLMJudgePanel(svc *claude.Service) *LLMJudgePanel {
	return &LLMJudgePanel{svc: svc}
}

func (p *LLMJudgePanel) Evaluate(ctx context.Context, item models.BacklogItem, jc JudgeContext) (models.JudgeResult, error) {
	if len(item.Judges) == 0 || p.svc == nil {
		return models.JudgeResult{Verdict: "not_evaluated"}, nil
	}

	aggregate := models.JudgeResult{Verdict: "approve"}
	for _, judgeName := range item.Judges {
		prompt := buildJudgePrompt(judgeName, item, jc)

		var resp judgeResponse
		if err := p.svc.InvokeAndParseWithFallback(ctx, prompt, judgeSchema, &resp); err != nil {
			aggregate.Notes = append(aggregate.Notes, fmt.Sprintf("%s: judge invocation failed: %v", judgeName, err))
			continue
		}

		if len(resp.Notes) > 0 {
			for _, n := range resp.Notes {
				aggregate.Notes = append(aggregate.Notes, fmt.Sprintf("%s: %s", judgeName, n))
			}
		}
		if resp.Verdict == "reject" {
			aggregate.Verdict = "reject"
		}
	}

	return aggregate, nil
}

func buildJudgePrompt(judgeName string, item models.BacklogItem, jc JudgeContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are acting as the %q reviewer for task %s (%s).\n\n", judgeName, item.ID, item.Name)
	b.WriteString("Code changes:\n")
	b.WriteString(jc.CodeChanges)
	b.WriteString("\n\nValidation outcome: ")
	if jc.ValidationResults.Passed {
		b.WriteString("passed\n")
	} else {
		fmt.Fprintf(&b, "failed gates: %s\n", strings.Join(jc.ValidationResults.FailedGates, ", "))
	}
	b.WriteString("\nRespond with JSON {\"verdict\": \"approve\"|\"reject\", \"notes\": [string]}.\n")
	return b.String()
}

var _ JudgePanel = (*LLMJudgePanel)(nil)
