// Package models holds the Factory's data records: backlog items, routed
// tasks, slots, and the result types produced by workers and the merge
// coordinator.
package models

import "time"

// Priority is the backlog item's priority band.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders priorities for queue sorting: high < medium < low.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1 // unknown priority sorts with medium
	}
}

// Less reports whether p sorts ahead of other (lower rank first).
func (p Priority) Less(other Priority) bool {
	return p.rank() < other.rank()
}

// Status is the backlog item's lifecycle marker.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Complexity is a manual complexity hint an item may carry.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ValidationResult is the outcome slot populated by the validation gate
// collaborator (spec §6).
type ValidationResult struct {
	Passed      bool     `json:"passed"`
	FailedGates []string `json:"failed_gates,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
}

// JudgeResult is the outcome slot populated by the judge panel collaborator.
type JudgeResult struct {
	Verdict string   `json:"verdict,omitempty"`
	Notes   []string `json:"notes,omitempty"`
}

// BacklogItem is one unit of work in the PRD (spec §3). The Factory core
// treats it as opaque except for these fields.
type BacklogItem struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Description         string             `json:"description"`
	Priority            Priority           `json:"priority"`
	Category            string             `json:"category,omitempty"`
	Status              Status             `json:"status"`
	Passes              *bool              `json:"passes,omitempty"`
	DependsOn           []string           `json:"depends_on,omitempty"`
	AcceptanceCriteria  []string           `json:"acceptance_criteria,omitempty"`
	EstimatedHours      *float64           `json:"estimated_hours,omitempty"`
	Provider            string             `json:"provider,omitempty"`
	Model               string             `json:"model,omitempty"`
	ValidationOverride  []string           `json:"validation_gates,omitempty"`
	SkipValidation      bool               `json:"skip_validation,omitempty"`
	ComplexityHint      Complexity         `json:"complexity,omitempty"`
	Judges              []string           `json:"judges,omitempty"`
	Validation          *ValidationResult  `json:"validation_result,omitempty"`
	Judgement           *JudgeResult       `json:"judge_result,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

// IsComplete reports whether the item is complete: status=completed OR
// passes=true (spec §3, disjunction — both signals are honoured per the
// Open Question resolution in SPEC_FULL.md §E.1).
func (b *BacklogItem) IsComplete() bool {
	if b.Passes != nil && *b.Passes {
		return true
	}
	return b.Status == StatusCompleted
}

// IsPending reports whether the item is pending: passes=false, or passes is
// unset and status is pending/in_progress/undefined (spec §3).
func (b *BacklogItem) IsPending() bool {
	if b.Passes != nil {
		return !*b.Passes
	}
	switch b.Status {
	case StatusPending, StatusInProgress, "":
		return true
	default:
		return false
	}
}

// IsReady reports whether the item is pending, not complete, and every
// dependency resolves to a complete item in the provided lookup (spec §3).
func (b *BacklogItem) IsReady(completeByID map[string]bool) bool {
	if b.IsComplete() || !b.IsPending() {
		return false
	}
	for _, dep := range b.DependsOn {
		if !completeByID[dep] {
			return false
		}
	}
	return true
}

// PrdMetadata is the free-form metadata block at the top of a PRD file.
// Unrecognised keys are preserved round-trip by internal/prd.
type PrdMetadata struct {
	UpdatedAt string `json:"updated_at,omitempty"`
}

// PrdFile is the top-level shape of one PRD JSON file (spec §6).
type PrdFile struct {
	Project     string      `json:"project,omitempty"`
	Description string      `json:"description,omitempty"`
	Metadata    PrdMetadata `json:"metadata,omitempty"`
	Items       []BacklogItem `json:"items"`
}
