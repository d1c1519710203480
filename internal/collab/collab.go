// Package collab defines the thin external-collaborator interfaces the
// Factory core consumes (spec §6): validation gates, session bookkeeping,
// notifications, learnings extraction, and judge panels. The core depends
// only on these contracts; the concrete implementations here exist to
// exercise them end to end, not to specify their internals (spec §1).
package collab

import (
	"context"
	"time"

	"ralph/internal/models"
)

// ValidationGateConfig merges global and per-task validation settings
// passed to the ValidationRunner.
type ValidationGateConfig struct {
	Gates             []string
	Timeout           time.Duration
	FailFast          bool
	Packages          []string
	Category          string
	TaskNotes         string
	PreviousAttempts  int
}

// ValidationOutcome is what a ValidationRunner reports back.
type ValidationOutcome struct {
	Passed      bool
	FailedGates []string
	Attempts    int
}

// ValidationRunner runs build/lint/test gates against a worktree (spec §6).
type ValidationRunner interface {
	Run(ctx context.Context, worktreePath string, cfg ValidationGateConfig) (ValidationOutcome, error)
}

// SessionManager tracks one Factory run's lifecycle for later inspection
// (spec §6).
type SessionManager interface {
	CreateSession(ctx context.Context, sessionID string) error
	StartTask(ctx context.Context, sessionID, taskID, workerID string) error
	CompleteTask(ctx context.Context, sessionID, taskID string, result models.WorkerResult) error
	CompleteSession(ctx context.Context, sessionID string, summary models.ExecutionSummary) error
	MarkCrashed(ctx context.Context, sessionID, reason string) error
}

// Notifier fires asynchronous events; it must never block the core (spec
// §6).
type Notifier interface {
	Notify(event string, detail string)
}

// LearningsManager extracts <learning>...</learning> blocks from provider
// output and appends them to a persistent log (spec §6).
type LearningsManager interface {
	Extract(output string) []string
	Append(ctx context.Context, taskID string, learnings []string) error
}

// JudgeContext is what the JudgePanel is given alongside the item.
type JudgeContext struct {
	CodeChanges       string
	ValidationResults ValidationOutcome
}

// JudgePanel is only invoked when an item has a configured judge list
// (spec §6).
type JudgePanel interface {
	Evaluate(ctx context.Context, item models.BacklogItem, jc JudgeContext) (models.JudgeResult, error)
}
