// Package worker implements the Worker (spec §4.E): the per-assignment
// lifecycle that resets a worktree, builds a prompt, runs a provider,
// checks completion, runs validation, and commits.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ralph/internal/collab"
	"ralph/internal/config"
	"ralph/internal/git"
	"ralph/internal/models"
	"ralph/internal/prd"
	"ralph/internal/provider"
	"ralph/internal/ratelimit"
)

// Status is the worker's lifecycle state (spec §3).
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusValidating  Status = "validating"
	StatusMerging     Status = "merging"
)

// Worker executes one task at a time against its own worktree. Status and
// the current-task/slot fields are read from the pool's dispatch loop while
// Execute mutates them on its own goroutine, so both sides go through mu
// (spec §8's at-most-one-task-per-worker invariant depends on this).
type Worker struct {
	ID       string
	Worktree *git.Worktree
	Branch   string

	mu          sync.Mutex
	status      Status
	currentTask *models.FactoryTask
	currentSlot *models.ProviderSlot
	completed   []string
}

// New builds an idle worker bound to a worktree.
func New(id string, wt *git.Worktree) *Worker {
	return &Worker{ID: id, Worktree: wt, Branch: wt.BranchName, status: StatusIdle}
}

// Status reports the worker's current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// CurrentTask reports the task the worker is presently executing, or nil.
func (w *Worker) CurrentTask() *models.FactoryTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}

// Completed returns the ids of every task this worker has finished
// successfully over its lifetime.
func (w *Worker) Completed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.completed))
	copy(out, w.completed)
	return out
}

func (w *Worker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// beginTask atomically claims the worker for task/slot and transitions it to
// running, returning false if it was not idle (at-most-one-task invariant).
func (w *Worker) beginTask(task models.FactoryTask, slot models.ProviderSlot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusIdle {
		return false
	}
	w.status = StatusRunning
	w.currentTask = &task
	w.currentSlot = &slot
	return true
}

func (w *Worker) endTask(completedID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusIdle
	w.currentTask = nil
	w.currentSlot = nil
	if completedID != "" {
		w.completed = append(w.completed, completedID)
	}
}

// Deps bundles the collaborators a single Execute call needs. Passed in
// rather than held by the Worker so its own state stays (id, worktree,
// status, current task) — per spec §3.
type Deps struct {
	GitManager   *git.Manager
	Providers    provider.Registry
	PRD          *prd.Set
	Validation   collab.ValidationRunner
	Learnings    collab.LearningsManager
	Judges       collab.JudgePanel
	MainRepoPath string
}

// Execute runs task on slot to completion, following the 8-step sequence
// in spec §4.E. Status transitions idle -> running -> validating ->
// merging -> idle across the call; it returns to idle on every exit path.
func (w *Worker) Execute(ctx context.Context, task models.FactoryTask, slot models.ProviderSlot, cfg config.FactoryConfig, deps Deps) models.WorkerResult {
	start := time.Now()
	if !w.beginTask(task, slot) {
		return models.WorkerResult{TaskID: task.ID, WorkerID: w.ID, Slot: slot, Error: "worker was not idle"}
	}

	var completedID string
	defer func() { w.endTask(completedID) }()

	result := models.WorkerResult{TaskID: task.ID, WorkerID: w.ID, Slot: slot}

	// 1. Reset worktree to trunk HEAD.
	if err := deps.GitManager.ResetToHead(ctx, w.Worktree); err != nil {
		result.Error = fmt.Sprintf("reset worktree: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	// 2. Load PRD to resolve the item's latest state (retry feedback).
	latest := task.Item
	deps.PRD.MutateItem(task.ID, func(item *models.BacklogItem) {
		latest = *item
	})

	// 3. Build the prompt.
	prompt := buildPrompt(task, latest, cfg)

	// 4. Invoke provider.
	opts := provider.Options{
		ProjectRoot: w.Worktree.Path,
		Model:       slot.Model,
		TokenLimit:  cfg.TokenLimitFor(slot.Provider, slot.Model),
		Timeout:     cfg.ProviderTimeout,
	}
	invocation := deps.Providers.Invoke(ctx, slot.Provider, prompt, opts)

	// 5. Rate-limit check.
	if !invocation.Success && ratelimit.IsRateLimited(invocation.Output+invocation.Error) {
		result.RateLimited = true
		result.Duration = time.Since(start)
		return result
	}
	if !invocation.Success {
		result.Error = invocation.Error
		result.Duration = time.Since(start)
		return result
	}

	// 6. Completion check.
	if !provider.HasCompletionMarker(invocation.Output) {
		result.Error = "provider did not signal completion"
		result.Duration = time.Since(start)
		return result
	}

	if deps.Learnings != nil {
		if learnings := deps.Learnings.Extract(invocation.Output); len(learnings) > 0 {
			_ = deps.Learnings.Append(ctx, task.ID, learnings)
		}
	}

	// 7. Validation.
	skipValidation := cfg.SkipValidation || latest.SkipValidation
	if !skipValidation && deps.Validation != nil {
		w.setStatus(StatusValidating)
		outcome, err := deps.Validation.Run(ctx, w.Worktree.Path, collab.ValidationGateConfig{
			Gates:            latest.ValidationOverride,
			Timeout:          cfg.ProviderTimeout,
			Category:         task.PrdCategory,
			PreviousAttempts: task.RetryCount,
		})
		if err != nil {
			result.Error = fmt.Sprintf("validation runner error: %v", err)
			result.Duration = time.Since(start)
			return result
		}
		passed := outcome.Passed
		result.ValidationPassed = &passed
		if !passed {
			result.Error = fmt.Sprintf("validation failed: %v", outcome.FailedGates)
			result.Duration = time.Since(start)
			return result
		}
	}

	if len(latest.Judges) > 0 && deps.Judges != nil {
		jc := collab.JudgeContext{}
		if diff, err := deps.GitManager.StagedDiff(ctx, w.Worktree); err == nil {
			jc.CodeChanges = diff
		}
		if result.ValidationPassed != nil {
			jc.ValidationResults = collab.ValidationOutcome{Passed: *result.ValidationPassed}
		} else {
			jc.ValidationResults = collab.ValidationOutcome{Passed: true}
		}
		verdict, err := deps.Judges.Evaluate(ctx, latest, jc)
		if err == nil && verdict.Verdict == "reject" {
			result.Error = fmt.Sprintf("rejected by judge panel: %v", verdict.Notes)
			result.Duration = time.Since(start)
			return result
		}
	}

	// 8. Commit.
	w.setStatus(StatusMerging)
	message := fmt.Sprintf("Ralph: %s (%s-%s)", task.Item.Name, task.PrdCategory, task.ID)
	hash, err := deps.GitManager.Commit(ctx, w.Worktree, message)
	if err != nil {
		result.Error = fmt.Sprintf("commit: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	if hash == "no-commit" {
		result.Error = "provider claimed completion but produced no changes"
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.CommitHash = hash
	result.Duration = time.Since(start)
	completedID = task.ID
	return result
}

func buildPrompt(task models.FactoryTask, item models.BacklogItem, cfg config.FactoryConfig) string {
	p := fmt.Sprintf("Task %s: %s\n\n%s\n", task.ID, item.Name, item.Description)

	if len(item.AcceptanceCriteria) > 0 {
		p += "\nAcceptance criteria:\n"
		for _, c := range item.AcceptanceCriteria {
			p += "- " + c + "\n"
		}
	}

	if len(item.ValidationOverride) > 0 {
		p += "\nThis task will be validated with:\n"
		for _, g := range item.ValidationOverride {
			p += "- " + g + "\n"
		}
	}

	if task.RetryCount > 0 {
		p += fmt.Sprintf("\nThis is retry attempt %d.\n", task.RetryCount)
		if item.Validation != nil && !item.Validation.Passed {
			p += fmt.Sprintf("Previous validation failed: %v\n", item.Validation.FailedGates)
		}
		if item.Judgement != nil && item.Judgement.Verdict != "" {
			p += fmt.Sprintf("Previous judge verdict: %s (%v)\n", item.Judgement.Verdict, item.Judgement.Notes)
		}
	}

	p += "\nCapture any reusable insight in a <learning>...</learning> block.\n"
	p += "\nWhen finished, output <complete>DONE</complete>.\n"

	return p
}
