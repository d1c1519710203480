// Package merge implements the Merge Coordinator (spec §4.G): serialised
// cherry-picks of worker commits onto trunk, with conflict detection and an
// append-only history.
package merge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ralph/internal/models"
)

// Result is what CherryPick reports back to the orchestrator.
type Result struct {
	Success    bool
	Conflict   bool
	CommitHash string
	Error      string
}

// Coordinator serialises every cherry-pick onto trunk behind a single
// mutex, since two parallel cherry-picks risk losing one (spec §4.G).
type Coordinator struct {
	mu       sync.Mutex
	mainRepo string
	history  []models.MergeRecord
}

func New(mainRepo string) *Coordinator {
	return &Coordinator{mainRepo: mainRepo}
}

// CherryPick applies commitHash onto trunk in the main repo, recording a
// MergeRecord regardless of outcome.
func (c *Coordinator) CherryPick(ctx context.Context, commitHash, taskID string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.run(ctx, "cherry-pick", "-x", commitHash)
	if err == nil {
		hash, hashErr := c.run(ctx, "rev-parse", "HEAD")
		newHash := strings.TrimSpace(hash)
		if hashErr != nil {
			newHash = ""
		}
		c.record(models.MergeRecord{TaskID: taskID, Success: true, CommitHash: newHash})
		return Result{Success: true, CommitHash: newHash}
	}

	if c.isConflict(ctx, out) {
		c.abort(ctx)
		c.record(models.MergeRecord{TaskID: taskID, Conflict: true})
		return Result{Success: false, Conflict: true}
	}

	c.abort(ctx)
	c.record(models.MergeRecord{TaskID: taskID, Success: false, Error: out})
	return Result{Success: false, Error: out}
}

// History returns the append-only merge log, for the final summary.
func (c *Coordinator) History() []models.MergeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.MergeRecord, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Coordinator) record(r models.MergeRecord) {
	r.Timestamp = time.Now().UTC()
	c.history = append(c.history, r)
}

func (c *Coordinator) isConflict(ctx context.Context, cherryPickOutput string) bool {
	lower := strings.ToLower(cherryPickOutput)
	if strings.Contains(lower, "conflict") {
		return true
	}
	status, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "UU") || strings.HasPrefix(line, "AA") || strings.HasPrefix(line, "DD") {
			return true
		}
	}
	return false
}

func (c *Coordinator) abort(ctx context.Context) {
	_, _ = c.run(ctx, "cherry-pick", "--abort")
}

func (c *Coordinator) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.mainRepo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}
