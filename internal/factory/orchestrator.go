package factory

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ralph/internal/claude"
	"ralph/internal/collab"
	"ralph/internal/config"
	"ralph/internal/git"
	"ralph/internal/logger"
	"ralph/internal/merge"
	"ralph/internal/metrics"
	"ralph/internal/models"
	"ralph/internal/planner"
	"ralph/internal/pool"
	"ralph/internal/prd"
	"ralph/internal/provider"
	"ralph/internal/ratelimit"
	"ralph/internal/router"
	"ralph/internal/summary"
	"ralph/internal/worker"
)

// Orchestrator owns the task queue, in-progress map, retry table, and the
// main control loop (spec §4.I).
type Orchestrator struct {
	cfg config.FactoryConfig
	log *logger.ConsoleLogger
	met *metrics.Metrics

	prdSet     *prd.Set
	queue      []models.FactoryTask
	inProgress map[string]models.FactoryTask
	retries    map[string]int

	limiter  *ratelimit.Limiter
	mergeCo  *merge.Coordinator
	plan     *planner.Planner
	wpool    *pool.Pool
	notifier collab.Notifier
	sessions collab.SessionManager

	sessionID string
	startTime time.Time
	mu        sync.Mutex
}

// New wires every collaborator together from cfg (spec §4.I init steps 1-3).
func New(ctx context.Context, cfg config.FactoryConfig, log *logger.ConsoleLogger, met *metrics.Metrics) (*Orchestrator, error) {
	prdSet, err := prd.LoadSet(cfg.PRDFiles)
	if err != nil {
		return nil, fmt.Errorf("load prd files: %w", err)
	}

	capacities := map[string]int{}
	for _, s := range cfg.Slots {
		capacities[s.Provider+":"+s.Model] = s.Capacity
	}
	limiter := ratelimit.New(capacities, ratelimit.DefaultBaseBackoff, ratelimit.DefaultMaxBackoff)

	gitMgr := git.NewManager(cfg.MainRepo, cfg.WorktreeDir)
	mergeCo := merge.New(cfg.MainRepo)
	providers := provider.NewRegistry("claude", "gemini", "cursor-agent", "codex")

	notifier := collab.NewSlackNotifier(os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_CHANNEL_ID"))

	sessionDBPath := ".ralph/sessions/ralph.db"
	sessions, err := collab.NewSQLiteSessionManager(sessionDBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	var judges collab.JudgePanel = collab.NopJudgePanel{}
	if os.Getenv("RALPH_DISABLE_JUDGES") == "" {
		judges = collab.NewLLMJudgePanel(claude.NewService(cfg.ProviderTimeout))
	}

	deps := worker.Deps{
		GitManager:   gitMgr,
		Providers:    providers,
		PRD:          prdSet,
		Validation:   collab.NewShellGateRunner(),
		Learnings:    collab.NewFileLearningsManager(".ralph/learnings.md"),
		Judges:       judges,
		MainRepoPath: cfg.MainRepo,
	}

	o := &Orchestrator{
		cfg:        cfg,
		log:        log,
		met:        met,
		prdSet:     prdSet,
		inProgress: map[string]models.FactoryTask{},
		retries:    map[string]int{},
		limiter:    limiter,
		mergeCo:    mergeCo,
		notifier:   notifier,
		sessions:   sessions,
		sessionID:  uuid.NewString(),
		wpool:      pool.New(gitMgr, deps, cfg),
	}

	refCache := planner.NewRefSpecCache(30 * time.Second)
	specContent := refCache.FetchAll(ctx, cfg.SpecURLs)

	o.plan = planner.New(planner.Config{
		Provider:        cfg.PlannerProvider,
		Model:           cfg.PlannerModel,
		Interval:        cfg.PlannerInterval,
		ProjectDesc:     describeProject(prdSet),
		SpecContent:     specContent,
		ProviderTimeout: cfg.ProviderTimeout,
	}, providers, o.onNewTasks, o.onSpecSatisfied)

	return o, nil
}

func describeProject(s *prd.Set) string {
	for _, f := range s.Files {
		if f.Description != "" {
			return f.Description
		}
	}
	return ""
}

// Run executes the orchestrator's full lifecycle: init, main loop, shutdown
// (spec §4.I). Returns a non-nil error on aborted shutdown (empty roster).
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.sessions.CreateSession(ctx, o.sessionID); err != nil {
		o.log.Warn("session create failed: %v", err)
	}

	workerIDs := make([]string, o.cfg.MaxTotalWorkers)
	for i := range workerIDs {
		workerIDs[i] = fmt.Sprintf("%d", i+1)
	}
	if err := o.wpool.Init(ctx, workerIDs); err != nil {
		_ = o.sessions.MarkCrashed(ctx, o.sessionID, err.Error())
		return fmt.Errorf("worker pool init: %w", err)
	}

	o.plan.EvaluateAtStartup(ctx, o.prdSet.CompleteIDs())
	o.refreshQueue()

	stopSummary := o.runSummaryTicker(ctx)
	defer stopSummary()

	converged := o.mainLoop(ctx)
	o.shutdownSequence(ctx)

	if !converged {
		return fmt.Errorf("shutdown aborted: no remaining slot matches the queue, or a signal interrupted the run")
	}
	return nil
}

// mainLoop runs spec §4.I's control loop and reports whether it exited via
// a clean convergence rather than a signal or a stuck queue.
func (o *Orchestrator) mainLoop(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if o.converged() {
			return true
		}

		assigned := o.tryAssignTasks(ctx)

		if o.wpool.HasActiveWorkers() {
			result, ok := o.wpool.AwaitAnyCompletion(ctx)
			if ok {
				o.handleResult(ctx, result)
			}
			continue
		}

		if assigned == 0 {
			o.mu.Lock()
			queueEmpty := len(o.queue) == 0
			inProgressEmpty := len(o.inProgress) == 0
			o.mu.Unlock()

			if queueEmpty && inProgressEmpty {
				if len(o.cfg.SpecURLs) > 0 && !o.plan.HasEvaluated() {
					sleep(ctx, 3*time.Second)
					o.refreshQueue()
					continue
				}
				return true
			}

			if len(o.limiter.AvailableSlots()) == 0 && !queueEmpty {
				sleep(ctx, 5*time.Second)
			} else if !queueEmpty && inProgressEmpty {
				o.log.Warn("stuck: no slot matches any remaining task")
				return false
			} else {
				sleep(ctx, 2*time.Second)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// tryAssignTasks dispatches as many ready tasks as idle workers and open
// slots allow, in queue order (spec §4.I).
func (o *Orchestrator) tryAssignTasks(ctx context.Context) int {
	assigned := 0

	o.mu.Lock()
	queue := o.queue
	o.mu.Unlock()

	for _, task := range queue {
		w := o.wpool.GetIdleWorker()
		if w == nil {
			break
		}
		if o.wpool.GetActiveCount() >= o.cfg.MaxTotalWorkers {
			break
		}

		tier := task.Tier
		if !o.cfg.AutoRoute {
			tier = models.Tier(task.Item.ComplexityHint)
			if tier == "" {
				tier = models.TierMedium
			}
		}
		slot := router.FindAvailableSlot(tier, o.limiter)
		if slot == nil {
			continue
		}
		if !o.limiter.TryAcquire(slot.Key()) {
			continue
		}

		o.mu.Lock()
		o.removeFromQueue(task.ID)
		task.AssignedSlot = slot
		task.AssignedWorkerID = w.ID
		o.inProgress[task.ID] = task
		o.mu.Unlock()

		o.prdSet.MutateItem(task.ID, func(item *models.BacklogItem) {
			item.Status = models.StatusInProgress
		})

		o.log.TaskAssigned(task.ID, w.ID, *slot)
		_ = o.sessions.StartTask(ctx, o.sessionID, task.ID, w.ID)
		o.wpool.AssignTask(ctx, w, task, *slot)
		assigned++
	}

	o.reportMetrics()
	return assigned
}

// handleResult processes one worker's outcome: slot release, rate-limit
// handling, merge, or re-queue (spec §4.I).
func (o *Orchestrator) handleResult(ctx context.Context, result models.WorkerResult) {
	o.limiter.Release(result.Slot.Key())
	o.log.TaskResult(result)
	defer o.reportMetrics()

	o.mu.Lock()
	task, ok := o.inProgress[result.TaskID]
	delete(o.inProgress, result.TaskID)
	o.mu.Unlock()
	if !ok {
		return
	}

	if result.RateLimited {
		o.limiter.ReportRateLimit(result.Slot.Key())
		o.requeue(task, task.RetryCount)
		return
	}

	if result.Success && result.CommitHash != "" {
		o.limiter.ReportSuccess(result.Slot.Key())
		mergeResult := o.mergeCo.CherryPick(ctx, result.CommitHash, task.ID)
		o.log.Merge(task.ID, mergeResult.Success, mergeResult.Conflict, mergeResult.Error)
		if o.met != nil && mergeResult.Conflict {
			o.met.MergeConflict.Inc()
		}

		if mergeResult.Success {
			o.prdSet.MutateItem(task.ID, func(item *models.BacklogItem) {
				item.Status = models.StatusCompleted
				passes := true
				item.Passes = &passes
				now := time.Now().UTC()
				item.CompletedAt = &now
			})
			_ = o.prdSet.SaveAll()
			_ = o.sessions.CompleteTask(ctx, o.sessionID, task.ID, result)
			o.notifier.Notify("task_completed", task.ID)
			if o.met != nil {
				o.met.TasksDone.Inc()
			}
			o.plan.MaybeRefill(ctx, o.pendingCount(), o.cfg.RefillThreshold, o.prdSet.CompleteIDs())
			o.refreshQueue()
			return
		}

		o.requeue(task, task.RetryCount+1)
		return
	}

	o.limiter.ReportSuccess(result.Slot.Key())
	o.requeue(task, task.RetryCount+1)
}

// requeue rebuilds task at retryCount and re-enters the queue, dropping it
// permanently once it exceeds the configured retry limit (spec §4.I).
func (o *Orchestrator) requeue(task models.FactoryTask, retryCount int) {
	o.mu.Lock()
	o.retries[task.ID] = retryCount
	o.mu.Unlock()

	if retryCount > o.cfg.RetryLimit {
		o.prdSet.MutateItem(task.ID, func(item *models.BacklogItem) {
			item.Status = models.StatusPending
		})
		o.log.Warn("%s dropped after exceeding retry limit", task.ID)
		return
	}

	rebuilt := router.BuildFactoryTask(task.Item, task.PrdFilePath, task.PrdCategory, retryCount, o.cfg.EscalateOnRetry)
	o.prdSet.MutateItem(task.ID, func(item *models.BacklogItem) {
		item.Status = models.StatusPending
	})

	o.mu.Lock()
	o.queue = append(o.queue, rebuilt)
	o.mu.Unlock()
}

// converged implements the two termination conditions from spec §4.I.
func (o *Orchestrator) converged() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.plan.SpecSatisfied() && len(o.inProgress) == 0 {
		return true
	}
	if len(o.queue) == 0 && len(o.inProgress) == 0 {
		if len(o.cfg.SpecURLs) == 0 || o.plan.HasEvaluated() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) pendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// refreshQueue rebuilds the dispatch queue from ready PRD items, excluding
// anything already queued, in progress, completed, or past the retry
// limit (spec §4.I).
func (o *Orchestrator) refreshQueue() {
	ready := o.prdSet.ReadyItems()

	o.mu.Lock()
	excluded := map[string]bool{}
	for _, t := range o.queue {
		excluded[t.ID] = true
	}
	for id := range o.inProgress {
		excluded[id] = true
	}
	retries := make(map[string]int, len(o.retries))
	for k, v := range o.retries {
		retries[k] = v
	}
	retryLimit := o.cfg.RetryLimit
	escalate := o.cfg.EscalateOnRetry
	o.mu.Unlock()

	newQueue := buildQueue(ready, excluded, retries, retryLimit, escalate)

	o.mu.Lock()
	o.queue = append(o.queue, newQueue...)
	sort.SliceStable(o.queue, func(i, j int) bool {
		pi, pj := o.queue[i].Item.Priority, o.queue[j].Item.Priority
		if pi != pj {
			return pi.Less(pj)
		}
		return o.queue[i].ComplexityScore > o.queue[j].ComplexityScore
	})
	o.mu.Unlock()

	o.reportMetrics()
}

// onNewTasks is the planner's callback for freshly sanitized backlog items
// (spec §4.H).
func (o *Orchestrator) onNewTasks(items []models.BacklogItem) {
	for _, f := range o.prdSet.Files {
		f.AppendItems(items)
		break
	}
	_ = o.prdSet.SaveAll()
	o.refreshQueue()
}

func (o *Orchestrator) onSpecSatisfied() {
	o.log.Info("planner reports spec satisfied")
}

func (o *Orchestrator) removeFromQueue(taskID string) {
	out := o.queue[:0]
	for _, t := range o.queue {
		if t.ID != taskID {
			out = append(out, t)
		}
	}
	o.queue = out
}

// shutdownSequence stops the planner, drains the pool, resets any
// still-in-progress items back to pending, and records session completion
// (spec §4.I).
func (o *Orchestrator) shutdownSequence(ctx context.Context) {
	o.plan.Stop()
	o.wpool.Shutdown(ctx, o.cfg.Cleanup)

	o.prdSet.ResetInProgress()
	_ = o.prdSet.SaveAll()

	summary := o.buildSummary()
	o.log.Summary(summary)
	_ = o.sessions.CompleteSession(ctx, o.sessionID, summary)
}

// runSummaryTicker starts the periodic console snapshot (SPEC_FULL.md §D)
// when cfg.SummaryInterval is configured, and returns a func to stop it.
func (o *Orchestrator) runSummaryTicker(ctx context.Context) func() {
	if o.cfg.SummaryInterval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(o.cfg.SummaryInterval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-done:
				return
			case <-ticker.C:
				summary.Render(os.Stderr, o.buildSnapshot())
			}
		}
	}()

	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
}

func (o *Orchestrator) buildSnapshot() summary.Snapshot {
	o.mu.Lock()
	queueDepth := len(o.queue)
	inProgress := len(o.inProgress)
	o.mu.Unlock()

	return summary.Snapshot{
		QueueDepth:     queueDepth,
		InProgress:     inProgress,
		ActiveWorkers:  o.wpool.GetActiveCount(),
		TotalWorkers:   len(o.wpool.Workers()),
		SlotsInBackoff: o.limiter.InBackoff(),
		TasksCompleted: len(o.prdSet.CompleteIDs()),
	}
}

// reportMetrics pushes the orchestrator's current state onto the Prometheus
// gauges, a no-op when metrics weren't enabled (spec §6 --metrics-addr).
func (o *Orchestrator) reportMetrics() {
	if o.met == nil {
		return
	}

	o.mu.Lock()
	queueDepth := len(o.queue)
	inProgress := len(o.inProgress)
	o.mu.Unlock()

	o.met.QueueDepth.Set(float64(queueDepth))
	o.met.InProgress.Set(float64(inProgress))
	o.met.ActiveWorkers.Set(float64(o.wpool.GetActiveCount()))

	backoff := map[string]bool{}
	for _, key := range o.limiter.InBackoff() {
		backoff[key] = true
	}
	for _, key := range o.limiter.Keys() {
		o.met.SetSlotState(key, o.limiter.Held(key), backoff[key])
	}
}

func (o *Orchestrator) buildSummary() models.ExecutionSummary {
	history := o.mergeCo.History()
	completed, merged, conflicts := 0, 0, 0
	for _, r := range history {
		if r.Success {
			merged++
		}
		if r.Conflict {
			conflicts++
		}
	}
	completed = len(o.prdSet.CompleteIDs())

	return models.ExecutionSummary{
		TasksCompleted: completed,
		MergesSucceeded: merged,
		MergeConflicts:  conflicts,
		WorkersUsed:     len(o.wpool.Workers()),
		SlotsInBackoff:  o.limiter.InBackoff(),
		Duration:        time.Since(o.startTime),
	}
}
