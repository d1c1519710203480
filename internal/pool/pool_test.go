package pool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"ralph/internal/collab"
	"ralph/internal/config"
	"ralph/internal/git"
	"ralph/internal/models"
	"ralph/internal/prd"
	"ralph/internal/provider"
	"ralph/internal/worker"
)

func setupMainRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "ralph@example.com")
	runGit(t, dir, "config", "user.name", "Ralph Factory")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# repo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) provider.Result {
	close(b.started)
	<-b.release
	_ = os.WriteFile(filepath.Join(opts.ProjectRoot, "out.txt"), []byte("x\n"), 0644)
	return provider.Result{Success: true, Output: "<complete>DONE</complete>"}
}

func newTestPool(t *testing.T, mainRepo string, maxWorkers int, providers provider.Registry) (*Pool, *git.Manager) {
	t.Helper()
	gitMgr := git.NewManager(mainRepo, filepath.Join(mainRepo, ".worktrees"))
	prdSet := &prd.Set{Files: []*prd.File{{Items: []models.BacklogItem{{ID: "t1"}, {ID: "t2"}}}}}
	deps := worker.Deps{
		GitManager: gitMgr,
		Providers:  providers,
		PRD:        prdSet,
		Validation: noopValidation{},
		Learnings:  noopLearnings{},
		Judges:     collab.NopJudgePanel{},
	}
	cfg := config.DefaultFactoryConfig()
	cfg.MaxTotalWorkers = maxWorkers
	return New(gitMgr, deps, cfg), gitMgr
}

type noopValidation struct{}

func (noopValidation) Run(ctx context.Context, worktreePath string, cfg collab.ValidationGateConfig) (collab.ValidationOutcome, error) {
	return collab.ValidationOutcome{Passed: true}, nil
}

type noopLearnings struct{}

func (noopLearnings) Extract(output string) []string                            { return nil }
func (noopLearnings) Append(ctx context.Context, taskID string, l []string) error { return nil }

func TestInitFailsWithEmptyRoster(t *testing.T) {
	mainRepo := setupMainRepo(t)
	p, _ := newTestPool(t, mainRepo, 2, provider.Registry{})
	err := p.Init(context.Background(), nil)
	if err != ErrRosterEmpty {
		t.Fatalf("expected ErrRosterEmpty, got %v", err)
	}
}

func TestAssignTaskEnforcesTotalConcurrencyCeiling(t *testing.T) {
	mainRepo := setupMainRepo(t)
	release := make(chan struct{})
	bp := &blockingProvider{started: make(chan struct{}), release: release}
	p, _ := newTestPool(t, mainRepo, 1, provider.Registry{"fake": bp})

	if err := p.Init(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	w1 := p.GetIdleWorker()
	if w1 == nil {
		t.Fatal("expected an idle worker")
	}
	task1 := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}
	if !p.AssignTask(context.Background(), w1, task1, slot) {
		t.Fatal("expected first assignment to succeed")
	}

	<-bp.started // first task is now occupying the only concurrency slot

	w2 := p.GetIdleWorker()
	if w2 == nil {
		t.Fatal("expected a second idle worker in the roster")
	}
	task2 := models.NewFactoryTask(models.BacklogItem{ID: "t2"}, "backlog.json", "core", 0, models.TierMedium, 0)
	if p.AssignTask(context.Background(), w2, task2, slot) {
		t.Fatal("expected second assignment to be refused at the total concurrency ceiling")
	}

	close(release)
	result, ok := p.AwaitAnyCompletion(context.Background())
	if !ok || !result.Success {
		t.Fatalf("expected the first task to complete successfully, got %+v (ok=%v)", result, ok)
	}

	p.Shutdown(context.Background(), false)
}

func TestGetIdleWorkerExcludesRunningWorkers(t *testing.T) {
	mainRepo := setupMainRepo(t)
	release := make(chan struct{})
	bp := &blockingProvider{started: make(chan struct{}), release: release}
	p, _ := newTestPool(t, mainRepo, 2, provider.Registry{"fake": bp})

	if err := p.Init(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	w := p.GetIdleWorker()
	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}
	p.AssignTask(context.Background(), w, task, slot)

	<-bp.started
	if p.GetIdleWorker() != nil {
		t.Fatal("expected no idle worker while the sole roster member is running")
	}

	close(release)
	p.AwaitAnyCompletion(context.Background())

	deadline := time.After(2 * time.Second)
	for p.GetIdleWorker() == nil {
		select {
		case <-deadline:
			t.Fatal("expected worker to return to idle after completion")
		default:
		}
	}

	p.Shutdown(context.Background(), false)
}
