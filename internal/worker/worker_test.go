package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"ralph/internal/collab"
	"ralph/internal/config"
	"ralph/internal/git"
	"ralph/internal/models"
	"ralph/internal/prd"
	"ralph/internal/provider"
)

// fakeProvider writes a file into the worktree and reports completion, so
// the worker's commit step has something real to stage.
type fakeProvider struct {
	output  string
	success bool
	writes  bool
}

func (f fakeProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) provider.Result {
	if f.writes {
		_ = os.WriteFile(filepath.Join(opts.ProjectRoot, "output.txt"), []byte("done\n"), 0644)
	}
	return provider.Result{Success: f.success, Output: f.output}
}

type fakeValidation struct {
	outcome collab.ValidationOutcome
	err     error
}

func (f fakeValidation) Run(ctx context.Context, worktreePath string, cfg collab.ValidationGateConfig) (collab.ValidationOutcome, error) {
	return f.outcome, f.err
}

type nopLearnings struct{}

func (nopLearnings) Extract(output string) []string                            { return nil }
func (nopLearnings) Append(ctx context.Context, taskID string, l []string) error { return nil }

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

func newWorkerInRepo(t *testing.T, mainRepo, id string) (*Worker, *git.Manager) {
	t.Helper()
	gitMgr := git.NewManager(mainRepo, filepath.Join(mainRepo, ".worktrees"))
	wt, err := gitMgr.Ensure(context.Background(), id)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return New(id, wt), gitMgr
}

func baseDeps(gitMgr *git.Manager, providers provider.Registry, prdSet *prd.Set) Deps {
	return Deps{
		GitManager: gitMgr,
		Providers:  providers,
		PRD:        prdSet,
		Validation: fakeValidation{outcome: collab.ValidationOutcome{Passed: true}},
		Learnings:  nopLearnings{},
		Judges:     collab.NopJudgePanel{},
	}
}

func emptyPRDSet() *prd.Set {
	return &prd.Set{Files: []*prd.File{{Items: []models.BacklogItem{{ID: "t1", Name: "task one", Status: models.StatusPending}}}}}
}

func TestExecuteSuccessPathCommits(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	providers := provider.Registry{"fake": fakeProvider{success: true, writes: true, output: "<complete>DONE</complete>"}}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1", Name: "task one"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default", Tier: models.TierMedium}

	result := w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.CommitHash == "" || result.CommitHash == "no-commit" {
		t.Errorf("expected a real commit hash, got %q", result.CommitHash)
	}
	if w.Status() != StatusIdle {
		t.Errorf("expected worker to return to idle, got %q", w.Status())
	}
	completed := w.Completed()
	if len(completed) != 1 || completed[0] != "t1" {
		t.Errorf("expected t1 recorded as completed, got %v", completed)
	}
}

func TestExecuteNoCompletionMarkerFails(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	providers := provider.Registry{"fake": fakeProvider{success: true, writes: true, output: "still working"}}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}

	result := w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	if result.Success {
		t.Fatal("expected failure when no completion marker is present")
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestExecuteNoChangesYieldsFailure(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	providers := provider.Registry{"fake": fakeProvider{success: true, writes: false, output: "<complete>DONE</complete>"}}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}

	result := w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	if result.Success {
		t.Fatal("expected failure when the provider makes no changes")
	}
}

func TestExecuteValidationFailureBlocksCommit(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	providers := provider.Registry{"fake": fakeProvider{success: true, writes: true, output: "<complete>DONE</complete>"}}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())
	deps.Validation = fakeValidation{outcome: collab.ValidationOutcome{Passed: false, FailedGates: []string{"lint"}}}

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}

	result := w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	if result.Success {
		t.Fatal("expected validation failure to block success")
	}
	if result.ValidationPassed == nil || *result.ValidationPassed {
		t.Errorf("expected ValidationPassed=false, got %+v", result.ValidationPassed)
	}
}

func TestExecuteRateLimitDetected(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	providers := provider.Registry{"fake": fakeProvider{success: false, output: "429 too many requests"}}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}

	result := w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	if !result.RateLimited {
		t.Fatal("expected RateLimited=true")
	}
	if result.Success {
		t.Fatal("expected overall failure on rate limit")
	}
}

// TestExecuteAtMostOneTaskPerWorker exercises spec §8's invariant: a worker
// claimed by one Execute call refuses a concurrent second claim.
func TestExecuteAtMostOneTaskPerWorker(t *testing.T) {
	mainRepo := setupMainRepo(t)
	w, gitMgr := newWorkerInRepo(t, mainRepo, "1")

	block := make(chan struct{})
	started := make(chan struct{})
	slowProvider := blockingProvider{release: block, started: started}
	providers := provider.Registry{"fake": slowProvider}
	deps := baseDeps(gitMgr, providers, emptyPRDSet())

	task := models.NewFactoryTask(models.BacklogItem{ID: "t1"}, "backlog.json", "core", 0, models.TierMedium, 0)
	slot := models.ProviderSlot{Provider: "fake", Model: "default"}

	var wg sync.WaitGroup
	results := make([]models.WorkerResult, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	}()
	go func() {
		defer wg.Done()
		// Give the first call a chance to claim the worker first.
		<-slowProvider.started
		results[1] = w.Execute(context.Background(), task, slot, config.DefaultFactoryConfig(), deps)
	}()

	close(block)
	wg.Wait()

	rejected := 0
	for _, r := range results {
		if r.Error == "worker was not idle" {
			rejected++
		}
	}
	if rejected != 1 {
		t.Fatalf("expected exactly one concurrent call to be rejected as not-idle, got %d (results: %+v)", rejected, results)
	}
}

type blockingProvider struct {
	release chan struct{}
	started chan struct{}
}

func (b blockingProvider) Invoke(ctx context.Context, prompt string, opts provider.Options) provider.Result {
	if b.started != nil {
		close(b.started)
	}
	<-b.release
	return provider.Result{Success: true, Output: "<complete>DONE</complete>"}
}
