package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestCherryPickAppliesCleanCommit(t *testing.T) {
	main := t.TempDir()
	initGitRepo(t, main)
	writeFile(t, filepath.Join(main, "README.md"), "# hello\n")
	gitAdd(t, main, ".")
	gitCommit(t, main, "initial")

	worker := t.TempDir()
	runGit(t, worker, "clone", main, ".")
	configureGitIdentity(t, worker)
	writeFile(t, filepath.Join(worker, "feature.go"), "package main\n")
	gitAdd(t, worker, ".")
	gitCommit(t, worker, "add feature")
	commitHash := strings.TrimSpace(gitOutput(t, worker, "rev-parse", "HEAD"))

	runGit(t, main, "fetch", worker, "HEAD:refs/worker/tmp")

	c := New(main)
	result := c.CherryPick(context.Background(), commitHash, "task-1")

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Conflict {
		t.Fatal("expected no conflict for a clean cherry-pick")
	}
	if result.CommitHash == "" {
		t.Error("expected a non-empty resulting commit hash")
	}

	history := c.History()
	if len(history) != 1 || !history[0].Success {
		t.Fatalf("expected one successful history entry, got %+v", history)
	}
}

func TestCherryPickDetectsConflictAndAborts(t *testing.T) {
	main := t.TempDir()
	initGitRepo(t, main)
	writeFile(t, filepath.Join(main, "shared.txt"), "line one\n")
	gitAdd(t, main, ".")
	gitCommit(t, main, "initial")

	worker := t.TempDir()
	runGit(t, worker, "clone", main, ".")
	configureGitIdentity(t, worker)
	writeFile(t, filepath.Join(worker, "shared.txt"), "line one\nworker change\n")
	gitAdd(t, worker, ".")
	gitCommit(t, worker, "worker edits shared.txt")
	commitHash := strings.TrimSpace(gitOutput(t, worker, "rev-parse", "HEAD"))
	runGit(t, main, "fetch", worker, "HEAD:refs/worker/tmp")

	// Conflicting edit lands on main after the worker branched.
	writeFile(t, filepath.Join(main, "shared.txt"), "line one\nmain change\n")
	gitAdd(t, main, ".")
	gitCommit(t, main, "main edits shared.txt")

	c := New(main)
	result := c.CherryPick(context.Background(), commitHash, "task-2")

	if result.Success {
		t.Fatal("expected the cherry-pick to fail on conflict")
	}
	if !result.Conflict {
		t.Fatalf("expected Conflict=true, got %+v", result)
	}

	status := strings.TrimSpace(gitOutput(t, main, "status", "--porcelain"))
	if status != "" {
		t.Fatalf("expected cherry-pick --abort to leave a clean tree, got status: %q", status)
	}

	history := c.History()
	if len(history) != 1 || !history[0].Conflict {
		t.Fatalf("expected one conflict history entry, got %+v", history)
	}
}

func TestCherryPickSerialisesConcurrentCalls(t *testing.T) {
	main := t.TempDir()
	initGitRepo(t, main)
	writeFile(t, filepath.Join(main, "README.md"), "# hello\n")
	gitAdd(t, main, ".")
	gitCommit(t, main, "initial")

	c := New(main)
	done := make(chan struct{})
	go func() {
		c.CherryPick(context.Background(), "deadbeef", "task-a")
		done <- struct{}{}
	}()
	go func() {
		c.CherryPick(context.Background(), "deadbeef", "task-b")
		done <- struct{}{}
	}()
	<-done
	<-done

	if len(c.History()) != 2 {
		t.Fatalf("expected both calls to record history, got %d entries", len(c.History()))
	}
}

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	runGit(t, dir, "init")
	configureGitIdentity(t, dir)
}

func configureGitIdentity(t *testing.T, dir string) {
	t.Helper()
	runGit(t, dir, "config", "user.email", "ralph@example.com")
	runGit(t, dir, "config", "user.name", "Ralph Factory")
}

func gitAdd(t *testing.T, dir string, paths ...string) {
	t.Helper()
	args := append([]string{"add"}, paths...)
	runGit(t, dir, args...)
}

func gitCommit(t *testing.T, dir, message string) {
	t.Helper()
	runGit(t, dir, "commit", "-m", message)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, output)
	}
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, out)
	}
	return string(out)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
