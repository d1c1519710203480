package prd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ralph/internal/models"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	f, err := Load(filepath.Join(dir, "backlog.json"))
	if err != nil {
		t.Fatalf("Load on a missing file should not error: %v", err)
	}
	if len(f.Items) != 0 {
		t.Errorf("expected an empty item list, got %+v", f.Items)
	}
	if f.Category != "backlog" {
		t.Errorf("expected category derived from filename, got %q", f.Category)
	}
}

func TestSaveLoadRoundTripStampsUpdatedAtAndPreservesExtras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.json")

	raw := map[string]any{
		"project":     "ralph",
		"description": "factory backlog",
		"owner":       "platform-team", // unrecognised field, must round-trip
		"items": []map[string]any{
			{"id": "t1", "name": "task one", "priority": "high", "status": "pending"},
		},
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Items) != 1 || f.Items[0].ID != "t1" {
		t.Fatalf("expected one item t1, got %+v", f.Items)
	}

	if !f.MutateItem("t1", func(item *models.BacklogItem) {
		item.Status = models.StatusCompleted
	}) {
		t.Fatal("expected MutateItem to find t1")
	}

	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if reloaded.Items[0].Status != models.StatusCompleted {
		t.Errorf("expected status to persist as completed, got %q", reloaded.Items[0].Status)
	}
	if reloaded.Metadata.UpdatedAt == "" {
		t.Error("expected Save to stamp metadata.updated_at")
	}
	if reloaded.Project != "ralph" || reloaded.Description != "factory backlog" {
		t.Errorf("expected project/description to round-trip, got %+v", reloaded)
	}

	var onDisk map[string]json.RawMessage
	diskBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back file: %v", err)
	}
	if err := json.Unmarshal(diskBytes, &onDisk); err != nil {
		t.Fatalf("unmarshal on-disk JSON: %v", err)
	}
	var owner string
	if err := json.Unmarshal(onDisk["owner"], &owner); err != nil || owner != "platform-team" {
		t.Errorf("expected unrecognised field 'owner' to round-trip unchanged, got %q (err %v)", owner, err)
	}
}

func TestBareArrayFormRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.json")

	items := []models.BacklogItem{{ID: "a", Name: "a", Status: models.StatusPending}}
	data, _ := json.Marshal(items)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !f.bare {
		t.Fatal("expected bare array form to be detected")
	}

	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.bare || len(reloaded.Items) != 1 {
		t.Fatalf("expected bare array form to round-trip as a bare array, got %+v", reloaded)
	}
}

func TestReadyItemsRespectsDependencies(t *testing.T) {
	f := &File{Items: []models.BacklogItem{
		{ID: "dep", Status: models.StatusCompleted},
		{ID: "blocked", Status: models.StatusPending, DependsOn: []string{"unmet"}},
		{ID: "unblocked", Status: models.StatusPending, DependsOn: []string{"dep"}},
	}}

	ready := f.ReadyItems(f.CompleteIDs())
	if len(ready) != 1 || ready[0].ID != "unblocked" {
		t.Fatalf("expected only 'unblocked' to be ready, got %+v", ready)
	}
}

func TestResetInProgressResetsOnlyInProgressItems(t *testing.T) {
	f := &File{Items: []models.BacklogItem{
		{ID: "a", Status: models.StatusInProgress},
		{ID: "b", Status: models.StatusCompleted},
		{ID: "c", Status: models.StatusPending},
	}}
	f.ResetInProgress()

	if f.Items[0].Status != models.StatusPending {
		t.Errorf("expected in_progress item to reset to pending, got %q", f.Items[0].Status)
	}
	if f.Items[1].Status != models.StatusCompleted {
		t.Errorf("expected completed item to be untouched, got %q", f.Items[1].Status)
	}
	if f.Items[2].Status != models.StatusPending {
		t.Errorf("expected already-pending item to be untouched, got %q", f.Items[2].Status)
	}
}

func TestAppendItemsSkipsExistingIDs(t *testing.T) {
	f := &File{Items: []models.BacklogItem{{ID: "a"}}}
	f.AppendItems([]models.BacklogItem{{ID: "a"}, {ID: "b"}})
	if len(f.Items) != 2 {
		t.Fatalf("expected duplicate id 'a' to be skipped, got %+v", f.Items)
	}
}
