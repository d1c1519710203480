// Package prd implements the read/write contract for PRD (backlog) files
// (spec §6): JSON per category, top-level object with optional project,
// description, metadata, and an items array — or a bare items array.
// Unrecognised top-level fields round-trip unchanged; items are never
// reordered; metadata.updated_at is stamped on every write of the object
// form. A bare-array file is written back as a bare array, without metadata.
package prd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"ralph/internal/models"
)

// File is one loaded PRD file: the parsed items plus enough of the raw
// top-level shape to preserve fields the Factory core doesn't know about.
type File struct {
	Path     string
	Category string // derived from the filename, used by the router

	Project     string
	Description string
	Metadata    models.PrdMetadata
	Items       []models.BacklogItem

	extra map[string]json.RawMessage // unrecognised top-level keys
	bare  bool                       // true if the file was a bare array
}

// Load reads a PRD file, guarding against a concurrent external writer with
// an exclusive flock on a sidecar .lock file. A missing file is not an error: an empty File is returned
// so a fresh backlog can be created by Save.
func Load(path string) (*File, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock prd file %s: %w", path, err)
	}
	defer lock.Unlock()

	f := &File{
		Path:     path,
		Category: categoryFromPath(path),
		extra:    map[string]json.RawMessage{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read prd file %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}

	// Bare array form.
	if json.Valid(data) {
		var items []models.BacklogItem
		if err := json.Unmarshal(data, &items); err == nil {
			f.Items = items
			f.bare = true
			return f, nil
		}
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prd file %s: %w", path, err)
	}

	if v, ok := raw["project"]; ok {
		_ = json.Unmarshal(v, &f.Project)
		delete(raw, "project")
	}
	if v, ok := raw["description"]; ok {
		_ = json.Unmarshal(v, &f.Description)
		delete(raw, "description")
	}
	if v, ok := raw["metadata"]; ok {
		_ = json.Unmarshal(v, &f.Metadata)
		delete(raw, "metadata")
	}
	if v, ok := raw["items"]; ok {
		if err := json.Unmarshal(v, &f.Items); err != nil {
			return nil, fmt.Errorf("parse prd items in %s: %w", path, err)
		}
		delete(raw, "items")
	}

	f.extra = raw
	return f, nil
}

// Save writes the PRD file back, preserving unrecognised top-level fields
// and stamping metadata.updated_at. Items are written in their current
// slice order; the core never reorders them itself. A bare-array file is
// written as the items array alone, so the stamp is not persisted for it.
func (f *File) Save() error {
	lock := flock.New(f.Path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock prd file %s: %w", f.Path, err)
	}
	defer lock.Unlock()

	f.Metadata.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	var out []byte
	var err error
	if f.bare {
		out, err = json.MarshalIndent(f.Items, "", "  ")
	} else {
		merged := map[string]json.RawMessage{}
		for k, v := range f.extra {
			merged[k] = v
		}
		if f.Project != "" {
			merged["project"], _ = json.Marshal(f.Project)
		}
		if f.Description != "" {
			merged["description"], _ = json.Marshal(f.Description)
		}
		merged["metadata"], _ = json.Marshal(f.Metadata)
		merged["items"], _ = json.Marshal(f.Items)
		out, err = json.MarshalIndent(merged, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal prd file %s: %w", f.Path, err)
	}

	return atomicWrite(f.Path, out)
}

// ReadyItems returns every item in f that is ready per the invariants in
// spec §3, given a lookup of which ids (across all loaded PRD files) are
// complete.
func (f *File) ReadyItems(completeByID map[string]bool) []models.BacklogItem {
	var ready []models.BacklogItem
	for _, item := range f.Items {
		if item.IsReady(completeByID) {
			ready = append(ready, item)
		}
	}
	return ready
}

// CompleteIDs returns the set of ids in f that are complete.
func (f *File) CompleteIDs() map[string]bool {
	out := map[string]bool{}
	for _, item := range f.Items {
		if item.IsComplete() {
			out[item.ID] = true
		}
	}
	return out
}

// MutateItem applies fn to the item with the given id, in place. Reports
// whether the item was found.
func (f *File) MutateItem(id string, fn func(*models.BacklogItem)) bool {
	for i := range f.Items {
		if f.Items[i].ID == id {
			fn(&f.Items[i])
			return true
		}
	}
	return false
}

// AppendItems adds newly planned items to the file, skipping ids already
// present.
func (f *File) AppendItems(items []models.BacklogItem) {
	existing := map[string]bool{}
	for _, item := range f.Items {
		existing[item.ID] = true
	}
	for _, item := range items {
		if existing[item.ID] {
			continue
		}
		f.Items = append(f.Items, item)
		existing[item.ID] = true
	}
}

// ResetInProgress resets every item still marked in_progress back to
// pending. Called on the Factory's own clean shutdown (spec §9).
func (f *File) ResetInProgress() {
	for i := range f.Items {
		if f.Items[i].Status == models.StatusInProgress {
			f.Items[i].Status = models.StatusPending
		}
	}
}

func categoryFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create prd directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".prd-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp prd file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp prd file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp prd file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp prd file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp prd file to %s: %w", path, err)
	}
	tmp = nil
	return nil
}

// Set is a collection of loaded PRD files, in load order, giving the
// orchestrator a single place to compute cross-file completeness.
type Set struct {
	Files []*File
}

// LoadSet loads every path into a Set.
func LoadSet(paths []string) (*Set, error) {
	s := &Set{}
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return nil, err
		}
		s.Files = append(s.Files, f)
	}
	return s, nil
}

// CompleteIDs returns the union of complete ids across every file in the set.
func (s *Set) CompleteIDs() map[string]bool {
	out := map[string]bool{}
	for _, f := range s.Files {
		for id := range f.CompleteIDs() {
			out[id] = true
		}
	}
	return out
}

// ReadyItem is one ready item, alongside the owning file's path and
// category.
type ReadyItem struct {
	Item        models.BacklogItem
	PrdFilePath string
	PrdCategory string
}

// ReadyItems returns every ready item across every file in the set.
func (s *Set) ReadyItems() []ReadyItem {
	complete := s.CompleteIDs()
	var out []ReadyItem
	for _, f := range s.Files {
		for _, item := range f.ReadyItems(complete) {
			out = append(out, ReadyItem{Item: item, PrdFilePath: f.Path, PrdCategory: f.Category})
		}
	}
	return out
}

// MutateItem finds the item by id across the set's files and applies fn.
func (s *Set) MutateItem(id string, fn func(*models.BacklogItem)) bool {
	for _, f := range s.Files {
		if f.MutateItem(id, fn) {
			return true
		}
	}
	return false
}

// SaveAll saves every file in the set.
func (s *Set) SaveAll() error {
	for _, f := range s.Files {
		if err := f.Save(); err != nil {
			return err
		}
	}
	return nil
}

// ResetInProgress resets in_progress items to pending across every file.
func (s *Set) ResetInProgress() {
	for _, f := range s.Files {
		f.ResetInProgress()
	}
}
