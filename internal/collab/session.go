package collab

import (
	"context"
	_ "embed"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ralph/internal/models"
)

//go:embed schema.sql
var sessionSchemaSQL string

// SQLiteSessionManager records session/task lifecycle events to a sqlite
// database, following the teacher's embedded-schema store idiom
// (go:embed schema.sql, NewStore/initSchema, mattn/go-sqlite3) repurposed
// from execution-history analytics to Factory session bookkeeping.
type SQLiteSessionManager struct {
	db *sql.DB
}

// NewSQLiteSessionManager opens (creating if needed) the sqlite database at
// dbPath and ensures its schema exists.
func NewSQLiteSessionManager(dbPath string) (*SQLiteSessionManager, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create session db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	if _, err := db.Exec(sessionSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &SQLiteSessionManager{db: db}, nil
}

func (s *SQLiteSessionManager) Close() error {
	return s.db.Close()
}

func (s *SQLiteSessionManager) CreateSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		sessionID, time.Now().UTC())
	return err
}

func (s *SQLiteSessionManager) StartTask(ctx context.Context, sessionID, taskID, workerID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_tasks (session_id, task_id, worker_id, started_at) VALUES (?, ?, ?, ?)`,
		sessionID, taskID, workerID, time.Now().UTC())
	return err
}

func (s *SQLiteSessionManager) CompleteTask(ctx context.Context, sessionID, taskID string, result models.WorkerResult) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_tasks SET completed_at = ?, success = ?, commit_hash = ?, error = ?
		 WHERE id = (SELECT id FROM session_tasks WHERE session_id = ? AND task_id = ? AND completed_at IS NULL ORDER BY id DESC LIMIT 1)`,
		time.Now().UTC(), result.Success, result.CommitHash, result.Error, sessionID, taskID)
	return err
}

func (s *SQLiteSessionManager) CompleteSession(ctx context.Context, sessionID string, summary models.ExecutionSummary) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, tasks_completed = ?, merges_succeeded = ?, merge_conflicts = ? WHERE id = ?`,
		time.Now().UTC(), summary.TasksCompleted, summary.MergesSucceeded, summary.MergeConflicts, sessionID)
	return err
}

func (s *SQLiteSessionManager) MarkCrashed(ctx context.Context, sessionID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, crashed = 1, crash_reason = ? WHERE id = ?`,
		time.Now().UTC(), reason, sessionID)
	return err
}

var _ SessionManager = (*SQLiteSessionManager)(nil)
