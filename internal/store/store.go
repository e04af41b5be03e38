// Package store persists the offline sync queue and entity snapshots
// in a local SQLite database so queued work and cached reads survive
// restarts. All writes funnel through a single writer goroutine, which
// keeps SQLite free of write contention.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// Store implements interfaces.TaskStore and interfaces.SnapshotStore
// on SQLite.
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens (or creates) the database at path and prepares the
// schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	s := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("store: write failed, retrying in 1s: %v", err)
				time.Sleep(time.Second)
				err = op.operation(s.db) // retry once
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("store write timeout")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// SaveTask inserts or replaces one task atomically.
func (s *Store) SaveTask(ctx context.Context, task *types.SyncTask) error {
	dataJSON, err := json.Marshal(task.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal task data: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO sync_tasks (id, type, entity_id, action, data, priority, attempts, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			task.ID,
			task.Type,
			task.EntityID,
			task.Action,
			string(dataJSON),
			task.Priority,
			task.Attempts,
			task.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}
		return nil
	})
}

// DeleteTask removes an acknowledged or evicted task. Deleting an
// absent task is not an error.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
}

// ListTasks returns all persisted tasks in creation order.
func (s *Store) ListTasks(ctx context.Context) ([]*types.SyncTask, error) {
	query := `
		SELECT id, type, entity_id, action, data, priority, attempts, created_at
		FROM sync_tasks
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.SyncTask
	for rows.Next() {
		var task types.SyncTask
		var dataJSON string

		err := rows.Scan(
			&task.ID,
			&task.Type,
			&task.EntityID,
			&task.Action,
			&dataJSON,
			&task.Priority,
			&task.Attempts,
			&task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}

		if err := json.Unmarshal([]byte(dataJSON), &task.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// SaveDeadLetter moves an exhausted task into the dead-letter table.
func (s *Store) SaveDeadLetter(ctx context.Context, task *types.SyncTask) error {
	dataJSON, err := json.Marshal(task.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal task data: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO dead_letters (id, type, entity_id, action, data, priority, attempts, created_at, failed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			task.ID,
			task.Type,
			task.EntityID,
			task.Action,
			string(dataJSON),
			task.Priority,
			task.Attempts,
			task.CreatedAt,
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("failed to save dead letter: %w", err)
		}
		return nil
	})
}

// SaveSnapshot upserts one snapshot document.
func (s *Store) SaveSnapshot(ctx context.Context, key string, data []byte) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO snapshots (key, data, updated_at)
			VALUES (?, ?, ?)
		`
		if _, err := db.ExecContext(ctx, query, key, string(data), time.Now()); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	})
}

// LoadSnapshot returns the snapshot for key, or
// interfaces.ErrSnapshotNotFound.
func (s *Store) LoadSnapshot(ctx context.Context, key string) ([]byte, error) {
	var data string
	row := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE key = ?`, key)
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return []byte(data), nil
}

// HealthCheck validates connectivity and basic reads.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	if _, err := s.db.QueryContext(ctx, "SELECT COUNT(*) FROM sync_tasks LIMIT 1"); err != nil {
		return fmt.Errorf("store read test failed: %w", err)
	}
	return nil
}

// Close shuts the writer down and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
