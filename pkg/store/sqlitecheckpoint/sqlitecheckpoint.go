// Package sqlitecheckpoint is the durable checkpoint store spec.md §1 names
// as an opaque key/value collaborator: get/put/delete keyed by thread id,
// strong enough to survive process restart. Backed by modernc.org/sqlite
// (pure Go, no cgo) via database/sql, grounded on vanducng-goclaw's
// internal/store/pg session-store shape (a thin database/sql wrapper
// storing one JSON blob column per key, with an in-memory read cache).
package sqlitecheckpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/skillforge/skillforge/pkg/checkpoint"
)

// Store is a modernc.org/sqlite-backed checkpoint.KVStore.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string][]byte
}

var _ checkpoint.KVStore = (*Store)(nil)

// Open creates (if needed) the checkpoints table at path and returns a
// ready Store. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT PRIMARY KEY,
			payload   BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checkpoints table: %w", err)
	}

	return &Store{db: db, cache: make(map[string][]byte)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, threadID string) ([]byte, error) {
	s.mu.RLock()
	if cached, ok := s.cache[threadID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrKVNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint row: %w", err)
	}

	s.mu.Lock()
	s.cache[threadID] = payload
	s.mu.Unlock()
	return payload, nil
}

func (s *Store) Put(ctx context.Context, threadID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, payload, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT (thread_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		threadID, payload)
	if err != nil {
		return fmt.Errorf("writing checkpoint row: %w", err)
	}

	s.mu.Lock()
	s.cache[threadID] = payload
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("deleting checkpoint row: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, threadID)
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, threadID string) (bool, error) {
	s.mu.RLock()
	if _, ok := s.cache[threadID]; ok {
		s.mu.RUnlock()
		return true, nil
	}
	s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking checkpoint existence: %w", err)
	}
	return true, nil
}

// ListThreadIDsWithPrefix returns every thread id starting with prefix,
// used by the validation orchestrator's startup resume scan (thread ids of
// the form "validation_{skillId}").
func (s *Store) ListThreadIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints WHERE thread_id LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoint thread ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
