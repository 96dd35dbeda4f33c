package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

// ThreadStore is the pgx-backed store.ThreadStore.
type ThreadStore struct {
	pool *pgxpool.Pool
}

var _ store.ThreadStore = (*ThreadStore)(nil)

func (s *ThreadStore) Create(ctx context.Context, th *models.Thread) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO threads (thread_id, user_id, title, created_at)
		 VALUES ($1, $2, $3, $4)`,
		th.ThreadID, th.UserID, th.Title, th.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

func (s *ThreadStore) Get(ctx context.Context, threadID string) (*models.Thread, error) {
	var t models.Thread
	err := s.pool.QueryRow(ctx,
		`SELECT thread_id, user_id, title, created_at FROM threads WHERE thread_id = $1`,
		threadID,
	).Scan(&t.ThreadID, &t.UserID, &t.Title, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return &t, nil
}

func (s *ThreadStore) SetTitle(ctx context.Context, threadID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE threads SET title = $1 WHERE thread_id = $2`, title, threadID)
	if err != nil {
		return fmt.Errorf("updating thread title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ThreadStore) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Thread, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM threads WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting threads: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT thread_id, user_id, title, created_at FROM threads
		 WHERE user_id = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`,
		userID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []*models.Thread
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ThreadID, &t.UserID, &t.Title, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning thread: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating threads: %w", err)
	}
	return out, total, nil
}

func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
