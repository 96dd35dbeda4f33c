package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

// UserStore is the pgx-backed store.UserStore.
type UserStore struct {
	pool *pgxpool.Pool
}

var _ store.UserStore = (*UserStore)(nil)

const pgUniqueViolation = "23505"

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, password_hash, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.UserID, u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return s.scanOne(ctx,
		`SELECT user_id, username, password_hash, is_admin, created_at
		 FROM users WHERE user_id = $1`, userID)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanOne(ctx,
		`SELECT user_id, username, password_hash, is_admin, created_at
		 FROM users WHERE username = $1`, username)
}

func (s *UserStore) scanOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.UserID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}
