package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

// ImageVersionStore is the pgx-backed store.ImageVersionStore.
type ImageVersionStore struct {
	pool *pgxpool.Pool
}

var _ store.ImageVersionStore = (*ImageVersionStore)(nil)

func (s *ImageVersionStore) Create(ctx context.Context, v *models.ImageVersion) error {
	deps, err := marshalOrNil(v.DependenciesSnapshot)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO image_versions (version, skill_id, created_at, is_current, dependencies_snapshot)
		VALUES ($1, $2, $3, $4, $5)`,
		v.Version, v.SkillID, v.CreatedAt, v.IsCurrent, deps)
	if err != nil {
		return fmt.Errorf("inserting image version: %w", err)
	}
	return nil
}

func (s *ImageVersionStore) Current(ctx context.Context) (*models.ImageVersion, error) {
	var v models.ImageVersion
	var deps []byte
	err := s.pool.QueryRow(ctx, `
		SELECT version, skill_id, created_at, is_current, dependencies_snapshot
		FROM image_versions WHERE is_current LIMIT 1`,
	).Scan(&v.Version, &v.SkillID, &v.CreatedAt, &v.IsCurrent, &deps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying current image version: %w", err)
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &v.DependenciesSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshaling dependency snapshot: %w", err)
		}
	}
	return &v, nil
}

// SetCurrent flips is_current atomically: clear every row, then set the
// target, inside one transaction so the partial unique index on is_current
// is never violated mid-update.
func (s *ImageVersionStore) SetCurrent(ctx context.Context, version string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE image_versions SET is_current = FALSE WHERE is_current`); err != nil {
		return fmt.Errorf("clearing current image version: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE image_versions SET is_current = TRUE WHERE version = $1`, version)
	if err != nil {
		return fmt.Errorf("setting current image version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing image version update: %w", err)
	}
	return nil
}
