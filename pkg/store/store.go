// Package store defines the interfaces skillforge uses for its relational
// data (users, threads, skills, image versions). spec.md §1 treats "the
// relational store ... of users, threads, skills, and image versions" as an
// external collaborator named only by contract; this package is that
// contract, plus a Postgres-backed reference implementation
// (pkg/store/postgres) exercised by the rest of the system.
package store

import (
	"context"
	"errors"

	"github.com/skillforge/skillforge/pkg/models"
)

// ErrNotFound is returned by any lookup method that finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a uniqueness constraint would be violated
// (duplicate username, duplicate skill name).
var ErrDuplicate = errors.New("store: duplicate")

// UserStore persists User rows.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// ThreadStore persists Thread rows.
type ThreadStore interface {
	Create(ctx context.Context, th *models.Thread) error
	Get(ctx context.Context, threadID string) (*models.Thread, error)
	SetTitle(ctx context.Context, threadID, title string) error
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*models.Thread, int, error)
	Delete(ctx context.Context, threadID string) error
}

// SkillStore persists Skill rows.
type SkillStore interface {
	Create(ctx context.Context, s *models.Skill) error
	Get(ctx context.Context, skillID string) (*models.Skill, error)
	GetByName(ctx context.Context, name string) (*models.Skill, error)
	Update(ctx context.Context, s *models.Skill) error
	Delete(ctx context.Context, skillID string) error
	List(ctx context.Context, status *models.SkillStatus, offset, limit int) ([]*models.Skill, int, error)
	ListApproved(ctx context.Context) ([]*models.Skill, error)
}

// ImageVersionStore persists ImageVersion rows.
type ImageVersionStore interface {
	Create(ctx context.Context, v *models.ImageVersion) error
	Current(ctx context.Context) (*models.ImageVersion, error)
	SetCurrent(ctx context.Context, version string) error
}
