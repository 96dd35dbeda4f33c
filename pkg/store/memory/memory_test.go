package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/store"
)

func TestUserStore_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore()

	require.NoError(t, s.Create(ctx, &models.User{UserID: "u1", Username: "ada"}))
	err := s.Create(ctx, &models.User{UserID: "u2", Username: "ada"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestThreadStore_ListByUserPagination(t *testing.T) {
	ctx := context.Background()
	s := NewThreadStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, &models.Thread{ThreadID: string(rune('a' + i)), UserID: "u1"}))
	}
	require.NoError(t, s.Create(ctx, &models.Thread{ThreadID: "other", UserID: "u2"}))

	page, total, err := s.ListByUser(ctx, "u1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	_, _, total, err2 := func() ([]*models.Thread, int, int, error) {
		p, tot, e := s.ListByUser(ctx, "u1", 0, 10)
		return p, 0, tot, e
	}()
	require.NoError(t, err2)
	assert.Equal(t, 4, total)
}

func TestSkillStore_ApprovalFiltering(t *testing.T) {
	ctx := context.Background()
	s := NewSkillStore()

	require.NoError(t, s.Create(ctx, &models.Skill{SkillID: "s1", Name: "deploy", Status: models.SkillStatusPending}))
	require.NoError(t, s.Create(ctx, &models.Skill{SkillID: "s2", Name: "rollback", Status: models.SkillStatusApproved}))

	approved, err := s.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "s2", approved[0].SkillID)

	dup := s.Create(ctx, &models.Skill{SkillID: "s3", Name: "deploy"})
	assert.ErrorIs(t, dup, store.ErrDuplicate)
}

func TestImageVersionStore_SetCurrentSwitchesFlag(t *testing.T) {
	ctx := context.Background()
	s := NewImageVersionStore()

	require.NoError(t, s.Create(ctx, &models.ImageVersion{Version: "v1", IsCurrent: true}))
	require.NoError(t, s.Create(ctx, &models.ImageVersion{Version: "v2"}))

	require.NoError(t, s.SetCurrent(ctx, "v2"))
	cur, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.Version)

	err = s.SetCurrent(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
