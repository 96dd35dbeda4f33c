package sqlitecheckpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/checkpoint"
)

func TestStore_PutGetDeleteExists(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrKVNotFound)

	ok, err := s.Exists(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "t1", []byte(`{"thread_id":"t1"}`)))

	ok, err = s.Exists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"thread_id":"t1"}`, string(got))

	require.NoError(t, s.Put(ctx, "t1", []byte(`{"thread_id":"t1","messages":[{"role":"user","content":"hi"}]}`)))
	got, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"thread_id":"t1","messages":[{"role":"user","content":"hi"}]}`, string(got))

	require.NoError(t, s.Delete(ctx, "t1"))
	ok, err = s.Exists(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListThreadIDsWithPrefix(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "validation_skill1", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "validation_skill2", []byte(`{}`)))
	require.NoError(t, s.Put(ctx, "user1-abc", []byte(`{}`)))

	ids, err := s.ListThreadIDsWithPrefix(ctx, "validation_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"validation_skill1", "validation_skill2"}, ids)
}
