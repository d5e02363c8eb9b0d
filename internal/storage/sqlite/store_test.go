package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostguard/lora-emulator/internal/emulator"
)

var _ emulator.KVStore = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.Get(ctx, emulator.KeySessionSnapshot)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, emulator.KeySessionSnapshot, []byte(`{"a":1}`)))
	require.NoError(t, s.Put(ctx, emulator.KeySessionSnapshot, []byte(`{"a":2}`)))
	v, ok, err := s.Get(ctx, emulator.KeySessionSnapshot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":2}`, string(v))

	at, err := s.UpdatedAt(ctx, emulator.KeySessionSnapshot)
	require.NoError(t, err)
	assert.NotNil(t, at)

	require.NoError(t, s.Delete(ctx, emulator.KeySessionSnapshot))
	require.NoError(t, s.Delete(ctx, emulator.KeySessionSnapshot))
	_, ok, err = s.Get(ctx, emulator.KeySessionSnapshot)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, emulator.KeyOfflineCache, []byte("x")))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get(ctx, emulator.KeyOfflineCache)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", string(v))
	assert.NoError(t, s2.Ping(ctx))
}
