package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryLock(now *time.Time) *MemoryLock {
	m := NewMemoryLock(30 * time.Second)
	m.now = func() time.Time { return *now }
	return m
}

func TestMemoryLock_AcquireHeld(t *testing.T) {
	now := time.Now()
	m := newTestMemoryLock(&now)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "org-1", "alice", false)
	require.NoError(t, err)
	require.NotEmpty(t, a.Token)

	cur, err := m.Acquire(ctx, "org-1", "bob", false)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NotNil(t, cur)
	assert.Equal(t, "alice", cur.Holder)
	assert.Empty(t, cur.Token)

	again, err := m.Acquire(ctx, "org-1", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, a.Token, again.Token)
}

func TestMemoryLock_StaleReclaim(t *testing.T) {
	now := time.Now()
	m := newTestMemoryLock(&now)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "org-1", "alice", false)
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	_, err = m.Heartbeat(ctx, "org-1", a.Token)
	require.NoError(t, err)

	now = now.Add(29 * time.Second)
	_, err = m.Acquire(ctx, "org-1", "bob", false)
	assert.ErrorIs(t, err, ErrLockHeld)

	now = now.Add(time.Second)
	b, err := m.Acquire(ctx, "org-1", "bob", false)
	require.NoError(t, err)
	assert.Equal(t, "bob", b.Holder)

	_, err = m.Heartbeat(ctx, "org-1", a.Token)
	assert.ErrorIs(t, err, ErrLockLost)
}

func TestMemoryLock_ForceTakeover(t *testing.T) {
	now := time.Now()
	m := newTestMemoryLock(&now)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "org-1", "alice", false)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "org-1", "bob", true)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	assert.ErrorIs(t, m.Release(ctx, "org-1", a.Token), ErrLockLost)
	require.NoError(t, m.Release(ctx, "org-1", b.Token))
	require.NoError(t, m.Release(ctx, "org-1", b.Token))

	cur, err := m.Current(ctx, "org-1")
	require.NoError(t, err)
	assert.Nil(t, cur)
}
