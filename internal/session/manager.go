package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLock 单实例内存实现；Redis 不可用时使用
type MemoryLock struct {
	mu      sync.Mutex
	locks   map[string]LockInfo // orgID -> lock
	timeout time.Duration
	now     func() time.Time
}

// NewMemoryLock 创建内存锁
func NewMemoryLock(timeout time.Duration) *MemoryLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &MemoryLock{locks: make(map[string]LockInfo), timeout: timeout, now: time.Now}
}

// Acquire 获取锁，陈旧锁自动回收
func (m *MemoryLock) Acquire(_ context.Context, orgID, holder string, force bool) (*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	if cur, ok := m.locks[orgID]; ok && !cur.Stale(now, m.timeout) && !force {
		if cur.Holder != holder {
			pub := cur.Public()
			return &pub, ErrLockHeld
		}
		cur.HeartbeatAt = now
		m.locks[orgID] = cur
		return &cur, nil
	}

	info := LockInfo{OrgID: orgID, Holder: holder, Token: uuid.NewString(), AcquiredAt: now, HeartbeatAt: now}
	m.locks[orgID] = info
	return &info, nil
}

// Heartbeat 续期
func (m *MemoryLock) Heartbeat(_ context.Context, orgID, token string) (*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cur, ok := m.locks[orgID]
	if !ok || cur.Token != token || cur.Stale(now, m.timeout) {
		return nil, ErrLockLost
	}
	cur.HeartbeatAt = now
	m.locks[orgID] = cur
	return &cur, nil
}

// Release 释放
func (m *MemoryLock) Release(_ context.Context, orgID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[orgID]
	if !ok {
		return nil
	}
	if cur.Token != token {
		return ErrLockLost
	}
	delete(m.locks, orgID)
	return nil
}

// Current 当前持有者
func (m *MemoryLock) Current(_ context.Context, orgID string) (*LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[orgID]
	if !ok || cur.Stale(m.now(), m.timeout) {
		return nil, nil
	}
	pub := cur.Public()
	return &pub, nil
}
