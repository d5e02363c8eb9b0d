package session

import (
	"context"
	"errors"
	"time"
)

// DefaultLockTimeout 心跳超时，超过即视为陈旧锁
const DefaultLockTimeout = 30 * time.Second

var (
	// ErrLockHeld 锁被其他操作员持有
	ErrLockHeld = errors.New("emulator lock held by another operator")
	// ErrLockLost 令牌不再匹配（被接管或已过期）
	ErrLockLost = errors.New("emulator lock lost")
)

// LockInfo 操作员锁信息
type LockInfo struct {
	OrgID       string    `json:"org_id"`
	Holder      string    `json:"holder"`
	Token       string    `json:"token,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// Stale 最近一次心跳是否已超时
func (l LockInfo) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(l.HeartbeatAt) >= timeout
}

// Public 去掉令牌后的副本，用于展示给其他操作员
func (l LockInfo) Public() LockInfo {
	l.Token = ""
	return l
}

// LockManager 组织级的建议锁，支持内存和Redis两种实现。
// 只是协作约定，数据层并不阻止绕过锁的写入。
type LockManager interface {
	// Acquire 获取锁；同一 holder 重复获取视为续期，force 强制接管。
	// 被占用时返回 ErrLockHeld 以及当前持有者信息（不含令牌）
	Acquire(ctx context.Context, orgID, holder string, force bool) (*LockInfo, error)

	// Heartbeat 续期；令牌不匹配返回 ErrLockLost
	Heartbeat(ctx context.Context, orgID, token string) (*LockInfo, error)

	// Release 释放；锁不存在视为成功，令牌不匹配返回 ErrLockLost
	Release(ctx context.Context, orgID, token string) error

	// Current 当前持有者，无锁时返回 nil
	Current(ctx context.Context, orgID string) (*LockInfo, error)
}
