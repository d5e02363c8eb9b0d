package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 本地存储键
const (
	KeySessionSnapshot = "session_snapshot"
	KeyOfflineCache    = "offline_cache"
)

// SnapshotSchemaVersion 当前快照结构版本
const SnapshotSchemaVersion = 1

// DefaultFreshnessWindow 会话快照有效期
const DefaultFreshnessWindow = time.Hour

var (
	ErrSnapshotExpired = errors.New("session snapshot expired")
	ErrSnapshotVersion = errors.New("session snapshot schema version unsupported")
)

// KVStore 本地键值存储（替代浏览器 local storage）
type KVStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// SessionSnapshot 持久化的会话快照
type SessionSnapshot struct {
	SchemaVersion int         `json:"schema_version"`
	SavedAt       time.Time   `json:"saved_at"`
	Org           *OrgContext `json:"org"`
	Sites         []Site      `json:"sites"`
	Gateways      []Gateway   `json:"gateways"`
	Devices       []Device    `json:"devices"`
	Retry         RetryState  `json:"retry"`
}

// OfflineCache 未同步的本地编辑
type OfflineCache struct {
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	OrgID         string    `json:"org_id"`
	Gateways      []Gateway `json:"gateways"`
	Devices       []Device  `json:"devices"`
}

// EncodeSnapshot 序列化当前状态
func EncodeSnapshot(s State, savedAt time.Time) ([]byte, error) {
	return json.Marshal(SessionSnapshot{
		SchemaVersion: SnapshotSchemaVersion,
		SavedAt:       savedAt.UTC(),
		Org:           s.Org,
		Sites:         s.Sites,
		Gateways:      s.Gateways,
		Devices:       s.Devices,
		Retry:         s.Retry,
	})
}

// DecodeSnapshot 反序列化并检查有效期；age >= window 视为过期（边界不含）
func DecodeSnapshot(b []byte, now time.Time, window time.Duration) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.SchemaVersion)
	}
	if Expired(snap.SavedAt, now, window) {
		return nil, ErrSnapshotExpired
	}
	upgradeDeviceIDs(snap.Devices)
	return &snap, nil
}

// Expired 快照是否超出有效期
func Expired(savedAt, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return now.Sub(savedAt) >= window
}

// EncodeOfflineCache 序列化离线缓存
func EncodeOfflineCache(orgID string, gateways []Gateway, devices []Device, savedAt time.Time) ([]byte, error) {
	return json.Marshal(OfflineCache{
		SchemaVersion: SnapshotSchemaVersion,
		SavedAt:       savedAt.UTC(),
		OrgID:         orgID,
		Gateways:      gateways,
		Devices:       devices,
	})
}

// DecodeOfflineCache 反序列化离线缓存
func DecodeOfflineCache(b []byte) (*OfflineCache, error) {
	var c OfflineCache
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode offline cache: %w", err)
	}
	if c.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, c.SchemaVersion)
	}
	upgradeDeviceIDs(c.Devices)
	return &c, nil
}

func upgradeDeviceIDs(ds []Device) {
	for i := range ds {
		if ds[i].TTNDeviceID != "" {
			ds[i].TTNDeviceID = ds[i].RegistryID()
		}
	}
}
