package health

import (
	"context"
	"fmt"
	"time"
)

// LocalStore 本地会话存储需要暴露的能力
type LocalStore interface {
	Ping(ctx context.Context) error
	UpdatedAt(ctx context.Context, key string) (*time.Time, error)
}

// SQLiteChecker 本地会话存储检查器；同时报告快照的新鲜度
type SQLiteChecker struct {
	store       LocalStore
	snapshotKey string
	now         func() time.Time
}

// NewSQLiteChecker 创建检查器；snapshotKey 为会话快照的键
func NewSQLiteChecker(store LocalStore, snapshotKey string) *SQLiteChecker {
	return &SQLiteChecker{store: store, snapshotKey: snapshotKey, now: time.Now}
}

// Name 检查器名称
func (c *SQLiteChecker) Name() string { return CheckSQLite }

// Check 执行检查
func (c *SQLiteChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.store.Ping(ctx); err != nil {
		return failed(start, "ping", err)
	}

	details := map[string]interface{}{}
	ts, err := c.store.UpdatedAt(ctx, c.snapshotKey)
	switch {
	case err != nil:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("read snapshot metadata: %v", err),
			Latency: time.Since(start),
		}
	case ts == nil:
		details["snapshot"] = "none"
	default:
		details["snapshot_updated_at"] = ts.UTC().Format(time.RFC3339)
		details["snapshot_age"] = c.now().Sub(*ts).Round(time.Second).String()
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: details, Latency: time.Since(start)}
}
