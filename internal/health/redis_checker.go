package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/frostguard/lora-emulator/internal/storage/redis"
)

// RedisChecker Redis（操作员锁）检查器，附带当前持有中的锁数量
type RedisChecker struct {
	client      *redisstorage.Client
	lockPattern string
}

// NewRedisChecker 创建检查器；lockPattern 为空时不统计锁
func NewRedisChecker(client *redisstorage.Client, lockPattern string) *RedisChecker {
	return &RedisChecker{client: client, lockPattern: lockPattern}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string {
	return CheckRedis
}

// Check 执行健康检查
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.client.HealthCheck(ctx); err != nil {
		return failed(start, "ping", err)
	}

	stats := c.client.Stats()
	utilization := 0.0
	if stats.TotalConns > 0 {
		utilization = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}

	status, message := StatusHealthy, "ok"
	if utilization > 0.9 {
		status, message = StatusDegraded, "connection pool near limit"
	}

	details := map[string]interface{}{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
		"utilization": fmt.Sprintf("%.1f%%", utilization*100),
	}
	if c.lockPattern != "" {
		n, err := c.client.CountKeys(ctx, c.lockPattern)
		if err != nil {
			details["lock_scan_error"] = err.Error()
		} else {
			details["active_locks"] = n
		}
	}

	return CheckResult{Status: status, Message: message, Details: details, Latency: time.Since(start)}
}
