package health

import (
	"context"
	"fmt"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // 可选依赖异常或快照过旧，仍可服务
	StatusUnhealthy Status = "unhealthy"
)

// 检查器名称，同时作为 /health 报告里 checks 的键
const (
	CheckDatabase = "database" // webhook 入库与集成配置
	CheckSQLite   = "sqlite"   // 本地会话快照
	CheckRedis    = "redis"    // 操作员锁
	CheckNATS     = "nats"     // 上行扇出
)

// CheckResult 健康检查结果
type CheckResult struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 健康检查器接口
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// failed 依赖不可达时的统一结果
func failed(start time.Time, what string, err error) CheckResult {
	return CheckResult{
		Status:  StatusUnhealthy,
		Message: fmt.Sprintf("%s failed: %v", what, err),
		Latency: time.Since(start),
	}
}
