package health

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSChecker 上行扇出连接检查器
type NATSChecker struct {
	nc *nats.Conn
}

// NewNATSChecker 创建检查器
func NewNATSChecker(nc *nats.Conn) *NATSChecker {
	return &NATSChecker{nc: nc}
}

// Name 检查器名称
func (c *NATSChecker) Name() string { return CheckNATS }

// Check 只看连接状态，不做往返
func (c *NATSChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	status := c.nc.Status()
	details := map[string]interface{}{
		"state":      status.String(),
		"reconnects": c.nc.Stats().Reconnects,
		"out_msgs":   c.nc.Stats().OutMsgs,
	}
	if url := c.nc.ConnectedUrlRedacted(); url != "" {
		details["server"] = url
	}

	switch status {
	case nats.CONNECTED:
		return CheckResult{Status: StatusHealthy, Message: "ok", Details: details, Latency: time.Since(start)}
	case nats.RECONNECTING, nats.CONNECTING:
		return CheckResult{Status: StatusDegraded, Message: "reconnecting", Details: details, Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusUnhealthy, Message: "connection " + status.String(), Details: details, Latency: time.Since(start)}
}
