package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/config"
)

// ConnectNATS 连接 NATS；URL 为空时返回 (nil, nil)，表示不启用扇出
func ConnectNATS(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("frostguard-emulator"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NATSPublisher 将上行事件发布到 {prefix}.{org_id}，未分配的发布到 {prefix}.unassigned
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher 创建发布器
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "frostguard.uplink"
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject 事件主题
func (p *NATSPublisher) Subject(ev *Event) string {
	org := ev.OrgID
	if org == "" {
		org = "unassigned"
	}
	// 主题分隔符与通配符不能出现在 token 中
	org = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(org)
	return p.prefix + "." + org
}

// Publish 发布事件；连接断开时由 nats 客户端缓冲或返回错误
func (p *NATSPublisher) Publish(_ context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev), data)
}

// Close 刷新缓冲并关闭连接
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}
