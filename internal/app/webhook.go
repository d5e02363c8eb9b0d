package app

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/metrics"
	pgstorage "github.com/frostguard/lora-emulator/internal/storage/pg"
	"github.com/frostguard/lora-emulator/internal/webhook"
)

// NewIngestor 创建 webhook 入库器；配置了 NATS 时附带事件扇出。
// NATS 连不上只记录告警，webhook 仍然可用
func NewIngestor(cfg *cfgpkg.Config, repo *pgstorage.Repository, log *zap.Logger, m *metrics.AppMetrics) (*webhook.Ingestor, *nats.Conn) {
	opts := webhook.Options{
		DirectSecret: cfg.Webhook.DirectSecret,
		Logger:       log,
		Metrics:      m,
	}

	nc, err := webhook.ConnectNATS(cfg.NATS, log)
	switch {
	case err != nil:
		log.Warn("nats unavailable, uplink fan-out disabled", zap.Error(err))
	case nc != nil:
		opts.Publisher = webhook.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
		log.Info("uplink fan-out enabled", zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}
	if cfg.Webhook.DirectSecret == "" {
		log.Warn("webhook direct secret not set, direct uplinks without an application are accepted unauthenticated")
	}
	return webhook.NewIngestor(repo, opts), nc
}
