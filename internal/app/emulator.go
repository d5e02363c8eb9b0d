package app

import (
	"context"

	"go.uber.org/zap"

	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/emulator"
	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/metrics"
	"github.com/frostguard/lora-emulator/internal/platform"
)

// NewPlatformClient FrostGuard 平台客户端；密钥缺失不阻止启动，在首次调用时报 CONFIG_MISSING
func NewPlatformClient(cfg *cfgpkg.Config, log *zap.Logger, m *metrics.AppMetrics) *platform.Client {
	if err := cfg.RequireSecrets(cfgpkg.SecretPlatformBaseURL, cfgpkg.SecretSyncAPIKey); err != nil {
		log.Warn("platform secrets incomplete, pull/push will fail until configured", zap.Error(err))
	}
	return platform.NewClient(platform.Config{
		BaseURL:       cfg.Platform.BaseURL,
		APIKey:        cfg.Platform.SyncAPIKey,
		SigningSecret: cfg.Platform.SigningSecret,
		Timeout:       cfg.Platform.Timeout,
		Retries:       cfg.Platform.PushRetries,
	}, nil, log, m)
}

// NewController 创建控制器并从本地快照恢复会话
func NewController(ctx context.Context, cfg *cfgpkg.Config, api emulator.PlatformAPI, store emulator.KVStore, log *zap.Logger, m *metrics.AppMetrics) (*emulator.Controller, error) {
	ctrl := emulator.NewController(api, store, emulator.Options{
		FreshnessWindow: cfg.Session.FreshnessWindow,
		BackfillTimeout: cfg.Platform.BackfillAfter,
		Logger:          log,
		Metrics:         m,
	})
	restored, err := ctrl.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if restored {
		st := ctrl.State()
		orgID := ""
		if st.Org != nil {
			orgID = st.Org.OrgID
		}
		log.Info("session restored",
			zap.String("org_id", orgID),
			zap.Int("devices", len(st.Devices)),
			zap.Int("gateways", len(st.Gateways)),
			zap.String("retry_phase", string(st.Retry.Phase)))
	}
	return ctrl, nil
}

// LoadHintCatalog 用文件中的提示覆盖内置提示；失败时保留内置表
func LoadHintCatalog(path string, log *zap.Logger) {
	if path == "" {
		return
	}
	override, err := envelope.LoadHintCatalog(path)
	if err != nil {
		log.Warn("hint catalog not loaded, using built-in hints", zap.String("path", path), zap.Error(err))
		return
	}
	c := envelope.DefaultHintCatalog()
	c.Merge(override)
	envelope.UseHintCatalog(c)
	log.Info("hint catalog loaded", zap.String("path", path), zap.Int("codes", len(override.Codes)))
}
