package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/metrics"
	"github.com/frostguard/lora-emulator/internal/session"
	redisstorage "github.com/frostguard/lora-emulator/internal/storage/redis"
)

// NewLockManager 构造操作员锁
// 如果Redis客户端可用，多个实例共享锁；否则只在本进程内生效
func NewLockManager(cfg cfgpkg.SessionConfig, redisClient *redisstorage.Client, logger *zap.Logger, m *metrics.AppMetrics) session.LockManager {
	if redisClient != nil {
		logger.Info("using redis operator lock", zap.Duration("timeout", cfg.LockTimeout))
		return session.NewRedisLock(redisClient.Client, cfg.LockTimeout, logger, m)
	}
	logger.Info("using memory operator lock", zap.Duration("timeout", cfg.LockTimeout))
	return session.NewMemoryLock(cfg.LockTimeout)
}
