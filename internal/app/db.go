package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/migrate"
	pgstorage "github.com/frostguard/lora-emulator/internal/storage/pg"
)

// ConnectDBAndMigrate 建立数据库连接并按需执行迁移
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	if cfg.AutoMigrate {
		dir := cfg.MigrationsDir
		if dir == "" {
			dir = "db/migrations"
		}
		if err = (migrate.Runner{Dir: dir, Logger: log}).Up(ctx, dbpool); err != nil {
			log.Error("db migrate error", zap.String("dir", dir), zap.Error(err))
			return dbpool, err
		}
		log.Info("db migrations applied", zap.String("dir", dir))
	}
	return dbpool, nil
}
