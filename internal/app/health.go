package app

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/frostguard/lora-emulator/internal/emulator"
	"github.com/frostguard/lora-emulator/internal/health"
	"github.com/frostguard/lora-emulator/internal/session"
	redisstorage "github.com/frostguard/lora-emulator/internal/storage/redis"
)

// NewHealthAggregator 创建健康检查聚合器：数据库与本地会话存储为必需依赖
func NewHealthAggregator(dbpool *pgxpool.Pool, store health.LocalStore) *health.Aggregator {
	return health.NewAggregator(
		health.NewDatabaseChecker(dbpool),
		health.NewSQLiteChecker(store, emulator.KeySessionSnapshot),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddRedisChecker Redis 只承载操作员锁，故障时降级为进程内锁
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddOptional(health.NewRedisChecker(redisClient, session.LockKeyPattern))
	}
}

// AddNATSChecker 上行扇出为尽力而为，不影响就绪
func AddNATSChecker(aggregator *health.Aggregator, nc *nats.Conn) {
	if nc != nil {
		aggregator.AddOptional(health.NewNATSChecker(nc))
	}
}
