package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/metrics"
)

// Redis Key设计
const (
	// emulator:lock:{orgID} -> Hash{token, holder, acquired_at, heartbeat_at}
	keyLockPrefix = "emulator:lock:"

	// LockKeyPattern 匹配全部操作员锁的键，供健康检查统计
	LockKeyPattern = keyLockPrefix + "*"
)

// 返回值：0 被占用，1 新获取，2 同一持有者续期
var acquireScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'token')
if cur and ARGV[5] ~= '1' then
  if redis.call('HGET', KEYS[1], 'holder') ~= ARGV[2] then
    return 0
  end
  redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
  return 2
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'holder', ARGV[2], 'acquired_at', ARGV[3], 'heartbeat_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var heartbeatScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// 返回值：0 令牌不匹配，1 已删除，2 锁不存在
var releaseScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'token')
if not cur then
  return 2
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisLock Redis版本的操作员锁，支持多实例部署。
// 陈旧锁依赖 key 的过期时间（= 心跳超时）自动回收。
type RedisLock struct {
	client  *redis.Client
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.AppMetrics
}

// NewRedisLock 创建Redis锁
func NewRedisLock(client *redis.Client, timeout time.Duration, logger *zap.Logger, m *metrics.AppMetrics) *RedisLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLock{client: client, timeout: timeout, logger: logger, metrics: m}
}

// Acquire 获取锁
func (l *RedisLock) Acquire(ctx context.Context, orgID, holder string, force bool) (*LockInfo, error) {
	token := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	forceArg := "0"
	if force {
		forceArg = "1"
	}
	res, err := acquireScript.Run(ctx, l.client, []string{lockKey(orgID)},
		token, holder, now, l.timeout.Milliseconds(), forceArg).Int()
	if err != nil {
		l.metrics.IncLock("acquire", false)
		return nil, err
	}

	info, err := l.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if res == 0 {
		l.metrics.IncLock("acquire", false)
		if info == nil {
			return nil, ErrLockHeld
		}
		pub := info.Public()
		return &pub, ErrLockHeld
	}
	if info == nil {
		// 极端情况下刚写入即过期
		return nil, ErrLockLost
	}
	if force && res == 1 {
		l.logger.Warn("emulator lock taken over", zap.String("org_id", orgID), zap.String("holder", holder))
	}
	l.metrics.IncLock("acquire", true)
	return info, nil
}

// Heartbeat 续期
func (l *RedisLock) Heartbeat(ctx context.Context, orgID, token string) (*LockInfo, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := heartbeatScript.Run(ctx, l.client, []string{lockKey(orgID)}, token, now, l.timeout.Milliseconds()).Int()
	if err != nil {
		l.metrics.IncLock("heartbeat", false)
		return nil, err
	}
	if res == 0 {
		l.metrics.IncLock("heartbeat", false)
		return nil, ErrLockLost
	}
	l.metrics.IncLock("heartbeat", true)
	return l.load(ctx, orgID)
}

// Release 释放
func (l *RedisLock) Release(ctx context.Context, orgID, token string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{lockKey(orgID)}, token).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		l.metrics.IncLock("release", false)
		return ErrLockLost
	}
	l.metrics.IncLock("release", true)
	return nil
}

// Current 当前持有者（不含令牌）
func (l *RedisLock) Current(ctx context.Context, orgID string) (*LockInfo, error) {
	info, err := l.load(ctx, orgID)
	if err != nil || info == nil {
		return nil, err
	}
	pub := info.Public()
	return &pub, nil
}

// --- 辅助方法 ---

func (l *RedisLock) load(ctx context.Context, orgID string) (*LockInfo, error) {
	vals, err := l.client.HGetAll(ctx, lockKey(orgID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &LockInfo{
		OrgID:       orgID,
		Holder:      vals["holder"],
		Token:       vals["token"],
		AcquiredAt:  parseTime(vals["acquired_at"]),
		HeartbeatAt: parseTime(vals["heartbeat_at"]),
	}, nil
}

func lockKey(orgID string) string {
	return keyLockPrefix + orgID
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// 兼容毫秒时间戳
		if ms, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	return t
}
