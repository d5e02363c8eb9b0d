package health

import "sync/atomic"

// Readiness 启动阶段的就绪标记：本地存储与数据库都完成初始化后才对外就绪
type Readiness struct {
	storeReady atomic.Bool
	dbReady    atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetStoreReady(v bool) { r.storeReady.Store(v) }
func (r *Readiness) SetDBReady(v bool)    { r.dbReady.Store(v) }

// Ready 所有阶段均已完成
func (r *Readiness) Ready() bool {
	return r.storeReady.Load() && r.dbReady.Load()
}
