package health

import (
	"context"
	"sync"
	"time"
)

// defaultCheckTimeout 单个检查的上限，避免一个依赖拖住整个探针
const defaultCheckTimeout = 3 * time.Second

type entry struct {
	checker  Checker
	optional bool
}

// Aggregator 健康检查聚合器
// 可选依赖（Redis 锁、NATS 扇出）不健康时只把整体降级，不影响就绪
type Aggregator struct {
	mu      sync.RWMutex
	entries []entry
	timeout time.Duration
}

// NewAggregator 创建聚合器，传入的检查器均为必需依赖
func NewAggregator(checkers ...Checker) *Aggregator {
	a := &Aggregator{timeout: defaultCheckTimeout}
	for _, c := range checkers {
		a.entries = append(a.entries, entry{checker: c})
	}
	return a
}

// AddChecker 添加必需检查器
func (a *Aggregator) AddChecker(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry{checker: checker})
}

// AddOptional 添加可选检查器
func (a *Aggregator) AddOptional(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry{checker: checker, optional: true})
}

// CheckAll 并发执行所有检查；可选依赖的 unhealthy 结果记为 degraded
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	entries := append([]entry(nil), a.entries...)
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(entries))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			result := e.checker.Check(cctx)
			if e.optional && result.Status == StatusUnhealthy {
				result.Status = StatusDegraded
				if result.Details == nil {
					result.Details = map[string]interface{}{}
				}
				result.Details["optional"] = true
			}

			resultsMu.Lock()
			results[e.checker.Name()] = result
			resultsMu.Unlock()
		}(e)
	}

	wg.Wait()
	return results
}

// Overall 由一组结果计算总体状态
func Overall(results map[string]CheckResult) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// OverallStatus 执行检查并计算总体状态
func (a *Aggregator) OverallStatus(ctx context.Context) Status {
	return Overall(a.CheckAll(ctx))
}

// Ready 降级仍视为就绪，只有 unhealthy 不就绪
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.OverallStatus(ctx) != StatusUnhealthy
}

// Alive 进程能响应即存活
func (a *Aggregator) Alive() bool {
	return true
}

// HealthReport 健康报告
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Report 执行一次检查并生成报告
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	results := a.CheckAll(ctx)
	return HealthReport{Status: Overall(results), Timestamp: time.Now().UTC(), Checks: results}
}
