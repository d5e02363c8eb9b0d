package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标；所有记录方法允许 nil 接收者，便于测试中省略
type AppMetrics struct {
	PlatformPullTotal     *prometheus.CounterVec   // labels: result=ok|error
	PlatformPushTotal     *prometheus.CounterVec   // labels: outcome=success|partial|failed|invalid
	PlatformRequestSecs   *prometheus.HistogramVec // labels: op=pull|push|backfill
	TTNStepTotal          *prometheus.CounterVec   // labels: step, result=ok|error
	WebhookIngestTotal    *prometheus.CounterVec   // labels: status
	WebhookWriteFailTotal *prometheus.CounterVec   // labels: target
	BackfillTotal         *prometheus.CounterVec   // labels: result
	OperatorLockTotal     *prometheus.CounterVec   // labels: op, result
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		PlatformPullTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_pull_total",
			Help: "Org-state pulls from the monitoring platform.",
		}, []string{"result"}),
		PlatformPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_push_total",
			Help: "Sync bundle pushes by outcome.",
		}, []string{"outcome"}),
		PlatformRequestSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "platform_request_duration_seconds",
			Help:    "Latency of monitoring platform requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		TTNStepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ttn_step_total",
			Help: "TTN provisioning steps by step name and result.",
		}, []string{"step", "result"}),
		WebhookIngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_ingest_total",
			Help: "Ingested uplinks by response status.",
		}, []string{"status"}),
		WebhookWriteFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_write_failures_total",
			Help: "Best-effort webhook write failures by target.",
		}, []string{"target"}),
		BackfillTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_total",
			Help: "Credential backfill runs by result.",
		}, []string{"result"}),
		OperatorLockTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operator_lock_total",
			Help: "Operator lock operations by op and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(
		m.PlatformPullTotal, m.PlatformPushTotal, m.PlatformRequestSecs,
		m.TTNStepTotal, m.WebhookIngestTotal, m.WebhookWriteFailTotal,
		m.BackfillTotal, m.OperatorLockTotal,
	)
	return m
}

// ObservePlatform 记录一次平台请求耗时
func (m *AppMetrics) ObservePlatform(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.PlatformRequestSecs.WithLabelValues(op).Observe(d.Seconds())
}

// IncPull 记录拉取结果
func (m *AppMetrics) IncPull(result string) {
	if m == nil {
		return
	}
	m.PlatformPullTotal.WithLabelValues(result).Inc()
}

// IncPush 记录推送结果
func (m *AppMetrics) IncPush(outcome string) {
	if m == nil {
		return
	}
	m.PlatformPushTotal.WithLabelValues(outcome).Inc()
}

// IncTTNStep 记录 TTN 单步结果
func (m *AppMetrics) IncTTNStep(step string, ok bool) {
	if m == nil {
		return
	}
	m.TTNStepTotal.WithLabelValues(step, okLabel(ok)).Inc()
}

// IncWebhook 记录 webhook 处理状态
func (m *AppMetrics) IncWebhook(status string) {
	if m == nil {
		return
	}
	m.WebhookIngestTotal.WithLabelValues(status).Inc()
}

// IncWebhookWriteFailure 记录尽力写入失败
func (m *AppMetrics) IncWebhookWriteFailure(target string) {
	if m == nil {
		return
	}
	m.WebhookWriteFailTotal.WithLabelValues(target).Inc()
}

// IncBackfill 记录凭证补全结果
func (m *AppMetrics) IncBackfill(result string) {
	if m == nil {
		return
	}
	m.BackfillTotal.WithLabelValues(result).Inc()
}

// IncLock 记录操作员锁操作
func (m *AppMetrics) IncLock(op string, ok bool) {
	if m == nil {
		return
	}
	m.OperatorLockTotal.WithLabelValues(op, okLabel(ok)).Inc()
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
