package webhook

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/metrics"
	"github.com/frostguard/lora-emulator/internal/storage/pg"
)

// SecretHeader webhook 共享密钥请求头
const SecretHeader = "x-webhook-secret"

// 端口约定
const (
	PortTemperature = 1
	PortDoor        = 2
)

// Status 处理结果
type Status string

const (
	StatusProcessed  Status = "processed"
	StatusPartial    Status = "partial"
	StatusUnassigned Status = "unassigned"
	StatusRejected   Status = "rejected"
	StatusError      Status = "error"
)

// Resolution 归属来源
type Resolution string

const (
	ResolvedBySensor      Resolution = "sensor"
	ResolvedByApplication Resolution = "application"
	ResolvedByPayload     Resolution = "payload_hint"
	Unresolved            Resolution = "unassigned"
	// Unverified 应用映射查询失败，密钥无法校验；仅留原始记录，不更新状态
	Unverified Resolution = "unverified"
)

// Store 入库所需的存储能力，由 pg.Repository 实现
type Store interface {
	SensorByEUI(ctx context.Context, devEUI string) (*pg.Sensor, error)
	ApplicationByID(ctx context.Context, applicationID string) (*pg.Application, error)
	InsertUplink(ctx context.Context, u *pg.UplinkRecord) (int64, error)
	UpsertSensorState(ctx context.Context, s *pg.SensorState) error
	InsertReading(ctx context.Context, r *pg.Reading) error
	InsertDoorEvent(ctx context.Context, ev *pg.DoorEvent) error
}

var _ Store = (*pg.Repository)(nil)

// Publisher 上行事件扇出（可选）
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Event 扇出的上行事件
type Event struct {
	DevEUI      string     `json:"dev_eui"`
	Status      Status     `json:"status"`
	Resolution  Resolution `json:"resolution"`
	OrgID       string     `json:"org_id,omitempty"`
	SiteID      string     `json:"site_id,omitempty"`
	UnitID      string     `json:"unit_id,omitempty"`
	SensorID    string     `json:"sensor_id,omitempty"`
	HistoryID   int64      `json:"history_id"`
	FPort       *int       `json:"f_port,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Humidity    *float64   `json:"humidity,omitempty"`
	Door        DoorState  `json:"door_state,omitempty"`
	Battery     *float64   `json:"battery,omitempty"`
	RSSI        *float64   `json:"rssi,omitempty"`
	SNR         *float64   `json:"snr,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}

// Body webhook 响应体
type Body struct {
	OK         bool          `json:"ok"`
	Status     Status        `json:"status"`
	DevEUI     string        `json:"dev_eui,omitempty"`
	OrgID      string        `json:"org_id,omitempty"`
	SensorID   string        `json:"sensor_id,omitempty"`
	Resolution Resolution    `json:"resolution,omitempty"`
	HistoryID  int64         `json:"history_id,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	ErrorCode  envelope.Code `json:"error_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Hint       string        `json:"hint,omitempty"`
}

// Response ingest 的返回：HTTP 状态码与响应体
type Response struct {
	HTTPStatus int
	Body       Body
}

// Options 可选依赖
type Options struct {
	// DirectSecret 直推形态且未匹配到 application 时要求的密钥，为空则不要求
	DirectSecret string
	Publisher    Publisher
	Logger       *zap.Logger
	Metrics      *metrics.AppMetrics
	Now          func() time.Time
}

// Ingestor webhook 入库器
type Ingestor struct {
	store        Store
	directSecret string
	pub          Publisher
	log          *zap.Logger
	metrics      *metrics.AppMetrics
	now          func() time.Time
}

// NewIngestor 创建入库器
func NewIngestor(store Store, opts Options) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingestor{
		store:        store,
		directSecret: opts.DirectSecret,
		pub:          opts.Publisher,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
}

// VerifySecret required 为空时直接通过；缺失与不匹配是两种不同的认证失败
func VerifySecret(required, provided string) error {
	if required == "" {
		return nil
	}
	if strings.TrimSpace(provided) == "" {
		return envelope.New(envelope.KindAuth, envelope.CodeWebhookSecretMissing, "webhook secret header is required")
	}
	if subtle.ConstantTimeCompare([]byte(required), []byte(provided)) != 1 {
		return envelope.New(envelope.KindAuth, envelope.CodeWebhookSecretInvalid, "webhook secret does not match")
	}
	return nil
}

type target struct {
	resolution Resolution
	orgID      string
	siteID     string
	unitID     string
	sensorID   string
}

// Ingest 处理一条上行：先写历史，再尽力更新当前状态与兼容表
func (i *Ingestor) Ingest(ctx context.Context, raw []byte, headers http.Header) Response {
	up, err := Parse(raw, i.now())
	if err != nil {
		i.metrics.IncWebhook(string(StatusRejected))
		return reject(http.StatusBadRequest, StatusRejected, envelope.New(envelope.KindValidation, envelope.CodeWebhookBadPayload, err.Error()))
	}
	log := i.log.With(zap.String("dev_eui", up.Key()), zap.String("source", string(up.Source)))

	var app *pg.Application
	if up.ApplicationID != "" {
		app, err = i.store.ApplicationByID(ctx, up.ApplicationID)
		if err != nil {
			// 无法确认是否需要密钥，不能放行
			log.Error("application lookup failed", zap.String("application_id", up.ApplicationID), zap.Error(err))
			i.metrics.IncWebhookWriteFailure("application_lookup")
			i.recordUnverified(ctx, log, up, raw)
			i.metrics.IncWebhook(string(StatusError))
			return reject(http.StatusInternalServerError, StatusError, envelope.Wrap(envelope.KindUpstream, envelope.CodeUpstreamError, err))
		}
	}

	required := ""
	switch {
	case app != nil:
		required = app.WebhookSecret
	case up.Source == SourceDirect:
		required = i.directSecret
	}
	if err := VerifySecret(required, headers.Get(SecretHeader)); err != nil {
		e, _ := envelope.As(err)
		log.Warn("webhook secret rejected", zap.String("code", string(e.Code)), zap.String("application_id", up.ApplicationID))
		i.metrics.IncWebhook(string(StatusRejected))
		return reject(http.StatusUnauthorized, StatusRejected, e)
	}

	var warnings []string
	t := i.resolve(ctx, log, up, app, &warnings)
	tel := up.ExtractTelemetry()

	rec := &pg.UplinkRecord{
		DevEUI:        up.Key(),
		OrgID:         strPtr(t.orgID),
		SensorID:      strPtr(t.sensorID),
		ApplicationID: up.ApplicationID,
		FPort:         up.FPort,
		FCnt:          up.FCnt,
		RSSI:          up.RSSI,
		SNR:           up.SNR,
		Resolution:    string(t.resolution),
		Source:        string(up.Source),
		Payload:       raw,
		ReceivedAt:    up.ReceivedAt,
	}
	historyID, err := i.store.InsertUplink(ctx, rec)
	if err != nil {
		log.Error("uplink history write failed", zap.Error(err))
		i.metrics.IncWebhookWriteFailure("uplink_history")
		i.metrics.IncWebhook(string(StatusError))
		return reject(http.StatusInternalServerError, StatusError, envelope.Wrap(envelope.KindUpstream, envelope.CodeWebhookHistoryWrite, err))
	}

	body := Body{
		OK:         true,
		DevEUI:     up.Key(),
		OrgID:      t.orgID,
		SensorID:   t.sensorID,
		Resolution: t.resolution,
		HistoryID:  historyID,
	}
	httpStatus := http.StatusOK
	if t.orgID == "" {
		body.Status = StatusUnassigned
		httpStatus = http.StatusAccepted
		log.Info("uplink recorded without organization", zap.Int64("history_id", historyID))
	} else {
		failed := i.applyState(ctx, log, up, t, tel)
		warnings = append(warnings, failed...)
		body.Status = StatusProcessed
		if len(failed) > 0 {
			body.Status = StatusPartial
		}
	}
	body.Warnings = warnings

	i.publish(ctx, log, &Event{
		DevEUI:      up.Key(),
		Status:      body.Status,
		Resolution:  t.resolution,
		OrgID:       t.orgID,
		SiteID:      t.siteID,
		UnitID:      t.unitID,
		SensorID:    t.sensorID,
		HistoryID:   historyID,
		FPort:       up.FPort,
		Temperature: tel.Temperature,
		Humidity:    tel.Humidity,
		Door:        doorForEvent(tel),
		Battery:     tel.Battery,
		RSSI:        up.RSSI,
		SNR:         up.SNR,
		ReceivedAt:  up.ReceivedAt,
	})

	i.metrics.IncWebhook(string(body.Status))
	return Response{HTTPStatus: httpStatus, Body: body}
}

// resolve 归属顺序：传感器注册表（排除禁用）-> application 映射 -> 载荷自带提示
func (i *Ingestor) resolve(ctx context.Context, log *zap.Logger, up *Uplink, app *pg.Application, warnings *[]string) target {
	if up.DevEUI != "" {
		s, err := i.store.SensorByEUI(ctx, up.DevEUI.String())
		if err != nil {
			log.Warn("sensor lookup failed", zap.Error(err))
			i.metrics.IncWebhookWriteFailure("sensor_lookup")
			*warnings = append(*warnings, "sensor lookup failed")
		} else if s != nil {
			return target{
				resolution: ResolvedBySensor,
				orgID:      s.OrgID,
				siteID:     deref(s.SiteID),
				unitID:     deref(s.UnitID),
				sensorID:   s.ID,
			}
		}
	}
	if app != nil && app.OrgID != "" {
		return target{resolution: ResolvedByApplication, orgID: app.OrgID}
	}
	if up.Hints.OrgID != "" {
		return target{
			resolution: ResolvedByPayload,
			orgID:      up.Hints.OrgID,
			siteID:     up.Hints.SiteID,
			unitID:     up.Hints.UnitID,
		}
	}
	return target{resolution: Unresolved}
}

// applyState 各写入互相独立，失败只记录并继续；返回失败的写入目标
func (i *Ingestor) applyState(ctx context.Context, log *zap.Logger, up *Uplink, t target, tel Telemetry) []string {
	port := 0
	if up.FPort != nil {
		port = *up.FPort
	}
	state := &pg.SensorState{
		DevEUI:   up.Key(),
		OrgID:    t.orgID,
		SensorID: strPtr(t.sensorID),
		Battery:  tel.Battery,
		RSSI:     up.RSSI,
		SNR:      up.SNR,
		FPort:    port,
		LastSeen: up.ReceivedAt,
	}
	switch port {
	case PortTemperature:
		state.Temperature = tel.Temperature
		state.Humidity = tel.Humidity
	case PortDoor:
		if tel.HasDoor {
			d := string(tel.Door)
			state.DoorState = &d
		}
	}

	var failed []string
	write := func(name string, fn func() error) {
		if err := fn(); err != nil {
			log.Warn("uplink write failed", zap.String("target", name), zap.Error(err))
			i.metrics.IncWebhookWriteFailure(name)
			failed = append(failed, name+" write failed")
		}
	}

	write("sensor_state", func() error { return i.store.UpsertSensorState(ctx, state) })
	if port == PortTemperature && (tel.Temperature != nil || tel.Humidity != nil) {
		write("sensor_readings", func() error {
			return i.store.InsertReading(ctx, &pg.Reading{
				DevEUI:      up.Key(),
				OrgID:       t.orgID,
				SensorID:    strPtr(t.sensorID),
				Temperature: tel.Temperature,
				Humidity:    tel.Humidity,
				Battery:     tel.Battery,
				RSSI:        up.RSSI,
				RecordedAt:  up.ReceivedAt,
			})
		})
	}
	if port == PortDoor && tel.HasDoor {
		write("door_events", func() error {
			return i.store.InsertDoorEvent(ctx, &pg.DoorEvent{
				DevEUI:     up.Key(),
				OrgID:      t.orgID,
				SensorID:   strPtr(t.sensorID),
				State:      string(tel.Door),
				RecordedAt: up.ReceivedAt,
			})
		})
	}
	return failed
}

func (i *Ingestor) publish(ctx context.Context, log *zap.Logger, ev *Event) {
	if i.pub == nil {
		return
	}
	if err := i.pub.Publish(ctx, ev); err != nil {
		log.Warn("uplink event publish failed", zap.Error(err))
		i.metrics.IncWebhookWriteFailure("nats")
	}
}

// recordUnverified 无归属地写入原始历史，失败只记日志
func (i *Ingestor) recordUnverified(ctx context.Context, log *zap.Logger, up *Uplink, raw []byte) {
	id, err := i.store.InsertUplink(ctx, &pg.UplinkRecord{
		DevEUI:        up.Key(),
		ApplicationID: up.ApplicationID,
		FPort:         up.FPort,
		FCnt:          up.FCnt,
		RSSI:          up.RSSI,
		SNR:           up.SNR,
		Resolution:    string(Unverified),
		Source:        string(up.Source),
		Payload:       raw,
		ReceivedAt:    up.ReceivedAt,
	})
	if err != nil {
		log.Error("unverified uplink history write failed", zap.Error(err))
		i.metrics.IncWebhookWriteFailure("uplink_history")
		return
	}
	log.Warn("uplink recorded unverified", zap.Int64("history_id", id))
}

func reject(httpStatus int, status Status, e *envelope.Error) Response {
	return Response{
		HTTPStatus: httpStatus,
		Body: Body{
			OK:        false,
			Status:    status,
			ErrorCode: e.Code,
			Error:     e.Message,
			Hint:      e.Hint,
		},
	}
}

func doorForEvent(t Telemetry) DoorState {
	if !t.HasDoor {
		return ""
	}
	return t.Door
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
