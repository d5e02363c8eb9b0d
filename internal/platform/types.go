package platform

import "time"

// Site 组织下的站点
type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Sensor 平台登记的传感器；join_eui/app_key 可能为空
type Sensor struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	DevEUI     string  `json:"dev_eui"`
	JoinEUI    *string `json:"join_eui"`
	AppKey     *string `json:"app_key"`
	SensorType string  `json:"sensor_type"`
	GatewayID  *string `json:"gateway_id"`
	SiteID     *string `json:"site_id"`
	UnitID     *string `json:"unit_id"`
}

// Gateway 平台登记的网关
type Gateway struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	GatewayEUI string  `json:"gateway_eui"`
	IsOnline   bool    `json:"is_online"`
	SiteID     *string `json:"site_id"`
}

// Organization 组织信息
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TTNSummary 集成配置摘要；密钥仅下发后 4 位指纹
type TTNSummary struct {
	Enabled            bool   `json:"enabled"`
	ApplicationID      string `json:"application_id"`
	Cluster            string `json:"cluster"`
	APIKeyLast4        string `json:"api_key_last4,omitempty"`
	WebhookSecretLast4 string `json:"webhook_secret_last4,omitempty"`
}

// Snapshot 组织权威状态快照
type Snapshot struct {
	Sites        []Site       `json:"sites"`
	Sensors      []Sensor     `json:"sensors"`
	Gateways     []Gateway    `json:"gateways"`
	Organization Organization `json:"organization"`
	TTN          *TTNSummary  `json:"ttn,omitempty"`
	SyncVersion  int64        `json:"sync_version"`
	RequestID    string       `json:"request_id,omitempty"`
}

// SyncContext 推送上下文
type SyncContext struct {
	OrgID          string `json:"org_id"`
	SiteID         string `json:"site_id,omitempty"`
	SelectedUserID string `json:"selected_user_id,omitempty"`
}

// BundleGateway 推送的网关实体
type BundleGateway struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	GatewayEUI string `json:"gateway_eui"`
	IsOnline   bool   `json:"is_online"`
}

// BundleDevice 推送的设备实体
type BundleDevice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DevEUI     string `json:"dev_eui"`
	JoinEUI    string `json:"join_eui,omitempty"`
	AppKey     string `json:"app_key,omitempty"`
	SensorType string `json:"sensor_type"`
	GatewayID  string `json:"gateway_id,omitempty"`
	SiteID     string `json:"site_id,omitempty"`
	UnitID     string `json:"unit_id,omitempty"`
}

// SyncEntities 推送实体集合
type SyncEntities struct {
	Gateways []BundleGateway `json:"gateways"`
	Devices  []BundleDevice  `json:"devices"`
}

// SyncBundle 推送请求体；SyncRunID 为幂等键，同一次逻辑尝试的重试复用
type SyncBundle struct {
	SyncRunID   string       `json:"sync_run_id"`
	InitiatedAt time.Time    `json:"initiated_at"`
	Context     SyncContext  `json:"context"`
	Entities    SyncEntities `json:"entities"`
}

// EntityError 单个实体的失败原因
type EntityError struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// EntityResult 某类实体的同步结果
type EntityResult struct {
	Synced int           `json:"synced"`
	Failed int           `json:"failed"`
	Errors []EntityError `json:"errors,omitempty"`
}

// Response shapes accepted from the sync endpoint.
const (
	ShapeResults = "results" // {ok, results:{gateways, devices}, summary, method}
	ShapeCounts  = "counts"  // {ok, created, updated}
	ShapeLegacy  = "legacy"  // {success, synced}
	ShapeBare    = "bare"    // {ok, error}
)

// PushResponse 归一化后的推送响应，调用方无需区分远端格式
type PushResponse struct {
	OK        bool          `json:"ok"`
	Shape     string        `json:"shape"`
	Gateways  *EntityResult `json:"gateways,omitempty"`
	Devices   *EntityResult `json:"devices,omitempty"`
	Aggregate EntityResult  `json:"aggregate"`
	Summary   string        `json:"summary,omitempty"`
	Method    string        `json:"method,omitempty"`
	Error     string        `json:"error,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// HasEntityDetail 是否携带按实体类别的明细
func (r PushResponse) HasEntityDetail() bool {
	return r.Gateways != nil || r.Devices != nil
}

// BackfillDevice 待补全凭证的设备
type BackfillDevice struct {
	ID     string `json:"id"`
	DevEUI string `json:"devEui"`
}

// BackfillResult 平台生成的凭证
type BackfillResult struct {
	ID      string `json:"id"`
	JoinEUI string `json:"joinEui"`
	AppKey  string `json:"appKey"`
}
