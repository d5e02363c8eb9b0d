// Package emulator 模拟器会话状态：组织上下文、网关/设备列表、同步重试状态机
package emulator

import (
	"time"

	"github.com/frostguard/lora-emulator/internal/eui"
)

// DeviceType 传感器类型
type DeviceType string

const (
	DeviceTemperature DeviceType = "temperature"
	DeviceDoor        DeviceType = "door"
)

// ParseDeviceType 未知类型按温湿度处理
func ParseDeviceType(s string) DeviceType {
	if DeviceType(s) == DeviceDoor {
		return DeviceDoor
	}
	return DeviceTemperature
}

// CredentialSource OTAA 凭证来源
type CredentialSource string

const (
	CredentialPlatformPull      CredentialSource = "platform_pull"
	CredentialPlatformGenerated CredentialSource = "platform_generated"
	CredentialLocalGenerated    CredentialSource = "local_generated"
	CredentialManualOverride    CredentialSource = "manual_override"
)

// Device 模拟终端设备
type Device struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	DevEUI            string           `json:"dev_eui"`
	JoinEUI           string           `json:"join_eui,omitempty"`
	AppKey            string           `json:"app_key,omitempty"`
	Type              DeviceType       `json:"type"`
	GatewayID         string           `json:"gateway_id,omitempty"`
	SiteID            string           `json:"site_id,omitempty"`
	UnitID            string           `json:"unit_id,omitempty"`
	TTNDeviceID       string           `json:"ttn_device_id,omitempty"`
	CredentialSource  CredentialSource `json:"credential_source,omitempty"`
	CredentialsLocked bool             `json:"credentials_locked"`
}

// HasOTAACredentials 是否同时具备 JoinEUI 与 AppKey
func (d Device) HasOTAACredentials() bool {
	return d.JoinEUI != "" && d.AppKey != ""
}

// RegistryID 设备在 TTN 的 ID；旧的 eui-{eui} 格式读取时升级
func (d Device) RegistryID() string {
	if d.TTNDeviceID != "" {
		id, _ := eui.UpgradeLegacyID(d.TTNDeviceID)
		return id
	}
	id, _ := eui.DeviceRegistryID(d.DevEUI)
	return id
}

// Gateway 模拟网关
type Gateway struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	EUI      string `json:"eui"`
	IsOnline bool   `json:"is_online"`
}

// Site 组织下的站点
type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// TTNContext 组织集成配置摘要（密钥只保留指纹）
type TTNContext struct {
	Enabled            bool   `json:"enabled"`
	ApplicationID      string `json:"application_id"`
	Cluster            string `json:"cluster"`
	APIKeyLast4        string `json:"api_key_last4,omitempty"`
	WebhookSecretLast4 string `json:"webhook_secret_last4,omitempty"`
}

// OrgContext 当前选中的租户上下文
type OrgContext struct {
	OrgID           string      `json:"org_id"`
	OrgName         string      `json:"org_name"`
	SiteID          string      `json:"site_id,omitempty"`
	SelectedUserID  string      `json:"selected_user_id,omitempty"`
	TTN             *TTNContext `json:"ttn,omitempty"`
	ContextSetAt    time.Time   `json:"context_set_at"`
	LastSyncRunID   string      `json:"last_sync_run_id,omitempty"`
	LastSyncSummary string      `json:"last_sync_summary,omitempty"`
	LastSyncVersion int64       `json:"last_sync_version"`
	LastSyncAt      *time.Time  `json:"last_sync_at,omitempty"`
}

// State 控制器持有的完整会话状态
type State struct {
	Org      *OrgContext `json:"org,omitempty"`
	Sites    []Site      `json:"sites"`
	Gateways []Gateway   `json:"gateways"`
	Devices  []Device    `json:"devices"`
	Retry    RetryState  `json:"retry"`
	LastDiff *Diff       `json:"last_diff,omitempty"`
}

func (s State) clone() State {
	out := State{
		Sites:    append([]Site(nil), s.Sites...),
		Gateways: append([]Gateway(nil), s.Gateways...),
		Devices:  append([]Device(nil), s.Devices...),
		Retry:    s.Retry,
	}
	if s.Org != nil {
		org := *s.Org
		if s.Org.TTN != nil {
			ttn := *s.Org.TTN
			org.TTN = &ttn
		}
		out.Org = &org
	}
	if s.LastDiff != nil {
		d := *s.LastDiff
		out.LastDiff = &d
	}
	return out
}
