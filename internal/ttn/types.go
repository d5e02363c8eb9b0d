// Package ttn TTN 设备注册编排：跨 Identity/Network/Join/Application 四个服务角色注册设备，
// 以及 OTAA -> ABP 转换。每一步都保留结构化的执行轨迹。
package ttn

import (
	"fmt"
	"strings"

	"github.com/frostguard/lora-emulator/internal/envelope"
)

// 集群 -> 频率计划（固定查表，不支持按设备配置）
var frequencyPlans = map[string]string{
	"eu1":  "EU_863_870_TTN",
	"nam1": "US_902_928_FSB_2",
	"au1":  "AU_915_928_FSB_2",
}

const (
	lorawanVersion = "MAC_V1_0_3"
	phyVersion     = "PHY_V1_0_3_REV_A"
)

// FrequencyPlan 按集群查频率计划
func FrequencyPlan(cluster string) (string, bool) {
	p, ok := frequencyPlans[strings.ToLower(strings.TrimSpace(cluster))]
	return p, ok
}

// Clusters 支持的集群
func Clusters() []string { return []string{"eu1", "nam1", "au1"} }

// Mode 激活方式
type Mode string

const (
	ModeOTAA Mode = "otaa"
	ModeABP  Mode = "abp"
)

// Step 名称
const (
	StepISCreate   = "is_create"
	StepISGet      = "is_get"
	StepISDelete   = "is_delete"
	StepNSRegister = "ns_register"
	StepNSSession  = "ns_session"
	StepNSDelete   = "ns_delete"
	StepJSRegister = "js_register"
	StepASVerify   = "as_verify"
	StepASRepair   = "as_repair"
	StepASReverify = "as_reverify"
	StepASSession  = "as_session"
	StepASDelete   = "as_delete"
	StepVerifyAS   = "verify_as"
)

// DeviceSpec 待注册设备
type DeviceSpec struct {
	DeviceID string `json:"device_id,omitempty"` // 为空时按 DevEUI 推导 sensor-{eui}
	Name     string `json:"name,omitempty"`
	DevEUI   string `json:"dev_eui"`
	JoinEUI  string `json:"join_eui,omitempty"`
	AppKey   string `json:"app_key,omitempty"`
}

// StepResult 单步执行结果；Advisory 步骤失败不阻断后续步骤
type StepResult struct {
	Step       string `json:"step"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	HTTPStatus int    `json:"http_status"`
	OK         bool   `json:"ok"`
	Advisory   bool   `json:"advisory,omitempty"`
	Snippet    string `json:"body_snippet,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ProvisionResult 一台设备的编排结果，永远携带完整步骤轨迹
type ProvisionResult struct {
	DeviceID string        `json:"device_id"`
	DevEUI   string        `json:"dev_eui"`
	Mode     Mode          `json:"mode"`
	OK       bool          `json:"ok"`
	Code     envelope.Code `json:"error_code,omitempty"`
	Message  string        `json:"message,omitempty"`
	Hint     string        `json:"hint,omitempty"`
	DevAddr  string        `json:"dev_addr,omitempty"`
	Steps    []StepResult  `json:"steps"`
}

// Err 失败时转换为 envelope 错误
func (r *ProvisionResult) Err() error {
	if r == nil || r.OK {
		return nil
	}
	kind := envelope.KindUpstream
	switch r.Code {
	case envelope.CodeInvalidEUI, envelope.CodeValidationFailed, envelope.CodeTTNUnknownRegion:
		kind = envelope.KindValidation
	case envelope.CodeUnauthorized:
		kind = envelope.KindAuth
	case envelope.CodeForbidden:
		kind = envelope.KindPermission
	case envelope.CodeNotFound, envelope.CodeTTNDeviceAbsent, envelope.CodeTTNNotVisible:
		kind = envelope.KindNotFound
	case envelope.CodeNetworkError:
		kind = envelope.KindNetwork
	}
	return envelope.New(kind, r.Code, r.Message).WithHint(r.Hint)
}

// LastStep 最后执行的一步
func (r *ProvisionResult) LastStep() *StepResult {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

func (r *ProvisionResult) fail(code envelope.Code, msg string) *ProvisionResult {
	r.OK = false
	r.Code = code
	r.Message = msg
	if r.Hint == "" {
		r.Hint = envelope.HintForCode(code)
	}
	return r
}

// failStep 根据失败步骤的 HTTP 状态生成错误码与提示
func (r *ProvisionResult) failStep(s StepResult) *ProvisionResult {
	if s.HTTPStatus == 0 {
		return r.fail(envelope.CodeNetworkError, fmt.Sprintf("%s: %s", s.Step, s.Error))
	}
	code := envelope.CodeForStatus(s.HTTPStatus)
	if code == envelope.CodeUpstreamError || code == envelope.CodeValidationFailed {
		code = envelope.CodeTTNStepFailed
	}
	r.Hint = envelope.HintForStatus(s.HTTPStatus)
	msg := fmt.Sprintf("%s failed with HTTP %d", s.Step, s.HTTPStatus)
	if s.Snippet != "" {
		msg += ": " + firstLine(s.Snippet)
	}
	return r.fail(code, msg)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

// --- TTN v3 API 载荷 ---

type applicationIDs struct {
	ApplicationID string `json:"application_id"`
}

type endDeviceIDs struct {
	DeviceID       string         `json:"device_id"`
	ApplicationIDs applicationIDs `json:"application_ids"`
	DevEUI         string         `json:"dev_eui,omitempty"`
	JoinEUI        string         `json:"join_eui,omitempty"`
	DevAddr        string         `json:"dev_addr,omitempty"`
}

type keyEnvelope struct {
	Key string `json:"key"`
}

type rootKeys struct {
	AppKey *keyEnvelope `json:"app_key,omitempty"`
}

type sessionKeys struct {
	FNwkSIntKey *keyEnvelope `json:"f_nwk_s_int_key,omitempty"`
	SNwkSIntKey *keyEnvelope `json:"s_nwk_s_int_key,omitempty"`
	NwkSEncKey  *keyEnvelope `json:"nwk_s_enc_key,omitempty"`
	AppSKey     *keyEnvelope `json:"app_s_key,omitempty"`
}

type session struct {
	DevAddr string      `json:"dev_addr"`
	Keys    sessionKeys `json:"keys"`
}

type macSettings struct {
	ResetsFCnt        bool `json:"resets_f_cnt"`
	Supports32BitFCnt bool `json:"supports_32_bit_f_cnt"`
}

type macState struct {
	LoRaWANVersion string `json:"lorawan_version"`
	DeviceClass    string `json:"device_class"`
}

type endDevice struct {
	IDs                      endDeviceIDs `json:"ids"`
	Name                     string       `json:"name,omitempty"`
	NetworkServerAddress     string       `json:"network_server_address,omitempty"`
	ApplicationServerAddress string       `json:"application_server_address,omitempty"`
	JoinServerAddress        string       `json:"join_server_address,omitempty"`
	LoRaWANVersion           string       `json:"lorawan_version,omitempty"`
	LoRaWANPHYVersion        string       `json:"lorawan_phy_version,omitempty"`
	FrequencyPlanID          string       `json:"frequency_plan_id,omitempty"`
	SupportsJoin             *bool        `json:"supports_join,omitempty"`
	RootKeys                 *rootKeys    `json:"root_keys,omitempty"`
	Session                  *session     `json:"session,omitempty"`
	MACSettings              *macSettings `json:"mac_settings,omitempty"`
	MACState                 *macState    `json:"mac_state,omitempty"`
}

type fieldMask struct {
	Paths []string `json:"paths"`
}

type setDeviceRequest struct {
	EndDevice endDevice `json:"end_device"`
	FieldMask fieldMask `json:"field_mask"`
}

func boolPtr(b bool) *bool { return &b }
