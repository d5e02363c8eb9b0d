// Package webhook 上行 webhook 入库：两种载荷形态归一化、密钥校验、设备/组织归属解析与分端口落库。
package webhook

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/frostguard/lora-emulator/internal/eui"
)

// Source 载荷形态
type Source string

const (
	SourceTTN    Source = "ttn"    // TTN v3 标准上行
	SourceDirect Source = "direct" // 模拟器直推的扁平结构
)

// 字段候选名：标准名在前，其后依次为 snake_case / camelCase 别名
var (
	fieldEndDeviceIDs  = []string{"end_device_ids", "endDeviceIds", "endDeviceIDs"}
	fieldUplinkMessage = []string{"uplink_message", "uplinkMessage"}
	fieldAppIDs        = []string{"application_ids", "applicationIds", "applicationIDs"}
	fieldDevEUI        = []string{"dev_eui", "devEui", "devEUI", "DevEUI", "deveui"}
	fieldDeviceID      = []string{"device_id", "deviceId", "deviceID"}
	fieldAppID         = []string{"application_id", "applicationId", "applicationID"}
	fieldFPort         = []string{"f_port", "fPort", "fport", "port"}
	fieldFCnt          = []string{"f_cnt", "fCnt", "fcnt"}
	fieldDecoded       = []string{"decoded_payload", "decodedPayload", "decoded"}
	fieldFrmPayload    = []string{"frm_payload", "frmPayload"}
	fieldRxMetadata    = []string{"rx_metadata", "rxMetadata"}
	fieldRSSI          = []string{"rssi", "RSSI", "channel_rssi", "channelRssi"}
	fieldSNR           = []string{"snr", "SNR"}
	fieldReceivedAt    = []string{"received_at", "receivedAt", "timestamp"}
	fieldOrgID         = []string{"org_id", "orgId", "organization_id", "organizationId"}
	fieldSiteID        = []string{"site_id", "siteId"}
	fieldUnitID        = []string{"unit_id", "unitId"}

	fieldTemperature = []string{"temperature", "temp", "temperature_c", "temperatureC", "TempC_SHT"}
	fieldHumidity    = []string{"humidity", "relative_humidity", "relativeHumidity", "Hum_SHT"}
	fieldBattery     = []string{"battery", "battery_level", "batteryLevel", "BatV"}
	fieldDoor        = []string{"door_open", "doorOpen", "door", "door_status", "doorStatus", "open"}
)

// Hints 载荷中自带的归属信息（只有直推路径会提供）
type Hints struct {
	OrgID  string `json:"org_id,omitempty"`
	SiteID string `json:"site_id,omitempty"`
	UnitID string `json:"unit_id,omitempty"`
}

// Uplink 归一化后的上行
type Uplink struct {
	Source        Source
	RawDevEUI     string
	DevEUI        eui.EUI // RawDevEUI 不是合法 EUI 时为空
	DeviceID      string
	ApplicationID string
	FPort         *int
	FCnt          *int64
	Decoded       map[string]any
	FrmPayload    []byte
	RSSI          *float64
	SNR           *float64
	ReceivedAt    time.Time
	Hints         Hints
}

// Key 落库使用的设备键：合法时为规范化 EUI，否则为原始小写值
func (u *Uplink) Key() string {
	if u.DevEUI != "" {
		return u.DevEUI.String()
	}
	return strings.ToLower(strings.TrimSpace(u.RawDevEUI))
}

// Telemetry 从解码字段中提取的遥测
type Telemetry struct {
	Temperature *float64
	Humidity    *float64
	Battery     *float64
	Door        DoorState
	HasDoor     bool
}

var (
	errNotObject = errors.New("payload is not a JSON object")
	errNoDevEUI  = errors.New("payload carries no device EUI")
)

// Parse 将两种载荷形态归一化为 Uplink；now 用于缺少 received_at 的载荷
func Parse(raw []byte, now time.Time) (*Uplink, error) {
	var root object
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, errNotObject
	}
	if root == nil {
		return nil, errNotObject
	}

	var up *Uplink
	if ids := root.obj(fieldEndDeviceIDs...); ids != nil || root.obj(fieldUplinkMessage...) != nil {
		up = parseTTN(root, ids)
	} else {
		up = parseDirect(root)
	}
	if strings.TrimSpace(up.RawDevEUI) == "" {
		return nil, errNoDevEUI
	}
	if e, ok := eui.Normalize(up.RawDevEUI); ok {
		up.DevEUI = e
	}
	if up.ReceivedAt.IsZero() {
		up.ReceivedAt = now.UTC()
	}
	return up, nil
}

func parseTTN(root, ids object) *Uplink {
	msg := root.obj(fieldUplinkMessage...)
	up := &Uplink{
		Source:        SourceTTN,
		RawDevEUI:     ids.str(fieldDevEUI...),
		DeviceID:      ids.str(fieldDeviceID...),
		ApplicationID: ids.obj(fieldAppIDs...).str(fieldAppID...),
		FPort:         msg.intVal(fieldFPort...),
		FCnt:          msg.int64Val(fieldFCnt...),
		Decoded:       msg.obj(fieldDecoded...),
		ReceivedAt:    parseTime(root.str(fieldReceivedAt...), msg.str(fieldReceivedAt...)),
	}
	if up.RawDevEUI == "" {
		// 老版本集成只带 device_id
		if e, ok := eui.EUIFromRegistryID(up.DeviceID); ok {
			up.RawDevEUI = e.String()
		}
	}
	if frm := msg.str(fieldFrmPayload...); frm != "" {
		if b, err := base64.StdEncoding.DecodeString(frm); err == nil {
			up.FrmPayload = b
		}
	}
	up.RSSI, up.SNR = bestSignal(msg.arr(fieldRxMetadata...))
	return up
}

func parseDirect(root object) *Uplink {
	up := &Uplink{
		Source:        SourceDirect,
		RawDevEUI:     root.str(fieldDevEUI...),
		DeviceID:      root.str(fieldDeviceID...),
		ApplicationID: root.str(fieldAppID...),
		FPort:         root.intVal(fieldFPort...),
		FCnt:          root.int64Val(fieldFCnt...),
		Decoded:       root.obj(fieldDecoded...),
		RSSI:          root.num(fieldRSSI...),
		SNR:           root.num(fieldSNR...),
		ReceivedAt:    parseTime(root.str(fieldReceivedAt...)),
		Hints: Hints{
			OrgID:  root.str(fieldOrgID...),
			SiteID: root.str(fieldSiteID...),
			UnitID: root.str(fieldUnitID...),
		},
	}
	if up.Decoded == nil {
		// 直推允许把遥测字段平铺在顶层
		up.Decoded = root
	}
	return up
}

// bestSignal 取信号最强的网关
func bestSignal(meta []any) (rssi, snr *float64) {
	for _, m := range meta {
		o, ok := m.(map[string]any)
		if !ok {
			continue
		}
		r := object(o).num(fieldRSSI...)
		if r == nil {
			continue
		}
		if rssi == nil || *r > *rssi {
			rssi = r
			snr = object(o).num(fieldSNR...)
		}
	}
	return rssi, snr
}

// ExtractTelemetry 读取解码字段
func (u *Uplink) ExtractTelemetry() Telemetry {
	d := object(u.Decoded)
	t := Telemetry{
		Temperature: d.num(fieldTemperature...),
		Humidity:    d.num(fieldHumidity...),
		Battery:     d.num(fieldBattery...),
		Door:        DoorUnknown,
	}
	if v, ok := d.get(fieldDoor...); ok {
		t.HasDoor = true
		t.Door = NormalizeDoor(v)
	}
	return t
}

func parseTime(candidates ...string) time.Time {
	for _, s := range candidates {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// object 宽松的 JSON 对象访问器，按候选名顺序取第一个非空值
type object map[string]any

func (o object) get(names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := o[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (o object) obj(names ...string) object {
	v, _ := o.get(names...)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func (o object) arr(names ...string) []any {
	v, _ := o.get(names...)
	a, _ := v.([]any)
	return a
}

func (o object) str(names ...string) string {
	v, _ := o.get(names...)
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func (o object) num(names ...string) *float64 {
	v, _ := o.get(names...)
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (o object) intVal(names ...string) *int {
	f := o.num(names...)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	i := int(*f)
	return &i
}

func (o object) int64Val(names ...string) *int64 {
	f := o.num(names...)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	i := int64(*f)
	return &i
}
