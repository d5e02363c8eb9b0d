package ttn

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/eui"
)

// Orchestrator 设备注册编排器。
// Identity -> Network -> Application 为严格依赖链；Join 注册只做尽力而为。
// 同一设备的调用严格串行，批量时设备之间也串行。
type Orchestrator struct {
	c   *Client
	log *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(c *Client, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{c: c, log: log}
}

// prepare 校验输入并生成设备 ID；失败时返回已填好错误的结果
func (o *Orchestrator) prepare(spec DeviceSpec, mode Mode) (*ProvisionResult, eui.EUI, bool) {
	res := &ProvisionResult{DevEUI: spec.DevEUI, Mode: mode, Steps: []StepResult{}}
	e, ok := eui.Normalize(spec.DevEUI)
	if !ok {
		res.fail(envelope.CodeInvalidEUI, fmt.Sprintf("invalid dev_eui %q", spec.DevEUI))
		return res, "", false
	}
	res.DevEUI = e.String()
	res.DeviceID = spec.DeviceID
	if res.DeviceID == "" {
		res.DeviceID = e.RegistryID()
	} else {
		res.DeviceID, _ = eui.UpgradeLegacyID(res.DeviceID)
	}
	return res, e, true
}

func (o *Orchestrator) ids(deviceID string, e eui.EUI, joinEUI string) endDeviceIDs {
	ids := endDeviceIDs{
		DeviceID:       deviceID,
		ApplicationIDs: applicationIDs{ApplicationID: o.c.ApplicationID()},
		DevEUI:         e.Upper(),
	}
	if joinEUI != "" {
		ids.JoinEUI = strings.ToUpper(joinEUI)
	}
	return ids
}

// ProvisionOTAA OTAA 注册：
//  1. IS 创建（409 视为已存在，继续）
//  2. NS 注册
//  3. JS 写入根密钥（失败仅记录）
//  4. AS 可见性校验；404 时尝试 PUT 修复并再次校验
//
// 只有 AS 可见才算成功。
func (o *Orchestrator) ProvisionOTAA(ctx context.Context, spec DeviceSpec) *ProvisionResult {
	res, e, ok := o.prepare(spec, ModeOTAA)
	if !ok {
		return res
	}
	join, okJoin := eui.Normalize(spec.JoinEUI)
	appKey := strings.ToUpper(strings.TrimSpace(spec.AppKey))
	if !okJoin || len(appKey) != 32 {
		return res.fail(envelope.CodeValidationFailed, "OTAA provisioning requires a valid join_eui and a 32 hex character app_key")
	}
	plan, _ := FrequencyPlan(o.c.cfg.Cluster)
	ids := o.ids(res.DeviceID, e, join.String())
	host := o.c.ServerHost()

	// 1. Identity Server
	create := setDeviceRequest{
		EndDevice: endDevice{
			IDs:                      ids,
			Name:                     spec.Name,
			NetworkServerAddress:     host,
			ApplicationServerAddress: host,
			JoinServerAddress:        host,
			LoRaWANVersion:           lorawanVersion,
			LoRaWANPHYVersion:        phyVersion,
			FrequencyPlanID:          plan,
			SupportsJoin:             boolPtr(true),
		},
		FieldMask: fieldMask{Paths: []string{
			"name", "network_server_address", "application_server_address", "join_server_address",
			"lorawan_version", "lorawan_phy_version", "frequency_plan_id", "supports_join",
		}},
	}
	s := o.c.do(ctx, StepISCreate, http.MethodPost, o.c.isPath(""), create, http.StatusConflict)
	res.Steps = append(res.Steps, s)
	if !s.OK {
		return o.finish(res.failStep(s))
	}

	// 2. Network Server
	ns := setDeviceRequest{
		EndDevice: endDevice{
			IDs:               ids,
			LoRaWANVersion:    lorawanVersion,
			LoRaWANPHYVersion: phyVersion,
			FrequencyPlanID:   plan,
			SupportsJoin:      boolPtr(true),
		},
		FieldMask: fieldMask{Paths: []string{"lorawan_version", "lorawan_phy_version", "frequency_plan_id", "supports_join"}},
	}
	s = o.c.do(ctx, StepNSRegister, http.MethodPut, o.c.nsPath(res.DeviceID), ns)
	res.Steps = append(res.Steps, s)
	if !s.OK {
		return o.finish(res.failStep(s))
	}

	// 3. Join Server（不阻断）
	js := setDeviceRequest{
		EndDevice: endDevice{
			IDs:                      ids,
			NetworkServerAddress:     host,
			ApplicationServerAddress: host,
			RootKeys:                 &rootKeys{AppKey: &keyEnvelope{Key: appKey}},
		},
		FieldMask: fieldMask{Paths: []string{"network_server_address", "application_server_address", "root_keys.app_key.key"}},
	}
	s = o.c.do(ctx, StepJSRegister, http.MethodPut, o.c.jsPath(res.DeviceID), js)
	s.Advisory = true
	res.Steps = append(res.Steps, s)
	if !s.OK {
		o.log.Warn("join server registration failed, continuing",
			zap.String("device_id", res.DeviceID), zap.Int("status", s.HTTPStatus), zap.String("error", s.Error))
	}

	// 4. Application Server 可见性
	if o.verifyAS(ctx, res, StepASVerify) {
		return o.finish(res)
	}
	if last := res.LastStep(); last.HTTPStatus != http.StatusNotFound {
		return o.finish(res.failStep(*last))
	}
	as := setDeviceRequest{
		EndDevice: endDevice{IDs: ids},
		FieldMask: fieldMask{Paths: []string{"ids.dev_eui", "ids.join_eui"}},
	}
	s = o.c.do(ctx, StepASRepair, http.MethodPut, o.c.asPath(res.DeviceID), as)
	res.Steps = append(res.Steps, s)
	if o.verifyAS(ctx, res, StepASReverify) {
		return o.finish(res)
	}
	return o.finish(o.notVisible(res))
}

// ConvertToABP OTAA -> ABP：TTN 不支持原地切换激活方式，需要删除后重建。
//
//	AS/NS/IS 删除（404 视为已不存在） -> IS 重建(supports_join=false)
//	-> NS 写入会话与 MAC 默认值 -> AS 写入 AppSKey -> AS 可见性校验
func (o *Orchestrator) ConvertToABP(ctx context.Context, spec DeviceSpec) *ProvisionResult {
	res, e, ok := o.prepare(spec, ModeABP)
	if !ok {
		return res
	}
	sess := DeriveABPSession(e)
	res.DevAddr = sess.DevAddr
	plan, _ := FrequencyPlan(o.c.cfg.Cluster)
	ids := o.ids(res.DeviceID, e, "")
	host := o.c.ServerHost()

	deletes := []struct {
		step string
		path string
	}{
		{StepASDelete, o.c.asPath(res.DeviceID)},
		{StepNSDelete, o.c.nsPath(res.DeviceID)},
		{StepISDelete, o.c.isPath(res.DeviceID)},
	}
	for _, d := range deletes {
		s := o.c.do(ctx, d.step, http.MethodDelete, d.path, nil, http.StatusNotFound)
		res.Steps = append(res.Steps, s)
		if !s.OK {
			return o.finish(res.failStep(s))
		}
	}

	create := setDeviceRequest{
		EndDevice: endDevice{
			IDs:                      ids,
			Name:                     spec.Name,
			NetworkServerAddress:     host,
			ApplicationServerAddress: host,
			LoRaWANVersion:           lorawanVersion,
			LoRaWANPHYVersion:        phyVersion,
			FrequencyPlanID:          plan,
			SupportsJoin:             boolPtr(false),
		},
		FieldMask: fieldMask{Paths: []string{
			"name", "network_server_address", "application_server_address",
			"lorawan_version", "lorawan_phy_version", "frequency_plan_id", "supports_join",
		}},
	}
	s := o.c.do(ctx, StepISCreate, http.MethodPost, o.c.isPath(""), create)
	res.Steps = append(res.Steps, s)
	if !s.OK {
		return o.finish(res.failStep(s))
	}

	if !o.writeSession(ctx, res, ids, plan, sess) {
		return o.finish(res)
	}
	if !o.verifyAS(ctx, res, StepVerifyAS) {
		return o.finish(o.notVisible(res))
	}
	return o.finish(res)
}

// SetABPOnExisting 保留 IS 记录（由上游系统维护），只改写 NS/AS 会话。
// 先 GET 检查设备存在；不存在直接返回 TTN_DEVICE_NOT_FOUND，不写会话。
func (o *Orchestrator) SetABPOnExisting(ctx context.Context, spec DeviceSpec) *ProvisionResult {
	res, e, ok := o.prepare(spec, ModeABP)
	if !ok {
		return res
	}
	sess := DeriveABPSession(e)
	res.DevAddr = sess.DevAddr
	plan, _ := FrequencyPlan(o.c.cfg.Cluster)
	ids := o.ids(res.DeviceID, e, "")

	s := o.c.do(ctx, StepISGet, http.MethodGet, o.c.isPath(res.DeviceID), nil)
	res.Steps = append(res.Steps, s)
	if s.HTTPStatus == http.StatusNotFound {
		return o.finish(res.fail(envelope.CodeTTNDeviceAbsent,
			fmt.Sprintf("device %s does not exist in application %s", res.DeviceID, o.c.ApplicationID())))
	}
	if !s.OK {
		return o.finish(res.failStep(s))
	}

	if !o.writeSession(ctx, res, ids, plan, sess) {
		return o.finish(res)
	}
	if !o.verifyAS(ctx, res, StepVerifyAS) {
		return o.finish(o.notVisible(res))
	}
	return o.finish(res)
}

// ProvisionBatch 逐台串行执行，返回每台设备的结果
func (o *Orchestrator) ProvisionBatch(ctx context.Context, mode Mode, specs []DeviceSpec) []*ProvisionResult {
	out := make([]*ProvisionResult, 0, len(specs))
	for _, spec := range specs {
		var r *ProvisionResult
		switch mode {
		case ModeABP:
			r = o.ConvertToABP(ctx, spec)
		default:
			r = o.ProvisionOTAA(ctx, spec)
		}
		out = append(out, r)
	}
	return out
}

// writeSession NS 会话 + AS 会话密钥；任一失败即停止
func (o *Orchestrator) writeSession(ctx context.Context, res *ProvisionResult, ids endDeviceIDs, plan string, sess ABPSession) bool {
	ids.DevAddr = sess.DevAddr
	nwk := &keyEnvelope{Key: sess.NwkSKey}
	ns := setDeviceRequest{
		EndDevice: endDevice{
			IDs:               ids,
			LoRaWANVersion:    lorawanVersion,
			LoRaWANPHYVersion: phyVersion,
			FrequencyPlanID:   plan,
			SupportsJoin:      boolPtr(false),
			Session: &session{
				DevAddr: sess.DevAddr,
				Keys:    sessionKeys{FNwkSIntKey: nwk, SNwkSIntKey: nwk, NwkSEncKey: nwk},
			},
			MACSettings: &macSettings{ResetsFCnt: true, Supports32BitFCnt: true},
			MACState:    &macState{LoRaWANVersion: lorawanVersion, DeviceClass: "CLASS_A"},
		},
		FieldMask: fieldMask{Paths: []string{
			"ids.dev_addr", "lorawan_version", "lorawan_phy_version", "frequency_plan_id", "supports_join",
			"session.dev_addr", "session.keys.f_nwk_s_int_key.key", "session.keys.s_nwk_s_int_key.key",
			"session.keys.nwk_s_enc_key.key", "mac_settings.resets_f_cnt", "mac_settings.supports_32_bit_f_cnt",
			"mac_state",
		}},
	}
	s := o.c.do(ctx, StepNSSession, http.MethodPut, o.c.nsPath(res.DeviceID), ns)
	res.Steps = append(res.Steps, s)
	if !s.OK {
		res.failStep(s)
		return false
	}

	as := setDeviceRequest{
		EndDevice: endDevice{
			IDs: ids,
			Session: &session{
				DevAddr: sess.DevAddr,
				Keys:    sessionKeys{AppSKey: &keyEnvelope{Key: sess.AppSKey}},
			},
		},
		FieldMask: fieldMask{Paths: []string{"ids.dev_addr", "session.dev_addr", "session.keys.app_s_key.key"}},
	}
	s = o.c.do(ctx, StepASSession, http.MethodPut, o.c.asPath(res.DeviceID), as)
	res.Steps = append(res.Steps, s)
	if !s.OK {
		res.failStep(s)
		return false
	}
	return true
}

// verifyAS GET AS 设备；200 即可见
func (o *Orchestrator) verifyAS(ctx context.Context, res *ProvisionResult, step string) bool {
	s := o.c.do(ctx, step, http.MethodGet, o.c.asPath(res.DeviceID), nil)
	res.Steps = append(res.Steps, s)
	if s.OK {
		res.OK = true
		res.Code, res.Message, res.Hint = "", "", ""
	}
	return s.OK
}

func (o *Orchestrator) notVisible(res *ProvisionResult) *ProvisionResult {
	last := res.LastStep()
	if last != nil && last.HTTPStatus != http.StatusNotFound {
		return res.failStep(*last)
	}
	res.Hint = ""
	return res.fail(envelope.CodeTTNNotVisible,
		fmt.Sprintf("device %s is registered but not visible on the Application Server", res.DeviceID))
}

func (o *Orchestrator) finish(res *ProvisionResult) *ProvisionResult {
	fields := []zap.Field{
		zap.String("device_id", res.DeviceID),
		zap.String("mode", string(res.Mode)),
		zap.Bool("ok", res.OK),
		zap.Int("steps", len(res.Steps)),
	}
	if res.OK {
		o.log.Info("ttn provisioning finished", fields...)
	} else {
		fields = append(fields, zap.String("code", string(res.Code)), zap.String("message", res.Message))
		o.log.Warn("ttn provisioning failed", fields...)
	}
	return res
}
