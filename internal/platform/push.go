package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/eui"
)

// FieldError 同步包校验失败的字段
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string { return f.Path + ": " + f.Message }

// ValidateBundle 结构校验；返回非空时调用方不得发起网络请求
func ValidateBundle(b SyncBundle) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(b.Context.OrgID) == "" {
		errs = append(errs, FieldError{Path: "context.org_id", Message: "is required"})
	}
	for i, g := range b.Entities.Gateways {
		if strings.TrimSpace(g.GatewayEUI) == "" {
			errs = append(errs, FieldError{Path: fmt.Sprintf("entities.gateways[%d].gateway_eui", i), Message: "is required"})
		}
	}
	for i, d := range b.Entities.Devices {
		if _, ok := eui.Normalize(d.DevEUI); !ok {
			errs = append(errs, FieldError{
				Path:    fmt.Sprintf("entities.devices[%d].dev_eui", i),
				Message: fmt.Sprintf("%q is not a 16 hex character EUI", d.DevEUI),
			})
		}
	}
	return errs
}

// ValidationError 将字段错误汇总为 VALIDATION_FAILED
func ValidationError(errs []FieldError) *envelope.Error {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return envelope.Validation(envelope.CodeValidationFailed, "sync bundle is invalid: "+strings.Join(parts, "; "))
}

// PushSync 推送同步包：POST {base}/sync
//
// 5xx/网络错误按配置重试，重试使用同一请求体（同一 sync_run_id）。
// 返回的 PushResponse 已归一化为统一结构。
func (c *Client) PushSync(ctx context.Context, bundle SyncBundle) (*PushResponse, error) {
	if errs := ValidateBundle(bundle); len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	x, err := c.send(ctx, "push", http.MethodPost, "/sync", nil, bundle, c.cfg.Retries)
	if err != nil {
		return nil, err
	}
	if !isSuccess(x.status) {
		e := httpError(x)
		c.log.Warn("sync push failed",
			zap.String("sync_run_id", bundle.SyncRunID),
			zap.Int("status", x.status),
			zap.String("code", string(e.Code)))
		return nil, e
	}
	resp, err := DecodePushResponse(x.body)
	if err != nil {
		e := envelope.Wrap(envelope.KindUpstream, envelope.CodeUpstreamError, err)
		return nil, e.WithDiagnostics(x.diagnostics(true))
	}
	if resp.RequestID == "" {
		resp.RequestID = x.requestID
	}
	return resp, nil
}

type rawEntity struct {
	Synced int               `json:"synced"`
	Failed int               `json:"failed"`
	Errors []json.RawMessage `json:"errors"`
}

type rawPush struct {
	OK      *bool `json:"ok"`
	Success *bool `json:"success"`
	Results *struct {
		Gateways *rawEntity `json:"gateways"`
		Devices  *rawEntity `json:"devices"`
	} `json:"results"`
	Created   *int            `json:"created"`
	Updated   *int            `json:"updated"`
	Synced    *int            `json:"synced"`
	Failed    *int            `json:"failed"`
	Summary   json.RawMessage `json:"summary"`
	Method    string          `json:"method"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

var errUnknownShape = errors.New("unrecognized sync response shape")

// DecodePushResponse 在边界处归一化三种成功响应格式
func DecodePushResponse(body []byte) (*PushResponse, error) {
	var raw rawPush
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	out := &PushResponse{
		Summary:   summaryText(raw.Summary),
		Method:    raw.Method,
		Error:     firstNonEmpty(raw.Error, raw.Message),
		RequestID: raw.RequestID,
	}

	switch {
	case raw.Results != nil:
		out.Shape = ShapeResults
		out.Gateways = entityResult(raw.Results.Gateways)
		out.Devices = entityResult(raw.Results.Devices)
		for _, r := range []*EntityResult{out.Gateways, out.Devices} {
			if r == nil {
				continue
			}
			out.Aggregate.Synced += r.Synced
			out.Aggregate.Failed += r.Failed
			out.Aggregate.Errors = append(out.Aggregate.Errors, r.Errors...)
		}
		out.OK = out.Aggregate.Failed == 0
		if raw.OK != nil {
			out.OK = *raw.OK && out.Aggregate.Failed == 0
		}
	case raw.Created != nil || raw.Updated != nil:
		out.Shape = ShapeCounts
		out.Aggregate.Synced = deref(raw.Created) + deref(raw.Updated)
		out.Aggregate.Failed = deref(raw.Failed)
		out.OK = raw.OK == nil || *raw.OK
	case raw.Success != nil:
		out.Shape = ShapeLegacy
		out.Aggregate.Synced = deref(raw.Synced)
		out.Aggregate.Failed = deref(raw.Failed)
		out.OK = *raw.Success
	case raw.OK != nil:
		out.Shape = ShapeBare
		out.OK = *raw.OK
	default:
		return nil, errUnknownShape
	}
	return out, nil
}

func entityResult(r *rawEntity) *EntityResult {
	if r == nil {
		return nil
	}
	out := &EntityResult{Synced: r.Synced, Failed: r.Failed}
	for _, item := range r.Errors {
		out.Errors = append(out.Errors, entityError(item))
	}
	return out
}

// entityError 兼容字符串与对象两种错误条目
func entityError(item json.RawMessage) EntityError {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return EntityError{Message: s}
	}
	var obj struct {
		ID       string `json:"id"`
		EntityID string `json:"entity_id"`
		DevEUI   string `json:"dev_eui"`
		Message  string `json:"message"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(item, &obj); err == nil {
		return EntityError{
			ID:      firstNonEmpty(obj.ID, obj.EntityID, obj.DevEUI),
			Message: firstNonEmpty(obj.Message, obj.Error, "unknown error"),
		}
	}
	return EntityError{Message: string(item)}
}

func summaryText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
