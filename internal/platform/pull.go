package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
)

// PullResult 拉取成功的结果，诊断信息同样保留以便支持排查
type PullResult struct {
	Snapshot    Snapshot              `json:"snapshot"`
	Diagnostics *envelope.Diagnostics `json:"diagnostics"`
}

// PullOrgState 拉取组织权威状态：GET {base}/org-state?org_id=<uuid>
//
// 组织 ID 格式不合法时不发起请求，直接返回 INVALID_ORG_ID。
// 失败时返回 *envelope.Error（含提示与诊断）。
func (c *Client) PullOrgState(ctx context.Context, orgID string) (*PullResult, error) {
	orgID = strings.TrimSpace(orgID)
	if _, err := uuid.Parse(orgID); err != nil {
		c.metrics.IncPull("invalid")
		return nil, envelope.Validation(envelope.CodeInvalidOrgID, fmt.Sprintf("org id %q is not a valid UUID", orgID))
	}

	x, err := c.send(ctx, "pull", http.MethodGet, "/org-state", url.Values{"org_id": {orgID}}, nil, 0)
	if err != nil {
		c.metrics.IncPull("error")
		return nil, err
	}
	if !isSuccess(x.status) {
		c.metrics.IncPull("error")
		e := httpError(x)
		c.log.Warn("org-state pull failed",
			zap.String("org_id", orgID),
			zap.Int("status", x.status),
			zap.String("code", string(e.Code)),
			zap.Int64("duration_ms", e.Diagnostics.DurationMs))
		return nil, e
	}

	var (
		status errorBody
		snap   Snapshot
	)
	if err := json.Unmarshal(x.body, &status); err == nil && status.OK != nil && !*status.OK {
		c.metrics.IncPull("error")
		return nil, appError(x, status)
	}
	if err := json.Unmarshal(x.body, &snap); err != nil {
		c.metrics.IncPull("error")
		e := envelope.New(envelope.KindUpstream, envelope.CodeUpstreamError, "org-state response is not valid JSON")
		e.Err = err
		return nil, e.WithDiagnostics(x.diagnostics(true))
	}
	diag := x.diagnostics(false)
	if snap.RequestID != "" {
		diag.RequestID = snap.RequestID
	}
	c.metrics.IncPull("ok")
	c.log.Info("org-state pulled",
		zap.String("org_id", orgID),
		zap.Int("sites", len(snap.Sites)),
		zap.Int("sensors", len(snap.Sensors)),
		zap.Int("gateways", len(snap.Gateways)),
		zap.Int64("sync_version", snap.SyncVersion),
		zap.Int64("duration_ms", diag.DurationMs))
	return &PullResult{Snapshot: snap, Diagnostics: diag}, nil
}
