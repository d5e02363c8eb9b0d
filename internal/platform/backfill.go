package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/frostguard/lora-emulator/internal/envelope"
)

type backfillRequest struct {
	OrgID   string           `json:"org_id"`
	Devices []BackfillDevice `json:"devices"`
}

type backfillItem struct {
	ID           string `json:"id"`
	JoinEUI      string `json:"joinEui"`
	JoinEUISnake string `json:"join_eui"`
	AppKey       string `json:"appKey"`
	AppKeySnake  string `json:"app_key"`
}

// BackfillCredentials 为缺少 OTAA 凭证的设备申请生成凭证：POST {base}/backfill-credentials
//
// 响应既可能是数组，也可能是 {devices:[...]}。
func (c *Client) BackfillCredentials(ctx context.Context, orgID string, devices []BackfillDevice) ([]BackfillResult, error) {
	if len(devices) == 0 {
		return nil, nil
	}
	x, err := c.send(ctx, "backfill", http.MethodPost, "/backfill-credentials", nil, backfillRequest{OrgID: orgID, Devices: devices}, c.cfg.Retries)
	if err != nil {
		return nil, err
	}
	if !isSuccess(x.status) {
		return nil, httpError(x)
	}

	var items []backfillItem
	if err := json.Unmarshal(x.body, &items); err != nil {
		var wrapped struct {
			errorBody
			Devices []backfillItem `json:"devices"`
		}
		if err2 := json.Unmarshal(x.body, &wrapped); err2 != nil {
			e := envelope.Wrap(envelope.KindUpstream, envelope.CodeUpstreamError, fmt.Errorf("decode backfill response: %w", err2))
			return nil, e.WithDiagnostics(x.diagnostics(true))
		}
		if wrapped.OK != nil && !*wrapped.OK {
			return nil, appError(x, wrapped.errorBody)
		}
		items = wrapped.Devices
	}

	out := make([]BackfillResult, 0, len(items))
	for _, it := range items {
		r := BackfillResult{
			ID:      it.ID,
			JoinEUI: firstNonEmpty(it.JoinEUI, it.JoinEUISnake),
			AppKey:  firstNonEmpty(it.AppKey, it.AppKeySnake),
		}
		if r.ID == "" || r.JoinEUI == "" || r.AppKey == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
