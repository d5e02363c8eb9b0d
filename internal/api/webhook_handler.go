package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	pgstorage "github.com/frostguard/lora-emulator/internal/storage/pg"
	"github.com/frostguard/lora-emulator/internal/webhook"
)

const defaultMaxBodyBytes = 1 << 20

// UnassignedLister 查询未归属的上行记录
type UnassignedLister interface {
	UnassignedUplinks(ctx context.Context, limit int) ([]pgstorage.UplinkRecord, error)
}

// WebhookHandler 上行 webhook 入口
type WebhookHandler struct {
	ingestor *webhook.Ingestor
	history  UnassignedLister
	maxBody  int64
	logger   *zap.Logger
}

// NewWebhookHandler 创建处理器；maxBody<=0 时使用 1MiB
func NewWebhookHandler(ingestor *webhook.Ingestor, history UnassignedLister, maxBody int64, logger *zap.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingestor: ingestor, history: history, maxBody: maxBody, logger: logger}
}

// Receive 接收 TTN 标准上行或直连负载
// @Summary 上行 webhook
// @Description 按 dev_eui 解析传感器并写入历史、当前状态与旧版读数；未归属的上行返回 202
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string false "应用级 webhook 密钥"
// @Success 200 {object} webhook.Body "processed / partial"
// @Success 202 {object} webhook.Body "unassigned"
// @Failure 400 {object} webhook.Body
// @Failure 401 {object} webhook.Body
// @Failure 500 {object} webhook.Body
// @Router /webhook [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.logger.Warn("webhook body unreadable", zap.Error(err))
		c.JSON(status, webhook.Body{
			OK:        false,
			Status:    webhook.StatusRejected,
			ErrorCode: envelope.CodeWebhookBadPayload,
			Error:     err.Error(),
			Hint:      envelope.HintForCode(envelope.CodeWebhookBadPayload),
		})
		return
	}

	resp := h.ingestor.Ingest(c.Request.Context(), raw, c.Request.Header)
	c.JSON(resp.HTTPStatus, resp.Body)
}

type unassignedUplink struct {
	ID            int64    `json:"id"`
	DevEUI        string   `json:"dev_eui"`
	ApplicationID string   `json:"application_id,omitempty"`
	FPort         *int     `json:"f_port,omitempty"`
	RSSI          *float64 `json:"rssi,omitempty"`
	Source        string   `json:"source"`
	ReceivedAt    int64    `json:"received_at"`
}

// ListUnassigned 最近未归属的上行，便于把未知设备补登记
// @Summary 未归属上行
// @Tags Webhook
// @Produce json
// @Security ApiKeyAuth
// @Param limit query int false "条数(默认50，最大500)"
// @Success 200 {object} StandardResponse
// @Router /api/webhook/unassigned [get]
func (h *WebhookHandler) ListUnassigned(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := h.history.UnassignedUplinks(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list unassigned uplinks failed", zap.Error(err))
		respondError(c, err)
		return
	}
	out := make([]unassignedUplink, 0, len(rows))
	for _, r := range rows {
		out = append(out, unassignedUplink{
			ID:            r.ID,
			DevEUI:        r.DevEUI,
			ApplicationID: r.ApplicationID,
			FPort:         r.FPort,
			RSSI:          r.RSSI,
			Source:        r.Source,
			ReceivedAt:    r.ReceivedAt.Unix(),
		})
	}
	respondOK(c, "ok", gin.H{"uplinks": out, "count": len(out)})
}
