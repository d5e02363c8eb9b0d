package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/session"
)

// LockHandler 操作员建议锁接口
type LockHandler struct {
	locks  session.LockManager
	logger *zap.Logger
}

// NewLockHandler 创建处理器
func NewLockHandler(locks session.LockManager, logger *zap.Logger) *LockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockHandler{locks: locks, logger: logger}
}

type acquireLockRequest struct {
	OrgID  string `json:"org_id" binding:"required"`
	Holder string `json:"holder" binding:"required"`
	Force  bool   `json:"force"`
}

type tokenRequest struct {
	OrgID string `json:"org_id" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// Acquire 获取或续期锁；force 接管他人持有的锁
// @Summary 获取操作员锁
// @Tags 模拟器 - 操作员锁
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body acquireLockRequest true "组织与持有者"
// @Success 200 {object} StandardResponse
// @Failure 409 {object} StandardResponse "被其他操作员持有，data 中带当前持有者"
// @Router /api/emulator/lock [post]
func (h *LockHandler) Acquire(c *gin.Context) {
	var req acquireLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	info, err := h.locks.Acquire(c.Request.Context(), req.OrgID, req.Holder, req.Force)
	if err != nil {
		if errors.Is(err, session.ErrLockHeld) && info != nil {
			h.logger.Info("operator lock held",
				zap.String("org_id", req.OrgID),
				zap.String("holder", info.Holder),
				zap.String("requested_by", req.Holder))
			respondLockHeld(c, info)
			return
		}
		respondError(c, lockError(err))
		return
	}
	if req.Force {
		h.logger.Warn("operator lock taken over", zap.String("org_id", req.OrgID), zap.String("holder", req.Holder))
	}
	respondOK(c, "lock acquired", info)
}

// Heartbeat 续期
// @Summary 操作员锁心跳
// @Tags 模拟器 - 操作员锁
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body tokenRequest true "组织与令牌"
// @Success 200 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Router /api/emulator/lock/heartbeat [post]
func (h *LockHandler) Heartbeat(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	info, err := h.locks.Heartbeat(c.Request.Context(), req.OrgID, req.Token)
	if err != nil {
		respondError(c, lockError(err))
		return
	}
	respondOK(c, "ok", info)
}

// Release 释放
// @Summary 释放操作员锁
// @Tags 模拟器 - 操作员锁
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body tokenRequest true "组织与令牌"
// @Success 200 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Router /api/emulator/lock/release [post]
func (h *LockHandler) Release(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.locks.Release(c.Request.Context(), req.OrgID, req.Token); err != nil {
		respondError(c, lockError(err))
		return
	}
	respondOK(c, "lock released", nil)
}

// Current 当前持有者（不含令牌）
// @Summary 查询操作员锁
// @Tags 模拟器 - 操作员锁
// @Produce json
// @Security ApiKeyAuth
// @Param org_id query string true "组织ID"
// @Success 200 {object} StandardResponse
// @Router /api/emulator/lock [get]
func (h *LockHandler) Current(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		respondError(c, envelope.Validation(envelope.CodeInvalidOrgID, "org_id is required"))
		return
	}
	info, err := h.locks.Current(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	if info == nil {
		respondOK(c, "unlocked", nil)
		return
	}
	respondOK(c, "locked", info.Public())
}

// respondLockHeld 冲突时把当前持有者放进结果的 data 供前端提示
func respondLockHeld(c *gin.Context, holder *session.LockInfo) {
	res := envelope.Fail[session.LockInfo](lockError(session.ErrLockHeld), requestID(c))
	pub := holder.Public()
	res.Data = &pub
	c.JSON(http.StatusConflict, StandardResponse{
		Code:      http.StatusConflict,
		Message:   res.Error,
		Data:      res,
		RequestID: requestID(c),
		Timestamp: time.Now().Unix(),
	})
}

func lockError(err error) error {
	switch {
	case errors.Is(err, session.ErrLockHeld):
		return envelope.Wrap(envelope.KindValidation, envelope.CodeLockHeld, err)
	case errors.Is(err, session.ErrLockLost):
		return envelope.Wrap(envelope.KindValidation, envelope.CodeLockLost, err)
	}
	return err
}
