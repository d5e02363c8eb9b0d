package api

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/emulator"
	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/platform"
	"github.com/frostguard/lora-emulator/internal/service"
)

// Provisioner TTN 编排与预检能力
type Provisioner interface {
	Provision(ctx context.Context, req service.ProvisionRequest) (*service.ProvisionReport, error)
	Preflight(ctx context.Context, bundle platform.SyncBundle) service.PreflightReport
}

// EmulatorHandler 模拟器会话控制接口
type EmulatorHandler struct {
	ctrl   *emulator.Controller
	prov   Provisioner
	logger *zap.Logger
}

// NewEmulatorHandler 创建处理器
func NewEmulatorHandler(ctrl *emulator.Controller, prov Provisioner, logger *zap.Logger) *EmulatorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmulatorHandler{ctrl: ctrl, prov: prov, logger: logger}
}

// GetState 当前会话状态
// @Summary 查询会话状态
// @Tags 模拟器
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} StandardResponse
// @Router /api/emulator/state [get]
func (h *EmulatorHandler) GetState(c *gin.Context) {
	respondOK(c, "ok", h.ctrl.State())
}

// GetBundle 下一次推送将发送的同步包（不含 sync_run_id）
// @Summary 预览同步包
// @Tags 模拟器
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} StandardResponse
// @Router /api/emulator/bundle [get]
func (h *EmulatorHandler) GetBundle(c *gin.Context) {
	respondOK(c, "ok", h.ctrl.Bundle())
}

// Pull 选择组织并拉取其网关/设备，整体替换本地状态
// @Summary 拉取组织状态
// @Tags 模拟器
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body emulator.PullRequest true "组织与操作员"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 502 {object} StandardResponse
// @Router /api/emulator/pull [post]
func (h *EmulatorHandler) Pull(c *gin.Context) {
	var req emulator.PullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.ctrl.Pull(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("org pull failed", zap.String("org_id", req.OrgID), zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, summary.DiffText, summary)
}

// Push 推送本地状态；失败也以 200 返回，结果在 data.kind 中区分
// @Summary 推送同步包
// @Tags 模拟器
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} StandardResponse
// @Router /api/emulator/push [post]
func (h *EmulatorHandler) Push(c *gin.Context) {
	out := h.ctrl.Push(c.Request.Context())
	respondOK(c, string(out.Kind), out)
}

// Preflight 推送与编排前的自检
// @Summary 预检
// @Tags 模拟器
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} StandardResponse
// @Router /api/emulator/preflight [get]
func (h *EmulatorHandler) Preflight(c *gin.Context) {
	rep := h.prov.Preflight(c.Request.Context(), h.ctrl.Bundle())
	msg := "ready"
	if !rep.Ready {
		msg = "not ready"
	}
	respondOK(c, msg, rep)
}

type upsertDeviceRequest struct {
	emulator.Device
	Force bool `json:"force"`
}

// CreateDevice 新增设备
// @Summary 新增设备
// @Tags 模拟器 - 设备
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body emulator.Device true "设备"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Router /api/emulator/devices [post]
func (h *EmulatorHandler) CreateDevice(c *gin.Context) {
	var req upsertDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.upsertDevice(c, req)
}

// UpdateDevice 替换设备；锁定的凭证需 force
// @Summary 更新设备
// @Tags 模拟器 - 设备
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "设备ID"
// @Param request body emulator.Device true "设备"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Router /api/emulator/devices/{id} [put]
func (h *EmulatorHandler) UpdateDevice(c *gin.Context) {
	var req upsertDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ID = c.Param("id")
	h.upsertDevice(c, req)
}

func (h *EmulatorHandler) upsertDevice(c *gin.Context, req upsertDeviceRequest) {
	d, err := h.ctrl.UpsertDevice(c.Request.Context(), req.Device, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "device saved", d)
}

// DeleteDevice 删除设备
// @Summary 删除设备
// @Tags 模拟器 - 设备
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "设备ID"
// @Success 200 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /api/emulator/devices/{id} [delete]
func (h *EmulatorHandler) DeleteDevice(c *gin.Context) {
	id := c.Param("id")
	if !h.ctrl.RemoveDevice(c.Request.Context(), id) {
		respondError(c, notFound("device", id))
		return
	}
	respondOK(c, "device removed", gin.H{"id": id})
}

type credentialsRequest struct {
	JoinEUI string `json:"join_eui" binding:"required"`
	AppKey  string `json:"app_key" binding:"required"`
	Force   bool   `json:"force"`
}

// SetCredentials 手动设置 OTAA 凭证
// @Summary 设置设备凭证
// @Tags 模拟器 - 设备
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "设备ID"
// @Param request body credentialsRequest true "凭证"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Router /api/emulator/devices/{id}/credentials [put]
func (h *EmulatorHandler) SetCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.ctrl.SetDeviceCredentials(c.Request.Context(), c.Param("id"), req.JoinEUI, req.AppKey, req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "credentials saved", d)
}

// GenerateCredentials 本地生成缺失的凭证
// @Summary 生成设备凭证
// @Tags 模拟器 - 设备
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "设备ID"
// @Success 200 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /api/emulator/devices/{id}/credentials/generate [post]
func (h *EmulatorHandler) GenerateCredentials(c *gin.Context) {
	d, err := h.ctrl.GenerateCredentials(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "credentials generated", d)
}

// CreateGateway 新增网关
// @Summary 新增网关
// @Tags 模拟器 - 网关
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body emulator.Gateway true "网关"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Router /api/emulator/gateways [post]
func (h *EmulatorHandler) CreateGateway(c *gin.Context) {
	var g emulator.Gateway
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	h.upsertGateway(c, g)
}

// UpdateGateway 替换网关
// @Summary 更新网关
// @Tags 模拟器 - 网关
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "网关ID"
// @Param request body emulator.Gateway true "网关"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Router /api/emulator/gateways/{id} [put]
func (h *EmulatorHandler) UpdateGateway(c *gin.Context) {
	var g emulator.Gateway
	if err := c.ShouldBindJSON(&g); err != nil {
		badRequest(c, err)
		return
	}
	g.ID = c.Param("id")
	h.upsertGateway(c, g)
}

func (h *EmulatorHandler) upsertGateway(c *gin.Context, g emulator.Gateway) {
	out, err := h.ctrl.UpsertGateway(c.Request.Context(), g)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "gateway saved", out)
}

// DeleteGateway 删除网关
// @Summary 删除网关
// @Tags 模拟器 - 网关
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "网关ID"
// @Success 200 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /api/emulator/gateways/{id} [delete]
func (h *EmulatorHandler) DeleteGateway(c *gin.Context) {
	id := c.Param("id")
	if !h.ctrl.RemoveGateway(c.Request.Context(), id) {
		respondError(c, notFound("gateway", id))
		return
	}
	respondOK(c, "gateway removed", gin.H{"id": id})
}

type siteRequest struct {
	SiteID string `json:"site_id" binding:"required"`
}

// SetSite 手动切换站点
// @Summary 切换站点
// @Tags 模拟器
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body siteRequest true "站点"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Router /api/emulator/site [put]
func (h *EmulatorHandler) SetSite(c *gin.Context) {
	var req siteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.ctrl.SetSite(c.Request.Context(), req.SiteID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "site selected", gin.H{"site_id": req.SiteID})
}

// Reset 清空会话与本地持久化
// @Summary 重置会话
// @Tags 模拟器
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} StandardResponse
// @Router /api/emulator/reset [post]
func (h *EmulatorHandler) Reset(c *gin.Context) {
	if err := h.ctrl.Reset(c.Request.Context()); err != nil {
		h.logger.Error("session reset failed", zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, "session cleared", nil)
}

// Provision 在 TTN 上注册设备（OTAA / ABP / 保留身份的 ABP）
// @Summary TTN 设备编排
// @Tags TTN
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body service.ProvisionRequest true "编排请求"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 503 {object} StandardResponse
// @Router /api/ttn/provision [post]
func (h *EmulatorHandler) Provision(c *gin.Context) {
	var req service.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	// 未指定时沿用当前会话的组织与操作员
	if org := h.ctrl.State().Org; org != nil {
		if req.OrgID == "" {
			req.OrgID = org.OrgID
		}
		if req.UserID == "" {
			req.UserID = org.SelectedUserID
		}
	}
	rep, err := h.prov.Provision(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	msg := fmt.Sprintf("%d provisioned, %d failed", rep.Succeeded, rep.Failed)
	respondOK(c, msg, rep)
}

func notFound(entity, id string) error {
	return envelope.New(envelope.KindNotFound, envelope.CodeNotFound, fmt.Sprintf("%s %s not found", entity, id))
}
