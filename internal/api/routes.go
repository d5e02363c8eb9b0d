package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/api/middleware"
	cfgpkg "github.com/frostguard/lora-emulator/internal/config"
)

// Handlers 需要注册的处理器；为 nil 的分组不注册
type Handlers struct {
	Emulator *EmulatorHandler
	Locks    *LockHandler
	Webhook  *WebhookHandler
}

// RegisterRoutes 注册业务路由
// /webhook 由 webhook 密钥保护，不走 API Key
func RegisterRoutes(r *gin.Engine, h Handlers, authCfg cfgpkg.AuthConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.Use(middleware.RequestTracing(), middleware.CORS())

	if h.Webhook != nil {
		r.POST("/webhook", h.Webhook.Receive)
	}

	api := r.Group("/api")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	endpoints := 0
	if e := h.Emulator; e != nil {
		emu := api.Group("/emulator")
		emu.GET("/state", e.GetState)
		emu.GET("/bundle", e.GetBundle)
		emu.GET("/preflight", e.Preflight)
		emu.POST("/pull", e.Pull)
		emu.POST("/push", e.Push)
		emu.PUT("/site", e.SetSite)
		emu.POST("/reset", e.Reset)

		emu.POST("/devices", e.CreateDevice)
		emu.PUT("/devices/:id", e.UpdateDevice)
		emu.DELETE("/devices/:id", e.DeleteDevice)
		emu.PUT("/devices/:id/credentials", e.SetCredentials)
		emu.POST("/devices/:id/credentials/generate", e.GenerateCredentials)

		emu.POST("/gateways", e.CreateGateway)
		emu.PUT("/gateways/:id", e.UpdateGateway)
		emu.DELETE("/gateways/:id", e.DeleteGateway)

		api.POST("/ttn/provision", e.Provision)
		endpoints += 16
	}
	if l := h.Locks; l != nil {
		api.GET("/emulator/lock", l.Current)
		api.POST("/emulator/lock", l.Acquire)
		api.POST("/emulator/lock/heartbeat", l.Heartbeat)
		api.POST("/emulator/lock/release", l.Release)
		endpoints += 4
	}
	if h.Webhook != nil && h.Webhook.history != nil {
		api.GET("/webhook/unassigned", h.Webhook.ListUnassigned)
		endpoints++
	}

	logger.Info("api routes registered", zap.Int("endpoints", endpoints))
}
