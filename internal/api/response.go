// Package api 模拟器控制接口与 webhook 入口
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostguard/lora-emulator/internal/api/middleware"
	"github.com/frostguard/lora-emulator/internal/envelope"
)

// StandardResponse 标准响应格式
type StandardResponse struct {
	Code      int         `json:"code"`           // 0=成功, >0=HTTP 状态码
	Message   string      `json:"message"`        // 消息
	Data      interface{} `json:"data,omitempty"` // 业务数据；失败时为 envelope.Result
	RequestID string      `json:"request_id"`     // 请求追踪ID
	Timestamp int64       `json:"timestamp"`      // 时间戳
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   message,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now().Unix(),
	})
}

// respondError 按错误分类映射 HTTP 状态；data 为带提示与诊断的失败结果
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	res := envelope.Fail[struct{}](err, requestID(c))
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   res.Error,
		Data:      res,
		RequestID: requestID(c),
		Timestamp: time.Now().Unix(),
	})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, envelope.Validation(envelope.CodeValidationFailed, "invalid request: "+err.Error()))
}

func statusForError(err error) int {
	var e *envelope.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case envelope.KindValidation:
		switch e.Code {
		case envelope.CodeCredentialsLock, envelope.CodeLockHeld, envelope.CodeLockLost:
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case envelope.KindAuth:
		return http.StatusUnauthorized
	case envelope.KindPermission:
		return http.StatusForbidden
	case envelope.KindNotFound:
		return http.StatusNotFound
	case envelope.KindConfig:
		return http.StatusServiceUnavailable
	case envelope.KindNetwork, envelope.KindUpstream, envelope.KindPartial:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
