// Package envelope 统一结果封装与远端错误分类
package envelope

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind 错误分类
type Kind string

const (
	KindValidation Kind = "validation" // 输入不合法，网络调用之前拦截
	KindAuth       Kind = "auth"       // 凭证缺失/无效，或 webhook 密钥错误
	KindNotFound   Kind = "not_found"  // 组织/设备/应用在远端不存在
	KindPermission Kind = "permission" // 凭证有效但权限范围不足
	KindUpstream   Kind = "upstream"   // 远端可达但返回业务失败
	KindNetwork    Kind = "network"    // 传输层失败，没有收到响应
	KindPartial    Kind = "partial"    // 批量操作部分成功
	KindConfig     Kind = "config"     // 本地配置缺失
)

// Code 机器可读错误码
type Code string

const (
	CodeInvalidOrgID     Code = "INVALID_ORG_ID"
	CodeConfigMissing    Code = "CONFIG_MISSING"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeInvalidEUI       Code = "INVALID_DEV_EUI"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"
	CodeUpstreamNoDetail Code = "UPSTREAM_NO_DETAIL"
	CodeNetworkError     Code = "NETWORK_ERROR"
	CodePartialFailure   Code = "PARTIAL_FAILURE"
	CodeCredentialsLock  Code = "CREDENTIALS_LOCKED"
	CodeNoOrgContext     Code = "NO_ORG_CONTEXT"
	CodeLockHeld         Code = "LOCK_HELD"
	CodeLockLost         Code = "LOCK_LOST"

	CodeTTNNotVisible    Code = "TTN_NOT_VISIBLE_ON_AS"
	CodeTTNDeviceAbsent  Code = "TTN_DEVICE_NOT_FOUND"
	CodeTTNStepFailed    Code = "TTN_STEP_FAILED"
	CodeTTNUnknownRegion Code = "TTN_UNKNOWN_CLUSTER"

	CodeWebhookSecretMissing Code = "WEBHOOK_SECRET_MISSING"
	CodeWebhookSecretInvalid Code = "WEBHOOK_SECRET_INVALID"
	CodeWebhookBadPayload    Code = "WEBHOOK_BAD_PAYLOAD"
	CodeWebhookHistoryWrite  Code = "WEBHOOK_HISTORY_WRITE_FAILED"
)

// SnippetLimit 响应体片段的最大长度
const SnippetLimit = 2048

// Diagnostics 失败诊断信息（用于支持排查）
type Diagnostics struct {
	RequestID  string `json:"request_id,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	TargetHost string `json:"target_host,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Error 带分类、错误码和提示的错误
type Error struct {
	Kind        Kind
	Code        Code
	Message     string
	Hint        string
	Diagnostics *Diagnostics
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建错误，Hint 按错误码查表
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Hint: HintForCode(code)}
}

// Wrap 包装底层错误
func Wrap(kind Kind, code Code, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Hint: HintForCode(code), Err: err}
}

// Validation 参数校验错误
func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

// ConfigMissing 缺少必要密钥/配置，name 指明具体缺哪一项
func ConfigMissing(name string) *Error {
	e := New(KindConfig, CodeConfigMissing, fmt.Sprintf("required setting %q is not configured", name))
	e.Hint = fmt.Sprintf("Set %s in the service configuration or environment.", name)
	return e
}

// Network 传输层失败
func Network(err error, diag *Diagnostics) *Error {
	e := Wrap(KindNetwork, CodeNetworkError, err)
	e.Diagnostics = diag
	return e
}

// WithDiagnostics 附加诊断信息
func (e *Error) WithDiagnostics(d *Diagnostics) *Error {
	e.Diagnostics = d
	return e
}

// WithHint 覆盖提示
func (e *Error) WithHint(h string) *Error {
	if h != "" {
		e.Hint = h
	}
	return e
}

// As 提取 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindForStatus HTTP 状态码 -> 错误分类
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindUpstream
	}
}

// CodeForStatus HTTP 状态码 -> 错误码
func CodeForStatus(status int) Code {
	switch KindForStatus(status) {
	case KindValidation:
		return CodeValidationFailed
	case KindAuth:
		return CodeUnauthorized
	case KindPermission:
		return CodeForbidden
	case KindNotFound:
		return CodeNotFound
	default:
		return CodeUpstreamError
	}
}

// FromHTTPStatus 根据远端 HTTP 失败构造错误
func FromHTTPStatus(status int, message string, diag *Diagnostics) *Error {
	if message == "" {
		message = fmt.Sprintf("remote returned HTTP %d", status)
	}
	return &Error{
		Kind:        KindForStatus(status),
		Code:        CodeForStatus(status),
		Message:     message,
		Hint:        HintForStatus(status),
		Diagnostics: diag,
	}
}

// Snippet 截断响应体，超长时追加标记
func Snippet(body []byte, limit int) string {
	if limit <= 0 {
		limit = SnippetLimit
	}
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…[truncated]"
}

// RedactHost 仅保留目标主机名，去掉路径、查询串和用户信息
func RedactHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// NewDiagnostics 构造诊断信息
func NewDiagnostics(requestID, target string, status int, elapsed time.Duration, body []byte) *Diagnostics {
	d := &Diagnostics{
		RequestID:  requestID,
		DurationMs: elapsed.Milliseconds(),
		TargetHost: RedactHost(target),
		HTTPStatus: status,
	}
	if len(body) > 0 {
		d.Snippet = Snippet(body, SnippetLimit)
	}
	return d
}
