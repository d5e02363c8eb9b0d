// Package platform FrostGuard 平台客户端：拉取组织状态、推送同步包、补全凭证
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/metrics"
)

// Config 客户端配置
type Config struct {
	BaseURL       string
	APIKey        string
	SigningSecret string
	Timeout       time.Duration
	Retries       int
	Backoff       []time.Duration
}

// Client 平台 HTTP 客户端
type Client struct {
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.AppMetrics
}

// NewClient 创建平台客户端
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger, m *metrics.AppMetrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg, http: httpClient, log: log, metrics: m}
}

// errorBody 平台结构化错误
type errorBody struct {
	OK        *bool  `json:"ok"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Hint      string `json:"hint"`
	RequestID string `json:"request_id"`
}

// exchange 一次 HTTP 往返的结果
type exchange struct {
	status    int
	body      []byte
	elapsed   time.Duration
	requestID string
	target    string
}

func (x *exchange) diagnostics(withBody bool) *envelope.Diagnostics {
	var body []byte
	if withBody {
		body = x.body
	}
	return envelope.NewDiagnostics(x.requestID, x.target, x.status, x.elapsed, body)
}

// requireSecrets 地址与同步密钥由部署方提供，缺失时不发请求
func (c *Client) requireSecrets() error {
	if c.cfg.BaseURL == "" {
		return envelope.ConfigMissing(config.SecretPlatformBaseURL)
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return envelope.ConfigMissing(config.SecretSyncAPIKey)
	}
	return nil
}

// send 发送请求；retries>0 时对 5xx/网络错误按 Backoff 重试（请求体不变）
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, payload any, retries int) (*exchange, error) {
	if err := c.requireSecrets(); err != nil {
		return nil, err
	}
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, envelope.Wrap(envelope.KindValidation, envelope.CodeValidationFailed, fmt.Errorf("encode %s payload: %w", op, err))
		}
		body = b
	}

	x := &exchange{requestID: uuid.NewString(), target: target}
	start := time.Now()
	defer func() {
		x.elapsed = time.Since(start)
		c.metrics.ObservePlatform(op, x.elapsed)
	}()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		req, err := c.newRequest(ctx, method, target, path, body, x.requestID)
		if err != nil {
			return x, envelope.Wrap(envelope.KindValidation, envelope.CodeValidationFailed, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("platform request failed",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.String("host", envelope.RedactHost(target)),
				zap.Error(err))
		} else {
			x.status = resp.StatusCode
			x.body, _ = io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			_ = resp.Body.Close()
			if rid := resp.Header.Get("X-Request-ID"); rid != "" {
				x.requestID = rid
			}
			lastErr = nil
			// 非2xx：仅对5xx重试
			if x.status < 500 {
				return x, nil
			}
		}
		if attempt == retries {
			break
		}
		backoff := c.cfg.Backoff[min(attempt, len(c.cfg.Backoff)-1)]
		select {
		case <-ctx.Done():
			x.elapsed = time.Since(start)
			return x, envelope.Network(ctx.Err(), x.diagnostics(false))
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		x.elapsed = time.Since(start)
		return x, envelope.Network(lastErr, x.diagnostics(false))
	}
	return x, nil
}

func (c *Client) newRequest(ctx context.Context, method, target, path string, body []byte, requestID string) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Request-ID", requestID)
	if c.cfg.SigningSecret != "" {
		ts := time.Now().Unix()
		nonce := fmt.Sprintf("%08x", rand.Uint32())
		canonical := buildCanonical(method, path, ts, nonce, hashHex(body))
		req.Header.Set("X-Signature", SignHMAC(c.cfg.SigningSecret, canonical))
		req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
		req.Header.Set("X-Nonce", nonce)
	}
	return req, nil
}

// httpError 将非 2xx 响应转换为带提示的错误：优先解析结构化错误，失败时回退到响应体片段
func httpError(x *exchange) *envelope.Error {
	diag := x.diagnostics(true)
	var eb errorBody
	msg := ""
	if err := json.Unmarshal(x.body, &eb); err == nil && (eb.Error != "" || eb.ErrorCode != "") {
		msg = eb.Error
		if eb.ErrorCode != "" {
			if msg == "" {
				msg = eb.ErrorCode
			} else {
				msg = fmt.Sprintf("%s (%s)", msg, eb.ErrorCode)
			}
		}
		if eb.RequestID != "" {
			diag.RequestID = eb.RequestID
		}
	} else if diag.Snippet != "" {
		msg = fmt.Sprintf("HTTP %d: %s", x.status, diag.Snippet)
	}
	return envelope.FromHTTPStatus(x.status, msg, diag)
}

// appError 处理 HTTP 200 + ok:false；上游未给出原因时合成兜底消息与提示
func appError(x *exchange, eb errorBody) *envelope.Error {
	diag := x.diagnostics(true)
	if eb.RequestID != "" {
		diag.RequestID = eb.RequestID
	}
	code := envelope.CodeUpstreamNoDetail
	if eb.ErrorCode != "" {
		code = envelope.Code(eb.ErrorCode)
	}
	msg := strings.TrimSpace(eb.Error)
	if msg == "" {
		msg = "the platform reported a failure without details"
	}
	e := envelope.New(envelope.KindUpstream, code, msg).WithDiagnostics(diag)
	if e.Hint == "" {
		e.Hint = envelope.HintForCode(envelope.CodeUpstreamNoDetail)
	}
	return e.WithHint(eb.Hint)
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }
