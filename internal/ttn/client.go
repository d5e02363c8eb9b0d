package ttn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/metrics"
)

// Config 单次编排使用的 TTN 凭证与目标
type Config struct {
	Cluster       string
	ApplicationID string
	APIKey        string
	BaseURL       string // 为空时为 https://{cluster}.cloud.thethings.network
	Timeout       time.Duration
}

// NewLimiter 创建共享的调用节流器，限制对远端注册中心的压力
func NewLimiter(ratePerSec float64, burst int) *rate.Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), burst)
}

// Client TTN v3 HTTP 客户端，每次调用返回一条 StepResult 而不是错误
type Client struct {
	cfg     Config
	host    string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.AppMetrics
}

// NewClient 创建客户端；集群不受支持时返回 TTN_UNKNOWN_CLUSTER
func NewClient(cfg Config, httpClient *http.Client, limiter *rate.Limiter, log *zap.Logger, m *metrics.AppMetrics) (*Client, error) {
	cfg.Cluster = strings.ToLower(strings.TrimSpace(cfg.Cluster))
	if _, ok := FrequencyPlan(cfg.Cluster); !ok {
		return nil, envelope.Validation(envelope.CodeTTNUnknownRegion, fmt.Sprintf("unsupported TTN cluster %q", cfg.Cluster))
	}
	if strings.TrimSpace(cfg.ApplicationID) == "" {
		return nil, envelope.Validation(envelope.CodeValidationFailed, "TTN application id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.cloud.thethings.network", cfg.Cluster)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		host:    cfg.Cluster + ".cloud.thethings.network",
		http:    httpClient,
		limiter: limiter,
		log:     log,
		metrics: m,
	}, nil
}

// ServerHost 写入设备记录的服务地址
func (c *Client) ServerHost() string { return c.host }

// ApplicationID 目标应用
func (c *Client) ApplicationID() string { return c.cfg.ApplicationID }

// 四个服务角色的设备路径
func (c *Client) isPath(deviceID string) string {
	p := "/api/v3/applications/" + url.PathEscape(c.cfg.ApplicationID) + "/devices"
	if deviceID != "" {
		p += "/" + url.PathEscape(deviceID)
	}
	return p
}

func (c *Client) rolePath(role, deviceID string) string {
	return "/api/v3/" + role + "/applications/" + url.PathEscape(c.cfg.ApplicationID) + "/devices/" + url.PathEscape(deviceID)
}

func (c *Client) nsPath(deviceID string) string { return c.rolePath("ns", deviceID) }
func (c *Client) asPath(deviceID string) string { return c.rolePath("as", deviceID) }
func (c *Client) jsPath(deviceID string) string { return c.rolePath("js", deviceID) }

// do 执行一步调用；okStatus 中的状态码额外视为成功（如创建时的 409、删除时的 404）
func (c *Client) do(ctx context.Context, step, method, path string, payload any, okStatus ...int) StepResult {
	res := StepResult{Step: step, Method: method, Path: path}
	start := time.Now()
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		c.metrics.IncTTNStep(step, res.OK)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		res.Error = "rate limiter: " + err.Error()
		return res
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			res.Error = "encode payload: " + err.Error()
			return res
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		res.Error = err.Error()
		c.log.Warn("ttn request failed", zap.String("step", step), zap.String("path", path), zap.Error(err))
		return res
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	res.HTTPStatus = resp.StatusCode
	res.Snippet = envelope.Snippet(raw, envelope.SnippetLimit)
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range okStatus {
		if resp.StatusCode == s {
			res.OK = true
		}
	}
	c.log.Debug("ttn step",
		zap.String("step", step),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("ok", res.OK))
	return res
}
