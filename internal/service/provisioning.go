package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/metrics"
	"github.com/frostguard/lora-emulator/internal/platform"
	"github.com/frostguard/lora-emulator/internal/settings"
	"github.com/frostguard/lora-emulator/internal/ttn"
)

// ProvisioningService 解析凭证后驱动 TTN 编排
type ProvisioningService struct {
	cfg      *config.Config
	resolver *settings.Resolver
	limiter  *rate.Limiter
	http     *http.Client
	log      *zap.Logger
	metrics  *metrics.AppMetrics
}

// NewProvisioningService 创建服务；limiter 在所有编排之间共享
func NewProvisioningService(cfg *config.Config, resolver *settings.Resolver, httpClient *http.Client, log *zap.Logger, m *metrics.AppMetrics) *ProvisioningService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProvisioningService{
		cfg:      cfg,
		resolver: resolver,
		limiter:  ttn.NewLimiter(cfg.TTN.RatePerSec, cfg.TTN.Burst),
		http:     httpClient,
		log:      log,
		metrics:  m,
	}
}

// ProvisionRequest 编排请求
type ProvisionRequest struct {
	UserID string   `json:"selected_user_id"`
	OrgID  string   `json:"org_id"`
	Mode   ttn.Mode `json:"mode"`
	// PreserveIdentity ABP 时保留 IS 记录，只改写会话
	PreserveIdentity bool             `json:"preserve_identity,omitempty"`
	Devices          []ttn.DeviceSpec `json:"devices"`
}

// Target 本次使用的凭证与目标应用
type Target struct {
	Source         settings.Source `json:"source"`
	ServiceKey     bool            `json:"service_key"` // 用户/组织均无凭证，使用服务级兜底密钥
	KeyFingerprint string          `json:"key_fingerprint,omitempty"`
	ApplicationID  string          `json:"application_id"`
	Cluster        string          `json:"cluster"`
	apiKey         string
}

// ProvisionReport 批量编排结果
type ProvisionReport struct {
	Target    Target                 `json:"target"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Results   []*ttn.ProvisionResult `json:"results"`
}

// ResolveTarget 用户/组织设置优先，缺少密钥时回退到 ttn.apiKey 配置；仍缺失则返回 CONFIG_MISSING
func (s *ProvisioningService) ResolveTarget(ctx context.Context, userID, orgID string) (Target, error) {
	res, err := s.resolver.Resolve(ctx, userID, orgID)
	if err != nil {
		return Target{}, envelope.Wrap(envelope.KindUpstream, envelope.CodeUpstreamError, err)
	}
	t := Target{Source: res.Source, ApplicationID: s.cfg.TTN.ApplicationID, Cluster: s.cfg.TTN.Cluster}
	if st := res.Settings; st != nil {
		if st.ApplicationID != "" {
			t.ApplicationID = st.ApplicationID
		}
		if st.Cluster != "" {
			t.Cluster = st.Cluster
		}
		if st.HasCredential() {
			t.apiKey = strings.TrimSpace(st.APIKey)
			t.KeyFingerprint = st.KeyFingerprint()
		}
	}
	if t.apiKey == "" {
		if err := s.cfg.RequireSecrets(config.SecretTTNAPIKey); err != nil {
			return t, err
		}
		t.apiKey = s.cfg.TTN.APIKey
		t.ServiceKey = true
		t.KeyFingerprint = (&settings.IntegrationSettings{APIKey: t.apiKey}).KeyFingerprint()
	}
	if strings.TrimSpace(t.ApplicationID) == "" {
		return t, envelope.Validation(envelope.CodeValidationFailed, "no TTN application id configured for this user or organization")
	}
	return t, nil
}

func (s *ProvisioningService) orchestrator(t Target) (*ttn.Orchestrator, error) {
	c, err := ttn.NewClient(ttn.Config{
		Cluster:       t.Cluster,
		ApplicationID: t.ApplicationID,
		APIKey:        t.apiKey,
		BaseURL:       s.cfg.TTN.BaseURL,
		Timeout:       s.cfg.TTN.Timeout,
	}, s.http, s.limiter, s.log, s.metrics)
	if err != nil {
		return nil, err
	}
	return ttn.NewOrchestrator(c, s.log), nil
}

// Provision 串行编排请求中的每台设备
func (s *ProvisioningService) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionReport, error) {
	if len(req.Devices) == 0 {
		return nil, envelope.Validation(envelope.CodeValidationFailed, "devices must not be empty")
	}
	t, err := s.ResolveTarget(ctx, req.UserID, req.OrgID)
	if err != nil {
		return nil, err
	}
	o, err := s.orchestrator(t)
	if err != nil {
		return nil, err
	}

	s.log.Info("ttn provisioning started",
		zap.String("org_id", req.OrgID),
		zap.String("mode", string(req.Mode)),
		zap.String("source", string(t.Source)),
		zap.Bool("service_key", t.ServiceKey),
		zap.String("key", t.KeyFingerprint),
		zap.String("application_id", t.ApplicationID),
		zap.Int("devices", len(req.Devices)))

	report := &ProvisionReport{Target: t}
	switch {
	case req.Mode == ttn.ModeABP && req.PreserveIdentity:
		for _, d := range req.Devices {
			report.Results = append(report.Results, o.SetABPOnExisting(ctx, d))
		}
	case req.Mode == ttn.ModeABP || req.Mode == ttn.ModeOTAA || req.Mode == "":
		mode := req.Mode
		if mode == "" {
			mode = ttn.ModeOTAA
		}
		report.Results = o.ProvisionBatch(ctx, mode, req.Devices)
	default:
		return nil, envelope.Validation(envelope.CodeValidationFailed, fmt.Sprintf("unknown mode %q", req.Mode))
	}
	for _, r := range report.Results {
		if r.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// PreflightReport 推送/编排前的自检
type PreflightReport struct {
	Ready            bool                  `json:"ready"`
	BundleErrors     []platform.FieldError `json:"bundle_errors,omitempty"`
	MissingSecrets   []string              `json:"missing_secrets,omitempty"`
	Target           *Target               `json:"target,omitempty"`
	TargetError      string                `json:"target_error,omitempty"`
	ClusterSupported bool                  `json:"cluster_supported"`
}

// Preflight 校验同步包、检查平台密钥，并报告 TTN 凭证将来自哪里
func (s *ProvisioningService) Preflight(ctx context.Context, bundle platform.SyncBundle) PreflightReport {
	rep := PreflightReport{BundleErrors: platform.ValidateBundle(bundle)}
	for _, name := range []string{config.SecretPlatformBaseURL, config.SecretSyncAPIKey} {
		if err := s.cfg.RequireSecrets(name); err != nil {
			rep.MissingSecrets = append(rep.MissingSecrets, name)
		}
	}

	t, err := s.ResolveTarget(ctx, bundle.Context.SelectedUserID, bundle.Context.OrgID)
	if err != nil {
		var e *envelope.Error
		if errors.As(err, &e) && e.Code == envelope.CodeConfigMissing {
			rep.MissingSecrets = append(rep.MissingSecrets, config.SecretTTNAPIKey)
		}
		rep.TargetError = err.Error()
	} else {
		rep.Target = &t
		_, rep.ClusterSupported = ttn.FrequencyPlan(t.Cluster)
	}
	rep.Ready = len(rep.BundleErrors) == 0 && len(rep.MissingSecrets) == 0 && rep.Target != nil && rep.ClusterSupported
	return rep
}
