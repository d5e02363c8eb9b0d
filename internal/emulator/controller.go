package emulator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/eui"
	"github.com/frostguard/lora-emulator/internal/metrics"
	"github.com/frostguard/lora-emulator/internal/platform"
)

// PlatformAPI 控制器依赖的平台接口
type PlatformAPI interface {
	PullOrgState(ctx context.Context, orgID string) (*platform.PullResult, error)
	PushSync(ctx context.Context, bundle platform.SyncBundle) (*platform.PushResponse, error)
	BackfillCredentials(ctx context.Context, orgID string, devices []platform.BackfillDevice) ([]platform.BackfillResult, error)
}

// Options 控制器可选参数
type Options struct {
	FreshnessWindow time.Duration
	BackfillTimeout time.Duration
	Now             func() time.Time
	NewID           func() string
	Logger          *zap.Logger
	Metrics         *metrics.AppMetrics
}

// Controller 唯一的会话状态持有者。
// mu 只保护内存状态，不跨越网络调用；拉取替换与凭证补全均整体替换/合并。
type Controller struct {
	mu    sync.Mutex
	state State
	retry *RetryTracker

	api     PlatformAPI
	store   KVStore
	log     *zap.Logger
	metrics *metrics.AppMetrics

	window          time.Duration
	backfillTimeout time.Duration
	now             func() time.Time

	wg sync.WaitGroup
}

// NewController 创建控制器
func NewController(api PlatformAPI, store KVStore, opts Options) *Controller {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = DefaultFreshnessWindow
	}
	if opts.BackfillTimeout <= 0 {
		opts.BackfillTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Controller{
		retry:           NewRetryTracker(opts.NewID),
		api:             api,
		store:           store,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		window:          opts.FreshnessWindow,
		backfillTimeout: opts.BackfillTimeout,
		now:             opts.Now,
	}
	c.state.Retry = c.retry.State()
	return c
}

// State 返回当前状态副本
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Retry = c.retry.State()
	return c.state.clone()
}

// Wait 等待后台任务（凭证补全）结束
func (c *Controller) Wait() { c.wg.Wait() }

// Restore 从本地快照恢复会话；过期或版本不符的快照被删除
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	raw, ok, err := c.store.Get(ctx, KeySessionSnapshot)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	snap, err := DecodeSnapshot(raw, c.now(), c.window)
	if err != nil {
		c.log.Info("discarding session snapshot", zap.Error(err))
		_ = c.store.Delete(ctx, KeySessionSnapshot)
		_ = c.store.Delete(ctx, KeyOfflineCache)
		if errors.Is(err, ErrSnapshotExpired) || errors.Is(err, ErrSnapshotVersion) {
			return false, nil
		}
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Org: snap.Org, Sites: snap.Sites, Gateways: snap.Gateways, Devices: snap.Devices}
	c.retry.restore(snap.Retry)

	if raw, ok, err := c.store.Get(ctx, KeyOfflineCache); err == nil && ok {
		if cache, err := DecodeOfflineCache(raw); err == nil && snap.Org != nil && cache.OrgID == snap.Org.OrgID && cache.SavedAt.After(snap.SavedAt) {
			c.state.Gateways = cache.Gateways
			c.state.Devices = cache.Devices
			c.retry.Invalidate()
			c.log.Info("offline edits restored", zap.Int("devices", len(cache.Devices)), zap.Int("gateways", len(cache.Gateways)))
		}
	}
	c.state.Retry = c.retry.State()
	return true, nil
}

// PullRequest 选择组织并拉取
type PullRequest struct {
	OrgID           string `json:"org_id"`
	UserID          string `json:"selected_user_id"`
	DefaultSiteHint string `json:"default_site_hint,omitempty"`
}

// PullSummary 拉取替换后的摘要
type PullSummary struct {
	OrgID           string                `json:"org_id"`
	OrgName         string                `json:"org_name"`
	SiteID          string                `json:"site_id,omitempty"`
	SiteSource      SiteSource            `json:"site_source"`
	Diff            Diff                  `json:"diff"`
	DiffText        string                `json:"diff_text"`
	SyncVersion     int64                 `json:"sync_version"`
	Devices         int                   `json:"devices"`
	Gateways        int                   `json:"gateways"`
	BackfillPending int                   `json:"backfill_pending"`
	InvalidEUIs     []string              `json:"invalid_euis,omitempty"`
	Diagnostics     *envelope.Diagnostics `json:"diagnostics,omitempty"`
}

// Pull 拉取组织状态并整体替换本地状态
func (c *Controller) Pull(ctx context.Context, req PullRequest) (*PullSummary, error) {
	res, err := c.api.PullOrgState(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	summary := c.ApplyPullResult(ctx, req, res)
	return summary, nil
}

// ApplyPullResult 整体替换（不合并）本地网关/设备列表，清除离线缓存，持久化快照，并启动凭证补全
func (c *Controller) ApplyPullResult(ctx context.Context, req PullRequest, res *platform.PullResult) *PullSummary {
	snap := res.Snapshot
	sites := make([]Site, 0, len(snap.Sites))
	for _, s := range snap.Sites {
		sites = append(sites, Site{ID: s.ID, Name: s.Name, IsDefault: s.IsDefault})
	}
	gateways := make([]Gateway, 0, len(snap.Gateways))
	for _, g := range snap.Gateways {
		gateways = append(gateways, Gateway{ID: g.ID, Name: g.Name, EUI: canonicalEUI(g.GatewayEUI), IsOnline: g.IsOnline})
	}
	devices := make([]Device, 0, len(snap.Sensors))
	var invalid []string
	var missing []platform.BackfillDevice
	for _, s := range snap.Sensors {
		d := deviceFromSensor(s)
		if _, ok := eui.Normalize(d.DevEUI); !ok {
			invalid = append(invalid, s.DevEUI)
		} else if !d.HasOTAACredentials() {
			missing = append(missing, platform.BackfillDevice{ID: d.ID, DevEUI: d.DevEUI})
		}
		devices = append(devices, d)
	}

	siteID, siteSource := SelectSite(sites, req.DefaultSiteHint)
	now := c.now()
	org := &OrgContext{
		OrgID:           req.OrgID,
		OrgName:         snap.Organization.Name,
		SiteID:          siteID,
		SelectedUserID:  req.UserID,
		ContextSetAt:    now,
		LastSyncVersion: snap.SyncVersion,
	}
	if snap.TTN != nil {
		org.TTN = &TTNContext{
			Enabled:            snap.TTN.Enabled,
			ApplicationID:      snap.TTN.ApplicationID,
			Cluster:            snap.TTN.Cluster,
			APIKeyLast4:        snap.TTN.APIKeyLast4,
			WebhookSecretLast4: snap.TTN.WebhookSecretLast4,
		}
	}

	c.mu.Lock()
	diff := DiffEntities(c.state.Devices, devices, c.state.Gateways, gateways)
	if prev := c.state.Org; prev != nil && prev.OrgID == req.OrgID {
		org.LastSyncRunID = prev.LastSyncRunID
		org.LastSyncSummary = prev.LastSyncSummary
		org.LastSyncAt = prev.LastSyncAt
	}
	c.state = State{Org: org, Sites: sites, Gateways: gateways, Devices: devices, LastDiff: &diff}
	c.retry.Invalidate()
	c.state.Retry = c.retry.State()
	payload, encErr := EncodeSnapshot(c.state, now)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, KeyOfflineCache); err != nil {
		c.log.Warn("clear offline cache failed", zap.Error(err))
	}
	c.persist(ctx, payload, encErr)

	c.log.Info("org state replaced",
		zap.String("org_id", req.OrgID),
		zap.String("site_id", siteID),
		zap.String("site_source", string(siteSource)),
		zap.String("diff", diff.Text()),
		zap.Int("invalid_euis", len(invalid)))

	if len(missing) > 0 {
		c.startBackfill(req.OrgID, missing)
	}

	return &PullSummary{
		OrgID:           req.OrgID,
		OrgName:         org.OrgName,
		SiteID:          siteID,
		SiteSource:      siteSource,
		Diff:            diff,
		DiffText:        diff.Text(),
		SyncVersion:     snap.SyncVersion,
		Devices:         len(devices),
		Gateways:        len(gateways),
		BackfillPending: len(missing),
		InvalidEUIs:     invalid,
		Diagnostics:     res.Diagnostics,
	}
}

func deviceFromSensor(s platform.Sensor) Device {
	d := Device{
		ID:        s.ID,
		Name:      s.Name,
		DevEUI:    canonicalEUI(s.DevEUI),
		JoinEUI:   canonicalEUI(deref(s.JoinEUI)),
		AppKey:    strings.TrimSpace(deref(s.AppKey)),
		Type:      ParseDeviceType(s.SensorType),
		GatewayID: deref(s.GatewayID),
		SiteID:    deref(s.SiteID),
		UnitID:    deref(s.UnitID),
	}
	if d.HasOTAACredentials() {
		d.CredentialSource = CredentialPlatformPull
		d.CredentialsLocked = true
	}
	return d
}

// startBackfill 后台补全凭证，失败只记录日志
func (c *Controller) startBackfill(orgID string, devices []platform.BackfillDevice) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.backfillTimeout)
		defer cancel()

		results, err := c.api.BackfillCredentials(ctx, orgID, devices)
		if err != nil {
			c.metrics.IncBackfill("error")
			c.log.Warn("credential backfill failed", zap.String("org_id", orgID), zap.Int("devices", len(devices)), zap.Error(err))
			return
		}
		merged := c.ApplyBackfillResult(ctx, orgID, results)
		c.metrics.IncBackfill("ok")
		c.log.Info("credential backfill applied", zap.String("org_id", orgID), zap.Int("requested", len(devices)), zap.Int("merged", merged))
	}()
}

// ApplyBackfillResult 合并平台生成的凭证；组织已切换时丢弃。返回合并数量
func (c *Controller) ApplyBackfillResult(ctx context.Context, orgID string, results []platform.BackfillResult) int {
	c.mu.Lock()
	if c.state.Org == nil || c.state.Org.OrgID != orgID {
		c.mu.Unlock()
		return 0
	}
	byID := make(map[string]platform.BackfillResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	merged := 0
	for i := range c.state.Devices {
		d := &c.state.Devices[i]
		r, ok := byID[d.ID]
		if !ok || d.HasOTAACredentials() {
			continue
		}
		d.JoinEUI = canonicalEUI(r.JoinEUI)
		d.AppKey = strings.TrimSpace(r.AppKey)
		d.CredentialSource = CredentialPlatformGenerated
		d.CredentialsLocked = true
		merged++
	}
	var payload []byte
	var encErr error
	if merged > 0 {
		// 凭证进入同步包，已失败的 sync_run_id 不能再复用
		c.retry.Invalidate()
		c.state.Retry = c.retry.State()
		payload, encErr = EncodeSnapshot(c.state, c.now())
	}
	c.mu.Unlock()

	if merged > 0 {
		c.persist(ctx, payload, encErr)
	}
	return merged
}

// Push 校验并推送本地状态；永不返回 error，所有失败都体现在 SyncOutcome 中
func (c *Controller) Push(ctx context.Context) SyncOutcome {
	c.mu.Lock()
	if c.state.Org == nil {
		c.mu.Unlock()
		return FailedOutcome("", envelope.New(envelope.KindValidation, envelope.CodeNoOrgContext, "no organization selected"))
	}
	bundle := c.buildBundleLocked()
	if errs := platform.ValidateBundle(bundle); len(errs) > 0 {
		c.mu.Unlock()
		c.metrics.IncPush("invalid")
		return ValidationOutcome(errs)
	}
	bundle.SyncRunID = c.retry.Begin()
	bundle.InitiatedAt = c.now().UTC()
	c.state.Retry = c.retry.State()
	c.mu.Unlock()

	c.log.Info("sync push started",
		zap.String("sync_run_id", bundle.SyncRunID),
		zap.Int("devices", len(bundle.Entities.Devices)),
		zap.Int("gateways", len(bundle.Entities.Gateways)))

	resp, err := c.api.PushSync(ctx, bundle)
	return c.ApplyPushResult(ctx, bundle.SyncRunID, resp, err)
}

// ApplyPushResult 根据推送结果推进重试状态机并记录同步元数据
func (c *Controller) ApplyPushResult(ctx context.Context, runID string, resp *platform.PushResponse, err error) SyncOutcome {
	var out SyncOutcome
	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("empty sync response")
		}
		out = FailedOutcome(runID, err)
	} else {
		out = ClassifyPush(runID, resp)
	}
	c.metrics.IncPush(string(out.Kind))

	c.mu.Lock()
	current := false
	if out.Kind == OutcomeSuccess {
		current = c.retry.Succeed(runID)
		if current && c.state.Org != nil {
			at := c.now()
			c.state.Org.LastSyncRunID = runID
			c.state.Org.LastSyncSummary = out.Summary
			c.state.Org.LastSyncAt = &at
		}
	} else {
		current = c.retry.Fail(runID)
	}
	if !current {
		c.log.Info("stale push completion ignored", zap.String("sync_run_id", runID), zap.String("outcome", string(out.Kind)))
	}
	c.state.Retry = c.retry.State()
	payload, encErr := EncodeSnapshot(c.state, c.now())
	c.mu.Unlock()
	c.persist(ctx, payload, encErr)

	if out.Kind == OutcomeSuccess {
		c.log.Info("sync push succeeded", zap.String("sync_run_id", runID), zap.String("summary", out.Summary))
	} else {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.String())
		}
		c.log.Warn("sync push not fully applied",
			zap.String("sync_run_id", runID),
			zap.String("outcome", string(out.Kind)),
			zap.String("code", string(out.Code)),
			zap.Strings("errors", msgs))
	}
	return out
}

// Bundle 构造当前同步包（不含 sync_run_id），供预检使用
func (c *Controller) Bundle() platform.SyncBundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildBundleLocked()
}

func (c *Controller) buildBundleLocked() platform.SyncBundle {
	b := platform.SyncBundle{
		Entities: platform.SyncEntities{
			Gateways: make([]platform.BundleGateway, 0, len(c.state.Gateways)),
			Devices:  make([]platform.BundleDevice, 0, len(c.state.Devices)),
		},
	}
	if org := c.state.Org; org != nil {
		b.Context = platform.SyncContext{OrgID: org.OrgID, SiteID: org.SiteID, SelectedUserID: org.SelectedUserID}
	}
	for _, g := range c.state.Gateways {
		b.Entities.Gateways = append(b.Entities.Gateways, platform.BundleGateway{
			ID: g.ID, Name: g.Name, GatewayEUI: g.EUI, IsOnline: g.IsOnline,
		})
	}
	for _, d := range c.state.Devices {
		site := d.SiteID
		if site == "" {
			site = b.Context.SiteID
		}
		b.Entities.Devices = append(b.Entities.Devices, platform.BundleDevice{
			ID:         d.ID,
			Name:       d.Name,
			DevEUI:     d.DevEUI,
			JoinEUI:    d.JoinEUI,
			AppKey:     d.AppKey,
			SensorType: string(d.Type),
			GatewayID:  d.GatewayID,
			SiteID:     site,
			UnitID:     d.UnitID,
		})
	}
	return b
}

func (c *Controller) persist(ctx context.Context, payload []byte, encErr error) {
	if encErr != nil {
		c.log.Warn("encode session snapshot failed", zap.Error(encErr))
		return
	}
	if err := c.store.Put(ctx, KeySessionSnapshot, payload); err != nil {
		c.log.Warn("persist session snapshot failed", zap.Error(err))
	}
}

func canonicalEUI(raw string) string {
	if n, ok := eui.Normalize(raw); ok {
		return n.String()
	}
	return strings.TrimSpace(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
