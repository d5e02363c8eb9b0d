package emulator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/eui"
)

// 本地编辑：每次变更都会使 sync_run_id 失效并写入离线缓存

// UpsertDevice 新增或替换设备；force=false 时不允许覆盖锁定的凭证
func (c *Controller) UpsertDevice(ctx context.Context, d Device, force bool) (Device, error) {
	if _, ok := eui.Normalize(d.DevEUI); !ok {
		return Device{}, envelope.Validation(envelope.CodeInvalidEUI, fmt.Sprintf("invalid dev_eui %q", d.DevEUI))
	}
	d.DevEUI = canonicalEUI(d.DevEUI)
	d.JoinEUI = canonicalEUI(d.JoinEUI)
	d.AppKey = strings.TrimSpace(d.AppKey)
	if d.Type == "" {
		d.Type = DeviceTemperature
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	c.mu.Lock()
	idx := c.deviceIndexLocked(d.ID)
	if idx >= 0 {
		prev := c.state.Devices[idx]
		if d.JoinEUI == "" && d.AppKey == "" {
			// 未携带凭证视为保持不变
			d.JoinEUI, d.AppKey = prev.JoinEUI, prev.AppKey
		}
		credsChanged := prev.JoinEUI != d.JoinEUI || prev.AppKey != d.AppKey
		switch {
		case prev.CredentialsLocked && credsChanged && !force:
			c.mu.Unlock()
			return Device{}, envelope.New(envelope.KindValidation, envelope.CodeCredentialsLock,
				fmt.Sprintf("credentials of device %s are locked", d.ID))
		case credsChanged && d.HasOTAACredentials():
			d.CredentialSource = CredentialManualOverride
			d.CredentialsLocked = false
		default:
			d.CredentialSource = prev.CredentialSource
			d.CredentialsLocked = prev.CredentialsLocked
		}
		if d.TTNDeviceID == "" {
			d.TTNDeviceID = prev.TTNDeviceID
		}
		c.state.Devices[idx] = d
	} else {
		if d.HasOTAACredentials() && d.CredentialSource == "" {
			d.CredentialSource = CredentialManualOverride
		}
		c.state.Devices = append(c.state.Devices, d)
	}
	c.touchLocked(ctx)
	c.mu.Unlock()
	return d, nil
}

// RemoveDevice 删除设备，返回是否存在
func (c *Controller) RemoveDevice(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.deviceIndexLocked(id)
	if idx < 0 {
		return false
	}
	c.state.Devices = append(c.state.Devices[:idx], c.state.Devices[idx+1:]...)
	c.touchLocked(ctx)
	return true
}

// UpsertGateway 新增或替换网关
func (c *Controller) UpsertGateway(ctx context.Context, g Gateway) (Gateway, error) {
	if strings.TrimSpace(g.EUI) == "" {
		return Gateway{}, envelope.Validation(envelope.CodeValidationFailed, "gateway eui is required")
	}
	g.EUI = canonicalEUI(g.EUI)
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := false
	for i := range c.state.Gateways {
		if c.state.Gateways[i].ID == g.ID {
			c.state.Gateways[i] = g
			replaced = true
			break
		}
	}
	if !replaced {
		c.state.Gateways = append(c.state.Gateways, g)
	}
	c.touchLocked(ctx)
	return g, nil
}

// RemoveGateway 删除网关，并解除设备对它的引用
func (c *Controller) RemoveGateway(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state.Gateways {
		if c.state.Gateways[i].ID != id {
			continue
		}
		c.state.Gateways = append(c.state.Gateways[:i], c.state.Gateways[i+1:]...)
		for j := range c.state.Devices {
			if c.state.Devices[j].GatewayID == id {
				c.state.Devices[j].GatewayID = ""
			}
		}
		c.touchLocked(ctx)
		return true
	}
	return false
}

// SetDeviceCredentials 手动设置 OTAA 凭证；锁定的凭证需 force
func (c *Controller) SetDeviceCredentials(ctx context.Context, id, joinEUI, appKey string, force bool) (Device, error) {
	if _, ok := eui.Normalize(joinEUI); !ok {
		return Device{}, envelope.Validation(envelope.CodeInvalidEUI, fmt.Sprintf("invalid join_eui %q", joinEUI))
	}
	if !isHexKey(appKey) {
		return Device{}, envelope.Validation(envelope.CodeValidationFailed, "app_key must be 32 hex characters")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.deviceIndexLocked(id)
	if idx < 0 {
		return Device{}, envelope.New(envelope.KindNotFound, envelope.CodeNotFound, fmt.Sprintf("device %s not found", id))
	}
	d := &c.state.Devices[idx]
	if d.CredentialsLocked && !force {
		return Device{}, envelope.New(envelope.KindValidation, envelope.CodeCredentialsLock,
			fmt.Sprintf("credentials of device %s are locked", id))
	}
	d.JoinEUI = canonicalEUI(joinEUI)
	d.AppKey = strings.ToUpper(strings.TrimSpace(appKey))
	d.CredentialSource = CredentialManualOverride
	d.CredentialsLocked = false
	out := *d
	c.touchLocked(ctx)
	return out, nil
}

// GenerateCredentials 为缺少凭证的设备本地生成随机 OTAA 凭证；已有凭证的设备不动
func (c *Controller) GenerateCredentials(ctx context.Context, id string) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.deviceIndexLocked(id)
	if idx < 0 {
		return Device{}, envelope.New(envelope.KindNotFound, envelope.CodeNotFound, fmt.Sprintf("device %s not found", id))
	}
	d := &c.state.Devices[idx]
	if d.HasOTAACredentials() {
		return *d, nil
	}
	join, err := randomHex(8)
	if err != nil {
		return Device{}, err
	}
	key, err := randomHex(16)
	if err != nil {
		return Device{}, err
	}
	d.JoinEUI = strings.ToLower(join)
	d.AppKey = key
	d.CredentialSource = CredentialLocalGenerated
	d.CredentialsLocked = false
	out := *d
	c.touchLocked(ctx)
	return out, nil
}

// SetSite 手动切换站点
func (c *Controller) SetSite(ctx context.Context, siteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Org == nil {
		return envelope.New(envelope.KindValidation, envelope.CodeNoOrgContext, "no organization selected")
	}
	c.state.Org.SiteID = siteID
	c.touchLocked(ctx)
	return nil
}

// Reset 清空会话及本地持久化
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.state = State{}
	c.retry.Invalidate()
	c.state.Retry = c.retry.State()
	c.mu.Unlock()
	if err := c.store.Delete(ctx, KeyOfflineCache); err != nil {
		return err
	}
	return c.store.Delete(ctx, KeySessionSnapshot)
}

func (c *Controller) deviceIndexLocked(id string) int {
	for i := range c.state.Devices {
		if c.state.Devices[i].ID == id {
			return i
		}
	}
	return -1
}

// touchLocked 调用方持有 mu
func (c *Controller) touchLocked(ctx context.Context) {
	c.retry.Invalidate()
	c.state.Retry = c.retry.State()
	orgID := ""
	if c.state.Org != nil {
		orgID = c.state.Org.OrgID
	}
	payload, err := EncodeOfflineCache(orgID, c.state.Gateways, c.state.Devices, c.now())
	if err != nil {
		c.log.Warn("encode offline cache failed", zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, KeyOfflineCache, payload); err != nil {
		c.log.Warn("persist offline cache failed", zap.Error(err))
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate credentials: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func isHexKey(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
