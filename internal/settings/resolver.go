// Package settings 解析 TTN 集成配置：用户级优先，组织级兜底
package settings

import (
	"context"
	"fmt"
	"strings"
)

// Source 配置来源
type Source string

const (
	SourceUser Source = "user"
	SourceOrg  Source = "org"
	SourceNone Source = "none"
)

// IntegrationSettings TTN 集成配置
type IntegrationSettings struct {
	ApplicationID string `json:"application_id"`
	Cluster       string `json:"cluster"`
	APIKey        string `json:"-"`
	WebhookSecret string `json:"-"`
	Enabled       bool   `json:"enabled"`
}

// HasCredential 是否携带可用的 API Key
func (s *IntegrationSettings) HasCredential() bool {
	return s != nil && strings.TrimSpace(s.APIKey) != ""
}

// KeyFingerprint 密钥指纹（仅后 4 位），用于展示与审计
func (s *IntegrationSettings) KeyFingerprint() string {
	if !s.HasCredential() {
		return ""
	}
	k := strings.TrimSpace(s.APIKey)
	if len(k) <= 4 {
		return "****"
	}
	return "****" + k[len(k)-4:]
}

// Store 配置读取接口；不存在时返回 (nil, nil)
type Store interface {
	UserSettings(ctx context.Context, userID string) (*IntegrationSettings, error)
	OrgSettings(ctx context.Context, orgID string) (*IntegrationSettings, error)
}

// Resolution 解析结果，Source 说明使用了哪一套凭证
type Resolution struct {
	Settings *IntegrationSettings `json:"settings,omitempty"`
	Source   Source               `json:"source"`
}

// Resolver 配置解析器
type Resolver struct {
	store Store
}

// NewResolver 创建解析器
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve 按 用户凭证 -> 组织凭证(合并用户非凭证字段) -> 用户残缺记录 -> none 的顺序解析
func (r *Resolver) Resolve(ctx context.Context, userID, orgID string) (Resolution, error) {
	var user *IntegrationSettings
	if userID != "" {
		u, err := r.store.UserSettings(ctx, userID)
		if err != nil {
			return Resolution{Source: SourceNone}, fmt.Errorf("load user settings: %w", err)
		}
		user = u
	}
	if user.HasCredential() {
		return Resolution{Settings: clone(user), Source: SourceUser}, nil
	}

	if orgID != "" {
		org, err := r.store.OrgSettings(ctx, orgID)
		if err != nil {
			return Resolution{Source: SourceNone}, fmt.Errorf("load org settings: %w", err)
		}
		if org.HasCredential() {
			merged := clone(org)
			if user != nil {
				if user.ApplicationID != "" {
					merged.ApplicationID = user.ApplicationID
				}
				if user.Cluster != "" {
					merged.Cluster = user.Cluster
				}
			}
			return Resolution{Settings: merged, Source: SourceOrg}, nil
		}
	}

	if user != nil {
		return Resolution{Settings: clone(user), Source: SourceUser}, nil
	}
	return Resolution{Source: SourceNone}, nil
}

func clone(s *IntegrationSettings) *IntegrationSettings {
	c := *s
	return &c
}
