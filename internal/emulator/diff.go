package emulator

import "fmt"

// Diff 拉取前后实体 ID 集合的差异，仅用于展示摘要
type Diff struct {
	DevicesAdded    int `json:"devices_added"`
	DevicesRemoved  int `json:"devices_removed"`
	GatewaysAdded   int `json:"gateways_added"`
	GatewaysRemoved int `json:"gateways_removed"`
}

// Text 摘要文本
func (d Diff) Text() string {
	if d == (Diff{}) {
		return "no changes"
	}
	return fmt.Sprintf("devices +%d/-%d, gateways +%d/-%d",
		d.DevicesAdded, d.DevicesRemoved, d.GatewaysAdded, d.GatewaysRemoved)
}

// DiffIDs 计算 ID 集合的新增/删除数量
func DiffIDs(prev, next []string) (added, removed int) {
	before := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		before[id] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, id := range next {
		after[id] = struct{}{}
		if _, ok := before[id]; !ok {
			added++
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			removed++
		}
	}
	return added, removed
}

// DiffEntities 比较两份设备/网关列表
func DiffEntities(prevDevices, nextDevices []Device, prevGateways, nextGateways []Gateway) Diff {
	var d Diff
	d.DevicesAdded, d.DevicesRemoved = DiffIDs(deviceIDs(prevDevices), deviceIDs(nextDevices))
	d.GatewaysAdded, d.GatewaysRemoved = DiffIDs(gatewayIDs(prevGateways), gatewayIDs(nextGateways))
	return d
}

func deviceIDs(ds []Device) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}

func gatewayIDs(gs []Gateway) []string {
	ids := make([]string, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	return ids
}

// SiteSource 站点选择来源
type SiteSource string

const (
	SiteFromDefault SiteSource = "default"
	SiteFromFirst   SiteSource = "first"
	SiteFromProfile SiteSource = "profile"
	SiteNone        SiteSource = "none"
)

// SelectSite 站点自动选择：平台默认站点 -> 列表第一个 -> 用户资料中的默认站点 -> 无（组织级）
func SelectSite(sites []Site, profileHint string) (string, SiteSource) {
	for _, s := range sites {
		if s.IsDefault {
			return s.ID, SiteFromDefault
		}
	}
	if len(sites) > 0 {
		return sites[0].ID, SiteFromFirst
	}
	if profileHint != "" {
		return profileHint, SiteFromProfile
	}
	return "", SiteNone
}
