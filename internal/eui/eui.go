// Package eui 设备标识规范化：DevEUI / JoinEUI / 网关 EUI 以及远端注册 ID 推导
package eui

import (
	"strings"
)

const (
	// 规范化后的 EUI 长度（64 位 = 16 个十六进制字符）
	hexLen = 16

	registryPrefix = "sensor-"
	legacyPrefix   = "eui-"
)

// EUI 规范化后的标识：16 位小写十六进制，无分隔符
// 零值表示无效，调用方必须先判断 ok
type EUI string

var separators = strings.NewReplacer(":", "", "-", "", " ", "", "\t", "")

// Normalize 去除冒号/空格/连字符分隔符并转小写，要求恰好 16 个十六进制字符
// 不满足条件时返回 ("", false)，不会 panic
func Normalize(raw string) (EUI, bool) {
	s := strings.ToLower(separators.Replace(strings.TrimSpace(raw)))
	if len(s) != hexLen {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return EUI(s), true
}

// IsValid 报告 raw 是否能规范化
func IsValid(raw string) bool {
	_, ok := Normalize(raw)
	return ok
}

// String 小写形式
func (e EUI) String() string { return string(e) }

// Upper 大写形式（TTN API 使用）
func (e EUI) Upper() string { return strings.ToUpper(string(e)) }

// Last4 末尾 4 个十六进制字符
func (e EUI) Last4() string {
	if len(e) < 4 {
		return ""
	}
	return string(e[len(e)-4:])
}

// RegistryID 远端设备注册 ID：sensor-{eui}
// 仅对有效 EUI 定义，零值返回空串
func (e EUI) RegistryID() string {
	if e == "" {
		return ""
	}
	return registryPrefix + string(e)
}

// DeviceRegistryID 从原始输入推导注册 ID
func DeviceRegistryID(raw string) (string, bool) {
	e, ok := Normalize(raw)
	if !ok {
		return "", false
	}
	return e.RegistryID(), true
}

// UpgradeLegacyID 将旧的 eui-{eui} 形式改写为 sensor-{eui}
// 返回值 changed 表示是否发生改写；无法识别的 ID 原样返回
func UpgradeLegacyID(id string) (upgraded string, changed bool) {
	trimmed := strings.TrimSpace(id)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, legacyPrefix):
		e, ok := Normalize(trimmed[len(legacyPrefix):])
		if !ok {
			return id, false
		}
		return e.RegistryID(), true
	case strings.HasPrefix(lower, registryPrefix):
		e, ok := Normalize(trimmed[len(registryPrefix):])
		if !ok {
			return id, false
		}
		canonical := e.RegistryID()
		return canonical, canonical != id
	}
	return id, false
}

// EUIFromRegistryID 从注册 ID（新旧两种形式）反推 EUI
func EUIFromRegistryID(id string) (EUI, bool) {
	upgraded, _ := UpgradeLegacyID(id)
	if !strings.HasPrefix(upgraded, registryPrefix) {
		return "", false
	}
	return Normalize(upgraded[len(registryPrefix):])
}
