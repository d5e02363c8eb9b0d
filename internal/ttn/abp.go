package ttn

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/frostguard/lora-emulator/internal/eui"
)

// devAddrPrefix TTN 实验网段前缀
const devAddrPrefix = "260B"

// ABPSession 合成的 ABP 会话：dev_addr 与会话密钥都由 EUI 确定性推导
type ABPSession struct {
	DevAddr string `json:"dev_addr"`
	NwkSKey string `json:"-"`
	AppSKey string `json:"-"`
}

// DeriveABPSession dev_addr = 260B + EUI 后 4 位（大写）；密钥为 16 字节、格式合法的占位值
func DeriveABPSession(e eui.EUI) ABPSession {
	return ABPSession{
		DevAddr: devAddrPrefix + strings.ToUpper(e.Last4()),
		NwkSKey: deriveKey("nwk", e),
		AppSKey: deriveKey("app", e),
	}
}

func deriveKey(label string, e eui.EUI) string {
	sum := sha256.Sum256([]byte(label + ":" + e.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}
