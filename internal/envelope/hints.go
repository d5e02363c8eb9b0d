package envelope

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// HintCatalog 提示文案表：按 HTTP 状态码和错误码查表
type HintCatalog struct {
	Status map[int]string  `yaml:"status"`
	Codes  map[Code]string `yaml:"codes"`
}

// DefaultHintCatalog 内置提示文案
func DefaultHintCatalog() *HintCatalog {
	return &HintCatalog{
		Status: map[int]string{
			400: "The request was rejected as malformed. Check the submitted identifiers and fields.",
			401: "The API key was rejected. Generate a new key and update the integration settings.",
			403: "The API key lacks the required rights. Create a key with more rights (devices read/write) for this application.",
			404: "The endpoint or organization was not found. Verify the platform URL and that the organization exists.",
			409: "The resource already exists.",
			429: "The remote service is rate limiting requests. Wait a moment and retry.",
			500: "The remote service failed. This is usually transient; retry shortly.",
			502: "The remote gateway failed. This is usually transient; retry shortly.",
			503: "The remote service is unavailable. This is usually transient; retry shortly.",
			504: "The remote service timed out. This is usually transient; retry shortly.",
		},
		Codes: map[Code]string{
			CodeInvalidOrgID:         "Select a valid organization before pulling state.",
			CodeValidationFailed:     "Fix the listed fields and try again.",
			CodeInvalidEUI:           "DevEUI must be exactly 16 hex characters (separators are ignored).",
			CodeUnauthorized:         "The API key was rejected. Generate a new key and update the integration settings.",
			CodeForbidden:            "The API key lacks the required rights. Create a key with more rights for this application.",
			CodeNotFound:             "The requested resource does not exist upstream.",
			CodeUpstreamError:        "The remote service reported a failure. Retry, and contact support with the request id if it persists.",
			CodeUpstreamNoDetail:     "The remote service reported a failure without details. Retry, and contact support with the request id if it persists.",
			CodeNetworkError:         "The remote service could not be reached. Check connectivity and retry.",
			CodePartialFailure:       "Some entities failed to sync. Review the failed entries and retry.",
			CodeCredentialsLock:      "Credentials came from the platform and are locked. Use an explicit override to replace them.",
			CodeNoOrgContext:         "Select an organization first.",
			CodeLockHeld:             "Another operator is using the emulator for this organization. Wait or take over the session.",
			CodeLockLost:             "The emulator session lock was taken over or expired. Re-acquire it before continuing.",
			CodeTTNNotVisible:        "The device is registered but not visible on the Application Server, so uplinks will be dropped. Re-provision the device or check the API key rights for the Application Server.",
			CodeTTNDeviceAbsent:      "The device does not exist in TTN. Provision it before setting an ABP session.",
			CodeTTNStepFailed:        "A TTN registration step failed. Inspect the step trace for the failing server.",
			CodeTTNUnknownRegion:     "Choose one of the supported TTN clusters: eu1, nam1, au1.",
			CodeWebhookSecretMissing: "This application requires the x-webhook-secret header.",
			CodeWebhookSecretInvalid: "The x-webhook-secret header does not match the configured secret.",
			CodeWebhookBadPayload:    "The uplink payload could not be parsed.",
			CodeWebhookHistoryWrite:  "The uplink could not be recorded; the sender should retry delivery.",
		},
	}
}

var (
	catalogMu sync.RWMutex
	catalog   = DefaultHintCatalog()
)

// LoadHintCatalog 从 YAML 文件加载提示文案
func LoadHintCatalog(path string) (*HintCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hint catalog: %w", err)
	}
	var c HintCatalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal hint catalog: %w", err)
	}
	if c.Status == nil {
		c.Status = make(map[int]string)
	}
	if c.Codes == nil {
		c.Codes = make(map[Code]string)
	}
	return &c, nil
}

// Merge 用 other 覆盖同名条目
func (c *HintCatalog) Merge(other *HintCatalog) {
	if c == nil || other == nil {
		return
	}
	for k, v := range other.Status {
		c.Status[k] = v
	}
	for k, v := range other.Codes {
		c.Codes[k] = v
	}
}

// UseHintCatalog 替换当前生效的提示表
func UseHintCatalog(c *HintCatalog) {
	if c == nil {
		return
	}
	catalogMu.Lock()
	catalog = c
	catalogMu.Unlock()
}

// HintForStatus 按 HTTP 状态码查提示；5xx 未单独配置时回退到 500
func HintForStatus(status int) string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	if h, ok := catalog.Status[status]; ok {
		return h
	}
	if status >= 500 {
		return catalog.Status[500]
	}
	return ""
}

// HintForCode 按错误码查提示
func HintForCode(code Code) string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return catalog.Codes[code]
}
