package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostguard/lora-emulator/internal/envelope"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EMU_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, time.Hour, cfg.Session.FreshnessWindow)
	assert.Equal(t, 30*time.Second, cfg.Session.LockTimeout)
	assert.Equal(t, "eu1", cfg.TTN.Cluster)
	assert.Equal(t, int64(1<<20), cfg.Webhook.MaxBodyBytes)
	assert.Empty(t, cfg.Platform.BaseURL, "secrets are never defaulted")
	assert.Empty(t, cfg.TTN.APIKey)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform:
  baseURL: https://platform.example.com
  syncAPIKey: from-file
ttn:
  cluster: nam1
redis:
  enabled: true
`), 0o600))
	t.Setenv("EMU_PLATFORM_SYNCAPIKEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://platform.example.com", cfg.Platform.BaseURL)
	assert.Equal(t, "from-env", cfg.Platform.SyncAPIKey)
	assert.Equal(t, "nam1", cfg.TTN.Cluster)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRequireSecrets(t *testing.T) {
	cfg := &Config{Platform: PlatformConfig{BaseURL: "https://platform.example.com"}}

	assert.NoError(t, cfg.RequireSecrets(SecretPlatformBaseURL))

	err := cfg.RequireSecrets(SecretPlatformBaseURL, SecretSyncAPIKey, SecretTTNAPIKey)
	require.Error(t, err)
	e, ok := envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.CodeConfigMissing, e.Code)
	assert.Equal(t, envelope.KindConfig, e.Kind)
	assert.Contains(t, e.Message, SecretSyncAPIKey)
	assert.NotContains(t, e.Message, SecretTTNAPIKey)
}
