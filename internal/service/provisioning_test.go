package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frostguard/lora-emulator/internal/config"
	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/platform"
	"github.com/frostguard/lora-emulator/internal/settings"
	"github.com/frostguard/lora-emulator/internal/ttn"
)

type settingsStore struct {
	users map[string]*settings.IntegrationSettings
	orgs  map[string]*settings.IntegrationSettings
}

func (s *settingsStore) UserSettings(_ context.Context, id string) (*settings.IntegrationSettings, error) {
	return s.users[id], nil
}

func (s *settingsStore) OrgSettings(_ context.Context, id string) (*settings.IntegrationSettings, error) {
	return s.orgs[id], nil
}

// recorder 记录 TTN 收到的 Authorization 与路径，全部返回 200
type recorder struct {
	mu    sync.Mutex
	auth  []string
	paths []string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	r.paths = append(r.paths, req.Method+" "+req.URL.Path)
	r.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{}`))
}

func newService(t *testing.T, store *settingsStore, mutate func(*config.Config)) (*ProvisioningService, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.TTN.Cluster = "eu1"
	cfg.TTN.BaseURL = srv.URL
	cfg.TTN.RatePerSec = 1000
	cfg.TTN.Burst = 100
	if mutate != nil {
		mutate(cfg)
	}
	return NewProvisioningService(cfg, settings.NewResolver(store), srv.Client(), zap.NewNop(), nil), rec
}

var otaaDevice = ttn.DeviceSpec{
	DevEUI:  "A840410000001234",
	JoinEUI: "70B3D57ED0000000",
	AppKey:  "00112233445566778899AABBCCDDEEFF",
}

func TestProvisionUsesUserCredential(t *testing.T) {
	store := &settingsStore{
		users: map[string]*settings.IntegrationSettings{"u1": {APIKey: "NNSXS.USERKEY9", ApplicationID: "app-u", Cluster: "eu1"}},
		orgs:  map[string]*settings.IntegrationSettings{"o1": {APIKey: "NNSXS.ORGKEY", ApplicationID: "app-o"}},
	}
	svc, rec := newService(t, store, nil)

	report, err := svc.Provision(context.Background(), ProvisionRequest{
		UserID: "u1", OrgID: "o1", Mode: ttn.ModeOTAA, Devices: []ttn.DeviceSpec{otaaDevice},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, settings.SourceUser, report.Target.Source)
	assert.False(t, report.Target.ServiceKey)
	assert.Equal(t, "****KEY9", report.Target.KeyFingerprint)
	assert.Equal(t, "app-u", report.Target.ApplicationID)

	require.NotEmpty(t, rec.auth)
	for _, a := range rec.auth {
		assert.Equal(t, "Bearer NNSXS.USERKEY9", a)
	}
	assert.True(t, strings.Contains(rec.paths[0], "/applications/app-u/"))
}

func TestProvisionFallsBackToServiceKey(t *testing.T) {
	store := &settingsStore{
		users: map[string]*settings.IntegrationSettings{"u1": {ApplicationID: "app-u"}},
	}
	svc, rec := newService(t, store, func(c *config.Config) { c.TTN.APIKey = "NNSXS.SERVICE" })

	report, err := svc.Provision(context.Background(), ProvisionRequest{
		UserID: "u1", Devices: []ttn.DeviceSpec{otaaDevice},
	})
	require.NoError(t, err)
	assert.True(t, report.Target.ServiceKey)
	assert.Equal(t, "app-u", report.Target.ApplicationID)
	assert.Equal(t, ttn.ModeOTAA, report.Results[0].Mode)
	assert.Equal(t, "Bearer NNSXS.SERVICE", rec.auth[0])
}

func TestProvisionWithoutAnyKeyIsConfigMissing(t *testing.T) {
	svc, rec := newService(t, &settingsStore{}, func(c *config.Config) { c.TTN.ApplicationID = "app" })

	_, err := svc.Provision(context.Background(), ProvisionRequest{OrgID: "o1", Devices: []ttn.DeviceSpec{otaaDevice}})
	e, ok := envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.CodeConfigMissing, e.Code)
	assert.Contains(t, e.Message, config.SecretTTNAPIKey)
	assert.Empty(t, rec.paths)
}

func TestProvisionRejectsUnknownCluster(t *testing.T) {
	store := &settingsStore{
		orgs: map[string]*settings.IntegrationSettings{"o1": {APIKey: "k", ApplicationID: "app", Cluster: "mars1"}},
	}
	svc, _ := newService(t, store, nil)

	_, err := svc.Provision(context.Background(), ProvisionRequest{OrgID: "o1", Devices: []ttn.DeviceSpec{otaaDevice}})
	e, ok := envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.CodeTTNUnknownRegion, e.Code)
}

func TestProvisionPreserveIdentityOnlyRewritesSession(t *testing.T) {
	store := &settingsStore{
		orgs: map[string]*settings.IntegrationSettings{"o1": {APIKey: "k", ApplicationID: "app"}},
	}
	svc, rec := newService(t, store, nil)

	report, err := svc.Provision(context.Background(), ProvisionRequest{
		OrgID: "o1", Mode: ttn.ModeABP, PreserveIdentity: true, Devices: []ttn.DeviceSpec{{DevEUI: otaaDevice.DevEUI}},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].OK)
	for _, p := range rec.paths {
		assert.False(t, strings.HasPrefix(p, http.MethodDelete), p)
	}
}

func TestProvisionValidation(t *testing.T) {
	svc, _ := newService(t, &settingsStore{}, nil)

	_, err := svc.Provision(context.Background(), ProvisionRequest{})
	e, ok := envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.KindValidation, e.Kind)

	svc, _ = newService(t, &settingsStore{}, func(c *config.Config) {
		c.TTN.APIKey = "k"
		c.TTN.ApplicationID = "app"
	})
	_, err = svc.Provision(context.Background(), ProvisionRequest{Mode: "lorawan2", Devices: []ttn.DeviceSpec{otaaDevice}})
	e, ok = envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.CodeValidationFailed, e.Code)
}

func TestPreflight(t *testing.T) {
	svc, _ := newService(t, &settingsStore{}, func(c *config.Config) {
		c.Platform.BaseURL = "https://platform.example"
	})

	rep := svc.Preflight(context.Background(), platform.SyncBundle{Context: platform.SyncContext{OrgID: "o1"}})
	assert.False(t, rep.Ready)
	assert.ElementsMatch(t, []string{config.SecretSyncAPIKey, config.SecretTTNAPIKey}, rep.MissingSecrets)
	assert.Nil(t, rep.Target)

	svc, _ = newService(t, &settingsStore{
		orgs: map[string]*settings.IntegrationSettings{"o1": {APIKey: "k", ApplicationID: "app"}},
	}, func(c *config.Config) {
		c.Platform.BaseURL = "https://platform.example"
		c.Platform.SyncAPIKey = "sync"
	})
	rep = svc.Preflight(context.Background(), platform.SyncBundle{Context: platform.SyncContext{OrgID: "o1"}})
	assert.Empty(t, rep.BundleErrors)
	assert.True(t, rep.ClusterSupported)
	assert.True(t, rep.Ready)
}
