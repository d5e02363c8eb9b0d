package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/platform"
)

const (
	testOrg  = "7b0d1c3e-2f4a-4b8e-9c1d-0a2b3c4d5e6f"
	otherOrg = "1f2e3d4c-5b6a-4978-8a9b-0c1d2e3f4a5b"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Put(_ context.Context, key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), v...)
	return nil
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fakeAPI struct {
	mu        sync.Mutex
	snapshot  *platform.Snapshot
	pullErr   error
	pushResp  []*platform.PushResponse
	pushErr   []error
	pushed    []platform.SyncBundle
	backfill  []platform.BackfillResult
	backfills [][]platform.BackfillDevice
}

func (f *fakeAPI) PullOrgState(_ context.Context, orgID string) (*platform.PullResult, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return &platform.PullResult{Snapshot: *f.snapshot, Diagnostics: &envelope.Diagnostics{RequestID: "req-pull"}}, nil
}

func (f *fakeAPI) PushSync(_ context.Context, b platform.SyncBundle) (*platform.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, b)
	i := len(f.pushed) - 1
	var err error
	if i < len(f.pushErr) {
		err = f.pushErr[i]
	}
	var resp *platform.PushResponse
	if i < len(f.pushResp) {
		resp = f.pushResp[i]
	}
	return resp, err
}

func (f *fakeAPI) BackfillCredentials(_ context.Context, _ string, ds []platform.BackfillDevice) ([]platform.BackfillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills = append(f.backfills, ds)
	return f.backfill, nil
}

func strp(s string) *string { return &s }

func sensor(id, devEUI string) platform.Sensor {
	return platform.Sensor{ID: id, Name: id, DevEUI: devEUI, SensorType: "temperature",
		JoinEUI: strp("70b3d57ed0000000"), AppKey: strp("00112233445566778899AABBCCDDEEFF")}
}

func counter() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func newTestController(api *fakeAPI, kv KVStore, now func() time.Time) *Controller {
	return NewController(api, kv, Options{Now: now, NewID: counter()})
}

func okResponse() *platform.PushResponse {
	return &platform.PushResponse{OK: true, Aggregate: platform.EntityResult{Synced: 1}}
}

func TestPullReplacesWholesale(t *testing.T) {
	api := &fakeAPI{snapshot: &platform.Snapshot{
		Sensors:      []platform.Sensor{sensor("A", "0000000000000001"), sensor("B", "0000000000000002")},
		Gateways:     []platform.Gateway{{ID: "g1", GatewayEUI: "0102030405060708"}},
		Organization: platform.Organization{ID: testOrg, Name: "Acme"},
	}}
	c := newTestController(api, newMemKV(), time.Now)
	ctx := context.Background()

	_, err := c.Pull(ctx, PullRequest{OrgID: testOrg})
	require.NoError(t, err)

	api.snapshot = &platform.Snapshot{
		Sensors:      []platform.Sensor{sensor("B", "0000000000000002"), sensor("C", "0000000000000003")},
		Organization: platform.Organization{ID: testOrg, Name: "Acme"},
	}
	sum, err := c.Pull(ctx, PullRequest{OrgID: testOrg})
	require.NoError(t, err)

	st := c.State()
	ids := []string{}
	for _, d := range st.Devices {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"B", "C"}, ids)
	assert.Empty(t, st.Gateways)
	assert.Equal(t, Diff{DevicesAdded: 1, DevicesRemoved: 1, GatewaysRemoved: 1}, sum.Diff)
	assert.Equal(t, "req-pull", sum.Diagnostics.RequestID)
}

func TestPullFailureKeepsState(t *testing.T) {
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{sensor("A", "0000000000000001")}}}
	c := newTestController(api, newMemKV(), time.Now)
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)

	api.pullErr = envelope.New(envelope.KindAuth, envelope.CodeUnauthorized, "bad key")
	_, err = c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.Error(t, err)
	assert.Len(t, c.State().Devices, 1)
}

func TestPullLocksPlatformCredentialsAndSelectsSite(t *testing.T) {
	missing := platform.Sensor{ID: "M", DevEUI: "00:00:00:00:00:00:00:09"}
	api := &fakeAPI{snapshot: &platform.Snapshot{
		Sites:   []platform.Site{{ID: "s1"}, {ID: "s2", IsDefault: true}},
		Sensors: []platform.Sensor{sensor("A", "0000000000000001"), missing},
	}}
	c := newTestController(api, newMemKV(), time.Now)
	sum, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg, DefaultSiteHint: "s9"})
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, "s2", sum.SiteID)
	assert.Equal(t, SiteFromDefault, sum.SiteSource)
	assert.Equal(t, 1, sum.BackfillPending)

	st := c.State()
	assert.Equal(t, CredentialPlatformPull, st.Devices[0].CredentialSource)
	assert.True(t, st.Devices[0].CredentialsLocked)
	assert.Equal(t, "0000000000000009", st.Devices[1].DevEUI)
	assert.False(t, st.Devices[1].CredentialsLocked)
}

func TestBackfillMergesGeneratedCredentials(t *testing.T) {
	api := &fakeAPI{
		snapshot: &platform.Snapshot{Sensors: []platform.Sensor{{ID: "M", DevEUI: "0000000000000009"}}},
		backfill: []platform.BackfillResult{{ID: "M", JoinEUI: "70B3D57ED0000001", AppKey: "FFEEDDCCBBAA99887766554433221100"}},
	}
	c := newTestController(api, newMemKV(), time.Now)
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)
	c.Wait()

	require.Len(t, api.backfills, 1)
	assert.Equal(t, "0000000000000009", api.backfills[0][0].DevEUI)

	d := c.State().Devices[0]
	assert.Equal(t, "70b3d57ed0000001", d.JoinEUI)
	assert.Equal(t, CredentialPlatformGenerated, d.CredentialSource)
	assert.True(t, d.CredentialsLocked)
}

func TestBackfillIgnoredAfterOrgSwitch(t *testing.T) {
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{{ID: "M", DevEUI: "0000000000000009"}}}}
	c := newTestController(api, newMemKV(), time.Now)
	c.ApplyPullResult(context.Background(), PullRequest{OrgID: testOrg}, &platform.PullResult{Snapshot: *api.snapshot})
	c.Wait()

	n := c.ApplyBackfillResult(context.Background(), "other-org", []platform.BackfillResult{{ID: "M", JoinEUI: "70b3d57ed0000001", AppKey: "FFEEDDCCBBAA99887766554433221100"}})
	assert.Equal(t, 0, n)
	assert.Empty(t, c.State().Devices[0].AppKey)
}

func pulledController(t *testing.T, api *fakeAPI) *Controller {
	t.Helper()
	if api.snapshot == nil {
		api.snapshot = &platform.Snapshot{
			Sensors:  []platform.Sensor{sensor("A", "0000000000000001")},
			Gateways: []platform.Gateway{{ID: "g1", GatewayEUI: "0102030405060708"}},
		}
	}
	c := newTestController(api, newMemKV(), time.Now)
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)
	return c
}

func TestPushRetryReusesSyncRunID(t *testing.T) {
	api := &fakeAPI{
		pushErr:  []error{envelope.Network(errors.New("connection reset"), nil), nil},
		pushResp: []*platform.PushResponse{nil, okResponse()},
	}
	c := pulledController(t, api)
	ctx := context.Background()

	first := c.Push(ctx)
	assert.Equal(t, OutcomeFailed, first.Kind)
	assert.Equal(t, envelope.CodeNetworkError, first.Code)
	assert.Equal(t, PhaseFailed, c.State().Retry.Phase)

	second := c.Push(ctx)
	assert.Equal(t, OutcomeSuccess, second.Kind)
	require.Len(t, api.pushed, 2)
	assert.Equal(t, api.pushed[0].SyncRunID, api.pushed[1].SyncRunID)

	st := c.State()
	assert.Equal(t, PhaseSucceeded, st.Retry.Phase)
	assert.Equal(t, second.SyncRunID, st.Org.LastSyncRunID)
	require.NotNil(t, st.Org.LastSyncAt)
}

func TestPushAfterEditUsesNewSyncRunID(t *testing.T) {
	api := &fakeAPI{
		pushErr:  []error{errors.New("timeout"), nil},
		pushResp: []*platform.PushResponse{nil, okResponse()},
	}
	c := pulledController(t, api)
	ctx := context.Background()

	c.Push(ctx)
	_, err := c.UpsertGateway(ctx, Gateway{Name: "new", EUI: "AA-BB-CC-DD-EE-FF-00-11"})
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, c.State().Retry.Phase)

	c.Push(ctx)
	require.Len(t, api.pushed, 2)
	assert.NotEqual(t, api.pushed[0].SyncRunID, api.pushed[1].SyncRunID)
}

func TestPushSuccessThenNextPushNewID(t *testing.T) {
	api := &fakeAPI{pushResp: []*platform.PushResponse{okResponse(), okResponse()}}
	c := pulledController(t, api)
	c.Push(context.Background())
	c.Push(context.Background())
	assert.NotEqual(t, api.pushed[0].SyncRunID, api.pushed[1].SyncRunID)
}

func TestPushPartialFailure(t *testing.T) {
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{
		sensor("A", "0000000000000001"), sensor("B", "0000000000000002"), sensor("C", "0000000000000003"),
	}}}
	api.pushResp = []*platform.PushResponse{{
		OK:        true,
		Devices:   &platform.EntityResult{Synced: 2, Failed: 1, Errors: []platform.EntityError{{ID: "C", Message: "duplicate dev_eui"}}},
		Aggregate: platform.EntityResult{Synced: 2, Failed: 1},
	}}
	c := pulledController(t, api)

	out := c.Push(context.Background())
	assert.Equal(t, OutcomePartial, out.Kind)
	assert.Equal(t, envelope.CodePartialFailure, out.Code)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "C", out.Errors[0].ID)
	assert.Equal(t, PhaseFailed, c.State().Retry.Phase)
	assert.Empty(t, c.State().Org.LastSyncRunID)
}

func TestPushOKFalseWithoutDetailFails(t *testing.T) {
	api := &fakeAPI{pushResp: []*platform.PushResponse{{OK: false}}}
	c := pulledController(t, api)

	out := c.Push(context.Background())
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, envelope.CodeUpstreamNoDetail, out.Code)
	require.Len(t, out.Errors, 1)
}

func TestPushValidationSkipsNetwork(t *testing.T) {
	api := &fakeAPI{}
	c := pulledController(t, api)
	c.mu.Lock()
	c.state.Devices[0].DevEUI = "xyz"
	c.mu.Unlock()

	out := c.Push(context.Background())
	assert.Equal(t, envelope.CodeValidationFailed, out.Code)
	assert.Empty(t, out.SyncRunID)
	assert.Empty(t, api.pushed)
	assert.Equal(t, PhaseIdle, c.State().Retry.Phase)
}

func TestPushWithoutOrg(t *testing.T) {
	c := newTestController(&fakeAPI{}, newMemKV(), time.Now)
	out := c.Push(context.Background())
	assert.Equal(t, envelope.CodeNoOrgContext, out.Code)
}

func TestStalePushCompletionIgnored(t *testing.T) {
	api := &fakeAPI{}
	c := pulledController(t, api)
	c.mu.Lock()
	id := c.retry.Begin()
	c.mu.Unlock()

	_, err := c.UpsertGateway(context.Background(), Gateway{EUI: "0102030405060709"})
	require.NoError(t, err)
	c.ApplyPushResult(context.Background(), id, nil, errors.New("late failure"))
	assert.Equal(t, PhaseIdle, c.State().Retry.Phase)
	assert.Empty(t, c.State().Retry.SyncRunID)

	c.ApplyPushResult(context.Background(), id, okResponse(), nil)
	st := c.State()
	assert.Equal(t, PhaseIdle, st.Retry.Phase)
	assert.Empty(t, st.Org.LastSyncRunID)
	assert.Empty(t, st.Org.LastSyncSummary)
	assert.Nil(t, st.Org.LastSyncAt)
}

func TestStaleSuccessAfterOrgSwitchKeepsNewOrgMetadata(t *testing.T) {
	api := &fakeAPI{}
	c := pulledController(t, api)
	c.mu.Lock()
	id := c.retry.Begin()
	c.mu.Unlock()

	c.ApplyPullResult(context.Background(), PullRequest{OrgID: otherOrg}, &platform.PullResult{Snapshot: *api.snapshot})
	c.Wait()
	c.ApplyPushResult(context.Background(), id, okResponse(), nil)

	st := c.State()
	require.NotNil(t, st.Org)
	assert.Equal(t, otherOrg, st.Org.OrgID)
	assert.Empty(t, st.Org.LastSyncRunID)
	assert.Nil(t, st.Org.LastSyncAt)
}

func TestBackfillMergeInvalidatesFailedSyncRunID(t *testing.T) {
	api := &fakeAPI{
		snapshot: &platform.Snapshot{Sensors: []platform.Sensor{{ID: "M", DevEUI: "0000000000000009"}}},
		pushErr:  []error{errors.New("timeout"), nil},
		pushResp: []*platform.PushResponse{nil, okResponse()},
	}
	c := newTestController(api, newMemKV(), time.Now)
	ctx := context.Background()
	c.ApplyPullResult(ctx, PullRequest{OrgID: testOrg}, &platform.PullResult{Snapshot: *api.snapshot})
	c.Wait()

	first := c.Push(ctx)
	require.Equal(t, OutcomeFailed, first.Kind)
	require.Equal(t, PhaseFailed, c.State().Retry.Phase)

	n := c.ApplyBackfillResult(ctx, testOrg, []platform.BackfillResult{{ID: "M", JoinEUI: "70b3d57ed0000001", AppKey: "FFEEDDCCBBAA99887766554433221100"}})
	require.Equal(t, 1, n)
	assert.Equal(t, PhaseIdle, c.State().Retry.Phase)

	c.Push(ctx)
	require.Len(t, api.pushed, 2)
	assert.NotEqual(t, api.pushed[0].SyncRunID, api.pushed[1].SyncRunID)
	assert.Empty(t, api.pushed[0].Entities.Devices[0].JoinEUI)
	assert.Equal(t, "70b3d57ed0000001", api.pushed[1].Entities.Devices[0].JoinEUI)
}

func TestLockedCredentialsRequireForce(t *testing.T) {
	c := pulledController(t, &fakeAPI{})
	ctx := context.Background()

	_, err := c.SetDeviceCredentials(ctx, "A", "70b3d57ed0000009", "0102030405060708090A0B0C0D0E0F10", false)
	e, ok := envelope.As(err)
	require.True(t, ok)
	assert.Equal(t, envelope.CodeCredentialsLock, e.Code)

	d, err := c.SetDeviceCredentials(ctx, "A", "70b3d57ed0000009", "0102030405060708090A0B0C0D0E0F10", true)
	require.NoError(t, err)
	assert.Equal(t, CredentialManualOverride, d.CredentialSource)
	assert.False(t, d.CredentialsLocked)
}

func TestUpsertDeviceKeepsLockedCredentialsWhenOmitted(t *testing.T) {
	c := pulledController(t, &fakeAPI{})
	d, err := c.UpsertDevice(context.Background(), Device{ID: "A", Name: "renamed", DevEUI: "0000000000000001"}, false)
	require.NoError(t, err)
	assert.Equal(t, "renamed", d.Name)
	assert.True(t, d.CredentialsLocked)
	assert.NotEmpty(t, d.AppKey)
}

func TestGenerateCredentials(t *testing.T) {
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{{ID: "M", DevEUI: "0000000000000009"}}}}
	c := pulledController(t, api)
	c.Wait()

	d, err := c.GenerateCredentials(context.Background(), "M")
	require.NoError(t, err)
	assert.Len(t, d.JoinEUI, 16)
	assert.Len(t, d.AppKey, 32)
	assert.Equal(t, CredentialLocalGenerated, d.CredentialSource)
}

func TestRestoreFreshnessBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv := newMemKV()
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{sensor("A", "0000000000000001")}}}
	c := newTestController(api, kv, func() time.Time { return base })
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)

	fresh := newTestController(api, kv, func() time.Time { return base.Add(time.Hour - time.Second) })
	ok, err := fresh.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fresh.State().Devices, 1)

	expired := newTestController(api, kv, func() time.Time { return base.Add(time.Hour) })
	ok, err = expired.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, exists, _ := kv.Get(context.Background(), KeySessionSnapshot)
	assert.False(t, exists)
}

func TestRestoreOverlaysOfflineEdits(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }
	kv := newMemKV()
	api := &fakeAPI{snapshot: &platform.Snapshot{Sensors: []platform.Sensor{sensor("A", "0000000000000001")}}}
	c := newTestController(api, kv, clock)
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)

	now = base.Add(time.Minute)
	_, err = c.UpsertDevice(context.Background(), Device{ID: "B", DevEUI: "0000000000000002"}, false)
	require.NoError(t, err)

	restored := newTestController(api, kv, clock)
	ok, err := restored.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, restored.State().Devices, 2)
}

func TestRestoreTreatsAttemptingAsFailed(t *testing.T) {
	kv := newMemKV()
	st := State{Org: &OrgContext{OrgID: testOrg}, Retry: RetryState{Phase: PhaseAttempting, SyncRunID: "run-x"}}
	now := time.Now()
	payload, err := EncodeSnapshot(st, now)
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), KeySessionSnapshot, payload))

	api := &fakeAPI{pushResp: []*platform.PushResponse{okResponse()}}
	c := newTestController(api, kv, func() time.Time { return now })
	ok, err := c.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RetryState{Phase: PhaseFailed, SyncRunID: "run-x"}, c.State().Retry)

	c.Push(context.Background())
	assert.Equal(t, "run-x", api.pushed[0].SyncRunID)
}

func TestReset(t *testing.T) {
	kv := newMemKV()
	api := &fakeAPI{snapshot: &platform.Snapshot{}}
	c := newTestController(api, kv, time.Now)
	_, err := c.Pull(context.Background(), PullRequest{OrgID: testOrg})
	require.NoError(t, err)
	require.NoError(t, c.Reset(context.Background()))
	assert.Nil(t, c.State().Org)
	_, exists, _ := kv.Get(context.Background(), KeySessionSnapshot)
	assert.False(t, exists)
}
