package emulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostguard/lora-emulator/internal/platform"
)

func TestDisplayErrors(t *testing.T) {
	out := SyncOutcome{Errors: []SyncError{
		{Entity: "device", ID: "a", Message: "x"},
		{Entity: "device", ID: "b", Message: "y"},
		{Entity: "device", ID: "c", Message: "z"},
		{Path: "entities.devices[3].dev_eui", Message: "bad"},
	}}
	assert.Equal(t, []string{"device a: x", "device b: y", "… and 2 more"}, out.DisplayErrors())
	assert.Len(t, out.Errors, 4)

	short := SyncOutcome{Errors: []SyncError{{Message: "only"}}}
	assert.Equal(t, []string{"only"}, short.DisplayErrors())
}

func TestClassifyPushPadsMissingDetail(t *testing.T) {
	out := ClassifyPush("run-1", &platform.PushResponse{
		OK:        true,
		Gateways:  &platform.EntityResult{Failed: 2, Errors: []platform.EntityError{{ID: "g1", Message: "dup"}}},
		Aggregate: platform.EntityResult{Failed: 2},
	})
	assert.Equal(t, OutcomeFailed, out.Kind)
	require.Len(t, out.Errors, 2)
	assert.Equal(t, "g1", out.Errors[0].ID)
	assert.Equal(t, "gateway", out.Errors[1].Entity)
	assert.Equal(t, "0 synced, 2 failed", out.Summary)
}

func TestClassifyPushCountsOnly(t *testing.T) {
	out := ClassifyPush("run-1", &platform.PushResponse{OK: true, Aggregate: platform.EntityResult{Synced: 3, Failed: 1}})
	assert.Equal(t, OutcomePartial, out.Kind)
	assert.Len(t, out.Errors, 1)
}

func TestRetryTracker(t *testing.T) {
	tr := NewRetryTracker(counter())
	id := tr.Begin()
	assert.Equal(t, "run-1", id)
	assert.True(t, tr.Fail(id))
	assert.Equal(t, id, tr.Begin())
	assert.False(t, tr.Succeed("other"))
	assert.True(t, tr.Succeed(id))
	assert.Equal(t, "run-2", tr.Begin())
	tr.Invalidate()
	assert.Equal(t, RetryState{Phase: PhaseIdle}, tr.State())
	assert.False(t, tr.Fail("run-2"))
}

func TestSelectSite(t *testing.T) {
	id, src := SelectSite(nil, "hint")
	assert.Equal(t, "hint", id)
	assert.Equal(t, SiteFromProfile, src)

	id, src = SelectSite([]Site{{ID: "a"}, {ID: "b"}}, "hint")
	assert.Equal(t, "a", id)
	assert.Equal(t, SiteFromFirst, src)

	_, src = SelectSite(nil, "")
	assert.Equal(t, SiteNone, src)
}

func TestDecodeSnapshotUpgradesLegacyIDs(t *testing.T) {
	st := State{Devices: []Device{{ID: "a", DevEUI: "0000000000000001", TTNDeviceID: "eui-0000000000000001"}}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := EncodeSnapshot(st, now)
	require.NoError(t, err)
	snap, err := DecodeSnapshot(b, now, 0)
	require.NoError(t, err)
	assert.Equal(t, "sensor-0000000000000001", snap.Devices[0].TTNDeviceID)

	_, err = DecodeSnapshot([]byte(`{"schema_version":9}`), now, 0)
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}
