package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostguard/lora-emulator/internal/envelope"
	"github.com/frostguard/lora-emulator/internal/storage/pg"
)

type fakeStore struct {
	sensors  map[string]*pg.Sensor
	apps     map[string]*pg.Application
	history  []*pg.UplinkRecord
	states   []*pg.SensorState
	readings []*pg.Reading
	doors    []*pg.DoorEvent

	historyErr error
	stateErr   error
	sensorErr  error
	appErr     error
}

func (f *fakeStore) SensorByEUI(_ context.Context, devEUI string) (*pg.Sensor, error) {
	if f.sensorErr != nil {
		return nil, f.sensorErr
	}
	s := f.sensors[devEUI]
	if s != nil && s.Disabled {
		return nil, nil
	}
	return s, nil
}

func (f *fakeStore) ApplicationByID(_ context.Context, id string) (*pg.Application, error) {
	if f.appErr != nil {
		return nil, f.appErr
	}
	return f.apps[id], nil
}

func (f *fakeStore) InsertUplink(_ context.Context, u *pg.UplinkRecord) (int64, error) {
	if f.historyErr != nil {
		return 0, f.historyErr
	}
	f.history = append(f.history, u)
	return int64(len(f.history)), nil
}

func (f *fakeStore) UpsertSensorState(_ context.Context, s *pg.SensorState) error {
	if f.stateErr != nil {
		return f.stateErr
	}
	f.states = append(f.states, s)
	return nil
}

func (f *fakeStore) InsertReading(_ context.Context, r *pg.Reading) error {
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeStore) InsertDoorEvent(_ context.Context, ev *pg.DoorEvent) error {
	f.doors = append(f.doors, ev)
	return nil
}

type capture struct{ events []*Event }

func (c *capture) Publish(_ context.Context, ev *Event) error {
	c.events = append(c.events, ev)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newIngestor(store *fakeStore, directSecret string) (*Ingestor, *capture) {
	pub := &capture{}
	return NewIngestor(store, Options{
		DirectSecret: directSecret,
		Publisher:    pub,
		Now:          func() time.Time { return fixedNow },
	}), pub
}

const ttnUplink = `{
  "end_device_ids": {
    "device_id": "sensor-a840410000001234",
    "application_ids": {"application_id": "frostguard-app"},
    "dev_eui": "A840410000001234"
  },
  "received_at": "2026-03-01T11:59:58.5Z",
  "uplink_message": {
    "f_port": 1,
    "f_cnt": 42,
    "frm_payload": "AQI=",
    "decoded_payload": {"temperature": 3.25, "humidity": 61, "battery": 95},
    "rx_metadata": [
      {"gateway_ids": {"gateway_id": "gw-1"}, "rssi": -101, "snr": 4.5},
      {"gateway_ids": {"gateway_id": "gw-2"}, "rssi": -87, "snr": 9.25}
    ]
  }
}`

func TestParseCanonicalTTN(t *testing.T) {
	up, err := Parse([]byte(ttnUplink), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, SourceTTN, up.Source)
	assert.Equal(t, "a840410000001234", up.DevEUI.String())
	assert.Equal(t, "frostguard-app", up.ApplicationID)
	require.NotNil(t, up.FPort)
	assert.Equal(t, 1, *up.FPort)
	assert.Equal(t, int64(42), *up.FCnt)
	assert.Equal(t, []byte{1, 2}, up.FrmPayload)
	assert.InDelta(t, -87, *up.RSSI, 0.001)
	assert.InDelta(t, 9.25, *up.SNR, 0.001)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 59, 58, 500000000, time.UTC), up.ReceivedAt)

	tel := up.ExtractTelemetry()
	assert.InDelta(t, 3.25, *tel.Temperature, 0.001)
	assert.InDelta(t, 61, *tel.Humidity, 0.001)
	assert.False(t, tel.HasDoor)
}

func TestParseDirectAliases(t *testing.T) {
	up, err := Parse([]byte(`{"devEui":"A8-40-41-00-00-00-12-34","fPort":2,"doorOpen":"OPEN",
		"orgId":"org-9","siteId":"site-1","rssi":"-70"}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, SourceDirect, up.Source)
	assert.Equal(t, "a840410000001234", up.Key())
	assert.Equal(t, 2, *up.FPort)
	assert.Equal(t, Hints{OrgID: "org-9", SiteID: "site-1"}, up.Hints)
	assert.InDelta(t, -70, *up.RSSI, 0.001)
	assert.Equal(t, fixedNow, up.ReceivedAt)

	tel := up.ExtractTelemetry()
	assert.True(t, tel.HasDoor)
	assert.Equal(t, DoorOpen, tel.Door)
}

func TestParsePrefersCanonicalName(t *testing.T) {
	up, err := Parse([]byte(`{"dev_eui":"1111111111111111","devEui":"2222222222222222","f_port":1,"fPort":2}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "1111111111111111", up.Key())
	assert.Equal(t, 1, *up.FPort)
}

func TestParseFallsBackToDeviceID(t *testing.T) {
	up, err := Parse([]byte(`{"end_device_ids":{"device_id":"sensor-a840410000001234"},"uplink_message":{"f_port":1}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "a840410000001234", up.DevEUI.String())
}

func TestParseRejectsBadPayload(t *testing.T) {
	for _, raw := range []string{`not json`, `null`, `[1,2]`, `{"f_port":1}`} {
		_, err := Parse([]byte(raw), fixedNow)
		assert.Error(t, err, raw)
	}
}

func TestNormalizeDoor(t *testing.T) {
	cases := []struct {
		in   any
		want DoorState
	}{
		{true, DoorOpen},
		{"open", DoorOpen},
		{"OPEN", DoorOpen},
		{false, DoorClosed},
		{"closed", DoorClosed},
		{"ajar", DoorUnknown},
		{"", DoorUnknown},
		{float64(1), DoorOpen},
		{float64(0), DoorClosed},
		{float64(7), DoorUnknown},
		{nil, DoorUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeDoor(c.in), "%v", c.in)
	}
}

func TestVerifySecret(t *testing.T) {
	assert.NoError(t, VerifySecret("", ""))
	assert.NoError(t, VerifySecret("", "anything"))
	assert.NoError(t, VerifySecret("s3cret", "s3cret"))

	e, ok := envelope.As(VerifySecret("s3cret", ""))
	require.True(t, ok)
	assert.Equal(t, envelope.CodeWebhookSecretMissing, e.Code)
	assert.Equal(t, envelope.KindAuth, e.Kind)

	e, ok = envelope.As(VerifySecret("s3cret", "wrong"))
	require.True(t, ok)
	assert.Equal(t, envelope.CodeWebhookSecretInvalid, e.Code)
}

func TestIngestResolvesBySensor(t *testing.T) {
	site := "site-1"
	store := &fakeStore{
		sensors: map[string]*pg.Sensor{"a840410000001234": {ID: "s1", OrgID: "org-sensor", SiteID: &site}},
		apps:    map[string]*pg.Application{"frostguard-app": {ApplicationID: "frostguard-app", OrgID: "org-app"}},
	}
	ing, pub := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.True(t, resp.Body.OK)
	assert.Equal(t, StatusProcessed, resp.Body.Status)
	assert.Equal(t, ResolvedBySensor, resp.Body.Resolution)
	assert.Equal(t, "org-sensor", resp.Body.OrgID)

	require.Len(t, store.history, 1)
	assert.Equal(t, "org-sensor", *store.history[0].OrgID)
	require.Len(t, store.states, 1)
	assert.InDelta(t, 3.25, *store.states[0].Temperature, 0.001)
	assert.Nil(t, store.states[0].DoorState)
	require.Len(t, store.readings, 1)
	assert.Empty(t, store.doors)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "site-1", pub.events[0].SiteID)
}

func TestIngestDisabledSensorFallsBackToApplication(t *testing.T) {
	store := &fakeStore{
		sensors: map[string]*pg.Sensor{"a840410000001234": {ID: "s1", OrgID: "org-sensor", Disabled: true}},
		apps:    map[string]*pg.Application{"frostguard-app": {ApplicationID: "frostguard-app", OrgID: "org-app"}},
	}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, ResolvedByApplication, resp.Body.Resolution)
	assert.Equal(t, "org-app", resp.Body.OrgID)
}

func TestIngestPayloadHints(t *testing.T) {
	store := &fakeStore{}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(`{"dev_eui":"a840410000009999","f_port":2,"door":false,"org_id":"org-hint"}`), http.Header{})
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, ResolvedByPayload, resp.Body.Resolution)
	require.Len(t, store.doors, 1)
	assert.Equal(t, "closed", store.doors[0].State)
	assert.Equal(t, "closed", *store.states[0].DoorState)
	assert.Empty(t, store.readings)
}

func TestIngestUnassignedStillRecordsHistory(t *testing.T) {
	store := &fakeStore{}
	ing, pub := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, http.StatusAccepted, resp.HTTPStatus)
	assert.True(t, resp.Body.OK)
	assert.Equal(t, StatusUnassigned, resp.Body.Status)
	require.Len(t, store.history, 1)
	assert.Nil(t, store.history[0].OrgID)
	assert.Equal(t, string(Unresolved), store.history[0].Resolution)
	assert.Empty(t, store.states)
	require.Len(t, pub.events, 1)
	assert.Equal(t, StatusUnassigned, pub.events[0].Status)
}

func TestIngestInvalidEUIIsRecordedUnassigned(t *testing.T) {
	store := &fakeStore{}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(`{"dev_eui":"NOT-AN-EUI","f_port":1,"temperature":4}`), http.Header{})
	assert.Equal(t, http.StatusAccepted, resp.HTTPStatus)
	require.Len(t, store.history, 1)
	assert.Equal(t, "not-an-eui", store.history[0].DevEUI)
}

func TestIngestUnknownPortUpdatesSharedFieldsOnly(t *testing.T) {
	store := &fakeStore{}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(`{"dev_eui":"a840410000009999","f_port":7,"temperature":9,"door":"open","battery":80,"rssi":-90,"org_id":"o"}`), http.Header{})
	assert.Equal(t, StatusProcessed, resp.Body.Status)
	require.Len(t, store.states, 1)
	st := store.states[0]
	assert.Nil(t, st.Temperature)
	assert.Nil(t, st.DoorState)
	assert.InDelta(t, 80, *st.Battery, 0.001)
	assert.InDelta(t, -90, *st.RSSI, 0.001)
	assert.Empty(t, store.readings)
	assert.Empty(t, store.doors)
}

func TestIngestBestEffortWrites(t *testing.T) {
	store := &fakeStore{stateErr: errors.New("deadlock")}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(`{"dev_eui":"a840410000009999","f_port":1,"temperature":2.5,"org_id":"o"}`), http.Header{})
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.True(t, resp.Body.OK)
	assert.Equal(t, StatusPartial, resp.Body.Status)
	assert.Contains(t, resp.Body.Warnings, "sensor_state write failed")
	// 状态写入失败不影响兼容表写入
	assert.Len(t, store.readings, 1)
}

func TestIngestSensorLookupFailureContinues(t *testing.T) {
	store := &fakeStore{
		sensorErr: errors.New("timeout"),
		apps:      map[string]*pg.Application{"frostguard-app": {ApplicationID: "frostguard-app", OrgID: "org-app"}},
	}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, ResolvedByApplication, resp.Body.Resolution)
	assert.Contains(t, resp.Body.Warnings, "sensor lookup failed")
}

func TestIngestHistoryFailureIsServerError(t *testing.T) {
	store := &fakeStore{historyErr: errors.New("disk full")}
	ing, pub := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(`{"dev_eui":"a840410000009999","org_id":"o","f_port":1,"temperature":1}`), http.Header{})
	assert.Equal(t, http.StatusInternalServerError, resp.HTTPStatus)
	assert.False(t, resp.Body.OK)
	assert.Equal(t, envelope.CodeWebhookHistoryWrite, resp.Body.ErrorCode)
	assert.Empty(t, store.states)
	assert.Empty(t, pub.events)
}

func TestIngestApplicationLookupFailureKeepsRawHistory(t *testing.T) {
	store := &fakeStore{appErr: errors.New("connection refused")}
	ing, pub := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, http.StatusInternalServerError, resp.HTTPStatus)
	assert.False(t, resp.Body.OK)
	assert.Equal(t, StatusError, resp.Body.Status)

	require.Len(t, store.history, 1)
	rec := store.history[0]
	assert.Equal(t, string(Unverified), rec.Resolution)
	assert.Equal(t, "frostguard-app", rec.ApplicationID)
	assert.Nil(t, rec.OrgID)
	assert.Nil(t, rec.SensorID)
	assert.NotEmpty(t, rec.Payload)
	assert.Empty(t, store.states)
	assert.Empty(t, store.readings)
	assert.Empty(t, pub.events)
}

func TestIngestApplicationLookupAndHistoryFailure(t *testing.T) {
	store := &fakeStore{appErr: errors.New("connection refused"), historyErr: errors.New("disk full")}
	ing, _ := newIngestor(store, "")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, http.StatusInternalServerError, resp.HTTPStatus)
	assert.Equal(t, envelope.CodeUpstreamError, resp.Body.ErrorCode)
	assert.Empty(t, store.history)
}

func TestIngestSecrets(t *testing.T) {
	store := &fakeStore{
		apps: map[string]*pg.Application{"frostguard-app": {ApplicationID: "frostguard-app", OrgID: "org-app", WebhookSecret: "app-secret"}},
	}
	ing, _ := newIngestor(store, "direct-secret")

	resp := ing.Ingest(context.Background(), []byte(ttnUplink), http.Header{})
	assert.Equal(t, http.StatusUnauthorized, resp.HTTPStatus)
	assert.Equal(t, envelope.CodeWebhookSecretMissing, resp.Body.ErrorCode)

	h := http.Header{}
	h.Set(SecretHeader, "nope")
	resp = ing.Ingest(context.Background(), []byte(ttnUplink), h)
	assert.Equal(t, envelope.CodeWebhookSecretInvalid, resp.Body.ErrorCode)
	assert.Empty(t, store.history)

	h.Set(SecretHeader, "app-secret")
	resp = ing.Ingest(context.Background(), []byte(ttnUplink), h)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)

	// 直推形态使用服务级密钥
	direct := []byte(`{"dev_eui":"a840410000009999","org_id":"o"}`)
	resp = ing.Ingest(context.Background(), direct, http.Header{})
	assert.Equal(t, envelope.CodeWebhookSecretMissing, resp.Body.ErrorCode)
	h.Set(SecretHeader, "direct-secret")
	resp = ing.Ingest(context.Background(), direct, h)
	assert.True(t, resp.Body.OK)
}

func TestIngestBadPayload(t *testing.T) {
	store := &fakeStore{}
	ing, _ := newIngestor(store, "")
	resp := ing.Ingest(context.Background(), []byte(`{`), http.Header{})
	assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus)
	assert.Equal(t, envelope.CodeWebhookBadPayload, resp.Body.ErrorCode)
	assert.Empty(t, store.history)
}

func TestNATSSubject(t *testing.T) {
	p := NewNATSPublisher(nil, "frostguard.uplink.")
	assert.Equal(t, "frostguard.uplink.org-1", p.Subject(&Event{OrgID: "org-1"}))
	assert.Equal(t, "frostguard.uplink.unassigned", p.Subject(&Event{}))
	assert.Equal(t, "frostguard.uplink.a_b_", p.Subject(&Event{OrgID: "a.b*"}))
}
