package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users   map[string]*IntegrationSettings
	orgs    map[string]*IntegrationSettings
	userErr error
	orgHits int
}

func (f *fakeStore) UserSettings(_ context.Context, userID string) (*IntegrationSettings, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.users[userID], nil
}

func (f *fakeStore) OrgSettings(_ context.Context, orgID string) (*IntegrationSettings, error) {
	f.orgHits++
	return f.orgs[orgID], nil
}

func TestResolveUserCredentialWins(t *testing.T) {
	store := &fakeStore{
		users: map[string]*IntegrationSettings{"u1": {APIKey: "NNSXS.user", ApplicationID: "app-u", Cluster: "nam1"}},
		orgs:  map[string]*IntegrationSettings{"o1": {APIKey: "NNSXS.org", ApplicationID: "app-o", Cluster: "eu1"}},
	}
	res, err := NewResolver(store).Resolve(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, SourceUser, res.Source)
	assert.Equal(t, "NNSXS.user", res.Settings.APIKey)
	assert.Equal(t, 0, store.orgHits)
}

func TestResolveOrgFallbackMergesUserFields(t *testing.T) {
	store := &fakeStore{
		users: map[string]*IntegrationSettings{"u1": {ApplicationID: "app-u"}},
		orgs:  map[string]*IntegrationSettings{"o1": {APIKey: "NNSXS.org", ApplicationID: "app-o", Cluster: "eu1", Enabled: true}},
	}
	res, err := NewResolver(store).Resolve(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, SourceOrg, res.Source)
	assert.Equal(t, "NNSXS.org", res.Settings.APIKey)
	assert.Equal(t, "app-u", res.Settings.ApplicationID)
	assert.Equal(t, "eu1", res.Settings.Cluster)

	// 合并不能改动存储中的原记录
	assert.Equal(t, "app-o", store.orgs["o1"].ApplicationID)
}

func TestResolvePartialUserRecord(t *testing.T) {
	store := &fakeStore{
		users: map[string]*IntegrationSettings{"u1": {ApplicationID: "app-u"}},
		orgs:  map[string]*IntegrationSettings{"o1": {ApplicationID: "app-o"}},
	}
	res, err := NewResolver(store).Resolve(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, SourceUser, res.Source)
	assert.False(t, res.Settings.HasCredential())
	assert.Equal(t, "app-u", res.Settings.ApplicationID)
}

func TestResolveNone(t *testing.T) {
	res, err := NewResolver(&fakeStore{}).Resolve(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
	assert.Nil(t, res.Settings)
}

func TestResolveStoreError(t *testing.T) {
	_, err := NewResolver(&fakeStore{userErr: errors.New("db down")}).Resolve(context.Background(), "u1", "o1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestKeyFingerprint(t *testing.T) {
	s := &IntegrationSettings{APIKey: "NNSXS.ABCDEFGH1234"}
	assert.Equal(t, "****1234", s.KeyFingerprint())
	assert.Equal(t, "", (&IntegrationSettings{}).KeyFingerprint())
}
