package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Status:  m.status,
		Message: "mock",
		Latency: time.Millisecond,
	}
}

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"sqlite", StatusHealthy},
		)
		assert.Equal(t, StatusHealthy, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("部分降级仍就绪", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"sqlite", StatusDegraded},
		)
		assert.Equal(t, StatusDegraded, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("必需依赖不健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusUnhealthy},
			&mockChecker{"sqlite", StatusHealthy},
		)
		assert.Equal(t, StatusUnhealthy, agg.OverallStatus(context.Background()))
		assert.False(t, agg.Ready(context.Background()))
	})

	t.Run("可选依赖不健康只降级", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"database", StatusHealthy})
		agg.AddOptional(&mockChecker{"redis", StatusUnhealthy})

		report := agg.Report(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		require.Contains(t, report.Checks, "redis")
		assert.Equal(t, StatusDegraded, report.Checks["redis"].Status)
		assert.Equal(t, true, report.Checks["redis"].Details["optional"])
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"initial", StatusHealthy})
		agg.AddChecker(&mockChecker{"added", StatusHealthy})
		assert.Len(t, agg.CheckAll(context.Background()), 2)
	})

	t.Run("Alive始终返回true", func(t *testing.T) {
		assert.True(t, NewAggregator().Alive())
	})
}

type fakeLocalStore struct {
	pingErr error
	ts      *time.Time
	tsErr   error
}

func (f *fakeLocalStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeLocalStore) UpdatedAt(context.Context, string) (*time.Time, error) {
	return f.ts, f.tsErr
}

func TestSQLiteChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	updated := now.Add(-90 * time.Second)

	c := NewSQLiteChecker(&fakeLocalStore{ts: &updated}, "session_snapshot")
	c.now = func() time.Time { return now }
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "1m30s", res.Details["snapshot_age"])

	res = NewSQLiteChecker(&fakeLocalStore{}, "session_snapshot").Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "none", res.Details["snapshot"])

	res = NewSQLiteChecker(&fakeLocalStore{tsErr: errors.New("locked")}, "k").Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)

	res = NewSQLiteChecker(&fakeLocalStore{pingErr: errors.New("closed")}, "k").Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestReadiness(t *testing.T) {
	r := New()
	assert.False(t, r.Ready())
	r.SetStoreReady(true)
	assert.False(t, r.Ready())
	r.SetDBReady(true)
	assert.True(t, r.Ready())
}
