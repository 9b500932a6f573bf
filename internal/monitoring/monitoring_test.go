package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/monitoring"
	"github.com/macroscope/macroscope/internal/monitoring/checks"
	"github.com/macroscope/macroscope/internal/storage"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(0)
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("storage", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "bucket missing"}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("", nil))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "storage", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerRecoversPanicsAndTimesOut(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(20 * time.Millisecond)
	manager.RegisterLiveness(monitoring.NewCheck("panicky", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))
	manager.RegisterLiveness(monitoring.NewCheck("slow", func(ctx context.Context) monitoring.ProbeResult {
		<-ctx.Done()
		return monitoring.ResultFromError(ctx.Err(), 0)
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Equal(t, "boom", report.Checks[0].Details)
	require.Equal(t, monitoring.StatusDegraded, report.Checks[1].Status)
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := checks.Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestStorageCheck(t *testing.T) {
	store, err := storage.NewLocal(storage.LocalConfig{
		Root:          t.TempDir(),
		BaseURL:       "http://macroscope.test",
		SigningSecret: "secret",
		Buckets:       []string{storage.BucketProjectFiles},
	})
	require.NoError(t, err)

	result := checks.Storage(store).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Storage(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

type fakeHub struct{ active int64 }

func (f fakeHub) ActiveConnections() int64 { return f.active }

func TestRealtimeCheck(t *testing.T) {
	result := checks.Realtime(fakeHub{active: 3}).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "3 connections", result.Details)

	result = checks.Realtime(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}

func TestMaintenanceCheck(t *testing.T) {
	tracker := monitoring.NewJobTracker()
	check := checks.Maintenance(tracker, time.Hour, nil)

	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)

	tracker.RecordRun("session", nil, time.Millisecond)
	tracker.RecordRun("audit", errors.New("disk full"), time.Millisecond)
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "disk full")

	tracker.RecordRun("audit", errors.New("disk full"), time.Millisecond)
	require.Equal(t, monitoring.StatusDown, check.Run(context.Background()).Status)

	tracker.RecordRun("audit", nil, time.Millisecond)
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)

	stale := checks.Maintenance(tracker, time.Hour, func() time.Time { return time.Now().Add(2 * time.Hour) })
	require.Equal(t, monitoring.StatusDegraded, stale.Run(context.Background()).Status)

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "audit", snapshot[0].Job)
	require.Equal(t, uint64(3), snapshot[0].TotalRuns)
}
