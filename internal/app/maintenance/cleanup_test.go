package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/cache"
	testutil "github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/monitoring"
)

type countingPurger struct {
	calls   int
	removed int64
	err     error
}

func (p *countingPurger) CleanupExpired(context.Context) (int64, error) {
	p.calls++
	return p.removed, p.err
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return p.removed, p.err
}

func (p *countingPurger) ExpireStale(context.Context) (int64, error) {
	p.calls++
	return p.removed, p.err
}

type auditPruner struct {
	retention int
	calls     int
}

func (p *auditPruner) CleanupOlderThan(_ context.Context, days int) (int64, error) {
	p.calls++
	p.retention = days
	return 3, nil
}

func TestCleanerRunOnceInvokesEveryJob(t *testing.T) {
	sessions := &countingPurger{removed: 2}
	verifications := &countingPurger{removed: 1}
	resets := &countingPurger{}
	invitations := &countingPurger{removed: 4}
	audit := &auditPruner{}

	c := NewCleaner(Jobs{
		Sessions:      sessions,
		Verifications: verifications,
		Resets:        resets,
		Invitations:   invitations,
		Audit:         audit,
	}, WithAuditRetentionDays(30))

	require.NoError(t, c.RunOnce(context.Background()))
	require.Equal(t, 1, sessions.calls)
	require.Equal(t, 1, verifications.calls)
	require.Equal(t, 1, resets.calls)
	require.Equal(t, 1, invitations.calls)
	require.Equal(t, 1, audit.calls)
	require.Equal(t, 30, audit.retention)
}

func TestCleanerTokenFailureDoesNotStopOtherJobs(t *testing.T) {
	verifyErr := errors.New("verifications table locked")
	verifications := &countingPurger{err: verifyErr}
	resets := &countingPurger{}
	invitations := &countingPurger{}
	sessions := &countingPurger{}

	c := NewCleaner(Jobs{
		Sessions:      sessions,
		Verifications: verifications,
		Resets:        resets,
		Invitations:   invitations,
	})

	err := c.RunOnce(context.Background())
	require.ErrorIs(t, err, verifyErr)
	require.Equal(t, 1, resets.calls)
	require.Equal(t, 1, invitations.calls)
	require.Equal(t, 1, sessions.calls)
}

func TestCleanerPurgesExpiredCacheEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "ratelimit:expired",
		Value:     []byte("3"),
		ExpiresAt: now.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "ratelimit:active",
		Value:     []byte("1"),
		ExpiresAt: now.Add(time.Minute),
	}).Error)

	store := cache.NewDatabaseStore(db)
	c := NewCleaner(Jobs{Cache: store}, WithNow(func() time.Time { return now }))

	require.NoError(t, c.RunOnce(context.Background()))

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("key", &keys).Error)
	require.Equal(t, []string{"ratelimit:active"}, keys)
}

func TestCleanerStartRegistersConfiguredJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(Jobs{
		Sessions: &countingPurger{},
		Resets:   &countingPurger{},
	}, WithCron(scheduler))

	require.NoError(t, c.Start())
	t.Cleanup(func() { <-c.Stop().Done() })

	require.Len(t, scheduler.Entries(), 2)
}

func TestCleanerStartRejectsInvalidSchedule(t *testing.T) {
	c := NewCleaner(Jobs{Sessions: &countingPurger{}},
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
		WithSessionSchedule("every now and then"),
	)

	err := c.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "session")
}

func TestCleanerWithoutJobsIsNoop(t *testing.T) {
	c := NewCleaner(Jobs{})
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
	<-c.Stop().Done()
}

func TestCleanerReportsRunsToRecorder(t *testing.T) {
	tracker := monitoring.NewJobTracker()
	failing := &countingPurger{err: errors.New("table locked")}

	c := NewCleaner(Jobs{
		Sessions:      &countingPurger{},
		Verifications: failing,
	}, WithRecorder(tracker))

	require.Error(t, c.RunOnce(context.Background()))

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "session", snapshot[0].Job)
	require.Equal(t, "success", snapshot[0].LastStatus)
	require.Equal(t, "token", snapshot[1].Job)
	require.Equal(t, "failure", snapshot[1].LastStatus)
	require.Contains(t, snapshot[1].LastError, "table locked")
}
