package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/macroscope/macroscope/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@daily"
	defaultCacheSpec          = "@hourly"
)

// SessionPurger deletes expired and revoked sessions.
type SessionPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// TokenPurger deletes expired or consumed single-use tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// InvitationExpirer moves open invitations past their expiry to the expired state.
type InvitationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// AuditPruner enforces the audit retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger drops expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RunRecorder observes each completed job run.
type RunRecorder interface {
	RecordRun(job string, err error, duration time.Duration)
}

// Jobs lists the collaborators of the Cleaner. A nil collaborator skips its job.
type Jobs struct {
	Sessions      SessionPurger
	Verifications TokenPurger
	Resets        TokenPurger
	Invitations   InvitationExpirer
	Audit         AuditPruner
	Cache         CachePurger
}

// Cleaner coordinates background maintenance tasks such as purging expired sessions,
// expiring stale invitations, pruning audit logs and removing obsolete tokens.
type Cleaner struct {
	jobs      Jobs
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int
	recorder  RunRecorder

	sessionSchedule string
	auditSchedule   string
	tokenSchedule   string
	cacheSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cache expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRecorder reports every job run to r.
func WithRecorder(r RunRecorder) Option {
	return func(cleaner *Cleaner) {
		cleaner.recorder = r
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for token and invitation cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(jobs Jobs, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		jobs:            jobs,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		auditSchedule:   defaultAuditSpec,
		tokenSchedule:   defaultTokenSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is configured.
func (c *Cleaner) Start() error {
	registered := 0
	add := func(enabled bool, spec, name string, job func(context.Context) error) error {
		if !enabled {
			return nil
		}
		if _, err := c.cron.AddFunc(spec, func() {
			if err := c.track(context.Background(), name, job); err != nil {
				c.log.Warn(name+" cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s cleanup %q: %w", name, spec, err)
		}
		registered++
		return nil
	}

	if err := multierr.Combine(
		add(c.jobs.Sessions != nil, c.sessionSchedule, "session", c.cleanupSessions),
		add(c.hasTokenJobs(), c.tokenSchedule, "token", c.cleanupTokens),
		add(c.jobs.Audit != nil && c.retention > 0, c.auditSchedule, "audit", c.cleanupAudit),
		add(c.jobs.Cache != nil, c.cacheSchedule, "cache", c.cleanupCache),
	); err != nil {
		return err
	}

	if registered > 0 {
		c.cron.Start()
	}
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes every configured cleanup routine and aggregates their failures.
// Used during graceful shutdown and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.jobs.Sessions != nil {
		errs = multierr.Append(errs, c.track(ctx, "session", c.cleanupSessions))
	}
	if c.hasTokenJobs() {
		errs = multierr.Append(errs, c.track(ctx, "token", c.cleanupTokens))
	}
	if c.jobs.Audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.track(ctx, "audit", c.cleanupAudit))
	}
	if c.jobs.Cache != nil {
		errs = multierr.Append(errs, c.track(ctx, "cache", c.cleanupCache))
	}
	return errs
}

func (c *Cleaner) track(ctx context.Context, name string, job func(context.Context) error) error {
	start := time.Now()
	err := job(ctx)
	if c.recorder != nil {
		c.recorder.RecordRun(name, err, time.Since(start))
	}
	return err
}

func (c *Cleaner) hasTokenJobs() bool {
	return c.jobs.Verifications != nil || c.jobs.Resets != nil || c.jobs.Invitations != nil
}

func (c *Cleaner) cleanupSessions(ctx context.Context) error {
	removed, err := c.jobs.Sessions.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	c.logRemoved("sessions purged", removed)
	return nil
}

// cleanupTokens keeps going after a failure so one broken table does not block the others.
func (c *Cleaner) cleanupTokens(ctx context.Context) error {
	var errs error

	if c.jobs.Verifications != nil {
		removed, err := c.jobs.Verifications.PurgeExpired(ctx)
		errs = multierr.Append(errs, err)
		c.logRemoved("email verifications purged", removed)
	}
	if c.jobs.Resets != nil {
		removed, err := c.jobs.Resets.PurgeExpired(ctx)
		errs = multierr.Append(errs, err)
		c.logRemoved("password reset tokens purged", removed)
	}
	if c.jobs.Invitations != nil {
		expired, err := c.jobs.Invitations.ExpireStale(ctx)
		errs = multierr.Append(errs, err)
		c.logRemoved("invitations expired", expired)
	}

	return errs
}

func (c *Cleaner) cleanupAudit(ctx context.Context) error {
	removed, err := c.jobs.Audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	c.logRemoved("audit logs pruned", removed)
	return nil
}

func (c *Cleaner) cleanupCache(ctx context.Context) error {
	removed, err := c.jobs.Cache.PurgeExpired(ctx, c.now())
	if err != nil {
		return fmt.Errorf("maintenance: purge cache: %w", err)
	}
	c.logRemoved("cache entries purged", removed)
	return nil
}

func (c *Cleaner) logRemoved(msg string, count int64) {
	if count > 0 {
		c.log.Info(msg, zap.Int64("count", count))
	}
}
