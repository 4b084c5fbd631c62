package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/leasehub/pkg/logger"
)

const (
	defaultSchedule  = "@every 10m"
	defaultBatchSize = 100
)

// LinkReconciler creates property links missing for accepted invitations.
type LinkReconciler interface {
	ReconcileLinks(ctx context.Context, limit int) (int, error)
}

// ProfileRepairer upserts role profiles missing for existing identities.
type ProfileRepairer interface {
	RepairMissingProfiles(ctx context.Context, limit int) (int, error)
}

// CounterPurger deletes rate limit counters whose window has closed.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// AuditPruner deletes audit records older than a retention window in days.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// Reconciler periodically completes redemptions that were left half done,
// such as an accepted invitation with no property link or an identity without
// a profile row.
type Reconciler struct {
	links    LinkReconciler
	profiles ProfileRepairer
	counters CounterPurger
	audit    AuditPruner
	cron     *cron.Cron
	log      *zap.Logger

	schedule      string
	batchSize     int
	retentionDays int
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the reconcile job.
func WithSchedule(spec string) Option {
	return func(r *Reconciler) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithBatchSize bounds how many rows each repair step handles per run.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithCounterPurger also purges expired rate limit counters on each run.
func WithCounterPurger(p CounterPurger) Option {
	return func(r *Reconciler) {
		r.counters = p
	}
}

// WithAuditRetention prunes audit records older than days on each run.
// Non-positive days keep audit records forever.
func WithAuditRetention(p AuditPruner, days int) Option {
	return func(r *Reconciler) {
		if p != nil && days > 0 {
			r.audit = p
			r.retentionDays = days
		}
	}
}

// NewReconciler constructs a Reconciler. A nil dependency skips its step.
func NewReconciler(links LinkReconciler, profiles ProfileRepairer, opts ...Option) *Reconciler {
	r := &Reconciler{
		links:     links,
		profiles:  profiles,
		schedule:  defaultSchedule,
		batchSize: defaultBatchSize,
		log:       logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return r
}

func (r *Reconciler) enabled() bool {
	return r.links != nil || r.profiles != nil || r.counters != nil || r.audit != nil
}

// Start registers the reconcile job and launches the scheduler.
func (r *Reconciler) Start() error {
	if !r.enabled() {
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.log.Warn("reconcile run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (r *Reconciler) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every configured repair step sequentially. A failing step
// does not prevent the others from running.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if r.links != nil {
		repaired, err := r.links.ReconcileLinks(ctx, r.batchSize)
		errs = multierr.Append(errs, err)
		if repaired > 0 {
			r.log.Info("property links repaired", zap.Int("count", repaired))
		}
	}

	if r.profiles != nil {
		repaired, err := r.profiles.RepairMissingProfiles(ctx, r.batchSize)
		errs = multierr.Append(errs, err)
		if repaired > 0 {
			r.log.Info("profiles repaired", zap.Int("count", repaired))
		}
	}

	if r.counters != nil {
		purged, err := r.counters.PurgeExpired(ctx)
		errs = multierr.Append(errs, err)
		if purged > 0 {
			r.log.Debug("rate counters purged", zap.Int64("count", purged))
		}
	}

	if r.audit != nil {
		pruned, err := r.audit.CleanupOlderThan(ctx, r.retentionDays)
		errs = multierr.Append(errs, err)
		if pruned > 0 {
			r.log.Info("audit records pruned", zap.Int64("count", pruned), zap.Int("retention_days", r.retentionDays))
		}
	}

	return errs
}
