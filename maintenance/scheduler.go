// Package maintenance runs the periodic queue sweeps on cron schedules:
// reclaiming intents whose worker died mid-claim, purging processed
// intents past retention, and logging a health report. Sweeps are
// best-effort; a failed sweep is logged and retried on its next tick.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/stats"
)

// sweepTimeout bounds a single sweep.
const sweepTimeout = 2 * time.Minute

// cronParser supports standard 5-field cron and descriptors like "@every 10m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig sets the schedules, claim timeout and retention.
func WithConfig(cfg courier.Config) Option {
	return func(s *Scheduler) { s.config = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStats sets the accumulator sweeps record into and the report reads.
func WithStats(acc *stats.Accumulator) Option {
	return func(s *Scheduler) { s.stats = acc }
}

// WithExtension registers an extension notified of sweep results.
func WithExtension(x ext.Extension) Option {
	return func(s *Scheduler) { s.exts = append(s.exts, x) }
}

// Scheduler owns the maintenance cron. It runs independently of the engine
// poll loop, so a slow dispatch cycle cannot delay a sweep.
type Scheduler struct {
	queue  intent.Store
	config courier.Config
	logger *slog.Logger
	stats  *stats.Accumulator
	cron   *cronlib.Cron
	exts   []ext.Extension
	hooks  *ext.Registry

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler and registers its sweeps. An unparsable schedule
// is returned as an error wrapping courier.ErrInvalidConfig.
func New(queue intent.Store, opts ...Option) (*Scheduler, error) {
	if queue == nil {
		return nil, courier.ErrNoStore
	}
	s := &Scheduler{
		queue:  queue,
		config: courier.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stats == nil {
		s.stats = stats.New()
	}

	s.hooks = ext.NewRegistry(s.logger)
	for _, x := range s.exts {
		s.hooks.Register(x)
	}

	cl := cronLogger{l: s.logger}
	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"reclaim", s.config.ReclaimSchedule, func(ctx context.Context) { _, _ = s.Reclaim(ctx) }},
		{"purge", s.config.PurgeSchedule, func(ctx context.Context) { _, _ = s.Purge(ctx) }},
		{"report", s.config.ReportSchedule, s.Report},
	}
	for _, j := range jobs {
		if j.schedule == "" && j.name == "report" {
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, s.wrap(j.run)); err != nil {
			return nil, fmt.Errorf("%w: %s schedule %q: %w", courier.ErrInvalidConfig, j.name, j.schedule, err)
		}
	}
	return s, nil
}

// wrap binds a sweep to the scheduler's run context with a per-sweep
// deadline.
func (s *Scheduler) wrap(run func(context.Context)) func() {
	return func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		base := s.ctx
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(base, sweepTimeout)
		defer cancel()
		run(ctx)
	}
}

// Start begins running sweeps on their schedules. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return courier.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.cron.Start()

	s.logger.Info("maintenance scheduler started",
		slog.String("reclaim_schedule", s.config.ReclaimSchedule),
		slog.String("purge_schedule", s.config.PurgeSchedule),
		slog.String("report_schedule", s.config.ReportSchedule),
	)
	return nil
}

// Stop halts the schedules, cancels running sweeps and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return courier.ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reclaim returns stuck claims to pending.
func (s *Scheduler) Reclaim(ctx context.Context) (int64, error) {
	n, err := s.queue.ReclaimStuck(ctx, s.config.ClaimTimeout)
	if err != nil {
		s.logger.Warn("reclaim sweep failed", slog.String("error", err.Error()))
		return 0, err
	}
	s.stats.RecordReclaimed(n)
	if n > 0 {
		s.logger.Info("reclaimed stuck intents",
			slog.Int64("count", n),
			slog.Duration("claim_timeout", s.config.ClaimTimeout),
		)
	}
	s.hooks.EmitIntentsReclaimed(ctx, n)
	return n, nil
}

// Purge deletes processed intents older than the retention horizon.
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	n, err := s.queue.PurgeProcessedOlderThan(ctx, s.config.Retention)
	if err != nil {
		s.logger.Warn("purge sweep failed", slog.String("error", err.Error()))
		return 0, err
	}
	s.stats.RecordPurged(n)
	if n > 0 {
		s.logger.Info("purged processed intents",
			slog.Int64("count", n),
			slog.Duration("retention", s.config.Retention),
		)
	}
	s.hooks.EmitIntentsPurged(ctx, n)
	return n, nil
}

// Report logs the running counters and the queue depth.
func (s *Scheduler) Report(ctx context.Context) {
	snap := s.stats.Snapshot()
	attrs := []any{
		slog.Int64("processed", snap.Processed),
		slog.Int64("failed", snap.Failed),
		slog.Int64("skipped", snap.Skipped),
		slog.Int64("delivered", snap.Delivered),
		slog.Int64("tokens_deactivated", snap.TokensDeactivated),
		slog.Int64("store_errors", snap.StoreErrors),
		slog.Int64("reclaimed", snap.Reclaimed),
		slog.Int64("purged", snap.Purged),
	}
	if !snap.LastCycleAt.IsZero() {
		attrs = append(attrs, slog.Time("last_cycle_at", snap.LastCycleAt))
	}

	depth, err := s.queue.CountPending(ctx)
	if err != nil {
		attrs = append(attrs, slog.String("queue_error", err.Error()))
		s.logger.Warn("health report", attrs...)
		return
	}
	attrs = append(attrs, slog.Int64("pending", depth))
	s.logger.Info("health report", attrs...)
}

// cronLogger adapts slog to cron.Logger. Cron's own info lines go to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
