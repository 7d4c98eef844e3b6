// Package scheduler drives the periodic per-tenant work in three cadence
// tiers: a fast tier for alert checks, a medium tier for reconciliation
// fallback and range tracking, and a slow tier for history, stats, and
// housekeeping. One tenant's failure never touches another's run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// TenantLister enumerates the tenants with stored credentials.
type TenantLister interface {
	Tenants() []string
}

// StreamRegistry reports whether a tenant's private stream is up. Jobs marked
// SkipWhenStreamed are redundant while the stream delivers hints.
type StreamRegistry interface {
	Active(tenantID string) bool
}

// TenantJob runs once per tenant per tick.
type TenantJob func(ctx context.Context, tenantID string) error

// Job runs once per tick, independent of tenants.
type Job func(ctx context.Context) error

// Config sets the tier cadences and the pacing between tenants within a
// tick, which keeps venue rate limits comfortable with many tenants.
type Config struct {
	FastInterval   time.Duration
	MediumInterval time.Duration
	SlowInterval   time.Duration
	TenantDelay    time.Duration
}

type job struct {
	name             string
	skipWhenStreamed bool
	perTenant        TenantJob
	global           Job
}

type tier struct {
	name     string
	interval time.Duration
	jobs     []job
}

// Scheduler owns the three tiers. Register jobs before Run; registration is
// not safe once Run has started.
type Scheduler struct {
	cfg     Config
	tenants TenantLister
	streams StreamRegistry
	logger  *slog.Logger

	fast   tier
	medium tier
	slow   tier
}

// New creates a Scheduler. streams may be nil when no job skips streamed
// tenants.
func New(cfg Config, tenants TenantLister, streams StreamRegistry, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		tenants: tenants,
		streams: streams,
		logger:  logger.With(slog.String("component", "scheduler")),
		fast:    tier{name: "fast", interval: cfg.FastInterval},
		medium:  tier{name: "medium", interval: cfg.MediumInterval},
		slow:    tier{name: "slow", interval: cfg.SlowInterval},
	}
}

// AddFast registers a per-tenant job on the fast tier.
func (s *Scheduler) AddFast(name string, fn TenantJob) {
	s.fast.jobs = append(s.fast.jobs, job{name: name, perTenant: fn})
}

// AddMedium registers a per-tenant job on the medium tier. skipWhenStreamed
// suppresses the job for tenants whose private stream is currently active.
func (s *Scheduler) AddMedium(name string, skipWhenStreamed bool, fn TenantJob) {
	s.medium.jobs = append(s.medium.jobs, job{name: name, skipWhenStreamed: skipWhenStreamed, perTenant: fn})
}

// AddSlow registers a per-tenant job on the slow tier.
func (s *Scheduler) AddSlow(name string, fn TenantJob) {
	s.slow.jobs = append(s.slow.jobs, job{name: name, perTenant: fn})
}

// AddSlowGlobal registers a tenant-independent job on the slow tier.
func (s *Scheduler) AddSlowGlobal(name string, fn Job) {
	s.slow.jobs = append(s.slow.jobs, job{name: name, global: fn})
}

// Run ticks all tiers until ctx is cancelled, then returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range []*tier{&s.fast, &s.medium, &s.slow} {
		if len(t.jobs) == 0 {
			continue
		}
		g.Go(func() error {
			return s.runTier(ctx, t)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *Scheduler) runTier(ctx context.Context, t *tier) error {
	s.logger.Info("tier started",
		slog.String("tier", t.name),
		slog.Duration("interval", t.interval),
		slog.Int("jobs", len(t.jobs)),
	)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t *tier) {
	for _, j := range t.jobs {
		if j.global != nil {
			s.runJob(ctx, t.name, j.name, "", func(ctx context.Context) error {
				return j.global(ctx)
			})
		}
	}

	tenants := s.tenants.Tenants()
	for i, tenantID := range tenants {
		if i > 0 && !s.pause(ctx) {
			return
		}
		for _, j := range t.jobs {
			if j.perTenant == nil {
				continue
			}
			if j.skipWhenStreamed && s.streams != nil && s.streams.Active(tenantID) {
				continue
			}
			s.runJob(ctx, t.name, j.name, tenantID, func(ctx context.Context) error {
				return j.perTenant(ctx, tenantID)
			})
		}
	}
}

// runJob isolates one job execution: a panic or error is logged and the tick
// moves on.
func (s *Scheduler) runJob(ctx context.Context, tierName, jobName, tenantID string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "scheduled job panicked",
				slog.String("tier", tierName),
				slog.String("job", jobName),
				slog.String("tenant", tenantID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "scheduled job failed",
			slog.String("tier", tierName),
			slog.String("job", jobName),
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

// pause waits the inter-tenant delay; false means the context ended.
func (s *Scheduler) pause(ctx context.Context) bool {
	if s.cfg.TenantDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.TenantDelay):
		return true
	}
}
