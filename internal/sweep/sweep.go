// Package sweep runs the periodic reconciliation jobs: the status sweep
// realigns persisted lifecycle states with the clock, and the counter sweep
// repairs drift between the persisted signedUp counter and the authoritative
// registration count. Both are idempotent and safe to run concurrently with
// live traffic.
package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = time.Minute

type (
	// Store is the persistence surface the sweeps consume.
	Store interface {
		ListAllEvents(ctx context.Context) ([]domain.Event, error)
		UpdateEventStatus(ctx context.Context, eventID string, status domain.EventStatus) error
		CountForEvent(ctx context.Context, eventID string) (int, error)
		UpdateSignedUp(ctx context.Context, eventID string, signedUp int) error
	}

	// Options configures a Sweeper.
	Options struct {
		Store    Store
		Cache    cache.Cache
		Interval time.Duration
		Clock    clock.Clock
		Logger   telemetry.Logger
		Metrics  telemetry.Metrics
	}

	// Sweeper owns the background loop and exposes the individual sweeps
	// for on-demand runs.
	Sweeper struct {
		store    Store
		cache    cache.Cache
		interval time.Duration
		clock    clock.Clock
		logger   telemetry.Logger
		metrics  telemetry.Metrics

		stopOnce sync.Once
		stop     chan struct{}
		done     chan struct{}
	}
)

// New constructs a Sweeper.
func New(opts Options) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &Sweeper{
		store:    opts.Store,
		cache:    opts.Cache,
		interval: interval,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the background loop. The loop stops when ctx is cancelled
// or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the background loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) runOnce(ctx context.Context) {
	started := time.Now()
	if _, err := s.SweepStatuses(ctx); err != nil {
		s.logger.Error(ctx, "status sweep failed", "err", err)
	}
	if _, err := s.SweepCounters(ctx); err != nil {
		s.logger.Error(ctx, "counter sweep failed", "err", err)
	}
	s.metrics.RecordTimer("sweep.duration", time.Since(started))
}

// SweepStatuses recomputes each event's lifecycle state and persists the
// ones that changed. Returns the number of events updated.
func (s *Sweeper) SweepStatuses(ctx context.Context) (int, error) {
	events, err := s.store.ListAllEvents(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	updated := 0
	for i := range events {
		ev := &events[i]
		status, err := ev.DeriveStatus(now)
		if err != nil {
			s.logger.Warn(ctx, "status derivation skipped", "event_id", ev.ID, "err", err)
			continue
		}
		if status == ev.Status {
			continue
		}
		if err := s.store.UpdateEventStatus(ctx, ev.ID, status); err != nil {
			// A concurrent cancellation makes the guarded update miss;
			// cancelled is terminal, so that is the right outcome.
			if errs.IsKind(err, errs.KindNotFound) {
				continue
			}
			s.logger.Warn(ctx, "status update failed", "event_id", ev.ID, "err", err)
			continue
		}
		updated++
		s.metrics.IncCounter("sweep.status.updated", 1, "to", string(status))
		s.invalidate(ctx, cache.TagEvent(ev.ID), cache.TagListings)
	}
	return updated, nil
}

// SweepCounters compares each event's persisted signedUp against the
// authoritative registration count and repairs drift. Returns the number of
// events repaired.
func (s *Sweeper) SweepCounters(ctx context.Context) (int, error) {
	events, err := s.store.ListAllEvents(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for i := range events {
		ev := &events[i]
		n, err := s.store.CountForEvent(ctx, ev.ID)
		if err != nil {
			s.logger.Warn(ctx, "registration count failed", "event_id", ev.ID, "err", err)
			continue
		}
		if n == ev.SignedUp {
			continue
		}
		if err := s.store.UpdateSignedUp(ctx, ev.ID, n); err != nil {
			s.logger.Warn(ctx, "counter repair failed", "event_id", ev.ID, "err", err)
			continue
		}
		repaired++
		s.logger.Info(ctx, "counter drift repaired", "event_id", ev.ID, "was", ev.SignedUp, "now", n)
		s.metrics.IncCounter("sweep.counters.repaired", 1)
		s.invalidate(ctx, cache.TagEvent(ev.ID), cache.TagAnalytics)
	}
	return repaired, nil
}

func (s *Sweeper) invalidate(ctx context.Context, tags ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTags(ctx, tags...); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "err", err)
	}
}
