// Package engine implements the registration core: capacity-safe signup,
// cancellation, organizer moderation (assign, remove, move) and workshop
// topic updates. Every invariant lives here; the HTTP edge only translates
// requests and the stores only persist. In-process mutual exclusion is a
// per-(event, role) keyed lock; cross-process safety is the store's unique
// index on (event, user, role).
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/keyedlock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/token"
)

// DefaultLockTimeout bounds the wait for the per-(event, role) signup lock.
// A timeout surfaces as Unavailable and the client is expected to retry.
const DefaultLockTimeout = 10 * time.Second

type (
	// Store is the persistence surface the engine consumes. The mongo
	// package implements it; tests use an in-memory fake.
	Store interface {
		GetEvent(ctx context.Context, eventID string) (domain.Event, error)
		SaveEvent(ctx context.Context, e *domain.Event) error
		UpdateWorkshopTopic(ctx context.Context, eventID, group, topic string) error

		GetUser(ctx context.Context, userID string) (domain.User, error)

		InsertRegistration(ctx context.Context, r *domain.Registration) error
		GetRegistration(ctx context.Context, eventID, userID, roleID string) (domain.Registration, error)
		GetRegistrationByID(ctx context.Context, registrationID string) (domain.Registration, error)
		DeleteRegistration(ctx context.Context, eventID, userID, roleID string) (domain.Registration, error)
		DeleteRegistrationByID(ctx context.Context, registrationID string) (domain.Registration, error)
		MoveRegistration(ctx context.Context, registrationID, fromRoleID string, toRole domain.Role, audit domain.AuditEntry) error
		CountByEventRole(ctx context.Context, eventID, roleID string) (int, error)
		CountByEventUser(ctx context.Context, eventID, userID string) (int, error)
		CountForEvent(ctx context.Context, eventID string) (int, error)
		ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error)
	}

	// Options configures the engine. Store is required; the rest default to
	// no-ops or sane values so tests can construct a minimal engine.
	Options struct {
		Store Store
		// Cache backs the capacity counter and is invalidated post-commit.
		Cache cache.Cache
		// Locks is the per-key mutual exclusion. Defaults to a fresh Locker.
		Locks *keyedlock.Locker
		// LockTimeout defaults to DefaultLockTimeout.
		LockTimeout time.Duration
		// Bus receives a typed message for every committed change. Nil
		// disables broadcasting.
		Bus realtime.Bus
		// Dispatcher receives the email/message/audit trios. Nil disables
		// side effects.
		Dispatcher notify.Dispatcher
		// Tokens signs rejection tokens for assignment invitations. Nil
		// disables tokens (invitations go out without a decline link).
		Tokens *token.Signer
		// Clock defaults to the system clock.
		Clock   clock.Clock
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Engine is the registration core.
	Engine struct {
		store       Store
		cache       cache.Cache
		locks       *keyedlock.Locker
		lockTimeout time.Duration
		bus         realtime.Bus
		dispatcher  notify.Dispatcher
		tokens      *token.Signer
		clock       clock.Clock
		counter     *CapacityCounter
		logger      telemetry.Logger
		metrics     telemetry.Metrics
	}
)

// New constructs the engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	locks := opts.Locks
	if locks == nil {
		locks = keyedlock.New()
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
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
	return &Engine{
		store:       opts.Store,
		cache:       opts.Cache,
		locks:       locks,
		lockTimeout: lockTimeout,
		bus:         opts.Bus,
		dispatcher:  opts.Dispatcher,
		tokens:      opts.Tokens,
		clock:       clk,
		counter:     NewCapacityCounter(opts.Store, opts.Cache),
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Counter exposes the capacity counter for the read path and the sweeps.
func (e *Engine) Counter() *CapacityCounter { return e.counter }

// signupLockKey serializes writers on one (event, role) pair.
func signupLockKey(eventID, roleID string) string {
	return "signup:" + eventID + ":" + roleID
}

// resolveUpcoming loads the event and verifies the lifecycle allows
// registrations.
func (e *Engine) resolveUpcoming(ctx context.Context, eventID string) (domain.Event, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	status, err := ev.DeriveStatus(e.clock.Now())
	if err != nil {
		return domain.Event{}, err
	}
	if status != domain.StatusUpcoming {
		return domain.Event{}, errs.InvalidState("event %s is %s, registrations are only accepted while upcoming", eventID, status)
	}
	ev.Status = status
	return ev, nil
}

// invalidate drops the event's cache entries and the analytics family after
// a committed write. Invalidation failures are logged, never propagated.
func (e *Engine) invalidate(ctx context.Context, eventID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateTags(ctx, cache.TagEvent(eventID), cache.TagAnalytics); err != nil {
		e.logger.Warn(ctx, "cache invalidation failed", "event_id", eventID, "err", err)
	}
}

// broadcast publishes the change to the realtime bus. Failures are logged,
// never propagated: the business state is already committed.
func (e *Engine) broadcast(ctx context.Context, change realtime.Change) {
	if e.bus == nil {
		return
	}
	change.At = e.clock.Now()
	if err := e.bus.Publish(ctx, change); err != nil {
		e.logger.Warn(ctx, "realtime broadcast failed",
			"event_id", change.EventID, "kind", string(change.Kind), "err", err)
	}
}

// dispatch hands a trio to the side-effect dispatcher.
func (e *Engine) dispatch(trio notify.Trio) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(trio)
}
