package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/keyedlock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
)

// Signup registers the actor for a role. Preconditions run in a fixed order
// so every failure mode has a deterministic error kind; the capacity and
// duplicate checks are repeated under the per-(event, role) lock because the
// pre-lock pass reads a cache that may be stale.
func (e *Engine) Signup(ctx context.Context, actorID, eventID, roleID, notes, specialRequirements string) (*EventView, error) {
	ev, err := e.resolveUpcoming(ctx, eventID)
	if err != nil {
		return nil, err
	}
	role, ok := ev.Role(roleID)
	if !ok {
		return nil, errs.NotFound("role %s not found on event %s", roleID, eventID)
	}
	actor, err := e.requireRegistrant(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.checkQuota(ctx, &actor, eventID); err != nil {
		return nil, err
	}

	// Pre-lock short-circuit: a possibly stale count gives deterministic
	// errors without contending for the lock.
	n, err := e.counter.CachedCount(ctx, eventID, roleID)
	if err != nil {
		return nil, err
	}
	if n >= role.MaxParticipants {
		return nil, errs.CapacityFull("role %s is full (%d/%d)", role.Name, n, role.MaxParticipants)
	}

	reg := e.newRegistration(&ev, role, &actor, actorID, notes, specialRequirements, domain.AuditActionSignedUp)
	err = e.locks.WithLock(ctx, signupLockKey(eventID, roleID), e.lockTimeout, func(ctx context.Context) error {
		return e.insertUnderLock(ctx, &ev, role, reg)
	})
	if err != nil {
		if errors.Is(err, keyedlock.ErrTimeout) {
			return nil, errs.Unavailable("registration for this role is busy, please retry")
		}
		return nil, err
	}

	e.invalidate(ctx, eventID)
	view, err := e.BuildEventView(ctx, eventID)
	if err != nil {
		return nil, err
	}
	e.broadcast(ctx, realtime.Change{
		Kind:     realtime.UserSignedUp,
		EventID:  eventID,
		UserID:   actorID,
		RoleID:   roleID,
		RoleName: role.Name,
		View:     mustJSON(view),
	})
	e.dispatch(notify.Trio{
		Kind:       "signup_confirmation",
		EventID:    eventID,
		Recipients: []notify.Recipient{{UserID: actor.ID, Email: actor.Email, Name: actor.FirstName}},
		Subject:    fmt.Sprintf("You are signed up: %s", ev.Title),
		Body:       fmt.Sprintf("You are registered as %s for %s on %s %s.", role.Name, ev.Title, ev.Date, ev.Time),
	})
	return view, nil
}

// Cancel removes the actor's own registration for a role. Cancellation is a
// hard delete; there is no tombstone state.
func (e *Engine) Cancel(ctx context.Context, actorID, eventID, roleID string) (*EventView, error) {
	if actorID == "" {
		return nil, errs.Unauthorized("authentication required")
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	reg, err := e.store.DeleteRegistration(ctx, eventID, actorID, roleID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.NotFound("you are not registered for this role")
		}
		return nil, err
	}
	if err := e.store.SaveEvent(ctx, &ev); err != nil {
		return nil, err
	}

	e.invalidate(ctx, eventID)
	view, err := e.BuildEventView(ctx, eventID)
	if err != nil {
		return nil, err
	}
	e.broadcast(ctx, realtime.Change{
		Kind:     realtime.UserCancelled,
		EventID:  eventID,
		UserID:   actorID,
		RoleID:   roleID,
		RoleName: reg.EventSnapshot.RoleName,
		View:     mustJSON(view),
	})
	e.dispatch(notify.Trio{
		Kind:    "cancellation",
		EventID: eventID,
		Recipients: []notify.Recipient{{
			UserID: reg.UserID,
			Email:  reg.UserSnapshot.Email,
			Name:   reg.UserSnapshot.FirstName,
		}},
		Subject: fmt.Sprintf("Registration cancelled: %s", ev.Title),
		Body:    fmt.Sprintf("Your registration as %s for %s was cancelled.", reg.EventSnapshot.RoleName, ev.Title),
	})
	return view, nil
}

// insertUnderLock is the signup critical section: authoritative recount,
// duplicate lookup, insert, derived-counter refresh.
func (e *Engine) insertUnderLock(ctx context.Context, ev *domain.Event, role domain.Role, reg *domain.Registration) error {
	n, err := e.counter.Count(ctx, ev.ID, role.ID)
	if err != nil {
		return err
	}
	if n >= role.MaxParticipants {
		return errs.CapacityFull("role %s is full (%d/%d)", role.Name, n, role.MaxParticipants)
	}
	_, err = e.store.GetRegistration(ctx, ev.ID, reg.UserID, role.ID)
	if err == nil {
		return errs.Duplicate("already registered for role %s", role.Name)
	}
	if !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if err := e.store.InsertRegistration(ctx, reg); err != nil {
		return err
	}
	return e.store.SaveEvent(ctx, ev)
}

// requireRegistrant resolves the acting user and verifies the account may
// hold registrations. Locked or unverified accounts are rejected the same
// way as missing authentication.
func (e *Engine) requireRegistrant(ctx context.Context, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, errs.Unauthorized("authentication required")
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return domain.User{}, errs.Unauthorized("unknown user")
		}
		return domain.User{}, err
	}
	if !user.CanRegister() {
		return domain.User{}, errs.Unauthorized("account must be active and verified to register")
	}
	return user, nil
}

// checkQuota enforces the per-event role ceiling for the user's level.
func (e *Engine) checkQuota(ctx context.Context, user *domain.User, eventID string) error {
	quota := domain.RoleQuota(user.AuthLevel)
	held, err := e.store.CountByEventUser(ctx, eventID, user.ID)
	if err != nil {
		return err
	}
	if held >= quota {
		return errs.QuotaExceeded("%s accounts may hold at most %d roles in one event", user.AuthLevel, quota)
	}
	return nil
}

func (e *Engine) newRegistration(ev *domain.Event, role domain.Role, user *domain.User, registeredBy, notes, specialRequirements, auditAction string) *domain.Registration {
	now := e.clock.Now()
	return &domain.Registration{
		ID:                  uuid.NewString(),
		EventID:             ev.ID,
		UserID:              user.ID,
		RoleID:              role.ID,
		RegistrationDate:    now,
		Notes:               notes,
		SpecialRequirements: specialRequirements,
		RegisteredBy:        registeredBy,
		UserSnapshot:        domain.SnapshotUser(user),
		EventSnapshot:       domain.SnapshotEvent(ev, role),
		AuditTrail:          domain.Appended(nil, auditAction, registeredBy, "", now),
	}
}
