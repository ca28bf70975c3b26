package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/keyedlock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/token"
)

// RemoveUserFromRole deletes another user's registration. The actor must be
// an organizer of the event or hold the participant-moderation permission.
func (e *Engine) RemoveUserFromRole(ctx context.Context, actorID, eventID, userID, roleID string) (*EventView, error) {
	ev, _, err := e.requireModerator(ctx, actorID, eventID)
	if err != nil {
		return nil, err
	}
	reg, err := e.store.DeleteRegistration(ctx, eventID, userID, roleID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.NotFound("user %s is not registered for this role", userID)
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
		Kind:     realtime.UserRemoved,
		EventID:  eventID,
		UserID:   userID,
		RoleID:   roleID,
		RoleName: reg.EventSnapshot.RoleName,
		View:     mustJSON(view),
	})
	e.dispatch(notify.Trio{
		Kind:    "removal",
		EventID: eventID,
		Recipients: []notify.Recipient{{
			UserID: reg.UserID,
			Email:  reg.UserSnapshot.Email,
			Name:   reg.UserSnapshot.FirstName,
		}},
		Subject: fmt.Sprintf("Removed from %s", ev.Title),
		Body:    fmt.Sprintf("An organizer removed you from the %s role of %s.", reg.EventSnapshot.RoleName, ev.Title),
		Audit: &domain.AuditRecord{
			Action:       domain.AuditActionRemoved,
			ActorID:      actorID,
			EventID:      eventID,
			TargetUserID: userID,
			Details:      map[string]any{"roleId": roleID},
		},
	})
	return view, nil
}

// MoveUserBetweenRoles retargets one registration to another role of the
// same event. The lock guards the target role only; the source side is a
// single-record atomic update.
func (e *Engine) MoveUserBetweenRoles(ctx context.Context, actorID, eventID, userID, fromRoleID, toRoleID string) (*EventView, error) {
	ev, _, err := e.requireModerator(ctx, actorID, eventID)
	if err != nil {
		return nil, err
	}
	if _, ok := ev.Role(fromRoleID); !ok {
		return nil, errs.NotFound("role %s not found on event %s", fromRoleID, eventID)
	}
	toRole, ok := ev.Role(toRoleID)
	if !ok {
		return nil, errs.NotFound("role %s not found on event %s", toRoleID, eventID)
	}
	reg, err := e.store.GetRegistration(ctx, eventID, userID, fromRoleID)
	if err != nil {
		return nil, err
	}

	n, err := e.counter.CachedCount(ctx, eventID, toRoleID)
	if err != nil {
		return nil, err
	}
	if n >= toRole.MaxParticipants {
		return nil, errs.CapacityFull("role %s is full (%d/%d)", toRole.Name, n, toRole.MaxParticipants)
	}

	audit := domain.AuditEntry{
		Action:  domain.AuditActionMoved,
		Actor:   actorID,
		At:      e.clock.Now(),
		Comment: fmt.Sprintf("from %s to %s", fromRoleID, toRoleID),
	}
	err = e.locks.WithLock(ctx, signupLockKey(eventID, toRoleID), e.lockTimeout, func(ctx context.Context) error {
		count, err := e.counter.Count(ctx, eventID, toRoleID)
		if err != nil {
			return err
		}
		if count >= toRole.MaxParticipants {
			return errs.CapacityFull("role %s is full (%d/%d)", toRole.Name, count, toRole.MaxParticipants)
		}
		if err := e.store.MoveRegistration(ctx, reg.ID, fromRoleID, toRole, audit); err != nil {
			// A write conflict on the target role means a concurrent
			// writer claimed the slot.
			if errs.IsKind(err, errs.KindDuplicate) {
				return errs.CapacityFull("role %s was claimed concurrently", toRole.Name)
			}
			return err
		}
		return e.store.SaveEvent(ctx, &ev)
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
		Kind:       realtime.UserMoved,
		EventID:    eventID,
		UserID:     userID,
		RoleID:     toRoleID,
		FromRoleID: fromRoleID,
		RoleName:   toRole.Name,
		View:       mustJSON(view),
	})
	return view, nil
}

// AssignUserToRole registers a user on an organizer's initiative. Idempotent:
// an existing matching registration returns success without side effects.
// The invitation carries a signed rejection token the assignee can use to
// decline without logging in.
func (e *Engine) AssignUserToRole(ctx context.Context, actorID, eventID, userID, roleID, notes, specialRequirements string, suppressNotifications bool) (*EventView, error) {
	ev, _, err := e.requireModerator(ctx, actorID, eventID)
	if err != nil {
		return nil, err
	}
	status, err := ev.DeriveStatus(e.clock.Now())
	if err != nil {
		return nil, err
	}
	if status != domain.StatusUpcoming {
		return nil, errs.InvalidState("event %s is %s, registrations are only accepted while upcoming", eventID, status)
	}
	role, ok := ev.Role(roleID)
	if !ok {
		return nil, errs.NotFound("role %s not found on event %s", roleID, eventID)
	}
	target, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !target.CanRegister() {
		return nil, errs.InvalidState("user %s cannot be assigned: account must be active and verified", userID)
	}

	if _, err := e.store.GetRegistration(ctx, eventID, userID, roleID); err == nil {
		return e.BuildEventView(ctx, eventID)
	} else if !errs.IsKind(err, errs.KindNotFound) {
		return nil, err
	}

	if err := e.checkQuota(ctx, &target, eventID); err != nil {
		return nil, err
	}
	n, err := e.counter.Count(ctx, eventID, roleID)
	if err != nil {
		return nil, err
	}
	if n >= role.MaxParticipants {
		return nil, errs.CapacityFull("role %s is full (%d/%d)", role.Name, n, role.MaxParticipants)
	}

	reg := e.newRegistration(&ev, role, &target, actorID, notes, specialRequirements, domain.AuditActionAssigned)
	if err := e.store.InsertRegistration(ctx, reg); err != nil {
		// A concurrent assign of the same user won the unique index race;
		// assignment is idempotent, so that is success.
		if errs.IsKind(err, errs.KindDuplicate) {
			return e.BuildEventView(ctx, eventID)
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
		Kind:     realtime.UserAssigned,
		EventID:  eventID,
		UserID:   userID,
		RoleID:   roleID,
		RoleName: role.Name,
		View:     mustJSON(view),
	})
	if !suppressNotifications {
		e.dispatch(e.invitationTrio(&ev, role, reg, actorID))
	}
	return view, nil
}

// SetGroupTopic writes one workshop group's topic. Beyond organizers and
// admins, the leader registered for "Group {X} Leader" may edit their own
// group's topic.
func (e *Engine) SetGroupTopic(ctx context.Context, actorID, eventID, group, topic string) (*EventView, error) {
	if actorID == "" {
		return nil, errs.Unauthorized("authentication required")
	}
	if !domain.ValidWorkshopGroup(group) {
		return nil, errs.Validation("unknown workshop group %q", group)
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Type != domain.WorkshopEventType {
		return nil, errs.InvalidState("event %s is not a workshop", eventID)
	}
	allowed, err := e.mayEditGroupTopic(ctx, &ev, actorID, group)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.Forbidden("not allowed to edit the topic of group %s", group)
	}

	if err := e.store.UpdateWorkshopTopic(ctx, eventID, group, strings.TrimSpace(topic)); err != nil {
		return nil, err
	}
	if e.cache != nil {
		if err := e.cache.InvalidateTags(ctx, cache.TagEvent(eventID)); err != nil {
			e.logger.Warn(ctx, "cache invalidation failed", "event_id", eventID, "err", err)
		}
	}
	view, err := e.BuildEventView(ctx, eventID)
	if err != nil {
		return nil, err
	}
	e.broadcast(ctx, realtime.Change{
		Kind:    realtime.WorkshopTopicUpdated,
		EventID: eventID,
		UserID:  actorID,
		Group:   group,
		View:    mustJSON(view),
	})
	return view, nil
}

// DeclineAssignment consumes a rejection token minted by AssignUserToRole.
// The token is stateless, so the registration is re-checked against the
// store: deleting it revokes the token.
func (e *Engine) DeclineAssignment(ctx context.Context, tok string) error {
	if e.tokens == nil {
		return errs.Validation("declining assignments is not enabled")
	}
	claims, err := e.tokens.Verify(tok)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return errs.Validation("rejection token expired")
		}
		return errs.Validation("invalid rejection token")
	}
	reg, err := e.store.GetRegistrationByID(ctx, claims.RegistrationID)
	if err != nil {
		return err
	}
	if reg.UserID != claims.AssigneeID {
		return errs.Validation("invalid rejection token")
	}
	if _, err := e.store.DeleteRegistrationByID(ctx, reg.ID); err != nil {
		return err
	}
	ev, err := e.store.GetEvent(ctx, reg.EventID)
	if err == nil {
		if saveErr := e.store.SaveEvent(ctx, &ev); saveErr != nil {
			e.logger.Warn(ctx, "counter refresh after decline failed", "event_id", ev.ID, "err", saveErr)
		}
	}

	e.invalidate(ctx, reg.EventID)
	view, viewErr := e.BuildEventView(ctx, reg.EventID)
	if viewErr != nil {
		view = nil
	}
	e.broadcast(ctx, realtime.Change{
		Kind:     realtime.UserCancelled,
		EventID:  reg.EventID,
		UserID:   reg.UserID,
		RoleID:   reg.RoleID,
		RoleName: reg.EventSnapshot.RoleName,
		View:     mustJSON(view),
	})
	e.notifyDecliner(ctx, &reg)
	return nil
}

// requireModerator authorizes organizer-level actions: the actor must be an
// organizer of the event or carry the moderation permission.
func (e *Engine) requireModerator(ctx context.Context, actorID, eventID string) (domain.Event, domain.User, error) {
	if actorID == "" {
		return domain.Event{}, domain.User{}, errs.Unauthorized("authentication required")
	}
	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return domain.Event{}, domain.User{}, errs.Unauthorized("unknown user")
		}
		return domain.Event{}, domain.User{}, err
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, domain.User{}, err
	}
	if !ev.IsOrganizer(actorID) && !domain.CanModerateParticipants(actor.AuthLevel) {
		return domain.Event{}, domain.User{}, errs.Forbidden("only organizers may manage participants")
	}
	return ev, actor, nil
}

func (e *Engine) mayEditGroupTopic(ctx context.Context, ev *domain.Event, actorID, group string) (bool, error) {
	actor, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return false, errs.Unauthorized("unknown user")
		}
		return false, err
	}
	if domain.CanModerateParticipants(actor.AuthLevel) || ev.IsOrganizer(actorID) {
		return true, nil
	}
	leaderRole := domain.WorkshopGroupLeaderRole(group)
	for _, role := range ev.Roles {
		if role.Name != leaderRole {
			continue
		}
		if _, err := e.store.GetRegistration(ctx, ev.ID, actorID, role.ID); err == nil {
			return true, nil
		} else if !errs.IsKind(err, errs.KindNotFound) {
			return false, err
		}
	}
	return false, nil
}

// invitationTrio builds the assignment invitation, including the decline
// token when a signer is configured.
func (e *Engine) invitationTrio(ev *domain.Event, role domain.Role, reg *domain.Registration, actorID string) notify.Trio {
	body := fmt.Sprintf("An organizer assigned you as %s for %s on %s %s.", role.Name, ev.Title, ev.Date, ev.Time)
	if e.tokens != nil {
		if tok, err := e.tokens.Mint(reg.ID, reg.UserID); err == nil {
			body += fmt.Sprintf(" If you cannot take part, decline with token %s.", tok)
		}
	}
	return notify.Trio{
		Kind:    "invitation",
		EventID: ev.ID,
		Recipients: []notify.Recipient{{
			UserID: reg.UserID,
			Email:  reg.UserSnapshot.Email,
			Name:   reg.UserSnapshot.FirstName,
		}},
		Subject: fmt.Sprintf("You were assigned to %s", ev.Title),
		Body:    body,
		Audit: &domain.AuditRecord{
			Action:       domain.AuditActionAssigned,
			ActorID:      actorID,
			EventID:      ev.ID,
			TargetUserID: reg.UserID,
			Details:      map[string]any{"roleId": role.ID},
		},
	}
}

// notifyDecliner tells the assigning organizer their invitation was
// declined. Lookup failures only cost the notification.
func (e *Engine) notifyDecliner(ctx context.Context, reg *domain.Registration) {
	if reg.RegisteredBy == "" || reg.RegisteredBy == reg.UserID {
		return
	}
	organizer, err := e.store.GetUser(ctx, reg.RegisteredBy)
	if err != nil {
		e.logger.Warn(ctx, "decline notification skipped, organizer lookup failed",
			"user_id", reg.RegisteredBy, "err", err)
		return
	}
	e.dispatch(notify.Trio{
		Kind:    "assignment_declined",
		EventID: reg.EventID,
		Recipients: []notify.Recipient{{
			UserID: organizer.ID,
			Email:  organizer.Email,
			Name:   organizer.FirstName,
		}},
		Subject: fmt.Sprintf("Assignment declined: %s", reg.EventSnapshot.Title),
		Body: fmt.Sprintf("%s %s declined the %s role of %s.",
			reg.UserSnapshot.FirstName, reg.UserSnapshot.LastName, reg.EventSnapshot.RoleName, reg.EventSnapshot.Title),
		Audit: &domain.AuditRecord{
			Action:       domain.AuditActionDeclined,
			ActorID:      reg.UserID,
			EventID:      reg.EventID,
			TargetUserID: reg.UserID,
			Details:      map[string]any{"roleId": reg.RoleID},
		},
	})
}
