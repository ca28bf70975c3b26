// Package update orchestrates event updates as a strictly ordered sequence:
// authorize, normalize, conflict check, roles diff, organizer diff, program
// linkage, auto-unpublish, persist, notify, invalidate. All validations run
// before the first write; mid-write failures after the save are logged and
// left to the periodic sweeps to reconcile.
package update

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

type (
	// Store is the persistence surface the orchestrator consumes.
	Store interface {
		GetEvent(ctx context.Context, eventID string) (domain.Event, error)
		SaveEvent(ctx context.Context, e *domain.Event) error
		GetUser(ctx context.Context, userID string) (domain.User, error)
		GetPrograms(ctx context.Context, programIDs []string) (map[string]domain.Program, error)
		HasCompletedPurchase(ctx context.Context, programID, userID string) (bool, error)
		LinkEventToPrograms(ctx context.Context, eventID string, programIDs []string) error
		UnlinkEventFromPrograms(ctx context.Context, eventID string, programIDs []string) error
		CountByEventRole(ctx context.Context, eventID, roleID string) (int, error)
		DeleteByEvent(ctx context.Context, eventID string) (int64, error)
		ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error)
	}

	// ConflictDetector finds overlapping events for a proposed span.
	ConflictDetector interface {
		Detect(ctx context.Context, q conflict.Query) ([]domain.Event, error)
	}

	// RolePatch replaces or creates one role. An empty ID creates a fresh
	// role; a matching ID preserves it and inherits the optional fields
	// that are omitted.
	RolePatch struct {
		ID              string
		Name            string
		Description     *string
		MaxParticipants int
		OpenToPublic    *bool
		Agenda          *string
		StartTime       *string
		EndTime         *string
	}

	// Patch is a partial update of event fields. Nil means "leave as is".
	// Control flags travel as call arguments, never inside the patch.
	Patch struct {
		Title            *string
		Type             *string
		Purpose          *string
		Date             *string
		EndDate          *string
		Time             *string
		EndTime          *string
		TimeZone         *string
		Format           *string
		Location         *string
		ZoomLink         *string
		MeetingID        *string
		Passcode         *string
		Publish          *bool
		Roles            []RolePatch
		RolesSupplied    bool
		OrganizerDetails *[]domain.OrganizerDetail
		ProgramLabels    *[]string
	}

	// Flags carry the caller's intent for this update.
	Flags struct {
		SuppressNotifications    bool
		ForceDeleteRegistrations bool
	}

	// Result reports the persisted event and whether publish was forced
	// off.
	Result struct {
		Event           domain.Event
		AutoUnpublished bool
		MissingFields   []string
	}

	// Options configures the orchestrator.
	Options struct {
		Store     Store
		Conflicts ConflictDetector
		// Cache, Bus and Dispatcher are optional post-commit collaborators.
		Cache      cache.Cache
		Bus        realtime.Bus
		Dispatcher notify.Dispatcher
		Clock      clock.Clock
		Logger     telemetry.Logger
	}

	// Orchestrator applies event updates.
	Orchestrator struct {
		store      Store
		conflicts  ConflictDetector
		cache      cache.Cache
		bus        realtime.Bus
		dispatcher notify.Dispatcher
		clock      clock.Clock
		logger     telemetry.Logger
	}
)

// New constructs the orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Conflicts == nil {
		return nil, errors.New("conflict detector is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	return &Orchestrator{
		store:      opts.Store,
		conflicts:  opts.Conflicts,
		cache:      opts.Cache,
		bus:        opts.Bus,
		dispatcher: opts.Dispatcher,
		clock:      clk,
		logger:     logger,
	}, nil
}

// Apply runs the update sequence for one event.
func (o *Orchestrator) Apply(ctx context.Context, actorID, eventID string, patch Patch, flags Flags) (*Result, error) {
	// Step 1: authorize.
	actor, ev, err := o.authorize(ctx, actorID, eventID)
	if err != nil {
		return nil, err
	}
	before := ev

	// Step 2: normalize fields and enforce format rules.
	if err := applyFields(&ev, patch); err != nil {
		return nil, err
	}

	// Step 3: conflict check when any time field changed.
	if timeChanged(&before, &ev) {
		if err := o.checkConflicts(ctx, &ev); err != nil {
			return nil, err
		}
	}

	// Step 4: roles diff.
	if patch.RolesSupplied {
		merged, err := o.mergeRoles(ctx, &ev, patch.Roles, flags.ForceDeleteRegistrations)
		if err != nil {
			return nil, err
		}
		ev.Roles = merged
	}

	// Step 5: organizer details diff, tracked for notification.
	var newOrganizers []domain.OrganizerDetail
	if patch.OrganizerDetails != nil {
		newOrganizers = addedOrganizers(before.OrganizerDetails, *patch.OrganizerDetails)
		ev.OrganizerDetails = *patch.OrganizerDetails
	}

	// Steps 6 and 7: program linkage and access.
	if err := o.checkPrograms(ctx, &actor, &ev); err != nil {
		return nil, err
	}

	// Step 8: auto-unpublish.
	res := &Result{}
	o.applyPublishRules(&ev, res)

	// Step 9: persist, then synchronize the inverse program links.
	if err := o.store.SaveEvent(ctx, &ev); err != nil {
		return nil, err
	}
	o.syncProgramLinks(ctx, eventID, before.ProgramLabels, ev.ProgramLabels)

	// Step 10: notify.
	if !flags.SuppressNotifications {
		o.notify(ctx, &ev, newOrganizers, res)
	}

	// Step 11: cache invalidation, plus the realtime broadcast.
	o.invalidate(ctx, eventID)
	o.broadcast(ctx, &ev)

	res.Event = ev
	return res, nil
}

func (o *Orchestrator) authorize(ctx context.Context, actorID, eventID string) (domain.User, domain.Event, error) {
	if actorID == "" {
		return domain.User{}, domain.Event{}, errs.Unauthorized("authentication required")
	}
	actor, err := o.store.GetUser(ctx, actorID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return domain.User{}, domain.Event{}, errs.Unauthorized("unknown user")
		}
		return domain.User{}, domain.Event{}, err
	}
	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.User{}, domain.Event{}, err
	}
	if domain.CanEditAnyEvent(actor.AuthLevel) {
		return actor, ev, nil
	}
	if domain.CanEditOwnEvent(actor.AuthLevel) && ev.IsOrganizer(actorID) {
		return actor, ev, nil
	}
	return domain.User{}, domain.Event{}, errs.Forbidden("not allowed to edit this event")
}

// applyFields copies the patch onto the event, trims strings, applies the
// format rules and validates the effective time span.
func applyFields(ev *domain.Event, patch Patch) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&ev.Title, patch.Title)
	setString(&ev.Type, patch.Type)
	setString(&ev.Purpose, patch.Purpose)
	setString(&ev.Date, patch.Date)
	setString(&ev.EndDate, patch.EndDate)
	setString(&ev.Time, patch.Time)
	setString(&ev.EndTime, patch.EndTime)
	setString(&ev.TimeZone, patch.TimeZone)
	setString(&ev.Location, patch.Location)
	setString(&ev.ZoomLink, patch.ZoomLink)
	setString(&ev.MeetingID, patch.MeetingID)
	setString(&ev.Passcode, patch.Passcode)
	if patch.Format != nil {
		ev.Format = domain.EventFormat(strings.TrimSpace(*patch.Format))
	}
	if patch.Publish != nil {
		ev.Publish = *patch.Publish
	}
	if patch.ProgramLabels != nil {
		ev.ProgramLabels = *patch.ProgramLabels
	}

	if ev.EndDate == "" {
		ev.EndDate = ev.Date
	}

	switch ev.Format {
	case domain.FormatInPerson:
		ev.ZoomLink, ev.MeetingID, ev.Passcode = "", "", ""
	case domain.FormatOnline:
		ev.Location = "Online"
	case domain.FormatHybrid:
		// Hybrid keeps both the location and the virtual fields.
	default:
		return errs.Validation("unknown event format %q", ev.Format)
	}

	start, err := ev.StartInstant()
	if err != nil {
		return errs.Validation("invalid start: %v", err)
	}
	end, err := ev.EndInstant()
	if err != nil {
		return errs.Validation("invalid end: %v", err)
	}
	if end.Before(start) {
		return errs.Validation("event end must not precede its start")
	}
	return nil
}

func timeChanged(before, after *domain.Event) bool {
	return before.Date != after.Date ||
		before.EndDate != after.EndDate ||
		before.Time != after.Time ||
		before.EndTime != after.EndTime ||
		before.TimeZone != after.TimeZone
}

func (o *Orchestrator) checkConflicts(ctx context.Context, ev *domain.Event) error {
	overlapping, err := o.conflicts.Detect(ctx, conflict.Query{
		StartDate:      ev.Date,
		StartTime:      ev.Time,
		EndDate:        ev.EndDate,
		EndTime:        ev.EndTime,
		TimeZone:       ev.TimeZone,
		ExcludeEventID: ev.ID,
	})
	if err != nil {
		return err
	}
	if len(overlapping) == 0 {
		return nil
	}
	ids := make([]string, 0, len(overlapping))
	titles := make([]string, 0, len(overlapping))
	for _, c := range overlapping {
		ids = append(ids, c.ID)
		titles = append(titles, c.Title)
	}
	return errs.Conflict("the proposed time overlaps %d existing event(s)", len(overlapping)).
		WithDetails(map[string]any{"conflictIds": ids, "conflictTitles": titles})
}

// mergeRoles diffs the patch against the existing role set. Matching IDs are
// preserved and inherit omitted optional fields; removed roles must be free
// of registrants unless the caller force-deletes; shrunk capacities must not
// drop below current usage.
func (o *Orchestrator) mergeRoles(ctx context.Context, ev *domain.Event, patches []RolePatch, forceDelete bool) ([]domain.Role, error) {
	if forceDelete {
		if _, err := o.store.DeleteByEvent(ctx, ev.ID); err != nil {
			return nil, err
		}
	}

	existing := make(map[string]domain.Role, len(ev.Roles))
	for _, r := range ev.Roles {
		existing[r.ID] = r
	}
	kept := make(map[string]bool, len(patches))
	for _, p := range patches {
		if p.ID != "" {
			kept[p.ID] = true
		}
	}

	if !forceDelete {
		for _, r := range ev.Roles {
			n, err := o.store.CountByEventRole(ctx, ev.ID, r.ID)
			if err != nil {
				return nil, err
			}
			if !kept[r.ID] {
				if n > 0 {
					return nil, errs.RoleHasRegistrants("role %s has %d registrant(s); pass forceDeleteRegistrations to remove it", r.Name, n)
				}
				continue
			}
			for _, p := range patches {
				if p.ID == r.ID && p.MaxParticipants < n {
					return nil, errs.CapacityBelowUsage("role %s has %d registrant(s); capacity cannot drop to %d", r.Name, n, p.MaxParticipants)
				}
			}
		}
	}

	merged := make([]domain.Role, 0, len(patches))
	for _, p := range patches {
		if p.MaxParticipants <= 0 {
			return nil, errs.Validation("role %q needs a positive capacity", p.Name)
		}
		role := domain.Role{
			ID:              p.ID,
			Name:            strings.TrimSpace(p.Name),
			MaxParticipants: p.MaxParticipants,
		}
		prev, known := existing[p.ID]
		if role.ID == "" || (!known && role.ID != "") {
			if role.ID == "" {
				role.ID = uuid.NewString()
			}
			known = false
		}
		// Inherit the optional fields omitted from the patch.
		if p.Description != nil {
			role.Description = strings.TrimSpace(*p.Description)
		} else if known {
			role.Description = prev.Description
		}
		if p.OpenToPublic != nil {
			role.OpenToPublic = *p.OpenToPublic
		} else if known {
			role.OpenToPublic = prev.OpenToPublic
		}
		if p.Agenda != nil {
			role.Agenda = strings.TrimSpace(*p.Agenda)
		} else if known {
			role.Agenda = prev.Agenda
		}
		if p.StartTime != nil {
			role.StartTime = strings.TrimSpace(*p.StartTime)
		} else if known {
			role.StartTime = prev.StartTime
		}
		if p.EndTime != nil {
			role.EndTime = strings.TrimSpace(*p.EndTime)
		} else if known {
			role.EndTime = prev.EndTime
		}
		merged = append(merged, role)
	}
	return merged, nil
}

func addedOrganizers(before, after []domain.OrganizerDetail) []domain.OrganizerDetail {
	old := make(map[string]bool, len(before))
	for _, o := range before {
		old[o.UserID] = true
	}
	var added []domain.OrganizerDetail
	for _, o := range after {
		if !old[o.UserID] {
			added = append(added, o)
		}
	}
	return added
}

// checkPrograms validates every program label resolves, that a Leader actor
// has access to each linked program, and that every co-organizer can access
// each non-free one. Access means: the program is free, the user is a listed
// mentor, or the user holds a completed purchase.
func (o *Orchestrator) checkPrograms(ctx context.Context, actor *domain.User, ev *domain.Event) error {
	if len(ev.ProgramLabels) == 0 {
		return nil
	}
	programs, err := o.store.GetPrograms(ctx, ev.ProgramLabels)
	if err != nil {
		return err
	}
	for _, id := range ev.ProgramLabels {
		program, ok := programs[id]
		if !ok {
			return errs.Validation("unknown program %s", id)
		}
		if actor.AuthLevel == domain.LevelLeader {
			ok, err := o.hasProgramAccess(ctx, &program, actor.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errs.Forbidden("no access to program %s", id).
					WithDetails(map[string]any{"programId": id, "userId": actor.ID})
			}
		}
		if program.IsFree {
			continue
		}
		for _, org := range ev.OrganizerDetails {
			ok, err := o.hasProgramAccess(ctx, &program, org.UserID)
			if err != nil {
				return err
			}
			if !ok {
				return errs.Forbidden("co-organizer %s has no access to program %s", org.UserID, id).
					WithDetails(map[string]any{"programId": id, "userId": org.UserID})
			}
		}
	}
	return nil
}

func (o *Orchestrator) hasProgramAccess(ctx context.Context, program *domain.Program, userID string) (bool, error) {
	if program.IsFree || program.IsMentor(userID) {
		return true, nil
	}
	return o.store.HasCompletedPurchase(ctx, program.ID, userID)
}

// applyPublishRules forces publish off when format-required fields are
// missing, and clears a stale reason when publish legitimately stays on.
func (o *Orchestrator) applyPublishRules(ev *domain.Event, res *Result) {
	if !ev.Publish {
		return
	}
	missing := ev.MissingRequiredFields()
	if len(missing) == 0 {
		ev.AutoUnpublishedReason = ""
		ev.AutoUnpublishedAt = nil
		return
	}
	now := o.clock.Now()
	ev.Publish = false
	ev.AutoUnpublishedReason = domain.AutoUnpublishMissingFields
	ev.AutoUnpublishedAt = &now
	res.AutoUnpublished = true
	res.MissingFields = missing
}

// syncProgramLinks reconciles the inverse program -> event references after
// the save. Non-transactional: failures are logged and the sweeps reconcile.
func (o *Orchestrator) syncProgramLinks(ctx context.Context, eventID string, before, after []string) {
	was := make(map[string]bool, len(before))
	for _, id := range before {
		was[id] = true
	}
	is := make(map[string]bool, len(after))
	for _, id := range after {
		is[id] = true
	}
	var removed, added []string
	for _, id := range before {
		if !is[id] {
			removed = append(removed, id)
		}
	}
	for _, id := range after {
		if !was[id] {
			added = append(added, id)
		}
	}
	if err := o.store.UnlinkEventFromPrograms(ctx, eventID, removed); err != nil {
		o.logger.Warn(ctx, "program unlink failed", "event_id", eventID, "err", err)
	}
	if err := o.store.LinkEventToPrograms(ctx, eventID, added); err != nil {
		o.logger.Warn(ctx, "program link failed", "event_id", eventID, "err", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, ev *domain.Event, newOrganizers []domain.OrganizerDetail, res *Result) {
	if o.dispatcher == nil {
		return
	}
	if len(newOrganizers) > 0 {
		recipients := make([]notify.Recipient, 0, len(newOrganizers))
		for _, org := range newOrganizers {
			recipients = append(recipients, notify.Recipient{UserID: org.UserID, Email: org.Email, Name: org.Name})
		}
		o.dispatcher.Dispatch(notify.Trio{
			Kind:       "co_organizer_added",
			EventID:    ev.ID,
			Recipients: recipients,
			Subject:    fmt.Sprintf("You are now co-organizing %s", ev.Title),
			Body:       fmt.Sprintf("You were added as a co-organizer of %s on %s.", ev.Title, ev.Date),
		})
	}

	participants, err := o.participantRecipients(ctx, ev.ID)
	if err != nil {
		o.logger.Warn(ctx, "participant notification skipped", "event_id", ev.ID, "err", err)
	} else if len(participants) > 0 {
		o.dispatcher.Dispatch(notify.Trio{
			Kind:       "event_updated",
			EventID:    ev.ID,
			Recipients: participants,
			Subject:    fmt.Sprintf("Event updated: %s", ev.Title),
			Body:       fmt.Sprintf("The details of %s changed. Please review the event page.", ev.Title),
		})
	}

	if res.AutoUnpublished {
		o.dispatcher.Dispatch(notify.Trio{
			Kind:       "auto_unpublished",
			EventID:    ev.ID,
			Recipients: o.organizerRecipients(ctx, ev),
			Subject:    fmt.Sprintf("Event unpublished: %s", ev.Title),
			Body: fmt.Sprintf("%s was unpublished because required fields are missing: %s.",
				ev.Title, strings.Join(res.MissingFields, ", ")),
		})
	}
}

// participantRecipients unions participants and guests, deduplicated by
// email.
func (o *Orchestrator) participantRecipients(ctx context.Context, eventID string) ([]notify.Recipient, error) {
	regs, err := o.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(regs))
	out := make([]notify.Recipient, 0, len(regs))
	for _, r := range regs {
		email := r.UserSnapshot.Email
		if email != "" && seen[email] {
			continue
		}
		if email != "" {
			seen[email] = true
		}
		out = append(out, notify.Recipient{
			UserID: r.UserID,
			Email:  email,
			Name:   r.UserSnapshot.FirstName,
		})
	}
	return out, nil
}

func (o *Orchestrator) organizerRecipients(ctx context.Context, ev *domain.Event) []notify.Recipient {
	out := make([]notify.Recipient, 0, len(ev.OrganizerDetails)+1)
	if creator, err := o.store.GetUser(ctx, ev.CreatedBy); err == nil {
		out = append(out, notify.Recipient{UserID: creator.ID, Email: creator.Email, Name: creator.FirstName})
	}
	for _, org := range ev.OrganizerDetails {
		out = append(out, notify.Recipient{UserID: org.UserID, Email: org.Email, Name: org.Name})
	}
	return out
}

func (o *Orchestrator) invalidate(ctx context.Context, eventID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.InvalidateTags(ctx, cache.TagEvent(eventID), cache.TagAnalytics); err != nil {
		o.logger.Warn(ctx, "cache invalidation failed", "event_id", eventID, "err", err)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, ev *domain.Event) {
	if o.bus == nil {
		return
	}
	change := realtime.Change{
		Kind:    realtime.EventUpdated,
		EventID: ev.ID,
		At:      o.clock.Now(),
	}
	if err := o.bus.Publish(ctx, change); err != nil {
		o.logger.Warn(ctx, "realtime broadcast failed", "event_id", ev.ID, "err", err)
	}
}
