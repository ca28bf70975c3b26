package update

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/notify"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/realtime"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	events    map[string]domain.Event
	users     map[string]domain.User
	programs  map[string]domain.Program
	purchases map[string]bool
	regs      []domain.Registration

	saved        *domain.Event
	linked       []string
	unlinked     []string
	deletedByEvt []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:    map[string]domain.Event{},
		users:     map[string]domain.User{},
		programs:  map[string]domain.Program{},
		purchases: map[string]bool{},
	}
}

func (s *fakeStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, errs.NotFound("event %s not found", id)
	}
	return ev, nil
}

func (s *fakeStore) SaveEvent(_ context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.saved = &cp
	s.events[e.ID] = cp
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, errs.NotFound("user %s not found", id)
	}
	return u, nil
}

func (s *fakeStore) GetPrograms(_ context.Context, ids []string) (map[string]domain.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Program, len(ids))
	for _, id := range ids {
		if p, ok := s.programs[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *fakeStore) HasCompletedPurchase(_ context.Context, programID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchases[programID+"|"+userID], nil
}

func (s *fakeStore) LinkEventToPrograms(_ context.Context, _ string, programIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linked = append(s.linked, programIDs...)
	return nil
}

func (s *fakeStore) UnlinkEventFromPrograms(_ context.Context, _ string, programIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlinked = append(s.unlinked, programIDs...)
	return nil
}

func (s *fakeStore) CountByEventRole(_ context.Context, eventID, roleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.EventID == eventID && r.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteByEvent(_ context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedByEvt = append(s.deletedByEvt, eventID)
	var kept []domain.Registration
	var n int64
	for _, r := range s.regs {
		if r.EventID == eventID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.regs = kept
	return n, nil
}

func (s *fakeStore) ListByEvent(_ context.Context, eventID string) ([]domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Registration
	for _, r := range s.regs {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDetector struct {
	conflicts []domain.Event
	queries   []conflict.Query
}

func (d *fakeDetector) Detect(_ context.Context, q conflict.Query) ([]domain.Event, error) {
	d.queries = append(d.queries, q)
	return d.conflicts, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	trios []notify.Trio
}

func (d *fakeDispatcher) Dispatch(t notify.Trio) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trios = append(d.trios, t)
}

func (d *fakeDispatcher) byKind(kind string) []notify.Trio {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Trio
	for _, t := range d.trios {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type fakeBus struct {
	mu      sync.Mutex
	changes []realtime.Change
}

func (b *fakeBus) Publish(_ context.Context, c realtime.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, c)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	store      *fakeStore
	detector   *fakeDetector
	dispatcher *fakeDispatcher
	bus        *fakeBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	detector := &fakeDetector{}
	dispatcher := &fakeDispatcher{}
	bus := &fakeBus{}
	orch, err := New(Options{
		Store:      store,
		Conflicts:  detector,
		Bus:        bus,
		Dispatcher: dispatcher,
		Clock:      clock.Fixed{T: testNow},
	})
	require.NoError(t, err)
	return &fixture{orch: orch, store: store, detector: detector, dispatcher: dispatcher, bus: bus}
}

func baseEvent() domain.Event {
	return domain.Event{
		ID:        "ev-1",
		Title:     "Effective Communication Workshop",
		Type:      "Conference",
		Date:      "2026-09-01",
		EndDate:   "2026-09-01",
		Time:      "09:00",
		EndTime:   "17:00",
		TimeZone:  "UTC",
		Format:    domain.FormatInPerson,
		Location:  "Main Hall",
		CreatedBy: "creator-1",
		Roles: []domain.Role{
			{ID: "role-a", Name: "Participant", Description: "General seat", MaxParticipants: 10},
			{ID: "role-b", Name: "Leader", MaxParticipants: 2},
		},
	}
}

func leader(id string) domain.User {
	return domain.User{ID: id, Email: id + "@example.com", FirstName: "F-" + id, AuthLevel: domain.LevelLeader, IsActive: true, IsVerified: true}
}

func admin(id string) domain.User {
	u := leader(id)
	u.AuthLevel = domain.LevelAdministrator
	return u
}

func strp(s string) *string { return &s }

func boolp(b bool) *bool { return &b }

func (f *fixture) seed(ev domain.Event, users ...domain.User) {
	f.store.events[ev.ID] = ev
	for _, u := range users {
		f.store.users[u.ID] = u
	}
}

func TestApplyAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("participant is rejected", func(t *testing.T) {
		f := newFixture(t)
		u := leader("user-1")
		u.AuthLevel = domain.LevelParticipant
		f.seed(baseEvent(), u)
		_, err := f.orch.Apply(ctx, "user-1", "ev-1", Patch{Title: strp("New")}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
	})

	t.Run("leader who is not an organizer is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), leader("user-1"))
		_, err := f.orch.Apply(ctx, "user-1", "ev-1", Patch{Title: strp("New")}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
	})

	t.Run("creator and admin may edit", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), leader("creator-1"), admin("admin-1"))
		_, err := f.orch.Apply(ctx, "creator-1", "ev-1", Patch{Title: strp("New")}, Flags{})
		require.NoError(t, err)
		_, err = f.orch.Apply(ctx, "admin-1", "ev-1", Patch{Title: strp("Newer")}, Flags{})
		require.NoError(t, err)
	})

	t.Run("missing actor is unauthorized", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent())
		_, err := f.orch.Apply(ctx, "", "ev-1", Patch{}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
	})
}

func TestApplyNormalizesFields(t *testing.T) {
	f := newFixture(t)
	f.seed(baseEvent(), admin("admin-1"))

	res, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{
		Title:     strp("  Renamed Event  "),
		Format:    strp("Online"),
		ZoomLink:  strp("https://zoom.example/j/1"),
		MeetingID: strp("123"),
		Passcode:  strp("pw"),
		EndDate:   strp(""),
	}, Flags{})
	require.NoError(t, err)

	assert.Equal(t, "Renamed Event", res.Event.Title)
	assert.Equal(t, "Online", res.Event.Location, "online events pin their location")
	assert.Equal(t, "2026-09-01", res.Event.EndDate, "empty end date falls back to the start date")
	require.NotNil(t, f.store.saved)
	assert.Equal(t, domain.FormatOnline, f.store.saved.Format)
}

func TestApplyInPersonClearsVirtualFields(t *testing.T) {
	f := newFixture(t)
	ev := baseEvent()
	ev.Format = domain.FormatOnline
	ev.Location = "Online"
	ev.ZoomLink = "https://zoom.example/j/1"
	ev.MeetingID = "123"
	ev.Passcode = "pw"
	f.seed(ev, admin("admin-1"))

	res, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{
		Format:   strp("In-person"),
		Location: strp("Hall B"),
	}, Flags{})
	require.NoError(t, err)
	assert.Empty(t, res.Event.ZoomLink)
	assert.Empty(t, res.Event.MeetingID)
	assert.Empty(t, res.Event.Passcode)
	assert.Equal(t, "Hall B", res.Event.Location)
}

func TestApplyRejectsInvertedSpan(t *testing.T) {
	f := newFixture(t)
	f.seed(baseEvent(), admin("admin-1"))
	_, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{
		EndTime: strp("08:00"),
	}, Flags{})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Nil(t, f.store.saved)
}

func TestApplyConflictRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(baseEvent(), admin("admin-1"))
	f.detector.conflicts = []domain.Event{{ID: "ev-9", Title: "Board Meeting"}}

	_, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{
		Time: strp("10:00"),
	}, Flags{})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	details := errs.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, []string{"ev-9"}, details["conflictIds"])
	assert.Nil(t, f.store.saved, "a conflicting update must not persist")

	require.Len(t, f.detector.queries, 1)
	assert.Equal(t, "ev-1", f.detector.queries[0].ExcludeEventID, "the event under edit is excluded")
	assert.Equal(t, "10:00", f.detector.queries[0].StartTime)
}

func TestApplySkipsConflictCheckWhenTimeUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(baseEvent(), admin("admin-1"))
	f.detector.conflicts = []domain.Event{{ID: "ev-9"}}

	_, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{Title: strp("New")}, Flags{})
	require.NoError(t, err)
	assert.Empty(t, f.detector.queries)
}

func TestRolesDiff(t *testing.T) {
	ctx := context.Background()

	t.Run("removing a role with registrants is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))
		f.store.regs = []domain.Registration{{ID: "r-1", EventID: "ev-1", UserID: "u-1", RoleID: "role-b"}}

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			RolesSupplied: true,
			Roles: []RolePatch{
				{ID: "role-a", Name: "Participant", MaxParticipants: 10},
			},
		}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindRoleHasRegistrants, errs.KindOf(err))
	})

	t.Run("shrinking capacity below usage is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))
		f.store.regs = []domain.Registration{
			{ID: "r-1", EventID: "ev-1", UserID: "u-1", RoleID: "role-a"},
			{ID: "r-2", EventID: "ev-1", UserID: "u-2", RoleID: "role-a"},
		}

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			RolesSupplied: true,
			Roles: []RolePatch{
				{ID: "role-a", Name: "Participant", MaxParticipants: 1},
				{ID: "role-b", Name: "Leader", MaxParticipants: 2},
			},
		}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindCapacityBelowUsage, errs.KindOf(err))
	})

	t.Run("kept roles preserve IDs and inherit omitted fields", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))

		res, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			RolesSupplied: true,
			Roles: []RolePatch{
				{ID: "role-a", Name: "Participant", MaxParticipants: 12},
				{Name: "Mentor", MaxParticipants: 3, Description: strp("Guides a group")},
			},
		}, Flags{})
		require.NoError(t, err)
		require.Len(t, res.Event.Roles, 2)

		kept := res.Event.Roles[0]
		assert.Equal(t, "role-a", kept.ID)
		assert.Equal(t, 12, kept.MaxParticipants)
		assert.Equal(t, "General seat", kept.Description, "omitted description is inherited")

		fresh := res.Event.Roles[1]
		assert.NotEmpty(t, fresh.ID)
		assert.NotEqual(t, "role-a", fresh.ID)
		assert.Equal(t, "Guides a group", fresh.Description)
	})

	t.Run("force delete clears registrations before the diff", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))
		f.store.regs = []domain.Registration{{ID: "r-1", EventID: "ev-1", UserID: "u-1", RoleID: "role-b"}}

		res, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			RolesSupplied: true,
			Roles: []RolePatch{
				{ID: "role-a", Name: "Participant", MaxParticipants: 10},
			},
		}, Flags{ForceDeleteRegistrations: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"ev-1"}, f.store.deletedByEvt)
		require.Len(t, res.Event.Roles, 1)
	})
}

func TestProgramAccess(t *testing.T) {
	ctx := context.Background()
	paid := domain.Program{ID: "prog-1", Title: "Leadership Track", IsFree: false, Mentors: []string{"mentor-1"}}

	t.Run("leader without access is rejected with details", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), leader("creator-1"))
		f.store.programs["prog-1"] = paid

		_, err := f.orch.Apply(ctx, "creator-1", "ev-1", Patch{
			ProgramLabels: &[]string{"prog-1"},
		}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
		details := errs.DetailsOf(err)
		require.NotNil(t, details)
		assert.Equal(t, "prog-1", details["programId"])
		assert.Equal(t, "creator-1", details["userId"])
	})

	t.Run("purchase grants access", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), leader("creator-1"))
		f.store.programs["prog-1"] = paid
		f.store.purchases["prog-1|creator-1"] = true

		_, err := f.orch.Apply(ctx, "creator-1", "ev-1", Patch{
			ProgramLabels: &[]string{"prog-1"},
		}, Flags{})
		require.NoError(t, err)
	})

	t.Run("admin bypasses the actor check but co-organizers are still vetted", func(t *testing.T) {
		f := newFixture(t)
		ev := baseEvent()
		ev.OrganizerDetails = []domain.OrganizerDetail{{UserID: "co-1", Name: "Co", Email: "co@example.com"}}
		f.seed(ev, admin("admin-1"), leader("co-1"))
		f.store.programs["prog-1"] = paid

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			ProgramLabels: &[]string{"prog-1"},
		}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
		details := errs.DetailsOf(err)
		require.NotNil(t, details)
		assert.Equal(t, "co-1", details["userId"])
	})

	t.Run("unknown program label is a validation error", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			ProgramLabels: &[]string{"prog-missing"},
		}, Flags{})
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})
}

func TestAutoUnpublish(t *testing.T) {
	ctx := context.Background()

	t.Run("publish with missing fields is forced off", func(t *testing.T) {
		f := newFixture(t)
		ev := baseEvent()
		ev.OrganizerDetails = []domain.OrganizerDetail{{UserID: "co-1", Name: "Co", Email: "co@example.com"}}
		f.seed(ev, admin("admin-1"), leader("creator-1"))

		res, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			Format:  strp("Online"),
			Publish: boolp(true),
		}, Flags{})
		require.NoError(t, err)

		assert.True(t, res.AutoUnpublished)
		assert.ElementsMatch(t, []string{"zoomLink", "meetingId", "passcode"}, res.MissingFields)
		require.NotNil(t, f.store.saved)
		assert.False(t, f.store.saved.Publish)
		assert.Equal(t, domain.AutoUnpublishMissingFields, f.store.saved.AutoUnpublishedReason)
		require.NotNil(t, f.store.saved.AutoUnpublishedAt)
		assert.Equal(t, testNow, *f.store.saved.AutoUnpublishedAt)

		notices := f.dispatcher.byKind("auto_unpublished")
		require.Len(t, notices, 1)
		ids := []string{}
		for _, r := range notices[0].Recipients {
			ids = append(ids, r.UserID)
		}
		assert.ElementsMatch(t, []string{"creator-1", "co-1"}, ids)
		assert.Contains(t, notices[0].Body, "zoomLink")
	})

	t.Run("a complete event publishes and clears the stale reason", func(t *testing.T) {
		f := newFixture(t)
		ev := baseEvent()
		ev.AutoUnpublishedReason = domain.AutoUnpublishMissingFields
		at := testNow.Add(-time.Hour)
		ev.AutoUnpublishedAt = &at
		f.seed(ev, admin("admin-1"))

		res, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{Publish: boolp(true)}, Flags{})
		require.NoError(t, err)
		assert.False(t, res.AutoUnpublished)
		assert.True(t, f.store.saved.Publish)
		assert.Empty(t, f.store.saved.AutoUnpublishedReason)
		assert.Nil(t, f.store.saved.AutoUnpublishedAt)
	})
}

func TestProgramLinkSync(t *testing.T) {
	f := newFixture(t)
	ev := baseEvent()
	ev.ProgramLabels = []string{"prog-old"}
	f.seed(ev, admin("admin-1"))
	f.store.programs["prog-new"] = domain.Program{ID: "prog-new", IsFree: true}

	_, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{
		ProgramLabels: &[]string{"prog-new"},
	}, Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{"prog-old"}, f.store.unlinked)
	assert.Equal(t, []string{"prog-new"}, f.store.linked)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()

	t.Run("new co-organizers and participants are told", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))
		f.store.regs = []domain.Registration{
			{ID: "r-1", EventID: "ev-1", UserID: "u-1", RoleID: "role-a",
				UserSnapshot: domain.UserSnapshot{Email: "u1@example.com", FirstName: "Una"}},
			{ID: "r-2", EventID: "ev-1", UserID: "u-1", RoleID: "role-b",
				UserSnapshot: domain.UserSnapshot{Email: "u1@example.com", FirstName: "Una"}},
			{ID: "r-3", EventID: "ev-1", UserID: "u-2", RoleID: "role-a",
				UserSnapshot: domain.UserSnapshot{Email: "u2@example.com", FirstName: "Duo"}},
		}

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			OrganizerDetails: &[]domain.OrganizerDetail{{UserID: "co-1", Name: "Co", Email: "co@example.com"}},
		}, Flags{})
		require.NoError(t, err)

		added := f.dispatcher.byKind("co_organizer_added")
		require.Len(t, added, 1)
		require.Len(t, added[0].Recipients, 1)
		assert.Equal(t, "co-1", added[0].Recipients[0].UserID)

		updated := f.dispatcher.byKind("event_updated")
		require.Len(t, updated, 1)
		assert.Len(t, updated[0].Recipients, 2, "recipients deduplicate by email")
	})

	t.Run("an unchanged organizer list sends no co-organizer notice", func(t *testing.T) {
		f := newFixture(t)
		ev := baseEvent()
		ev.OrganizerDetails = []domain.OrganizerDetail{{UserID: "co-1", Name: "Co", Email: "co@example.com"}}
		f.seed(ev, admin("admin-1"))

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			OrganizerDetails: &[]domain.OrganizerDetail{{UserID: "co-1", Name: "Co", Email: "co@example.com"}},
		}, Flags{})
		require.NoError(t, err)
		assert.Empty(t, f.dispatcher.byKind("co_organizer_added"))
	})

	t.Run("suppress flag mutes every trio", func(t *testing.T) {
		f := newFixture(t)
		f.seed(baseEvent(), admin("admin-1"))
		f.store.regs = []domain.Registration{
			{ID: "r-1", EventID: "ev-1", UserID: "u-1", RoleID: "role-a",
				UserSnapshot: domain.UserSnapshot{Email: "u1@example.com"}},
		}

		_, err := f.orch.Apply(ctx, "admin-1", "ev-1", Patch{
			OrganizerDetails: &[]domain.OrganizerDetail{{UserID: "co-1", Email: "co@example.com"}},
		}, Flags{SuppressNotifications: true})
		require.NoError(t, err)
		assert.Empty(t, f.dispatcher.trios)
	})
}

func TestApplyBroadcastsAndReportsResult(t *testing.T) {
	f := newFixture(t)
	f.seed(baseEvent(), admin("admin-1"))

	res, err := f.orch.Apply(context.Background(), "admin-1", "ev-1", Patch{Title: strp("Renamed")}, Flags{})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", res.Event.Title)

	require.Len(t, f.bus.changes, 1)
	assert.Equal(t, realtime.EventUpdated, f.bus.changes[0].Kind)
	assert.Equal(t, "ev-1", f.bus.changes[0].EventID)
	assert.Equal(t, testNow, f.bus.changes[0].At)
}
