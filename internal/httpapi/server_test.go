package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/engine"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/update"
)

type fakeEngine struct {
	view *engine.EventView
	err  error

	lastActor string
	lastEvent string
	lastRole  string
	declined  []string
}

func (f *fakeEngine) Signup(_ context.Context, actorID, eventID, roleID, _, _ string) (*engine.EventView, error) {
	f.lastActor, f.lastEvent, f.lastRole = actorID, eventID, roleID
	return f.view, f.err
}

func (f *fakeEngine) Cancel(_ context.Context, actorID, eventID, roleID string) (*engine.EventView, error) {
	f.lastActor, f.lastEvent, f.lastRole = actorID, eventID, roleID
	return f.view, f.err
}

func (f *fakeEngine) AssignUserToRole(_ context.Context, actorID, eventID, _, roleID, _, _ string, _ bool) (*engine.EventView, error) {
	f.lastActor, f.lastEvent, f.lastRole = actorID, eventID, roleID
	return f.view, f.err
}

func (f *fakeEngine) MoveUserBetweenRoles(_ context.Context, actorID, eventID, _, _, toRoleID string) (*engine.EventView, error) {
	f.lastActor, f.lastEvent, f.lastRole = actorID, eventID, toRoleID
	return f.view, f.err
}

func (f *fakeEngine) RemoveUserFromRole(_ context.Context, actorID, eventID, _, roleID string) (*engine.EventView, error) {
	f.lastActor, f.lastEvent, f.lastRole = actorID, eventID, roleID
	return f.view, f.err
}

func (f *fakeEngine) SetGroupTopic(_ context.Context, actorID, eventID, _, _ string) (*engine.EventView, error) {
	f.lastActor, f.lastEvent = actorID, eventID
	return f.view, f.err
}

func (f *fakeEngine) DeclineAssignment(_ context.Context, token string) error {
	f.declined = append(f.declined, token)
	return f.err
}

func (f *fakeEngine) BuildEventView(_ context.Context, eventID string) (*engine.EventView, error) {
	f.lastEvent = eventID
	return f.view, f.err
}

func (f *fakeEngine) RegistrationBreakdown(context.Context, string) (int, int, error) {
	return 2, 1, f.err
}

type fakeUpdater struct {
	res *update.Result
	err error

	lastPatch update.Patch
	lastFlags update.Flags
}

func (f *fakeUpdater) Apply(_ context.Context, _, _ string, patch update.Patch, flags update.Flags) (*update.Result, error) {
	f.lastPatch, f.lastFlags = patch, flags
	return f.res, f.err
}

type fakeConflicts struct {
	events    []domain.Event
	lastQuery conflict.Query
}

func (f *fakeConflicts) Detect(_ context.Context, q conflict.Query) ([]domain.Event, error) {
	f.lastQuery = q
	return f.events, nil
}

type rig struct {
	server  *Server
	eng     *fakeEngine
	updater *fakeUpdater
	confl   *fakeConflicts
	router  http.Handler
}

func newServerRig(t *testing.T) *rig {
	t.Helper()
	eng := &fakeEngine{view: &engine.EventView{ID: "ev-1", Title: "Event"}}
	updater := &fakeUpdater{res: &update.Result{}}
	confl := &fakeConflicts{}
	listings, err := NewListings(ListingsOptions{
		Store: &fakeListingStore{},
		Cache: cache.NewMemory(cache.MemoryOptions{}),
	})
	require.NoError(t, err)
	srv, err := New(Options{Engine: eng, Updater: updater, Conflicts: confl, Listings: listings})
	require.NoError(t, err)
	return &rig{server: srv, eng: eng, updater: updater, confl: confl, router: srv.Router()}
}

func (r *rig) do(t *testing.T, method, path, actorID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actorID != "" {
		req.Header.Set(actorHeader, actorID)
	}
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func TestSignupRoute(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodPost, "/events/ev-1/signup", "user-1", map[string]string{"roleId": "role-a"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", r.eng.lastActor)
	assert.Equal(t, "ev-1", r.eng.lastEvent)
	assert.Equal(t, "role-a", r.eng.lastRole)

	var body struct {
		Event engine.EventView `json:"event"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ev-1", body.Event.ID)
}

func TestErrorKindToStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errs.Validation("bad input"), http.StatusBadRequest},
		{errs.InvalidState("not upcoming"), http.StatusBadRequest},
		{errs.Unauthorized("who are you"), http.StatusUnauthorized},
		{errs.Forbidden("not yours"), http.StatusForbidden},
		{errs.NotFound("missing"), http.StatusNotFound},
		{errs.Duplicate("again"), http.StatusConflict},
		{errs.CapacityFull("full"), http.StatusConflict},
		{errs.QuotaExceeded("too many"), http.StatusConflict},
		{errs.Unavailable("busy"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(errs.KindOf(tc.err)), func(t *testing.T) {
			r := newServerRig(t)
			r.eng.err = tc.err
			rec := r.do(t, http.MethodPost, "/events/ev-1/signup", "user-1", map[string]string{"roleId": "role-a"})

			assert.Equal(t, tc.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(errs.KindOf(tc.err)), body.Error.Kind)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestErrorDetailsPropagate(t *testing.T) {
	r := newServerRig(t)
	r.updater.err = errs.Conflict("overlap").WithDetails(map[string]any{"conflictIds": []string{"ev-9"}})
	rec := r.do(t, http.MethodPost, "/events/ev-1/update", "admin-1", map[string]any{"title": "New"})

	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{"ev-9"}, body.Error.Details["conflictIds"])
}

func TestMalformedBodyIs400(t *testing.T) {
	r := newServerRig(t)
	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/signup", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRouteMapsPatchAndFlags(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodPost, "/events/ev-1/update", "admin-1", map[string]any{
		"title":                    "Renamed",
		"publish":                  true,
		"roles":                    []map[string]any{{"id": "role-a", "name": "Participant", "maxParticipants": 5}},
		"suppressNotifications":    true,
		"forceDeleteRegistrations": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, r.updater.lastPatch.Title)
	assert.Equal(t, "Renamed", *r.updater.lastPatch.Title)
	require.NotNil(t, r.updater.lastPatch.Publish)
	assert.True(t, *r.updater.lastPatch.Publish)
	assert.True(t, r.updater.lastPatch.RolesSupplied)
	require.Len(t, r.updater.lastPatch.Roles, 1)
	assert.Equal(t, 5, r.updater.lastPatch.Roles[0].MaxParticipants)
	assert.True(t, r.updater.lastFlags.SuppressNotifications)
	assert.True(t, r.updater.lastFlags.ForceDeleteRegistrations)
}

func TestUpdateRouteOmittedRolesStayNil(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodPost, "/events/ev-1/update", "admin-1", map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, r.updater.lastPatch.RolesSupplied)
	assert.Nil(t, r.updater.lastPatch.OrganizerDetails)
}

func TestUpdateRouteReportsAutoUnpublish(t *testing.T) {
	r := newServerRig(t)
	r.updater.res = &update.Result{AutoUnpublished: true, MissingFields: []string{"zoomLink"}}
	rec := r.do(t, http.MethodPost, "/events/ev-1/update", "admin-1", map[string]any{"publish": true})

	require.Equal(t, http.StatusOK, rec.Code)
	var body updateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.AutoUnpublished)
	assert.Equal(t, []string{"zoomLink"}, body.MissingFields)
}

func TestTimeConflictRoute(t *testing.T) {
	r := newServerRig(t)
	r.confl.events = []domain.Event{{ID: "ev-9", Title: "Clash", Date: "2026-09-01", Time: "09:00", EndTime: "10:00"}}

	rec := r.do(t, http.MethodGet,
		"/events/time-conflict?startDate=2026-09-01&startTime=09:30&mode=point&excludeId=ev-1&timeZone=UTC", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body conflictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Conflict)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, "ev-9", body.Conflicts[0].ID)

	assert.Equal(t, "ev-1", r.confl.lastQuery.ExcludeEventID)
	assert.Empty(t, r.confl.lastQuery.EndTime, "point mode strips any end")
}

func TestHasRegistrationsRoute(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodGet, "/events/ev-1/has-registrations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body hasRegistrationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.HasRegistrations)
	assert.Equal(t, 2, body.UserCount)
	assert.Equal(t, 1, body.GuestCount)
	assert.Equal(t, 3, body.TotalCount)
}

func TestDeclineRoute(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodPost, "/registrations/decline", "", map[string]string{"token": "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tok-1"}, r.eng.declined)

	rec = r.do(t, http.MethodPost, "/registrations/decline", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLivez(t *testing.T) {
	r := newServerRig(t)
	rec := r.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
