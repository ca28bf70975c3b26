package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/conflict"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/storage/mongo"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/update"
)

type (
	errorBody struct {
		Error errorDetail `json:"error"`
	}

	errorDetail struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}

	eventResponse struct {
		Event any `json:"event"`
	}

	signupRequest struct {
		RoleID              string `json:"roleId"`
		Notes               string `json:"notes"`
		SpecialRequirements string `json:"specialRequirements"`
	}

	cancelRequest struct {
		RoleID string `json:"roleId"`
	}

	assignRequest struct {
		UserID                string `json:"userId"`
		RoleID                string `json:"roleId"`
		Notes                 string `json:"notes"`
		SpecialRequirements   string `json:"specialRequirements"`
		SuppressNotifications bool   `json:"suppressNotifications"`
	}

	moveRequest struct {
		UserID     string `json:"userId"`
		FromRoleID string `json:"fromRoleId"`
		ToRoleID   string `json:"toRoleId"`
	}

	removeRequest struct {
		UserID string `json:"userId"`
		RoleID string `json:"roleId"`
	}

	topicRequest struct {
		Topic string `json:"topic"`
	}

	declineRequest struct {
		Token string `json:"token"`
	}

	roleRequest struct {
		ID              string  `json:"id"`
		Name            string  `json:"name"`
		Description     *string `json:"description"`
		MaxParticipants int     `json:"maxParticipants"`
		OpenToPublic    *bool   `json:"openToPublic"`
		Agenda          *string `json:"agenda"`
		StartTime       *string `json:"startTime"`
		EndTime         *string `json:"endTime"`
	}

	organizerRequest struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}

	updateRequest struct {
		Title            *string             `json:"title"`
		Type             *string             `json:"type"`
		Purpose          *string             `json:"purpose"`
		Date             *string             `json:"date"`
		EndDate          *string             `json:"endDate"`
		Time             *string             `json:"time"`
		EndTime          *string             `json:"endTime"`
		TimeZone         *string             `json:"timeZone"`
		Format           *string             `json:"format"`
		Location         *string             `json:"location"`
		ZoomLink         *string             `json:"zoomLink"`
		MeetingID        *string             `json:"meetingId"`
		Passcode         *string             `json:"passcode"`
		Publish          *bool               `json:"publish"`
		Roles            *[]roleRequest      `json:"roles"`
		OrganizerDetails *[]organizerRequest `json:"organizerDetails"`
		ProgramLabels    *[]string           `json:"programLabels"`

		SuppressNotifications    bool `json:"suppressNotifications"`
		ForceDeleteRegistrations bool `json:"forceDeleteRegistrations"`
	}

	updateResponse struct {
		Event           any      `json:"event"`
		AutoUnpublished bool     `json:"autoUnpublished,omitempty"`
		MissingFields   []string `json:"missingFields,omitempty"`
	}

	conflictItem struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Date    string `json:"date"`
		EndDate string `json:"endDate,omitempty"`
		Time    string `json:"time"`
		EndTime string `json:"endTime"`
	}

	conflictResponse struct {
		Conflict  bool           `json:"conflict"`
		Conflicts []conflictItem `json:"conflicts"`
	}

	hasRegistrationsResponse struct {
		HasRegistrations bool `json:"hasRegistrations"`
		UserCount        int  `json:"userCount"`
		GuestCount       int  `json:"guestCount"`
		TotalCount       int  `json:"totalCount"`
	}
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.Signup(r.Context(), actor(r), chi.URLParam(r, "eventID"), req.RoleID, req.Notes, req.SpecialRequirements)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.Cancel(r.Context(), actor(r), chi.URLParam(r, "eventID"), req.RoleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.AssignUserToRole(r.Context(), actor(r), chi.URLParam(r, "eventID"),
		req.UserID, req.RoleID, req.Notes, req.SpecialRequirements, req.SuppressNotifications)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.MoveUserBetweenRoles(r.Context(), actor(r), chi.URLParam(r, "eventID"),
		req.UserID, req.FromRoleID, req.ToRoleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.RemoveUserFromRole(r.Context(), actor(r), chi.URLParam(r, "eventID"), req.UserID, req.RoleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleWorkshopTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.SetGroupTopic(r.Context(), actor(r), chi.URLParam(r, "eventID"), chi.URLParam(r, "group"), req.Topic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		s.fail(w, r, errs.Validation("token is required"))
		return
	}
	if err := s.engine.DeclineAssignment(r.Context(), req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"declined": true})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	patch := update.Patch{
		Title:         req.Title,
		Type:          req.Type,
		Purpose:       req.Purpose,
		Date:          req.Date,
		EndDate:       req.EndDate,
		Time:          req.Time,
		EndTime:       req.EndTime,
		TimeZone:      req.TimeZone,
		Format:        req.Format,
		Location:      req.Location,
		ZoomLink:      req.ZoomLink,
		MeetingID:     req.MeetingID,
		Passcode:      req.Passcode,
		Publish:       req.Publish,
		ProgramLabels: req.ProgramLabels,
	}
	if req.Roles != nil {
		patch.RolesSupplied = true
		patch.Roles = make([]update.RolePatch, 0, len(*req.Roles))
		for _, rr := range *req.Roles {
			patch.Roles = append(patch.Roles, update.RolePatch{
				ID:              rr.ID,
				Name:            rr.Name,
				Description:     rr.Description,
				MaxParticipants: rr.MaxParticipants,
				OpenToPublic:    rr.OpenToPublic,
				Agenda:          rr.Agenda,
				StartTime:       rr.StartTime,
				EndTime:         rr.EndTime,
			})
		}
	}
	if req.OrganizerDetails != nil {
		details := make([]domain.OrganizerDetail, 0, len(*req.OrganizerDetails))
		for _, od := range *req.OrganizerDetails {
			details = append(details, domain.OrganizerDetail{UserID: od.UserID, Name: od.Name, Email: od.Email})
		}
		patch.OrganizerDetails = &details
	}

	eventID := chi.URLParam(r, "eventID")
	res, err := s.updater.Apply(r.Context(), actor(r), eventID, patch, update.Flags{
		SuppressNotifications:    req.SuppressNotifications,
		ForceDeleteRegistrations: req.ForceDeleteRegistrations,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.engine.BuildEventView(r.Context(), eventID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, updateResponse{
		Event:           view,
		AutoUnpublished: res.AutoUnpublished,
		MissingFields:   res.MissingFields,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.BuildEventView(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, eventResponse{Event: view})
}

func (s *Server) handleHasRegistrations(w http.ResponseWriter, r *http.Request) {
	users, guests, err := s.engine.RegistrationBreakdown(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, hasRegistrationsResponse{
		HasRegistrations: users+guests > 0,
		UserCount:        users,
		GuestCount:       guests,
		TotalCount:       users + guests,
	})
}

func (s *Server) handleTimeConflict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := conflict.Query{
		StartDate:      q.Get("startDate"),
		StartTime:      q.Get("startTime"),
		EndDate:        q.Get("endDate"),
		EndTime:        q.Get("endTime"),
		TimeZone:       q.Get("timeZone"),
		ExcludeEventID: q.Get("excludeId"),
	}
	// Point mode probes a single instant regardless of any end supplied.
	if q.Get("mode") == "point" {
		query.EndDate, query.EndTime = "", ""
	}
	events, err := s.conflicts.Detect(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]conflictItem, 0, len(events))
	for _, ev := range events {
		items = append(items, conflictItem{
			ID:      ev.ID,
			Title:   ev.Title,
			Date:    ev.Date,
			EndDate: ev.EndDate,
			Time:    ev.Time,
			EndTime: ev.EndTime,
		})
	}
	s.respond(w, http.StatusOK, conflictResponse{Conflict: len(items) > 0, Conflicts: items})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := s.listings.List(r.Context(), parseListQuery(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

// parseListQuery maps the listing query parameters onto the store filter.
// category is the legacy alias of type.
func parseListQuery(r *http.Request) ListQuery {
	q := r.URL.Query()
	filter := mongo.EventFilter{
		Type:      q.Get("type"),
		ProgramID: q.Get("programId"),
		Search:    q.Get("search"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}
	if filter.Type == "" {
		filter.Type = q.Get("category")
	}
	if st := q.Get("status"); st != "" {
		filter.Statuses = []domain.EventStatus{domain.EventStatus(st)}
	} else if sts := q.Get("statuses"); sts != "" {
		for _, st := range strings.Split(sts, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Statuses = append(filter.Statuses, domain.EventStatus(st))
			}
		}
	}
	filter.MinSlots = intParam(q.Get("minParticipants"))
	filter.MaxSlots = intParam(q.Get("maxParticipants"))

	return ListQuery{
		Filter: filter,
		Sort:   mongo.EventSort{By: q.Get("sortBy"), Order: q.Get("sortOrder")},
		Page:   intParam(q.Get("page")),
		Limit:  intParam(q.Get("limit")),
	}
}

func intParam(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// decode reads the JSON request body. A malformed body answers 400 directly.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, r, errs.Validation("malformed request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status line is already out; an encode failure has no remedy.
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	kind := errs.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	s.respond(w, status, errorBody{Error: errorDetail{
		Kind:    string(kind),
		Message: err.Error(),
		Details: errs.DetailsOf(err),
	}})
}
