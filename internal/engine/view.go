package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
)

type (
	// RegistrationView is one registrant as rendered inside a role.
	RegistrationView struct {
		RegistrationID      string    `json:"registrationId"`
		UserID              string    `json:"userId"`
		Username            string    `json:"username,omitempty"`
		FirstName           string    `json:"firstName,omitempty"`
		LastName            string    `json:"lastName,omitempty"`
		Email               string    `json:"email,omitempty"`
		Notes               string    `json:"notes,omitempty"`
		SpecialRequirements string    `json:"specialRequirements,omitempty"`
		RegisteredBy        string    `json:"registeredBy"`
		RegistrationDate    time.Time `json:"registrationDate"`
	}

	// RoleView is one role with its current registrants.
	RoleView struct {
		ID              string             `json:"id"`
		Name            string             `json:"name"`
		Description     string             `json:"description,omitempty"`
		MaxParticipants int                `json:"maxParticipants"`
		OpenToPublic    bool               `json:"openToPublic"`
		Agenda          string             `json:"agenda,omitempty"`
		StartTime       string             `json:"startTime,omitempty"`
		EndTime         string             `json:"endTime,omitempty"`
		CurrentCount    int                `json:"currentCount"`
		Full            bool               `json:"full"`
		Registrations   []RegistrationView `json:"registrations"`
	}

	// EventView is the client-facing event JSON. MaxParticipants mirrors
	// TotalSlots for the legacy contract.
	EventView struct {
		ID                    string             `json:"id"`
		Title                 string             `json:"title"`
		Type                  string             `json:"type,omitempty"`
		Purpose               string             `json:"purpose,omitempty"`
		Date                  string             `json:"date"`
		EndDate               string             `json:"endDate,omitempty"`
		Time                  string             `json:"time"`
		EndTime               string             `json:"endTime"`
		TimeZone              string             `json:"timeZone,omitempty"`
		Format                string             `json:"format"`
		Location              string             `json:"location,omitempty"`
		ZoomLink              string             `json:"zoomLink,omitempty"`
		MeetingID             string             `json:"meetingId,omitempty"`
		Passcode              string             `json:"passcode,omitempty"`
		Status                string             `json:"status"`
		Publish               bool               `json:"publish"`
		AutoUnpublishedReason string             `json:"autoUnpublishedReason,omitempty"`
		AutoUnpublishedAt     *time.Time         `json:"autoUnpublishedAt,omitempty"`
		Roles                 []RoleView         `json:"roles"`
		SignedUp              int                `json:"signedUp"`
		TotalSlots            int                `json:"totalSlots"`
		MaxParticipants       int                `json:"maxParticipants"`
		CreatedBy             string             `json:"createdBy"`
		OrganizerDetails      []OrganizerView    `json:"organizerDetails,omitempty"`
		ProgramLabels         []string           `json:"programLabels,omitempty"`
		WorkshopGroupTopics   map[string]string  `json:"workshopGroupTopics,omitempty"`
		CreatedAt             time.Time          `json:"createdAt"`
		UpdatedAt             time.Time          `json:"updatedAt"`
	}

	// OrganizerView is a co-organizer reference in the event view.
	OrganizerView struct {
		UserID string `json:"userId"`
		Name   string `json:"name,omitempty"`
		Email  string `json:"email,omitempty"`
	}
)

// BuildEventView loads the event and its registrations and renders the
// client-facing view: roles carry their registrant lists, the top-level
// signedUp reflects the live registration count, and the lifecycle status is
// derived at call time.
func (e *Engine) BuildEventView(ctx context.Context, eventID string) (*EventView, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	regs, err := e.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e.renderView(&ev, regs), nil
}

func (e *Engine) renderView(ev *domain.Event, regs []domain.Registration) *EventView {
	status, err := ev.DeriveStatus(e.clock.Now())
	if err != nil {
		status = ev.Status
	}

	byRole := make(map[string][]RegistrationView, len(ev.Roles))
	for _, r := range regs {
		byRole[r.RoleID] = append(byRole[r.RoleID], RegistrationView{
			RegistrationID:      r.ID,
			UserID:              r.UserID,
			Username:            r.UserSnapshot.Username,
			FirstName:           r.UserSnapshot.FirstName,
			LastName:            r.UserSnapshot.LastName,
			Email:               r.UserSnapshot.Email,
			Notes:               r.Notes,
			SpecialRequirements: r.SpecialRequirements,
			RegisteredBy:        r.RegisteredBy,
			RegistrationDate:    r.RegistrationDate,
		})
	}

	roles := make([]RoleView, 0, len(ev.Roles))
	for _, role := range ev.Roles {
		members := byRole[role.ID]
		if members == nil {
			members = []RegistrationView{}
		}
		roles = append(roles, RoleView{
			ID:              role.ID,
			Name:            role.Name,
			Description:     role.Description,
			MaxParticipants: role.MaxParticipants,
			OpenToPublic:    role.OpenToPublic,
			Agenda:          role.Agenda,
			StartTime:       role.StartTime,
			EndTime:         role.EndTime,
			CurrentCount:    len(members),
			Full:            len(members) >= role.MaxParticipants,
			Registrations:   members,
		})
	}

	organizers := make([]OrganizerView, 0, len(ev.OrganizerDetails))
	for _, o := range ev.OrganizerDetails {
		organizers = append(organizers, OrganizerView{UserID: o.UserID, Name: o.Name, Email: o.Email})
	}

	total := ev.SlotTotal()
	return &EventView{
		ID:                    ev.ID,
		Title:                 ev.Title,
		Type:                  ev.Type,
		Purpose:               ev.Purpose,
		Date:                  ev.Date,
		EndDate:               ev.EndDate,
		Time:                  ev.Time,
		EndTime:               ev.EndTime,
		TimeZone:              ev.TimeZone,
		Format:                string(ev.Format),
		Location:              ev.Location,
		ZoomLink:              ev.ZoomLink,
		MeetingID:             ev.MeetingID,
		Passcode:              ev.Passcode,
		Status:                string(status),
		Publish:               ev.Publish,
		AutoUnpublishedReason: ev.AutoUnpublishedReason,
		AutoUnpublishedAt:     ev.AutoUnpublishedAt,
		Roles:                 roles,
		SignedUp:              len(regs),
		TotalSlots:            total,
		MaxParticipants:       total,
		CreatedBy:             ev.CreatedBy,
		OrganizerDetails:      organizers,
		ProgramLabels:         ev.ProgramLabels,
		WorkshopGroupTopics:   ev.WorkshopGroupTopics,
		CreatedAt:             ev.CreatedAt,
		UpdatedAt:             ev.UpdatedAt,
	}
}

// mustJSON marshals a view for broadcasting. Views are plain structs, so a
// marshal failure is a programming error; it degrades to an empty view
// rather than blocking the broadcast.
func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// RegistrationBreakdown counts an event's registrations split into users
// (self-registered) and guests (registered on their behalf by an organizer).
func (e *Engine) RegistrationBreakdown(ctx context.Context, eventID string) (userCount, guestCount int, err error) {
	regs, err := e.store.ListByEvent(ctx, eventID)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range regs {
		if r.RegisteredBy != "" && r.RegisteredBy != r.UserID {
			guestCount++
		} else {
			userCount++
		}
	}
	return userCount, guestCount, nil
}
