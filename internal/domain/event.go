// Package domain holds the entities of the registration service: events with
// their embedded roles, registrations, users and programs, plus the pure
// rules that derive status, quotas and format requirements from them.
package domain

import (
	"strings"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusOngoing   EventStatus = "ongoing"
	StatusCompleted EventStatus = "completed"
	StatusCancelled EventStatus = "cancelled"
)

// EventFormat describes how participants attend.
type EventFormat string

const (
	FormatInPerson EventFormat = "In-person"
	FormatOnline   EventFormat = "Online"
	FormatHybrid   EventFormat = "Hybrid Participation"
)

// AutoUnpublishMissingFields is the reason recorded when publish is forced
// off because format-required fields are absent.
const AutoUnpublishMissingFields = "MISSING_REQUIRED_FIELDS"

// WorkshopEventType names the event type that carries group topics.
const WorkshopEventType = "Effective Communication Workshop"

// WorkshopGroups enumerates the valid workshop group letters.
var WorkshopGroups = []string{"A", "B", "C", "D", "E", "F"}

type (
	// Role is a named capacity slot on an event. Role IDs are stable across
	// event updates unless the role is explicitly replaced.
	Role struct {
		ID              string
		Name            string
		Description     string
		MaxParticipants int
		OpenToPublic    bool
		Agenda          string
		StartTime       string
		EndTime         string
	}

	// OrganizerDetail is a co-organizer reference with a display cache.
	OrganizerDetail struct {
		UserID string
		Name   string
		Email  string
	}

	// Event is the aggregate root. TotalSlots and SignedUp are derived and
	// recomputed by the store's save hook; Status is derived on read and by
	// the status sweep, except that cancelled is terminal.
	Event struct {
		ID       string
		Title    string
		Type     string
		Purpose  string
		Date     string // wall-clock calendar date, YYYY-MM-DD
		EndDate  string
		Time     string // wall-clock, HH:MM
		EndTime  string
		TimeZone string // IANA zone; empty means UTC
		Format   EventFormat
		Location string

		ZoomLink  string
		MeetingID string
		Passcode  string

		Status                EventStatus
		Publish               bool
		AutoUnpublishedReason string
		AutoUnpublishedAt     *time.Time

		Roles      []Role
		TotalSlots int
		SignedUp   int

		CreatedBy        string
		OrganizerDetails []OrganizerDetail
		ProgramLabels    []string

		WorkshopGroupTopics map[string]string

		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

// Role returns the role with the given id.
func (e *Event) Role(roleID string) (Role, bool) {
	for _, r := range e.Roles {
		if r.ID == roleID {
			return r, true
		}
	}
	return Role{}, false
}

// IsOrganizer reports whether userID created the event or is listed as a
// co-organizer.
func (e *Event) IsOrganizer(userID string) bool {
	if userID == "" {
		return false
	}
	if e.CreatedBy == userID {
		return true
	}
	for _, o := range e.OrganizerDetails {
		if o.UserID == userID {
			return true
		}
	}
	return false
}

// StartInstant resolves the event's start wall-clock to an instant.
func (e *Event) StartInstant() (time.Time, error) {
	return clock.ToInstant(e.Date, e.Time, e.TimeZone)
}

// EndInstant resolves the event's end wall-clock to an instant. An empty
// end date defaults to the start date.
func (e *Event) EndInstant() (time.Time, error) {
	endDate := e.EndDate
	if endDate == "" {
		endDate = e.Date
	}
	return clock.ToInstant(endDate, e.EndTime, e.TimeZone)
}

// DeriveStatus computes the lifecycle state at now. Cancelled is terminal
// and never recomputed.
func (e *Event) DeriveStatus(now time.Time) (EventStatus, error) {
	if e.Status == StatusCancelled {
		return StatusCancelled, nil
	}
	start, err := e.StartInstant()
	if err != nil {
		return e.Status, err
	}
	end, err := e.EndInstant()
	if err != nil {
		return e.Status, err
	}
	return StatusAt(start, end, now), nil
}

// StatusAt derives upcoming/ongoing/completed from a start and end instant.
// An end before the start is treated as equal to the start so a data issue
// never reports completed prematurely.
func StatusAt(start, end, now time.Time) EventStatus {
	if end.Before(start) {
		end = start
	}
	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.Before(end):
		return StatusOngoing
	default:
		return StatusCompleted
	}
}

// MissingRequiredFields lists the publish-mandated fields that are empty for
// the event's format. A non-empty result forbids publish=true.
func (e *Event) MissingRequiredFields() []string {
	var missing []string
	need := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	switch e.Format {
	case FormatInPerson:
		need("location", e.Location)
	case FormatOnline:
		need("zoomLink", e.ZoomLink)
		need("meetingId", e.MeetingID)
		need("passcode", e.Passcode)
	case FormatHybrid:
		need("location", e.Location)
		need("zoomLink", e.ZoomLink)
		need("meetingId", e.MeetingID)
		need("passcode", e.Passcode)
	}
	return missing
}

// SlotTotal sums role capacities; the store's save hook persists it as
// TotalSlots.
func (e *Event) SlotTotal() int {
	total := 0
	for _, r := range e.Roles {
		total += r.MaxParticipants
	}
	return total
}

// ValidWorkshopGroup reports whether group is one of the A..F workshop
// groups.
func ValidWorkshopGroup(group string) bool {
	for _, g := range WorkshopGroups {
		if g == group {
			return true
		}
	}
	return false
}

// WorkshopGroupLeaderRole returns the role name granting topic-edit rights
// for the given group.
func WorkshopGroupLeaderRole(group string) string {
	return "Group " + group + " Leader"
}
