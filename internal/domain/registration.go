package domain

import "time"

type (
	// UserSnapshot captures the registrant's identity at registration time.
	// Snapshots are immutable after creation.
	UserSnapshot struct {
		UserID    string
		Username  string
		FirstName string
		LastName  string
		Email     string
		AuthLevel AuthLevel
	}

	// EventSnapshot captures the event and role as they were when the
	// registration was written. RoleName and RoleDescription are the only
	// fields rewritten later, on role moves.
	EventSnapshot struct {
		Title           string
		Date            string
		Time            string
		TimeZone        string
		RoleName        string
		RoleDescription string
		Location        string
		Format          EventFormat
		ZoomLink        string
		MeetingID       string
		Passcode        string
		Purpose         string
	}

	// AuditEntry is one row of a registration's append-only trail.
	AuditEntry struct {
		Action  string
		Actor   string
		At      time.Time
		Comment string
	}

	// Registration joins a user to a role on an event. There is no
	// cancelled state: cancellation is a hard delete, so every stored
	// registration is active.
	Registration struct {
		ID                  string
		EventID             string
		UserID              string
		RoleID              string
		RegistrationDate    time.Time
		Notes               string
		SpecialRequirements string
		// RegisteredBy is the acting user: the registrant for self-signup,
		// the organizer for assignments.
		RegisteredBy  string
		UserSnapshot  UserSnapshot
		EventSnapshot EventSnapshot
		AuditTrail    []AuditEntry
	}
)

// Audit actions recorded on the registration trail.
const (
	AuditActionSignedUp = "signed_up"
	AuditActionAssigned = "assigned"
	AuditActionMoved    = "moved"
	AuditActionRemoved  = "removed"
	AuditActionDeclined = "declined"
)

// SnapshotEvent builds the immutable event snapshot for a registration into
// the given role.
func SnapshotEvent(e *Event, role Role) EventSnapshot {
	return EventSnapshot{
		Title:           e.Title,
		Date:            e.Date,
		Time:            e.Time,
		TimeZone:        e.TimeZone,
		RoleName:        role.Name,
		RoleDescription: role.Description,
		Location:        e.Location,
		Format:          e.Format,
		ZoomLink:        e.ZoomLink,
		MeetingID:       e.MeetingID,
		Passcode:        e.Passcode,
		Purpose:         e.Purpose,
	}
}

// SnapshotUser builds the immutable user snapshot for a registration.
func SnapshotUser(u *User) UserSnapshot {
	return UserSnapshot{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		AuthLevel: u.AuthLevel,
	}
}

// Appended returns trail with a new entry added; the receiver is not
// mutated.
func Appended(trail []AuditEntry, action, actor, comment string, at time.Time) []AuditEntry {
	out := make([]AuditEntry, 0, len(trail)+1)
	out = append(out, trail...)
	out = append(out, AuditEntry{Action: action, Actor: actor, At: at.UTC(), Comment: comment})
	return out
}
