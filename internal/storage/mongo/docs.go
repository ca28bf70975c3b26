package mongo

import (
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
)

type (
	roleDocument struct {
		RoleID          string `bson:"role_id"`
		Name            string `bson:"name"`
		Description     string `bson:"description,omitempty"`
		MaxParticipants int    `bson:"max_participants"`
		OpenToPublic    bool   `bson:"open_to_public"`
		Agenda          string `bson:"agenda,omitempty"`
		StartTime       string `bson:"start_time,omitempty"`
		EndTime         string `bson:"end_time,omitempty"`
	}

	organizerDocument struct {
		UserID string `bson:"user_id"`
		Name   string `bson:"name,omitempty"`
		Email  string `bson:"email,omitempty"`
	}

	eventDocument struct {
		EventID  string `bson:"event_id"`
		Title    string `bson:"title"`
		Type     string `bson:"type,omitempty"`
		Purpose  string `bson:"purpose,omitempty"`
		Date     string `bson:"date"`
		EndDate  string `bson:"end_date,omitempty"`
		Time     string `bson:"time"`
		EndTime  string `bson:"end_time"`
		TimeZone string `bson:"time_zone,omitempty"`
		Format   string `bson:"format"`
		Location string `bson:"location,omitempty"`

		ZoomLink  string `bson:"zoom_link,omitempty"`
		MeetingID string `bson:"meeting_id,omitempty"`
		Passcode  string `bson:"passcode,omitempty"`

		Status                string     `bson:"status"`
		Publish               bool       `bson:"publish"`
		AutoUnpublishedReason string     `bson:"auto_unpublished_reason,omitempty"`
		AutoUnpublishedAt     *time.Time `bson:"auto_unpublished_at,omitempty"`

		Roles      []roleDocument `bson:"roles"`
		TotalSlots int            `bson:"total_slots"`
		SignedUp   int            `bson:"signed_up"`

		CreatedBy        string              `bson:"created_by"`
		OrganizerDetails []organizerDocument `bson:"organizer_details,omitempty"`
		ProgramLabels    []string            `bson:"program_labels,omitempty"`

		WorkshopGroupTopics map[string]string `bson:"workshop_group_topics,omitempty"`

		CreatedAt time.Time `bson:"created_at"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	userSnapshotDocument struct {
		UserID    string `bson:"user_id"`
		Username  string `bson:"username,omitempty"`
		FirstName string `bson:"first_name,omitempty"`
		LastName  string `bson:"last_name,omitempty"`
		Email     string `bson:"email,omitempty"`
		AuthLevel string `bson:"auth_level,omitempty"`
	}

	eventSnapshotDocument struct {
		Title           string `bson:"title"`
		Date            string `bson:"date"`
		Time            string `bson:"time"`
		TimeZone        string `bson:"time_zone,omitempty"`
		RoleName        string `bson:"role_name"`
		RoleDescription string `bson:"role_description,omitempty"`
		Location        string `bson:"location,omitempty"`
		Format          string `bson:"format,omitempty"`
		ZoomLink        string `bson:"zoom_link,omitempty"`
		MeetingID       string `bson:"meeting_id,omitempty"`
		Passcode        string `bson:"passcode,omitempty"`
		Purpose         string `bson:"purpose,omitempty"`
	}

	auditEntryDocument struct {
		Action  string    `bson:"action"`
		Actor   string    `bson:"actor"`
		At      time.Time `bson:"at"`
		Comment string    `bson:"comment,omitempty"`
	}

	registrationDocument struct {
		RegistrationID      string                `bson:"registration_id"`
		EventID             string                `bson:"event_id"`
		UserID              string                `bson:"user_id"`
		RoleID              string                `bson:"role_id"`
		RegistrationDate    time.Time             `bson:"registration_date"`
		Notes               string                `bson:"notes,omitempty"`
		SpecialRequirements string                `bson:"special_requirements,omitempty"`
		RegisteredBy        string                `bson:"registered_by"`
		UserSnapshot        userSnapshotDocument  `bson:"user_snapshot"`
		EventSnapshot       eventSnapshotDocument `bson:"event_snapshot"`
		AuditTrail          []auditEntryDocument  `bson:"audit_trail,omitempty"`
	}

	userDocument struct {
		UserID     string `bson:"user_id"`
		Username   string `bson:"username,omitempty"`
		FirstName  string `bson:"first_name,omitempty"`
		LastName   string `bson:"last_name,omitempty"`
		Email      string `bson:"email"`
		AuthLevel  string `bson:"auth_level"`
		IsActive   bool   `bson:"is_active"`
		IsVerified bool   `bson:"is_verified"`
	}

	programDocument struct {
		ProgramID string   `bson:"program_id"`
		Title     string   `bson:"title"`
		IsFree    bool     `bson:"is_free"`
		Mentors   []string `bson:"mentors,omitempty"`
		EventIDs  []string `bson:"event_ids,omitempty"`
	}

	purchaseDocument struct {
		ProgramID string `bson:"program_id"`
		UserID    string `bson:"user_id"`
		Status    string `bson:"status"`
	}

	systemMessageDocument struct {
		MessageID string    `bson:"message_id"`
		UserID    string    `bson:"user_id"`
		Title     string    `bson:"title"`
		Body      string    `bson:"body,omitempty"`
		Kind      string    `bson:"kind,omitempty"`
		EventID   string    `bson:"event_id,omitempty"`
		CreatedAt time.Time `bson:"created_at"`
	}

	auditRecordDocument struct {
		AuditID      string         `bson:"audit_id"`
		Action       string         `bson:"action"`
		ActorID      string         `bson:"actor_id"`
		EventID      string         `bson:"event_id,omitempty"`
		TargetUserID string         `bson:"target_user_id,omitempty"`
		Details      map[string]any `bson:"details,omitempty"`
		CreatedAt    time.Time      `bson:"created_at"`
	}
)

func fromEvent(e *domain.Event) eventDocument {
	roles := make([]roleDocument, 0, len(e.Roles))
	for _, r := range e.Roles {
		roles = append(roles, roleDocument{
			RoleID:          r.ID,
			Name:            r.Name,
			Description:     r.Description,
			MaxParticipants: r.MaxParticipants,
			OpenToPublic:    r.OpenToPublic,
			Agenda:          r.Agenda,
			StartTime:       r.StartTime,
			EndTime:         r.EndTime,
		})
	}
	organizers := make([]organizerDocument, 0, len(e.OrganizerDetails))
	for _, o := range e.OrganizerDetails {
		organizers = append(organizers, organizerDocument{UserID: o.UserID, Name: o.Name, Email: o.Email})
	}
	return eventDocument{
		EventID:               e.ID,
		Title:                 e.Title,
		Type:                  e.Type,
		Purpose:               e.Purpose,
		Date:                  e.Date,
		EndDate:               e.EndDate,
		Time:                  e.Time,
		EndTime:               e.EndTime,
		TimeZone:              e.TimeZone,
		Format:                string(e.Format),
		Location:              e.Location,
		ZoomLink:              e.ZoomLink,
		MeetingID:             e.MeetingID,
		Passcode:              e.Passcode,
		Status:                string(e.Status),
		Publish:               e.Publish,
		AutoUnpublishedReason: e.AutoUnpublishedReason,
		AutoUnpublishedAt:     e.AutoUnpublishedAt,
		Roles:                 roles,
		TotalSlots:            e.TotalSlots,
		SignedUp:              e.SignedUp,
		CreatedBy:             e.CreatedBy,
		OrganizerDetails:      organizers,
		ProgramLabels:         append([]string(nil), e.ProgramLabels...),
		WorkshopGroupTopics:   cloneTopics(e.WorkshopGroupTopics),
		CreatedAt:             e.CreatedAt.UTC(),
		UpdatedAt:             e.UpdatedAt.UTC(),
	}
}

func (doc eventDocument) toEvent() domain.Event {
	roles := make([]domain.Role, 0, len(doc.Roles))
	for _, r := range doc.Roles {
		roles = append(roles, domain.Role{
			ID:              r.RoleID,
			Name:            r.Name,
			Description:     r.Description,
			MaxParticipants: r.MaxParticipants,
			OpenToPublic:    r.OpenToPublic,
			Agenda:          r.Agenda,
			StartTime:       r.StartTime,
			EndTime:         r.EndTime,
		})
	}
	organizers := make([]domain.OrganizerDetail, 0, len(doc.OrganizerDetails))
	for _, o := range doc.OrganizerDetails {
		organizers = append(organizers, domain.OrganizerDetail{UserID: o.UserID, Name: o.Name, Email: o.Email})
	}
	return domain.Event{
		ID:                    doc.EventID,
		Title:                 doc.Title,
		Type:                  doc.Type,
		Purpose:               doc.Purpose,
		Date:                  doc.Date,
		EndDate:               doc.EndDate,
		Time:                  doc.Time,
		EndTime:               doc.EndTime,
		TimeZone:              doc.TimeZone,
		Format:                domain.EventFormat(doc.Format),
		Location:              doc.Location,
		ZoomLink:              doc.ZoomLink,
		MeetingID:             doc.MeetingID,
		Passcode:              doc.Passcode,
		Status:                domain.EventStatus(doc.Status),
		Publish:               doc.Publish,
		AutoUnpublishedReason: doc.AutoUnpublishedReason,
		AutoUnpublishedAt:     doc.AutoUnpublishedAt,
		Roles:                 roles,
		TotalSlots:            doc.TotalSlots,
		SignedUp:              doc.SignedUp,
		CreatedBy:             doc.CreatedBy,
		OrganizerDetails:      organizers,
		ProgramLabels:         append([]string(nil), doc.ProgramLabels...),
		WorkshopGroupTopics:   cloneTopics(doc.WorkshopGroupTopics),
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}
}

func fromRegistration(r *domain.Registration) registrationDocument {
	trail := make([]auditEntryDocument, 0, len(r.AuditTrail))
	for _, a := range r.AuditTrail {
		trail = append(trail, auditEntryDocument{Action: a.Action, Actor: a.Actor, At: a.At.UTC(), Comment: a.Comment})
	}
	return registrationDocument{
		RegistrationID:      r.ID,
		EventID:             r.EventID,
		UserID:              r.UserID,
		RoleID:              r.RoleID,
		RegistrationDate:    r.RegistrationDate.UTC(),
		Notes:               r.Notes,
		SpecialRequirements: r.SpecialRequirements,
		RegisteredBy:        r.RegisteredBy,
		UserSnapshot: userSnapshotDocument{
			UserID:    r.UserSnapshot.UserID,
			Username:  r.UserSnapshot.Username,
			FirstName: r.UserSnapshot.FirstName,
			LastName:  r.UserSnapshot.LastName,
			Email:     r.UserSnapshot.Email,
			AuthLevel: string(r.UserSnapshot.AuthLevel),
		},
		EventSnapshot: eventSnapshotDocument{
			Title:           r.EventSnapshot.Title,
			Date:            r.EventSnapshot.Date,
			Time:            r.EventSnapshot.Time,
			TimeZone:        r.EventSnapshot.TimeZone,
			RoleName:        r.EventSnapshot.RoleName,
			RoleDescription: r.EventSnapshot.RoleDescription,
			Location:        r.EventSnapshot.Location,
			Format:          string(r.EventSnapshot.Format),
			ZoomLink:        r.EventSnapshot.ZoomLink,
			MeetingID:       r.EventSnapshot.MeetingID,
			Passcode:        r.EventSnapshot.Passcode,
			Purpose:         r.EventSnapshot.Purpose,
		},
		AuditTrail: trail,
	}
}

func (doc registrationDocument) toRegistration() domain.Registration {
	trail := make([]domain.AuditEntry, 0, len(doc.AuditTrail))
	for _, a := range doc.AuditTrail {
		trail = append(trail, domain.AuditEntry{Action: a.Action, Actor: a.Actor, At: a.At, Comment: a.Comment})
	}
	return domain.Registration{
		ID:                  doc.RegistrationID,
		EventID:             doc.EventID,
		UserID:              doc.UserID,
		RoleID:              doc.RoleID,
		RegistrationDate:    doc.RegistrationDate,
		Notes:               doc.Notes,
		SpecialRequirements: doc.SpecialRequirements,
		RegisteredBy:        doc.RegisteredBy,
		UserSnapshot: domain.UserSnapshot{
			UserID:    doc.UserSnapshot.UserID,
			Username:  doc.UserSnapshot.Username,
			FirstName: doc.UserSnapshot.FirstName,
			LastName:  doc.UserSnapshot.LastName,
			Email:     doc.UserSnapshot.Email,
			AuthLevel: domain.AuthLevel(doc.UserSnapshot.AuthLevel),
		},
		EventSnapshot: domain.EventSnapshot{
			Title:           doc.EventSnapshot.Title,
			Date:            doc.EventSnapshot.Date,
			Time:            doc.EventSnapshot.Time,
			TimeZone:        doc.EventSnapshot.TimeZone,
			RoleName:        doc.EventSnapshot.RoleName,
			RoleDescription: doc.EventSnapshot.RoleDescription,
			Location:        doc.EventSnapshot.Location,
			Format:          domain.EventFormat(doc.EventSnapshot.Format),
			ZoomLink:        doc.EventSnapshot.ZoomLink,
			MeetingID:       doc.EventSnapshot.MeetingID,
			Passcode:        doc.EventSnapshot.Passcode,
			Purpose:         doc.EventSnapshot.Purpose,
		},
		AuditTrail: trail,
	}
}

func (doc userDocument) toUser() domain.User {
	return domain.User{
		ID:         doc.UserID,
		Username:   doc.Username,
		FirstName:  doc.FirstName,
		LastName:   doc.LastName,
		Email:      doc.Email,
		AuthLevel:  domain.AuthLevel(doc.AuthLevel),
		IsActive:   doc.IsActive,
		IsVerified: doc.IsVerified,
	}
}

func (doc programDocument) toProgram() domain.Program {
	return domain.Program{
		ID:       doc.ProgramID,
		Title:    doc.Title,
		IsFree:   doc.IsFree,
		Mentors:  append([]string(nil), doc.Mentors...),
		EventIDs: append([]string(nil), doc.EventIDs...),
	}
}

func cloneTopics(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
