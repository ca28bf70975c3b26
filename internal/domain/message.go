package domain

import "time"

type (
	// SystemMessage is a targeted in-product notification, the second leg
	// of a dispatcher trio. Read-path rendering lives outside this core.
	SystemMessage struct {
		ID        string
		UserID    string
		Title     string
		Body      string
		Kind      string
		EventID   string
		CreatedAt time.Time
	}

	// AuditRecord is an append-only log row written for moderation and
	// assignment actions.
	AuditRecord struct {
		ID           string
		Action       string
		ActorID      string
		EventID      string
		TargetUserID string
		Details      map[string]any
		CreatedAt    time.Time
	}
)
