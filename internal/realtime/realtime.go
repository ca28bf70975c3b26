// Package realtime fans committed state changes out to per-event topics.
// Delivery is at-most-once: subscribers that lag beyond their buffer lose
// messages, and the drop is counted, not retried.
package realtime

import (
	"encoding/json"
	"time"
)

// ChangeKind names a committed state change.
type ChangeKind string

const (
	UserSignedUp         ChangeKind = "user_signed_up"
	UserCancelled        ChangeKind = "user_cancelled"
	UserRemoved          ChangeKind = "user_removed"
	UserMoved            ChangeKind = "user_moved"
	UserAssigned         ChangeKind = "user_assigned"
	WorkshopTopicUpdated ChangeKind = "workshop_topic_updated"
	EventUpdated         ChangeKind = "event_updated"
)

type (
	// Change is one typed message on an event topic. View carries a
	// freshly built event view suitable for UI replacement.
	Change struct {
		Kind       ChangeKind      `json:"kind"`
		EventID    string          `json:"event_id"`
		UserID     string          `json:"user_id,omitempty"`
		RoleID     string          `json:"role_id,omitempty"`
		FromRoleID string          `json:"from_role_id,omitempty"`
		RoleName   string          `json:"role_name,omitempty"`
		Group      string          `json:"group,omitempty"`
		View       json.RawMessage `json:"view,omitempty"`
		At         time.Time       `json:"at"`
	}
)

// Topic names the stream carrying all changes for one event.
func Topic(eventID string) string {
	return "event/" + eventID
}

// envelope is the wire form of a Change.
type envelope struct {
	Kind       string          `json:"kind"`
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id,omitempty"`
	RoleID     string          `json:"role_id,omitempty"`
	FromRoleID string          `json:"from_role_id,omitempty"`
	RoleName   string          `json:"role_name,omitempty"`
	Group      string          `json:"group,omitempty"`
	View       json.RawMessage `json:"view,omitempty"`
	At         time.Time       `json:"at"`
}

func encodeChange(c Change) ([]byte, error) {
	return json.Marshal(envelope{
		Kind:       string(c.Kind),
		EventID:    c.EventID,
		UserID:     c.UserID,
		RoleID:     c.RoleID,
		FromRoleID: c.FromRoleID,
		RoleName:   c.RoleName,
		Group:      c.Group,
		View:       c.View,
		At:         c.At.UTC(),
	})
}

func decodeChange(payload []byte) (Change, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Change{}, err
	}
	return Change{
		Kind:       ChangeKind(env.Kind),
		EventID:    env.EventID,
		UserID:     env.UserID,
		RoleID:     env.RoleID,
		FromRoleID: env.FromRoleID,
		RoleName:   env.RoleName,
		Group:      env.Group,
		View:       env.View,
		At:         env.At,
	}, nil
}
