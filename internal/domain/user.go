package domain

import "math"

// AuthLevel is a user's authorization level.
type AuthLevel string

const (
	LevelSuperAdmin    AuthLevel = "Super Admin"
	LevelAdministrator AuthLevel = "Administrator"
	LevelLeader        AuthLevel = "Leader"
	LevelGuestExpert   AuthLevel = "Guest Expert"
	LevelParticipant   AuthLevel = "Participant"
)

// User carries the fields the engine consults. Profile editing, sessions and
// avatars live outside this core.
type User struct {
	ID         string
	Username   string
	FirstName  string
	LastName   string
	Email      string
	AuthLevel  AuthLevel
	IsActive   bool
	IsVerified bool
}

// RoleQuota returns the hard cap on distinct roles a user of the given level
// may hold concurrently within one event. Admin levels are unbounded.
func RoleQuota(level AuthLevel) int {
	switch level {
	case LevelSuperAdmin, LevelAdministrator:
		return math.MaxInt
	case LevelLeader:
		return 5
	case LevelGuestExpert:
		return 4
	default:
		return 3
	}
}

// CanRegister reports whether the user may self-signup or be the target of
// an assignment. Locked or unverified accounts are excluded.
func (u *User) CanRegister() bool {
	return u != nil && u.IsActive && u.IsVerified
}

// CanEditAnyEvent reports whether the level grants edit rights on every
// event regardless of ownership.
func CanEditAnyEvent(level AuthLevel) bool {
	return level == LevelSuperAdmin || level == LevelAdministrator
}

// CanEditOwnEvent reports whether the level grants edit rights on events the
// user created or co-organizes.
func CanEditOwnEvent(level AuthLevel) bool {
	return CanEditAnyEvent(level) || level == LevelLeader
}

// CanModerateParticipants reports whether the level carries the
// participant-moderation permission independent of organizer status.
func CanModerateParticipants(level AuthLevel) bool {
	return level == LevelSuperAdmin || level == LevelAdministrator
}
