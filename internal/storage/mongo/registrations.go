package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
)

// InsertRegistration persists a new registration. A unique-index violation
// on (event_id, user_id, role_id) — a concurrent writer on another process
// winning the race — surfaces as a Duplicate error.
func (s *Store) InsertRegistration(ctx context.Context, r *domain.Registration) error {
	if r == nil || r.ID == "" {
		return errs.Validation("registration id is required")
	}
	doc := fromRegistration(r)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.registrations.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return errs.Wrap(errs.KindDuplicate, err, "user %s already registered for role %s", r.UserID, r.RoleID)
		}
		return err
	}
	return nil
}

// GetRegistration looks up the registration for (event, user, role).
func (s *Store) GetRegistration(ctx context.Context, eventID, userID, roleID string) (domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"event_id": eventID, "user_id": userID, "role_id": roleID}
	var doc registrationDocument
	if err := s.registrations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Registration{}, errs.NotFound("registration not found")
		}
		return domain.Registration{}, err
	}
	return doc.toRegistration(), nil
}

// GetRegistrationByID looks up a registration by its own id.
func (s *Store) GetRegistrationByID(ctx context.Context, registrationID string) (domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc registrationDocument
	if err := s.registrations.FindOne(ctx, bson.M{"registration_id": registrationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Registration{}, errs.NotFound("registration %s not found", registrationID)
		}
		return domain.Registration{}, err
	}
	return doc.toRegistration(), nil
}

// DeleteRegistration atomically removes and returns the registration for
// (event, user, role). Cancellation is a hard delete; there is no tombstone.
func (s *Store) DeleteRegistration(ctx context.Context, eventID, userID, roleID string) (domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"event_id": eventID, "user_id": userID, "role_id": roleID}
	var doc registrationDocument
	if err := s.registrations.FindOneAndDelete(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Registration{}, errs.NotFound("registration not found")
		}
		return domain.Registration{}, err
	}
	return doc.toRegistration(), nil
}

// DeleteRegistrationByID atomically removes and returns a registration by
// id. Used by the decline endpoint.
func (s *Store) DeleteRegistrationByID(ctx context.Context, registrationID string) (domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc registrationDocument
	if err := s.registrations.FindOneAndDelete(ctx, bson.M{"registration_id": registrationID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Registration{}, errs.NotFound("registration %s not found", registrationID)
		}
		return domain.Registration{}, err
	}
	return doc.toRegistration(), nil
}

// MoveRegistration atomically retargets a single registration to a new role,
// rewrites the snapshot's role fields, and appends the audit entry. The
// filter pins the source role so a concurrent move loses cleanly.
func (s *Store) MoveRegistration(ctx context.Context, registrationID, fromRoleID string, toRole domain.Role, audit domain.AuditEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"registration_id": registrationID, "role_id": fromRoleID}
	update := bson.M{
		"$set": bson.M{
			"role_id":                         toRole.ID,
			"event_snapshot.role_name":        toRole.Name,
			"event_snapshot.role_description": toRole.Description,
		},
		"$push": bson.M{
			"audit_trail": auditEntryDocument{
				Action:  audit.Action,
				Actor:   audit.Actor,
				At:      audit.At.UTC(),
				Comment: audit.Comment,
			},
		},
	}
	res, err := s.registrations.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return errs.Wrap(errs.KindDuplicate, err, "user already registered for target role")
		}
		return err
	}
	if res.MatchedCount == 0 {
		return errs.NotFound("registration %s not found on source role", registrationID)
	}
	return nil
}

// CountByEventRole counts active registrations for one role of an event.
// This is the authoritative capacity count; callers inside the signup lock
// must use it directly, never a cached value.
func (s *Store) CountByEventRole(ctx context.Context, eventID, roleID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.registrations.CountDocuments(ctx, bson.M{"event_id": eventID, "role_id": roleID})
	return int(n), err
}

// CountByEventUser counts the distinct roles a user holds on an event. The
// quota check compares this against RoleQuota.
func (s *Store) CountByEventUser(ctx context.Context, eventID, userID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.registrations.CountDocuments(ctx, bson.M{"event_id": eventID, "user_id": userID})
	return int(n), err
}

// CountForEvent counts all active registrations for an event.
func (s *Store) CountForEvent(ctx context.Context, eventID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.registrations.CountDocuments(ctx, bson.M{"event_id": eventID})
	return int(n), err
}

// ListByEvent returns every registration for an event ordered by
// registration time.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.registrations.Find(ctx, bson.M{"event_id": eventID})
	if err != nil {
		return nil, err
	}
	var out []domain.Registration
	err = decodeAll(ctx, cur, func(c cursor) error {
		var doc registrationDocument
		if err := c.Decode(&doc); err != nil {
			return err
		}
		out = append(out, doc.toRegistration())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByEvent bulk-deletes every registration of an event. Used by
// force-delete updates.
func (s *Store) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.registrations.DeleteMany(ctx, bson.M{"event_id": eventID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
