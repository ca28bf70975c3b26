package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
)

// GetProgram returns the program with the given id.
func (s *Store) GetProgram(ctx context.Context, programID string) (domain.Program, error) {
	if programID == "" {
		return domain.Program{}, errs.Validation("program id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc programDocument
	if err := s.programs.FindOne(ctx, bson.M{"program_id": programID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Program{}, errs.NotFound("program %s not found", programID)
		}
		return domain.Program{}, err
	}
	return doc.toProgram(), nil
}

// GetPrograms returns the programs with the given ids, keyed by id.
func (s *Store) GetPrograms(ctx context.Context, programIDs []string) (map[string]domain.Program, error) {
	if len(programIDs) == 0 {
		return map[string]domain.Program{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.programs.Find(ctx, bson.M{"program_id": bson.M{"$in": programIDs}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Program)
	err = decodeAll(ctx, cur, func(c cursor) error {
		var doc programDocument
		if err := c.Decode(&doc); err != nil {
			return err
		}
		p := doc.toProgram()
		out[p.ID] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LinkEventToPrograms adds the event id to each program's inverse link set.
func (s *Store) LinkEventToPrograms(ctx context.Context, eventID string, programIDs []string) error {
	if len(programIDs) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.programs.UpdateMany(ctx,
		bson.M{"program_id": bson.M{"$in": programIDs}},
		bson.M{"$addToSet": bson.M{"event_ids": eventID}},
	)
	return err
}

// UnlinkEventFromPrograms removes the event id from each program's inverse
// link set.
func (s *Store) UnlinkEventFromPrograms(ctx context.Context, eventID string, programIDs []string) error {
	if len(programIDs) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.programs.UpdateMany(ctx,
		bson.M{"program_id": bson.M{"$in": programIDs}},
		bson.M{"$pull": bson.M{"event_ids": eventID}},
	)
	return err
}

// HasCompletedPurchase reports whether the user holds a completed purchase
// of the program.
func (s *Store) HasCompletedPurchase(ctx context.Context, programID, userID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.purchases.CountDocuments(ctx, bson.M{
		"program_id": programID,
		"user_id":    userID,
		"status":     purchaseCompleted,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertSystemMessage persists a targeted in-product message.
func (s *Store) InsertSystemMessage(ctx context.Context, m *domain.SystemMessage) error {
	if m == nil || m.ID == "" || m.UserID == "" {
		return errs.Validation("message id and user id are required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.messages.InsertOne(ctx, systemMessageDocument{
		MessageID: m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Body:      m.Body,
		Kind:      m.Kind,
		EventID:   m.EventID,
		CreatedAt: m.CreatedAt.UTC(),
	})
	return err
}

// InsertAuditRecord appends a row to the audit log.
func (s *Store) InsertAuditRecord(ctx context.Context, r *domain.AuditRecord) error {
	if r == nil || r.ID == "" || r.Action == "" {
		return errs.Validation("audit id and action are required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.audit.InsertOne(ctx, auditRecordDocument{
		AuditID:      r.ID,
		Action:       r.Action,
		ActorID:      r.ActorID,
		EventID:      r.EventID,
		TargetUserID: r.TargetUserID,
		Details:      r.Details,
		CreatedAt:    r.CreatedAt.UTC(),
	})
	return err
}
