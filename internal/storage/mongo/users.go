package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
)

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, errs.Validation("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc userDocument
	if err := s.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.User{}, errs.NotFound("user %s not found", userID)
		}
		return domain.User{}, err
	}
	return doc.toUser(), nil
}

// GetUsers returns the users with the given ids, keyed by id. Missing ids
// are absent from the result.
func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error) {
	if len(userIDs) == 0 {
		return map[string]domain.User{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.users.Find(ctx, bson.M{"user_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.User)
	err = decodeAll(ctx, cur, func(c cursor) error {
		var doc userDocument
		if err := c.Decode(&doc); err != nil {
			return err
		}
		u := doc.toUser()
		out[u.ID] = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
