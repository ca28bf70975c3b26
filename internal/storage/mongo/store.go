// Package mongo hosts the MongoDB-backed stores for events, registrations,
// users, programs and dispatcher artifacts. The unique index on
// (event_id, user_id, role_id) is the cross-process line of defense against
// duplicate registrations; the per-key lock in the engine is the in-process
// one.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"
)

const (
	defaultEventsCollection        = "events"
	defaultRegistrationsCollection = "registrations"
	defaultUsersCollection         = "users"
	defaultProgramsCollection      = "programs"
	defaultPurchasesCollection     = "purchases"
	defaultMessagesCollection      = "system_messages"
	defaultAuditCollection         = "audit_log"
	defaultOpTimeout               = 5 * time.Second
	storeClientName                = "registration-mongo"
)

// purchaseCompleted is the purchase status granting program access.
const purchaseCompleted = "completed"

type (
	// Options configures the store.
	Options struct {
		// Client is the Mongo connection. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Timeout bounds individual store operations. Defaults to 5s.
		Timeout time.Duration
	}

	// Store exposes the persistence operations of the registration core.
	// It implements health.Pinger.
	Store struct {
		mongo         *mongodriver.Client
		events        collection
		registrations collection
		users         collection
		programs      collection
		purchases     collection
		messages      collection
		audit         collection
		timeout       time.Duration
	}
)

var _ health.Pinger = (*Store)(nil)

// New connects the store to the given database and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:         opts.Client,
		events:        mongoCollection{coll: db.Collection(defaultEventsCollection)},
		registrations: mongoCollection{coll: db.Collection(defaultRegistrationsCollection)},
		users:         mongoCollection{coll: db.Collection(defaultUsersCollection)},
		programs:      mongoCollection{coll: db.Collection(defaultProgramsCollection)},
		purchases:     mongoCollection{coll: db.Collection(defaultPurchasesCollection)},
		messages:      mongoCollection{coll: db.Collection(defaultMessagesCollection)},
		audit:         mongoCollection{coll: db.Collection(defaultAuditCollection)},
		timeout:       timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the store to the health check endpoint.
func (s *Store) Name() string { return storeClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	eventIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "date", Value: 1}, {Key: "end_date", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "date", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "program_labels", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "type", Value: "text"},
				{Key: "location", Value: "text"},
				{Key: "purpose", Value: "text"},
			},
		},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return err
	}

	registrationIndexes := []mongodriver.IndexModel{
		{
			// The duplicate-prevention invariant. Enforced by the store so
			// a concurrent writer on another process loses the race here.
			Keys: bson.D{
				{Key: "event_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "role_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "registration_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "role_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "event_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}
	if _, err := s.registrations.Indexes().CreateMany(ctx, registrationIndexes); err != nil {
		return err
	}

	userIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return err
	}

	programIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "program_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.programs.Indexes().CreateMany(ctx, programIndexes); err != nil {
		return err
	}

	purchaseIndexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{
				{Key: "program_id", Value: 1},
				{Key: "user_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
	}
	if _, err := s.purchases.Indexes().CreateMany(ctx, purchaseIndexes); err != nil {
		return err
	}

	messageIndexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	auditIndexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	_, err := s.audit.Indexes().CreateMany(ctx, auditIndexes)
	return err
}
