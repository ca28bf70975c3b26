package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
)

type (
	fakeSingleResult struct {
		doc any
		err error
	}

	fakeCursor struct {
		docs []any
		pos  int
		err  error
	}

	fakeIndexView struct {
		created []mongodriver.IndexModel
	}

	// fakeCollection returns canned results and records what the store
	// asked of it.
	fakeCollection struct {
		findOneDoc       any
		findOneErr       error
		findDocs         []any
		findErr          error
		insertErr        error
		inserted         []any
		updateResult     *mongodriver.UpdateResult
		updateErr        error
		gotUpdateFilter  any
		gotUpdate        any
		gotReplacement   any
		gotReplaceOpts   []*options.ReplaceOptions
		deleteResult     *mongodriver.DeleteResult
		deletedDoc       any
		deletedErr       error
		countN           int64
		countErr         error
		gotCountFilter   any
		gotFindFilter    any
		gotFindOneFilter any
		indexes          fakeIndexView
	}
)

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	raw, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

func (c *fakeCursor) Close(context.Context) error { return nil }
func (c *fakeCursor) Err() error                  { return c.err }

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	raw, err := bson.Marshal(c.docs[c.pos-1])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

func (v *fakeIndexView) CreateMany(_ context.Context, models []mongodriver.IndexModel,
	_ ...*options.CreateIndexesOptions) ([]string, error) {
	v.created = append(v.created, models...)
	return nil, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.gotFindOneFilter = filter
	return fakeSingleResult{doc: c.findOneDoc, err: c.findOneErr}
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	c.gotFindFilter = filter
	if c.findErr != nil {
		return nil, c.findErr
	}
	return &fakeCursor{docs: c.findDocs}, nil
}

func (c *fakeCollection) InsertOne(_ context.Context, doc any, _ ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.inserted = append(c.inserted, doc)
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.gotUpdateFilter = filter
	c.gotUpdate = update
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	if c.updateResult != nil {
		return c.updateResult, nil
	}
	return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *fakeCollection) UpdateMany(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.UpdateOne(ctx, filter, update, opts...)
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	c.gotUpdateFilter = filter
	c.gotReplacement = replacement
	c.gotReplaceOpts = opts
	return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	c.gotUpdateFilter = filter
	if c.deleteResult != nil {
		return c.deleteResult, nil
	}
	return &mongodriver.DeleteResult{}, nil
}

func (c *fakeCollection) FindOneAndDelete(_ context.Context, filter any, _ ...*options.FindOneAndDeleteOptions) singleResult {
	c.gotFindOneFilter = filter
	return fakeSingleResult{doc: c.deletedDoc, err: c.deletedErr}
}

func (c *fakeCollection) CountDocuments(_ context.Context, filter any, _ ...*options.CountOptions) (int64, error) {
	c.gotCountFilter = filter
	return c.countN, c.countErr
}

func (c *fakeCollection) Indexes() indexView { return &c.indexes }

func newTestStore() (*Store, map[string]*fakeCollection) {
	fakes := map[string]*fakeCollection{
		"events":        {},
		"registrations": {},
		"users":         {},
		"programs":      {},
		"purchases":     {},
		"messages":      {},
		"audit":         {},
	}
	s := &Store{
		events:        fakes["events"],
		registrations: fakes["registrations"],
		users:         fakes["users"],
		programs:      fakes["programs"],
		purchases:     fakes["purchases"],
		messages:      fakes["messages"],
		audit:         fakes["audit"],
		timeout:       time.Second,
	}
	return s, fakes
}

func duplicateKeyErr() error {
	return mongodriver.WriteException{
		WriteErrors: mongodriver.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}},
	}
}

func TestInsertRegistrationDuplicateKey(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].insertErr = duplicateKeyErr()

	err := s.InsertRegistration(context.Background(), &domain.Registration{
		ID:      "reg-1",
		EventID: "ev-1",
		UserID:  "u-1",
		RoleID:  "r-1",
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindDuplicate, errs.KindOf(err))
}

func TestInsertRegistrationValidatesID(t *testing.T) {
	s, _ := newTestStore()
	err := s.InsertRegistration(context.Background(), &domain.Registration{})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestGetEventNotFound(t *testing.T) {
	s, fakes := newTestStore()
	fakes["events"].findOneErr = mongodriver.ErrNoDocuments

	_, err := s.GetEvent(context.Background(), "ev-missing")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestSaveEventRecomputesDerivedCounters(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].countN = 7

	ev := &domain.Event{
		ID:    "ev-1",
		Title: "Leadership Summit",
		Date:  "2026-09-01",
		Time:  "09:00",
		Roles: []domain.Role{
			{ID: "r-1", Name: "Participant", MaxParticipants: 6},
			{ID: "r-2", Name: "Leader", MaxParticipants: 4},
		},
		TotalSlots: 99, // stale, must be recomputed
		SignedUp:   0,
	}
	require.NoError(t, s.SaveEvent(context.Background(), ev))

	assert.Equal(t, 10, ev.TotalSlots)
	assert.Equal(t, 7, ev.SignedUp)
	assert.False(t, ev.UpdatedAt.IsZero())
	assert.Equal(t, ev.UpdatedAt, ev.CreatedAt)

	doc, ok := fakes["events"].gotReplacement.(eventDocument)
	require.True(t, ok)
	assert.Equal(t, 10, doc.TotalSlots)
	assert.Equal(t, 7, doc.SignedUp)
	require.Len(t, fakes["events"].gotReplaceOpts, 1)
	require.NotNil(t, fakes["events"].gotReplaceOpts[0].Upsert)
	assert.True(t, *fakes["events"].gotReplaceOpts[0].Upsert)
}

func TestUpdateEventStatusNeverOverwritesCancelled(t *testing.T) {
	s, fakes := newTestStore()
	require.NoError(t, s.UpdateEventStatus(context.Background(), "ev-1", domain.StatusCompleted))

	filter, ok := fakes["events"].gotUpdateFilter.(bson.M)
	require.True(t, ok)
	assert.Equal(t, bson.M{"$ne": string(domain.StatusCancelled)}, filter["status"])
}

func TestDeleteRegistrationReturnsRemovedDoc(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].deletedDoc = registrationDocument{
		RegistrationID: "reg-1",
		EventID:        "ev-1",
		UserID:         "u-1",
		RoleID:         "r-1",
	}

	reg, err := s.DeleteRegistration(context.Background(), "ev-1", "u-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "reg-1", reg.ID)
	assert.Equal(t, bson.M{"event_id": "ev-1", "user_id": "u-1", "role_id": "r-1"},
		fakes["registrations"].gotFindOneFilter)
}

func TestDeleteRegistrationNotFound(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].deletedErr = mongodriver.ErrNoDocuments

	_, err := s.DeleteRegistration(context.Background(), "ev-1", "u-1", "r-1")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMoveRegistrationPinsSourceRole(t *testing.T) {
	s, fakes := newTestStore()
	to := domain.Role{ID: "r-2", Name: "Leader", Description: "Leads the group"}
	audit := domain.AuditEntry{Action: "moved", Actor: "admin-1", At: time.Now()}

	require.NoError(t, s.MoveRegistration(context.Background(), "reg-1", "r-1", to, audit))

	filter, ok := fakes["registrations"].gotUpdateFilter.(bson.M)
	require.True(t, ok)
	assert.Equal(t, "reg-1", filter["registration_id"])
	assert.Equal(t, "r-1", filter["role_id"])
}

func TestMoveRegistrationSourceGone(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].updateResult = &mongodriver.UpdateResult{MatchedCount: 0}

	err := s.MoveRegistration(context.Background(), "reg-1", "r-1", domain.Role{ID: "r-2"}, domain.AuditEntry{})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestMoveRegistrationDuplicateTarget(t *testing.T) {
	s, fakes := newTestStore()
	fakes["registrations"].updateErr = duplicateKeyErr()

	err := s.MoveRegistration(context.Background(), "reg-1", "r-1", domain.Role{ID: "r-2"}, domain.AuditEntry{})
	assert.Equal(t, errs.KindDuplicate, errs.KindOf(err))
}

func TestUpdateWorkshopTopicNotFound(t *testing.T) {
	s, fakes := newTestStore()
	fakes["events"].updateResult = &mongodriver.UpdateResult{MatchedCount: 0}

	err := s.UpdateWorkshopTopic(context.Background(), "ev-missing", "A", "Topic")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestFindEventsByIDsPreservesOrder(t *testing.T) {
	s, fakes := newTestStore()
	fakes["events"].findDocs = []any{
		eventDocument{EventID: "ev-b", Title: "B"},
		eventDocument{EventID: "ev-a", Title: "A"},
	}

	events, err := s.FindEventsByIDs(context.Background(), []string{"ev-a", "ev-b", "ev-gone"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-a", events[0].ID)
	assert.Equal(t, "ev-b", events[1].ID)
}

func TestHasCompletedPurchaseFiltersOnStatus(t *testing.T) {
	s, fakes := newTestStore()
	fakes["purchases"].countN = 1

	ok, err := s.HasCompletedPurchase(context.Background(), "prog-1", "u-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bson.M{"program_id": "prog-1", "user_id": "u-1", "status": purchaseCompleted},
		fakes["purchases"].gotCountFilter)
}

func TestGetUsersKeyedByID(t *testing.T) {
	s, fakes := newTestStore()
	fakes["users"].findDocs = []any{
		userDocument{UserID: "u-1", Email: "a@example.com", AuthLevel: "Participant", IsActive: true, IsVerified: true},
		userDocument{UserID: "u-2", Email: "b@example.com", AuthLevel: "Leader", IsActive: true, IsVerified: true},
	}

	users, err := s.GetUsers(context.Background(), []string{"u-1", "u-2", "u-3"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users["u-1"].Email)
	assert.Equal(t, domain.LevelLeader, users["u-2"].AuthLevel)
}

func TestSortSpec(t *testing.T) {
	assert.Equal(t,
		bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}},
		sortSpec(EventSort{By: "date", Order: "asc"}))
	assert.Equal(t,
		bson.D{{Key: "title", Value: -1}, {Key: "date", Value: -1}, {Key: "time", Value: -1}},
		sortSpec(EventSort{By: "organizer", Order: "desc"}))
}
