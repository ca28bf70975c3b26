package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
)

type (
	// EventFilter narrows event listings. Zero values mean "no constraint";
	// MinSlots/MaxSlots of zero are unset.
	EventFilter struct {
		Statuses  []domain.EventStatus
		Type      string
		ProgramID string
		Search    string
		MinSlots  int
		MaxSlots  int
		StartDate string
		EndDate   string
	}

	// EventSort names the listing order. By is one of date, title,
	// organizer, type; Order is asc or desc.
	EventSort struct {
		By    string
		Order string
	}
)

// GetEvent returns the event with the given id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if eventID == "" {
		return domain.Event{}, errs.Validation("event id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc eventDocument
	if err := s.events.FindOne(ctx, bson.M{"event_id": eventID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return domain.Event{}, errs.NotFound("event %s not found", eventID)
		}
		return domain.Event{}, err
	}
	return doc.toEvent(), nil
}

// SaveEvent upserts the event. The save hook runs first: TotalSlots is
// recomputed from the role capacities and SignedUp from the registration
// count, so the persisted counters can never drift from the source of truth
// across a save.
func (s *Store) SaveEvent(ctx context.Context, e *domain.Event) error {
	if e == nil || e.ID == "" {
		return errs.Validation("event id is required")
	}
	e.TotalSlots = e.SlotTotal()
	signedUp, err := s.CountForEvent(ctx, e.ID)
	if err != nil {
		return err
	}
	e.SignedUp = signedUp
	e.UpdatedAt = time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.UpdatedAt
	}

	doc := fromEvent(e)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.events.ReplaceOne(ctx, bson.M{"event_id": e.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

// UpdateEventStatus persists a derived status change. Cancelled is terminal:
// the filter refuses to overwrite it.
func (s *Store) UpdateEventStatus(ctx context.Context, eventID string, status domain.EventStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.events.UpdateOne(ctx,
		bson.M{"event_id": eventID, "status": bson.M{"$ne": string(domain.StatusCancelled)}},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": time.Now().UTC()}},
	)
	return err
}

// UpdateSignedUp corrects the persisted derived counter. Used by the
// counter sweep.
func (s *Store) UpdateSignedUp(ctx context.Context, eventID string, signedUp int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.events.UpdateOne(ctx,
		bson.M{"event_id": eventID},
		bson.M{"$set": bson.M{"signed_up": signedUp, "updated_at": time.Now().UTC()}},
	)
	return err
}

// UpdateWorkshopTopic writes a single group topic in place.
func (s *Store) UpdateWorkshopTopic(ctx context.Context, eventID, group, topic string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.events.UpdateOne(ctx,
		bson.M{"event_id": eventID},
		bson.M{"$set": bson.M{
			"workshop_group_topics." + group: topic,
			"updated_at":                     time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.NotFound("event %s not found", eventID)
	}
	return nil
}

// FindByDateRange returns non-cancelled events whose calendar span
// intersects [startDate, endDate]. Events without an end date are treated as
// single-day.
func (s *Store) FindByDateRange(ctx context.Context, startDate, endDate string) ([]domain.Event, error) {
	filter := bson.M{
		"status": bson.M{"$ne": string(domain.StatusCancelled)},
		"date":   bson.M{"$lte": endDate},
		"$or": []bson.M{
			{"end_date": bson.M{"$gte": startDate}},
			{"end_date": bson.M{"$in": []any{"", nil}}, "date": bson.M{"$gte": startDate, "$lte": endDate}},
		},
	}
	return s.findEvents(ctx, filter, nil)
}

// ListEvents returns all events matching the filter in the requested order.
// Pagination is the caller's concern; the ordering cache in the read path
// keys off this result.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter, sort EventSort) ([]domain.Event, error) {
	query := bson.M{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		query["status"] = bson.M{"$in": statuses}
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.ProgramID != "" {
		query["program_labels"] = filter.ProgramID
	}
	if filter.Search != "" {
		query["$text"] = bson.M{"$search": filter.Search}
	}
	if filter.MinSlots > 0 || filter.MaxSlots > 0 {
		slots := bson.M{}
		if filter.MinSlots > 0 {
			slots["$gte"] = filter.MinSlots
		}
		if filter.MaxSlots > 0 {
			slots["$lte"] = filter.MaxSlots
		}
		query["total_slots"] = slots
	}
	if filter.StartDate != "" || filter.EndDate != "" {
		dates := bson.M{}
		if filter.StartDate != "" {
			dates["$gte"] = filter.StartDate
		}
		if filter.EndDate != "" {
			dates["$lte"] = filter.EndDate
		}
		query["date"] = dates
	}

	findOpts := options.Find().
		SetSort(sortSpec(sort)).
		SetCollation(&options.Collation{Locale: "en", Strength: 2})
	return s.findEvents(ctx, query, findOpts)
}

// FindEventsByIDs hydrates events preserving the order of ids. Missing ids
// are skipped.
func (s *Store) FindEventsByIDs(ctx context.Context, ids []string) ([]domain.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	events, err := s.findEvents(ctx, bson.M{"event_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListAllEvents returns every event. Used by the periodic sweeps.
func (s *Store) ListAllEvents(ctx context.Context) ([]domain.Event, error) {
	return s.findEvents(ctx, bson.M{}, nil)
}

func (s *Store) findEvents(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var findOpts []*options.FindOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	cur, err := s.events.Find(ctx, filter, findOpts...)
	if err != nil {
		return nil, err
	}
	var out []domain.Event
	err = decodeAll(ctx, cur, func(c cursor) error {
		var doc eventDocument
		if err := c.Decode(&doc); err != nil {
			return err
		}
		out = append(out, doc.toEvent())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sortSpec maps the listing sort to a Mongo sort document with the fixed
// deterministic tie-breakers: date orders by (date, time); every text sort,
// including the legacy organizer and type orders, falls back to
// (title, date, time).
func sortSpec(sort EventSort) bson.D {
	dir := 1
	if sort.Order == "desc" {
		dir = -1
	}
	switch sort.By {
	case "date", "":
		return bson.D{{Key: "date", Value: dir}, {Key: "time", Value: dir}}
	default: // title, organizer, type
		return bson.D{{Key: "title", Value: dir}, {Key: "date", Value: dir}, {Key: "time", Value: dir}}
	}
}
