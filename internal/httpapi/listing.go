package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/cache"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/storage/mongo"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	defaultOrderTTL = 60 * time.Second
	defaultPageTTL  = 30 * time.Second
)

type (
	// ListingStore is the slice of the event store the listing path needs.
	ListingStore interface {
		ListEvents(ctx context.Context, filter mongo.EventFilter, sort mongo.EventSort) ([]domain.Event, error)
		FindEventsByIDs(ctx context.Context, ids []string) ([]domain.Event, error)
	}

	// ListQuery is a parsed listing request.
	ListQuery struct {
		Filter mongo.EventFilter
		Sort   mongo.EventSort
		Page   int
		Limit  int
	}

	// ListItem is one event row of a listing page. Registrant details are
	// deliberately absent; clients fetch them from the event detail view.
	ListItem struct {
		ID            string   `json:"id"`
		Title         string   `json:"title"`
		Type          string   `json:"type,omitempty"`
		Date          string   `json:"date"`
		EndDate       string   `json:"endDate,omitempty"`
		Time          string   `json:"time"`
		EndTime       string   `json:"endTime"`
		TimeZone      string   `json:"timeZone,omitempty"`
		Format        string   `json:"format"`
		Location      string   `json:"location,omitempty"`
		Status        string   `json:"status"`
		Publish       bool     `json:"publish"`
		SignedUp      int      `json:"signedUp"`
		TotalSlots    int      `json:"totalSlots"`
		CreatedBy     string   `json:"createdBy"`
		ProgramLabels []string `json:"programLabels,omitempty"`
	}

	// Pagination describes a listing page.
	Pagination struct {
		Page       int  `json:"page"`
		Limit      int  `json:"limit"`
		Total      int  `json:"total"`
		TotalPages int  `json:"totalPages"`
		HasNext    bool `json:"hasNext"`
		HasPrev    bool `json:"hasPrev"`
	}

	// ListResult is the listing response payload.
	ListResult struct {
		Events     []ListItem `json:"events"`
		Pagination Pagination `json:"pagination"`
	}

	// ListingsOptions configures the listing read path.
	ListingsOptions struct {
		Store    ListingStore
		Cache    cache.Cache
		Clock    clock.Clock
		OrderTTL time.Duration
		PageTTL  time.Duration
		Logger   telemetry.Logger
	}

	// Listings serves GET /events through a two-layer cache: the ordering
	// layer maps a filter descriptor to (ids, total), the page layer maps
	// descriptor + (page, limit) to a rendered page. Page entries carry the
	// per-event tags of the events they hydrate, so any write to one of
	// those events drops exactly the affected pages.
	Listings struct {
		store    ListingStore
		cache    cache.Cache
		clock    clock.Clock
		orderTTL time.Duration
		pageTTL  time.Duration
		logger   telemetry.Logger
	}

	listingOrder struct {
		IDs   []string `json:"ids"`
		Total int      `json:"total"`
	}
)

// NewListings constructs the listing read path.
func NewListings(opts ListingsOptions) (*Listings, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	orderTTL := opts.OrderTTL
	if orderTTL <= 0 {
		orderTTL = defaultOrderTTL
	}
	pageTTL := opts.PageTTL
	if pageTTL <= 0 {
		pageTTL = defaultPageTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	return &Listings{
		store:    opts.Store,
		cache:    opts.Cache,
		clock:    clk,
		orderTTL: orderTTL,
		pageTTL:  pageTTL,
		logger:   logger,
	}, nil
}

// List returns one page of events for the query.
func (l *Listings) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	desc := descriptor(q.Filter, q.Sort)

	pageKey := fmt.Sprintf("listing:page:%s:p%d:l%d", desc, q.Page, q.Limit)
	if raw, ok, err := l.cache.Get(ctx, pageKey); err == nil && ok {
		var cached ListResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	order, err := l.ordering(ctx, desc, q.Filter, q.Sort)
	if err != nil {
		return nil, err
	}

	start := (q.Page - 1) * q.Limit
	end := start + q.Limit
	if start > len(order.IDs) {
		start = len(order.IDs)
	}
	if end > len(order.IDs) {
		end = len(order.IDs)
	}
	pageIDs := order.IDs[start:end]

	events, err := l.store.FindEventsByIDs(ctx, pageIDs)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	items := make([]ListItem, 0, len(events))
	tags := []string{cache.TagListings}
	for i := range events {
		items = append(items, l.renderItem(&events[i], now))
		tags = append(tags, cache.TagEvent(events[i].ID))
	}

	totalPages := (order.Total + q.Limit - 1) / q.Limit
	res := &ListResult{
		Events: items,
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      order.Total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
			HasPrev:    q.Page > 1 && order.Total > 0,
		},
	}

	if raw, err := json.Marshal(res); err == nil {
		if err := l.cache.Set(ctx, pageKey, raw, l.pageTTL, tags); err != nil {
			l.logger.Warn(ctx, "listing page cache write failed", "err", err)
		}
	}
	return res, nil
}

// ordering resolves the (ids, total) layer, loading from the store on miss.
func (l *Listings) ordering(ctx context.Context, desc string, filter mongo.EventFilter, sort mongo.EventSort) (listingOrder, error) {
	key := "listing:order:" + desc
	tags := []string{cache.TagListings, cache.TagEvents}
	return cache.GetOrSetJSON(ctx, l.cache, key, l.orderTTL, tags, func(ctx context.Context) (listingOrder, error) {
		events, err := l.store.ListEvents(ctx, filter, sort)
		if err != nil {
			return listingOrder{}, err
		}
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		return listingOrder{IDs: ids, Total: len(events)}, nil
	})
}

func (l *Listings) renderItem(ev *domain.Event, now time.Time) ListItem {
	status, err := ev.DeriveStatus(now)
	if err != nil {
		status = ev.Status
	}
	return ListItem{
		ID:            ev.ID,
		Title:         ev.Title,
		Type:          ev.Type,
		Date:          ev.Date,
		EndDate:       ev.EndDate,
		Time:          ev.Time,
		EndTime:       ev.EndTime,
		TimeZone:      ev.TimeZone,
		Format:        string(ev.Format),
		Location:      ev.Location,
		Status:        string(status),
		Publish:       ev.Publish,
		SignedUp:      ev.SignedUp,
		TotalSlots:    ev.TotalSlots,
		CreatedBy:     ev.CreatedBy,
		ProgramLabels: ev.ProgramLabels,
	}
}

// descriptor flattens a filter + sort into a stable cache key component.
func descriptor(filter mongo.EventFilter, sort mongo.EventSort) string {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	parts := []string{
		"st=" + strings.Join(statuses, ","),
		"ty=" + filter.Type,
		"pr=" + filter.ProgramID,
		"se=" + filter.Search,
		fmt.Sprintf("sl=%d-%d", filter.MinSlots, filter.MaxSlots),
		"da=" + filter.StartDate + ".." + filter.EndDate,
		"sb=" + sort.By,
		"so=" + sort.Order,
	}
	return strings.Join(parts, "|")
}
