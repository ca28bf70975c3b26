// Package conflict detects scheduling overlap between a proposed time span
// and existing events. Candidates are narrowed by calendar date range on the
// store before per-event instant comparison, so the store never scans every
// event for a single check.
package conflict

import (
	"context"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/clock"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/errs"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

type (
	// EventSource narrows candidate events by calendar date span. Both
	// bounds are inclusive wall-clock dates (YYYY-MM-DD); cancelled events
	// are excluded by the implementation.
	EventSource interface {
		FindByDateRange(ctx context.Context, startDate, endDate string) ([]domain.Event, error)
	}

	// Query is a proposed time span. An empty EndTime requests point mode:
	// the end is nudged one minute past the start so point-in-interval
	// checks work without an explicit end.
	Query struct {
		StartDate      string
		StartTime      string
		EndDate        string
		EndTime        string
		TimeZone       string
		ExcludeEventID string
	}

	// Detector finds non-cancelled events overlapping a query span.
	Detector struct {
		events EventSource
		logger telemetry.Logger
	}
)

// NewDetector constructs a Detector.
func NewDetector(events EventSource, logger telemetry.Logger) *Detector {
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	return &Detector{events: events, logger: logger}
}

// Detect returns the non-cancelled events whose [start, end) interval
// overlaps the query span. Touching boundaries do not conflict.
func (d *Detector) Detect(ctx context.Context, q Query) ([]domain.Event, error) {
	newStart, newEnd, err := resolveSpan(q)
	if err != nil {
		return nil, err
	}

	// Widen the date window by a day on each side so zone offsets never
	// push a candidate outside the narrowing range.
	lo, err := shiftDate(q.StartDate, -1)
	if err != nil {
		return nil, errs.Validation("invalid start date %q", q.StartDate)
	}
	endDate := q.EndDate
	if endDate == "" {
		endDate = q.StartDate
	}
	hi, err := shiftDate(endDate, 1)
	if err != nil {
		return nil, errs.Validation("invalid end date %q", endDate)
	}

	candidates, err := d.events.FindByDateRange(ctx, lo, hi)
	if err != nil {
		return nil, err
	}

	var out []domain.Event
	for _, ev := range candidates {
		if ev.Status == domain.StatusCancelled || ev.ID == q.ExcludeEventID {
			continue
		}
		evStart, err := ev.StartInstant()
		if err != nil {
			d.logger.Warn(ctx, "skipping event with unresolvable start", "event_id", ev.ID, "err", err.Error())
			continue
		}
		evEnd, err := ev.EndInstant()
		if err != nil {
			d.logger.Warn(ctx, "skipping event with unresolvable end", "event_id", ev.ID, "err", err.Error())
			continue
		}
		if evEnd.Before(evStart) {
			evEnd = evStart
		}
		if newStart.Before(evEnd) && newEnd.After(evStart) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// resolveSpan converts the query's wall-clock fields to instants, applying
// the point-mode nudge and validating ordering.
func resolveSpan(q Query) (time.Time, time.Time, error) {
	start, err := clock.ToInstant(q.StartDate, q.StartTime, q.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("invalid start: %v", err)
	}
	if q.EndTime == "" {
		return start, start.Add(time.Minute), nil
	}
	endDate := q.EndDate
	if endDate == "" {
		endDate = q.StartDate
	}
	end, err := clock.ToInstant(endDate, q.EndTime, q.TimeZone)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("invalid end: %v", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errs.Validation("end must not precede start")
	}
	return start, end, nil
}

// shiftDate moves a YYYY-MM-DD date by the given number of days.
func shiftDate(date string, days int) (string, error) {
	d, err := time.Parse(clock.DateLayout, date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, days).Format(clock.DateLayout), nil
}
