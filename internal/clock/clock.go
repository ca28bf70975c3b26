// Package clock converts between wall-clock (calendar date + clock time +
// IANA zone) and absolute instants, and supplies the Clock interface the
// engine uses so tests can pin "now".
//
// DST rules: wall times that fall in a spring-forward gap are rounded forward
// to the next representable minute in the zone; wall times duplicated by a
// fall-back transition resolve to the first (earlier) instant. An empty zone
// name means UTC.
package clock

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for clock times.
	TimeLayout = "15:04"
)

// maxGapScan bounds the forward scan out of a spring-forward gap. No real
// zone has a transition larger than a few hours; the largest on record is 24h
// (Pacific/Apia's 2011 date-line jump), so scan up to a day and a minute.
const maxGapScan = 24*60 + 1

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock pinned to a single instant, for tests and sweeps that
// need a consistent "now" across a batch.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time { return f.T }

// LoadZone resolves an IANA zone name, defaulting to UTC when empty.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return loc, nil
}

// ToInstant converts a wall-clock (date, clock time, zone) triple into an
// absolute instant applying the package's DST rules. date uses DateLayout and
// clockTime uses TimeLayout.
func ToInstant(date, clockTime, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(clockTime, "%d:%d", &hh, &mm); err != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return time.Time{}, fmt.Errorf("parse time %q: invalid clock time", clockTime)
	}
	return wallInstant(d.Year(), d.Month(), d.Day(), hh, mm, loc), nil
}

// FromInstant converts an instant back into (date, clock time) strings in the
// given zone.
func FromInstant(t time.Time, zone string) (string, string, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return "", "", err
	}
	local := t.In(loc)
	return local.Format(DateLayout), local.Format(TimeLayout), nil
}

// wallInstant resolves a wall-clock minute in loc to an instant.
func wallInstant(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if sameWall(t, year, month, day, hour, minute) {
		return resolveFold(t, year, month, day, hour, minute)
	}
	// The requested wall time does not exist: it fell in a spring-forward
	// gap and time.Date normalized it past the transition. Scan forward from
	// the requested minute to the first representable one.
	h, m := hour, minute
	y, mo, d := year, month, day
	for i := 0; i < maxGapScan; i++ {
		m++
		if m == 60 {
			m = 0
			h++
		}
		if h == 24 {
			h = 0
			next := time.Date(y, mo, d, 12, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			y, mo, d = next.Year(), next.Month(), next.Day()
		}
		cand := time.Date(y, mo, d, h, m, 0, 0, loc)
		if sameWall(cand, y, mo, d, h, m) {
			return resolveFold(cand, y, mo, d, h, m)
		}
	}
	return t
}

// resolveFold returns the earlier of the two instants mapping to the same
// wall clock when t sits in a fall-back fold. Real-world folds repeat either
// a full hour or thirty minutes.
func resolveFold(t time.Time, year int, month time.Month, day, hour, minute int) time.Time {
	for _, back := range []time.Duration{time.Hour, 30 * time.Minute} {
		if cand := t.Add(-back); sameWall(cand, year, month, day, hour, minute) {
			return cand
		}
	}
	return t
}

// sameWall reports whether t renders as the given wall-clock minute in its
// own location.
func sameWall(t time.Time, year int, month time.Month, day, hour, minute int) bool {
	return t.Year() == year && t.Month() == month && t.Day() == day &&
		t.Hour() == hour && t.Minute() == minute
}
