package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvertedRange is returned when a range starts after it ends.
var ErrInvertedRange = errors.New("date range start is after end")

// DateLayout is the ISO layout accepted by ParseDateRange.
const DateLayout = "2006-01-02"

// DateRange is an inclusive pair of calendar dates. The zero value is the
// single day 0001-01-01.
type DateRange struct {
	start time.Time
	end   time.Time
}

// NewDateRange truncates start and end to calendar dates and validates that
// start is not after end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{start: CivilDate(start), end: CivilDate(end)}
	if r.start.After(r.end) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvertedRange, r.start.Format(DateLayout), r.end.Format(DateLayout))
	}
	return r, nil
}

// ParseDateRange builds a range from two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse range start: %w", err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse range end: %w", err)
	}
	return NewDateRange(s, e)
}

// CivilDate drops the clock part of t, keeping its calendar date in t's
// own location, and returns it as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r DateRange) Start() time.Time { return r.start }
func (r DateRange) End() time.Time   { return r.end }
func (r DateRange) StartYear() int   { return r.start.Year() }
func (r DateRange) EndYear() int     { return r.end.Year() }

// Valid reports whether start <= end. Ranges built through NewDateRange are
// always valid; a hand-built zero value is too.
func (r DateRange) Valid() bool {
	return !r.start.After(r.end)
}

// Contains reports whether the calendar date of t lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !r.Before(t) && !r.After(t)
}

// Before reports whether t is older than the range start.
func (r DateRange) Before(t time.Time) bool {
	return CivilDate(t).Before(r.start)
}

// After reports whether t is newer than the range end.
func (r DateRange) After(t time.Time) bool {
	return CivilDate(t).After(r.end)
}

func (r DateRange) String() string {
	return r.start.Format(DateLayout) + ".." + r.end.Format(DateLayout)
}
