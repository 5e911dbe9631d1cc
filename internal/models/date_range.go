package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in range keys and persisted state.
const DateLayout = "2006-01-02"

// DateRangeKey identifies an inclusive calendar date range.
type DateRangeKey struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewDateRange builds a range from two instants using their local calendar dates.
func NewDateRange(from, to time.Time) DateRangeKey {
	return DateRangeKey{From: from.Format(DateLayout), To: to.Format(DateLayout)}
}

// TodayRange returns the live range for the calendar day of now.
func TodayRange(now time.Time) DateRangeKey {
	return NewDateRange(now, now)
}

// ParseDateRangeKey parses the "from_to" form produced by Key.
func ParseDateRangeKey(s string) (DateRangeKey, error) {
	from, to, ok := strings.Cut(s, "_")
	if !ok {
		return DateRangeKey{}, fmt.Errorf("invalid range key %q", s)
	}
	r := DateRangeKey{From: from, To: to}
	if err := r.Validate(); err != nil {
		return DateRangeKey{}, err
	}
	return r, nil
}

// Key serializes the range, e.g. "2024-01-01_2024-01-01".
func (r DateRangeKey) Key() string {
	return r.From + "_" + r.To
}

func (r DateRangeKey) String() string {
	return r.Key()
}

// IsZero reports whether the range is unset.
func (r DateRangeKey) IsZero() bool {
	return r.From == "" && r.To == ""
}

// Validate checks both dates parse and From is not after To.
func (r DateRangeKey) Validate() error {
	from, err := time.Parse(DateLayout, r.From)
	if err != nil {
		return fmt.Errorf("invalid from date %q: %w", r.From, err)
	}
	to, err := time.Parse(DateLayout, r.To)
	if err != nil {
		return fmt.Errorf("invalid to date %q: %w", r.To, err)
	}
	if from.After(to) {
		return fmt.Errorf("from date %s is after to date %s", r.From, r.To)
	}
	return nil
}

// IsToday reports whether this is the live "today-only" range relative to now.
func (r DateRangeKey) IsToday(now time.Time) bool {
	today := now.Format(DateLayout)
	return r.From == today && r.To == today
}

// CacheEligible reports whether the range ended before today and is therefore immutable.
func (r DateRangeKey) CacheEligible(now time.Time) bool {
	return r.To < now.Format(DateLayout)
}

// Bounds returns the first instant of From and the last millisecond of To in loc.
func (r DateRangeKey) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, _ := time.ParseInLocation(DateLayout, r.From, loc)
	toDay, _ := time.ParseInLocation(DateLayout, r.To, loc)
	end := toDay.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end, nil
}

// StartOfDay returns local midnight of t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
