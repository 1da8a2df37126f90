package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (UTC)
// =============================================================================

// Date is a calendar day. Time-of-day is always midnight UTC; the engine
// never needs finer granularity than a day.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateFromTime(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Comparison
func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) BeforeOrEqual(o Date) bool { return d.Before(o) || d.Equal(o) }
func (d Date) AfterOrEqual(o Date) bool  { return d.After(o) || d.Equal(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }

func (d Date) String() string { return d.Time.Format("2006-01-02") }

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateFromTime(t), nil
}

// =============================================================================
// MONTH KEY - The (year, month) pair everything is materialized by
// =============================================================================

// MonthKey identifies one calendar month. Monthly balances, accruals and
// recalculation runs are all keyed by (building, MonthKey).
type MonthKey struct {
	Year  int
	Month time.Month
}

func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKey{Year: year, Month: month}
}

func MonthOf(d Date) MonthKey {
	return MonthKey{Year: d.Year(), Month: d.Month()}
}

// ParseMonthKey parses a YYYY-MM string (the CLI/API wire format).
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

func (mk MonthKey) Start() Date {
	return NewDate(mk.Year, mk.Month, 1)
}

// End returns the last calendar day of the month. Accrual expenses are
// required to carry exactly this date.
func (mk MonthKey) End() Date {
	return Date{Time: time.Date(mk.Year, mk.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

func (mk MonthKey) Next() MonthKey {
	d := mk.Start().AddMonths(1)
	return MonthOf(d)
}

func (mk MonthKey) Prev() MonthKey {
	d := mk.Start().AddMonths(-1)
	return MonthOf(d)
}

func (mk MonthKey) Contains(d Date) bool {
	return d.Year() == mk.Year && d.Month() == mk.Month
}

// Before reports strict chronological order of month keys.
func (mk MonthKey) Before(o MonthKey) bool {
	if mk.Year != o.Year {
		return mk.Year < o.Year
	}
	return mk.Month < o.Month
}

func (mk MonthKey) After(o MonthKey) bool  { return o.Before(mk) }
func (mk MonthKey) Equal(o MonthKey) bool  { return mk.Year == o.Year && mk.Month == o.Month }
func (mk MonthKey) BeforeOrEqual(o MonthKey) bool { return mk.Before(o) || mk.Equal(o) }

func (mk MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", mk.Year, int(mk.Month))
}

// MonthsBetween returns every month from 'from' through 'to' inclusive,
// in chronological order. Returns nil when to < from.
func MonthsBetween(from, to MonthKey) []MonthKey {
	if to.Before(from) {
		return nil
	}
	var months []MonthKey
	for mk := from; mk.BeforeOrEqual(to); mk = mk.Next() {
		months = append(months, mk)
	}
	return months
}

// IsMonthEnd reports whether the date is the last calendar day of its month.
func IsMonthEnd(d Date) bool {
	return MonthOf(d).End().Equal(d)
}

// =============================================================================
// CLOCK - "as of today" source, injectable for tests
// =============================================================================

type Clock interface {
	Today() Date
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Today() Date { return DateFromTime(time.Now().UTC()) }

// FixedClock always returns the same day. Test helper.
type FixedClock struct {
	Day Date
}

func (c FixedClock) Today() Date { return c.Day }
