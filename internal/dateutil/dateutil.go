// Package dateutil provides calendar-date arithmetic for the dashboard.
//
// A Date carries no time of day and no zone: it is always interpreted as a UTC
// calendar day, matching the ISO "YYYY-MM-DD" strings exchanged with the backend.
package dateutil

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the ISO calendar date format used on the wire.
const Layout = "2006-01-02"

var epoch = Date{t: time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)}

// Epoch is the earliest date DaysBefore will ever produce.
func Epoch() Date { return epoch }

// Date is a calendar day. The zero value is not a valid date; use IsZero to check.
type Date struct {
	t time.Time
}

// Clock supplies the current instant. Controllers receive one explicitly so
// tests can pin "today".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// FixedDay returns a clock pinned to noon UTC of d.
func FixedDay(d Date) FixedClock {
	return FixedClock(d.t.Add(12 * time.Hour))
}

// New builds a Date from its components. Out of range values normalize the
// way time.Date does (e.g. March 0 is the last day of February).
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its UTC calendar day.
func FromTime(t time.Time) Date {
	u := t.UTC()
	return New(u.Year(), u.Month(), u.Day())
}

// Parse reads an ISO "YYYY-MM-DD" date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current UTC calendar day according to c.
// A nil clock means the system clock.
func Today(c Clock) Date {
	if c == nil {
		c = SystemClock{}
	}
	return FromTime(c.Now())
}

// IsFuture reports whether d is strictly after today. Only the date part is compared.
func IsFuture(c Clock, d Date) bool {
	return d.After(Today(c))
}

// DaysBefore returns the date n days earlier, never earlier than Epoch().
// Negative n moves forward.
func (d Date) DaysBefore(n int) Date {
	out := Date{t: d.t.AddDate(0, 0, -n)}
	if out.Before(epoch) {
		return epoch
	}
	return out
}

// DaysUntil returns the number of whole days from d to other (negative if other is earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.t.Sub(d.t).Hours() / 24)
}

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) After(o Date) bool { return d.t.After(o.t) }

func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// String formats d as "YYYY-MM-DD"; the zero date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
