package models

import (
	"errors"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

var ErrInvalidDay = errors.New("models: invalid calendar day")

// DayKey formats t as YYYY-MM-DD from its own calendar fields, so the
// result never shifts when the caller's zone is behind UTC.
func DayKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

// ParseDay validates an ISO day string. The returned time is midnight UTC and
// is only meant for day arithmetic.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return t, nil
}

func ValidDay(s string) bool {
	_, err := ParseDay(s)
	return err == nil
}

// DaysBetween returns the whole days from a to b; negative when b precedes a.
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDay(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDay(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// DayRange lists every day in [from, to] inclusive. Endpoints may be given in any order.
func DayRange(from, to string) ([]string, error) {
	tf, err := ParseDay(from)
	if err != nil {
		return nil, err
	}
	tt, err := ParseDay(to)
	if err != nil {
		return nil, err
	}
	if tt.Before(tf) {
		tf, tt = tt, tf
	}
	out := make([]string, 0, int(tt.Sub(tf).Hours()/24)+1)
	for d := tf; !d.After(tt); d = d.AddDate(0, 0, 1) {
		out = append(out, DayKey(d))
	}
	return out, nil
}

// Month is a visible calendar month built from local calendar fields.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month { return Month{Year: t.Year(), Month: t.Month()} }

// ParseMonth accepts YYYY-MM.
func ParseMonth(s string) (Month, error) {
	t, err := time.ParseInLocation("2006-01", s, time.UTC)
	if err != nil {
		return Month{}, fmt.Errorf("models: invalid month %q", s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

func (m Month) FirstDay() string { return fmt.Sprintf("%04d-%02d-01", m.Year, int(m.Month)) }

func (m Month) LastDay() string {
	// day 0 of the next month is the last day of this one
	last := time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC)
	return DayKey(last)
}

func (m Month) Days() []string {
	days, _ := DayRange(m.FirstDay(), m.LastDay())
	return days
}

// Contains reports whether the ISO day falls inside the month.
func (m Month) Contains(day string) bool {
	return len(day) == len(dayLayout) && day[:7] == m.String()
}
