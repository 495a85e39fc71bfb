package models

import (
	"errors"
	"testing"
	"time"
)

func TestDayKey_UsesLocalFields(t *testing.T) {
	zone := time.FixedZone("UTC-8", -8*60*60)
	late := time.Date(2026, 10, 19, 23, 30, 0, 0, zone)
	if got := DayKey(late); got != "2026-10-19" {
		t.Fatalf("got %s", got)
	}
}

func TestParseDay(t *testing.T) {
	for _, s := range []string{"2026-02-30", "2026-1-05", "", "20261005", "2026-10-05T00:00:00Z"} {
		if _, err := ParseDay(s); !errors.Is(err, ErrInvalidDay) {
			t.Fatalf("%q: expected ErrInvalidDay, got %v", s, err)
		}
	}
	if !ValidDay("2028-02-29") {
		t.Fatal("leap day rejected")
	}
}

func TestDaysBetweenAndRange(t *testing.T) {
	n, err := DaysBetween("2026-10-30", "2026-11-02")
	if err != nil || n != 3 {
		t.Fatalf("got %d, %v", n, err)
	}
	if n, _ := DaysBetween("2026-11-02", "2026-10-30"); n != -3 {
		t.Fatalf("expected -3, got %d", n)
	}
	days, err := DayRange("2026-11-02", "2026-10-30")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2026-10-30", "2026-10-31", "2026-11-01", "2026-11-02"}
	if len(days) != len(want) {
		t.Fatalf("got %v", days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("got %v, want %v", days, want)
		}
	}
}

func TestMonth(t *testing.T) {
	m, err := ParseMonth("2028-02")
	if err != nil {
		t.Fatal(err)
	}
	if m.String() != "2028-02" || m.FirstDay() != "2028-02-01" || m.LastDay() != "2028-02-29" || len(m.Days()) != 29 {
		t.Fatalf("unexpected month %+v last=%s days=%d", m, m.LastDay(), len(m.Days()))
	}
	if !m.Contains("2028-02-10") || m.Contains("2028-03-01") {
		t.Fatal("contains mismatch")
	}
	if _, err := ParseMonth("2028-13"); err == nil {
		t.Fatal("expected error")
	}
	dec := Month{Year: 2026, Month: time.December}
	if dec.LastDay() != "2026-12-31" {
		t.Fatalf("got %s", dec.LastDay())
	}
}

func TestModeFor(t *testing.T) {
	cases := []struct {
		service ServiceType
		option  DateOption
		want    BookingMode
	}{
		{ServiceHouseMove, DateFixed, ModeHouseMove},
		{ServiceItemTransport, DateFixed, ModeItemTransport},
		{ServiceItemTransport, DateFlexible, ModeFlexible},
		{ServiceHouseMove, DateFlexible, ModeFlexible},
	}
	for _, tc := range cases {
		if got := ModeFor(tc.service, tc.option); got != tc.want {
			t.Fatalf("%s/%s: got %s, want %s", tc.service, tc.option, got, tc.want)
		}
	}
}
