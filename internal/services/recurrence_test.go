package services

import (
	"errors"
	"testing"

	"fintrack/internal/core"
)

func d(y, m, day int) core.Date {
	return core.NewDate(y, m, day)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		freq     core.Frequency
		interval int
		anchor   core.Date
		from     core.Date
		want     core.Date
	}{
		{name: "from before anchor yields anchor", freq: core.Monthly, interval: 1, anchor: d(2024, 3, 10), from: d(2024, 1, 1), want: d(2024, 3, 10)},
		{name: "from equal to anchor is exclusive", freq: core.Daily, interval: 1, anchor: d(2024, 1, 1), from: d(2024, 1, 1), want: d(2024, 1, 2)},
		{name: "daily interval 3", freq: core.Daily, interval: 3, anchor: d(2024, 1, 1), from: d(2024, 1, 5), want: d(2024, 1, 7)},
		{name: "weekly", freq: core.Weekly, interval: 1, anchor: d(2024, 1, 1), from: d(2024, 1, 8), want: d(2024, 1, 15)},
		{name: "biweekly mid period", freq: core.Weekly, interval: 2, anchor: d(2024, 1, 1), from: d(2024, 1, 20), want: d(2024, 1, 29)},
		{name: "monthly Jan 31 to Feb 29 leap", freq: core.Monthly, interval: 1, anchor: d(2024, 1, 31), from: d(2024, 1, 31), want: d(2024, 2, 29)},
		{name: "monthly Jan 31 to Feb 28", freq: core.Monthly, interval: 1, anchor: d(2023, 1, 31), from: d(2023, 1, 31), want: d(2023, 2, 28)},
		{name: "monthly clamping does not drift", freq: core.Monthly, interval: 1, anchor: d(2024, 1, 31), from: d(2024, 2, 29), want: d(2024, 3, 31)},
		{name: "monthly to April 30", freq: core.Monthly, interval: 1, anchor: d(2024, 1, 31), from: d(2024, 3, 31), want: d(2024, 4, 30)},
		{name: "quarterly across year", freq: core.Monthly, interval: 3, anchor: d(2023, 11, 15), from: d(2024, 1, 1), want: d(2024, 2, 15)},
		{name: "monthly from mid month", freq: core.Monthly, interval: 1, anchor: d(2024, 1, 15), from: d(2024, 2, 10), want: d(2024, 2, 15)},
		{name: "yearly Feb 29 clamps", freq: core.Yearly, interval: 1, anchor: d(2024, 2, 29), from: d(2024, 2, 29), want: d(2025, 2, 28)},
		{name: "yearly Feb 29 returns in leap year", freq: core.Yearly, interval: 1, anchor: d(2024, 2, 29), from: d(2027, 3, 1), want: d(2028, 2, 29)},
		{name: "every two years", freq: core.Yearly, interval: 2, anchor: d(2020, 6, 1), from: d(2021, 6, 1), want: d(2022, 6, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.freq, tt.interval, tt.anchor, tt.from)
			if err != nil {
				t.Fatalf("NextOccurrence() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextOccurrence_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		freq     core.Frequency
		interval int
		anchor   core.Date
	}{
		{name: "unknown frequency", freq: "hourly", interval: 1, anchor: d(2024, 1, 1)},
		{name: "zero interval", freq: core.Daily, interval: 0, anchor: d(2024, 1, 1)},
		{name: "missing anchor", freq: core.Daily, interval: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextOccurrence(tt.freq, tt.interval, tt.anchor, d(2024, 1, 1))
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("NextOccurrence() error = %v, want validation error", err)
			}
		})
	}
}

func TestNextOccurrence_Deterministic(t *testing.T) {
	first, _ := NextOccurrence(core.Monthly, 1, d(2024, 1, 31), d(2024, 5, 1))
	for i := 0; i < 10; i++ {
		again, _ := NextOccurrence(core.Monthly, 1, d(2024, 1, 31), d(2024, 5, 1))
		if !again.Equal(first) {
			t.Fatalf("run %d = %s, want %s", i, again, first)
		}
	}
}

func TestOccurrencesBetween(t *testing.T) {
	got, err := OccurrencesBetween(core.Monthly, 1, d(2024, 1, 31), core.Date{}, d(2024, 5, 31), 0)
	if err != nil {
		t.Fatalf("OccurrencesBetween() error = %v", err)
	}
	want := []core.Date{d(2024, 1, 31), d(2024, 2, 29), d(2024, 3, 31), d(2024, 4, 30), d(2024, 5, 31)}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}

	limited, _ := OccurrencesBetween(core.Daily, 1, d(2024, 1, 1), d(2024, 1, 1), d(2024, 12, 31), 3)
	if len(limited) != 3 || !limited[0].Equal(d(2024, 1, 2)) {
		t.Errorf("limited = %v, want 3 days starting 2024-01-02", limited)
	}
}

func TestPeriodWindow(t *testing.T) {
	tests := []struct {
		name      string
		period    core.Frequency
		anchor    core.Date
		at        core.Date
		wantStart core.Date
		wantEnd   core.Date
	}{
		{name: "calendar month", period: core.Monthly, anchor: d(2024, 1, 1), at: d(2024, 2, 14), wantStart: d(2024, 2, 1), wantEnd: d(2024, 2, 29)},
		{name: "window starts on anchor day", period: core.Monthly, anchor: d(2024, 1, 15), at: d(2024, 3, 2), wantStart: d(2024, 2, 15), wantEnd: d(2024, 3, 14)},
		{name: "at on boundary", period: core.Weekly, anchor: d(2024, 1, 1), at: d(2024, 1, 8), wantStart: d(2024, 1, 8), wantEnd: d(2024, 1, 14)},
		{name: "before anchor is first window", period: core.Yearly, anchor: d(2024, 1, 1), at: d(2023, 6, 1), wantStart: d(2024, 1, 1), wantEnd: d(2024, 12, 31)},
		{name: "daily", period: core.Daily, anchor: d(2024, 1, 1), at: d(2024, 1, 9), wantStart: d(2024, 1, 9), wantEnd: d(2024, 1, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := PeriodWindow(tt.period, tt.anchor, tt.at)
			if err != nil {
				t.Fatalf("PeriodWindow() error = %v", err)
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("PeriodWindow() = [%s, %s], want [%s, %s]", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestGetOccurrenceStrategy(t *testing.T) {
	for _, freq := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		if _, err := GetOccurrenceStrategy(freq); err != nil {
			t.Errorf("GetOccurrenceStrategy(%s) error = %v", freq, err)
		}
	}
	if _, err := GetOccurrenceStrategy("fortnightly"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}
