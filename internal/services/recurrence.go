// This file implements the Strategy Pattern for recurrence arithmetic.
// Each frequency (daily, weekly, monthly, yearly) has a strategy that knows
// how to step a date forward; the schedule logic on top is shared.

package services

import (
	"fmt"
	"time"

	"fintrack/internal/core"
)

// OccurrenceStrategy is the per-frequency calendar arithmetic.
type OccurrenceStrategy interface {
	// Step returns anchor advanced by n frequency units, clamped to the
	// last day of the month where the anchor day does not exist.
	Step(anchor core.Date, n int) core.Date
	// UnitsBetween returns an estimate of whole units from anchor to d that
	// never exceeds the exact count by more than one.
	UnitsBetween(anchor, d core.Date) int
}

// DailyStrategy steps by days.
type DailyStrategy struct{}

func (DailyStrategy) Step(anchor core.Date, n int) core.Date {
	return anchor.AddDays(n)
}

func (DailyStrategy) UnitsBetween(anchor, d core.Date) int {
	return daysBetween(anchor, d)
}

// WeeklyStrategy steps by seven days.
type WeeklyStrategy struct{}

func (WeeklyStrategy) Step(anchor core.Date, n int) core.Date {
	return anchor.AddDays(7 * n)
}

func (WeeklyStrategy) UnitsBetween(anchor, d core.Date) int {
	return daysBetween(anchor, d) / 7
}

// MonthlyStrategy steps by calendar months, clamping Jan 31 to Feb 28/29.
type MonthlyStrategy struct{}

func (MonthlyStrategy) Step(anchor core.Date, n int) core.Date {
	return addMonthsClamped(anchor, n)
}

func (MonthlyStrategy) UnitsBetween(anchor, d core.Date) int {
	return (d.Year()-anchor.Year())*12 + d.Month() - anchor.Month()
}

// YearlyStrategy steps by calendar years, clamping Feb 29 to Feb 28.
type YearlyStrategy struct{}

func (YearlyStrategy) Step(anchor core.Date, n int) core.Date {
	return addMonthsClamped(anchor, 12*n)
}

func (YearlyStrategy) UnitsBetween(anchor, d core.Date) int {
	return d.Year() - anchor.Year()
}

// occurrenceStrategies maps frequencies to their strategies.
var occurrenceStrategies = map[core.Frequency]OccurrenceStrategy{
	core.Daily:   DailyStrategy{},
	core.Weekly:  WeeklyStrategy{},
	core.Monthly: MonthlyStrategy{},
	core.Yearly:  YearlyStrategy{},
}

// GetOccurrenceStrategy returns the strategy for a frequency.
func GetOccurrenceStrategy(freq core.Frequency) (OccurrenceStrategy, error) {
	strategy, ok := occurrenceStrategies[freq]
	if !ok {
		return nil, core.NewValidationError("frequency", fmt.Sprintf("unknown frequency %q", freq))
	}
	return strategy, nil
}

func daysBetween(a, b core.Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

func addMonthsClamped(anchor core.Date, n int) core.Date {
	total := anchor.Month() - 1 + n
	year := anchor.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	day := anchor.Day()
	if last := core.DaysIn(year, month); day > last {
		day = last
	}
	return core.NewDate(year, int(month), day)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// recurrence bundles a validated schedule definition.
type recurrence struct {
	strategy OccurrenceStrategy
	interval int
	anchor   core.Date
}

func newRecurrence(freq core.Frequency, interval int, anchor core.Date) (recurrence, error) {
	strategy, err := GetOccurrenceStrategy(freq)
	if err != nil {
		return recurrence{}, err
	}
	if interval < 1 {
		return recurrence{}, core.NewValidationError("interval", "must be at least 1")
	}
	if anchor.IsZero() {
		return recurrence{}, core.NewValidationError("start_date", "required")
	}
	return recurrence{strategy: strategy, interval: interval, anchor: anchor}, nil
}

// nth returns occurrence k, always computed from the anchor so clamping
// in a short month never shifts later occurrences.
func (r recurrence) nth(k int) core.Date {
	return r.strategy.Step(r.anchor, k*r.interval)
}

// indexAfter returns the smallest k with nth(k) strictly after from.
func (r recurrence) indexAfter(from core.Date) int {
	if from.Before(r.anchor) {
		return 0
	}
	k := r.strategy.UnitsBetween(r.anchor, from) / r.interval
	if k < 0 {
		k = 0
	}
	for k > 0 && r.nth(k-1).After(from) {
		k--
	}
	for !r.nth(k).After(from) {
		k++
	}
	return k
}

// NextOccurrence returns the first occurrence anchor + k*interval units
// (k >= 0) strictly after from. When from is before the anchor, the anchor
// itself is the next occurrence.
func NextOccurrence(freq core.Frequency, interval int, anchor, from core.Date) (core.Date, error) {
	r, err := newRecurrence(freq, interval, anchor)
	if err != nil {
		return core.Date{}, err
	}
	return r.nth(r.indexAfter(from)), nil
}

// OccurrencesBetween lists occurrences strictly after `after` and on or
// before until, at most limit of them (limit <= 0 means no limit). A zero
// after starts at the anchor.
func OccurrencesBetween(freq core.Frequency, interval int, anchor, after, until core.Date, limit int) ([]core.Date, error) {
	r, err := newRecurrence(freq, interval, anchor)
	if err != nil {
		return nil, err
	}

	k := 0
	if !after.IsZero() {
		k = r.indexAfter(after)
	}

	var out []core.Date
	for d := r.nth(k); !d.After(until); d = r.nth(k) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, d)
		k++
	}
	return out, nil
}

// PeriodWindow returns the inclusive window [start, end] of the period that
// contains at, with periods anchored on anchor. Dates before the anchor
// belong to the first window.
func PeriodWindow(period core.Frequency, anchor, at core.Date) (core.Date, core.Date, error) {
	r, err := newRecurrence(period, 1, anchor)
	if err != nil {
		return core.Date{}, core.Date{}, err
	}
	k := r.indexAfter(at)
	if k == 0 {
		k = 1
	}
	return r.nth(k - 1), r.nth(k).AddDays(-1), nil
}
