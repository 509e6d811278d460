// Package semester holds the semester configuration and the academic week
// arithmetic derived from it. The week number is never stored: it is
// recomputed from the start date every time it is asked for.
package semester

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/pkg/timeutil"
)

// DefaultTotalWeeks applies when the server does not send a week count.
const DefaultTotalWeeks = 20

var validate = validator.New()

// Config is the semester configuration published by the server.
type Config struct {
	SemesterName string    `validate:"omitempty,max=128"`
	StartDate    time.Time `validate:"required"`
	TotalWeeks   int       `validate:"min=1,max=60"`
}

// Validate checks the invariants week derivation relies on.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: semester config: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// Week returns the academic week for now.
func (c Config) Week(now time.Time) int {
	return ComputeWeek(c.StartDate, c.TotalWeeks, now)
}

// Wire is the server representation of the semester configuration.
type Wire struct {
	SemesterName      string `json:"semester_name"`
	SemesterStartDate string `json:"semester_start_date"`
	TotalWeeks        int    `json:"total_weeks,omitempty"`
}

// FromWire converts and validates a server payload. A missing week count
// falls back to defaultWeeks.
func FromWire(w Wire, defaultWeeks int) (Config, error) {
	start, err := timeutil.ParseDate(w.SemesterStartDate)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	weeks := w.TotalWeeks
	if weeks == 0 {
		weeks = defaultWeeks
	}
	cfg := Config{SemesterName: w.SemesterName, StartDate: start, TotalWeeks: weeks}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses a raw semester-config payload.
func Decode(raw json.RawMessage, defaultWeeks int) (Config, error) {
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Config{}, fmt.Errorf("%w: decode semester config: %v", shared.ErrInvalidInput, err)
	}
	return FromWire(w, defaultWeeks)
}

// ComputeWeek returns the 1-based academic week containing now.
//
// Elapsed time is rounded up to the next week boundary, so the start instant
// itself and any time before it yield week 1, and anything past the last week
// is clamped to totalWeeks. totalWeeks must be at least 1.
func ComputeWeek(startDate time.Time, totalWeeks int, now time.Time) int {
	elapsed := now.Sub(startDate)
	raw := int(elapsed / timeutil.Week)
	if elapsed > 0 && elapsed%timeutil.Week != 0 {
		raw++
	}
	if raw <= 0 {
		return 1
	}
	if raw > totalWeeks {
		return totalWeeks
	}
	return raw
}

// WeekDates describes the calendar of one academic week.
type WeekDates struct {
	Month int    // month of the week's first day
	Days  [7]int // day-of-month for each of the seven days
	First time.Time
}

// DatesOfWeek returns the calendar days of the given week, counted from the
// semester start date.
func DatesOfWeek(startDate time.Time, week int) WeekDates {
	first := timeutil.StartOfDay(startDate).AddDate(0, 0, (week-1)*7)
	wd := WeekDates{Month: int(first.Month()), First: first}
	for i := range wd.Days {
		wd.Days[i] = first.AddDate(0, 0, i).Day()
	}
	return wd
}
