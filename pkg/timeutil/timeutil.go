// Package timeutil provides calendar helpers for the campus timezone (UTC+8
// unless configured otherwise). Semester start dates arrive from the server
// as bare calendar dates, so every date in this client is anchored to
// midnight in CampusTZ before any arithmetic happens.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// CampusTZ is the campus timezone (China Standard Time, UTC+8, no DST).
var CampusTZ = time.FixedZone("Asia/Shanghai", 8*60*60)

// SetLocation replaces CampusTZ. It is called once at startup, before any
// date is parsed. A nil location is ignored.
func SetLocation(loc *time.Location) {
	if loc != nil {
		CampusTZ = loc
	}
}

// Day and Week are the fixed durations used for elapsed-time arithmetic.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Common date formats.
const (
	// FormatDate is the server date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatSlashDate is the format the mini-program historically stored (YYYY/MM/DD).
	FormatSlashDate = "2006/01/02"
)

// Now returns the current time in the campus timezone.
func Now() time.Time {
	return time.Now().In(CampusTZ)
}

// ToCampus converts a time to the campus timezone.
func ToCampus(t time.Time) time.Time {
	return t.In(CampusTZ)
}

// Date creates midnight of the given date in the campus timezone.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, CampusTZ)
}

// StartOfDay returns 00:00:00 of t's day in the campus timezone.
func StartOfDay(t time.Time) time.Time {
	c := ToCampus(t)
	return Date(c.Year(), c.Month(), c.Day())
}

// ISOWeekday returns the weekday as 1 (Monday) through 7 (Sunday).
func ISOWeekday(t time.Time) int {
	wd := int(ToCampus(t).Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ParseDate parses a calendar date in either YYYY-MM-DD or YYYY/MM/DD form
// and returns midnight of that date in the campus timezone.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse date: empty value")
	}
	for _, layout := range []string{FormatDate, FormatSlashDate} {
		if t, err := time.ParseInLocation(layout, s, CampusTZ); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q: expected YYYY-MM-DD or YYYY/MM/DD", s)
}

// FormatDateStr formats a time as YYYY-MM-DD in the campus timezone.
func FormatDateStr(t time.Time) string {
	return ToCampus(t).Format(FormatDate)
}
