// Package week maps journal dates to program week numbers.
package week

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used across the store and files.
const DateLayout = "2006-01-02"

const (
	Early = "early"
	Late  = "late"
)

// Number returns floor(days(start, date)/7)+1, never less than 1.
// Only the calendar dates of start and date are considered.
func Number(start, date time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	days := int(d.Sub(s).Hours() / 24)
	if days < 0 {
		return 1
	}
	return days/7 + 1
}

// NumberISO is Number for YYYY-MM-DD strings.
func NumberISO(start, date string) (int, error) {
	s, err := ParseDate(start)
	if err != nil {
		return 0, err
	}
	d, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return Number(s, d), nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}

// Period classifies a week as early (week <= earlyWeeks) or late.
func Period(week, earlyWeeks int) string {
	if week <= earlyWeeks {
		return Early
	}
	return Late
}
