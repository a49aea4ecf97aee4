package task

import (
	"fmt"
	"strconv"
	"time"
)

// TimeOfDay is a wall-clock time without a date, interpreted in the local
// time zone of whoever schedules the alarm.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a strict 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return TimeOfDay{}, fmt.Errorf("time %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(s[:2])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("time %q: hour must be 00-23", s)
	}

	minute, err := strconv.Atoi(s[3:])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time %q: minute must be 00-59", s)
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// NextOccurrence returns today's occurrence of t in now's location, or the
// occurrence 24 hours later when today's is not strictly after now.
//
// The rollover is a fixed 24 hours, so on daylight-saving transition days the
// result can land an hour off the wall-clock time.
func NextOccurrence(t TimeOfDay, now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}
