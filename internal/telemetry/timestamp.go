package telemetry

import (
	"fmt"
	"time"
)

// OperatingDateLayout is the fixed upstream date format, e.g.
// "15JAN2024:08:30:00". time.Parse matches month names case-insensitively.
const OperatingDateLayout = "02Jan2006:15:04:05"

// ParseOperatingDate parses an OPD_DATE string.
func ParseOperatingDate(s string) (time.Time, error) {
	t, err := time.Parse(OperatingDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse operating date %q: %w", s, err)
	}
	return t, nil
}

// EventTime reconstructs the absolute event time from the operating date and
// the seconds-since-midnight offset.
func EventTime(opdDate string, elapsedSeconds int) (time.Time, error) {
	t, err := ParseOperatingDate(opdDate)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(elapsedSeconds) * time.Second), nil
}
