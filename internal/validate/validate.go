package validate

import (
	"strconv"
	"time"

	"busfeed/internal/telemetry"
)

// Violation messages. Kept as plain sentences so rejected-message logs read
// the same way operators have always seen them.
const (
	ViolationMissingVehicleID = "missing vehicle ID"
	ViolationMissingStopID    = "EVENT_NO_STOP is missing"
	ViolationStopIDFormat     = "EVENT_NO_STOP should be in integer format"
	ViolationNegativeMeters   = "METERS cannot be negative"
	ViolationZeroSatellites   = "GPS_SATELLITES should not be 0 during normal operations"
	ViolationDateFormat       = "OPD_DATE does not match format DDMonYYYY:HH:MM:SS"
	ViolationDateInFuture     = "OPD_DATE should not be in the future"
	ViolationElapsedRange     = "ACT_TIME should be between 0 and 86399 seconds"
	ViolationNotMonotonic     = "ACT_TIME should be greater than the previous record during the same trip"
	ViolationLonelyLatitude   = "every latitude must have a corresponding longitude"
	ViolationDuplicate        = "duplicate data found"
)

// Validate observes the record in the tracker and classifies it. An empty
// result means accept.
func Validate(b *telemetry.Breadcrumb, tracker *Tracker) []string {
	return Classify(b, tracker.Observe(b), time.Now())
}

// Classify evaluates every rule against the record and the tracker's
// observation of it. Rules are independent and all of them run; a record can
// collect several violations in one pass.
func Classify(b *telemetry.Breadcrumb, obs Observation, now time.Time) []string {
	var violations []string

	// Every breadcrumb needs a vehicle ID.
	if b.VehicleID == nil {
		violations = append(violations, ViolationMissingVehicleID)
	}

	// Stop ID must be present and integral. A malformed value is a
	// violation, not a decode failure.
	if b.StopID == nil {
		violations = append(violations, ViolationMissingStopID)
	} else if _, err := strconv.ParseInt(string(*b.StopID), 10, 64); err != nil {
		violations = append(violations, ViolationStopIDFormat)
	}

	if b.Meters != nil && *b.Meters < 0 {
		violations = append(violations, ViolationNegativeMeters)
	}

	// A zero satellite count only counts against the record when the field
	// is explicitly present; absent is treated as "no reading".
	if b.Satellites != nil && *b.Satellites == 0 {
		violations = append(violations, ViolationZeroSatellites)
	}

	if b.OperatingDate == nil {
		violations = append(violations, ViolationDateFormat)
	} else if opd, err := telemetry.ParseOperatingDate(string(*b.OperatingDate)); err != nil {
		violations = append(violations, ViolationDateFormat)
	} else if opd.After(now) {
		violations = append(violations, ViolationDateInFuture)
	}

	elapsed := b.ElapsedSeconds()
	if elapsed < 0 || elapsed > 86399 {
		violations = append(violations, ViolationElapsedRange)
	}

	// Subsequent elapsed times on the same trip must strictly increase.
	// The queue guarantees no delivery order, so redeliveries of older
	// records are expected to trip this rule.
	if obs.HasPrev && elapsed <= obs.PrevElapsed {
		violations = append(violations, ViolationNotMonotonic)
	}

	if b.Latitude != nil && b.Longitude == nil {
		violations = append(violations, ViolationLonelyLatitude)
	}

	if obs.Duplicate {
		violations = append(violations, ViolationDuplicate)
	}

	return violations
}
