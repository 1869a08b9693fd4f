// Package transform turns a flushed buffer of accepted breadcrumbs into the
// output row contract: per-trip speed derivation, absolute timestamps, and
// the internal-only fields dropped.
package transform

import (
	"sort"
	"time"

	"busfeed/internal/telemetry"
)

// Record is one transformed breadcrumb. This is the full output contract;
// validation-only fields (stop ID, meters, satellite count, dilution, raw
// date string, raw elapsed seconds) do not survive the transform.
type Record struct {
	TripID    int64     `json:"trip_id" csv:"trip_id"`
	VehicleID int64     `json:"vehicle_id" csv:"vehicle_id"`
	Latitude  *float64  `json:"latitude" csv:"latitude"`
	Longitude *float64  `json:"longitude" csv:"longitude"`
	Speed     float64   `json:"speed" csv:"speed"`
	Timestamp time.Time `json:"tstamp" csv:"tstamp"`
}

// Batch transforms a flush of accepted records. Input order is not
// significant; records are sorted by (trip, elapsed time), speeds are
// derived per trip group, and timestamps are reconstructed from the
// operating date plus the elapsed-seconds offset.
func Batch(crumbs []*telemetry.Breadcrumb) []Record {
	if len(crumbs) == 0 {
		return nil
	}

	sorted := make([]*telemetry.Breadcrumb, len(crumbs))
	copy(sorted, crumbs)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := tripOf(sorted[i]), tripOf(sorted[j])
		if ti != tj {
			return ti < tj
		}
		return sorted[i].ElapsedSeconds() < sorted[j].ElapsedSeconds()
	})

	out := make([]Record, 0, len(sorted))
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && tripOf(sorted[end]) == tripOf(sorted[start]) {
			end++
		}
		out = append(out, tripGroup(sorted[start:end])...)
		start = end
	}
	return out
}

func tripOf(b *telemetry.Breadcrumb) int64 {
	if b.TripID == nil {
		return 0
	}
	return int64(*b.TripID)
}

func vehicleOf(b *telemetry.Breadcrumb) int64 {
	if b.VehicleID == nil {
		return 0
	}
	return int64(*b.VehicleID)
}

// tripGroup derives speeds within one trip and builds the output rows.
func tripGroup(group []*telemetry.Breadcrumb) []Record {
	speeds := groupSpeeds(group)

	rows := make([]Record, 0, len(group))
	for i, b := range group {
		row := Record{
			TripID:    tripOf(b),
			VehicleID: vehicleOf(b),
			Speed:     speeds[i],
		}
		if b.Latitude != nil {
			v := float64(*b.Latitude)
			row.Latitude = &v
		}
		if b.Longitude != nil {
			v := float64(*b.Longitude)
			row.Longitude = &v
		}
		if b.OperatingDate != nil {
			// Accepted records always carry a parseable date; a failure
			// here leaves the zero time rather than dropping the row.
			if ts, err := telemetry.EventTime(string(*b.OperatingDate), b.ElapsedSeconds()); err == nil {
				row.Timestamp = ts
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// groupSpeeds computes distance delta over time delta between consecutive
// records of one trip, then forward- and backward-fills so every record ends
// with a defined value. A group with nothing to borrow from yields zeros.
func groupSpeeds(group []*telemetry.Breadcrumb) []float64 {
	speeds := make([]float64, len(group))
	defined := make([]bool, len(group))

	for i := 1; i < len(group); i++ {
		prev, cur := group[i-1], group[i]
		if prev.Meters == nil || cur.Meters == nil {
			continue
		}
		dt := cur.ElapsedSeconds() - prev.ElapsedSeconds()
		if dt <= 0 {
			continue
		}
		speeds[i] = float64(*cur.Meters-*prev.Meters) / float64(dt)
		defined[i] = true
	}

	// Forward fill, then backward fill the leading gap.
	for i := 1; i < len(group); i++ {
		if !defined[i] && defined[i-1] {
			speeds[i] = speeds[i-1]
			defined[i] = true
		}
	}
	for i := len(group) - 2; i >= 0; i-- {
		if !defined[i] && defined[i+1] {
			speeds[i] = speeds[i+1]
			defined[i] = true
		}
	}

	return speeds
}
