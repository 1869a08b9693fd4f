// Package telemetry provides the vehicle telemetry record types and the
// decoding rules for the upstream breadcrumb and stop-event feeds.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Breadcrumb is one decoded GPS sample from the breadcrumb feed. Every field
// is optional on the wire; nil means the field was absent from the payload.
type Breadcrumb struct {
	VehicleID     *FlexInt64   `json:"VEHICLE_ID,omitempty"`
	TripID        *FlexInt64   `json:"EVENT_NO_TRIP,omitempty"`
	StopID        *FlexString  `json:"EVENT_NO_STOP,omitempty"`
	OperatingDate *FlexString  `json:"OPD_DATE,omitempty"`
	ElapsedTime   *FlexInt64   `json:"ACT_TIME,omitempty"`
	Meters        *FlexFloat64 `json:"METERS,omitempty"`
	Satellites    *FlexInt64   `json:"GPS_SATELLITES,omitempty"`
	HDOP          *FlexFloat64 `json:"GPS_HDOP,omitempty"`
	Latitude      *FlexFloat64 `json:"GPS_LATITUDE,omitempty"`
	Longitude     *FlexFloat64 `json:"GPS_LONGITUDE,omitempty"`
}

// DecodeBreadcrumb decodes a raw queue payload into a Breadcrumb.
func DecodeBreadcrumb(data []byte) (*Breadcrumb, error) {
	var b Breadcrumb
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode breadcrumb: %w", err)
	}
	return &b, nil
}

// ElapsedSeconds returns the seconds-since-midnight value, or -1 when the
// field is absent. The -1 sentinel is outside the valid [0, 86399] range and
// fails the range check downstream.
func (b *Breadcrumb) ElapsedSeconds() int {
	if b.ElapsedTime == nil {
		return -1
	}
	return int(*b.ElapsedTime)
}

// Fingerprint returns a normalized, order-independent representation of all
// present fields, used for duplicate detection.
func (b *Breadcrumb) Fingerprint() string {
	parts := make([]string, 0, 10)
	add := func(name, value string) {
		parts = append(parts, name+"="+value)
	}
	if b.VehicleID != nil {
		add("VEHICLE_ID", strconv.FormatInt(int64(*b.VehicleID), 10))
	}
	if b.TripID != nil {
		add("EVENT_NO_TRIP", strconv.FormatInt(int64(*b.TripID), 10))
	}
	if b.StopID != nil {
		add("EVENT_NO_STOP", string(*b.StopID))
	}
	if b.OperatingDate != nil {
		add("OPD_DATE", string(*b.OperatingDate))
	}
	if b.ElapsedTime != nil {
		add("ACT_TIME", strconv.FormatInt(int64(*b.ElapsedTime), 10))
	}
	if b.Meters != nil {
		add("METERS", strconv.FormatFloat(float64(*b.Meters), 'g', -1, 64))
	}
	if b.Satellites != nil {
		add("GPS_SATELLITES", strconv.FormatInt(int64(*b.Satellites), 10))
	}
	if b.HDOP != nil {
		add("GPS_HDOP", strconv.FormatFloat(float64(*b.HDOP), 'g', -1, 64))
	}
	if b.Latitude != nil {
		add("GPS_LATITUDE", strconv.FormatFloat(float64(*b.Latitude), 'g', -1, 64))
	}
	if b.Longitude != nil {
		add("GPS_LONGITUDE", strconv.FormatFloat(float64(*b.Longitude), 'g', -1, 64))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
