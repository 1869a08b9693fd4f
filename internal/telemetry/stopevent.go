package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Raw single-letter service keys and direction digits map to the canonical
// names used in the Trip table. Unknown codes pass through unchanged.
var serviceKeyNames = map[string]string{
	"W": "Weekday",
	"S": "Saturday",
	"U": "Sunday",
}

var directionNames = map[string]string{
	"0": "Out",
	"1": "Back",
}

// ServiceKeyName returns the canonical service key name for a raw code.
func ServiceKeyName(code string) string {
	if name, ok := serviceKeyNames[code]; ok {
		return name
	}
	return code
}

// DirectionName returns the canonical direction name for a raw code.
func DirectionName(code string) string {
	if name, ok := directionNames[code]; ok {
		return name
	}
	return code
}

// StopEvent is one decoded stop-event record. The scraped table carries many
// more columns than the pipeline needs; Fields retains the full payload for
// archiving while the typed fields drive the Trip enrichment.
type StopEvent struct {
	TripID      int64
	RouteNumber int64
	ServiceKey  string
	Direction   string

	Fields map[string]any
}

// DecodeStopEvent decodes a raw queue payload into a StopEvent. The trip_id
// field is required; everything else is optional.
func DecodeStopEvent(data []byte) (*StopEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode stop event: %w", err)
	}

	tripID, err := fieldInt64(fields, "trip_id")
	if err != nil {
		return nil, err
	}

	ev := &StopEvent{
		TripID:     tripID,
		ServiceKey: fieldString(fields, "service_key"),
		Direction:  fieldString(fields, "direction"),
		Fields:     fields,
	}
	ev.RouteNumber, _ = fieldInt64(fields, "route_number")
	return ev, nil
}

// Canonicalize replaces the raw service key and direction codes with their
// canonical names, in the typed fields and in the retained payload.
func (e *StopEvent) Canonicalize() {
	e.ServiceKey = ServiceKeyName(e.ServiceKey)
	e.Direction = DirectionName(e.Direction)
	if e.Fields != nil {
		if _, ok := e.Fields["service_key"]; ok {
			e.Fields["service_key"] = e.ServiceKey
		}
		if _, ok := e.Fields["direction"]; ok {
			e.Fields["direction"] = e.Direction
		}
	}
}

// MarshalJSON emits the full retained payload, not just the typed fields.
func (e *StopEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields)
}

func fieldString(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}

func fieldInt64(fields map[string]any, name string) (int64, error) {
	switch v := fields[name].(type) {
	case float64:
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("stop event field %s: %w", name, err)
		}
		return i, nil
	case nil:
		return 0, fmt.Errorf("stop event field %s is missing", name)
	default:
		return 0, fmt.Errorf("stop event field %s has unexpected type %T", name, v)
	}
}
