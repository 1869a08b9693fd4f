package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt64 handles JSON fields that can be either a number or a numeric
// string. The upstream feed is not consistent about which one it sends.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexInt64(i)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("parse integer field %q: %w", s, err)
		}
		*f = FlexInt64(i)
		return nil
	}

	return fmt.Errorf("integer field: unexpected JSON value %s", string(data))
}

// FlexFloat64 handles JSON fields that can be either a number or a numeric
// string.
type FlexFloat64 float64

func (f *FlexFloat64) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = FlexFloat64(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("parse numeric field %q: %w", s, err)
		}
		*f = FlexFloat64(v)
		return nil
	}

	return fmt.Errorf("numeric field: unexpected JSON value %s", string(data))
}

// FlexString accepts a JSON string, number, or boolean and keeps the raw
// token text. Used for fields that must be validated in their original form
// rather than coerced during decoding.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return fmt.Errorf("string field: unexpected JSON value %s", string(data))
	}
	*f = FlexString(trimmed)
	return nil
}
