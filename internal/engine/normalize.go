package engine

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"
)

// ErrMalformedRecord is returned by Normalize when a raw record is missing its
// timestamp or temperature, or when either fails to parse. Callers drop and
// count such records; they never halt the pipeline.
var ErrMalformedRecord = errors.New("malformed record")

// TemperatureSample is the temperature payload of a vendor event.
type TemperatureSample struct {
	Value      *float64 `json:"value"`
	UpdateTime string   `json:"updateTime"`
}

// RawData is the data envelope of a vendor event. Non-temperature event types
// leave Temperature nil.
type RawData struct {
	Temperature *TemperatureSample `json:"temperature"`
}

// RawRecord mirrors the vendor API event shape for both the paged history
// endpoint and the live stream:
//
//	{"targetName": "projects/p/devices/abc", "data": {"temperature": {"value": 3.5, "updateTime": "2024-..."}}}
type RawRecord struct {
	TargetName string  `json:"targetName"`
	Data       RawData `json:"data"`
}

// IsTemperature reports whether the record carries a temperature payload.
// Touch and network-status events from the same stream are silently skipped
// upstream rather than treated as malformed.
func (r RawRecord) IsTemperature() bool {
	return r.Data.Temperature != nil
}

// Normalize converts a raw vendor record into a canonical Reading. It is a
// pure function with no side effects.
func Normalize(raw RawRecord, source Source) (Reading, error) {
	if raw.TargetName == "" {
		return Reading{}, fmt.Errorf("%w: missing targetName", ErrMalformedRecord)
	}
	sensorID := path.Base(raw.TargetName)

	temp := raw.Data.Temperature
	if temp == nil {
		return Reading{}, fmt.Errorf("%w: no temperature payload for %s", ErrMalformedRecord, sensorID)
	}
	if temp.Value == nil {
		return Reading{}, fmt.Errorf("%w: missing temperature value for %s", ErrMalformedRecord, sensorID)
	}
	if temp.UpdateTime == "" {
		return Reading{}, fmt.Errorf("%w: missing updateTime for %s", ErrMalformedRecord, sensorID)
	}

	ts, err := ParseEventTime(temp.UpdateTime)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: bad updateTime %q for %s: %v", ErrMalformedRecord, temp.UpdateTime, sensorID, err)
	}

	return Reading{
		SensorID:    sensorID,
		Timestamp:   ts,
		Temperature: *temp.Value,
		Source:      source,
	}, nil
}

// ParseEventTime accepts the timestamp formats both sources emit: RFC3339 with
// or without fractional seconds (the vendor API) and plain unix seconds
// (local-file recordings). The result is always UTC.
func ParseEventTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ux, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(ux)
		nsec := int64((ux - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format %q", s)
}
