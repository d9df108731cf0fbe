package datastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// DataPoint is one timestamped observation. Key and Device are optional and
// an empty string means absent.
type DataPoint struct {
	CreatedAt time.Time
	Type      string
	Key       string
	Value     any
	Device    string
}

// wirePoint is the on-disk shape of a DataPoint.
type wirePoint struct {
	CreatedAt string `json:"created_at"`
	Type      string `json:"type"`
	Key       string `json:"key,omitempty"`
	Value     any    `json:"value"`
	Device    string `json:"device,omitempty"`
}

// MarshalJSON renders the point with an RFC 3339 UTC created_at.
func (p DataPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePoint{
		CreatedAt: timeutil.FormatISO(p.CreatedAt),
		Type:      p.Type,
		Key:       p.Key,
		Value:     p.Value,
		Device:    p.Device,
	})
}

// UnmarshalJSON decodes a stored line. created_at, type and value must be
// present; a null value counts as present.
func (p *DataPoint) UnmarshalJSON(data []byte) error {
	return p.decode(data, true)
}

func (p *DataPoint) decode(data []byte, requireCreatedAt bool) error {
	var raw struct {
		CreatedAt *string         `json:"created_at"`
		Type      *string         `json:"type"`
		Key       json.RawMessage `json:"key"`
		Value     json.RawMessage `json:"value"`
		Device    *string         `json:"device"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return &LineError{Reason: monitoring.SkipBadJSON, Err: err}
	}

	var missing []string
	if raw.CreatedAt == nil && requireCreatedAt {
		missing = append(missing, "created_at")
	}
	if raw.Type == nil {
		missing = append(missing, "type")
	}
	if raw.Value == nil {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return &LineError{Reason: monitoring.SkipMissingField, Err: fmt.Errorf("missing %s", strings.Join(missing, ", "))}
	}

	var ts time.Time
	if raw.CreatedAt != nil {
		var err error
		if ts, err = timeutil.ParseISO(*raw.CreatedAt); err != nil {
			return &LineError{Reason: monitoring.SkipBadTimestamp, Err: err}
		}
	}

	var value any
	if err := json.Unmarshal(raw.Value, &value); err != nil {
		return &LineError{Reason: monitoring.SkipBadJSON, Err: err}
	}

	*p = DataPoint{
		CreatedAt: ts,
		Type:      *raw.Type,
		Key:       decodeKey(raw.Key),
		Value:     value,
	}
	if raw.Device != nil {
		p.Device = *raw.Device
	}
	return nil
}

// decodeKey accepts a string, null or any other scalar, which is used in its
// JSON text form. An empty string is the same as no key, so "key":"" and
// "key":null both aggregate under the bare type.
func decodeKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// LineError describes a stored line that could not be decoded. Reason is one
// of the monitoring.Skip* labels.
type LineError struct {
	Reason string
	Err    error
}

func (e *LineError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *LineError) Unwrap() error { return e.Err }

// ParseLine decodes one stored NDJSON line.
func ParseLine(line []byte) (DataPoint, error) {
	var p DataPoint
	err := json.Unmarshal(line, &p)
	return p, err
}

// ParseIncoming decodes a point handed over by a collector. Unlike ParseLine
// it accepts a missing created_at, leaving CreatedAt zero for Set to stamp.
func ParseIncoming(line []byte) (DataPoint, error) {
	var p DataPoint
	if !json.Valid(line) {
		return p, &LineError{Reason: monitoring.SkipBadJSON, Err: errors.New("invalid JSON")}
	}
	err := p.decode(line, false)
	return p, err
}

// skipLine logs and counts a malformed line.
func skipLine(source string, line []byte, err error) {
	reason := monitoring.SkipBadJSON
	var le *LineError
	if errors.As(err, &le) {
		reason = le.Reason
	}
	monitoring.PointsSkipped.WithLabelValues(reason).Inc()
	monitoring.Warnf("skipping malformed line in %s (%v): %.200s", source, err, line)
}

// AggregatedPath is the statistics key for the point: its type, or type.key
// when a key is set. An empty key never yields a trailing dot.
func (p DataPoint) AggregatedPath() string {
	if p.Key == "" {
		return p.Type
	}
	return p.Type + "." + p.Key
}

// MatchesType reports whether the point's type equals t or lies beneath it in
// the dot-separated namespace, so "a.b" matches "a.b" and "a.b.c" but not
// "a.bc".
func (p DataPoint) MatchesType(t string) bool {
	return TypeMatches(p.Type, t)
}

// TypeMatches reports whether typ equals prefix or is nested beneath it.
func TypeMatches(typ, prefix string) bool {
	if typ == prefix {
		return true
	}
	return len(typ) > len(prefix) && typ[len(prefix)] == '.' && strings.HasPrefix(typ, prefix)
}

// Numeric returns the value as a float64 when it is a number. Booleans and
// numeric strings are not numbers.
func (p DataPoint) Numeric() (float64, bool) {
	switch v := p.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	}
	return 0, false
}
