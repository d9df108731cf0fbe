// Package inference scores a freshly generated fingerprint against the
// calibrated catalog and persists the resulting prediction.
package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// Defaults applied when the optional fields are absent.
const (
	DefaultConfidenceScalingFactor = 0.01
	DefaultMinStdDev               = 0.01
	DefaultMissingPathPenalty      = 0.0
	DefaultDistanceExponent        = 1.0
)

// requiredFields must be present in a configuration document on save and
// update. name is checked separately against the catalog key.
var requiredFields = []string{
	"inference_type",
	"data_point_types",
	"included_paths",
	"sensor_weights",
	"window_duration_seconds",
	"confidence_threshold",
	"significant_difference",
}

// Config is a named inference policy. It controls both the window the current
// fingerprint is generated over and how it is scored.
//
// Optional fields are pointers so that an absent value can be told apart from
// zero; use the accessor methods to read them with defaults applied.
type Config struct {
	Name                  string             `json:"name"`
	InferenceType         string             `json:"inference_type"`
	DataPointTypes        []string           `json:"data_point_types"`
	IncludedPaths         []string           `json:"included_paths"`
	SensorWeights         map[string]float64 `json:"sensor_weights"`
	WindowDurationSeconds float64            `json:"window_duration_seconds"`
	ConfidenceThreshold   float64            `json:"confidence_threshold"`
	SignificantDifference float64            `json:"significant_difference"`

	MinStdDevRSSI           *float64 `json:"min_std_dev_rssi,omitempty"`
	MinStdDevPressure       *float64 `json:"min_std_dev_pressure,omitempty"`
	ConfidenceScalingFactor *float64 `json:"confidence_scaling_factor,omitempty"`
	MissingPathPenalty      *float64 `json:"missing_path_penalty,omitempty"`
	DistanceExponent        *float64 `json:"distance_exponent,omitempty"`
}

// ParseConfig decodes a configuration document and checks that every required
// field is present. Presence is checked on the raw document so that an
// explicit zero is accepted where a missing key is not.
func ParseConfig(data []byte) (*Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse inference configuration: %w", err)
	}
	var errs validationErrors
	if _, ok := raw["name"]; !ok {
		errs.add("name", "is required")
	}
	for _, f := range requiredFields {
		if v, ok := raw[f]; !ok || string(v) == "null" {
			errs.add(f, "is required")
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse inference configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the field values. It returns every problem found, joined.
func (c *Config) Validate() error {
	var errs validationErrors
	if strings.TrimSpace(c.Name) == "" {
		errs.add("name", "must not be empty")
	}
	switch {
	case c.InferenceType == "":
		errs.add("inference_type", "must not be empty")
	case strings.Contains(c.InferenceType, "."):
		errs.add("inference_type", "must be a single namespace segment, got %q", c.InferenceType)
	}
	if len(c.DataPointTypes) == 0 {
		errs.add("data_point_types", "must list at least one type")
	}
	for i, t := range c.DataPointTypes {
		if strings.TrimSpace(t) == "" {
			errs.add("data_point_types", "entry %d is empty", i)
		}
	}
	if c.SensorWeights == nil {
		errs.add("sensor_weights", "is required")
	}
	for prefix, w := range c.SensorWeights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			errs.add("sensor_weights", "weight for %q must be a finite non-negative number, got %v", prefix, w)
		}
	}
	if !(c.WindowDurationSeconds > 0) || math.IsInf(c.WindowDurationSeconds, 0) {
		errs.add("window_duration_seconds", "must be positive, got %v", c.WindowDurationSeconds)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 || math.IsNaN(c.ConfidenceThreshold) {
		errs.add("confidence_threshold", "must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.SignificantDifference < 0 || math.IsNaN(c.SignificantDifference) {
		errs.add("significant_difference", "must not be negative, got %v", c.SignificantDifference)
	}
	checkOptional(&errs, "min_std_dev_rssi", c.MinStdDevRSSI, false)
	checkOptional(&errs, "min_std_dev_pressure", c.MinStdDevPressure, false)
	checkOptional(&errs, "confidence_scaling_factor", c.ConfidenceScalingFactor, true)
	checkOptional(&errs, "missing_path_penalty", c.MissingPathPenalty, true)
	checkOptional(&errs, "distance_exponent", c.DistanceExponent, false)
	return errs.err()
}

func checkOptional(errs *validationErrors, field string, v *float64, allowZero bool) {
	if v == nil {
		return
	}
	switch {
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		errs.add(field, "must be finite")
	case *v < 0, *v == 0 && !allowZero:
		errs.add(field, "must be positive, got %v", *v)
	}
}

// Window returns the lookback duration.
func (c *Config) Window() time.Duration { return timeutil.Seconds(c.WindowDurationSeconds) }

// ScalingFactor returns confidence_scaling_factor or its default.
func (c *Config) ScalingFactor() float64 {
	if c.ConfidenceScalingFactor == nil {
		return DefaultConfidenceScalingFactor
	}
	return *c.ConfidenceScalingFactor
}

// MissingPenalty returns missing_path_penalty or its default.
func (c *Config) MissingPenalty() float64 {
	if c.MissingPathPenalty == nil {
		return DefaultMissingPathPenalty
	}
	return *c.MissingPathPenalty
}

// Exponent returns distance_exponent or its default.
func (c *Config) Exponent() float64 {
	if c.DistanceExponent == nil {
		return DefaultDistanceExponent
	}
	return *c.DistanceExponent
}

// MinStdDevFor returns the std-dev floor for an aggregated path: the RSSI
// floor for wifi and bluetooth RSSI paths, the pressure floor for pressure
// paths and DefaultMinStdDev otherwise.
func (c *Config) MinStdDevFor(path string) float64 {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, ".rssi"):
		if c.MinStdDevRSSI != nil {
			return *c.MinStdDevRSSI
		}
	case strings.Contains(lower, "pressure"):
		if c.MinStdDevPressure != nil {
			return *c.MinStdDevPressure
		}
	}
	return DefaultMinStdDev
}

// FingerprintRequest returns the generation request for this configuration.
func (c *Config) FingerprintRequest() fingerprint.Request {
	return fingerprint.Request{
		ConfigName:     c.Name,
		DataPointTypes: append([]string(nil), c.DataPointTypes...),
		Window:         c.Window(),
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.DataPointTypes = append([]string(nil), c.DataPointTypes...)
	out.IncludedPaths = append([]string(nil), c.IncludedPaths...)
	if c.SensorWeights != nil {
		out.SensorWeights = make(map[string]float64, len(c.SensorWeights))
		for k, v := range c.SensorWeights {
			out.SensorWeights[k] = v
		}
	}
	return &out
}

// weightPrefixes returns the sensor_weights keys, longest first.
func (c *Config) weightPrefixes() []string {
	keys := make([]string, 0, len(c.SensorWeights))
	for k := range c.SensorWeights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
