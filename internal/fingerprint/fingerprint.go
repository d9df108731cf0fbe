// Package fingerprint summarises windows of sensor readings into per-path
// statistics and keeps the catalog of calibrated reference fingerprints.
package fingerprint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/whereabouts/internal/catalog"
)

var (
	// ErrNotFound is returned when a calibrated fingerprint does not exist.
	ErrNotFound = fmt.Errorf("calibrated fingerprint %w", catalog.ErrNotFound)
	// ErrTypeMismatch is returned by Update when the replacement carries a
	// different type from the one being updated.
	ErrTypeMismatch = errors.New("fingerprint type mismatch")
	// ErrInvalidRequest is returned by Generate for a request without data
	// point types or with a non-positive window.
	ErrInvalidRequest = errors.New("invalid fingerprint request")
)

// Statistic summarises the numeric samples of one aggregated path.
type Statistic struct {
	Median     float64 `json:"median_value"`
	StdDev     float64 `json:"std_dev_value"`
	NumSamples int     `json:"num_samples"`
}

// GenerationParams records the window a fingerprint was computed over.
type GenerationParams struct {
	StartedAt             time.Time `json:"started_at"`
	EndedAt               time.Time `json:"ended_at"`
	WindowDurationSeconds float64   `json:"window_duration_seconds"`
	DataPointTypes        []string  `json:"data_point_types"`
}

// Fingerprint is a statistical summary of one or more point streams over one
// window. Calibrated fingerprints are typed "{inference_type}.{location}".
type Fingerprint struct {
	Type             string               `json:"type"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	InferenceRef     string               `json:"inference_ref"`
	GenerationParams GenerationParams     `json:"generation_params"`
	RawDataRef       string               `json:"raw_data_ref,omitempty"`
	Statistics       map[string]Statistic `json:"statistics"`
}

// Paths returns the aggregated paths in lexical order.
func (f *Fingerprint) Paths() []string {
	paths := make([]string, 0, len(f.Statistics))
	for p := range f.Statistics {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Location returns the part of the type after namespace and a dot, e.g.
// "kitchen" for "location.kitchen" in namespace "location". ok is false when
// the type is not in the namespace.
func (f *Fingerprint) Location(namespace string) (string, bool) {
	prefix := namespace + "."
	if !strings.HasPrefix(f.Type, prefix) || len(f.Type) == len(prefix) {
		return "", false
	}
	return f.Type[len(prefix):], true
}
