// Package datastore keeps the append-only time series of DataPoints,
// partitioned into named categories, behind a pluggable Store interface.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// Well-known categories.
const (
	CategoryRaw       = "raw_data"
	CategoryInference = "inference_data"
)

// Fields accepted by UniqueValues.
const (
	FieldType   = "type"
	FieldKey    = "key"
	FieldDevice = "device"
)

var (
	// ErrInvalidPoint is returned by Set for a point without a type.
	ErrInvalidPoint = errors.New("invalid data point")
	// ErrUnknownCategory is returned by Set when none of the requested
	// categories is known to the store.
	ErrUnknownCategory = errors.New("unknown category")
)

// Store is an append-only, category-partitioned log of DataPoints.
type Store interface {
	// Set appends p to each category, or to raw_data when none are given.
	// A zero CreatedAt is replaced with the store clock's current time.
	Set(ctx context.Context, p DataPoint, categories ...string) error

	// Get returns the points matching q. Malformed stored points are logged
	// and skipped. Results are not sorted.
	Get(ctx context.Context, q Query) ([]DataPoint, error)

	// UniqueValues returns the sorted distinct non-empty values of field
	// (type, key or device) across categories, or across all categories when
	// none are given.
	UniqueValues(ctx context.Context, field string, categories ...string) ([]string, error)

	// LastTimestampForDevice returns the created_at of the most recently
	// appended point from device in category. ok is false when there is none.
	LastTimestampForDevice(ctx context.Context, device, category string) (ts time.Time, ok bool, err error)

	// Tail returns up to n of the most recently appended well-formed points
	// in category, oldest first.
	Tail(ctx context.Context, category string, n int) ([]DataPoint, error)

	// Categories lists the categories this store knows about.
	Categories() []string

	Close() error
}

// Query selects points by type, time window and key.
type Query struct {
	// Types are matched hierarchically; see TypeMatches. No types selects
	// nothing.
	Types []string
	// StartedAt and EndedAt bound created_at inclusively.
	StartedAt time.Time
	EndedAt   time.Time
	// Keys, when non-empty, restricts results to points with one of these keys.
	Keys []string
	// Categories to scan; all known categories when empty.
	Categories []string
	// Limit caps the number of results when positive.
	Limit int
}

// Matches reports whether p satisfies the type, window and key filters.
func (q Query) Matches(p DataPoint) bool {
	if p.CreatedAt.Before(q.StartedAt) || p.CreatedAt.After(q.EndedAt) {
		return false
	}
	if len(q.Keys) > 0 && !slices.Contains(q.Keys, p.Key) {
		return false
	}
	for _, t := range q.Types {
		if p.MatchesType(t) {
			return true
		}
	}
	return false
}

// Options configures either engine.
type Options struct {
	// Categories known to the store. Defaults to raw_data and inference_data.
	Categories []string
	// TailChunkBytes is the block size of the reverse reader. Defaults to 4096.
	TailChunkBytes int
	// Clock stamps points written without created_at. Defaults to RealClock.
	Clock timeutil.Clock
	// SkipMigrate leaves the SQLite schema untouched on open.
	SkipMigrate bool
}

func (o Options) withDefaults() Options {
	if len(o.Categories) == 0 {
		o.Categories = []string{CategoryRaw, CategoryInference}
	}
	if o.TailChunkBytes <= 0 {
		o.TailChunkBytes = 4096
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// prepare stamps and checks a point before it is written.
func prepare(p DataPoint, clock timeutil.Clock) (DataPoint, error) {
	if p.Type == "" {
		return p, fmt.Errorf("%w: type is required", ErrInvalidPoint)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = clock.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// selectCategories returns the requested categories that are known, logging
// and counting the rest. With nothing requested it returns def.
func selectCategories(requested, known, def []string) []string {
	if len(requested) == 0 {
		return def
	}
	out := make([]string, 0, len(requested))
	for _, c := range requested {
		if !slices.Contains(known, c) {
			monitoring.PointsSkipped.WithLabelValues(monitoring.SkipUnknownTarget).Inc()
			monitoring.Warnf("unknown category %q, skipping", c)
			continue
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// writeCategories is selectCategories for Set, which defaults to raw_data and
// refuses to drop a point because every requested category was unknown.
func writeCategories(requested, known []string) ([]string, error) {
	cats := selectCategories(requested, known, []string{CategoryRaw})
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, strings.Join(requested, ", "))
	}
	return cats, nil
}

func checkField(field string) error {
	switch field {
	case FieldType, FieldKey, FieldDevice:
		return nil
	}
	return fmt.Errorf("unsupported field %q: want %s, %s or %s", field, FieldType, FieldKey, FieldDevice)
}

func fieldValue(p DataPoint, field string) string {
	switch field {
	case FieldType:
		return p.Type
	case FieldKey:
		return p.Key
	default:
		return p.Device
	}
}

// SortByCreatedAt orders points oldest first, keeping the relative order of
// points with equal timestamps.
func SortByCreatedAt(points []DataPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CreatedAt.Before(points[j].CreatedAt)
	})
}
