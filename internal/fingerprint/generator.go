package fingerprint

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// Request describes the window to summarise. It is usually derived from an
// inference configuration.
type Request struct {
	ConfigName     string
	DataPointTypes []string
	Window         time.Duration
	// Categories to read; raw_data when empty.
	Categories []string
}

// Generator builds fingerprints from the points in a Store.
type Generator struct {
	store    datastore.Store
	clock    timeutil.Clock
	embedRaw bool
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRawData controls whether fingerprints carry a raw_data_ref of their
// input window. It is on by default.
func WithRawData(enabled bool) GeneratorOption {
	return func(g *Generator) { g.embedRaw = enabled }
}

// NewGenerator returns a Generator reading from store.
func NewGenerator(store datastore.Store, clock timeutil.Clock, opts ...GeneratorOption) *Generator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	g := &Generator{store: store, clock: clock, embedRaw: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate summarises the window [endedAt - req.Window, endedAt]. A window
// without points yields a fingerprint with empty statistics. A failed store
// query is logged and treated as an empty window.
func (g *Generator) Generate(ctx context.Context, fingerprintType string, req Request, endedAt time.Time) (*Fingerprint, error) {
	if len(req.DataPointTypes) == 0 {
		return nil, fmt.Errorf("%w: config %q has no data point types", ErrInvalidRequest, req.ConfigName)
	}
	if req.Window <= 0 {
		return nil, fmt.Errorf("%w: config %q has window %s", ErrInvalidRequest, req.ConfigName, req.Window)
	}

	endedAt = endedAt.UTC()
	startedAt := endedAt.Add(-req.Window)
	categories := req.Categories
	if len(categories) == 0 {
		categories = []string{datastore.CategoryRaw}
	}

	points, err := g.store.Get(ctx, datastore.Query{
		Types:      req.DataPointTypes,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		Categories: categories,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		monitoring.Errorf("fingerprint %s: query failed, treating window as empty: %v", fingerprintType, err)
		points = nil
	}
	if len(points) == 0 {
		monitoring.Warnf("fingerprint %s: no points for %v in [%s, %s]", fingerprintType, req.DataPointTypes,
			timeutil.FormatISO(startedAt), timeutil.FormatISO(endedAt))
	}

	now := g.clock.Now()
	fp := &Fingerprint{
		Type:         fingerprintType,
		CreatedAt:    now,
		UpdatedAt:    now,
		InferenceRef: req.ConfigName,
		GenerationParams: GenerationParams{
			StartedAt:             startedAt,
			EndedAt:               endedAt,
			WindowDurationSeconds: req.Window.Seconds(),
			DataPointTypes:        append([]string(nil), req.DataPointTypes...),
		},
		Statistics: Aggregate(points),
	}
	if g.embedRaw {
		ref, err := EncodeRawData(points)
		if err != nil {
			monitoring.Warnf("fingerprint %s: %v", fingerprintType, err)
		}
		fp.RawDataRef = ref
	}

	monitoring.Infof("generated fingerprint %s from %d points: %d paths", fingerprintType, len(points), len(fp.Statistics))
	return fp, nil
}
