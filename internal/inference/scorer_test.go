package inference

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const pressure = "android.sensor.pressure"

type stubGenerator struct {
	fp      *fingerprint.Fingerprint
	err     error
	typ     string
	req     fingerprint.Request
	endedAt time.Time
}

func (g *stubGenerator) Generate(_ context.Context, typ string, req fingerprint.Request, endedAt time.Time) (*fingerprint.Fingerprint, error) {
	g.typ, g.req, g.endedAt = typ, req, endedAt
	return g.fp, g.err
}

type stubCatalog struct {
	fps []*fingerprint.Fingerprint
	err error
}

func (c stubCatalog) InNamespace(ns string) ([]*fingerprint.Fingerprint, error) {
	var out []*fingerprint.Fingerprint
	for _, fp := range c.fps {
		if strings.HasPrefix(fp.Type, ns+".") {
			out = append(out, fp)
		}
	}
	return out, c.err
}

type configMap map[string]*Config

func (m configMap) Get(name string) (*Config, error) {
	if cfg, ok := m[name]; ok {
		return cfg, nil
	}
	return nil, ErrConfigNotFound
}

func pressureConfig() *Config {
	return &Config{
		Name:                  "home",
		InferenceType:         "location",
		DataPointTypes:        []string{pressure},
		SensorWeights:         map[string]float64{pressure: 1.0},
		WindowDurationSeconds: 60,
		ConfidenceThreshold:   0.5,
		SignificantDifference: 1.5,
	}
}

func current(stats map[string]fingerprint.Statistic) *fingerprint.Fingerprint {
	return &fingerprint.Fingerprint{Type: "location", InferenceRef: "home", Statistics: stats}
}

func reference(typ string, stats map[string]fingerprint.Statistic) *fingerprint.Fingerprint {
	return &fingerprint.Fingerprint{Type: typ, InferenceRef: "home", Statistics: stats}
}

func pressureAt(median, std float64) map[string]fingerprint.Statistic {
	return map[string]fingerprint.Statistic{pressure: {Median: median, StdDev: std, NumSamples: 10}}
}

func newScorer(t *testing.T, cfg *Config) (*Scorer, datastore.Store) {
	t.Helper()
	clock := testutil.NewClock()
	store, err := datastore.NewFileStore(t.TempDir(), datastore.Options{Clock: clock})
	require.NoError(t, err)
	return NewScorer(store, configMap{cfg.Name: cfg}, clock), store
}

func TestConfidence_Clamp(t *testing.T) {
	tests := []struct {
		total float64
		want  float64
	}{
		{0, 1.0},
		{50, 0.5},
		{100000, 0.0},
		{-10, 1.0},
	}
	for _, tt := range tests {
		testutil.AssertNear(t, "confidence", Confidence(tt.total, 0.01), tt.want, 1e-12)
	}
}

func TestCompare_ZeroDistance(t *testing.T) {
	cfg := pressureConfig()
	cfg.SensorWeights[pressure] = 7.5
	for _, std := range []float64{0, 0.5, 100} {
		cmp := Compare(cfg, current(pressureAt(1012, 3)), reference("location.kitchen", pressureAt(1012, std)))
		assert.Equal(t, 0.0, cmp.PathContributions[pressure].WeightedContribution)
		assert.Equal(t, 0.0, cmp.TotalScore)
		assert.Equal(t, 1.0, cmp.ConfidenceScore)
	}
}

func TestCompare_EndToEndScenario(t *testing.T) {
	cfg := pressureConfig()
	cmp := Compare(cfg, current(pressureAt(1013, 0.2)), reference("location.kitchen", pressureAt(1012, 0.5)))

	pc := cmp.PathContributions[pressure]
	assert.Equal(t, "location.kitchen", cmp.TargetType)
	assert.Equal(t, "kitchen", cmp.TargetID)
	testutil.AssertNear(t, "metric", pc.UnweightedMetric, 2.0, 1e-9)
	testutil.AssertNear(t, "contribution", pc.WeightedContribution, 2.0, 1e-9)
	testutil.AssertNear(t, "total", cmp.TotalScore, 2.0, 1e-9)
	testutil.AssertNear(t, "confidence", cmp.ConfidenceScore, 0.98, 1e-9)
	assert.Equal(t, 1.0, pc.Weight)
	assert.False(t, pc.Missing)
}

func TestCompare_SquaredDistance(t *testing.T) {
	cfg := pressureConfig()
	cfg.DistanceExponent = f64(2)
	cmp := Compare(cfg, current(pressureAt(1013, 0.2)), reference("location.kitchen", pressureAt(1012, 0.5)))

	testutil.AssertNear(t, "metric", cmp.PathContributions[pressure].UnweightedMetric, 2.0, 1e-9)
	testutil.AssertNear(t, "total", cmp.TotalScore, 4.0, 1e-9)
	testutil.AssertNear(t, "confidence", cmp.ConfidenceScore, 0.96, 1e-9)
}

func TestCompare_StdDevFloor(t *testing.T) {
	const ap = "android.sensor.wifi_scan.rssi.aa:bb"
	cfg := pressureConfig()
	cfg.SensorWeights = map[string]float64{"android.sensor.wifi_scan.rssi": 0.5}
	cfg.MinStdDevRSSI = f64(2)

	cmp := Compare(cfg,
		current(map[string]fingerprint.Statistic{ap: {Median: -74, NumSamples: 3}}),
		reference("location.hall", map[string]fingerprint.Statistic{ap: {Median: -70, StdDev: 0, NumSamples: 1}}))

	testutil.AssertNear(t, "metric", cmp.PathContributions[ap].UnweightedMetric, 2.0, 1e-9)
	testutil.AssertNear(t, "contribution", cmp.PathContributions[ap].WeightedContribution, 1.0, 1e-9)
}

func TestCompare_UnweightedPathsSkipped(t *testing.T) {
	cfg := pressureConfig()
	cal := pressureAt(1012, 0.5)
	cal["android.sensor.light"] = fingerprint.Statistic{Median: 300, StdDev: 1, NumSamples: 5}
	cur := pressureAt(1012, 0.5)
	cur["android.sensor.light"] = fingerprint.Statistic{Median: 10, NumSamples: 5}

	cmp := Compare(cfg, current(cur), reference("location.kitchen", cal))
	assert.NotContains(t, cmp.PathContributions, "android.sensor.light")
	assert.Equal(t, 0.0, cmp.TotalScore)
}

func TestCompare_MissingPath(t *testing.T) {
	const light = "android.sensor.light"
	cfg := pressureConfig()
	cfg.SensorWeights[light] = 0.5
	cal := pressureAt(1012, 0.5)
	cal[light] = fingerprint.Statistic{Median: 300, StdDev: 1, NumSamples: 5}
	cur := current(pressureAt(1012, 0.5))

	cmp := Compare(cfg, cur, reference("location.kitchen", cal))
	assert.True(t, cmp.PathContributions[light].Missing)
	assert.Equal(t, 0.0, cmp.TotalScore)

	cfg.MissingPathPenalty = f64(5)
	cmp = Compare(cfg, cur, reference("location.kitchen", cal))
	assert.Equal(t, PathContribution{Weight: 0.5, UnweightedMetric: 5, WeightedContribution: 2.5, Missing: true},
		cmp.PathContributions[light])
	testutil.AssertNear(t, "total", cmp.TotalScore, 2.5, 1e-9)
}

func TestScorer_Run(t *testing.T) {
	ctx := context.Background()
	cfg := pressureConfig()
	s, store := newScorer(t, cfg)
	gen := &stubGenerator{fp: current(pressureAt(1013, 0.2))}
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{
		reference("location.bedroom", pressureAt(1010, 0.5)),
		reference("location.kitchen", pressureAt(1012, 0.5)),
		reference("activity.sleeping", pressureAt(1013, 0.5)),
	}}
	predicted := promtest.ToFloat64(monitoring.InferenceRuns.WithLabelValues("home", monitoring.OutcomePredicted))

	res, err := s.Run(ctx, "home", testutil.Epoch, gen, cal)
	require.NoError(t, err)

	assert.Equal(t, "location", gen.typ)
	assert.Equal(t, cfg.FingerprintRequest(), gen.req)
	assert.Equal(t, testutil.Epoch, gen.endedAt)

	require.True(t, res.Accepted())
	assert.Equal(t, "kitchen", res.Location())
	testutil.AssertNear(t, "confidence", res.OverallPrediction.Confidence, 0.98, 1e-9)
	assert.Equal(t, "bedroom", *res.OverallPrediction.RunnerUp)
	testutil.AssertNear(t, "runner-up", *res.OverallPrediction.RunnerUpConfidence, 0.94, 1e-9)
	assert.False(t, res.OverallPrediction.Ambiguous)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "home", res.InferenceName)
	assert.Equal(t, testutil.Epoch, res.CreatedAt)
	assert.Same(t, gen.fp, res.Fingerprint)

	require.Len(t, res.Comparisons, 2)
	assert.Equal(t, "location.bedroom", res.Comparisons[0].TargetType)
	assert.Equal(t, "location.kitchen", res.Comparisons[1].TargetType)

	assert.Equal(t, predicted+1, promtest.ToFloat64(monitoring.InferenceRuns.WithLabelValues("home", monitoring.OutcomePredicted)))
	testutil.AssertNear(t, "gauge", promtest.ToFloat64(monitoring.InferenceConfidence.WithLabelValues("home")), 0.98, 1e-9)

	window := datastore.Query{
		Types:     []string{"inference.location"},
		StartedAt: testutil.Epoch.Add(-time.Second),
		EndedAt:   testutil.Epoch.Add(time.Second),
	}
	byCategory := func(category string) map[string]datastore.DataPoint {
		q := window
		q.Categories = []string{category}
		points, err := store.Get(ctx, q)
		require.NoError(t, err)
		out := make(map[string]datastore.DataPoint)
		for _, p := range points {
			assert.Equal(t, "home", p.Key)
			out[p.Type] = p
		}
		return out
	}

	raw := byCategory(datastore.CategoryRaw)
	assert.Len(t, raw, 2)
	assert.Equal(t, "kitchen", raw["inference.location.prediction"].Value)
	assert.InDelta(t, 0.98, raw["inference.location.confidence"].Value, 1e-9)

	inf := byCategory(datastore.CategoryInference)
	require.Len(t, inf, 3)
	full, ok := inf["inference.location.result"].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, res.ID, full["id"])
	assert.Equal(t, "kitchen", full["overall_prediction"].(map[string]any)["value"])
}

func TestScorer_Run_ThresholdRejection(t *testing.T) {
	ctx := context.Background()
	cfg := pressureConfig()
	cfg.ConfidenceThreshold = 0.9
	s, store := newScorer(t, cfg)
	// |1022 - 1012| / 0.5 = 20, confidence 1 - 20*0.01 = 0.8.
	gen := &stubGenerator{fp: current(pressureAt(1022, 0.2))}
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{reference("location.kitchen", pressureAt(1012, 0.5))}}

	res, err := s.Run(ctx, "home", testutil.Epoch, gen, cal)
	require.NoError(t, err)
	assert.Nil(t, res.OverallPrediction.Value)
	assert.False(t, res.Accepted())
	assert.Equal(t, "", res.Location())
	testutil.AssertNear(t, "confidence", res.OverallPrediction.Confidence, 0.8, 1e-9)
	assert.Nil(t, res.OverallPrediction.RunnerUp)

	points, err := store.Get(ctx, datastore.Query{
		Types:      []string{"inference.location.prediction"},
		StartedAt:  testutil.Epoch,
		EndedAt:    testutil.Epoch,
		Categories: []string{datastore.CategoryRaw},
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Nil(t, points[0].Value)
}

func TestScorer_Run_TieGoesToFirstType(t *testing.T) {
	cfg := pressureConfig()
	s, _ := newScorer(t, cfg)
	gen := &stubGenerator{fp: current(pressureAt(1013, 0.2))}
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{
		reference("location.study", pressureAt(1012, 0.5)),
		reference("location.attic", pressureAt(1012, 0.5)),
	}}

	res, err := s.Run(context.Background(), "home", testutil.Epoch, gen, cal)
	require.NoError(t, err)
	assert.Equal(t, "attic", res.Location())
	assert.Equal(t, "study", *res.OverallPrediction.RunnerUp)
	assert.True(t, res.OverallPrediction.Ambiguous)
}

func TestScorer_Run_ClampedConfidenceRanksByTotal(t *testing.T) {
	cfg := pressureConfig()
	cfg.ConfidenceThreshold = 0
	s, _ := newScorer(t, cfg)
	gen := &stubGenerator{fp: current(pressureAt(1000, 0.2))}
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{
		reference("location.attic", pressureAt(1500, 1)),   // total 500
		reference("location.kitchen", pressureAt(1200, 1)), // total 200
	}}

	res, err := s.Run(context.Background(), "home", testutil.Epoch, gen, cal)
	require.NoError(t, err)
	require.Len(t, res.Comparisons, 2)
	for _, c := range res.Comparisons {
		assert.Equal(t, 0.0, c.ConfidenceScore, c.TargetID)
	}
	assert.Equal(t, "kitchen", res.Location())
	require.NotNil(t, res.OverallPrediction.RunnerUp)
	assert.Equal(t, "attic", *res.OverallPrediction.RunnerUp)
	assert.False(t, res.OverallPrediction.Ambiguous)
}

func TestScorer_Run_Ambiguity(t *testing.T) {
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{
		reference("location.kitchen", pressureAt(1012, 0.5)), // total 2
		reference("location.bedroom", pressureAt(1010, 0.5)), // total 6
	}}
	tests := []struct {
		significant float64
		ambiguous   bool
	}{
		{1.5, false},
		{2.99, false},
		{3, true},
		{4, true},
	}
	for _, tt := range tests {
		cfg := pressureConfig()
		cfg.SignificantDifference = tt.significant
		s, _ := newScorer(t, cfg)

		res, err := s.Run(context.Background(), "home", testutil.Epoch, &stubGenerator{fp: current(pressureAt(1013, 0.2))}, cal)
		require.NoError(t, err)
		assert.Equal(t, "kitchen", res.Location(), "significant_difference %v", tt.significant)
		assert.Equal(t, tt.ambiguous, res.OverallPrediction.Ambiguous, "significant_difference %v", tt.significant)
	}
}

func TestScorer_Run_NoPrediction(t *testing.T) {
	ctx := context.Background()
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{reference("location.kitchen", pressureAt(1012, 0.5))}}
	full := &stubGenerator{fp: current(pressureAt(1013, 0.2))}

	tests := []struct {
		name   string
		config string
		gen    *stubGenerator
		cal    stubCatalog
		want   error
	}{
		{"unknown config", "nope", full, cal, ErrConfigNotFound},
		{"empty window", "home", &stubGenerator{fp: current(map[string]fingerprint.Statistic{})}, cal, ErrNoCurrentData},
		{"no calibrated", "home", full, stubCatalog{fps: []*fingerprint.Fingerprint{reference("activity.idle", pressureAt(1, 1))}}, ErrNoCalibrated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newScorer(t, pressureConfig())
			before := promtest.ToFloat64(monitoring.InferenceRuns.WithLabelValues(tt.config, monitoring.OutcomeNoPrediction))

			res, err := s.Run(ctx, tt.config, testutil.Epoch, tt.gen, tt.cal)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrNoPrediction)
			assert.Equal(t, before+1, promtest.ToFloat64(monitoring.InferenceRuns.WithLabelValues(tt.config, monitoring.OutcomeNoPrediction)))

			points, err := store.Tail(ctx, datastore.CategoryInference, 10)
			require.NoError(t, err)
			assert.Empty(t, points)
		})
	}
}

func TestScorer_Run_Failures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	cal := stubCatalog{fps: []*fingerprint.Fingerprint{reference("location.kitchen", pressureAt(1012, 0.5))}}

	s, _ := newScorer(t, pressureConfig())
	_, err := s.Run(ctx, "home", testutil.Epoch, &stubGenerator{err: boom}, cal)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoPrediction)

	_, err = s.Run(ctx, "home", testutil.Epoch, &stubGenerator{fp: current(pressureAt(1013, 0.2))}, stubCatalog{fps: cal.fps, err: boom})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoPrediction)
}
