package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/whereabouts/internal/datastore"
	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/monitoring"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// FingerprintSource generates the current fingerprint for a run.
type FingerprintSource interface {
	Generate(ctx context.Context, fingerprintType string, req fingerprint.Request, endedAt time.Time) (*fingerprint.Fingerprint, error)
}

// CalibratedSource lists the calibrated fingerprints of a namespace, ordered
// by type.
type CalibratedSource interface {
	InNamespace(namespace string) ([]*fingerprint.Fingerprint, error)
}

// ConfigSource looks up configurations by name.
type ConfigSource interface {
	Get(name string) (*Config, error)
}

// Scorer runs inference. It keeps no reference to the generator or catalog;
// both are passed to Run.
type Scorer struct {
	store   datastore.Store
	configs ConfigSource
	clock   timeutil.Clock
}

// NewScorer returns a Scorer that reads configurations from configs and
// persists results to store.
func NewScorer(store datastore.Store, configs ConfigSource, clock timeutil.Clock) *Scorer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scorer{store: store, configs: configs, clock: clock}
}

// Run scores the window ending at now for configuration name.
//
// A run that cannot compare anything returns an error wrapping
// ErrNoPrediction: an unknown configuration, an empty current window or no
// calibrated fingerprints in the namespace. A run whose best candidate falls
// below the threshold is not an error; its Result has a nil prediction value.
func (s *Scorer) Run(ctx context.Context, name string, now time.Time, gen FingerprintSource, cal CalibratedSource) (*Result, error) {
	res, err := s.run(ctx, name, now, gen, cal)
	switch {
	case err == nil && res.Accepted():
		monitoring.InferenceRuns.WithLabelValues(name, monitoring.OutcomePredicted).Inc()
	case err == nil:
		monitoring.InferenceRuns.WithLabelValues(name, monitoring.OutcomeRejected).Inc()
	case errors.Is(err, ErrNoPrediction):
		monitoring.InferenceRuns.WithLabelValues(name, monitoring.OutcomeNoPrediction).Inc()
		monitoring.Warnf("inference %s: %v", name, err)
	default:
		monitoring.InferenceRuns.WithLabelValues(name, monitoring.OutcomeFailed).Inc()
		monitoring.Errorf("inference %s: %v", name, err)
	}
	if err != nil {
		return nil, err
	}
	monitoring.InferenceConfidence.WithLabelValues(name).Set(res.OverallPrediction.Confidence)
	return res, nil
}

func (s *Scorer) run(ctx context.Context, name string, now time.Time, gen FingerprintSource, cal CalibratedSource) (*Result, error) {
	cfg, err := s.configs.Get(name)
	if err != nil {
		return nil, err
	}

	current, err := gen.Generate(ctx, cfg.InferenceType, cfg.FingerprintRequest(), now)
	if err != nil {
		return nil, fmt.Errorf("generate current fingerprint: %w", err)
	}
	if current == nil || len(current.Statistics) == 0 {
		return nil, ErrNoCurrentData
	}

	candidates, err := cal.InNamespace(cfg.InferenceType)
	if err != nil {
		return nil, fmt.Errorf("load calibrated fingerprints: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoCalibrated, cfg.InferenceType)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Type < candidates[j].Type })

	weights := newWeightTable(cfg)
	comparisons := make([]Comparison, 0, len(candidates))
	for _, c := range candidates {
		comparisons = append(comparisons, compare(cfg, weights, current, c))
	}

	res := &Result{
		ID:                uuid.NewString(),
		InferenceName:     cfg.Name,
		InferenceType:     cfg.InferenceType,
		CreatedAt:         s.clock.Now(),
		OverallPrediction: decide(cfg, comparisons),
		Comparisons:       comparisons,
		Fingerprint:       current,
	}
	if v := res.OverallPrediction.Value; v != nil {
		monitoring.Infof("inference %s predicted %s with confidence %.3f", name, *v, res.OverallPrediction.Confidence)
	} else {
		monitoring.Infof("inference %s: best confidence %.3f below threshold %.3f", name,
			res.OverallPrediction.Confidence, cfg.ConfidenceThreshold)
	}

	if err := s.persist(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Compare scores current against one calibrated fingerprint.
func Compare(cfg *Config, current, calibrated *fingerprint.Fingerprint) Comparison {
	return compare(cfg, newWeightTable(cfg), current, calibrated)
}

func compare(cfg *Config, weights *weightTable, current, calibrated *fingerprint.Fingerprint) Comparison {
	target, ok := calibrated.Location(cfg.InferenceType)
	if !ok {
		target = calibrated.Type
	}
	cmp := Comparison{
		TargetType:        calibrated.Type,
		TargetID:          target,
		PathContributions: make(map[string]PathContribution),
	}

	exponent := cfg.Exponent()
	penalty := cfg.MissingPenalty()
	for _, path := range calibrated.Paths() {
		w := weights.lookup(path)
		if w == 0 {
			continue
		}
		want := calibrated.Statistics[path]
		got, present := current.Statistics[path]
		var pc PathContribution
		if present {
			metric := math.Abs(got.Median-want.Median) / math.Max(want.StdDev, cfg.MinStdDevFor(path))
			pc = PathContribution{
				Weight:               w,
				UnweightedMetric:     metric,
				WeightedContribution: math.Pow(metric, exponent) * w,
			}
		} else {
			pc = PathContribution{
				Weight:               w,
				UnweightedMetric:     penalty,
				WeightedContribution: penalty * w,
				Missing:              true,
			}
		}
		cmp.PathContributions[path] = pc
		cmp.TotalScore += pc.WeightedContribution
	}
	cmp.ConfidenceScore = Confidence(cmp.TotalScore, cfg.ScalingFactor())
	monitoring.Debugf("compared %s: total %.4f, confidence %.4f", calibrated.Type, cmp.TotalScore, cmp.ConfidenceScore)
	return cmp
}

// Confidence maps a total score to [0, 1]: 1 - total*scaling, clamped.
func Confidence(total, scaling float64) float64 {
	c := 1 - total*scaling
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

// decide picks the best comparison and applies the threshold. Candidates rank
// by confidence, then by lower total score, since confidence clamps at 0.
// comparisons must be ordered by target type; the first of otherwise equal
// candidates wins.
func decide(cfg *Config, comparisons []Comparison) Prediction {
	order := make([]int, len(comparisons))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := comparisons[order[a]], comparisons[order[b]]
		if ca.ConfidenceScore != cb.ConfidenceScore {
			return ca.ConfidenceScore > cb.ConfidenceScore
		}
		return ca.TotalScore < cb.TotalScore
	})

	best := comparisons[order[0]]
	p := Prediction{Confidence: best.ConfidenceScore}
	if best.ConfidenceScore >= cfg.ConfidenceThreshold {
		v := best.TargetID
		p.Value = &v
	}
	if len(order) > 1 {
		second := comparisons[order[1]]
		id, conf := second.TargetID, second.ConfidenceScore
		p.RunnerUp = &id
		p.RunnerUpConfidence = &conf
		p.Ambiguous = !(best.TotalScore*cfg.SignificantDifference < second.TotalScore)
	}
	return p
}

// persist writes the prediction and confidence to raw_data and
// inference_data, and the full result to inference_data. All three are keyed
// by the configuration name.
func (s *Scorer) persist(ctx context.Context, res *Result) error {
	var prediction any
	if res.OverallPrediction.Value != nil {
		prediction = *res.OverallPrediction.Value
	}
	prefix := "inference." + res.InferenceType + "."
	writes := []struct {
		point      datastore.DataPoint
		categories []string
	}{
		{datastore.DataPoint{Type: prefix + "prediction", Value: prediction}, []string{datastore.CategoryRaw, datastore.CategoryInference}},
		{datastore.DataPoint{Type: prefix + "confidence", Value: res.OverallPrediction.Confidence}, []string{datastore.CategoryRaw, datastore.CategoryInference}},
		{datastore.DataPoint{Type: prefix + "result", Value: res}, []string{datastore.CategoryInference}},
	}
	for _, w := range writes {
		w.point.CreatedAt = res.CreatedAt
		w.point.Key = res.InferenceName
		if err := s.store.Set(ctx, w.point, w.categories...); err != nil {
			return fmt.Errorf("persist %s: %w", w.point.Type, err)
		}
	}
	return nil
}
