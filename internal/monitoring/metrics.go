package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons reported on PointsSkipped.
const (
	SkipBadJSON       = "bad_json"
	SkipMissingField  = "missing_field"
	SkipBadTimestamp  = "bad_timestamp"
	SkipUnknownTarget = "unknown_category"
)

// Inference outcomes reported on InferenceRuns.
const (
	OutcomePredicted    = "predicted"
	OutcomeRejected     = "below_threshold"
	OutcomeNoPrediction = "no_prediction"
	OutcomeFailed       = "failed"
)

// Registry is the collector registry served by Handler. It is separate from
// prometheus.DefaultRegisterer so tests can construct stores repeatedly.
var Registry = prometheus.NewRegistry()

var (
	PointsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whereabouts",
		Name:      "points_written_total",
		Help:      "Data points appended, by category.",
	}, []string{"category"})

	PointsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whereabouts",
		Name:      "points_skipped_total",
		Help:      "Stored lines dropped while reading, by reason.",
	}, []string{"reason"})

	InferenceRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whereabouts",
		Name:      "inference_runs_total",
		Help:      "Inference runs, by configuration and outcome.",
	}, []string{"config", "outcome"})

	InferenceConfidence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "whereabouts",
		Name:      "inference_confidence",
		Help:      "Best confidence score of the latest run, by configuration.",
	}, []string{"config"})
)

func init() {
	Registry.MustRegister(PointsWritten, PointsSkipped, InferenceRuns, InferenceConfidence)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
