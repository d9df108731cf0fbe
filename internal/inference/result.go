package inference

import (
	"time"

	"github.com/banshee-data/whereabouts/internal/fingerprint"
	"github.com/banshee-data/whereabouts/internal/timeutil"
)

// PathContribution is the share one aggregated path added to a comparison's
// total score.
type PathContribution struct {
	Weight               float64 `json:"weight"`
	UnweightedMetric     float64 `json:"unweighted_metric"`
	WeightedContribution float64 `json:"weighted_contribution"`
	// Missing is set when the path was calibrated but absent from the current
	// window.
	Missing bool `json:"missing,omitempty"`
}

// Comparison scores the current fingerprint against one calibrated
// fingerprint. A lower TotalScore is a closer match.
type Comparison struct {
	TargetType        string                      `json:"target_type"`
	TargetID          string                      `json:"target_id"`
	TotalScore        float64                     `json:"total_score"`
	ConfidenceScore   float64                     `json:"confidence_score"`
	PathContributions map[string]PathContribution `json:"path_contributions"`
}

// Prediction is the outcome of a run. Value is nil when the best candidate
// did not reach the confidence threshold; Confidence still carries its score.
type Prediction struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`

	RunnerUp           *string  `json:"runner_up,omitempty"`
	RunnerUpConfidence *float64 `json:"runner_up_confidence,omitempty"`
	// Ambiguous reports that the runner-up's total score is within
	// significant_difference times the best one. It does not affect Value.
	Ambiguous bool `json:"ambiguous"`
}

// Result is the output of one inference run.
type Result struct {
	ID                string                   `json:"id"`
	InferenceName     string                   `json:"inference_name"`
	InferenceType     string                   `json:"inference_type"`
	CreatedAt         time.Time                `json:"created_at"`
	OverallPrediction Prediction               `json:"overall_prediction"`
	Comparisons       []Comparison             `json:"comparisons"`
	Fingerprint       *fingerprint.Fingerprint `json:"fingerprint"`
}

// Accepted reports whether the run produced a prediction.
func (r *Result) Accepted() bool { return r != nil && r.OverallPrediction.Value != nil }

// Location returns the predicted location, or "" when none was accepted.
func (r *Result) Location() string {
	if !r.Accepted() {
		return ""
	}
	return *r.OverallPrediction.Value
}

// String summarises the result for log lines.
func (r *Result) String() string {
	if r == nil {
		return "<nil>"
	}
	loc := "none"
	if r.Accepted() {
		loc = *r.OverallPrediction.Value
	}
	return r.InferenceName + " at " + timeutil.FormatISO(r.CreatedAt) + ": " + loc
}
