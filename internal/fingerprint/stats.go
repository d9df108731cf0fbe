package fingerprint

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/whereabouts/internal/datastore"
)

// Median returns the middle value of values, averaging the two middle values
// when the count is even. values is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Summarize computes the median, sample standard deviation (N-1 denominator)
// and count of values. A single sample has a standard deviation of 0.
func Summarize(values []float64) Statistic {
	s := Statistic{Median: Median(values), NumSamples: len(values)}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}

// Aggregate groups points by aggregated path and summarises the numeric
// values of each group. Paths without numeric values are omitted, so every
// entry has at least one sample.
func Aggregate(points []datastore.DataPoint) map[string]Statistic {
	groups := make(map[string][]float64)
	for _, p := range points {
		v, ok := p.Numeric()
		if !ok {
			continue
		}
		path := p.AggregatedPath()
		groups[path] = append(groups[path], v)
	}

	out := make(map[string]Statistic, len(groups))
	for path, values := range groups {
		out[path] = Summarize(values)
	}
	return out
}
