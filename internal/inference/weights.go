package inference

import "strings"

// weightTable resolves the weight of an aggregated path from sensor_weights.
// The longest key that is a string prefix of the path wins; a path matching
// no key has weight 0. Lookups are cached for the lifetime of the table, which
// is one run.
type weightTable struct {
	prefixes []string
	weights  map[string]float64
	cache    map[string]float64
}

func newWeightTable(cfg *Config) *weightTable {
	return &weightTable{
		prefixes: cfg.weightPrefixes(),
		weights:  cfg.SensorWeights,
		cache:    make(map[string]float64),
	}
}

func (t *weightTable) lookup(path string) float64 {
	if w, ok := t.cache[path]; ok {
		return w
	}
	w := 0.0
	for _, p := range t.prefixes {
		if strings.HasPrefix(path, p) {
			w = t.weights[p]
			break
		}
	}
	t.cache[path] = w
	return w
}
