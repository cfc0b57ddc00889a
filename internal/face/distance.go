package face

import (
	"fmt"
	"math"
)

// Metric is the distance function the embedding model was trained for.
// It is a property of the model, not a tuning knob.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric validates a metric name, defaulting empty to cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricEuclidean:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown distance metric: %q", s)
	}
}

// Distance computes the distance between two equal-length vectors under
// the metric. Cosine distance is 1 - cosine similarity, so both metrics
// share the "smaller is closer" orientation.
func Distance(m Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}

	switch m {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case MetricCosine:
		var dot, normA, normB float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			normA += float64(a[i]) * float64(a[i])
			normB += float64(b[i]) * float64(b[i])
		}
		if normA == 0 || normB == 0 {
			return 0, fmt.Errorf("zero-norm vector")
		}
		return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
	default:
		return 0, fmt.Errorf("unknown distance metric: %q", m)
	}
}

// Similarity maps a distance back to a descending match score in [0, 1]
// for cosine; euclidean uses 1/(1+d) so ordering is preserved.
func Similarity(m Metric, distance float64) float64 {
	switch m {
	case MetricEuclidean:
		return 1 / (1 + distance)
	default:
		s := 1 - distance
		if s < 0 {
			return 0
		}
		return s
	}
}

// Matcher bundles the metric with its match threshold.
type Matcher struct {
	Metric    Metric
	Threshold float64
}

// IsMatch reports whether the distance is within the threshold. The
// boundary is inclusive.
func (m Matcher) IsMatch(distance float64) bool {
	return distance <= m.Threshold
}
