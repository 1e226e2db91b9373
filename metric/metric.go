// Package metric provides the distance metrics used by the vector index and
// the conversion from raw distances to normalized similarities.
//
// Callers outside this package reason in similarity terms only: higher is
// more similar, regardless of the underlying metric. The conversion applied
// per metric is:
//
//   - Cosine:    similarity = 1 - distance
//   - SquaredL2: similarity = 1 / (1 + distance)
package metric

import (
	"errors"
	"fmt"
	"math"
)

// ErrVectorSizeMismatch is returned when two vectors have different lengths.
var ErrVectorSizeMismatch = errors.New("vector sizes do not match")

// Type represents the distance metric of an index namespace.
type Type int

const (
	// TypeCosine is cosine distance (1 - cosine similarity).
	TypeCosine Type = iota

	// TypeSquaredL2 is the squared Euclidean distance.
	TypeSquaredL2
)

// String returns a string representation of the metric type.
func (t Type) String() string {
	switch t {
	case TypeCosine:
		return "cosine"
	case TypeSquaredL2:
		return "squared_l2"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseType parses the string form produced by String.
func ParseType(s string) (Type, error) {
	switch s {
	case "cosine":
		return TypeCosine, nil
	case "squared_l2":
		return TypeSquaredL2, nil
	default:
		return 0, fmt.Errorf("unknown metric type: %q", s)
	}
}

// DistanceFunc calculates the distance between two vectors.
// Smaller distances mean closer vectors for every supported metric.
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Distance returns the distance function for the given metric type.
func Distance(t Type) (DistanceFunc, error) {
	switch t {
	case TypeCosine:
		return CosineDistance, nil
	case TypeSquaredL2:
		return SquaredL2, nil
	default:
		return nil, fmt.Errorf("unsupported metric type: %v", t)
	}
}

// Similarity converts a raw distance into a normalized similarity for the
// given metric type. Results are monotonically comparable within one metric:
// a smaller distance always yields a larger similarity.
func Similarity(t Type, distance float32) float32 {
	switch t {
	case TypeCosine:
		return 1 - distance
	case TypeSquaredL2:
		return 1 / (1 + distance)
	default:
		return 0
	}
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(dot(v, v))))
}

// CosineDistance calculates the cosine distance between two float32 slices.
// The result is 1 - cosine similarity, so identical directions yield 0.
func CosineDistance(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrVectorSizeMismatch
	}

	magnitudeA := Magnitude(v1)
	magnitudeB := Magnitude(v2)

	// A zero vector has no direction; treat it as maximally distant.
	if magnitudeA == 0 || magnitudeB == 0 {
		return 1, nil
	}

	return 1 - dot(v1, v2)/(magnitudeA*magnitudeB), nil
}

// SquaredL2 calculates the squared L2 distance between two float32 slices.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrVectorSizeMismatch
	}

	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}

	return sum, nil
}

func dot(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}

	return sum
}
