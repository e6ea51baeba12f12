package calculator

import (
	"errors"
	"math"
)

// Percentile returns the value at index floor(len*q) of an ascending slice.
// The index is clamped to the last element.
func Percentile(sorted []float64, q float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, errors.New("no data for percentile calculation")
	}
	if q < 0 || q > 1 {
		return 0, errors.New("quantile must be within [0, 1]")
	}
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], nil
}

// Mean computes the arithmetic mean of values.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New("no data for mean calculation")
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// TailMean returns the mean of the lowest fraction of an ascending slice.
// At least one element is always included.
func TailMean(sorted []float64, fraction float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, errors.New("no data for tail calculation")
	}
	k := int(math.Floor(float64(len(sorted)) * fraction))
	if k < 1 {
		k = 1
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return Mean(sorted[:k])
}

// FractionAtLeast returns the share of values greater than or equal to threshold.
func FractionAtLeast(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if v >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

// Finite reports whether every value is a real number.
func Finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
