package util

import (
	"math"
)

// CalcMean returns the arithmetic mean of numbers; NaN for an empty slice.
func CalcMean(numbers []float64) float64 {
	sum := 0.0
	for _, num := range numbers {
		sum += num
	}
	return sum / float64(len(numbers))
}

// CalcStandardDeviation returns the population standard deviation of numbers.
func CalcStandardDeviation(numbers []float64) float64 {
	mean := CalcMean(numbers)
	variance := 0.0
	for _, num := range numbers {
		diff := num - mean
		variance += diff * diff
	}
	variance /= float64(len(numbers))
	return math.Sqrt(variance)
}

// CalcCoefficientOfVariation returns the relative standard deviation of
// numbers, expressed in percent of the mean.
func CalcCoefficientOfVariation(numbers []float64) float64 {
	mean := CalcMean(numbers)
	stdDev := CalcStandardDeviation(numbers)
	return (stdDev / mean) * 100
}
