package score

import "math"

const (
	// RoundingHalfUp is the only rounding mode: ties go up.
	RoundingHalfUp = "half_up"

	MaxPrecision = 6
)

// roundHalfUp rounds v to precision decimal places with ties going up.
// The scaled value is first snapped to 1e-6 so that binary noise such as
// 1.005*100 = 100.49999999999999 still counts as a tie.
func roundHalfUp(v float64, precision int) float64 {
	p := math.Pow10(precision)
	scaled := math.Round(v*p*1e6) / 1e6
	return math.Floor(scaled+0.5) / p
}
