// Package ratio provides guarded floating-point helpers for rate and
// score bookkeeping.
package ratio

// DivideOrZero performs float64 division, returning zero when the
// denominator is zero. This is the common pattern for failure-rate
// calculations where zero requests means a zero rate.
func DivideOrZero(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}

	return numerator / denominator
}

// Clamp01 clamps v to the closed interval [0.0, 1.0].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
