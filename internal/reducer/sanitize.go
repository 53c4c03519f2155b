package reducer

import "math"

// SanitizeQuantity maps any numeric input onto a positive integer quantity:
// floor of the absolute value, with NaN, infinities and anything below 1 becoming 1.
func SanitizeQuantity(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	n := math.Floor(math.Abs(v))
	if n < 1 {
		return 1
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// SanitizePrice coerces a price to a finite, non-negative value.
func SanitizePrice(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
