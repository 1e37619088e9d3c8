package geometry

import "math"

// ToPercent converts a physical quantity (height, length, angle) to a
// percentage of its maximum. It does not clamp beyond the rounding itself;
// limits are the caller's concern.
func ToPercent(value, max float64) int {
	if max == 0 {
		return 0
	}
	return int(math.Round(value / max * 100.0))
}

// Limits holds the configured min/max position clamps. The Conditional
// flags restrict a bound to moments when the sun is directly visible;
// otherwise the bound always applies.
type Limits struct {
	Min            int
	Max            int
	MinConditional bool
	MaxConditional bool
}

// Apply clamps value to [0, 100] and then to the configured bounds. A Min of
// 0 and a Max of 100 are treated as unset. A conditional bound only bites
// while sunValid is true.
func (l Limits) Apply(value int, sunValid bool) int {
	result := value
	if result < 0 {
		result = 0
	}
	if result > 100 {
		result = 100
	}

	if l.Max != 0 && l.Max != 100 {
		if !l.MaxConditional || sunValid {
			if result > l.Max {
				result = l.Max
			}
		}
	}
	if l.Min != 0 {
		if !l.MinConditional || sunValid {
			if result < l.Min {
				result = l.Min
			}
		}
	}
	return result
}

// Interpolate maps value through the piecewise-linear table defined by xs
// and ys. Outside the table the nearest endpoint is returned. Both slices
// must be the same length and xs ascending; a malformed table returns value
// unchanged.
func Interpolate(value float64, xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return value
	}
	if value <= xs[0] {
		return ys[0]
	}
	if value >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	for i := 1; i < len(xs); i++ {
		if value <= xs[i] {
			span := xs[i] - xs[i-1]
			if span == 0 {
				return ys[i]
			}
			frac := (value - xs[i-1]) / span
			return ys[i-1] + frac*(ys[i]-ys[i-1])
		}
	}
	return ys[len(ys)-1]
}
