// Package numeric centralizes the few places the core needs exact decimal
// rounding instead of raw float64 arithmetic, so that "round(sample * 10000)"
// behaves identically regardless of platform float rounding quirks.
package numeric

import "github.com/shopspring/decimal"

// bpsScale is the number of basis points in a whole (10000 bps == 1.0).
const bpsScale = 10000

// SampleToBps converts a 0..1 sample rate to basis points using
// round-half-up decimal arithmetic, matching the "round(sample × 10000)"
// rule basis-point conversions use throughout this module.
func SampleToBps(sample float64) int {
	d := decimal.NewFromFloat(sample).Mul(decimal.NewFromInt(bpsScale))
	return int(d.Round(0).IntPart())
}

// ClampBps clamps v into [0, 10000].
func ClampBps(v int) int {
	if v < 0 {
		return 0
	}
	if v > bpsScale {
		return bpsScale
	}
	return v
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ClampInt clamps v into [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
