package emath

import "math"

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055*math.Pow(f, 1.0/2.4) - 0.055
}

// ClampU8 rounds to the nearest integer and saturates into [0, 255].
func ClampU8(f float64) uint8 {
	f = math.Round(f)
	if f < 0 {
		return 0
	} else if f > 255 {
		return 255
	}
	return uint8(f)
}
