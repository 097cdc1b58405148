// SPDX-License-Identifier: MIT
package rtlsdr

import "math"

// r820tGains are the R820T tuner gain steps in tenths of dB, ascending.
var r820tGains = []int{
	0, 9, 14, 27, 37, 77, 87, 125, 144, 157,
	166, 197, 207, 229, 254, 280, 297, 328, 338, 364,
	372, 386, 402, 421, 434, 439, 445, 480, 496,
}

// snapGain returns the supported step closest to tenths. On a tie the lower
// step wins.
func snapGain(tenths int) int {
	best := r820tGains[0]
	bestDist := abs(tenths - best)
	for _, g := range r820tGains[1:] {
		if d := abs(tenths - g); d < bestDist {
			best, bestDist = g, d
		}
	}
	return best
}

// SnapGain quantizes a gain in dB to the nearest supported step.
func SnapGain(db float64) float64 {
	return float64(snapGain(int(math.Round(db*10)))) / 10
}

// Gains returns the supported gain steps in dB.
func Gains() []float64 {
	out := make([]float64, len(r820tGains))
	for i, g := range r820tGains {
		out[i] = float64(g) / 10
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
