package dsp

import "math"

// Goertzel computes the energy of a single frequency bin over a block
// of real samples. It is the recursive DFT variant the CW decoder and
// the auto-tone search use.
type Goertzel struct {
	coeff float64
}

// NewGoertzel builds a detector for toneHz at sampleRate.
func NewGoertzel(toneHz, sampleRate float64) *Goertzel {
	omega := 2 * math.Pi * toneHz / sampleRate
	return &Goertzel{coeff: 2 * math.Cos(omega)}
}

// Energy returns the bin energy of the block.
func (g *Goertzel) Energy(samples []float32) float64 {
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = float64(x) + g.coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - g.coeff*s1*s2
}

// TotalEnergy returns the sum of squares of the block, the reference
// the tone detector ratios against.
func TotalEnergy(samples []float32) float64 {
	var total float64
	for _, x := range samples {
		total += float64(x) * float64(x)
	}
	return total
}
