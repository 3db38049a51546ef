package dsp

import "math"

// SoftAgc is an envelope-following automatic gain control with
// separate attack and release time constants. Gain is bounded so
// silence is never amplified into noise.
type SoftAgc struct {
	attack  float32
	release float32
	target  float32
	maxGain float32
	env     float32
	gain    float32
}

// NewSoftAgc builds an AGC for sampleRate with attack/release in
// milliseconds, a target envelope level, and a gain ceiling in dB.
func NewSoftAgc(sampleRate, attackMs, releaseMs, target, maxGainDb float64) *SoftAgc {
	sr := math.Max(sampleRate, 1.0)
	coeff := func(ms float64) float32 {
		ms = math.Max(ms, 0.01)
		return float32(1.0 - math.Exp(-1.0/(sr*ms/1000.0)))
	}
	return &SoftAgc{
		attack:  coeff(attackMs),
		release: coeff(releaseMs),
		target:  float32(target),
		maxGain: float32(math.Pow(10, maxGainDb/20)),
		gain:    1.0,
	}
}

func (a *SoftAgc) track(mag float32) float32 {
	if mag > a.env {
		a.env += a.attack * (mag - a.env)
	} else {
		a.env += a.release * (mag - a.env)
	}
	want := a.maxGain
	if a.env > 1e-9 {
		want = a.target / a.env
	}
	if want > a.maxGain {
		want = a.maxGain
	}
	if want < 1.0/a.maxGain {
		want = 1.0 / a.maxGain
	}
	// Smooth gain moves on the release coefficient to avoid pumping.
	a.gain += a.release * (want - a.gain)
	return a.gain
}

// Process applies the AGC to one real sample.
func (a *SoftAgc) Process(x float32) float32 {
	g := a.track(float32(math.Abs(float64(x))))
	y := x * g
	if y > 1 {
		y = 1
	} else if y < -1 {
		y = -1
	}
	return y
}

// ProcessComplex applies the AGC to one IQ sample.
func (a *SoftAgc) ProcessComplex(s complex64) complex64 {
	mag := float32(math.Hypot(float64(real(s)), float64(imag(s))))
	g := a.track(mag)
	return complex(real(s)*g, imag(s)*g)
}

// Reset clears the envelope and gain state.
func (a *SoftAgc) Reset() {
	a.env = 0
	a.gain = 1
}
