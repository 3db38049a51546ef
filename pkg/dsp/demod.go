package dsp

import (
	"math"

	"github.com/sgrams/trxd/pkg/rig"
)

// Demodulator selects the demodulation algorithm for a channel.
type Demodulator int

const (
	// DemodUsb takes the real part of baseband IQ.
	DemodUsb Demodulator = iota
	// DemodLsb is identical to USB; LSB mixing is handled upstream by
	// negating the channel IF.
	DemodLsb
	// DemodAm is an envelope detector: magnitude, DC-removed.
	DemodAm
	// DemodFm is a quadrature discriminator (arg of s[n]*conj(s[n-1])).
	DemodFm
	// DemodWfm is the same discriminator; the wide pre-filter and the
	// stereo decoder are handled upstream.
	DemodWfm
	// DemodCw is an envelope detector after the narrow upstream BPF.
	DemodCw
	// DemodPassthrough serves DIG: same as USB.
	DemodPassthrough
)

// DemodulatorForMode maps an operating mode to its demodulator. PKT is
// FM-encoded AFSK, so it demodulates as FM before the APRS decoder.
func DemodulatorForMode(mode rig.Mode) Demodulator {
	switch mode {
	case rig.ModeUSB:
		return DemodUsb
	case rig.ModeLSB:
		return DemodLsb
	case rig.ModeAM:
		return DemodAm
	case rig.ModeFM:
		return DemodFm
	case rig.ModeWFM:
		return DemodWfm
	case rig.ModeCW, rig.ModeCWR:
		return DemodCw
	case rig.ModeDIG:
		return DemodPassthrough
	case rig.ModePKT:
		return DemodFm
	default:
		return DemodUsb
	}
}

// Demodulate converts one block of baseband IQ to real audio, same
// length as the input.
func (d Demodulator) Demodulate(samples []complex64) []float32 {
	switch d {
	case DemodUsb, DemodLsb, DemodPassthrough:
		return demodReal(samples)
	case DemodAm:
		return demodAm(samples)
	case DemodFm, DemodWfm:
		return DemodFmBlock(samples, nil)
	case DemodCw:
		return demodCw(samples)
	default:
		return demodReal(samples)
	}
}

func demodReal(samples []complex64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = real(s)
	}
	return out
}

// demodAm computes the envelope, removes the running mean, and
// peak-normalises only when the peak exceeds 1.0 so noise is not
// amplified.
func demodAm(samples []complex64) []float32 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]float32, len(samples))
	var sum float32
	for i, s := range samples {
		m := float32(math.Hypot(float64(real(s)), float64(imag(s))))
		out[i] = m
		sum += m
	}
	mean := sum / float32(len(out))
	var maxAbs float32
	for i := range out {
		out[i] -= mean
		if a := float32(math.Abs(float64(out[i]))); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs > 1.0 {
		inv := 1.0 / maxAbs
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

// DemodFmBlock runs the quadrature discriminator. prev carries the
// last sample across block boundaries; with prev nil the first output
// sample is 0 by convention. Output is scaled by 1/π into [-1, 1].
func DemodFmBlock(samples []complex64, prev *complex64) []float32 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]float32, len(samples))
	invPi := float32(1.0 / math.Pi)

	start := 0
	last := complex64(0)
	if prev != nil && *prev != 0 {
		last = *prev
	} else {
		out[0] = 0
		last = samples[0]
		start = 1
	}
	for i := start; i < len(samples); i++ {
		p := samples[i] * conj(last)
		angle := float32(math.Atan2(float64(imag(p)), float64(real(p))))
		out[i] = angle * invPi
		last = samples[i]
	}
	if prev != nil {
		*prev = samples[len(samples)-1]
	}
	return out
}

func demodCw(samples []complex64) []float32 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]float32, len(samples))
	var maxAbs float32
	for i, s := range samples {
		m := float32(math.Hypot(float64(real(s)), float64(imag(s))))
		out[i] = m
		if m > maxAbs {
			maxAbs = m
		}
	}
	if maxAbs > 1.0 {
		inv := 1.0 / maxAbs
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

func conj(c complex64) complex64 {
	return complex(real(c), -imag(c))
}
