package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/rig"
)

func complexTone(freqNorm float64, length int) []complex64 {
	out := make([]complex64, length)
	for n := 0; n < length; n++ {
		out[n] = complex64(cmplx.Rect(1.0, 2*math.Pi*freqNorm*float64(n)))
	}
	return out
}

func TestUsbTakesRealPart(t *testing.T) {
	input := []complex64{
		complex(1, 2), complex(3, 4), complex(-1, 0), complex(0, -1),
	}
	expected := []float32{1, 3, -1, 0}

	assert.Equal(t, expected, DemodUsb.Demodulate(input))
	assert.Equal(t, expected, DemodPassthrough.Demodulate(input))
	assert.Equal(t, expected, DemodLsb.Demodulate(input))
}

func TestAmDcRemoved(t *testing.T) {
	input := make([]complex64, 8)
	for i := range input {
		input[i] = complex(1, 0)
	}
	out := DemodAm.Demodulate(input)
	require.Len(t, out, 8)
	for i, v := range out {
		assert.InDelta(t, 0.0, v, 1e-6, "sample %d", i)
	}
}

func TestAmVaryingEnvelope(t *testing.T) {
	input := []complex64{complex(0, 0), complex(1, 0), complex(0, 0), complex(1, 0)}
	expected := []float32{-0.5, 0.5, -0.5, 0.5}
	out := DemodAm.Demodulate(input)
	require.Len(t, out, 4)
	for i := range expected {
		assert.InDelta(t, expected[i], out[i], 1e-6, "sample %d", i)
	}
}

func TestFmToneFrequency(t *testing.T) {
	// A tone at 0.25 cycles/sample: arg = π/2, scaled by 1/π → 0.5.
	input := complexTone(0.25, 16)
	out := DemodFm.Demodulate(input)
	require.Len(t, out, 16)
	assert.InDelta(t, 0.0, out[0], 1e-6, "first FM sample is zero by convention")
	for i := 1; i < len(out); i++ {
		assert.InDelta(t, 0.5, out[i], 0.01, "sample %d", i)
	}
}

func TestFmSilenceIsZero(t *testing.T) {
	input := make([]complex64, 8)
	for i := range input {
		input[i] = complex(1, 0)
	}
	out := DemodFm.Demodulate(input)
	for i, v := range out {
		assert.InDelta(t, 0.0, v, 1e-6, "sample %d", i)
	}
}

func TestFmBlockCarriesPrevSample(t *testing.T) {
	tone := complexTone(0.25, 32)
	var prev complex64
	first := DemodFmBlock(tone[:16], &prev)
	second := DemodFmBlock(tone[16:], &prev)
	require.Len(t, second, 16)
	// With the carried sample there is no discontinuity at the seam.
	assert.InDelta(t, 0.5, second[0], 0.01)
	assert.InDelta(t, 0.0, first[0], 1e-6)
}

func TestCwEnvelopeNormalised(t *testing.T) {
	input := []complex64{complex(3, 4), complex(0, 0), complex(1, 0)}
	out := DemodCw.Demodulate(input)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0], 1e-6)
	assert.InDelta(t, 0.0, out[1], 1e-6)
	assert.InDelta(t, 0.2, out[2], 1e-6)
}

func TestDemodulatorForMode(t *testing.T) {
	assert.Equal(t, DemodUsb, DemodulatorForMode(rig.ModeUSB))
	assert.Equal(t, DemodLsb, DemodulatorForMode(rig.ModeLSB))
	assert.Equal(t, DemodAm, DemodulatorForMode(rig.ModeAM))
	assert.Equal(t, DemodFm, DemodulatorForMode(rig.ModeFM))
	assert.Equal(t, DemodWfm, DemodulatorForMode(rig.ModeWFM))
	assert.Equal(t, DemodCw, DemodulatorForMode(rig.ModeCW))
	assert.Equal(t, DemodCw, DemodulatorForMode(rig.ModeCWR))
	assert.Equal(t, DemodPassthrough, DemodulatorForMode(rig.ModeDIG))
	// PKT is FM-encoded AFSK.
	assert.Equal(t, DemodFm, DemodulatorForMode(rig.ModePKT))
}

func TestEmptyInput(t *testing.T) {
	demods := []Demodulator{DemodUsb, DemodLsb, DemodAm, DemodFm, DemodWfm, DemodCw, DemodPassthrough}
	for _, d := range demods {
		assert.Empty(t, d.Demodulate(nil))
	}
}

func TestWindowedSincUnityDcGain(t *testing.T) {
	coeffs := WindowedSincCoeffs(0.1, 64)
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestBlockFirPairMatchesSampleFilter(t *testing.T) {
	const taps = 31
	const cutoff = 0.1
	sample := NewFirFilter(cutoff, taps)
	block := NewBlockFirPair(cutoff, taps, 256)

	input := make([]complex64, 256)
	for i := range input {
		input[i] = complex(float32(math.Sin(0.07*float64(i)))+0.5*float32(math.Sin(1.9*float64(i))), 0)
	}
	got := block.FilterBlock(input)
	require.Len(t, got, len(input))
	for i := range input {
		want := sample.Process(real(input[i]))
		assert.InDelta(t, float64(want), float64(real(got[i])), 1e-3, "sample %d", i)
	}
}

func TestBlockFirPairLowPassAttenuates(t *testing.T) {
	// Pass a low tone and a high tone through; the high tone should be
	// strongly attenuated.
	const n = 4096
	block := NewBlockFirPair(0.05, 64, n)
	low := make([]complex64, n)
	high := make([]complex64, n)
	for i := range low {
		low[i] = complex(float32(math.Sin(2*math.Pi*0.01*float64(i))), 0)
		high[i] = complex(float32(math.Sin(2*math.Pi*0.4*float64(i))), 0)
	}
	outLow := block.FilterBlock(low)
	block2 := NewBlockFirPair(0.05, 64, n)
	outHigh := block2.FilterBlock(high)

	rms := func(s []complex64) float64 {
		var acc float64
		for _, v := range s[512:] {
			acc += float64(real(v)) * float64(real(v))
		}
		return math.Sqrt(acc / float64(len(s)-512))
	}
	assert.Greater(t, rms(outLow), 10*rms(outHigh))
}

func TestGoertzelDetectsTone(t *testing.T) {
	const sr = 8000.0
	const tone = 700.0
	samples := make([]float32, 400)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * tone * float64(i) / sr))
	}
	g := NewGoertzel(tone, sr)
	off := NewGoertzel(1500, sr)
	assert.Greater(t, g.Energy(samples), 100*off.Energy(samples))
	assert.Greater(t, g.Energy(samples)/TotalEnergy(samples), 0.05)
}
