package wfm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	compositeRate = 256_000
	audioRate     = 48_000
)

// synthesizeStereoIQ FM-modulates a composite carrying toneHz in both
// the sum and the difference (left-only program material) with a 19 kHz
// pilot, returning channel-rate IQ.
func synthesizeStereoIQ(seconds float64, toneHz float64) []complex64 {
	n := int(seconds * compositeRate)
	out := make([]complex64, n)
	phase := 0.0
	for i := 0; i < n; i++ {
		t := float64(i) / compositeRate
		left := math.Cos(2 * math.Pi * toneHz * t)
		sum := 0.2 * left
		diff := 0.2 * left
		pilot := 0.1 * math.Cos(2*math.Pi*19_000*t)
		subcarrier := math.Cos(2 * math.Pi * 38_000 * t)
		composite := sum + pilot + diff*subcarrier

		phase += 2 * math.Pi * 75_000 * composite / compositeRate
		s, c := math.Sincos(phase)
		out[i] = complex(float32(c), float32(s))
	}
	return out
}

func TestStereoSeparation(t *testing.T) {
	dec := NewStereoDecoder(compositeRate, audioRate, 2, true, 50)
	iq := synthesizeStereoIQ(1.0, 1000)

	var audio []float32
	const block = 4096
	for off := 0; off+block <= len(iq); off += block {
		audio = append(audio, dec.ProcessIQ(iq[off:off+block])...)
	}
	require.NotEmpty(t, audio)
	assert.True(t, dec.StereoDetected(), "pilot should raise stereo detect")

	// Skip 0.2 s of warm-up, then compare channel RMS.
	skip := int(0.2*audioRate) * 2
	require.Greater(t, len(audio), skip+2*4800)
	var sumL, sumR float64
	var count int
	for i := skip; i+1 < len(audio); i += 2 {
		sumL += float64(audio[i]) * float64(audio[i])
		sumR += float64(audio[i+1]) * float64(audio[i+1])
		count++
	}
	rmsL := math.Sqrt(sumL / float64(count))
	rmsR := math.Sqrt(sumR / float64(count))
	require.Greater(t, rmsL, 1e-4, "left channel carries the tone")

	separationDb := 20 * math.Log10(rmsL/(rmsR+1e-12))
	assert.Greater(t, separationDb, 15.0, "left/right separation")
}

func TestMonoDecoderCollapsesChannels(t *testing.T) {
	dec := NewStereoDecoder(compositeRate, audioRate, 2, false, 50)
	iq := synthesizeStereoIQ(0.5, 1000)
	audio := dec.ProcessIQ(iq)
	require.NotEmpty(t, audio)

	// With the matrix disabled both channels carry the same signal.
	for i := 0; i+1 < len(audio) && i < 2000; i += 2 {
		assert.Equal(t, audio[i], audio[i+1])
	}
}

func TestStereoDetectHysteresis(t *testing.T) {
	dec := NewStereoDecoder(compositeRate, audioRate, 2, true, 50)

	// Pilot present: detect rises.
	dec.ProcessIQ(synthesizeStereoIQ(0.5, 1000))
	require.True(t, dec.StereoDetected())

	// Unmodulated carrier: no pilot, detect eventually drops.
	n := compositeRate * 2
	silent := make([]complex64, n)
	for i := range silent {
		silent[i] = complex(1, 0)
	}
	dec.ProcessIQ(silent)
	assert.False(t, dec.StereoDetected())
}

func TestResetStateClearsDetect(t *testing.T) {
	dec := NewStereoDecoder(compositeRate, audioRate, 2, true, 50)
	dec.ProcessIQ(synthesizeStereoIQ(0.5, 1000))
	require.True(t, dec.StereoDetected())
	dec.ResetState()
	assert.False(t, dec.StereoDetected())
}

func TestResampleBankUnityGain(t *testing.T) {
	bank := buildResampleBank(float64(audioRate) / compositeRate)
	for phase := 0; phase < resampPhases; phase++ {
		var sum float32
		for tap := 0; tap < resampTaps; tap++ {
			sum += bank[phase][tap]
		}
		assert.InDelta(t, 1.0, sum, 1e-4, "phase %d", phase)
	}
}
