package ft8

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthesize writes a 79-symbol 8-FSK transmission with Costas sync
// groups at offsets 0, 36 and 72.
func synthesize(baseHz, startSec float64) []float32 {
	slot := make([]float32, SlotSamples)

	tones := make([]uint8, numSymbols)
	for i := range tones {
		tones[i] = uint8((i * 3) % numTones)
	}
	for group := 0; group < 3; group++ {
		for sym := 0; sym < syncLength; sym++ {
			tones[group*syncOffsets+sym] = costasPattern[sym]
		}
	}

	phase := 0.0
	start := int(startSec * SampleRate)
	for symIdx, tone := range tones {
		freq := baseHz + float64(tone)*toneSpacingHz
		begin := start + symIdx*symbolSamples
		for i := 0; i < symbolSamples && begin+i < len(slot); i++ {
			slot[begin+i] = 0.3 * float32(math.Sin(phase))
			phase += 2 * math.Pi * freq / SampleRate
		}
	}
	return slot
}

func TestShortSlotReturnsNothing(t *testing.T) {
	assert.Empty(t, DecodeSlot(make([]float32, SlotSamples-1)))
}

func TestSilentSlotReturnsNothing(t *testing.T) {
	assert.Empty(t, DecodeSlot(make([]float32, SlotSamples)))
}

func TestDecodeSlotFindsSyncedSignal(t *testing.T) {
	slot := synthesize(1000.0, nominalStartSec)
	out := DecodeSlot(slot)
	require.NotEmpty(t, out)
	assert.InDelta(t, 1000.0, out[0].FreqHz, 2*toneSpacingHz)
	assert.InDelta(t, 0.0, out[0].DtSec, 0.2)
}

func TestDecodeSlotFindsOffsetSignal(t *testing.T) {
	slot := synthesize(1500.0, nominalStartSec+0.4)
	out := DecodeSlot(slot)
	require.NotEmpty(t, out)
	assert.InDelta(t, 1500.0, out[0].FreqHz, 2*toneSpacingHz)
	assert.InDelta(t, 0.4, out[0].DtSec, 0.2)
}

func TestDecodeSlotRejectsToneWithoutCostas(t *testing.T) {
	// A plain carrier has no Costas structure; the per-symbol ratio
	// stays near the all-tones average at neighbouring hypotheses.
	slot := make([]float32, SlotSamples)
	phase := 0.0
	for i := range slot {
		slot[i] = 0.3 * float32(math.Sin(phase))
		phase += 2 * math.Pi * 1000.0 / SampleRate
	}
	out := DecodeSlot(slot)
	// A steady carrier may still excite one bin, but never at the
	// Costas score of a true signal; nothing should clear the gate
	// at more than a couple of frequencies.
	assert.LessOrEqual(t, len(out), 2)
}

func TestDecoderAccumulatesSlot(t *testing.T) {
	slot := synthesize(800.0, nominalStartSec)
	d := NewDecoder()
	assert.Empty(t, d.ProcessSamples(slot[:SlotSamples/3]))
	assert.Empty(t, d.ProcessSamples(slot[SlotSamples/3:2*SlotSamples/3]))
	out := d.ProcessSamples(slot[2*SlotSamples/3:])
	require.NotEmpty(t, out)
}
