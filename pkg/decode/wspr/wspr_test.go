package wspr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortSlotReturnsNothing(t *testing.T) {
	assert.Empty(t, DecodeSlot(make([]float32, SlotSamples-1)))
}

func TestSilentSlotReturnsNothing(t *testing.T) {
	assert.Empty(t, DecodeSlot(make([]float32, SlotSamples)))
}

func TestSlotRms(t *testing.T) {
	assert.Equal(t, 0.0, slotRms(make([]float32, 16)))
	ones := make([]float32, 16)
	for i := range ones {
		ones[i] = 1
	}
	assert.InDelta(t, 1.0, slotRms(ones), 1e-9)
}

// synthesizeSlot writes a 4-FSK signal whose tones follow tones[i].
func synthesizeSlot(baseHz float64, tones []uint8) []float32 {
	slot := make([]float32, SlotSamples)
	phase := 0.0
	for sym, tone := range tones {
		freq := baseHz + float64(tone)*toneSpacingHz
		begin := signalStartSamples + sym*symbolSamples
		for i := 0; i < symbolSamples; i++ {
			slot[begin+i] = 0.2 * float32(math.Sin(phase))
			phase += 2 * math.Pi * freq / SampleRate
		}
	}
	return slot
}

func TestBaseSearchFindsSyntheticSignal(t *testing.T) {
	tones := make([]uint8, symbolCount)
	for i := range tones {
		tones[i] = uint8(i % 4)
	}
	slot := synthesizeSlot(1496.0, tones)
	signal := slot[signalStartSamples : signalStartSamples+signalSamples]

	estimated, okBase := estimateBaseTone(signal)
	require.True(t, okBase)
	assert.InDelta(t, 1496.0, estimated, baseSearchStepHz)
}

func TestSyncScoreGatesCandidates(t *testing.T) {
	// Tones that carry the sync vector in their LSB score perfectly.
	tones := make([]uint8, symbolCount)
	for i := range tones {
		tones[i] = syncVector[i] | (uint8(i%2) << 1)
	}
	assert.InDelta(t, 1.0, syncScore(tones), 1e-9)

	// Inverted sync bits score near zero.
	for i := range tones {
		tones[i] = (1 - syncVector[i]) | (uint8(i%2) << 1)
	}
	assert.InDelta(t, 0.0, syncScore(tones), 1e-9)
}

func TestDecodeSlotAcceptsSyncedSignal(t *testing.T) {
	tones := make([]uint8, symbolCount)
	for i := range tones {
		tones[i] = syncVector[i] | 2
	}
	slot := synthesizeSlot(1500.0, tones)

	out := DecodeSlot(slot)
	require.Len(t, out, 1)
	assert.InDelta(t, 1500.0, out[0].FreqHz, baseSearchStepHz)
	assert.Greater(t, out[0].SnrDb, 10.0)
}

func TestDecodeSlotRejectsUnsyncedSignal(t *testing.T) {
	tones := make([]uint8, symbolCount)
	for i := range tones {
		tones[i] = (1 - syncVector[i]) | 2
	}
	slot := synthesizeSlot(1500.0, tones)
	assert.Empty(t, DecodeSlot(slot))
}

func TestDecoderAccumulatesSlot(t *testing.T) {
	tones := make([]uint8, symbolCount)
	for i := range tones {
		tones[i] = syncVector[i]
	}
	slot := synthesizeSlot(1400.0, tones)

	d := NewDecoder()
	// Feed in two halves: nothing until the slot completes.
	assert.Empty(t, d.ProcessSamples(slot[:SlotSamples/2]))
	out := d.ProcessSamples(slot[SlotSamples/2:])
	require.Len(t, out, 1)
}
