// Package wspr detects WSPR transmissions in two-minute audio slots:
// coarse base-tone search, 4-FSK symbol demodulation and a sync-vector
// correlation gate. Message payload decoding (the convolutional layer)
// is left to downstream tooling; candidates carry frequency and SNR.
package wspr

import (
	"math"

	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/metrics"
)

const (
	// SampleRate is the PCM rate the decoder expects.
	SampleRate = 12_000

	slotSeconds   = 120
	symbolCount   = 162
	symbolSamples = 8192
	signalSamples = symbolCount * symbolSamples
	// Transmissions begin one second into the even minute.
	signalStartSamples = SampleRate

	toneSpacingHz = float64(SampleRate) / float64(symbolSamples)

	baseSearchMinHz  = 1200.0
	baseSearchMaxHz  = 1800.0
	baseSearchStepHz = 4.0
	coarseSymbols    = 48

	minSlotRms    = 0.0005
	minSyncScore  = 0.55
)

// SlotSamples is the number of samples in one receive slot.
const SlotSamples = slotSeconds * SampleRate

// syncVector is the fixed 162-bit WSPR pseudo-random sync sequence.
// The sync bit is the LSB of each channel symbol.
var syncVector = [symbolCount]uint8{
	1, 1, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 0, 0, 0, 1, 0,
	0, 1, 0, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 1, 0, 1,
	0, 0, 0, 0, 0, 0, 1, 0, 1, 1, 0, 0, 1, 1, 0, 1, 0, 0, 0, 1,
	1, 0, 1, 0, 0, 0, 0, 1, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 1,
	0, 0, 1, 0, 1, 1, 0, 0, 0, 1, 1, 0, 1, 0, 1, 0, 0, 0, 1, 0,
	0, 0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 1, 1, 0, 1, 1, 0, 0, 1, 1,
	0, 1, 0, 0, 0, 1, 1, 1, 0, 0, 0, 0, 0, 1, 0, 1, 0, 0, 1, 1,
	0, 0, 0, 0, 0, 0, 0, 1, 1, 0, 1, 0, 1, 1, 0, 0, 0, 1, 1, 0,
	0, 0,
}

// Decoder accumulates PCM into slots and scans each one.
type Decoder struct {
	buf []float32
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// ProcessSamples appends PCM at SampleRate; when a full slot has
// accumulated it is scanned and drained.
func (d *Decoder) ProcessSamples(samples []float32) []decode.WsprMessage {
	d.buf = append(d.buf, samples...)
	if len(d.buf) < SlotSamples {
		return nil
	}
	slot := d.buf[:SlotSamples]
	out := DecodeSlot(slot)
	d.buf = d.buf[:copy(d.buf, d.buf[SlotSamples:])]
	return out
}

// Reset discards the partial slot.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// DecodeSlot scans one complete slot for a WSPR candidate.
func DecodeSlot(samples []float32) []decode.WsprMessage {
	if len(samples) < SlotSamples {
		return nil
	}
	if slotRms(samples[:SlotSamples]) < minSlotRms {
		return nil
	}
	if signalStartSamples+signalSamples > len(samples) {
		return nil
	}
	signal := samples[signalStartSamples : signalStartSamples+signalSamples]

	baseHz, okBase := estimateBaseTone(signal)
	if !okBase {
		return nil
	}
	symbols, snrDb := demodulateSymbols(signal, baseHz)
	if syncScore(symbols) < minSyncScore {
		metrics.DecoderErrors.WithLabelValues("wspr").Inc()
		return nil
	}

	metrics.DecodedMessages.WithLabelValues("wspr").Inc()
	return []decode.WsprMessage{{
		SnrDb:  snrDb,
		FreqHz: baseHz,
	}}
}

// syncScore measures agreement between the demodulated symbols' sync
// bits and the fixed sync vector.
func syncScore(symbols []uint8) float64 {
	if len(symbols) != symbolCount {
		return 0
	}
	matches := 0
	for i, sym := range symbols {
		if sym&1 == syncVector[i] {
			matches++
		}
	}
	return float64(matches) / symbolCount
}

func estimateBaseTone(signal []float32) (float64, bool) {
	if len(signal) < symbolSamples*coarseSymbols {
		return 0, false
	}
	bestFreq := baseSearchMinHz
	bestScore := math.Inf(-1)
	for freq := baseSearchMinHz; freq <= baseSearchMaxHz; freq += baseSearchStepHz {
		score := coarseScore(signal, freq)
		if score > bestScore {
			bestScore = score
			bestFreq = freq
		}
	}
	return bestFreq, true
}

func coarseScore(signal []float32, baseHz float64) float64 {
	var score float64
	for sym := 0; sym < coarseSymbols; sym++ {
		frame := signal[sym*symbolSamples : (sym+1)*symbolSamples]
		var best float64
		for tone := 0; tone < 4; tone++ {
			p := goertzelPower(frame, baseHz+float64(tone)*toneSpacingHz)
			if p > best {
				best = p
			}
		}
		score += best
	}
	return score
}

func demodulateSymbols(signal []float32, baseHz float64) ([]uint8, float64) {
	symbols := make([]uint8, 0, symbolCount)
	var signalSum, noiseSum float64

	for sym := 0; sym < symbolCount; sym++ {
		frame := signal[sym*symbolSamples : (sym+1)*symbolSamples]

		var bestIdx uint8
		var bestPow float64
		for tone := 0; tone < 4; tone++ {
			p := goertzelPower(frame, baseHz+float64(tone)*toneSpacingHz)
			if tone == 0 || p > bestPow {
				bestPow = p
				bestIdx = uint8(tone)
			}
		}
		symbols = append(symbols, bestIdx)
		signalSum += bestPow

		noiseA := goertzelPower(frame, baseHz-8*toneSpacingHz)
		noiseB := goertzelPower(frame, baseHz+12*toneSpacingHz)
		noiseSum += (noiseA + noiseB) * 0.5
	}

	signalAvg := signalSum / symbolCount
	noiseAvg := math.Max(noiseSum/symbolCount, 1e-12)
	snrDb := 10 * math.Log10(math.Max(signalAvg/noiseAvg, 1e-12))
	return symbols, snrDb
}

// goertzelPower is a Hann-windowed Goertzel power at targetHz.
func goertzelPower(frame []float32, targetHz float64) float64 {
	n := float64(len(frame))
	k := math.Floor(0.5 + n*targetHz/SampleRate)
	w := 2 * math.Pi * k / n
	coeff := 2 * math.Cos(w)

	var sPrev, sPrev2 float64
	for idx, x := range frame {
		win := 0.5 - 0.5*math.Cos(2*math.Pi*float64(idx)/n)
		s := float64(x)*win + coeff*sPrev - sPrev2
		sPrev2 = sPrev
		sPrev = s
	}
	return sPrev2*sPrev2 + sPrev*sPrev - coeff*sPrev*sPrev2
}

func slotRms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
