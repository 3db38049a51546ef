// Package ft8 detects FT8 signals in 15-second audio slots by scoring
// the three Costas sync groups across a time/frequency grid. Full LDPC
// message decoding is left to downstream tooling; candidates carry
// frequency, time offset and SNR.
package ft8

import (
	"math"

	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/metrics"
)

const (
	// SampleRate is the PCM rate the decoder expects.
	SampleRate = 12_000

	slotSeconds   = 15
	symbolSamples = 1920 // 0.16 s
	toneSpacingHz = 6.25
	numTones      = 8

	// An FT8 transmission is 79 symbols: three 7-symbol Costas sync
	// groups at offsets 0, 36 and 72 around two payload blocks.
	numSymbols  = 79
	syncLength  = 7
	syncOffsets = 36

	searchMinHz = 200.0
	searchMaxHz = 3000.0

	// Transmissions nominally start 0.5 s into the slot; the search
	// window allows up to a second of late start.
	nominalStartSec = 0.5
	startSlackSec   = 1.0

	minSyncScore  = 3.0
	maxCandidates = 8
)

// costasPattern is the 7x7 Costas tone sequence FT8 uses for sync.
var costasPattern = [syncLength]uint8{3, 1, 4, 0, 6, 5, 2}

// SlotSamples is the number of samples in one receive slot.
const SlotSamples = slotSeconds * SampleRate

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
func (d *Decoder) ProcessSamples(samples []float32) []decode.Ft8Message {
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

type candidate struct {
	freqHz float64
	startS float64
	score  float64
	snrDb  float64
}

// spectrogram holds per-block tone powers. Blocks are symbol-length
// windows advancing by half a symbol, and bins sit on the 6.25 Hz
// tone grid, so every time/frequency hypothesis indexes it directly.
type spectrogram struct {
	power   [][]float64
	firstHz float64
}

const (
	blockStep = symbolSamples / 2
	binStep   = toneSpacingHz
)

func buildSpectrogram(samples []float32) *spectrogram {
	firstHz := searchMinHz
	lastHz := searchMaxHz + float64(numTones)*toneSpacingHz
	numBins := int((lastHz-firstHz)/binStep) + 1
	numBlocks := (len(samples) - symbolSamples) / blockStep

	sp := &spectrogram{firstHz: firstHz, power: make([][]float64, numBlocks)}
	for blk := 0; blk < numBlocks; blk++ {
		frame := samples[blk*blockStep : blk*blockStep+symbolSamples]
		row := make([]float64, numBins)
		for bin := 0; bin < numBins; bin++ {
			row[bin] = goertzelPower(frame, firstHz+float64(bin)*binStep)
		}
		sp.power[blk] = row
	}
	return sp
}

func (sp *spectrogram) at(block, bin int) float64 {
	if block < 0 || block >= len(sp.power) || bin < 0 || bin >= len(sp.power[block]) {
		return 0
	}
	return sp.power[block][bin]
}

// DecodeSlot scans one complete slot for Costas-synced signals.
func DecodeSlot(samples []float32) []decode.Ft8Message {
	if len(samples) < SlotSamples {
		return nil
	}
	if rms(samples) < 1e-4 {
		return nil
	}

	sp := buildSpectrogram(samples)
	blockSec := float64(blockStep) / SampleRate

	firstBlock := 0
	lastBlock := int((nominalStartSec + startSlackSec) / blockSec)

	var cands []candidate
	for startBlock := firstBlock; startBlock <= lastBlock; startBlock++ {
		if startBlock*blockStep+numSymbols*symbolSamples > len(samples) {
			break
		}
		for baseBin := 0; baseBin < len(sp.power[0])-numTones; baseBin++ {
			score, snr := syncScoreAt(sp, startBlock, baseBin)
			if score >= minSyncScore {
				cands = append(cands, candidate{
					freqHz: sp.firstHz + float64(baseBin)*binStep,
					startS: float64(startBlock) * blockSec,
					score:  score,
					snrDb:  snr,
				})
			}
		}
	}
	if len(cands) == 0 {
		return nil
	}

	cands = dedupeCandidates(cands)
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}

	out := make([]decode.Ft8Message, 0, len(cands))
	for _, c := range cands {
		out = append(out, decode.Ft8Message{
			SnrDb:  c.snrDb,
			FreqHz: c.freqHz,
			DtSec:  c.startS - nominalStartSec,
		})
	}
	metrics.DecodedMessages.WithLabelValues("ft8").Add(float64(len(out)))
	return out
}

// syncScoreAt scores the three Costas groups at one time/frequency
// hypothesis. The score is the mean ratio of the expected sync tone's
// power to the average tone power; random noise scores near 1.
func syncScoreAt(sp *spectrogram, startBlock, baseBin int) (score, snrDb float64) {
	var ratioSum float64
	var count int
	var sigSum, noiseSum float64

	for group := 0; group < 3; group++ {
		groupStart := group * syncOffsets
		for sym := 0; sym < syncLength; sym++ {
			block := startBlock + (groupStart+sym)*2

			var total float64
			var powers [numTones]float64
			for tone := 0; tone < numTones; tone++ {
				p := sp.at(block, baseBin+tone)
				powers[tone] = p
				total += p
			}
			expected := powers[costasPattern[sym]]
			avg := total / numTones
			if avg < 1e-18 {
				continue
			}
			ratioSum += expected / avg
			count++
			sigSum += expected
			noiseSum += (total - expected) / (numTones - 1)
		}
	}
	if count == 0 {
		return 0, 0
	}
	score = ratioSum / float64(count)
	snrDb = 10*math.Log10(math.Max(sigSum/math.Max(noiseSum, 1e-18), 1e-12)) - 26
	return score, snrDb
}

// dedupeCandidates keeps the best-scoring hypothesis per frequency
// neighbourhood.
func dedupeCandidates(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		replaced := false
		for i := range out {
			if math.Abs(out[i].freqHz-c.freqHz) <= 2*toneSpacingHz {
				if c.score > out[i].score {
					out[i] = c
				}
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	// Highest score first.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func goertzelPower(frame []float32, targetHz float64) float64 {
	n := float64(len(frame))
	k := math.Floor(0.5 + n*targetHz/SampleRate)
	w := 2 * math.Pi * k / n
	coeff := 2 * math.Cos(w)

	var sPrev, sPrev2 float64
	for _, x := range frame {
		s := float64(x) + coeff*sPrev - sPrev2
		sPrev2 = sPrev
		sPrev = s
	}
	return (sPrev2*sPrev2 + sPrev*sPrev - coeff*sPrev*sPrev2) / (n * n)
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
