// Package cw decodes Morse code with a Goertzel tone detector on
// 50 ms windows, with optional automatic tone search and WPM tracking.
package cw

import (
	"math"
	"sort"

	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/metrics"
)

var morseTable = map[string]rune{
	".-": 'A', "-...": 'B', "-.-.": 'C', "-..": 'D', ".": 'E',
	"..-.": 'F', "--.": 'G', "....": 'H', "..": 'I', ".---": 'J',
	"-.-": 'K', ".-..": 'L', "--": 'M', "-.": 'N', "---": 'O',
	".--.": 'P', "--.-": 'Q', ".-.": 'R', "...": 'S', "-": 'T',
	"..-": 'U', "...-": 'V', ".--": 'W', "-..-": 'X', "-.--": 'Y',
	"--..": 'Z',
	"-----": '0', ".----": '1', "..---": '2', "...--": '3',
	"....-": '4', ".....": '5', "-....": '6', "--...": '7',
	"---..": '8', "----.": '9',
	".-.-.-": '.', "--..--": ',', "..--..": '?', ".----.": '\'',
	"-.-.--": '!', "-..-.": '/', "-.--.": '(', "-.--.-": ')',
	".-...": '&', "---...": ':', "-.-.-.": ';', "-...-": '=',
	".-.-.": '+', "-....-": '-', "..--.-": '_', ".-..-.": '"',
	"...-..-": '$', ".--.-.": '@',
}

func morseLookup(code string) rune {
	if ch, okCode := morseTable[code]; okCode {
		return ch
	}
	return '?'
}

const (
	toneScanLow     = 300
	toneScanHigh    = 1200
	toneScanStep    = 25
	toneStableNeeded = 3
	threshold       = 0.05
	windowMs        = 50
)

// goertzelEnergy runs the recursive single-bin DFT over the window,
// normalised by the squared window length.
func goertzelEnergy(buf []float32, coeff float64) float64 {
	var s1, s2 float64
	for _, sample := range buf {
		s0 := coeff*s1 - s2 + float64(sample)
		s2 = s1
		s1 = s0
	}
	n2 := float64(len(buf)) * float64(len(buf))
	return (s1*s1 + s2*s2 - coeff*s1*s2) / n2
}

type scanBin struct {
	freq  uint32
	coeff float64
}

// Decoder is the Goertzel CW decoder. Not safe for concurrent use;
// the owning decoder task feeds it PCM blocks.
type Decoder struct {
	sampleRate uint32
	windowSize int
	sampleBuf  []float32
	sampleIdx  int

	toneFreq uint32
	coeff    float64

	toneOn        bool
	toneOnAt      float64
	toneOffAt     float64
	currentSymbol []byte
	sampleCounter uint64

	wpm uint32

	autoTone bool
	autoWpm  bool

	scanBins        []scanBin
	toneStableBin   int
	toneStableCount int

	onDurations []float64

	events []decode.CwEvent
}

// NewDecoder builds a decoder for sampleRate PCM input, parked on
// 700 Hz at 15 WPM with auto tracking enabled.
func NewDecoder(sampleRate uint32) *Decoder {
	windowSize := int(sampleRate) * windowMs / 1000
	d := &Decoder{
		sampleRate:    sampleRate,
		windowSize:    windowSize,
		sampleBuf:     make([]float32, windowSize),
		toneFreq:      700,
		wpm:           15,
		autoTone:      true,
		autoWpm:       true,
		toneStableBin: -1,
	}
	d.recomputeGoertzel(700)
	for f := uint32(toneScanLow); f <= toneScanHigh; f += toneScanStep {
		d.scanBins = append(d.scanBins, scanBin{freq: f, coeff: binCoeff(f, windowSize, sampleRate)})
	}
	return d
}

func binCoeff(freq uint32, windowSize int, sampleRate uint32) float64 {
	k := math.Round(float64(freq) * float64(windowSize) / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(windowSize)
	return 2 * math.Cos(omega)
}

// SetAuto toggles both auto-tone and auto-WPM tracking.
func (d *Decoder) SetAuto(enabled bool) {
	d.autoTone = enabled
	d.autoWpm = enabled
}

// SetWpm pins the decoding speed, clamped to [5, 40].
func (d *Decoder) SetWpm(wpm uint32) {
	if wpm < 5 {
		wpm = 5
	} else if wpm > 40 {
		wpm = 40
	}
	d.wpm = wpm
}

// Wpm returns the current speed estimate.
func (d *Decoder) Wpm() uint32 {
	return d.wpm
}

// SetToneHz pins the detector tone, clamped to the scan range.
func (d *Decoder) SetToneHz(toneHz uint32) {
	if toneHz < toneScanLow {
		toneHz = toneScanLow
	} else if toneHz > toneScanHigh {
		toneHz = toneScanHigh
	}
	d.recomputeGoertzel(toneHz)
}

// ToneHz returns the current detector tone.
func (d *Decoder) ToneHz() uint32 {
	return d.toneFreq
}

func (d *Decoder) recomputeGoertzel(freq uint32) {
	d.toneFreq = freq
	d.coeff = binCoeff(freq, d.windowSize, d.sampleRate)
}

func (d *Decoder) unitMs() float64 {
	return 1200.0 / float64(d.wpm)
}

func (d *Decoder) nowMs() float64 {
	return float64(d.sampleCounter) * 1000.0 / float64(d.sampleRate)
}

func (d *Decoder) goertzelDetect() bool {
	toneEnergy := goertzelEnergy(d.sampleBuf, d.coeff)
	var total float64
	for _, s := range d.sampleBuf {
		total += float64(s) * float64(s)
	}
	avg := total / float64(len(d.sampleBuf))
	if avg < 1e-10 {
		return false
	}
	return toneEnergy/avg > threshold
}

// autoDetectTone sweeps the scan bins; the best ratio above threshold
// that stays put for three consecutive windows retunes the detector.
func (d *Decoder) autoDetectTone() {
	var total float64
	for _, s := range d.sampleBuf {
		total += float64(s) * float64(s)
	}
	avg := total / float64(len(d.sampleBuf))
	if avg < 1e-10 {
		return
	}

	bestIdx := -1
	bestRatio := 0.0
	for i, bin := range d.scanBins {
		ratio := goertzelEnergy(d.sampleBuf, bin.coeff) / avg
		if ratio > bestRatio {
			bestRatio = ratio
			bestIdx = i
		}
	}

	if bestRatio < threshold || bestIdx < 0 {
		d.toneStableCount = 0
		d.toneStableBin = -1
		return
	}

	if d.toneStableBin >= 0 && abs(bestIdx-d.toneStableBin) <= 1 {
		d.toneStableCount++
	} else {
		d.toneStableBin = bestIdx
		d.toneStableCount = 1
	}

	if d.toneStableCount >= toneStableNeeded {
		detected := d.scanBins[d.toneStableBin].freq
		if absU32(detected, d.toneFreq) > toneScanStep {
			d.recomputeGoertzel(detected)
		}
	}
}

// autoDetectWpm splits the recent on-durations into dit/dah clusters
// by minimising intra-cluster variance, then derives the speed from
// the dit-cluster median.
func (d *Decoder) autoDetectWpm() {
	if len(d.onDurations) < 8 {
		return
	}

	sorted := append([]float64(nil), d.onDurations...)
	sort.Float64s(sorted)

	bestBoundary := 1
	bestScore := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		c1 := sorted[:i]
		c2 := sorted[i:]
		mean1 := mean(c1)
		mean2 := mean(c2)
		var score float64
		for _, v := range c1 {
			score += (v - mean1) * (v - mean1)
		}
		for _, v := range c2 {
			score += (v - mean2) * (v - mean2)
		}
		if score < bestScore {
			bestScore = score
			bestBoundary = i
		}
	}

	ditCluster := sorted[:bestBoundary]
	if len(ditCluster) == 0 {
		return
	}
	ditMs := ditCluster[len(ditCluster)/2]
	if ditMs < 10.0 {
		return
	}

	newWpm := uint32(math.Round(1200.0 / ditMs))
	if newWpm < 5 {
		newWpm = 5
	} else if newWpm > 40 {
		newWpm = 40
	}
	if newWpm != d.wpm {
		d.wpm = newWpm
	}
}

func (d *Decoder) processWindow() {
	if d.autoTone {
		d.autoDetectTone()
	}

	detected := d.goertzelDetect()
	now := d.nowMs()

	if detected && !d.toneOn {
		d.toneOn = true
		offDuration := now - d.toneOffAt
		if d.toneOffAt > 0 {
			u := d.unitMs()
			if offDuration > u*5 {
				d.flushSymbol()
				d.emitText(" ")
			} else if offDuration > u*2 {
				d.flushSymbol()
			}
		}
		d.toneOnAt = now
	} else if !detected && d.toneOn {
		d.toneOn = false
		onDuration := now - d.toneOnAt
		if onDuration > d.unitMs()*2 {
			d.currentSymbol = append(d.currentSymbol, '-')
		} else {
			d.currentSymbol = append(d.currentSymbol, '.')
		}
		d.toneOffAt = now

		if d.autoWpm {
			d.onDurations = append(d.onDurations, onDuration)
			if len(d.onDurations) > 30 {
				d.onDurations = d.onDurations[1:]
			}
			d.autoDetectWpm()
		}
	}

	// Flush a pending character after prolonged silence.
	if !d.toneOn && len(d.currentSymbol) > 0 && d.toneOffAt > 0 {
		if now-d.toneOffAt > d.unitMs()*5 {
			d.flushSymbol()
		}
	}
}

func (d *Decoder) flushSymbol() {
	if len(d.currentSymbol) == 0 {
		return
	}
	ch := morseLookup(string(d.currentSymbol))
	d.emitText(string(ch))
	d.currentSymbol = d.currentSymbol[:0]
}

func (d *Decoder) emitText(text string) {
	d.events = append(d.events, decode.CwEvent{
		Text:     text,
		Wpm:      d.wpm,
		ToneHz:   d.toneFreq,
		SignalOn: d.toneOn,
	})
	metrics.DecodedMessages.WithLabelValues("cw").Inc()
}

// ProcessSamples feeds PCM audio and returns the events completed in
// this block.
func (d *Decoder) ProcessSamples(samples []float32) []decode.CwEvent {
	for _, s := range samples {
		d.sampleBuf[d.sampleIdx] = s
		d.sampleIdx++
		d.sampleCounter++
		if d.sampleIdx >= d.windowSize {
			d.processWindow()
			d.sampleIdx = 0
		}
	}
	out := d.events
	d.events = nil
	return out
}

// Reset clears detector state while keeping tuning parameters.
func (d *Decoder) Reset() {
	for i := range d.sampleBuf {
		d.sampleBuf[i] = 0
	}
	d.sampleIdx = 0
	d.toneOn = false
	d.toneOnAt = 0
	d.toneOffAt = 0
	d.currentSymbol = d.currentSymbol[:0]
	d.sampleCounter = 0
	d.recomputeGoertzel(d.toneFreq)
	d.toneStableBin = -1
	d.toneStableCount = 0
	d.onDurations = nil
	d.events = nil
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
