package cw

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMorseLookup(t *testing.T) {
	assert.Equal(t, 'A', morseLookup(".-"))
	assert.Equal(t, 'S', morseLookup("..."))
	assert.Equal(t, '0', morseLookup("-----"))
	assert.Equal(t, '?', morseLookup("..--.."))
	assert.Equal(t, '?', morseLookup(".......-"), "unknown sequences emit ?")
}

// keyer synthesises keyed CW audio at toneHz.
type keyer struct {
	sampleRate float64
	toneHz     float64
	unitMs     float64
	phase      float64
	samples    []float32
}

func newKeyer(sampleRate, toneHz float64, wpm int) *keyer {
	return &keyer{
		sampleRate: sampleRate,
		toneHz:     toneHz,
		unitMs:     1200.0 / float64(wpm),
	}
}

func (k *keyer) units(on bool, n float64) {
	count := int(k.sampleRate * k.unitMs * n / 1000.0)
	for i := 0; i < count; i++ {
		if on {
			k.samples = append(k.samples, 0.7*float32(math.Sin(k.phase)))
			k.phase += 2 * math.Pi * k.toneHz / k.sampleRate
		} else {
			k.samples = append(k.samples, 0)
		}
	}
}

func (k *keyer) key(morse string) {
	for i, sym := range morse {
		switch sym {
		case '.':
			k.units(true, 1)
		case '-':
			k.units(true, 3)
		case ' ':
			// Word gap: 7 units total, 1 already sent after the
			// previous element.
			k.units(false, 6)
			continue
		case '/':
			// Character gap: 3 units total.
			k.units(false, 2)
			continue
		}
		if i < len(morse)-1 {
			k.units(false, 1)
		}
	}
}

func collectText(d *Decoder, samples []float32) string {
	var sb strings.Builder
	for _, ev := range d.ProcessSamples(samples) {
		sb.WriteString(ev.Text)
	}
	// Trailing silence flushes the last character.
	tail := make([]float32, 48_000)
	for _, ev := range d.ProcessSamples(tail) {
		sb.WriteString(ev.Text)
	}
	return sb.String()
}

func TestDecodeKeyedLetters(t *testing.T) {
	const sampleRate = 48_000
	k := newKeyer(sampleRate, 700, 15)
	// "SOS": ... / --- / ...
	k.key(".../---/...")
	k.units(false, 10)

	d := NewDecoder(sampleRate)
	d.SetAuto(false)
	d.SetWpm(15)
	d.SetToneHz(700)

	text := collectText(d, k.samples)
	assert.Equal(t, "SOS", strings.TrimSpace(text))
}

func TestDecodeWordGap(t *testing.T) {
	const sampleRate = 48_000
	k := newKeyer(sampleRate, 700, 15)
	// "E E" with a word gap.
	k.key(".")
	k.units(false, 6)
	k.key(".")
	k.units(false, 10)

	d := NewDecoder(sampleRate)
	d.SetAuto(false)
	d.SetWpm(15)
	d.SetToneHz(700)

	text := collectText(d, k.samples)
	assert.Equal(t, "E E", strings.TrimSpace(text))
}

func TestAutoToneRetunes(t *testing.T) {
	const sampleRate = 48_000
	k := newKeyer(sampleRate, 900, 15)
	k.key("---/---")
	k.units(false, 10)

	d := NewDecoder(sampleRate)
	// Auto on, parked on the wrong tone.
	d.SetToneHz(400)
	d.ProcessSamples(k.samples)
	assert.InDelta(t, 900, float64(d.ToneHz()), float64(toneScanStep))
}

func TestAutoWpmConverges(t *testing.T) {
	const sampleRate = 48_000
	k := newKeyer(sampleRate, 700, 12)
	// Mixed dits and dahs give the clusterer both classes.
	k.key(".-.-/.-.-/.-.-")
	k.units(false, 10)

	d := NewDecoder(sampleRate)
	d.autoTone = false
	d.SetWpm(30)
	d.SetToneHz(700)
	d.ProcessSamples(k.samples)

	// Window quantisation limits precision; the estimate must move
	// from 30 toward the keyed 12 WPM.
	got := float64(d.Wpm())
	assert.Less(t, got, 20.0)
	assert.GreaterOrEqual(t, got, 5.0)
}

func TestSetWpmClamps(t *testing.T) {
	d := NewDecoder(8000)
	d.SetWpm(1)
	assert.Equal(t, uint32(5), d.Wpm())
	d.SetWpm(99)
	assert.Equal(t, uint32(40), d.Wpm())
}

func TestSetToneClamps(t *testing.T) {
	d := NewDecoder(8000)
	d.SetToneHz(100)
	assert.Equal(t, uint32(toneScanLow), d.ToneHz())
	d.SetToneHz(5000)
	assert.Equal(t, uint32(toneScanHigh), d.ToneHz())
}

func TestResetKeepsTuning(t *testing.T) {
	d := NewDecoder(8000)
	d.SetWpm(30)
	d.SetToneHz(800)
	d.currentSymbol = append(d.currentSymbol, '.', '-')
	d.Reset()
	assert.Empty(t, d.currentSymbol)
	assert.Equal(t, uint32(30), d.Wpm())
	assert.Equal(t, uint32(800), d.ToneHz())
}

func TestSilenceProducesNothing(t *testing.T) {
	d := NewDecoder(8000)
	require.Empty(t, d.ProcessSamples(make([]float32, 8000)))
}
