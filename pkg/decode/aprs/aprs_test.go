package aprs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// encodeAx25Address packs a callsign/SSID into the seven-byte shifted
// form used on the air.
func encodeAx25Address(call string, ssid uint8, last bool) []byte {
	out := make([]byte, 7)
	for i := 0; i < 6; i++ {
		ch := byte(' ')
		if i < len(call) {
			ch = call[i]
		}
		out[i] = ch << 1
	}
	out[6] = (ssid&0x0F)<<1 | 0x60
	if last {
		out[6] |= 0x01
	}
	return out
}

func buildFrame(src, dest string, info string) []byte {
	var frame []byte
	frame = append(frame, encodeAx25Address(dest, 0, false)...)
	frame = append(frame, encodeAx25Address(src, 9, true)...)
	frame = append(frame, 0x03, 0xF0) // UI control, no layer 3
	frame = append(frame, info...)
	return frame
}

func TestCrc16CcittKnownValue(t *testing.T) {
	// CRC of "123456789" under CCITT (reflected, 0x8408) is 0x906E
	// after the final XOR.
	assert.Equal(t, uint16(0x906E), Crc16Ccitt([]byte("123456789")))
}

func TestCrcRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 17, 64).Draw(t, "payload")
		fcs := Crc16Ccitt(payload)
		framed := append(append([]byte(nil), payload...), byte(fcs), byte(fcs>>8))
		got := uint16(framed[len(framed)-2]) | uint16(framed[len(framed)-1])<<8
		assert.Equal(t, Crc16Ccitt(framed[:len(framed)-2]), got)
	})
}

func TestParseAx25Addresses(t *testing.T) {
	frame := buildFrame("N0CALL", "APRS", ":payload")
	ax25, okFrame := parseAx25(frame)
	require.True(t, okFrame)
	assert.Equal(t, "N0CALL", ax25.src.call)
	assert.Equal(t, uint8(9), ax25.src.ssid)
	assert.True(t, ax25.src.last)
	assert.Equal(t, "APRS", ax25.dest.call)
	assert.Equal(t, []byte(":payload"), ax25.info)
	assert.Empty(t, ax25.digis)
}

func TestParseAx25WithDigipeaters(t *testing.T) {
	var frame []byte
	frame = append(frame, encodeAx25Address("APRS", 0, false)...)
	frame = append(frame, encodeAx25Address("N0CALL", 0, false)...)
	frame = append(frame, encodeAx25Address("WIDE1", 1, false)...)
	frame = append(frame, encodeAx25Address("WIDE2", 2, true)...)
	frame = append(frame, 0x03, 0xF0)
	frame = append(frame, ">status"...)

	ax25, okFrame := parseAx25(frame)
	require.True(t, okFrame)
	require.Len(t, ax25.digis, 2)
	assert.Equal(t, "WIDE1", ax25.digis[0].call)
	assert.Equal(t, uint8(1), ax25.digis[0].ssid)
	assert.Equal(t, "WIDE2", ax25.digis[1].call)
}

func TestParseAprsPositionUncompressed(t *testing.T) {
	frame := buildFrame("N0CALL", "APRS", "!4903.50N/07201.75W-Test")
	ax25, okFrame := parseAx25(frame)
	require.True(t, okFrame)
	pkt := parseAprs(ax25)

	assert.Equal(t, "Position", pkt.PacketType)
	require.NotNil(t, pkt.Lat)
	require.NotNil(t, pkt.Lon)
	assert.InDelta(t, 49.058333, *pkt.Lat, 1e-6)
	assert.InDelta(t, -72.029167, *pkt.Lon, 1e-6)
	assert.Equal(t, "/", pkt.SymbolTable)
	assert.Equal(t, "-", pkt.SymbolCode)
	assert.Equal(t, "N0CALL-9", pkt.SrcCall)
}

func TestParseAprsPacketTypes(t *testing.T) {
	cases := map[string]string{
		":N0CALL   :hello": "Message",
		">on the air":      "Status",
		"T#005,123":        "Telemetry",
		";OBJECT   *":      "Object",
		")ITEM!":           "Item",
		"`hello mic-e":     "Mic-E",
		"?query":           "Unknown",
	}
	for info, want := range cases {
		frame := buildFrame("N0CALL", "APRS", info)
		ax25, okFrame := parseAx25(frame)
		require.True(t, okFrame, info)
		pkt := parseAprs(ax25)
		assert.Equal(t, want, pkt.PacketType, "info %q", info)
	}
}

func TestParseCompressedPosition(t *testing.T) {
	// Compressed position example from the APRS 1.01 specification:
	// /5L!!<*e7> corresponds to roughly 49.5° N, 72.75° W.
	frame := buildFrame("N0CALL", "APRS", "!/5L!!<*e7>{?!")
	ax25, okFrame := parseAx25(frame)
	require.True(t, okFrame)
	pkt := parseAprs(ax25)
	require.NotNil(t, pkt.Lat)
	require.NotNil(t, pkt.Lon)
	assert.InDelta(t, 49.5, *pkt.Lat, 0.1)
	assert.InDelta(t, -72.75, *pkt.Lon, 0.1)
}

func TestPasscodeProperties(t *testing.T) {
	code := Passcode("N0CALL")
	assert.LessOrEqual(t, code, 0x7FFF)
	assert.Equal(t, code, Passcode("n0call"), "case insensitive")
	assert.Equal(t, code, Passcode("N0CALL-9"), "SSID stripped")
}

func TestPasscodeBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		call := rapid.StringMatching(`[A-Z0-9]{3,12}(-[0-9]{1,2})?`).Draw(t, "call")
		code := Passcode(call)
		assert.GreaterOrEqual(t, code, 0)
		assert.LessOrEqual(t, code, 0x7FFF)
	})
}

// modulateBell202 synthesises clean AFSK audio for a frame: NRZI with
// bit stuffing between flags, phase-continuous mark/space tones.
func modulateBell202(frame []byte, sampleRate float64) []float32 {
	var bits []uint8
	pushStuffed := func(bit uint8, ones *int) {
		bits = append(bits, bit)
		if bit == 1 {
			*ones++
			if *ones == 5 {
				bits = append(bits, 0)
				*ones = 0
			}
		} else {
			*ones = 0
		}
	}

	flag := []uint8{0, 1, 1, 1, 1, 1, 1, 0}
	for i := 0; i < 8; i++ {
		bits = append(bits, flag...)
	}
	ones := 0
	for _, b := range frame {
		for j := 0; j < 8; j++ {
			pushStuffed((b>>uint(j))&1, &ones)
		}
	}
	fcs := Crc16Ccitt(frame)
	for _, b := range []byte{byte(fcs), byte(fcs >> 8)} {
		for j := 0; j < 8; j++ {
			pushStuffed((b>>uint(j))&1, &ones)
		}
	}
	for i := 0; i < 3; i++ {
		bits = append(bits, flag...)
	}

	samplesPerBit := sampleRate / baud
	var out []float32
	phase := 0.0
	tone := markHz
	for _, bit := range bits {
		if bit == 0 {
			if tone == markHz {
				tone = spaceHz
			} else {
				tone = markHz
			}
		}
		n := int(math.Round(samplesPerBit))
		for i := 0; i < n; i++ {
			out = append(out, 0.5*float32(math.Sin(phase)))
			phase += 2 * math.Pi * tone / sampleRate
		}
	}
	// Trailing silence flushes the energy gate.
	for i := 0; i < int(sampleRate/10); i++ {
		out = append(out, 0)
	}
	return out
}

func TestDecodeModulatedPacket(t *testing.T) {
	const sampleRate = 48_000
	frame := buildFrame("N0CALL", "APRS", "!4903.50N/07201.75W-Test")
	audio := modulateBell202(frame, sampleRate)

	dec := NewDecoder(sampleRate)
	packets := dec.ProcessSamples(audio)
	require.NotEmpty(t, packets, "expected at least one decoded packet")

	pkt := packets[0]
	assert.True(t, pkt.CrcOk)
	assert.Equal(t, "N0CALL-9", pkt.SrcCall)
	assert.Equal(t, "Position", pkt.PacketType)
	require.NotNil(t, pkt.Lat)
	assert.InDelta(t, 49.058333, *pkt.Lat, 1e-6)
}

func TestDecoderDeduplicatesAcrossCorrelators(t *testing.T) {
	const sampleRate = 48_000
	frame := buildFrame("N0CALL", "APRS", ">dedup test payload")
	audio := modulateBell202(frame, sampleRate)

	dec := NewDecoder(sampleRate)
	packets := dec.ProcessSamples(audio)
	require.NotEmpty(t, packets)
	assert.Len(t, packets, 1, "both correlators decode, one survives dedup")
}
