package aprs

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/metrics"
)

// Decoder runs two correlators at different timing aggressiveness
// levels and deduplicates their frames.
type Decoder struct {
	demodulators []*demodulator
}

// NewDecoder builds a decoder for sampleRate PCM input.
func NewDecoder(sampleRate uint32) *Decoder {
	return &Decoder{
		demodulators: []*demodulator{
			newDemodulator(sampleRate, 1.0),
			newDemodulator(sampleRate, 0.5),
		},
	}
}

// ProcessSamples feeds PCM audio and returns any packets completed in
// this block. Frames are deduplicated by the first 14 address bytes
// plus the payload length.
func (d *Decoder) ProcessSamples(samples []float32) []decode.AprsPacket {
	seen := make(map[string]bool)
	var results []decode.AprsPacket

	for _, demod := range d.demodulators {
		for _, frame := range demod.processBuffer(samples) {
			keyLen := len(frame.payload)
			if keyLen > 14 {
				keyLen = 14
			}
			key := make([]byte, keyLen+4)
			copy(key, frame.payload[:keyLen])
			binary.LittleEndian.PutUint32(key[keyLen:], uint32(len(frame.payload)))
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true

			ax25, okFrame := parseAx25(frame.payload)
			if !okFrame {
				metrics.DecoderErrors.WithLabelValues("aprs").Inc()
				continue
			}
			pkt := parseAprs(ax25)
			pkt.CrcOk = frame.crcOk
			results = append(results, pkt)
		}
	}
	if len(results) > 0 {
		metrics.DecodedMessages.WithLabelValues("aprs").Add(float64(len(results)))
	}
	return results
}

// Reset discards all demodulator state, e.g. after a mode change.
func (d *Decoder) Reset() {
	for _, demod := range d.demodulators {
		demod.resetState()
		demod.energyAcc = 0
		demod.energyCount = 0
		demod.frames = nil
	}
}

// parseAprs classifies the payload by its first byte and extracts a
// position when present.
func parseAprs(ax25 *ax25Frame) decode.AprsPacket {
	var path []string
	for _, d := range ax25.digis {
		path = append(path, formatCall(d))
	}
	info := string(ax25.info)

	packetType := "Unknown"
	if info != "" {
		switch info[0] {
		case '!', '=', '/', '@':
			packetType = "Position"
		case ':':
			packetType = "Message"
		case '>':
			packetType = "Status"
		case 'T':
			packetType = "Telemetry"
		case ';':
			packetType = "Object"
		case ')':
			packetType = "Item"
		case '`', '\'':
			packetType = "Mic-E"
		}
	}

	pkt := decode.AprsPacket{
		SrcCall:    formatCall(ax25.src),
		DestCall:   formatCall(ax25.dest),
		Path:       strings.Join(path, ","),
		Info:       info,
		PacketType: packetType,
	}

	if packetType == "Position" {
		if lat, lon, table, code, okPos := parsePosition(info); okPos {
			pkt.Lat = &lat
			pkt.Lon = &lon
			pkt.SymbolTable = string(table)
			pkt.SymbolCode = string(code)
		}
	}
	return pkt
}

// parsePosition handles both the uncompressed DDMM.MMN/DDDMM.MMEs form
// and the base-91 compressed form.
func parsePosition(info string) (lat, lon float64, symTable, symCode byte, okPos bool) {
	if info == "" {
		return 0, 0, 0, 0, false
	}

	var posStr string
	switch info[0] {
	case '!', '=':
		posStr = info[1:]
	case '/', '@':
		// Timestamped variants skip seven timestamp bytes.
		if len(info) < 9 {
			return 0, 0, 0, 0, false
		}
		posStr = info[8:]
	default:
		return 0, 0, 0, 0, false
	}
	if posStr == "" {
		return 0, 0, 0, 0, false
	}

	if posStr[0] < '0' || posStr[0] > '9' {
		return parseCompressed(posStr)
	}

	if len(posStr) < 19 {
		return 0, 0, 0, 0, false
	}
	latVal, okLat := parseLat(posStr[:8])
	lonVal, okLon := parseLon(posStr[9:18])
	if !okLat || !okLon {
		return 0, 0, 0, 0, false
	}
	return latVal, lonVal, posStr[8], posStr[18], true
}

func parseCompressed(posStr string) (lat, lon float64, symTable, symCode byte, okPos bool) {
	if len(posStr) < 10 {
		return 0, 0, 0, 0, false
	}

	var latVal, lonVal uint32
	for i := 0; i < 4; i++ {
		lc := int(posStr[1+i]) - 33
		xc := int(posStr[5+i]) - 33
		if lc < 0 || lc > 90 || xc < 0 || xc > 90 {
			return 0, 0, 0, 0, false
		}
		latVal = latVal*91 + uint32(lc)
		lonVal = lonVal*91 + uint32(xc)
	}

	lat = 90.0 - float64(latVal)/380926.0
	lon = -180.0 + float64(lonVal)/190463.0
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, 0, 0, false
	}
	return round6(lat), round6(lon), posStr[0], posStr[9], true
}

func parseLat(s string) (float64, bool) {
	if len(s) < 8 {
		return 0, false
	}
	deg, err1 := strconv.ParseFloat(s[:2], 64)
	min, err2 := strconv.ParseFloat(s[2:7], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	lat := deg + min/60.0
	switch s[7] {
	case 'S', 's':
		lat = -lat
	case 'N', 'n':
	default:
		return 0, false
	}
	return round6(lat), true
}

func parseLon(s string) (float64, bool) {
	if len(s) < 9 {
		return 0, false
	}
	deg, err1 := strconv.ParseFloat(s[:3], 64)
	min, err2 := strconv.ParseFloat(s[3:8], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	lon := deg + min/60.0
	switch s[8] {
	case 'W', 'w':
		lon = -lon
	case 'E', 'e':
	default:
		return 0, false
	}
	return round6(lon), true
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
