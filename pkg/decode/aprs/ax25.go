package aprs

import (
	"fmt"
	"strings"
)

// ax25Address is one seven-byte AX.25 address field.
type ax25Address struct {
	call string
	ssid uint8
	last bool
}

// decodeAx25Address unpacks the shifted-ASCII callsign, the SSID from
// bits 4:1 and the last-address flag from bit 0 of the seventh byte.
func decodeAx25Address(frame []byte, offset int) ax25Address {
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		ch := frame[offset+i] >> 1
		if ch > 32 {
			sb.WriteByte(ch)
		}
	}
	return ax25Address{
		call: strings.TrimRight(sb.String(), " "),
		ssid: (frame[offset+6] >> 1) & 0x0F,
		last: frame[offset+6]&0x01 == 1,
	}
}

type ax25Frame struct {
	src   ax25Address
	dest  ax25Address
	digis []ax25Address
	info  []byte
}

// parseAx25 splits a frame into destination, source, digipeater path
// and information field. Control and PID bytes are skipped.
func parseAx25(frame []byte) (*ax25Frame, bool) {
	if len(frame) < 16 {
		return nil, false
	}
	dest := decodeAx25Address(frame, 0)
	src := decodeAx25Address(frame, 7)

	offset := 14
	var digis []ax25Address
	lastAddr := src.last
	for !lastAddr && offset+7 <= len(frame) {
		digi := decodeAx25Address(frame, offset)
		lastAddr = digi.last
		digis = append(digis, digi)
		offset += 7
	}

	if offset+2 > len(frame) {
		return nil, false
	}
	return &ax25Frame{
		src:   src,
		dest:  dest,
		digis: digis,
		info:  frame[offset+2:],
	}, true
}

func formatCall(addr ax25Address) string {
	if addr.ssid != 0 {
		return fmt.Sprintf("%s-%d", addr.call, addr.ssid)
	}
	return addr.call
}
