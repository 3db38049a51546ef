// Package decode defines the decoded-message union the server-side
// decoders publish and the audio transport forwards to clients.
package decode

import (
	"encoding/json"
	"time"
)

// AprsPacket is one decoded AX.25/APRS frame.
type AprsPacket struct {
	SrcCall     string   `json:"src_call"`
	DestCall    string   `json:"dest_call"`
	Path        string   `json:"path"`
	Info        string   `json:"info"`
	PacketType  string   `json:"packet_type"`
	CrcOk       bool     `json:"crc_ok"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	SymbolTable string   `json:"symbol_table,omitempty"`
	SymbolCode  string   `json:"symbol_code,omitempty"`
}

// CwEvent is a chunk of decoded Morse text with detector context.
type CwEvent struct {
	Text     string `json:"text"`
	Wpm      uint32 `json:"wpm"`
	ToneHz   uint32 `json:"tone_hz"`
	SignalOn bool   `json:"signal_on"`
}

// Ft8Message is one FT8 decode candidate.
type Ft8Message struct {
	Text   string  `json:"text"`
	SnrDb  float64 `json:"snr_db"`
	FreqHz float64 `json:"freq_hz"`
	DtSec  float64 `json:"dt_sec"`
}

// WsprMessage is one WSPR decode candidate.
type WsprMessage struct {
	Call    string  `json:"call,omitempty"`
	Grid    string  `json:"grid,omitempty"`
	PowerDbm int    `json:"power_dbm,omitempty"`
	SnrDb   float64 `json:"snr_db"`
	FreqHz  float64 `json:"freq_hz"`
}

// Kind tags the Message union.
type Kind string

const (
	KindAprs Kind = "aprs"
	KindCw   Kind = "cw"
	KindFt8  Kind = "ft8"
	KindWspr Kind = "wspr"
)

// Message is the tagged union carried on the decoded-message
// broadcast. TimestampMs is monotonic milliseconds since the Unix
// epoch.
type Message struct {
	Kind        Kind         `json:"kind"`
	TimestampMs int64        `json:"timestamp_ms"`
	Aprs        *AprsPacket  `json:"aprs,omitempty"`
	Cw          *CwEvent     `json:"cw,omitempty"`
	Ft8         *Ft8Message  `json:"ft8,omitempty"`
	Wspr        *WsprMessage `json:"wspr,omitempty"`
}

// NewAprsMessage stamps an APRS packet.
func NewAprsMessage(pkt AprsPacket) Message {
	return Message{Kind: KindAprs, TimestampMs: time.Now().UnixMilli(), Aprs: &pkt}
}

// NewCwMessage stamps a CW event.
func NewCwMessage(ev CwEvent) Message {
	return Message{Kind: KindCw, TimestampMs: time.Now().UnixMilli(), Cw: &ev}
}

// NewFt8Message stamps an FT8 decode.
func NewFt8Message(msg Ft8Message) Message {
	return Message{Kind: KindFt8, TimestampMs: time.Now().UnixMilli(), Ft8: &msg}
}

// NewWsprMessage stamps a WSPR decode.
func NewWsprMessage(msg WsprMessage) Message {
	return Message{Kind: KindWspr, TimestampMs: time.Now().UnixMilli(), Wspr: &msg}
}

// Encode renders the message for the audio transport and storage.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a stored or transported message.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
