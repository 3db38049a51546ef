package rig

import (
	"fmt"
	"strings"
)

// Frequency represents a tuning frequency in hertz.
type Frequency struct {
	Hz uint64 `json:"hz"`
}

// MHz returns the frequency in megahertz for display.
func (f Frequency) MHz() float64 {
	return float64(f.Hz) / 1e6
}

func (f Frequency) String() string {
	return fmt.Sprintf("%.6f MHz", f.MHz())
}

// Mode represents an operating mode. Known modes use their canonical
// uppercase name; anything else round-trips as-is (backend specific).
type Mode string

// Standard operating modes.
const (
	ModeLSB Mode = "LSB"
	ModeUSB Mode = "USB"
	ModeCW  Mode = "CW"
	ModeCWR Mode = "CWR"
	ModeAM  Mode = "AM"
	ModeFM  Mode = "FM"
	ModeWFM Mode = "WFM"
	ModeDIG Mode = "DIG"
	ModePKT Mode = "PKT"
)

// ParseMode parses a mode string into a Mode.
//
// Handles LSB, USB, CW, CWR, AM, FM, WFM, DIG, DIGI, PKT, PACKET
// case-insensitively. Unknown strings are kept uppercased so they
// round-trip back through String.
func ParseMode(s string) Mode {
	switch upper := strings.ToUpper(s); upper {
	case "LSB":
		return ModeLSB
	case "USB":
		return ModeUSB
	case "CW":
		return ModeCW
	case "CWR":
		return ModeCWR
	case "AM":
		return ModeAM
	case "FM":
		return ModeFM
	case "WFM":
		return ModeWFM
	case "DIG", "DIGI":
		return ModeDIG
	case "PKT", "PACKET":
		return ModePKT
	default:
		return Mode(upper)
	}
}

func (m Mode) String() string {
	return string(m)
}

// Known reports whether the mode is one of the standard variants.
func (m Mode) Known() bool {
	switch m {
	case ModeLSB, ModeUSB, ModeCW, ModeCWR, ModeAM, ModeFM, ModeWFM, ModeDIG, ModePKT:
		return true
	}
	return false
}

// Band represents a frequency range a backend can tune.
type Band struct {
	Name      string `json:"name,omitempty"`
	LowHz     uint64 `json:"low_hz"`
	HighHz    uint64 `json:"high_hz"`
	TxAllowed bool   `json:"tx_allowed"`
}

// Contains reports whether f falls inside the band.
func (b Band) Contains(f Frequency) bool {
	return f.Hz >= b.LowHz && f.Hz <= b.HighHz
}

// AccessMethod describes how a backend reaches the rig.
type AccessMethod struct {
	Type string `json:"type"` // "serial" or "tcp"
	Path string `json:"path,omitempty"`
	Baud int    `json:"baud,omitempty"`
	Addr string `json:"addr,omitempty"`
}

// SerialAccess returns an AccessMethod for a serial CAT port.
func SerialAccess(path string, baud int) AccessMethod {
	return AccessMethod{Type: "serial", Path: path, Baud: baud}
}

// TCPAccess returns an AccessMethod for a TCP CAT bridge.
func TCPAccess(addr string) AccessMethod {
	return AccessMethod{Type: "tcp", Addr: addr}
}

// Capabilities is a flat record of what a backend can do. The controller
// consults it to reject unsupported commands without touching hardware.
type Capabilities struct {
	MinFreqStepHz  uint64 `json:"min_freq_step_hz"`
	SupportedBands []Band `json:"supported_bands"`
	SupportedModes []Mode `json:"supported_modes"`
	NumVfos        int    `json:"num_vfos"`
	Lockable       bool   `json:"lockable"`
	Attenuator     bool   `json:"attenuator"`
	Preamp         bool   `json:"preamp"`
	Rit            bool   `json:"rit"`
	Rpt            bool   `json:"rpt"`
	Split          bool   `json:"split"`
	Tx             bool   `json:"tx"`
	TxLimit        bool   `json:"tx_limit"`
	VfoSwitch      bool   `json:"vfo_switch"`
	FilterControls bool   `json:"filter_controls"`
	SignalMeter    bool   `json:"signal_meter"`
}

// SupportsFreq reports whether f falls inside any declared band.
func (c *Capabilities) SupportsFreq(f Frequency) bool {
	for _, b := range c.SupportedBands {
		if b.Contains(f) {
			return true
		}
	}
	return false
}

// SupportsMode reports whether the backend declares mode m.
func (c *Capabilities) SupportsMode(m Mode) bool {
	for _, sm := range c.SupportedModes {
		if sm == m {
			return true
		}
	}
	return false
}

// Info is the static description of a rig backend, immutable after
// construction.
type Info struct {
	Manufacturer string       `json:"manufacturer"`
	Model        string       `json:"model"`
	Revision     string       `json:"revision"`
	Capabilities Capabilities `json:"capabilities"`
	Access       AccessMethod `json:"access"`
}

// bandPlan maps frequency ranges to amateur/broadcast band names for
// display. Entries are checked in order.
var bandPlan = []Band{
	{Name: "2200m", LowHz: 135_700, HighHz: 137_800},
	{Name: "630m", LowHz: 472_000, HighHz: 479_000},
	{Name: "160m", LowHz: 1_800_000, HighHz: 2_000_000},
	{Name: "80m", LowHz: 3_500_000, HighHz: 4_000_000},
	{Name: "60m", LowHz: 5_250_000, HighHz: 5_450_000},
	{Name: "40m", LowHz: 7_000_000, HighHz: 7_300_000},
	{Name: "30m", LowHz: 10_100_000, HighHz: 10_150_000},
	{Name: "20m", LowHz: 14_000_000, HighHz: 14_350_000},
	{Name: "17m", LowHz: 18_068_000, HighHz: 18_168_000},
	{Name: "15m", LowHz: 21_000_000, HighHz: 21_450_000},
	{Name: "12m", LowHz: 24_890_000, HighHz: 24_990_000},
	{Name: "CB", LowHz: 26_960_000, HighHz: 27_410_000},
	{Name: "10m", LowHz: 28_000_000, HighHz: 29_700_000},
	{Name: "6m", LowHz: 50_000_000, HighHz: 54_000_000},
	{Name: "FM bcast", LowHz: 87_500_000, HighHz: 108_000_000},
	{Name: "Air", LowHz: 108_000_000, HighHz: 137_000_000},
	{Name: "2m", LowHz: 144_000_000, HighHz: 148_000_000},
	{Name: "70cm", LowHz: 420_000_000, HighHz: 450_000_000},
	{Name: "23cm", LowHz: 1_240_000_000, HighHz: 1_300_000_000},
}

// BandName returns the display name of the band containing f, or ""
// when f falls outside the band plan.
func BandName(f Frequency) string {
	for _, b := range bandPlan {
		if b.Contains(f) {
			return b.Name
		}
	}
	return ""
}
