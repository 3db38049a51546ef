// Package protocol defines the line-framed JSON control protocol spoken
// between clients and the daemon, together with token validation and
// the mapping onto internal rig commands.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxLineBytes is the maximum accepted length of one protocol line,
// terminator included.
const MaxLineBytes = 16 * 1024

// Command name constants as they appear on the wire.
const (
	CmdGetState             = "get_state"
	CmdGetRigs              = "get_rigs"
	CmdSetFreq              = "set_freq"
	CmdSetMode              = "set_mode"
	CmdSetPtt               = "set_ptt"
	CmdPowerOn              = "power_on"
	CmdPowerOff             = "power_off"
	CmdToggleVfo            = "toggle_vfo"
	CmdLock                 = "lock"
	CmdUnlock               = "unlock"
	CmdGetTxLimit           = "get_tx_limit"
	CmdSetTxLimit           = "set_tx_limit"
	CmdSetAprsDecodeEnabled = "set_aprs_decode_enabled"
	CmdSetCwDecodeEnabled   = "set_cw_decode_enabled"
	CmdSetCwAuto            = "set_cw_auto"
	CmdSetCwWpm             = "set_cw_wpm"
	CmdSetCwToneHz          = "set_cw_tone_hz"
	CmdSetFt8DecodeEnabled  = "set_ft8_decode_enabled"
	CmdSetWsprDecodeEnabled = "set_wspr_decode_enabled"
	CmdResetAprsDecoder     = "reset_aprs_decoder"
	CmdResetCwDecoder       = "reset_cw_decoder"
	CmdResetFt8Decoder      = "reset_ft8_decoder"
	CmdResetWsprDecoder     = "reset_wspr_decoder"
)

// ClientCommand is the tagged command union. On the wire the tag and
// its arguments sit at the same level: {"cmd":"set_freq","freq_hz":...}.
type ClientCommand struct {
	Cmd    string  `json:"cmd"`
	FreqHz *uint64 `json:"freq_hz,omitempty"`
	Mode   *string `json:"mode,omitempty"`
	Ptt    *bool   `json:"ptt,omitempty"`
	Limit  *uint8  `json:"limit,omitempty"`
	// Enabled accompanies the decoder toggle commands.
	Enabled *bool   `json:"enabled,omitempty"`
	Wpm     *uint32 `json:"wpm,omitempty"`
	ToneHz  *uint32 `json:"tone_hz,omitempty"`
}

// requiredArgs names the argument field each command needs.
var requiredArgs = map[string]string{
	CmdSetFreq:              "freq_hz",
	CmdSetMode:              "mode",
	CmdSetPtt:               "ptt",
	CmdSetTxLimit:           "limit",
	CmdSetAprsDecodeEnabled: "enabled",
	CmdSetCwDecodeEnabled:   "enabled",
	CmdSetCwAuto:            "enabled",
	CmdSetCwWpm:             "wpm",
	CmdSetCwToneHz:          "tone_hz",
	CmdSetFt8DecodeEnabled:  "enabled",
	CmdSetWsprDecodeEnabled: "enabled",
}

var knownCommands = map[string]bool{
	CmdGetState: true, CmdGetRigs: true,
	CmdSetFreq: true, CmdSetMode: true, CmdSetPtt: true,
	CmdPowerOn: true, CmdPowerOff: true, CmdToggleVfo: true,
	CmdLock: true, CmdUnlock: true,
	CmdGetTxLimit: true, CmdSetTxLimit: true,
	CmdSetAprsDecodeEnabled: true, CmdSetCwDecodeEnabled: true,
	CmdSetCwAuto: true, CmdSetCwWpm: true, CmdSetCwToneHz: true,
	CmdSetFt8DecodeEnabled: true, CmdSetWsprDecodeEnabled: true,
	CmdResetAprsDecoder: true, CmdResetCwDecoder: true,
	CmdResetFt8Decoder: true, CmdResetWsprDecoder: true,
}

// Validate checks the tag is known and its required argument present.
func (c *ClientCommand) Validate() error {
	if c.Cmd == "" {
		return fmt.Errorf("missing cmd field")
	}
	if !knownCommands[c.Cmd] {
		return fmt.Errorf("unknown command %q", c.Cmd)
	}
	if arg, ok := requiredArgs[c.Cmd]; ok {
		present := false
		switch arg {
		case "freq_hz":
			present = c.FreqHz != nil
		case "mode":
			present = c.Mode != nil
		case "ptt":
			present = c.Ptt != nil
		case "limit":
			present = c.Limit != nil
		case "enabled":
			present = c.Enabled != nil
		case "wpm":
			present = c.Wpm != nil
		case "tone_hz":
			present = c.ToneHz != nil
		}
		if !present {
			return fmt.Errorf("command %s requires %s", c.Cmd, arg)
		}
	}
	return nil
}

// Envelope is one inbound protocol frame. Token and RigID are optional;
// a bare ClientCommand is a valid envelope with both unset.
type Envelope struct {
	Token *string `json:"token,omitempty"`
	RigID *string `json:"rig_id,omitempty"`
	ClientCommand
}

// ParseEnvelope parses a single protocol line. The envelope and the
// bare-command fallback share one wire shape, so a well-formed command
// parses identically either way.
func ParseEnvelope(line []byte) (*Envelope, error) {
	if len(line) > MaxLineBytes {
		return nil, fmt.Errorf("line exceeds %d bytes", MaxLineBytes)
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		// Fall back to a bare command for clients that send an
		// unwrapped payload.
		var cmd ClientCommand
		if err2 := json.Unmarshal(line, &cmd); err2 != nil {
			return nil, err
		}
		env = Envelope{ClientCommand: cmd}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode renders the envelope as one newline-terminated wire frame.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
