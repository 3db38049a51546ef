package rig

import "fmt"

// CommandKind enumerates the operations the controller accepts.
type CommandKind int

const (
	CmdGetSnapshot CommandKind = iota
	CmdSetFreq
	CmdSetMode
	CmdSetPtt
	CmdPowerOn
	CmdPowerOff
	CmdToggleVfo
	CmdLock
	CmdUnlock
	CmdGetTxLimit
	CmdSetTxLimit
	CmdSetAprsDecodeEnabled
	CmdSetCwDecodeEnabled
	CmdSetCwAuto
	CmdSetCwWpm
	CmdSetCwToneHz
	CmdSetFt8DecodeEnabled
	CmdSetWsprDecodeEnabled
	CmdResetAprsDecoder
	CmdResetCwDecoder
	CmdResetFt8Decoder
	CmdResetWsprDecoder
)

var commandNames = map[CommandKind]string{
	CmdGetSnapshot:          "GetSnapshot",
	CmdSetFreq:              "SetFreq",
	CmdSetMode:              "SetMode",
	CmdSetPtt:               "SetPtt",
	CmdPowerOn:              "PowerOn",
	CmdPowerOff:             "PowerOff",
	CmdToggleVfo:            "ToggleVfo",
	CmdLock:                 "Lock",
	CmdUnlock:               "Unlock",
	CmdGetTxLimit:           "GetTxLimit",
	CmdSetTxLimit:           "SetTxLimit",
	CmdSetAprsDecodeEnabled: "SetAprsDecodeEnabled",
	CmdSetCwDecodeEnabled:   "SetCwDecodeEnabled",
	CmdSetCwAuto:            "SetCwAuto",
	CmdSetCwWpm:             "SetCwWpm",
	CmdSetCwToneHz:          "SetCwToneHz",
	CmdSetFt8DecodeEnabled:  "SetFt8DecodeEnabled",
	CmdSetWsprDecodeEnabled: "SetWsprDecodeEnabled",
	CmdResetAprsDecoder:     "ResetAprsDecoder",
	CmdResetCwDecoder:       "ResetCwDecoder",
	CmdResetFt8Decoder:      "ResetFt8Decoder",
	CmdResetWsprDecoder:     "ResetWsprDecoder",
}

func (k CommandKind) String() string {
	if s, ok := commandNames[k]; ok {
		return s
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is one operation for the controller, with its argument.
type Command struct {
	Kind    CommandKind
	Freq    Frequency
	Mode    Mode
	Ptt     bool
	Limit   uint8
	Enabled bool
	Wpm     uint32
	ToneHz  uint32
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSetFreq:
		return fmt.Sprintf("SetFreq(%d)", c.Freq.Hz)
	case CmdSetMode:
		return fmt.Sprintf("SetMode(%s)", c.Mode)
	case CmdSetPtt:
		return fmt.Sprintf("SetPtt(%v)", c.Ptt)
	case CmdSetTxLimit:
		return fmt.Sprintf("SetTxLimit(%d)", c.Limit)
	case CmdSetCwWpm:
		return fmt.Sprintf("SetCwWpm(%d)", c.Wpm)
	case CmdSetCwToneHz:
		return fmt.Sprintf("SetCwToneHz(%d)", c.ToneHz)
	default:
		return c.Kind.String()
	}
}

// IsDecoderCommand reports whether the command only mutates the
// server-side decoder section and never touches the rig.
func (c Command) IsDecoderCommand() bool {
	switch c.Kind {
	case CmdSetAprsDecodeEnabled, CmdSetCwDecodeEnabled, CmdSetCwAuto,
		CmdSetCwWpm, CmdSetCwToneHz, CmdSetFt8DecodeEnabled,
		CmdSetWsprDecodeEnabled, CmdResetAprsDecoder, CmdResetCwDecoder,
		CmdResetFt8Decoder, CmdResetWsprDecoder:
		return true
	}
	return false
}
