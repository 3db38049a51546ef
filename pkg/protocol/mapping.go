package protocol

import (
	"fmt"

	"github.com/sgrams/trxd/pkg/rig"
)

// ClientToRig converts a wire command into the controller's command
// union. get_rigs has no rig-side equivalent and is answered by the
// multiplexer, never mapped.
func ClientToRig(c *ClientCommand) (rig.Command, error) {
	switch c.Cmd {
	case CmdGetState:
		return rig.Command{Kind: rig.CmdGetSnapshot}, nil
	case CmdSetFreq:
		return rig.Command{Kind: rig.CmdSetFreq, Freq: rig.Frequency{Hz: *c.FreqHz}}, nil
	case CmdSetMode:
		return rig.Command{Kind: rig.CmdSetMode, Mode: rig.ParseMode(*c.Mode)}, nil
	case CmdSetPtt:
		return rig.Command{Kind: rig.CmdSetPtt, Ptt: *c.Ptt}, nil
	case CmdPowerOn:
		return rig.Command{Kind: rig.CmdPowerOn}, nil
	case CmdPowerOff:
		return rig.Command{Kind: rig.CmdPowerOff}, nil
	case CmdToggleVfo:
		return rig.Command{Kind: rig.CmdToggleVfo}, nil
	case CmdLock:
		return rig.Command{Kind: rig.CmdLock}, nil
	case CmdUnlock:
		return rig.Command{Kind: rig.CmdUnlock}, nil
	case CmdGetTxLimit:
		return rig.Command{Kind: rig.CmdGetTxLimit}, nil
	case CmdSetTxLimit:
		return rig.Command{Kind: rig.CmdSetTxLimit, Limit: *c.Limit}, nil
	case CmdSetAprsDecodeEnabled:
		return rig.Command{Kind: rig.CmdSetAprsDecodeEnabled, Enabled: *c.Enabled}, nil
	case CmdSetCwDecodeEnabled:
		return rig.Command{Kind: rig.CmdSetCwDecodeEnabled, Enabled: *c.Enabled}, nil
	case CmdSetCwAuto:
		return rig.Command{Kind: rig.CmdSetCwAuto, Enabled: *c.Enabled}, nil
	case CmdSetCwWpm:
		return rig.Command{Kind: rig.CmdSetCwWpm, Wpm: *c.Wpm}, nil
	case CmdSetCwToneHz:
		return rig.Command{Kind: rig.CmdSetCwToneHz, ToneHz: *c.ToneHz}, nil
	case CmdSetFt8DecodeEnabled:
		return rig.Command{Kind: rig.CmdSetFt8DecodeEnabled, Enabled: *c.Enabled}, nil
	case CmdSetWsprDecodeEnabled:
		return rig.Command{Kind: rig.CmdSetWsprDecodeEnabled, Enabled: *c.Enabled}, nil
	case CmdResetAprsDecoder:
		return rig.Command{Kind: rig.CmdResetAprsDecoder}, nil
	case CmdResetCwDecoder:
		return rig.Command{Kind: rig.CmdResetCwDecoder}, nil
	case CmdResetFt8Decoder:
		return rig.Command{Kind: rig.CmdResetFt8Decoder}, nil
	case CmdResetWsprDecoder:
		return rig.Command{Kind: rig.CmdResetWsprDecoder}, nil
	default:
		return rig.Command{}, fmt.Errorf("no rig mapping for %q", c.Cmd)
	}
}

// RigToClient converts a controller command back to its wire form.
// Inverse of ClientToRig for every mappable command.
func RigToClient(c rig.Command) ClientCommand {
	switch c.Kind {
	case rig.CmdGetSnapshot:
		return ClientCommand{Cmd: CmdGetState}
	case rig.CmdSetFreq:
		hz := c.Freq.Hz
		return ClientCommand{Cmd: CmdSetFreq, FreqHz: &hz}
	case rig.CmdSetMode:
		mode := c.Mode.String()
		return ClientCommand{Cmd: CmdSetMode, Mode: &mode}
	case rig.CmdSetPtt:
		ptt := c.Ptt
		return ClientCommand{Cmd: CmdSetPtt, Ptt: &ptt}
	case rig.CmdPowerOn:
		return ClientCommand{Cmd: CmdPowerOn}
	case rig.CmdPowerOff:
		return ClientCommand{Cmd: CmdPowerOff}
	case rig.CmdToggleVfo:
		return ClientCommand{Cmd: CmdToggleVfo}
	case rig.CmdLock:
		return ClientCommand{Cmd: CmdLock}
	case rig.CmdUnlock:
		return ClientCommand{Cmd: CmdUnlock}
	case rig.CmdGetTxLimit:
		return ClientCommand{Cmd: CmdGetTxLimit}
	case rig.CmdSetTxLimit:
		limit := c.Limit
		return ClientCommand{Cmd: CmdSetTxLimit, Limit: &limit}
	case rig.CmdSetAprsDecodeEnabled:
		en := c.Enabled
		return ClientCommand{Cmd: CmdSetAprsDecodeEnabled, Enabled: &en}
	case rig.CmdSetCwDecodeEnabled:
		en := c.Enabled
		return ClientCommand{Cmd: CmdSetCwDecodeEnabled, Enabled: &en}
	case rig.CmdSetCwAuto:
		en := c.Enabled
		return ClientCommand{Cmd: CmdSetCwAuto, Enabled: &en}
	case rig.CmdSetCwWpm:
		wpm := c.Wpm
		return ClientCommand{Cmd: CmdSetCwWpm, Wpm: &wpm}
	case rig.CmdSetCwToneHz:
		tone := c.ToneHz
		return ClientCommand{Cmd: CmdSetCwToneHz, ToneHz: &tone}
	case rig.CmdSetFt8DecodeEnabled:
		en := c.Enabled
		return ClientCommand{Cmd: CmdSetFt8DecodeEnabled, Enabled: &en}
	case rig.CmdSetWsprDecodeEnabled:
		en := c.Enabled
		return ClientCommand{Cmd: CmdSetWsprDecodeEnabled, Enabled: &en}
	case rig.CmdResetAprsDecoder:
		return ClientCommand{Cmd: CmdResetAprsDecoder}
	case rig.CmdResetCwDecoder:
		return ClientCommand{Cmd: CmdResetCwDecoder}
	case rig.CmdResetFt8Decoder:
		return ClientCommand{Cmd: CmdResetFt8Decoder}
	case rig.CmdResetWsprDecoder:
		return ClientCommand{Cmd: CmdResetWsprDecoder}
	default:
		return ClientCommand{Cmd: CmdGetState}
	}
}
