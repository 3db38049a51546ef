// Package rigctl serves the hamlib rigctld-compatible ASCII protocol
// so existing logging and digimode software can drive the rig.
package rigctl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sgrams/trxd/pkg/frontend"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/rig"
)

// Serve is the rigctl frontend entry point.
func Serve(ctx context.Context, env frontend.Env) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", env.ListenAddr)
	if err != nil {
		return fmt.Errorf("rigctl listener bind %s: %w", env.ListenAddr, err)
	}
	logging.Info("rigctl", "listening on "+env.ListenAddr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		go handleClient(ctx, conn, env)
	}
}

func handleClient(ctx context.Context, conn net.Conn, env frontend.Env) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, closeConn := processCommand(ctx, line, env)
		if reply != "" {
			if _, err := writer.WriteString(reply); err != nil {
				return
			}
			if err := writer.Flush(); err != nil {
				return
			}
		}
		if closeConn {
			return
		}
	}
}

func okOnly() string {
	return "RPRT 0\n"
}

func okResponse(lines ...string) string {
	var sb strings.Builder
	for _, line := range lines {
		if line != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("RPRT 0\n")
	return sb.String()
}

func errResponse(msg string) string {
	if msg != "" {
		logging.Debug("rigctl", "error reply: "+msg)
	}
	return "RPRT -1\n"
}

func snapshot(ctx context.Context, env frontend.Env) (rig.Snapshot, error) {
	return env.Do(ctx, rig.Command{Kind: rig.CmdGetSnapshot})
}

func isTrue(v string) bool {
	return v == "1" || strings.EqualFold(v, "on") || strings.EqualFold(v, "true")
}

func isFalse(v string) bool {
	return v == "0" || strings.EqualFold(v, "off") || strings.EqualFold(v, "false")
}

// processCommand interprets one rigctl line. The leading '+' of
// extended commands is tolerated and ignored.
func processCommand(ctx context.Context, line string, env frontend.Env) (reply string, closeConn bool) {
	parts := strings.Fields(line)
	op := strings.TrimPrefix(parts[0], "+")
	args := parts[1:]

	switch op {
	case "q", "Q", "\\q", "\\quit":
		return "", true

	case "f", "\\get_freq":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(strconv.FormatUint(snap.Status.Freq.Hz, 10)), false

	case "F", "\\set_freq":
		if len(args) < 1 {
			return errResponse("expected frequency in Hz"), false
		}
		hz, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errResponse("expected frequency in Hz"), false
		}
		if _, err := env.Do(ctx, rig.Command{Kind: rig.CmdSetFreq, Freq: rig.Frequency{Hz: hz}}); err != nil {
			return errResponse(err.Error()), false
		}
		return okOnly(), false

	case "m", "\\get_mode":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		// Mode plus passband width; the passband is not tracked.
		return okResponse(snap.Status.Mode.String(), "0"), false

	case "M", "\\set_mode":
		if len(args) < 1 {
			return errResponse("expected mode"), false
		}
		mode := rig.ParseMode(args[0])
		if _, err := env.Do(ctx, rig.Command{Kind: rig.CmdSetMode, Mode: mode}); err != nil {
			return errResponse(err.Error()), false
		}
		return okOnly(), false

	case "t", "\\get_ptt":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		if snap.Status.TxEn {
			return okResponse("1"), false
		}
		return okResponse("0"), false

	case "T", "\\set_ptt":
		if len(args) < 1 {
			return errResponse("expected PTT state (0/1)"), false
		}
		var ptt bool
		switch {
		case isTrue(args[0]):
			ptt = true
		case isFalse(args[0]):
			ptt = false
		default:
			return errResponse("expected PTT state (0/1)"), false
		}
		if _, err := env.Do(ctx, rig.Command{Kind: rig.CmdSetPtt, Ptt: ptt}); err != nil {
			return errResponse(err.Error()), false
		}
		return okOnly(), false

	case "v", "\\get_vfo":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(activeVfoLabel(&snap)), false

	case "V", "\\set_vfo":
		if len(args) < 1 {
			return errResponse("expected VFO (VFOA/VFOB)"), false
		}
		if err := setVfoTarget(ctx, args[0], env); err != nil {
			return errResponse(err.Error()), false
		}
		return okOnly(), false

	case "s", "\\get_split_vfo":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse("0", activeVfoLabel(&snap)), false

	case "S", "\\set_split_vfo":
		if len(args) < 1 {
			return errResponse("expected split state (0/1)"), false
		}
		if isFalse(args[0]) {
			return okOnly(), false
		}
		return errResponse("split mode not supported"), false

	case "\\get_info":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(fmt.Sprintf("Model: %s %s; Version: %s",
			snap.Info.Manufacturer, snap.Info.Model, snap.Info.Revision)), false

	case "i", "I":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(fmt.Sprintf("%s %s", snap.Info.Manufacturer, snap.Info.Model)), false

	case "\\get_powerstat", "get_powerstat":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		if snap.PowerOn {
			return okResponse("1"), false
		}
		return okResponse("0"), false

	case "\\chk_vfo", "chk_vfo":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(activeVfoLabel(&snap)), false

	case "\\dump_state", "dump_state":
		if _, err := snapshot(ctx, env); err != nil {
			return errResponse(err.Error()), false
		}
		return okResponse(dumpStateLines()...), false

	case "1", "\\dump_caps", "dump_caps", "\\dumpcaps", "dumpcaps":
		snap, err := snapshot(ctx, env)
		if err != nil {
			return errResponse(err.Error()), false
		}
		return dumpCapsResponse(&snap), false
	}

	logging.Warn("rigctl", "unsupported command: "+line)
	return errResponse("unsupported command"), false
}

// dumpStateLines is the fixed sequence hamlib's netrigctl_open parses.
// It mirrors the dummy backend for maximum client compatibility, so
// some fields do not reflect the actual rig; clients should prefer
// \dump_caps.
func dumpStateLines() []string {
	return []string{
		"1",
		"1",
		"0",
		"150000.000000 1500000000.000000 0x1ff -1 -1 0x17e00007 0xf",
		"0 0 0 0 0 0 0",
		"150000.000000 1500000000.000000 0x1ff 5000 100000 0x17e00007 0xf",
		"0 0 0 0 0 0 0",
		"0x1ff 1",
		"0x1ff 0",
		"0 0",
		"0xc 2400",
		"0xc 1800",
		"0xc 3000",
		"0xc 0",
		"0x2 500",
		"0x2 2400",
		"0x2 50",
		"0x2 0",
		"0x10 300",
		"0x10 2400",
		"0x10 50",
		"0x10 0",
		"0x1 8000",
		"0x1 2400",
		"0x1 10000",
		"0x20 15000",
		"0x20 8000",
		"0x40 230000",
		"0 0",
		"9990",
		"9990",
		"10000",
		"0",
		"10 ",
		"10 20 30 ",
		"0xffffffffffffffff",
		"0xffffffffffffffff",
		"0xfffffffff7ffffff",
		"0xfffeff7083ffffff",
		"0xffffffffffffffff",
		"0xffffffffffffffbf",
	}
}

// dumpCapsResponse emits `key=value` lines terminated by `done`.
// Unknown keys are tolerated by hamlib, malformed lines are not.
func dumpCapsResponse(snap *rig.Snapshot) string {
	var sb strings.Builder
	push := func(key, val string) {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(val)
		sb.WriteByte('\n')
	}
	push("protocol_version", "1")
	push("rig_model", "2")
	push("model_name", snap.Info.Model)
	push("mfg_name", snap.Info.Manufacturer)
	push("backend_version", snap.Info.Revision)
	push("vfo_count", strconv.Itoa(snap.Info.Capabilities.NumVfos))
	if snap.Info.Capabilities.NumVfos >= 2 {
		push("has_vfo_b", "1")
	} else {
		push("has_vfo_b", "0")
	}
	if snap.Info.Capabilities.Tx {
		push("can_ptt", "1")
	} else {
		push("can_ptt", "0")
	}
	sb.WriteString("done\n")
	return sb.String()
}

func activeVfoLabel(snap *rig.Snapshot) string {
	if snap.Status.Vfo != nil && snap.Status.Vfo.Active != nil {
		return fmt.Sprintf("VFO%c", 'A'+byte(*snap.Status.Vfo.Active))
	}
	return "VFOA"
}

func normalizeVfoName(target string) (string, bool) {
	switch strings.ToUpper(target) {
	case "VFOA", "A":
		return "VFOA", true
	case "VFOB", "B":
		return "VFOB", true
	}
	return "", false
}

// setVfoTarget toggles until the desired VFO is active; a no-op when
// it already is.
func setVfoTarget(ctx context.Context, target string, env frontend.Env) error {
	desired, okName := normalizeVfoName(target)
	if !okName {
		return fmt.Errorf("expected VFOA or VFOB")
	}
	snap, err := snapshot(ctx, env)
	if err != nil {
		return err
	}
	if activeVfoLabel(&snap) == desired {
		return nil
	}
	if snap.Info.Capabilities.NumVfos < 2 || snap.Status.Vfo == nil || len(snap.Status.Vfo.Entries) < 2 {
		return fmt.Errorf("VFO selection not supported")
	}
	if _, err := env.Do(ctx, rig.Command{Kind: rig.CmdToggleVfo}); err != nil {
		return err
	}
	after, err := snapshot(ctx, env)
	if err != nil {
		return err
	}
	if activeVfoLabel(&after) != desired {
		return fmt.Errorf("VFO did not switch to %s", desired)
	}
	return nil
}
