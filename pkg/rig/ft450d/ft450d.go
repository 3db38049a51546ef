// Package ft450d implements the Yaesu FT-450D backend. The rig speaks
// a Kenwood-style ASCII CAT protocol with ';'-terminated commands.
package ft450d

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/sgrams/trxd/pkg/rig"
)

const readTimeout = 800 * time.Millisecond

// Backend drives an FT-450D over a serial port or a TCP CAT bridge.
type Backend struct {
	port io.ReadWriteCloser
	info rig.Info

	activeVfo string
	vfoAFreq  *rig.Frequency
	vfoBFreq  *rig.Frequency
	vfoAMode  *rig.Mode
	vfoBMode  *rig.Mode
}

// New opens the serial CAT port.
func New(path string, baud int) (*Backend, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, rig.ErrFatal("open serial port", err)
	}
	return newWithPort(port, rig.SerialAccess(path, baud)), nil
}

// NewTCP connects to a TCP-to-serial CAT bridge.
func NewTCP(addr string) (*Backend, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, rig.ErrFatal("dial CAT bridge", err)
	}
	return newWithPort(conn, rig.TCPAccess(addr)), nil
}

func newWithPort(port io.ReadWriteCloser, access rig.AccessMethod) *Backend {
	return &Backend{
		port:      port,
		activeVfo: "A",
		info: rig.Info{
			Manufacturer: "Yaesu",
			Model:        "FT-450D",
			Capabilities: rig.Capabilities{
				MinFreqStepHz: 1,
				SupportedBands: []rig.Band{
					{LowHz: 1_800_000, HighHz: 2_000_000, TxAllowed: true},
					{LowHz: 3_500_000, HighHz: 4_000_000, TxAllowed: true},
					{LowHz: 7_000_000, HighHz: 7_300_000, TxAllowed: true},
					{LowHz: 10_100_000, HighHz: 10_150_000, TxAllowed: true},
					{LowHz: 14_000_000, HighHz: 14_350_000, TxAllowed: true},
					{LowHz: 18_068_000, HighHz: 18_168_000, TxAllowed: true},
					{LowHz: 21_000_000, HighHz: 21_450_000, TxAllowed: true},
					{LowHz: 24_890_000, HighHz: 24_990_000, TxAllowed: true},
					{LowHz: 28_000_000, HighHz: 29_700_000, TxAllowed: true},
					{LowHz: 50_000_000, HighHz: 54_000_000, TxAllowed: true},
					{LowHz: 100_000, HighHz: 1_799_999, TxAllowed: false},
					{LowHz: 2_000_001, HighHz: 30_000_000, TxAllowed: false},
				},
				SupportedModes: []rig.Mode{
					rig.ModeLSB, rig.ModeUSB, rig.ModeCW, rig.ModeCWR,
					rig.ModeAM, rig.ModeFM, rig.ModeDIG, rig.ModePKT,
				},
				NumVfos:     2,
				Lockable:    true,
				Tx:          true,
				VfoSwitch:   true,
				SignalMeter: true,
			},
			Access: access,
		},
	}
}

// Info implements rig.Backend.
func (b *Backend) Info() rig.Info {
	return b.info
}

// GetStatus implements rig.Backend.
func (b *Backend) GetStatus(ctx context.Context) (rig.Frequency, rig.Mode, *rig.Vfo, error) {
	hz, err := b.readFreq()
	if err != nil {
		return rig.Frequency{}, "", nil, err
	}
	mode, err := b.readMode()
	if err != nil {
		return rig.Frequency{}, "", nil, err
	}
	freq := rig.Frequency{Hz: hz}
	b.updateVfoFreq(freq)
	b.updateVfoMode(mode)
	return freq, mode, b.vfoView(), nil
}

func (b *Backend) vfoView() *rig.Vfo {
	var entries []rig.VfoEntry
	if b.vfoAFreq != nil {
		entries = append(entries, rig.VfoEntry{Name: "A", Freq: *b.vfoAFreq, Mode: b.vfoAMode})
	}
	if b.vfoBFreq != nil {
		entries = append(entries, rig.VfoEntry{Name: "B", Freq: *b.vfoBFreq, Mode: b.vfoBMode})
	}
	if len(entries) == 0 {
		return nil
	}
	var active *int
	for idx, e := range entries {
		if e.Name == b.activeVfo {
			i := idx
			active = &i
			break
		}
	}
	return &rig.Vfo{Entries: entries, Active: active}
}

// SetFreq implements rig.Backend: FA{freq:08};
func (b *Backend) SetFreq(_ context.Context, f rig.Frequency) error {
	if err := b.writeCmd(fmt.Sprintf("FA%08d;", f.Hz)); err != nil {
		return err
	}
	b.updateVfoFreq(f)
	return nil
}

// SetMode implements rig.Backend: MD0{code};
func (b *Backend) SetMode(_ context.Context, m rig.Mode) error {
	code, err := encodeMode(m)
	if err != nil {
		return err
	}
	if err := b.writeCmd(fmt.Sprintf("MD0%c;", code)); err != nil {
		return err
	}
	b.updateVfoMode(m)
	return nil
}

// SetPtt implements rig.Backend: TX{0|1};
func (b *Backend) SetPtt(_ context.Context, on bool) error {
	if on {
		return b.writeCmd("TX1;")
	}
	return b.writeCmd("TX0;")
}

// PowerOn implements rig.Backend: PS1;
func (b *Backend) PowerOn(context.Context) error {
	return b.writeCmd("PS1;")
}

// PowerOff implements rig.Backend: PS0;
func (b *Backend) PowerOff(context.Context) error {
	return b.writeCmd("PS0;")
}

// ToggleVfo implements rig.Backend: VS toggles the active VFO.
func (b *Backend) ToggleVfo(context.Context) error {
	next := "VS1;"
	if b.activeVfo == "B" {
		next = "VS0;"
	}
	if err := b.writeCmd(next); err != nil {
		return err
	}
	if b.activeVfo == "A" {
		b.activeVfo = "B"
	} else {
		b.activeVfo = "A"
	}
	return nil
}

// Lock implements rig.Backend: LK1;
func (b *Backend) Lock(context.Context) error {
	return b.writeCmd("LK1;")
}

// Unlock implements rig.Backend: LK0;
func (b *Backend) Unlock(context.Context) error {
	return b.writeCmd("LK0;")
}

// GetSignalStrength implements rig.Backend: SM0; answers SM0nnn;
func (b *Backend) GetSignalStrength(context.Context) (uint8, error) {
	return b.readMeter("SM0;")
}

// GetTxPower implements rig.Backend. The FT-450D reports the PO meter
// through RM5.
func (b *Backend) GetTxPower(context.Context) (uint8, error) {
	return b.readMeter("RM5;")
}

// GetTxLimit implements rig.Backend: PC; answers PCnnn;
func (b *Backend) GetTxLimit(context.Context) (uint8, error) {
	resp, err := b.query("PC;")
	if err != nil {
		return 0, err
	}
	digits := strings.TrimPrefix(resp, "PC")
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, rig.ErrProtocol("get_tx_limit", "bad PC response "+resp)
	}
	return uint8(v), nil
}

// SetTxLimit implements rig.Backend: PC{nnn};
func (b *Backend) SetTxLimit(_ context.Context, limit uint8) error {
	return b.writeCmd(fmt.Sprintf("PC%03d;", limit))
}

// Close implements rig.Backend.
func (b *Backend) Close() error {
	return b.port.Close()
}

func (b *Backend) readFreq() (uint64, error) {
	resp, err := b.query("FA;")
	if err != nil {
		return 0, err
	}
	digits := strings.TrimPrefix(resp, "FA")
	if digits == resp {
		return 0, rig.ErrProtocol("read_freq", "CAT freq response missing FA")
	}
	hz, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, rig.ErrProtocol("read_freq", "bad frequency digits "+digits)
	}
	return hz, nil
}

func (b *Backend) readMode() (rig.Mode, error) {
	resp, err := b.query("MD0;")
	if err != nil {
		return "", err
	}
	body := strings.TrimPrefix(resp, "MD")
	if body == resp || len(body) < 2 {
		return "", rig.ErrProtocol("read_mode", "CAT mode response missing MD")
	}
	return decodeMode(body[1]), nil
}

func (b *Backend) readMeter(cmd string) (uint8, error) {
	resp, err := b.query(cmd)
	if err != nil {
		return 0, err
	}
	// Responses look like SM0nnn or RM5nnn.
	if len(resp) < 4 {
		return 0, rig.ErrProtocol("read_meter", "short meter response "+resp)
	}
	v, err := strconv.Atoi(resp[3:])
	if err != nil {
		return 0, rig.ErrProtocol("read_meter", "bad meter response "+resp)
	}
	// Scale the 0-255 meter to the 0-15 range the S-unit mapping expects.
	return uint8(v >> 4), nil
}

func (b *Backend) writeCmd(cmd string) error {
	if _, err := b.port.Write([]byte(cmd)); err != nil {
		return rig.ErrTransient("write CAT command", err)
	}
	return nil
}

// readResponse accumulates bytes until the ';' terminator.
func (b *Backend) readResponse() (string, error) {
	deadline := time.Now().Add(readTimeout)
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		if time.Now().After(deadline) {
			return "", rig.ErrTimeout("CAT read")
		}
		n, err := b.port.Read(buf)
		if err != nil && err != io.EOF {
			return "", rig.ErrTransient("CAT read", err)
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if buf[0] == ';' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
	}
}

func (b *Backend) query(cmd string) (string, error) {
	if err := b.writeCmd(cmd); err != nil {
		return "", err
	}
	return b.readResponse()
}

func (b *Backend) updateVfoFreq(f rig.Frequency) {
	freq := f
	if b.activeVfo == "A" {
		b.vfoAFreq = &freq
	} else {
		b.vfoBFreq = &freq
	}
}

func (b *Backend) updateVfoMode(m rig.Mode) {
	mode := m
	if b.activeVfo == "A" {
		b.vfoAMode = &mode
	} else {
		b.vfoBMode = &mode
	}
}

// encodeMode maps a mode onto the single-digit MD code.
func encodeMode(m rig.Mode) (byte, error) {
	switch m {
	case rig.ModeLSB:
		return '1', nil
	case rig.ModeUSB:
		return '2', nil
	case rig.ModeCW:
		return '3', nil
	case rig.ModeFM:
		return '4', nil
	case rig.ModeAM:
		return '5', nil
	case rig.ModeDIG:
		return '6', nil
	case rig.ModeCWR:
		return '7', nil
	case rig.ModePKT:
		return '8', nil
	default:
		return 0, rig.ErrNotSupported("mode " + m.String())
	}
}

func decodeMode(code byte) rig.Mode {
	switch code {
	case '1':
		return rig.ModeLSB
	case '2':
		return rig.ModeUSB
	case '3':
		return rig.ModeCW
	case '4':
		return rig.ModeFM
	case '5':
		return rig.ModeAM
	case '6':
		return rig.ModeDIG
	case '7':
		return rig.ModeCWR
	case '8':
		return rig.ModePKT
	default:
		return rig.Mode(fmt.Sprintf("MODE_%c", code))
	}
}
