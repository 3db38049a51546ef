// Package ft817 implements the Yaesu FT-817 backend. The rig speaks a
// 5-byte binary CAT protocol: four data bytes and an opcode.
package ft817

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tarm/serial"

	"github.com/sgrams/trxd/pkg/rig"
)

// CAT opcodes.
const (
	cmdLock       = 0x00
	cmdSetFreq    = 0x01
	cmdReadStatus = 0x03
	cmdSetMode    = 0x07
	cmdPttOn      = 0x08
	cmdUnlock     = 0x80
	cmdToggleVfo  = 0x81
	cmdPttOff     = 0x88
	cmdPowerOn    = 0x0F
	cmdPowerOff   = 0x8F
	cmdReadMeter  = 0xE7
)

const readTimeout = 800 * time.Millisecond

type vfoSide int

const (
	vfoA vfoSide = iota
	vfoB
)

// Backend drives an FT-817 over a serial port or a TCP CAT bridge.
type Backend struct {
	port io.ReadWriteCloser
	info rig.Info

	vfoSide  vfoSide
	vfoAFreq *rig.Frequency
	vfoBFreq *rig.Frequency
	vfoAMode *rig.Mode
	vfoBMode *rig.Mode
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
		port: port,
		info: rig.Info{
			Manufacturer: "Yaesu",
			Model:        "FT-817",
			Capabilities: rig.Capabilities{
				MinFreqStepHz: 10,
				SupportedBands: []rig.Band{
					{LowHz: 1_800_000, HighHz: 2_000_000, TxAllowed: true},
					{LowHz: 3_500_000, HighHz: 4_000_000, TxAllowed: true},
					{LowHz: 5_250_000, HighHz: 5_450_000, TxAllowed: true},
					{LowHz: 7_000_000, HighHz: 7_300_000, TxAllowed: true},
					{LowHz: 10_100_000, HighHz: 10_150_000, TxAllowed: true},
					{LowHz: 14_000_000, HighHz: 14_350_000, TxAllowed: true},
					{LowHz: 18_068_000, HighHz: 18_168_000, TxAllowed: true},
					{LowHz: 21_000_000, HighHz: 21_450_000, TxAllowed: true},
					{LowHz: 24_890_000, HighHz: 24_990_000, TxAllowed: true},
					{LowHz: 28_000_000, HighHz: 29_700_000, TxAllowed: true},
					{LowHz: 50_000_000, HighHz: 54_000_000, TxAllowed: true},
					// Receive-only general coverage below the encodable
					// CAT range limit.
					{LowHz: 100_000, HighHz: 1_799_999, TxAllowed: false},
					{LowHz: 2_000_001, HighHz: 3_499_999, TxAllowed: false},
					{LowHz: 4_000_001, HighHz: 5_249_999, TxAllowed: false},
					{LowHz: 5_450_001, HighHz: 6_999_999, TxAllowed: false},
					{LowHz: 7_300_001, HighHz: 10_099_999, TxAllowed: false},
					{LowHz: 10_150_001, HighHz: 13_999_999, TxAllowed: false},
					{LowHz: 14_350_001, HighHz: 18_067_999, TxAllowed: false},
					{LowHz: 18_168_001, HighHz: 20_999_999, TxAllowed: false},
					{LowHz: 21_450_001, HighHz: 24_889_999, TxAllowed: false},
					{LowHz: 24_990_001, HighHz: 27_999_999, TxAllowed: false},
					{LowHz: 29_700_001, HighHz: 49_999_999, TxAllowed: false},
					{LowHz: 54_000_001, HighHz: 76_000_000, TxAllowed: false},
				},
				SupportedModes: []rig.Mode{
					rig.ModeLSB, rig.ModeUSB, rig.ModeCW, rig.ModeCWR,
					rig.ModeAM, rig.ModeWFM, rig.ModeFM, rig.ModeDIG, rig.ModePKT,
				},
				NumVfos:     2,
				Lockable:    true,
				Tx:          true,
				TxLimit:     true,
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

// GetStatus implements rig.Backend. The rig answers the status opcode
// with four BCD frequency bytes and one mode byte.
func (b *Backend) GetStatus(ctx context.Context) (rig.Frequency, rig.Mode, *rig.Vfo, error) {
	hz, mode, err := b.readStatus(ctx)
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
	switch {
	case b.vfoSide == vfoA && b.vfoAFreq != nil:
		idx := 0
		active = &idx
	case b.vfoSide == vfoB && b.vfoAFreq != nil:
		idx := 1
		active = &idx
	case b.vfoSide == vfoB && b.vfoBFreq != nil:
		idx := 0
		active = &idx
	}
	return &rig.Vfo{Entries: entries, Active: active}
}

// SetFreq implements rig.Backend.
func (b *Backend) SetFreq(_ context.Context, f rig.Frequency) error {
	bcd, err := EncodeFreqBCD(f.Hz)
	if err != nil {
		return err
	}
	frame := [5]byte{bcd[0], bcd[1], bcd[2], bcd[3], cmdSetFreq}
	if err := b.writeFrame(frame); err != nil {
		return err
	}
	b.updateVfoFreq(f)
	return nil
}

// SetMode implements rig.Backend. The frame is sent twice with a short
// gap; some rigs miss the first one.
func (b *Backend) SetMode(ctx context.Context, m rig.Mode) error {
	_ = b.Unlock(ctx)

	frame := [5]byte{encodeMode(m), 0x00, 0x00, 0x00, cmdSetMode}
	if err := b.writeFrame(frame); err != nil {
		return err
	}
	time.Sleep(80 * time.Millisecond)
	if err := b.writeFrame(frame); err != nil {
		return err
	}
	b.updateVfoMode(m)
	return nil
}

// SetPtt implements rig.Backend.
func (b *Backend) SetPtt(_ context.Context, on bool) error {
	opcode := byte(cmdPttOff)
	if on {
		opcode = cmdPttOn
	}
	return b.writeFrame([5]byte{0, 0, 0, 0, opcode})
}

// PowerOn implements rig.Backend. A dummy frame precedes the wake
// opcode per the CAT manual.
func (b *Backend) PowerOn(context.Context) error {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, 0}); err != nil {
		return err
	}
	return b.writeFrame([5]byte{0, 0, 0, 0, cmdPowerOn})
}

// PowerOff implements rig.Backend.
func (b *Backend) PowerOff(context.Context) error {
	return b.writeFrame([5]byte{0, 0, 0, 0, cmdPowerOff})
}

// ToggleVfo implements rig.Backend.
func (b *Backend) ToggleVfo(context.Context) error {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, cmdToggleVfo}); err != nil {
		return err
	}
	if b.vfoSide == vfoA {
		b.vfoSide = vfoB
	} else {
		b.vfoSide = vfoA
	}
	return nil
}

// Lock implements rig.Backend. The rig echoes one ack byte.
func (b *Backend) Lock(context.Context) error {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, cmdLock}); err != nil {
		return err
	}
	b.drainAck()
	return nil
}

// Unlock implements rig.Backend.
func (b *Backend) Unlock(context.Context) error {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, cmdUnlock}); err != nil {
		return err
	}
	b.drainAck()
	return nil
}

// GetSignalStrength implements rig.Backend. The meter byte's low
// nibble is the S-meter reading (0-15).
func (b *Backend) GetSignalStrength(ctx context.Context) (uint8, error) {
	raw, err := b.readMeter(ctx)
	if err != nil {
		return 0, err
	}
	return raw & 0x0f, nil
}

// GetTxPower implements rig.Backend. During TX the same meter opcode
// reports PO in the low nibble.
func (b *Backend) GetTxPower(ctx context.Context) (uint8, error) {
	raw, err := b.readMeter(ctx)
	if err != nil {
		return 0, err
	}
	return raw & 0x0f, nil
}

// GetTxLimit implements rig.Backend. The FT-817 has no CAT command for
// the power setting; a fixed full-scale value is reported.
func (b *Backend) GetTxLimit(context.Context) (uint8, error) {
	return 100, nil
}

// SetTxLimit implements rig.Backend.
func (b *Backend) SetTxLimit(context.Context, uint8) error {
	return rig.ErrNotSupported("set_tx_limit")
}

// Close implements rig.Backend.
func (b *Backend) Close() error {
	return b.port.Close()
}

func (b *Backend) readStatus(_ context.Context) (uint64, rig.Mode, error) {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, cmdReadStatus}); err != nil {
		return 0, "", err
	}
	var buf [5]byte
	if err := b.readExact(buf[:]); err != nil {
		return 0, "", err
	}
	hz, err := DecodeFreqBCD([4]byte{buf[0], buf[1], buf[2], buf[3]})
	if err != nil {
		return 0, "", err
	}
	return hz, decodeMode(buf[4]), nil
}

func (b *Backend) readMeter(_ context.Context) (uint8, error) {
	if err := b.writeFrame([5]byte{0, 0, 0, 0, cmdReadMeter}); err != nil {
		return 0, err
	}
	var buf [1]byte
	if err := b.readExact(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *Backend) writeFrame(frame [5]byte) error {
	if _, err := b.port.Write(frame[:]); err != nil {
		return rig.ErrTransient("write CAT frame", err)
	}
	return nil
}

// readExact fills buf within the CAT read timeout. The serial port is
// opened with a short poll timeout so partial reads accumulate here.
func (b *Backend) readExact(buf []byte) error {
	deadline := time.Now().Add(readTimeout)
	read := 0
	for read < len(buf) {
		if time.Now().After(deadline) {
			return rig.ErrTimeout("CAT read")
		}
		n, err := b.port.Read(buf[read:])
		if err != nil && err != io.EOF {
			return rig.ErrTransient("CAT read", err)
		}
		read += n
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return nil
}

// drainAck consumes the single ack byte lock/unlock produce, ignoring
// a missing one.
func (b *Backend) drainAck() {
	var buf [1]byte
	_, _ = b.port.Read(buf[:])
}

func (b *Backend) updateVfoFreq(f rig.Frequency) {
	freq := f
	if b.vfoSide == vfoA {
		b.vfoAFreq = &freq
	} else {
		b.vfoBFreq = &freq
	}
}

func (b *Backend) updateVfoMode(m rig.Mode) {
	mode := m
	if b.vfoSide == vfoA {
		b.vfoAMode = &mode
	} else {
		b.vfoBMode = &mode
	}
}

func encodeMode(m rig.Mode) byte {
	switch m {
	case rig.ModeLSB:
		return 0x00
	case rig.ModeUSB:
		return 0x01
	case rig.ModeCW:
		return 0x02
	case rig.ModeCWR:
		return 0x03
	case rig.ModeAM:
		return 0x04
	case rig.ModeWFM:
		return 0x06
	case rig.ModeFM:
		return 0x08
	case rig.ModeDIG:
		return 0x0A
	case rig.ModePKT:
		return 0x0C
	default:
		return 0x00
	}
}

func decodeMode(code byte) rig.Mode {
	switch code {
	case 0x00:
		return rig.ModeLSB
	case 0x01:
		return rig.ModeUSB
	case 0x02:
		return rig.ModeCW
	case 0x03:
		return rig.ModeCWR
	case 0x04:
		return rig.ModeAM
	case 0x06:
		return rig.ModeWFM
	case 0x08:
		return rig.ModeFM
	case 0x0A:
		return rig.ModeDIG
	case 0x0C:
		return rig.ModePKT
	default:
		return rig.Mode(fmt.Sprintf("MODE_%02X", code))
	}
}
