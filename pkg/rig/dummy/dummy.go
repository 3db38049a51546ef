// Package dummy implements an in-memory rig backend for development
// and tests. It answers every CAT call from local state with no I/O.
package dummy

import (
	"context"
	"sync"

	"github.com/sgrams/trxd/pkg/rig"
)

// Backend is the loopback rig. All operations succeed immediately.
type Backend struct {
	mu sync.Mutex

	info    rig.Info
	powered bool
	freq    rig.Frequency
	mode    rig.Mode
	ptt     bool
	locked  bool
	txLimit uint8
	vfoB    rig.Frequency
	onVfoB  bool
	signal  uint8
}

// New creates a dummy rig parked on 2 m USB.
func New() *Backend {
	return &Backend{
		info: rig.Info{
			Manufacturer: "trxd",
			Model:        "Dummy",
			Revision:     "1.0",
			Capabilities: rig.Capabilities{
				MinFreqStepHz: 10,
				SupportedBands: []rig.Band{
					{Name: "160m", LowHz: 1_800_000, HighHz: 2_000_000, TxAllowed: true},
					{Name: "80m", LowHz: 3_500_000, HighHz: 4_000_000, TxAllowed: true},
					{Name: "40m", LowHz: 7_000_000, HighHz: 7_300_000, TxAllowed: true},
					{Name: "20m", LowHz: 14_000_000, HighHz: 14_350_000, TxAllowed: true},
					{Name: "2m", LowHz: 144_000_000, HighHz: 148_000_000, TxAllowed: true},
					{Name: "70cm", LowHz: 420_000_000, HighHz: 450_000_000, TxAllowed: true},
				},
				SupportedModes: []rig.Mode{
					rig.ModeLSB, rig.ModeUSB, rig.ModeCW, rig.ModeCWR,
					rig.ModeAM, rig.ModeFM, rig.ModeWFM, rig.ModeDIG, rig.ModePKT,
				},
				NumVfos:     2,
				Lockable:    true,
				Tx:          true,
				TxLimit:     true,
				VfoSwitch:   true,
				SignalMeter: true,
			},
			Access: rig.AccessMethod{Type: "serial", Path: "dummy", Baud: 0},
		},
		freq:    rig.Frequency{Hz: 144_300_000},
		vfoB:    rig.Frequency{Hz: 7_074_000},
		mode:    rig.ModeUSB,
		txLimit: 100,
		signal:  5,
	}
}

// Info implements rig.Backend.
func (b *Backend) Info() rig.Info {
	return b.info
}

// GetStatus implements rig.Backend.
func (b *Backend) GetStatus(context.Context) (rig.Frequency, rig.Mode, *rig.Vfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.powered {
		return rig.Frequency{}, "", nil, rig.ErrTimeout("get_status")
	}
	active := 0
	if b.onVfoB {
		active = 1
	}
	vfo := &rig.Vfo{
		Entries: []rig.VfoEntry{
			{Name: "VFOA", Freq: b.freq},
			{Name: "VFOB", Freq: b.vfoB},
		},
		Active: &active,
	}
	if b.onVfoB {
		vfo.Entries[0].Freq, vfo.Entries[1].Freq = b.vfoB, b.freq
	}
	return b.freq, b.mode, vfo, nil
}

// SetFreq implements rig.Backend.
func (b *Backend) SetFreq(_ context.Context, f rig.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.info.Capabilities.SupportsFreq(f) {
		return rig.ErrInvalidState("frequency outside supported bands")
	}
	b.freq = f
	return nil
}

// SetMode implements rig.Backend.
func (b *Backend) SetMode(_ context.Context, m rig.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
	return nil
}

// SetPtt implements rig.Backend.
func (b *Backend) SetPtt(_ context.Context, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ptt = on
	return nil
}

// PowerOn implements rig.Backend.
func (b *Backend) PowerOn(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powered = true
	return nil
}

// PowerOff implements rig.Backend.
func (b *Backend) PowerOff(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powered = false
	b.ptt = false
	return nil
}

// ToggleVfo implements rig.Backend.
func (b *Backend) ToggleVfo(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freq, b.vfoB = b.vfoB, b.freq
	b.onVfoB = !b.onVfoB
	return nil
}

// Lock implements rig.Backend.
func (b *Backend) Lock(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locked = true
	return nil
}

// Unlock implements rig.Backend.
func (b *Backend) Unlock(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locked = false
	return nil
}

// GetSignalStrength implements rig.Backend.
func (b *Backend) GetSignalStrength(context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal, nil
}

// GetTxPower implements rig.Backend.
func (b *Backend) GetTxPower(context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ptt {
		return 0, nil
	}
	return b.txLimit, nil
}

// GetTxLimit implements rig.Backend.
func (b *Backend) GetTxLimit(context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txLimit, nil
}

// SetTxLimit implements rig.Backend.
func (b *Backend) SetTxLimit(_ context.Context, limit uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txLimit = limit
	return nil
}

// Close implements rig.Backend.
func (b *Backend) Close() error {
	return nil
}

// SetSignal adjusts the fake S-meter for tests.
func (b *Backend) SetSignal(raw uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signal = raw
}
