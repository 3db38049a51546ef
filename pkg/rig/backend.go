package rig

import (
	"context"

	"github.com/sgrams/trxd/pkg/broadcast"
)

// Backend is the capability-bound surface every rig adapter implements.
//
// Each call is an independent request/response; backends must not buffer
// commands across calls. CAT reads are expected to time out within
// roughly 800 ms. Backends wrap wire failures in *Error so the
// controller can classify them.
type Backend interface {
	// Info returns the static rig description. Immutable after construction.
	Info() Info

	// GetStatus reads the current frequency, mode and (when known) VFO
	// layout via CAT.
	GetStatus(ctx context.Context) (Frequency, Mode, *Vfo, error)

	SetFreq(ctx context.Context, f Frequency) error
	SetMode(ctx context.Context, m Mode) error
	SetPtt(ctx context.Context, on bool) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	ToggleVfo(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error

	GetSignalStrength(ctx context.Context) (uint8, error)
	GetTxPower(ctx context.Context) (uint8, error)
	GetTxLimit(ctx context.Context) (uint8, error)
	SetTxLimit(ctx context.Context, limit uint8) error

	Close() error
}

// AudioSource is implemented by backends that demodulate their own audio
// (SDR backends). Subscribers receive fixed-duration frames of mono f32
// PCM; slow subscribers lose whole frames and learn the lag count.
type AudioSource interface {
	SubscribePCM() *broadcast.Receiver[[]float32]
	PCMSampleRate() int
}

// FilterControl is implemented by backends with runtime DSP controls.
// Backends lacking a particular control return a not-supported error.
type FilterControl interface {
	SetBandwidth(ctx context.Context, hz uint32) error
	SetFirTaps(ctx context.Context, taps uint32) error
	SetCenterFreq(ctx context.Context, f Frequency) error
	SetWfmDeemphasis(ctx context.Context, us uint32) error
	SetWfmDenoise(ctx context.Context, enabled bool) error
	SetWfmStereo(ctx context.Context, enabled bool) error
	FilterState() *FilterState
}

// SpectrumSource is implemented by backends that produce spectrum frames.
type SpectrumSource interface {
	Spectrum() *SpectrumData
}

// RdsSource is implemented by backends whose demodulator carries an
// RDS decoder (WFM on SDR backends).
type RdsSource interface {
	RdsState() *RdsState
	ResetRds()
}

// AsRdsSource returns the backend's RDS source, or nil.
func AsRdsSource(b Backend) RdsSource {
	if rs, ok := b.(RdsSource); ok {
		return rs
	}
	return nil
}

// AsAudioSource returns the backend's audio source, or nil.
func AsAudioSource(b Backend) AudioSource {
	if as, ok := b.(AudioSource); ok {
		return as
	}
	return nil
}

// AsFilterControl returns the backend's filter controls, or nil.
func AsFilterControl(b Backend) FilterControl {
	if fc, ok := b.(FilterControl); ok {
		return fc
	}
	return nil
}

// AsSpectrumSource returns the backend's spectrum source, or nil.
func AsSpectrumSource(b Backend) SpectrumSource {
	if ss, ok := b.(SpectrumSource); ok {
		return ss
	}
	return nil
}
