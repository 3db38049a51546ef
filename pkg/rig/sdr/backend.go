package sdr

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/mjibson/go-dsp/fft"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/dsp"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/rig"
)

const spectrumBins = 1024

// Config parameterises the SDR backend.
type Config struct {
	SampleRate      uint32
	CenterOffsetHz  int64
	InitialFreqHz   uint64
	InitialMode     rig.Mode
	AudioSampleRate uint32
	OutputChannels  int
	FrameDurationMs int
	BandwidthHz     uint32
	FirTaps         int
	WfmDeemphasisUs uint32
	WfmStereo       bool
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 1_024_000
	}
	if c.InitialFreqHz == 0 {
		c.InitialFreqHz = 96_000_000
	}
	if c.InitialMode == "" {
		c.InitialMode = rig.ModeWFM
	}
	if c.AudioSampleRate == 0 {
		c.AudioSampleRate = 48_000
	}
	if c.OutputChannels == 0 {
		c.OutputChannels = 2
	}
	if c.FrameDurationMs == 0 {
		c.FrameDurationMs = 20
	}
	if c.FirTaps == 0 {
		c.FirTaps = 64
	}
	if c.WfmDeemphasisUs == 0 {
		c.WfmDeemphasisUs = 50
	}
}

// Backend is the RX-only SDR rig. A dedicated OS thread reads IQ
// blocks and drives the channel DSP; CAT-style calls adjust tuning
// state under the same mutex the DSP holds per block.
type Backend struct {
	cfg  Config
	info rig.Info

	mu       sync.Mutex
	source   IQSource
	channel  *Channel
	centerHz int64
	dialHz   uint64
	mode     rig.Mode
	sigRaw   uint8
	denoise  bool

	spectrumMu sync.Mutex
	spectrum   []float32

	pcm  *broadcast.Channel[[]float32]
	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds the backend around source and starts the IQ thread.
func New(cfg Config, source IQSource) *Backend {
	cfg.applyDefaults()

	pcm := broadcast.New[[]float32](32)
	hardwareCenter := int64(cfg.InitialFreqHz) - cfg.CenterOffsetHz
	channelIf := float64(int64(cfg.InitialFreqHz) - hardwareCenter)

	b := &Backend{
		cfg: cfg,
		info: rig.Info{
			Manufacturer: "trxd",
			Model:        "SDR",
			Revision:     "1.0",
			Capabilities: rig.Capabilities{
				MinFreqStepHz: 1,
				SupportedBands: []rig.Band{
					{Name: "RX", LowHz: 100_000, HighHz: 1_750_000_000},
				},
				SupportedModes: []rig.Mode{
					rig.ModeLSB, rig.ModeUSB, rig.ModeCW, rig.ModeCWR,
					rig.ModeAM, rig.ModeFM, rig.ModeWFM, rig.ModeDIG, rig.ModePKT,
				},
				NumVfos:        1,
				FilterControls: true,
				SignalMeter:    true,
			},
			Access: rig.AccessMethod{Type: "tcp"},
		},
		source:   source,
		centerHz: hardwareCenter,
		dialHz:   cfg.InitialFreqHz,
		mode:     cfg.InitialMode,
		pcm:      pcm,
		stop:     make(chan struct{}),
		denoise:  true,
	}

	b.channel = NewChannel(ChannelConfig{
		ChannelIfHz:     effectiveIf(channelIf, cfg.InitialMode),
		Mode:            cfg.InitialMode,
		SdrSampleRate:   cfg.SampleRate,
		AudioSampleRate: cfg.AudioSampleRate,
		OutputChannels:  cfg.OutputChannels,
		FrameDurationMs: cfg.FrameDurationMs,
		BandwidthHz:     cfg.BandwidthHz,
		WfmDeemphasisUs: cfg.WfmDeemphasisUs,
		WfmStereo:       cfg.WfmStereo,
		FirTaps:         cfg.FirTaps,
	}, pcm)

	b.wg.Add(1)
	go b.runPipeline()
	return b
}

// effectiveIf negates the IF for LSB so the demodulator stays the USB
// passthrough.
func effectiveIf(ifHz float64, mode rig.Mode) float64 {
	if mode == rig.ModeLSB {
		return -ifHz
	}
	return ifHz
}

// runPipeline is the dedicated IQ read + DSP loop.
func (b *Backend) runPipeline() {
	defer b.wg.Done()
	runtime.LockOSThread()

	block := make([]complex64, dsp.IQBlockSize)
	blockCount := 0
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if err := b.source.ReadBlock(block); err != nil {
			select {
			case <-b.stop:
			default:
				logging.Error("sdr", fmt.Sprintf("IQ read failed: %v", err))
			}
			return
		}

		b.mu.Lock()
		b.channel.ProcessBlock(block)
		b.mu.Unlock()

		blockCount++
		if blockCount%8 == 0 {
			b.updateSpectrum(block)
			b.updateSignalEstimate(block)
		}
	}
}

// updateSpectrum publishes a magnitude frame from the latest block.
func (b *Backend) updateSpectrum(block []complex64) {
	in := make([]complex128, spectrumBins)
	step := len(block) / spectrumBins
	if step < 1 {
		step = 1
	}
	for i := 0; i < spectrumBins && i*step < len(block); i++ {
		s := block[i*step]
		in[i] = complex(float64(real(s)), float64(imag(s)))
	}
	out := fft.FFT(in)
	bins := make([]float32, spectrumBins)
	half := spectrumBins / 2
	for i, c := range out {
		mag := math.Hypot(real(c), imag(c)) / spectrumBins
		db := 20 * math.Log10(mag+1e-12)
		// FFT-shift so bin 0 is the lowest frequency.
		bins[(i+half)%spectrumBins] = float32(db)
	}
	b.spectrumMu.Lock()
	b.spectrum = bins
	b.spectrumMu.Unlock()
}

// updateSignalEstimate derives the raw S-meter byte from block RMS.
func (b *Backend) updateSignalEstimate(block []complex64) {
	var acc float64
	for _, s := range block {
		acc += float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s))
	}
	rms := math.Sqrt(acc / float64(len(block)))
	db := 20 * math.Log10(rms+1e-9)
	raw := int((db + 96) / 6)
	if raw < 0 {
		raw = 0
	} else if raw > 15 {
		raw = 15
	}
	b.mu.Lock()
	b.sigRaw = uint8(raw)
	b.mu.Unlock()
}

// Info implements rig.Backend.
func (b *Backend) Info() rig.Info {
	return b.info
}

// GetStatus implements rig.Backend.
func (b *Backend) GetStatus(context.Context) (rig.Frequency, rig.Mode, *rig.Vfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return rig.Frequency{Hz: b.dialHz}, b.mode, nil, nil
}

// SetFreq implements rig.Backend. A target inside the current span is
// a channel-IF retune; anything else retunes the hardware centre.
func (b *Backend) SetFreq(_ context.Context, f rig.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := int64(f.Hz)
	halfSpan := int64(b.cfg.SampleRate / 2)
	if target >= b.centerHz-halfSpan && target <= b.centerHz+halfSpan {
		b.dialHz = f.Hz
		b.channel.SetChannelIf(effectiveIf(float64(target-b.centerHz), b.mode))
		b.channel.ResetWfmState()
		return nil
	}

	hardwareHz := target - b.cfg.CenterOffsetHz
	if err := b.source.SetCenterFreq(uint64(hardwareHz)); err != nil {
		return rig.ErrTransient("set_center_freq", err)
	}
	b.centerHz = hardwareHz
	b.dialHz = f.Hz
	b.channel.SetChannelIf(effectiveIf(float64(b.cfg.CenterOffsetHz), b.mode))
	b.channel.ResetWfmState()
	return nil
}

// SetMode implements rig.Backend.
func (b *Backend) SetMode(_ context.Context, m rig.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
	b.channel.SetMode(m)
	trueIf := float64(int64(b.dialHz) - b.centerHz)
	b.channel.SetChannelIf(effectiveIf(trueIf, m))
	return nil
}

// SetPtt implements rig.Backend; the SDR cannot transmit.
func (b *Backend) SetPtt(context.Context, bool) error {
	return rig.ErrNotSupported("set_ptt")
}

// PowerOn implements rig.Backend.
func (b *Backend) PowerOn(context.Context) error {
	return rig.ErrNotSupported("power_on")
}

// PowerOff implements rig.Backend.
func (b *Backend) PowerOff(context.Context) error {
	return rig.ErrNotSupported("power_off")
}

// ToggleVfo implements rig.Backend.
func (b *Backend) ToggleVfo(context.Context) error {
	return rig.ErrNotSupported("toggle_vfo")
}

// Lock implements rig.Backend.
func (b *Backend) Lock(context.Context) error {
	return rig.ErrNotSupported("lock")
}

// Unlock implements rig.Backend.
func (b *Backend) Unlock(context.Context) error {
	return rig.ErrNotSupported("unlock")
}

// GetSignalStrength implements rig.Backend.
func (b *Backend) GetSignalStrength(context.Context) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sigRaw, nil
}

// GetTxPower implements rig.Backend.
func (b *Backend) GetTxPower(context.Context) (uint8, error) {
	return 0, rig.ErrNotSupported("get_tx_power")
}

// GetTxLimit implements rig.Backend.
func (b *Backend) GetTxLimit(context.Context) (uint8, error) {
	return 0, rig.ErrNotSupported("get_tx_limit")
}

// SetTxLimit implements rig.Backend.
func (b *Backend) SetTxLimit(context.Context, uint8) error {
	return rig.ErrNotSupported("set_tx_limit")
}

// Close implements rig.Backend.
func (b *Backend) Close() error {
	close(b.stop)
	err := b.source.Close()
	b.wg.Wait()
	b.pcm.Close()
	return err
}

// SubscribePCM implements rig.AudioSource.
func (b *Backend) SubscribePCM() *broadcast.Receiver[[]float32] {
	return b.pcm.Subscribe()
}

// PCMSampleRate implements rig.AudioSource.
func (b *Backend) PCMSampleRate() int {
	return int(b.cfg.AudioSampleRate)
}

// PCMChannels returns the interleaved channel count of PCM frames.
func (b *Backend) PCMChannels() int {
	return b.cfg.OutputChannels
}

// FrameDurationMs returns the PCM frame duration.
func (b *Backend) FrameDurationMs() int {
	return b.cfg.FrameDurationMs
}

// SetBandwidth implements rig.FilterControl.
func (b *Backend) SetBandwidth(_ context.Context, hz uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel.SetFilter(hz, b.channel.FirTaps())
	return nil
}

// SetFirTaps implements rig.FilterControl.
func (b *Backend) SetFirTaps(_ context.Context, taps uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel.SetFilter(b.channel.Bandwidth(), int(taps))
	return nil
}

// SetCenterFreq implements rig.FilterControl: a hard hardware retune.
func (b *Backend) SetCenterFreq(_ context.Context, f rig.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.source.SetCenterFreq(f.Hz); err != nil {
		return rig.ErrTransient("set_center_freq", err)
	}
	b.centerHz = int64(f.Hz)
	return nil
}

// SetWfmDeemphasis implements rig.FilterControl.
func (b *Backend) SetWfmDeemphasis(_ context.Context, us uint32) error {
	if us != 50 && us != 75 {
		return rig.ErrInvalidState("deemphasis must be 50 or 75 µs")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.WfmDeemphasisUs = us
	b.channel.SetWfmDeemphasis(us)
	return nil
}

// SetWfmDenoise implements rig.FilterControl.
func (b *Backend) SetWfmDenoise(_ context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.denoise = enabled
	b.channel.SetWfmDenoise(enabled)
	return nil
}

// SetWfmStereo implements rig.FilterControl.
func (b *Backend) SetWfmStereo(_ context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.WfmStereo = enabled
	b.channel.SetWfmStereo(enabled)
	return nil
}

// FilterState implements rig.FilterControl.
func (b *Backend) FilterState() *rig.FilterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &rig.FilterState{
		BandwidthHz:     b.channel.Bandwidth(),
		FirTaps:         uint32(b.channel.FirTaps()),
		WfmDeemphasisUs: b.cfg.WfmDeemphasisUs,
		WfmDenoise:      b.denoise,
		WfmStereo:       b.cfg.WfmStereo,
		StereoDetected:  b.channel.WfmStereoDetected(),
		CenterFreqHz:    uint64(b.centerHz),
	}
}

// Spectrum implements rig.SpectrumSource.
func (b *Backend) Spectrum() *rig.SpectrumData {
	b.spectrumMu.Lock()
	bins := b.spectrum
	b.spectrumMu.Unlock()
	if bins == nil {
		return nil
	}
	out := make([]float32, len(bins))
	copy(out, bins)
	b.mu.Lock()
	center := b.centerHz
	b.mu.Unlock()
	return &rig.SpectrumData{
		CenterFreqHz: uint64(center),
		SampleRate:   b.cfg.SampleRate,
		Bins:         out,
	}
}

// RdsState implements rig.RdsSource.
func (b *Backend) RdsState() *rig.RdsState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel.RdsState()
}

// ResetRds clears the RDS decoder state.
func (b *Backend) ResetRds() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel.ResetRds()
}
