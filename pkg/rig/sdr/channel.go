package sdr

import (
	"math"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/dsp"
	"github.com/sgrams/trxd/pkg/dsp/wfm"
	"github.com/sgrams/trxd/pkg/rig"
)

const wfmOutputGain = 0.10

func agcForMode(mode rig.Mode, audioRate uint32) *dsp.SoftAgc {
	sr := float64(audioRate)
	if sr < 1 {
		sr = 1
	}
	switch mode {
	case rig.ModeCW, rig.ModeCWR:
		return dsp.NewSoftAgc(sr, 1.0, 50.0, 0.5, 30.0)
	case rig.ModeAM:
		return dsp.NewSoftAgc(sr, 500.0, 5000.0, 0.5, 30.0)
	default:
		return dsp.NewSoftAgc(sr, 5.0, 500.0, 0.5, 30.0)
	}
}

func iqAgcForMode(mode rig.Mode, sampleRate uint32) *dsp.SoftAgc {
	sr := float64(sampleRate)
	if sr < 1 {
		sr = 1
	}
	switch mode {
	case rig.ModeFM, rig.ModePKT:
		return dsp.NewSoftAgc(sr, 0.5, 150.0, 0.8, 12.0)
	default:
		return nil
	}
}

func dcForMode(mode rig.Mode) *dsp.DcBlocker {
	if mode == rig.ModeWFM {
		return nil
	}
	return dsp.NewDcBlocker(0.9999)
}

// DefaultBandwidthForMode returns the audio bandwidth the channel uses
// until a filter command overrides it.
func DefaultBandwidthForMode(mode rig.Mode) uint32 {
	switch mode {
	case rig.ModeLSB, rig.ModeUSB, rig.ModeDIG:
		return 3_000
	case rig.ModePKT:
		return 25_000
	case rig.ModeCW, rig.ModeCWR:
		return 500
	case rig.ModeAM:
		return 9_000
	case rig.ModeFM:
		return 12_500
	case rig.ModeWFM:
		return 180_000
	default:
		return 3_000
	}
}

// Channel is the per-channel DSP state: mixer, FFT-FIR, decimator,
// demodulator and frame accumulator. It is guarded by a mutex in the
// owning backend; one block is processed per lock hold.
type Channel struct {
	channelIfHz float64
	demod       dsp.Demodulator
	mode        rig.Mode
	lpfIQ       *dsp.BlockFirPair

	sdrRate    uint32
	audioRate  uint32
	bandwidth  uint32
	firTaps    int
	deemphUs   uint32
	wfmStereo  bool
	wfmDenoise bool

	decimFactor  int
	outputChans  int
	frameSize    int
	frameBuf     []float32
	pcm          *broadcast.Channel[[]float32]

	mixerPhase    float64
	mixerPhaseInc float64
	decimCounter  int
	resamplePhase float64
	resampleInc   float64
	fmPrev        complex64

	wfmDecoder *wfm.StereoDecoder
	iqAgc      *dsp.SoftAgc
	audioAgc   *dsp.SoftAgc
	audioDc    *dsp.DcBlocker
}

// ChannelConfig collects the knobs for one DSP channel.
type ChannelConfig struct {
	ChannelIfHz     float64
	Mode            rig.Mode
	SdrSampleRate   uint32
	AudioSampleRate uint32
	OutputChannels  int
	FrameDurationMs int
	BandwidthHz     uint32
	WfmDeemphasisUs uint32
	WfmStereo       bool
	FirTaps         int
}

// NewChannel builds a channel publishing PCM frames on pcm.
func NewChannel(cfg ChannelConfig, pcm *broadcast.Channel[[]float32]) *Channel {
	if cfg.OutputChannels < 1 {
		cfg.OutputChannels = 1
	}
	if cfg.FirTaps < 1 {
		cfg.FirTaps = 64
	}
	if cfg.BandwidthHz == 0 {
		cfg.BandwidthHz = DefaultBandwidthForMode(cfg.Mode)
	}
	frameSize := 960 * cfg.OutputChannels
	if cfg.AudioSampleRate > 0 && cfg.FrameDurationMs > 0 {
		frameSize = int(cfg.AudioSampleRate) * cfg.FrameDurationMs * cfg.OutputChannels / 1000
	}

	ch := &Channel{
		channelIfHz: cfg.ChannelIfHz,
		mode:        cfg.Mode,
		demod:       dsp.DemodulatorForMode(cfg.Mode),
		sdrRate:     cfg.SdrSampleRate,
		audioRate:   cfg.AudioSampleRate,
		bandwidth:   cfg.BandwidthHz,
		firTaps:     cfg.FirTaps,
		deemphUs:    cfg.WfmDeemphasisUs,
		wfmStereo:   cfg.WfmStereo,
		wfmDenoise:  true,
		outputChans: cfg.OutputChannels,
		frameSize:   frameSize,
		pcm:         pcm,
	}
	ch.rebuild(true)
	return ch
}

// pipelineRates picks the decimation factor and resulting channel rate.
// WFM keeps a wide composite rate for the stereo decoder; everything
// else decimates straight to the audio rate.
func (c *Channel) pipelineRates() (decim int, channelRate uint32) {
	if c.sdrRate == 0 {
		return 1, max32(c.audioRate, 1)
	}
	target := max32(c.audioRate, 1)
	if c.mode == rig.ModeWFM {
		target = max32(c.bandwidth, c.audioRate*4)
	}
	decim = int(c.sdrRate / target)
	if decim < 1 {
		decim = 1
	}
	channelRate = c.sdrRate / uint32(decim)
	if channelRate < 1 {
		channelRate = 1
	}
	return decim, channelRate
}

func (c *Channel) rebuild(resetWfm bool) {
	decim, channelRate := c.pipelineRates()
	cutoffHz := float64(min32(c.bandwidth, channelRate-1)) / 2.0
	cutoffNorm := 0.1
	if c.sdrRate > 0 {
		cutoffNorm = math.Min(cutoffHz/float64(c.sdrRate), 0.499)
	}
	c.lpfIQ = dsp.NewBlockFirPair(cutoffNorm, c.firTaps, dsp.IQBlockSize)
	rateChanged := c.decimFactor != decim
	c.decimFactor = decim
	c.decimCounter = 0
	c.resamplePhase = 0
	c.resampleInc = 1
	if c.sdrRate > 0 {
		c.resampleInc = float64(c.audioRate) / float64(c.sdrRate)
	}
	c.mixerPhaseInc = 0
	if c.sdrRate > 0 {
		c.mixerPhaseInc = 2 * math.Pi * c.channelIfHz / float64(c.sdrRate)
	}
	if c.mode == rig.ModeWFM {
		if resetWfm || rateChanged || c.wfmDecoder == nil {
			c.wfmDecoder = wfm.NewStereoDecoder(channelRate, c.audioRate, c.outputChans, c.wfmStereo, c.deemphUs)
			c.wfmDecoder.SetDenoiseEnabled(c.wfmDenoise)
		}
	} else {
		c.wfmDecoder = nil
	}
	c.iqAgc = iqAgcForMode(c.mode, channelRate)
	c.audioAgc = agcForMode(c.mode, c.audioRate)
	c.audioDc = dcForMode(c.mode)
	c.fmPrev = 0
	c.frameBuf = c.frameBuf[:0]
}

// SetChannelIf retunes the mixer. LSB callers pass a negated IF.
func (c *Channel) SetChannelIf(ifHz float64) {
	c.channelIfHz = ifHz
	if c.sdrRate > 0 {
		c.mixerPhaseInc = 2 * math.Pi * ifHz / float64(c.sdrRate)
	}
}

// ChannelIf returns the current mixer IF in Hz.
func (c *Channel) ChannelIf() float64 {
	return c.channelIfHz
}

// SetMode switches the demodulator and rebuilds the filter chain.
func (c *Channel) SetMode(mode rig.Mode) {
	c.mode = mode
	if mode != rig.ModeWFM {
		c.bandwidth = DefaultBandwidthForMode(mode)
	}
	c.demod = dsp.DemodulatorForMode(mode)
	c.rebuild(true)
}

// Mode returns the channel's demodulation mode.
func (c *Channel) Mode() rig.Mode {
	return c.mode
}

// SetFilter adjusts bandwidth and FIR tap count.
func (c *Channel) SetFilter(bandwidthHz uint32, taps int) {
	c.bandwidth = bandwidthHz
	if taps < 1 {
		taps = 1
	}
	c.firTaps = taps
	c.rebuild(false)
}

// Bandwidth returns the current audio bandwidth in Hz.
func (c *Channel) Bandwidth() uint32 {
	return c.bandwidth
}

// FirTaps returns the current anti-alias tap count.
func (c *Channel) FirTaps() int {
	return c.firTaps
}

// SetWfmDeemphasis selects 50 or 75 µs deemphasis.
func (c *Channel) SetWfmDeemphasis(us uint32) {
	c.deemphUs = us
	c.rebuild(true)
}

// SetWfmStereo toggles the stereo matrix.
func (c *Channel) SetWfmStereo(enabled bool) {
	c.wfmStereo = enabled
	if c.wfmDecoder != nil {
		c.wfmDecoder.SetStereoEnabled(enabled)
	}
}

// SetWfmDenoise toggles the subband denoise.
func (c *Channel) SetWfmDenoise(enabled bool) {
	c.wfmDenoise = enabled
	if c.wfmDecoder != nil {
		c.wfmDecoder.SetDenoiseEnabled(enabled)
	}
}

// WfmStereoDetected reports whether a stereo pilot is locked.
func (c *Channel) WfmStereoDetected() bool {
	return c.wfmDecoder != nil && c.wfmDecoder.StereoDetected()
}

// RdsState returns the RDS snapshot for WFM channels, or nil.
func (c *Channel) RdsState() *rig.RdsState {
	if c.wfmDecoder == nil {
		return nil
	}
	return c.wfmDecoder.RdsState()
}

// ResetRds clears the RDS decoder.
func (c *Channel) ResetRds() {
	if c.wfmDecoder != nil {
		c.wfmDecoder.ResetRds()
	}
}

// ResetWfmState clears the composite decoder after a retune.
func (c *Channel) ResetWfmState() {
	if c.wfmDecoder != nil {
		c.wfmDecoder.ResetState()
	}
}

// ProcessBlock runs one IQ block through mixer → FIR → decimator →
// demodulator → frame accumulator, publishing complete PCM frames.
func (c *Channel) ProcessBlock(block []complex64) {
	n := len(block)
	if n == 0 {
		return
	}

	// Mix the desired channel down to DC with a rotating carrier.
	mixed := make([]complex64, n)
	sinPhase, cosPhase := math.Sincos(c.mixerPhase)
	sinInc, cosInc := math.Sincos(c.mixerPhaseInc)
	sp, cp := sinPhase, cosPhase
	for idx, s := range block {
		loRe := float32(cp)
		loIm := float32(-sp)
		re := real(s)*loRe - imag(s)*loIm
		im := real(s)*loIm + imag(s)*loRe
		mixed[idx] = complex(re, im)
		nextSin := sp*cosInc + cp*sinInc
		nextCos := cp*cosInc - sp*sinInc
		sp, cp = nextSin, nextCos
	}
	c.mixerPhase = math.Mod(c.mixerPhase+float64(n)*c.mixerPhaseInc, 2*math.Pi)

	filtered := c.lpfIQ.FilterBlock(mixed)

	// WFM decimates by integer factor to the composite rate; all other
	// modes resample directly to the audio rate.
	decimated := make([]complex64, 0, n/c.decimFactor+1)
	if c.wfmDecoder != nil {
		for idx := 0; idx < len(filtered); idx++ {
			c.decimCounter++
			if c.decimCounter >= c.decimFactor {
				c.decimCounter = 0
				decimated = append(decimated, filtered[idx])
			}
		}
	} else {
		for idx := 0; idx < len(filtered); idx++ {
			c.resamplePhase += c.resampleInc
			if c.resamplePhase >= 1.0 {
				c.resamplePhase -= 1.0
				decimated = append(decimated, filtered[idx])
			}
		}
	}
	if len(decimated) == 0 {
		return
	}

	if c.iqAgc != nil {
		for idx := range decimated {
			decimated[idx] = c.iqAgc.ProcessComplex(decimated[idx])
		}
	}

	if c.wfmDecoder != nil {
		// Hard-limit before the discriminator.
		for idx, s := range decimated {
			mag := float32(math.Hypot(float64(real(s)), float64(imag(s))))
			if mag > 1 {
				decimated[idx] = complex(real(s)/mag, imag(s)/mag)
			}
		}
	}

	var audio []float32
	if c.wfmDecoder != nil {
		audio = c.wfmDecoder.ProcessIQ(decimated)
		for idx := range audio {
			v := audio[idx] * wfmOutputGain
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			audio[idx] = v
		}
	} else {
		var raw []float32
		if c.demod == dsp.DemodFm {
			raw = dsp.DemodFmBlock(decimated, &c.fmPrev)
		} else {
			raw = c.demod.Demodulate(decimated)
		}
		for idx := range raw {
			if c.audioDc != nil {
				raw[idx] = c.audioDc.Process(raw[idx])
			}
			raw[idx] = c.audioAgc.Process(raw[idx])
		}
		if c.outputChans >= 2 {
			stereo := make([]float32, 0, len(raw)*c.outputChans)
			for _, s := range raw {
				stereo = append(stereo, s, s)
			}
			audio = stereo
		} else {
			audio = raw
		}
	}

	c.frameBuf = append(c.frameBuf, audio...)
	for len(c.frameBuf) >= c.frameSize {
		frame := make([]float32, c.frameSize)
		copy(frame, c.frameBuf[:c.frameSize])
		c.frameBuf = c.frameBuf[:copy(c.frameBuf, c.frameBuf[c.frameSize:])]
		c.pcm.Send(frame)
	}
}

// FrameSize returns samples per published PCM frame (all channels).
func (c *Channel) FrameSize() int {
	return c.frameSize
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
