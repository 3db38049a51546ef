package sdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/dsp"
	"github.com/sgrams/trxd/pkg/rig"
)

func TestChannelProcessesSilence(t *testing.T) {
	pcm := broadcast.New[[]float32](8)
	ch := NewChannel(ChannelConfig{
		Mode:            rig.ModeUSB,
		SdrSampleRate:   48_000,
		AudioSampleRate: 8_000,
		OutputChannels:  1,
		FrameDurationMs: 20,
		BandwidthHz:     3_000,
		WfmDeemphasisUs: 75,
		FirTaps:         31,
	}, pcm)
	block := make([]complex64, dsp.IQBlockSize)
	ch.ProcessBlock(block)
}

func TestChannelSetModeSwitchesDemodulator(t *testing.T) {
	pcm := broadcast.New[[]float32](8)
	ch := NewChannel(ChannelConfig{
		Mode:            rig.ModeUSB,
		SdrSampleRate:   48_000,
		AudioSampleRate: 8_000,
		OutputChannels:  1,
		FrameDurationMs: 20,
	}, pcm)
	assert.Equal(t, dsp.DemodUsb, ch.demod)
	ch.SetMode(rig.ModeFM)
	assert.Equal(t, dsp.DemodFm, ch.demod)
	assert.Equal(t, uint32(12_500), ch.Bandwidth())
}

func TestChannelEmitsFrames(t *testing.T) {
	pcm := broadcast.New[[]float32](32)
	rx := pcm.Subscribe()
	ch := NewChannel(ChannelConfig{
		Mode:            rig.ModeUSB,
		SdrSampleRate:   48_000,
		AudioSampleRate: 8_000,
		OutputChannels:  1,
		FrameDurationMs: 20,
		FirTaps:         31,
	}, pcm)

	// One second of carrier gives 8000 audio samples → 50 frames of 160.
	block := make([]complex64, dsp.IQBlockSize)
	for i := range block {
		block[i] = complex(0.5, 0)
	}
	for i := 0; i < 12; i++ {
		ch.ProcessBlock(block)
	}

	frame, _, okRecv := rx.TryRecv()
	require.True(t, okRecv, "expected at least one PCM frame")
	assert.Len(t, frame, ch.FrameSize())
}
