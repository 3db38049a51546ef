package controller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/rig"
	"github.com/sgrams/trxd/pkg/rig/dummy"
)

// startController spins up a controller on a dummy backend with fast
// timings and waits for initialization.
func startController(t *testing.T) (*Controller, context.CancelFunc) {
	t.Helper()

	c := New(Config{
		RigID:         "test",
		InitialFreqHz: 14_074_000,
		InitialMode:   rig.ModeUSB,
		Callsign:      "N0CALL",
		Polling:       AdaptivePolling{IdleInterval: 50 * time.Millisecond, ActiveInterval: 20 * time.Millisecond},
		PowerOnSettle: 10 * time.Millisecond,
	}, dummy.New())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()

	rx := c.StateWatch().Subscribe()
	deadline := time.After(5 * time.Second)
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
		state, err := rx.Changed(waitCtx)
		waitCancel()
		require.NoError(t, err)
		if state.Initialized {
			break
		}
		select {
		case <-deadline:
			t.Fatal("controller never initialized")
		default:
		}
	}
	return c, cancel
}

func TestControllerInitialTune(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	state := c.StateWatch().Get()
	assert.Equal(t, uint64(14_074_000), state.Status.Freq.Hz)
	assert.Equal(t, rig.ModeUSB, state.Status.Mode)
	assert.True(t, state.PowerOn())
	assert.NotNil(t, state.Status.Vfo)
}

func TestControllerSetFreqRoundTrip(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	snap, err := c.Do(context.Background(), rig.Command{
		Kind: rig.CmdSetFreq,
		Freq: rig.Frequency{Hz: 7_074_000},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7_074_000), snap.Status.Freq.Hz)
	assert.Equal(t, "40m", snap.Band)
}

func TestControllerRejectsOutOfBandFreq(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	_, err := c.Do(context.Background(), rig.Command{
		Kind: rig.CmdSetFreq,
		Freq: rig.Frequency{Hz: 999},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside supported bands")
}

func TestControllerLockBlocksTuning(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	_, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdLock})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), rig.Command{
		Kind: rig.CmdSetFreq,
		Freq: rig.Frequency{Hz: 7_100_000},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	_, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdUnlock})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), rig.Command{
		Kind: rig.CmdSetFreq,
		Freq: rig.Frequency{Hz: 7_100_000},
	})
	assert.NoError(t, err)
}

func TestControllerPttLifecycle(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	// PTT off while receiving is an invalid transition.
	_, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdSetPtt, Ptt: false})
	require.Error(t, err)

	snap, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdSetPtt, Ptt: true})
	require.NoError(t, err)
	assert.True(t, snap.Status.TxEn)

	// Keying up twice is refused.
	_, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdSetPtt, Ptt: true})
	require.Error(t, err)

	snap, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdSetPtt, Ptt: false})
	require.NoError(t, err)
	assert.False(t, snap.Status.TxEn)
}

func TestControllerDecoderToggles(t *testing.T) {
	c, cancel := startController(t)
	defer cancel()

	snap, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdSetCwDecodeEnabled, Enabled: true})
	require.NoError(t, err)
	assert.True(t, snap.Decoders.CwEnabled)

	snap, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdSetCwWpm, Wpm: 99})
	require.NoError(t, err)
	assert.Equal(t, uint32(40), snap.Decoders.CwWpm, "WPM clamps to 40")

	before := snap.Decoders.CwResetSeq
	snap, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdResetCwDecoder})
	require.NoError(t, err)
	assert.Equal(t, before+1, snap.Decoders.CwResetSeq)
}

func TestControllerResetClearsHistory(t *testing.T) {
	var cleared atomic.Bool
	c := New(Config{
		RigID:            "test",
		PowerOnSettle:    10 * time.Millisecond,
		Polling:          NoPolling{},
		ClearAprsHistory: func() { cleared.Store(true) },
	}, dummy.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	_, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdResetAprsDecoder})
	require.NoError(t, err)
	assert.True(t, cleared.Load())
}

func TestControllerEventListeners(t *testing.T) {
	var freqChanges atomic.Int32
	var pttChanges atomic.Int32

	c := New(Config{
		RigID:         "test",
		InitialFreqHz: 14_074_000,
		Polling:       NoPolling{},
		PowerOnSettle: 10 * time.Millisecond,
	}, dummy.New())
	c.Listeners().Register(&countingListener{freq: &freqChanges, ptt: &pttChanges})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	_, err := c.Do(context.Background(), rig.Command{Kind: rig.CmdSetFreq, Freq: rig.Frequency{Hz: 7_074_000}})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), rig.Command{Kind: rig.CmdSetPtt, Ptt: true})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, freqChanges.Load(), int32(1))
	assert.Equal(t, int32(1), pttChanges.Load())
}

type countingListener struct {
	NopListener
	freq *atomic.Int32
	ptt  *atomic.Int32
}

func (l *countingListener) OnFrequencyChange(*rig.Frequency, rig.Frequency) {
	l.freq.Add(1)
}

func (l *countingListener) OnPttChange(bool) {
	l.ptt.Add(1)
}

func TestSignalStrengthMapping(t *testing.T) {
	assert.Equal(t, -120, mapSignalStrength(rig.ModeFM, 0))
	assert.Equal(t, -120+6*10, mapSignalStrength(rig.ModeWFM, 10))
	assert.Equal(t, -127, mapSignalStrength(rig.ModeUSB, 0))
	assert.Equal(t, -127+6*5, mapSignalStrength(rig.ModeCW, 5))
}
