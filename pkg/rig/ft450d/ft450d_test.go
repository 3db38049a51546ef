package ft450d

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgrams/trxd/pkg/rig"
)

type fakePort struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Read(b []byte) (int, error)  { return p.response.Read(b) }
func (p *fakePort) Close() error                { return nil }

func TestSetFreqCommand(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	require.NoError(t, b.SetFreq(context.Background(), rig.Frequency{Hz: 14_250_000}))
	assert.Equal(t, "FA14250000;", port.written.String())
}

func TestSetModeCommand(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	require.NoError(t, b.SetMode(context.Background(), rig.ModeUSB))
	assert.Equal(t, "MD02;", port.written.String())
}

func TestSetModeUnsupported(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	err := b.SetMode(context.Background(), rig.ModeWFM)
	require.Error(t, err)
	assert.True(t, rig.NotSupportedErr(err))
}

func TestPttAndPowerCommands(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	require.NoError(t, b.SetPtt(context.Background(), true))
	require.NoError(t, b.SetPtt(context.Background(), false))
	require.NoError(t, b.PowerOn(context.Background()))
	require.NoError(t, b.PowerOff(context.Background()))
	require.NoError(t, b.Lock(context.Background()))
	require.NoError(t, b.Unlock(context.Background()))
	assert.Equal(t, "TX1;TX0;PS1;PS0;LK1;LK0;", port.written.String())
}

func TestGetStatusParsesResponses(t *testing.T) {
	port := &fakePort{}
	port.response.WriteString("FA07074000;MD02;")
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	freq, mode, vfo, err := b.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7_074_000), freq.Hz)
	assert.Equal(t, rig.ModeUSB, mode)
	require.NotNil(t, vfo)
	assert.Equal(t, "FA;MD0;", port.written.String())
}

func TestGetTxLimit(t *testing.T) {
	port := &fakePort{}
	port.response.WriteString("PC050;")
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	limit, err := b.GetTxLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(50), limit)
}

func TestSetTxLimitCommand(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	require.NoError(t, b.SetTxLimit(context.Background(), 25))
	assert.Equal(t, "PC025;", port.written.String())
}

func TestSignalMeterScaling(t *testing.T) {
	port := &fakePort{}
	port.response.WriteString("SM0255;")
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	sig, err := b.GetSignalStrength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(15), sig)
}

func TestBadFreqResponseIsProtocolError(t *testing.T) {
	port := &fakePort{}
	port.response.WriteString("XX00000000;")
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	_, _, _, err := b.GetStatus(context.Background())
	require.Error(t, err)
	assert.True(t, rig.ProtocolErr(err))
}

func TestToggleVfoAlternates(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 38400))

	require.NoError(t, b.ToggleVfo(context.Background()))
	require.NoError(t, b.ToggleVfo(context.Background()))
	assert.Equal(t, "VS1;VS0;", port.written.String())
	assert.Equal(t, "A", b.activeVfo)
}

func TestModeRoundTrip(t *testing.T) {
	modes := []rig.Mode{
		rig.ModeLSB, rig.ModeUSB, rig.ModeCW, rig.ModeFM,
		rig.ModeAM, rig.ModeDIG, rig.ModeCWR, rig.ModePKT,
	}
	for _, m := range modes {
		code, err := encodeMode(m)
		require.NoError(t, err)
		assert.Equal(t, m, decodeMode(code), "mode %s", m)
	}
}
