package ft817

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sgrams/trxd/pkg/rig"
)

func TestEncodeFreqBCD(t *testing.T) {
	bcd, err := EncodeFreqBCD(14_074_000)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x14, 0x07, 0x40, 0x00}, bcd)

	bcd, err = EncodeFreqBCD(7_100_500)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x07, 0x10, 0x05, 0x00}, bcd)
}

func TestEncodeFreqBCDOverflow(t *testing.T) {
	_, err := EncodeFreqBCD(100_000_000)
	require.Error(t, err)
	assert.True(t, rig.ProtocolErr(err))
}

func TestDecodeFreqBCDRejectsGarbage(t *testing.T) {
	_, err := DecodeFreqBCD([4]byte{0xFA, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.True(t, rig.ProtocolErr(err))
}

func TestFreqBCDRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hz := rapid.Uint64Range(0, 99_999_999).Draw(t, "hz")
		bcd, err := EncodeFreqBCD(hz)
		require.NoError(t, err)
		got, err := DecodeFreqBCD(bcd)
		require.NoError(t, err)
		assert.Equal(t, hz, got)
	})
}

func TestModeCodes(t *testing.T) {
	codes := map[rig.Mode]byte{
		rig.ModeLSB: 0x00, rig.ModeUSB: 0x01, rig.ModeCW: 0x02,
		rig.ModeCWR: 0x03, rig.ModeAM: 0x04, rig.ModeWFM: 0x06,
		rig.ModeFM: 0x08, rig.ModeDIG: 0x0A, rig.ModePKT: 0x0C,
	}
	for mode, code := range codes {
		assert.Equal(t, code, encodeMode(mode), "encode %s", mode)
		assert.Equal(t, mode, decodeMode(code), "decode 0x%02X", code)
	}
}

// fakePort scripts serial exchanges: every written frame is recorded,
// reads drain the queued response bytes.
type fakePort struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (p *fakePort) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.response.Read(b)
}

func (p *fakePort) Close() error { return nil }

func TestSetFreqEmitsFrame(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 9600))

	err := b.SetFreq(context.Background(), rig.Frequency{Hz: 14_074_000})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x14, 0x07, 0x40, 0x00, 0x01}, port.written.Bytes())
}

func TestGetStatusParsesFrame(t *testing.T) {
	port := &fakePort{}
	// 14.250 MHz, USB.
	port.response.Write([]byte{0x14, 0x25, 0x00, 0x00, 0x01})
	b := newWithPort(port, rig.SerialAccess("fake", 9600))

	freq, mode, vfo, err := b.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(14_250_000), freq.Hz)
	assert.Equal(t, rig.ModeUSB, mode)
	require.NotNil(t, vfo)
	require.Len(t, vfo.Entries, 1)
	assert.Equal(t, "A", vfo.Entries[0].Name)

	// Status query frame went out first.
	assert.Equal(t, []byte{0, 0, 0, 0, cmdReadStatus}, port.written.Bytes())
}

func TestGetStatusGarbageIsProtocolError(t *testing.T) {
	port := &fakePort{}
	port.response.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	b := newWithPort(port, rig.SerialAccess("fake", 9600))

	_, _, _, err := b.GetStatus(context.Background())
	require.Error(t, err)
	assert.True(t, rig.ProtocolErr(err))
}

func TestPttFrames(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 9600))

	require.NoError(t, b.SetPtt(context.Background(), true))
	require.NoError(t, b.SetPtt(context.Background(), false))
	assert.Equal(t, []byte{
		0, 0, 0, 0, cmdPttOn,
		0, 0, 0, 0, cmdPttOff,
	}, port.written.Bytes())
}

func TestToggleVfoTracksSide(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 9600))
	assert.Equal(t, vfoA, b.vfoSide)
	require.NoError(t, b.ToggleVfo(context.Background()))
	assert.Equal(t, vfoB, b.vfoSide)
	require.NoError(t, b.ToggleVfo(context.Background()))
	assert.Equal(t, vfoA, b.vfoSide)
}

func TestReadTimeoutIsTransient(t *testing.T) {
	port := &fakePort{}
	b := newWithPort(port, rig.SerialAccess("fake", 9600))

	_, _, _, err := b.GetStatus(context.Background())
	require.Error(t, err)
	assert.True(t, rig.Transient(err))
}
