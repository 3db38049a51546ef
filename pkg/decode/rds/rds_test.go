package rds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeBlockRecognizesValidOffsets(t *testing.T) {
	word := encodeBlock(0x1234, offsetA)
	data, kind := decodeBlock(word)
	assert.Equal(t, uint16(0x1234), data)
	assert.Equal(t, blockA, kind)
}

func TestDecodeBlockRejectsCorruptWord(t *testing.T) {
	word := encodeBlock(0x1234, offsetA) ^ 0x5 // flip check bits
	_, kind := decodeBlock(word)
	assert.Equal(t, blockInvalid, kind)
}

func TestBlockRoundTripAllOffsets(t *testing.T) {
	offsets := map[uint16]blockKind{
		offsetA:  blockA,
		offsetB:  blockB,
		offsetC:  blockC,
		offsetCP: blockCPrime,
		offsetD:  blockD,
	}
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.Uint16().Draw(t, "data")
		for offset, wantKind := range offsets {
			got, kind := decodeBlock(encodeBlock(data, offset))
			assert.Equal(t, data, got)
			assert.Equal(t, wantKind, kind)
		}
	})
}

// pushBits feeds a 26-bit block MSB-first into a candidate.
func pushBits(c *candidate, word uint32) {
	for bitIdx := 25; bitIdx >= 0; bitIdx-- {
		c.pushBit(uint8((word >> uint(bitIdx)) & 1))
	}
}

func TestGroup0AEmitsPiPtyAndProgramService(t *testing.T) {
	c := newCandidate(240_000.0, 0.0)
	pi := uint16(0x52AB)

	segments := [4][2]byte{{'A', 'B'}, {'C', 'D'}, {'E', 'F'}, {'G', 'H'}}
	for seg := 0; seg < 4; seg++ {
		blockAWord := encodeBlock(pi, offsetA)
		blockBWord := encodeBlock((10<<5)|uint16(seg), offsetB)
		blockCWord := encodeBlock(0, offsetC)
		data := uint16(segments[seg][0])<<8 | uint16(segments[seg][1])
		blockDWord := encodeBlock(data, offsetD)

		pushBits(c, blockAWord)
		pushBits(c, blockBWord)
		pushBits(c, blockCWord)
		pushBits(c, blockDWord)
	}

	require.NotNil(t, c.state.Pi)
	assert.Equal(t, pi, *c.state.Pi)
	require.NotNil(t, c.state.Pty)
	assert.Equal(t, uint8(10), *c.state.Pty)
	assert.Equal(t, "Pop Music", c.state.PtyName)
	assert.Equal(t, "ABCDEFGH", c.state.ProgramService)
}

func TestProgramServiceWaitsForAllSegments(t *testing.T) {
	c := newCandidate(240_000.0, 0.0)
	pi := uint16(0x1234)

	// Only segments 0 and 1.
	for seg := 0; seg < 2; seg++ {
		pushBits(c, encodeBlock(pi, offsetA))
		pushBits(c, encodeBlock(uint16(seg), offsetB))
		pushBits(c, encodeBlock(0, offsetC))
		pushBits(c, encodeBlock(uint16('A')<<8|uint16('B'), offsetD))
	}
	assert.Empty(t, c.state.ProgramService)
}

func TestSanitizeTextByte(t *testing.T) {
	assert.Equal(t, byte('A'), sanitizeTextByte('A'))
	assert.Equal(t, byte(' '), sanitizeTextByte(0x07))
	assert.Equal(t, byte(' '), sanitizeTextByte(0xFF))
}

func TestPtyName(t *testing.T) {
	assert.Equal(t, "None", PtyName(0))
	assert.Equal(t, "Pop Music", PtyName(10))
	assert.Equal(t, "Alarm", PtyName(31))
	assert.Equal(t, "Alarm", PtyName(200))
}

func TestDecoderResetClearsState(t *testing.T) {
	d := NewDecoder(240_000)
	pi := uint16(0x52AB)
	d.bestState = d.candidates[0].processGroup(pi, 10<<5, uint16('A')<<8|uint16('B'))
	require.NotNil(t, d.Snapshot())
	d.Reset()
	assert.Nil(t, d.Snapshot())
}
