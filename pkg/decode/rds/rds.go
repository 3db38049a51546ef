// Package rds decodes the 1187.5 bit/s Radio Data System sidechannel
// from a signal centred on the 57 kHz subcarrier of an FM composite.
//
// Eight phase-offset candidate decoders run independently; the one with
// the most successful group decodes publishes updates.
package rds

import (
	"math"
	"strings"

	"github.com/sgrams/trxd/pkg/rig"
)

const (
	subcarrierHz  = 57_000.0
	symbolRate    = 1_187.5
	pskSymbolRate = symbolRate * 2
	crcPoly       = 0x1B9
	searchRegMask = (1 << 26) - 1

	phaseCandidates   = 8
	biphaseClockWindow = 128
	basebandLpHz      = 3_000.0
	minPublishQuality = 0.45
)

// RDS block offset words.
const (
	offsetA  = 0x0FC
	offsetB  = 0x198
	offsetC  = 0x168
	offsetCP = 0x350
	offsetD  = 0x1B4
)

type blockKind int

const (
	blockA blockKind = iota
	blockB
	blockC
	blockCPrime
	blockD
	blockInvalid
)

type expectBlock int

const (
	expectB expectBlock = iota
	expectC
	expectD
)

type onePole struct {
	alpha float32
	y     float32
}

func newOnePole(sampleRate, cutoffHz float64) onePole {
	sr := math.Max(sampleRate, 1.0)
	cutoff := math.Min(math.Max(cutoffHz, 1.0), sr*0.49)
	dt := 1.0 / sr
	rc := 1.0 / (2 * math.Pi * cutoff)
	return onePole{alpha: float32(dt / (rc + dt))}
}

func (f *onePole) process(x float32) float32 {
	f.y += f.alpha * (x - f.y)
	return f.y
}

// candidate is one phase-offset decoder instance.
type candidate struct {
	clockPhase    float32
	clockInc      float32
	symIAcc       float32
	symQAcc       float32
	symCount      int
	prevSymI      float32
	prevSymQ      float32
	havePrevSym   bool
	clockHistory  [biphaseClockWindow]float32
	clock         int
	clockPolarity int
	prevInputBit  bool

	searchReg  uint32
	searchBits int
	locked     bool
	expect     expectBlock
	blockReg   uint32
	blockBits  int
	blockAData uint16
	blockBData uint16
	score      uint32

	state   rig.RdsState
	psBytes [8]byte
	psSeen  [4]bool
}

func newCandidate(sampleRate float64, phaseOffset float32) *candidate {
	c := &candidate{
		clockPhase: phaseOffset,
		clockInc:   float32(pskSymbolRate / math.Max(sampleRate, 1.0)),
	}
	for i := range c.psBytes {
		c.psBytes[i] = ' '
	}
	return c
}

// processSample accumulates one baseband I/Q pair; when the symbol
// clock wraps it makes a biphase decision and may emit a state update.
func (c *candidate) processSample(i, q float32) *rig.RdsState {
	c.symIAcc += i
	c.symQAcc += q
	c.symCount++
	c.clockPhase += c.clockInc
	if c.clockPhase < 1.0 {
		return nil
	}
	c.clockPhase -= 1.0

	count := float32(c.symCount)
	if count < 1 {
		count = 1
	}
	symI := c.symIAcc / count
	symQ := c.symQAcc / count
	c.symIAcc, c.symQAcc, c.symCount = 0, 0, 0

	var update *rig.RdsState
	if c.havePrevSym {
		// Manchester decision: difference of consecutive half-symbols.
		biI := (symI - c.prevSymI) * 0.5
		biQ := (symQ - c.prevSymQ) * 0.5
		magnitude := float32(math.Hypot(float64(biI), float64(biQ)))
		emitBit := c.clock%2 == c.clockPolarity
		c.clockHistory[c.clock] = magnitude
		c.clock = (c.clock + 1) % biphaseClockWindow

		if c.clock == 0 {
			// Recover clock polarity from even/odd magnitude sums.
			var evenSum, oddSum float32
			for idx := 0; idx < biphaseClockWindow; idx += 2 {
				evenSum += c.clockHistory[idx]
				oddSum += c.clockHistory[idx+1]
			}
			if oddSum > evenSum {
				c.clockPolarity = 1
			} else if evenSum > oddSum {
				c.clockPolarity = 0
			}
		}

		if emitBit {
			inputBit := biI >= 0
			// Differential NRZ-S: bit = input XOR previous input.
			bit := uint8(0)
			if inputBit != c.prevInputBit {
				bit = 1
			}
			c.prevInputBit = inputBit
			update = c.pushBit(bit)
		}
	}
	c.prevSymI, c.prevSymQ = symI, symQ
	c.havePrevSym = true
	return update
}

func (c *candidate) pushBit(bit uint8) *rig.RdsState {
	if c.locked {
		c.blockReg = ((c.blockReg << 1) | uint32(bit)) & searchRegMask
		c.blockBits++
		if c.blockBits < 26 {
			return nil
		}
		word := c.blockReg
		c.blockReg = 0
		c.blockBits = 0
		return c.consumeLockedBlock(word)
	}

	c.searchReg = ((c.searchReg << 1) | uint32(bit)) & searchRegMask
	if c.searchBits < 26 {
		c.searchBits++
	}
	if c.searchBits < 26 {
		return nil
	}

	data, kind := decodeBlock(c.searchReg)
	if kind != blockA {
		return nil
	}

	c.lockOn(data)
	return nil
}

func (c *candidate) lockOn(pi uint16) {
	c.locked = true
	c.expect = expectB
	c.blockReg = 0
	c.blockBits = 0
	c.searchReg = 0
	c.searchBits = 0
	c.blockAData = pi
	c.state.Pi = &pi
}

func (c *candidate) consumeLockedBlock(word uint32) *rig.RdsState {
	data, kind := decodeBlock(word)
	if kind == blockInvalid {
		c.dropLock(word)
		return nil
	}

	switch {
	case c.expect == expectB && kind == blockB:
		c.blockBData = data
		c.expect = expectC
	case c.expect == expectC && (kind == blockC || kind == blockCPrime):
		c.expect = expectD
	case c.expect == expectD && kind == blockD:
		c.locked = false
		c.searchBits = 0
		c.searchReg = 0
		return c.processGroup(c.blockAData, c.blockBData, data)
	case kind == blockA:
		c.lockOn(data)
	default:
		c.dropLock(word)
	}
	return nil
}

func (c *candidate) dropLock(word uint32) {
	c.locked = false
	c.expect = expectB
	c.blockReg = 0
	c.blockBits = 0
	c.searchReg = word
	c.searchBits = 26
	if data, kind := decodeBlock(word); kind == blockA {
		c.lockOn(data)
	}
}

func (c *candidate) processGroup(blockAData, blockBData, blockDData uint16) *rig.RdsState {
	changed := false
	if c.state.Pi == nil || *c.state.Pi != blockAData {
		pi := blockAData
		c.state.Pi = &pi
		changed = true
	}

	pty := uint8((blockBData >> 5) & 0x1f)
	if c.state.Pty == nil || *c.state.Pty != pty {
		p := pty
		c.state.Pty = &p
		c.state.PtyName = PtyName(pty)
		changed = true
	}

	groupType := uint8((blockBData >> 12) & 0x0f)
	if groupType == 0 {
		// Block D carries a program-service fragment addressed by the
		// bottom two bits of block B.
		segment := int(blockBData & 0x0003)
		c.psBytes[segment*2] = sanitizeTextByte(byte(blockDData >> 8))
		c.psBytes[segment*2+1] = sanitizeTextByte(byte(blockDData))
		c.psSeen[segment] = true
		if c.psSeen[0] && c.psSeen[1] && c.psSeen[2] && c.psSeen[3] {
			ps := strings.TrimRight(string(c.psBytes[:]), " ")
			if ps != "" && c.state.ProgramService != ps {
				c.state.ProgramService = ps
				changed = true
			}
		}
	}

	c.score++
	if !changed {
		return nil
	}
	out := c.state
	return &out
}

// Decoder runs the quadrature downconversion and the candidate bank.
type Decoder struct {
	sampleRate   uint32
	carrierPhase float64
	carrierInc   float64
	iLp          onePole
	qLp          onePole
	candidates   []*candidate
	bestScore    uint32
	bestState    *rig.RdsState
}

// NewDecoder builds a decoder for composite-rate input.
func NewDecoder(sampleRate uint32) *Decoder {
	if sampleRate < 1 {
		sampleRate = 1
	}
	sr := float64(sampleRate)
	cands := make([]*candidate, phaseCandidates)
	for idx := range cands {
		cands[idx] = newCandidate(sr, float32(idx)/phaseCandidates)
	}
	return &Decoder{
		sampleRate: sampleRate,
		carrierInc: 2 * math.Pi * subcarrierHz / sr,
		iLp:        newOnePole(sr, basebandLpHz),
		qLp:        newOnePole(sr, basebandLpHz),
		candidates: cands,
	}
}

// ProcessSample feeds one composite sample with a publication quality
// in [0, 1]. Updates from the winning candidate are published only
// when quality clears the threshold, the PI matches the previous
// snapshot, or there is no snapshot yet.
func (d *Decoder) ProcessSample(sample, quality float32) *rig.RdsState {
	if quality < 0 {
		quality = 0
	} else if quality > 1 {
		quality = 1
	}
	sinP, cosP := math.Sincos(d.carrierPhase)
	d.carrierPhase = math.Mod(d.carrierPhase+d.carrierInc, 2*math.Pi)
	mixedI := d.iLp.process(sample * float32(cosP) * 2)
	mixedQ := d.qLp.process(sample * -float32(sinP) * 2)

	for _, c := range d.candidates {
		update := c.processSample(mixedI, mixedQ)
		if update == nil {
			continue
		}
		if c.score >= d.bestScore {
			d.bestScore = c.score
			samePi := d.bestState != nil && d.bestState.Pi != nil &&
				update.Pi != nil && *d.bestState.Pi == *update.Pi
			if quality >= minPublishQuality || samePi || d.bestState == nil {
				d.bestState = update
			}
		}
	}
	return d.bestState
}

// ProcessSamples feeds a block at full quality.
func (d *Decoder) ProcessSamples(samples []float32) *rig.RdsState {
	for _, s := range samples {
		d.ProcessSample(s, 1.0)
	}
	return d.bestState
}

// Reset discards all candidate and published state.
func (d *Decoder) Reset() {
	*d = *NewDecoder(d.sampleRate)
}

// Snapshot returns the last published state, or nil.
func (d *Decoder) Snapshot() *rig.RdsState {
	if d.bestState == nil {
		return nil
	}
	out := *d.bestState
	return &out
}

func sanitizeTextByte(b byte) byte {
	if b >= 0x20 && b <= 0x7e {
		return b
	}
	return ' '
}

// decodeBlock matches a 26-bit block's syndrome against the five RDS
// offset words, returning the 16 data bits and the block kind.
func decodeBlock(word uint32) (uint16, blockKind) {
	data := uint16(word >> 10)
	check := uint16(word & 0x03ff)
	switch crc10(data) ^ check {
	case offsetA:
		return data, blockA
	case offsetB:
		return data, blockB
	case offsetC:
		return data, blockC
	case offsetCP:
		return data, blockCPrime
	case offsetD:
		return data, blockD
	}
	return 0, blockInvalid
}

// encodeBlock builds a block word from data and an offset, the inverse
// of decodeBlock.
func encodeBlock(data uint16, offset uint16) uint32 {
	return (uint32(data) << 10) | uint32(crc10(data)^offset)
}

// crc10 computes the degree-10 RDS checkword (polynomial 0x1B9).
func crc10(data uint16) uint16 {
	reg := uint32(data) << 10
	for shift := 25; shift >= 10; shift-- {
		if reg&(1<<uint(shift)) != 0 {
			reg ^= crcPoly << uint(shift-10)
		}
	}
	return uint16(reg & 0x03ff)
}

var ptyNames = [32]string{
	"None", "News", "Current Affairs", "Information", "Sport",
	"Education", "Drama", "Culture", "Science", "Varied",
	"Pop Music", "Rock Music", "Easy Listening", "Light Classical",
	"Serious Classical", "Other Music", "Weather", "Finance",
	"Children's", "Social Affairs", "Religion", "Phone In", "Travel",
	"Leisure", "Jazz Music", "Country Music", "National Music",
	"Oldies Music", "Folk Music", "Documentary", "Alarm Test", "Alarm",
}

// PtyName returns the display name of an RDS programme type code.
func PtyName(pty uint8) string {
	if int(pty) < len(ptyNames) {
		return ptyNames[pty]
	}
	return "Alarm"
}
