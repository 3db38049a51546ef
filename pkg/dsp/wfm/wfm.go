// Package wfm decodes the FM broadcast composite baseband: pilot-locked
// stereo matrix, subband denoise, deemphasis and the 57 kHz RDS tap.
package wfm

import (
	"math"

	"github.com/sgrams/trxd/pkg/decode/rds"
	"github.com/sgrams/trxd/pkg/dsp"
	"github.com/sgrams/trxd/pkg/rig"
)

const (
	rdsSubcarrierHz = 57_000.0
	rdsBpfQ         = 10.0

	pilotHz     = 19_000.0
	audioBwHz   = 18_000.0
	diffBwHz    = audioBwHz
	// Butterworth Q pair for the cascaded 4th-order low-passes.
	bw4Q1 = 0.5412
	bw4Q2 = 1.3066

	pilotNotchQ = 5.0
	pilotBpfQ   = 20.0

	separationPhaseTrim = 0.434
	separationGainMin   = 0.92
	separationGainMax   = 1.08
	stereoMatrixGain    = 1.20

	stereoDetectDecimation = 16

	denoiseBands           = 6
	denoiseNoiseSmoothHz   = 10.0
	denoiseSignalSmoothHz  = 30.0
	denoiseBeta            = 1.0
	denoiseAlpha           = 0.5
	denoiseFloor           = 1e-10
	denoiseKnee            = 4.0
	denoisePreserveMin     = 0.18
	denoisePreserveMax     = 0.42
	diffDcR                = 0.9995

	resampTaps   = 32
	resampPhases = 64
)

var denoiseCenters = [denoiseBands]float64{250, 800, 2500, 5500, 10000, 16000}
var denoiseQ = [denoiseBands]float64{0.3, 0.35, 0.4, 0.5, 0.6, 0.7}

// buildResampleBank designs the 64-phase × 32-tap windowed-sinc
// fractional resampler (Blackman-Harris window).
func buildResampleBank(cutoff float64) [resampPhases][resampTaps]float32 {
	var bank [resampPhases][resampTaps]float32
	anchor := float64(resampTaps/2 - 1)
	for phaseIdx := range bank {
		frac := float64(phaseIdx) / resampPhases
		center := anchor + frac
		var sum float64
		for tapIdx := range bank[phaseIdx] {
			x := float64(tapIdx) - center
			var sinc float64
			if math.Abs(x) < 1e-6 {
				sinc = cutoff
			} else {
				sinc = math.Sin(math.Pi*x*cutoff) / (math.Pi * x)
			}
			pos := float64(tapIdx) / (resampTaps - 1)
			tw := 2 * math.Pi * pos
			window := 0.35875 - 0.48829*math.Cos(tw) + 0.14128*math.Cos(2*tw) - 0.01168*math.Cos(3*tw)
			c := sinc * window
			bank[phaseIdx][tapIdx] = float32(c)
			sum += c
		}
		if math.Abs(sum) > 1e-9 {
			inv := float32(1.0 / sum)
			for tapIdx := range bank[phaseIdx] {
				bank[phaseIdx][tapIdx] *= inv
			}
		}
	}
	return bank
}

func resampleRing(hist *[resampTaps]float32, pos int, bank *[resampPhases][resampTaps]float32, frac float32) float32 {
	if frac < 0 {
		frac = 0
	} else if frac > 0.999999 {
		frac = 0.999999
	}
	phase := int(frac*resampPhases + 0.5)
	if phase > resampPhases-1 {
		phase = resampPhases - 1
	}
	coeffs := &bank[phase]
	var acc float32
	for tap := 0; tap < resampTaps; tap++ {
		acc += hist[(pos+tap)&(resampTaps-1)] * coeffs[tap]
	}
	return acc
}

// denoiseSubband estimates a Wiener-style gain for one band from the
// in-phase and quadrature difference arms.
type denoiseSubband struct {
	sumBp   *dsp.BiquadBandPass
	diffIBp *dsp.BiquadBandPass
	diffQBp *dsp.BiquadBandPass
	noiseLp *dsp.OnePoleLowPass
	diffLp  *dsp.OnePoleLowPass
	sumLp   *dsp.OnePoleLowPass
}

func newDenoiseSubband(audioRate, centerHz, q float64) denoiseSubband {
	return denoiseSubband{
		sumBp:   dsp.NewBiquadBandPass(audioRate, centerHz, q),
		diffIBp: dsp.NewBiquadBandPass(audioRate, centerHz, q),
		diffQBp: dsp.NewBiquadBandPass(audioRate, centerHz, q),
		noiseLp: dsp.NewOnePoleLowPass(audioRate, denoiseNoiseSmoothHz),
		diffLp:  dsp.NewOnePoleLowPass(audioRate, denoiseSignalSmoothHz),
		sumLp:   dsp.NewOnePoleLowPass(audioRate, denoiseSignalSmoothHz),
	}
}

func (b *denoiseSubband) process(sum, diffI, diffQ float32) (gain, weight float32) {
	sumBand := b.sumBp.Process(sum)
	diffIBand := b.diffIBp.Process(diffI)
	diffQBand := b.diffQBp.Process(diffQ)

	noisePower := b.noiseLp.Process(diffQBand * diffQBand)
	if noisePower < denoiseFloor {
		noisePower = denoiseFloor
	}
	diffPower := b.diffLp.Process(diffIBand*diffIBand) - denoiseBeta*noisePower
	if diffPower < 0 {
		diffPower = 0
	}
	sumPower := b.sumLp.Process(sumBand*sumBand) - denoiseAlpha*noisePower
	if sumPower < 0 {
		sumPower = 0
	}

	hden := float32(math.Sqrt(float64(diffPower / noisePower)))
	if hden > 1 {
		hden = 1
	}
	diffSnr := diffPower / noisePower
	weightA := diffSnr / (diffSnr + denoiseKnee)

	noiseIndicator := noisePower / (diffPower + denoiseFloor)
	if noiseIndicator > 1 {
		noiseIndicator = 1
	}
	weightBRaw := diffPower / (sumPower + diffPower + denoiseFloor)
	weightB := 1 - noiseIndicator*(1-weightBRaw)

	bandEnergy := b.diffLp.Value()
	if bandEnergy < denoiseFloor {
		bandEnergy = denoiseFloor
	}
	return hden * weightA * weightB, bandEnergy
}

func (b *denoiseSubband) reset() {
	b.sumBp.Reset()
	b.diffIBp.Reset()
	b.diffQBp.Reset()
	b.noiseLp.Reset()
	b.diffLp.Reset()
	b.sumLp.Reset()
}

type stereoDenoise struct {
	bands   [denoiseBands]denoiseSubband
	enabled bool
}

func newStereoDenoise(audioRate float64) stereoDenoise {
	var sd stereoDenoise
	for idx := range sd.bands {
		sd.bands[idx] = newDenoiseSubband(audioRate, denoiseCenters[idx], denoiseQ[idx])
	}
	sd.enabled = true
	return sd
}

func (sd *stereoDenoise) process(sum, diffI, diffQ float32) float32 {
	if !sd.enabled {
		return diffI
	}
	var gainSum, weightSum float32
	for idx := range sd.bands {
		gain, weight := sd.bands[idx].process(sum, diffI, diffQ)
		gainSum += gain * weight
		weightSum += weight
	}
	broadband := float32(1.0)
	if weightSum > denoiseFloor {
		broadband = gainSum / weightSum
		if broadband < 0 {
			broadband = 0
		} else if broadband > 1 {
			broadband = 1
		}
	}
	return diffI * broadband
}

func (sd *stereoDenoise) reset() {
	for idx := range sd.bands {
		sd.bands[idx].reset()
	}
}

// StereoDecoder turns an FM-discriminated composite into deemphasised
// left/right audio and feeds the RDS decoder from the 57 kHz tap.
type StereoDecoder struct {
	outputChannels int
	stereoEnabled  bool

	rdsDecoder *rds.Decoder
	rdsBpf     *dsp.BiquadBandPass
	rdsDc      *dsp.DcBlocker

	prevIQ     complex64
	havePrevIQ bool

	ncoCos, ncoSin       float32
	ncoIncCos, ncoIncSin float32
	ncoCounter           int

	pilotILp  *dsp.OnePoleLowPass
	pilotQLp  *dsp.OnePoleLowPass
	pilotAbsLp *dsp.OnePoleLowPass
	pilotBpf  *dsp.BiquadBandPass

	sumLpf1, sumLpf2   *dsp.BiquadLowPass
	sumNotch           *dsp.BiquadNotch
	diffPilotNotch     *dsp.BiquadNotch
	diffLpf1, diffLpf2 *dsp.BiquadLowPass
	diffQLpf1, diffQLpf2 *dsp.BiquadLowPass
	diffDc, diffQDc    *dsp.DcBlocker
	dcM, dcL, dcR      *dsp.DcBlocker
	deemphM, deemphL, deemphR *dsp.Deemphasis

	stereoDetectLevel    float32
	stereoDetected       bool
	pilotLockLevel       float32
	stereoSeparationGain float32
	detectCounter        int
	detectPilotMagAcc    float32
	detectPilotAbsAcc    float32

	fmGain float32

	resampleBank [resampPhases][resampTaps]float32
	sumHist      [resampTaps]float32
	diffHist     [resampTaps]float32
	diffQHist    [resampTaps]float32
	histPos      int

	denoise   stereoDenoise
	prevBlend float32

	outputPhaseInc float64
	outputPhase    float64
}

// NewStereoDecoder builds a decoder taking compositeRate IQ-discriminated
// samples in and producing audioRate PCM out.
func NewStereoDecoder(compositeRate, audioRate uint32, outputChannels int, stereoEnabled bool, deemphasisUs uint32) *StereoDecoder {
	if compositeRate < 1 {
		compositeRate = 1
	}
	if audioRate < 1 {
		audioRate = 1
	}
	if outputChannels < 1 {
		outputChannels = 1
	}
	cr := float64(compositeRate)
	ar := float64(audioRate)
	ncoInc := 2 * math.Pi * pilotHz / cr

	return &StereoDecoder{
		outputChannels: outputChannels,
		stereoEnabled:  stereoEnabled,

		rdsDecoder: rds.NewDecoder(compositeRate),
		rdsBpf:     dsp.NewBiquadBandPass(cr, rdsSubcarrierHz, rdsBpfQ),
		rdsDc:      dsp.NewDcBlocker(0.995),

		ncoCos:    1,
		ncoIncCos: float32(math.Cos(ncoInc)),
		ncoIncSin: float32(math.Sin(ncoInc)),

		pilotILp:   dsp.NewOnePoleLowPass(cr, 400),
		pilotQLp:   dsp.NewOnePoleLowPass(cr, 400),
		pilotAbsLp: dsp.NewOnePoleLowPass(cr, 400),
		pilotBpf:   dsp.NewBiquadBandPass(cr, pilotHz, pilotBpfQ),

		sumLpf1:        dsp.NewBiquadLowPass(cr, audioBwHz, bw4Q1),
		sumLpf2:        dsp.NewBiquadLowPass(cr, audioBwHz, bw4Q2),
		sumNotch:       dsp.NewBiquadNotch(cr, pilotHz, pilotNotchQ),
		diffPilotNotch: dsp.NewBiquadNotch(cr, pilotHz, pilotNotchQ),
		diffLpf1:       dsp.NewBiquadLowPass(cr, diffBwHz, bw4Q1),
		diffLpf2:       dsp.NewBiquadLowPass(cr, diffBwHz, bw4Q2),
		diffQLpf1:      dsp.NewBiquadLowPass(cr, diffBwHz, bw4Q1),
		diffQLpf2:      dsp.NewBiquadLowPass(cr, diffBwHz, bw4Q2),
		diffDc:         dsp.NewDcBlocker(diffDcR),
		diffQDc:        dsp.NewDcBlocker(diffDcR),
		dcM:            dsp.NewDcBlocker(0.9999),
		dcL:            dsp.NewDcBlocker(0.9999),
		dcR:            dsp.NewDcBlocker(0.9999),
		deemphM:        dsp.NewDeemphasis(ar, float64(deemphasisUs)),
		deemphL:        dsp.NewDeemphasis(ar, float64(deemphasisUs)),
		deemphR:        dsp.NewDeemphasis(ar, float64(deemphasisUs)),

		stereoSeparationGain: 1.0,
		fmGain:               float32(cr / (2 * 75_000.0)),
		resampleBank:         buildResampleBank(ar / cr),
		denoise:              newStereoDenoise(ar),
		outputPhaseInc:       ar / cr,
	}
}

// ProcessIQ demodulates one block of channel-rate IQ and returns
// interleaved audio frames at the output rate.
func (d *StereoDecoder) ProcessIQ(samples []complex64) []float32 {
	if len(samples) == 0 {
		return nil
	}

	disc := dsp.DemodFmBlock(samples, &d.prevIQ)
	d.havePrevIQ = true

	output := make([]float32, 0, (int(float64(len(samples))*d.outputPhaseInc)+2)*d.outputChannels)
	trimSin := float32(math.Sin(separationPhaseTrim))
	trimCos := float32(math.Cos(separationPhaseTrim))

	for _, discSample := range disc {
		x := discSample * d.fmGain
		pilotTone := d.pilotBpf.Process(x)

		sinP := d.ncoSin
		cosP := d.ncoCos
		i := d.pilotILp.Process(pilotTone * cosP)
		q := d.pilotQLp.Process(pilotTone * -sinP)
		pilotMag := float32(math.Hypot(float64(i), float64(q)))
		invMag := 1 / (pilotMag + 1e-12)
		errSin := q * invMag
		errCos := i * invMag

		// Advance the NCO by complex rotation, renormalising every
		// 1024 samples to stop amplitude drift.
		newCos := d.ncoCos*d.ncoIncCos - d.ncoSin*d.ncoIncSin
		newSin := d.ncoCos*d.ncoIncSin + d.ncoSin*d.ncoIncCos
		d.ncoCos, d.ncoSin = newCos, newSin
		d.ncoCounter++
		if d.ncoCounter >= 1024 {
			d.ncoCounter = 0
			mag := float32(math.Hypot(float64(d.ncoCos), float64(d.ncoSin)))
			inv := 1 / mag
			d.ncoCos *= inv
			d.ncoSin *= inv
		}

		pilotAbs := d.pilotAbsLp.Process(float32(math.Abs(float64(pilotTone))))
		d.detectPilotMagAcc += pilotMag
		d.detectPilotAbsAcc += pilotAbs
		d.detectCounter++
		if d.detectCounter >= stereoDetectDecimation {
			invN := float32(1.0 / stereoDetectDecimation)
			avgMag := d.detectPilotMagAcc * invN
			avgAbs := d.detectPilotAbsAcc * invN
			pilotCoherence := clamp01(avgMag / (avgAbs + 1e-4))
			pilotLock := clamp01((pilotCoherence - 0.4) / 0.2)
			d.pilotLockLevel += 0.12 * (pilotLock - d.pilotLockLevel)
			stereoDrive := clamp01(avgMag * pilotLock * 120.0)
			detectCoeff := float32(0.00005 * stereoDetectDecimation)
			if stereoDrive > d.stereoDetectLevel {
				detectCoeff = 0.0008 * stereoDetectDecimation
			}
			d.stereoDetectLevel += detectCoeff * (stereoDrive - d.stereoDetectLevel)
			if d.stereoDetected {
				if d.stereoDetectLevel < 0.22 {
					d.stereoDetected = false
				}
			} else if d.stereoDetectLevel > 0.6 {
				d.stereoDetected = true
			}
			d.detectCounter = 0
			d.detectPilotMagAcc = 0
			d.detectPilotAbsAcc = 0
		}
		stereoBlendTarget := float32(0)
		if d.stereoDetected {
			stereoBlendTarget = 1
		}

		rdsQuality := 0.35 + pilotMag*20
		if rdsQuality > 1 {
			rdsQuality = 1
		}
		rdsClean := d.rdsDc.Process(d.rdsBpf.Process(x))
		d.rdsDecoder.ProcessSample(rdsClean, rdsQuality)

		sum := d.sumLpf2.Process(d.sumLpf1.Process(x))

		// Double the locked pilot phase for the 38 kHz subcarrier.
		sinEst := sinP*errCos + cosP*errSin
		cosEst := cosP*errCos - sinP*errSin
		sin2p := 2 * sinEst * cosEst
		cos2p := 2*cosEst*cosEst - 1
		xNotched := d.diffPilotNotch.Process(x)
		diffI := d.diffDc.Process(d.diffLpf2.Process(d.diffLpf1.Process(xNotched * (cos2p * 2))))
		diffQ := d.diffQDc.Process(d.diffQLpf2.Process(d.diffQLpf1.Process(xNotched * (-sin2p * 2))))

		pos := d.histPos
		d.sumHist[pos] = sum
		d.diffHist[pos] = diffI
		d.diffQHist[pos] = diffQ
		d.histPos = (pos + 1) & (resampTaps - 1)

		prevPhase := d.outputPhase
		d.outputPhase += d.outputPhaseInc
		if d.outputPhase < 1.0 {
			d.prevBlend = stereoBlendTarget
			continue
		}
		d.outputPhase -= 1.0

		frac := float32((1.0 - prevPhase) / d.outputPhaseInc)
		ringPos := d.histPos
		sumI := resampleRing(&d.sumHist, ringPos, &d.resampleBank, frac)
		diffIRaw := resampleRing(&d.diffHist, ringPos, &d.resampleBank, frac)
		diffQI := resampleRing(&d.diffQHist, ringPos, &d.resampleBank, frac)
		blend := clamp01(d.prevBlend + frac*(stereoBlendTarget-d.prevBlend))
		d.prevBlend = stereoBlendTarget

		separationDrive := clamp01(d.pilotLockLevel*0.65 + d.stereoDetectLevel*0.35)
		separationTarget := float32(separationGainMin) + (separationGainMax-separationGainMin)*separationDrive
		d.stereoSeparationGain += 0.015 * (separationTarget - d.stereoSeparationGain)
		diffITrim := (diffIRaw*trimCos + diffQI*trimSin) * d.stereoSeparationGain
		denoised := d.denoise.process(sumI, diffITrim, diffQI)
		preserve := float32(denoisePreserveMin) + (denoisePreserveMax-denoisePreserveMin)*separationDrive
		diffFinal := denoised + (diffITrim-denoised)*preserve

		if d.outputChannels >= 2 && d.stereoEnabled {
			diff := diffFinal * blend
			left := clampAudio(d.dcL.Process(d.deemphL.Process((sumI + diff) * stereoMatrixGain)))
			right := clampAudio(d.dcR.Process(d.deemphR.Process((sumI - diff) * stereoMatrixGain)))
			output = append(output, left, right)
		} else {
			mono := clampAudio(d.dcM.Process(d.deemphM.Process(d.sumNotch.Process(sumI))))
			output = append(output, mono)
			if d.outputChannels >= 2 {
				output = append(output, mono)
			}
		}
	}
	return output
}

// SetStereoEnabled toggles the stereo matrix.
func (d *StereoDecoder) SetStereoEnabled(enabled bool) {
	d.stereoEnabled = enabled
}

// SetDenoiseEnabled toggles the subband denoise.
func (d *StereoDecoder) SetDenoiseEnabled(enabled bool) {
	d.denoise.enabled = enabled
}

// StereoDetected reports whether the pilot drive currently indicates a
// stereo broadcast.
func (d *StereoDecoder) StereoDetected() bool {
	return d.stereoDetected
}

// RdsState returns the last published RDS snapshot, or nil.
func (d *StereoDecoder) RdsState() *rig.RdsState {
	return d.rdsDecoder.Snapshot()
}

// ResetRds discards RDS decoder state.
func (d *StereoDecoder) ResetRds() {
	d.rdsDecoder.Reset()
}

// ResetState clears every filter and detector, for retunes.
func (d *StereoDecoder) ResetState() {
	d.rdsDecoder.Reset()
	d.rdsBpf.Reset()
	d.rdsDc.Reset()
	d.havePrevIQ = false
	d.prevIQ = 0
	d.ncoCos, d.ncoSin = 1, 0
	d.ncoCounter = 0
	d.pilotILp.Reset()
	d.pilotQLp.Reset()
	d.pilotAbsLp.Reset()
	d.pilotBpf.Reset()
	d.sumLpf1.Reset()
	d.sumLpf2.Reset()
	d.sumNotch.Reset()
	d.diffPilotNotch.Reset()
	d.diffLpf1.Reset()
	d.diffLpf2.Reset()
	d.diffQLpf1.Reset()
	d.diffQLpf2.Reset()
	d.diffDc.Reset()
	d.diffQDc.Reset()
	d.dcM.Reset()
	d.dcL.Reset()
	d.dcR.Reset()
	d.deemphM.Reset()
	d.deemphL.Reset()
	d.deemphR.Reset()
	d.stereoDetectLevel = 0
	d.stereoDetected = false
	d.pilotLockLevel = 0
	d.stereoSeparationGain = 1
	d.detectCounter = 0
	d.detectPilotMagAcc = 0
	d.detectPilotAbsAcc = 0
	d.sumHist = [resampTaps]float32{}
	d.diffHist = [resampTaps]float32{}
	d.diffQHist = [resampTaps]float32{}
	d.histPos = 0
	d.denoise.reset()
	d.prevBlend = 0
	d.outputPhase = 0
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampAudio(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
