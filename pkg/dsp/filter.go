// Package dsp implements the SDR receive chain: mixer, FIR anti-alias
// filtering, decimation, demodulation and frame accumulation, plus the
// small filter primitives the decoders share.
package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// IQBlockSize is the number of complex samples per block read from the
// IQ source.
const IQBlockSize = 4096

// WindowedSincCoeffs designs a Hann-windowed sinc low-pass with unity
// DC gain. cutoffNorm is cutoff/sampleRate.
func WindowedSincCoeffs(cutoffNorm float64, taps int) []float64 {
	if taps < 1 {
		taps = 1
	}
	m := float64(taps - 1)
	coeffs := make([]float64, taps)
	for i := 0; i < taps; i++ {
		x := float64(i) - m/2
		var sinc float64
		if x == 0 {
			sinc = 2 * cutoffNorm
		} else {
			sinc = math.Sin(2*math.Pi*cutoffNorm*x) / (math.Pi * x)
		}
		window := 1.0
		if taps > 1 {
			window = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/m))
		}
		coeffs[i] = sinc * window
	}
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	if math.Abs(sum) > 1e-12 {
		inv := 1.0 / sum
		for i := range coeffs {
			coeffs[i] *= inv
		}
	}
	return coeffs
}

// FirFilter is a direct-form windowed-sinc low-pass with a
// sample-by-sample interface. The pipeline itself uses BlockFirPair;
// this shape serves the narrow decoder pre-filters and tests.
type FirFilter struct {
	coeffs []float64
	state  []float32
	pos    int
}

// NewFirFilter builds a FIR low-pass with normalised cutoff and taps.
func NewFirFilter(cutoffNorm float64, taps int) *FirFilter {
	coeffs := WindowedSincCoeffs(cutoffNorm, taps)
	stateLen := taps - 1
	if stateLen < 0 {
		stateLen = 0
	}
	return &FirFilter{coeffs: coeffs, state: make([]float32, stateLen)}
}

// Process filters one sample.
func (f *FirFilter) Process(sample float32) float32 {
	n := len(f.state)
	if n == 0 {
		return sample * float32(f.coeffs[0])
	}
	f.state[f.pos] = sample
	f.pos = (f.pos + 1) % n
	acc := float32(f.coeffs[0]) * sample
	for k := 1; k < len(f.coeffs); k++ {
		idx := (f.pos + n - k) % n
		acc += float32(f.coeffs[k]) * f.state[idx]
	}
	return acc
}

// BlockFirPair is an FFT-based overlap-save FIR low-pass that filters
// the I and Q rails together: I rides the real part and Q the
// imaginary part, so one forward/inverse FFT pair serves both.
type BlockFirPair struct {
	hFreq   []complex128
	overlap []complex128
	nTaps   int
	fftSize int
}

// NewBlockFirPair builds the filter for blocks of blockSize samples.
func NewBlockFirPair(cutoffNorm float64, taps, blockSize int) *BlockFirPair {
	if taps < 1 {
		taps = 1
	}
	coeffs := WindowedSincCoeffs(cutoffNorm, taps)
	fftSize := nextPow2(blockSize + taps - 1)

	h := make([]complex128, fftSize)
	for i, c := range coeffs {
		h[i] = complex(c, 0)
	}
	return &BlockFirPair{
		hFreq:   fft.FFT(h),
		overlap: make([]complex128, taps-1),
		nTaps:   taps,
		fftSize: fftSize,
	}
}

// FilterBlock convolves one block of complex baseband samples and
// returns the filtered block, same length as the input.
func (f *BlockFirPair) FilterBlock(input []complex64) []complex64 {
	nNew := len(input)
	if nNew == 0 {
		return nil
	}
	nOverlap := f.nTaps - 1

	buf := make([]complex128, f.fftSize)
	copy(buf, f.overlap)
	for i, s := range input {
		buf[nOverlap+i] = complex(float64(real(s)), float64(imag(s)))
	}

	spec := fft.FFT(buf)
	for i := range spec {
		spec[i] *= f.hFreq[i]
	}
	res := fft.IFFT(spec)

	out := make([]complex64, nNew)
	for i := 0; i < nNew && nOverlap+i < len(res); i++ {
		out[i] = complex64(res[nOverlap+i])
	}

	if nOverlap > 0 {
		if nNew >= nOverlap {
			for i := 0; i < nOverlap; i++ {
				s := input[nNew-nOverlap+i]
				f.overlap[i] = complex(float64(real(s)), float64(imag(s)))
			}
		} else {
			keepOld := nOverlap - nNew
			copy(f.overlap, f.overlap[nNew:])
			for i := 0; i < nNew; i++ {
				s := input[i]
				f.overlap[keepOld+i] = complex(float64(real(s)), float64(imag(s)))
			}
		}
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
