package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// periodicHann matches the window used by scipy/librosa for spectral analysis.
func periodicHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// reflectIndex mirrors i into [0, n) without repeating the edge sample.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// magnitudeSpectrogram returns |STFT| frames of nfft/2+1 bins using centred,
// reflect-padded frames.
func magnitudeSpectrogram(y []float64, nfft, hop int, window []float64) [][]float64 {
	if len(y) == 0 {
		return nil
	}
	pad := nfft / 2
	numFrames := 1 + len(y)/hop
	fft := fourier.NewFFT(nfft)

	frame := make([]float64, nfft)
	coeffs := make([]complex128, nfft/2+1)
	spec := make([][]float64, numFrames)
	for t := range spec {
		start := t*hop - pad
		for i := 0; i < nfft; i++ {
			frame[i] = y[reflectIndex(start+i, len(y))] * window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		mag := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mag[k] = cmplx.Abs(c)
		}
		spec[t] = mag
	}
	return spec
}

// frames slices y into centred, zero-padded frames of length n.
func frames(y []float64, n, hop int, edge bool) [][]float64 {
	if len(y) == 0 {
		return nil
	}
	pad := n / 2
	numFrames := 1 + len(y)/hop
	out := make([][]float64, numFrames)
	for t := range out {
		start := t*hop - pad
		f := make([]float64, n)
		for i := range f {
			j := start + i
			switch {
			case j >= 0 && j < len(y):
				f[i] = y[j]
			case edge && j < 0:
				f[i] = y[0]
			case edge:
				f[i] = y[len(y)-1]
			}
		}
		out[t] = f
	}
	return out
}

func binFrequencies(nfft, sampleRate int) []float64 {
	freqs := make([]float64, nfft/2+1)
	for k := range freqs {
		freqs[k] = float64(k) * float64(sampleRate) / float64(nfft)
	}
	return freqs
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(f float64) float64 {
	if f < melMinLogHz {
		return f / melFSp
	}
	return melMinLogMel + math.Log(f/melMinLogHz)/melLogStep
}

func melToHz(m float64) float64 {
	if m < melMinLogMel {
		return m * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(m-melMinLogMel))
}

// melFilterBank builds area-normalised triangular filters over [0, sr/2].
func melFilterBank(numMels, nfft, sampleRate int) [][]float64 {
	fftFreqs := binFrequencies(nfft, sampleRate)
	minMel := hzToMel(0)
	maxMel := hzToMel(float64(sampleRate) / 2)

	melF := make([]float64, numMels+2)
	for i := range melF {
		melF[i] = melToHz(minMel + (maxMel-minMel)*float64(i)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		lowDiff := melF[m+1] - melF[m]
		highDiff := melF[m+2] - melF[m+1]
		enorm := 2 / (melF[m+2] - melF[m])
		row := make([]float64, len(fftFreqs))
		for k, f := range fftFreqs {
			lower := (f - melF[m]) / lowDiff
			upper := (melF[m+2] - f) / highDiff
			row[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		bank[m] = row
	}
	return bank
}

// dctBasis returns the first n rows of the orthonormal DCT-II matrix of size
// size.
func dctBasis(n, size int) [][]float64 {
	basis := make([][]float64, n)
	for k := range basis {
		scale := math.Sqrt(2 / float64(size))
		if k == 0 {
			scale = math.Sqrt(1 / float64(size))
		}
		row := make([]float64, size)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(size)))
		}
		basis[k] = row
	}
	return basis
}

// parabolicPeak refines the peak at bin k of mag. It returns the fractional
// bin and the interpolated magnitude.
func parabolicPeak(mag []float64, k int) (float64, float64) {
	a, b, c := mag[k-1], mag[k], mag[k+1]
	denom := a - 2*b + c
	if denom == 0 {
		return float64(k), b
	}
	shift := 0.5 * (a - c) / denom
	return float64(k) + shift, b - 0.25*(a-c)*shift
}
