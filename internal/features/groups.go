package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"voice-auth/internal/audio"
	"voice-auth/internal/domain"
)

var errNoFrames = errors.New("no analysis frames")

type group struct {
	name    string
	keys    []string
	compute func() ([]float64, error)
}

// analyze computes every feature group independently. A failing group is
// reported as zeros and does not stop the others.
func (e *Extractor) analyze(wf audio.Waveform) Result {
	y, sr := wf.Samples, wf.SampleRate

	spec, specErr := guard(func() ([][]float64, error) {
		s := magnitudeSpectrogram(y, e.cfg.FFTSize, e.cfg.HopSize, e.window)
		if len(s) == 0 {
			return nil, errNoFrames
		}
		return s, nil
	})
	freqs := binFrequencies(e.cfg.FFTSize, sr)
	spectral := func(fn func([][]float64) ([]float64, error)) func() ([]float64, error) {
		return func() ([]float64, error) {
			if specErr != nil {
				return nil, fmt.Errorf("spectrogram: %w", specErr)
			}
			return fn(spec)
		}
	}

	groups := []group{
		{
			name: "pitch",
			keys: []string{domain.FeaturePitchMean, domain.FeaturePitchStd, domain.FeaturePitchRange},
			compute: spectral(func(s [][]float64) ([]float64, error) {
				return e.pitch(s, freqs, sr), nil
			}),
		},
		{
			name: "spectral_centroid",
			keys: []string{domain.FeatureSpectralCentroidMean, domain.FeatureSpectralCentroidStd},
			compute: spectral(func(s [][]float64) ([]float64, error) {
				return meanStd(perFrame(s, func(mag []float64) float64 { return centroid(mag, freqs) }))
			}),
		},
		{
			name: "mfcc",
			keys: []string{domain.FeatureMFCCMean, domain.FeatureMFCCStd},
			compute: spectral(func(s [][]float64) ([]float64, error) {
				return meanStd(e.mfcc(s, sr))
			}),
		},
		{
			name: "energy",
			keys: []string{domain.FeatureEnergyMean, domain.FeatureEnergyStd},
			compute: func() ([]float64, error) {
				return meanStd(perFrame(frames(y, e.cfg.FFTSize, e.cfg.HopSize, false), rms))
			},
		},
		{
			name: "zcr",
			keys: []string{domain.FeatureZCRMean, domain.FeatureZCRStd},
			compute: func() ([]float64, error) {
				return meanStd(perFrame(frames(y, e.cfg.FFTSize, e.cfg.HopSize, true), zeroCrossingRate))
			},
		},
		{
			name: "rolloff",
			keys: []string{domain.FeatureRolloffMean, domain.FeatureRolloffStd},
			compute: spectral(func(s [][]float64) ([]float64, error) {
				return meanStd(perFrame(s, func(mag []float64) float64 {
					return rolloff(mag, freqs, e.cfg.RolloffPercent)
				}))
			}),
		},
	}

	out := make(domain.Features, len(domain.FeatureNames))
	var degraded []string
	for _, g := range groups {
		values, err := guard(g.compute)
		if err == nil && len(values) != len(g.keys) {
			err = fmt.Errorf("expected %d values, got %d", len(g.keys), len(values))
		}
		if err != nil {
			e.logger.Warnf("%s features failed, using zeros: %v", g.name, err)
			degraded = append(degraded, g.name)
			for _, k := range g.keys {
				out[k] = 0
			}
			continue
		}
		for i, k := range g.keys {
			out[k] = values[i]
		}
	}

	if len(degraded) == len(groups) {
		return failed(ErrNoFeatures)
	}
	e.logger.Debugf("extracted %d features from %d samples at %d Hz", len(out), len(y), sr)
	return Result{Features: out, Status: StatusExtracted, Degraded: degraded}
}

// guard runs fn and converts a panic into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func perFrame(fs [][]float64, fn func([]float64) float64) []float64 {
	out := make([]float64, len(fs))
	for i, f := range fs {
		out[i] = fn(f)
	}
	return out
}

func meanStd(x []float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, errNoFrames
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
		return nil, errors.New("non-finite statistics")
	}
	return []float64{mean, std}, nil
}

// pitch picks the strongest spectral peak inside the pitch band of every
// frame and keeps the frames whose peak clears the magnitude floor.
func (e *Extractor) pitch(spec [][]float64, freqs []float64, sampleRate int) []float64 {
	binHz := float64(sampleRate) / float64(e.cfg.FFTSize)
	lo := max(1, int(math.Ceil(e.cfg.PitchMinHz/binHz)))
	hi := min(len(freqs)-2, int(math.Floor(e.cfg.PitchMaxHz/binHz)))

	var pitches []float64
	for _, mag := range spec {
		best, bestMag := -1, 0.0
		for k := lo; k <= hi; k++ {
			if mag[k] > mag[k-1] && mag[k] >= mag[k+1] && mag[k] > bestMag {
				best, bestMag = k, mag[k]
			}
		}
		if best < 0 {
			continue
		}
		bin, peak := parabolicPeak(mag, best)
		if peak > e.cfg.PitchFloor {
			pitches = append(pitches, bin*binHz)
		}
	}
	if len(pitches) == 0 {
		return []float64{0, 0, 0}
	}
	mean, std := stat.PopMeanStdDev(pitches, nil)
	return []float64{mean, std, floats.Max(pitches) - floats.Min(pitches)}
}

func centroid(mag, freqs []float64) float64 {
	total := floats.Sum(mag)
	if total == 0 {
		return 0
	}
	return floats.Dot(mag, freqs) / total
}

func rolloff(mag, freqs []float64, percent float64) float64 {
	threshold := percent * floats.Sum(mag)
	cum := 0.0
	for k, m := range mag {
		cum += m
		if cum >= threshold {
			return freqs[k]
		}
	}
	return freqs[len(freqs)-1]
}

func rms(frame []float64) float64 {
	return math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
}

// zeroCrossingRate counts sign changes, treating near-zero samples as
// positive.
func zeroCrossingRate(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	const threshold = 1e-10
	neg := func(x float64) bool { return x < -threshold }
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if neg(frame[i]) != neg(frame[i-1]) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame))
}

// mfcc returns the flattened NumMFCC x frames cepstral matrix.
func (e *Extractor) mfcc(spec [][]float64, sampleRate int) []float64 {
	bank := e.melBank(sampleRate)
	const amin = 1e-10
	const topDB = 80.0

	logMel := make([][]float64, len(spec))
	peak := math.Inf(-1)
	power := make([]float64, 0)
	for t, mag := range spec {
		power = power[:0]
		for _, m := range mag {
			power = append(power, m*m)
		}
		row := make([]float64, len(bank))
		for m, filter := range bank {
			row[m] = 10 * math.Log10(math.Max(amin, floats.Dot(filter, power)))
			peak = math.Max(peak, row[m])
		}
		logMel[t] = row
	}

	floor := peak - topDB
	out := make([]float64, 0, len(spec)*len(e.dct))
	for _, row := range logMel {
		for m := range row {
			row[m] = math.Max(row[m], floor)
		}
		for _, basis := range e.dct {
			out = append(out, floats.Dot(basis, row))
		}
	}
	return out
}
