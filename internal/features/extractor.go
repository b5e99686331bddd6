// Package features turns raw voice recordings into scalar voice descriptors:
// pitch, spectral centroid, cepstral (MFCC) summary, energy, zero-crossing
// rate and spectral rolloff, each summarised as mean and standard deviation
// over analysis frames.
//
// Analysis parameters follow the librosa defaults the reference profiles were
// built with: 2048-sample FFT, 512-sample hop, centred frames and a periodic
// Hann window.
package features

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-auth/internal/audio"
	"voice-auth/internal/domain"
)

var (
	// ErrTooShort is returned when the decoded recording is shorter than the
	// configured minimum duration.
	ErrTooShort = errors.New("audio too short for feature extraction")
	// ErrNoFeatures is returned when every feature group failed.
	ErrNoFeatures = errors.New("no feature group could be computed")
)

// Status describes how a Result was produced.
type Status int

const (
	// StatusExtracted means the features were computed from the recording.
	StatusExtracted Status = iota
	// StatusFailed means extraction failed and Features is empty.
	StatusFailed
	// StatusSynthetic means the pipeline broke unexpectedly and Features holds
	// the SyntheticFeatures placeholder instead of measurements.
	StatusSynthetic
)

func (s Status) String() string {
	switch s {
	case StatusExtracted:
		return "extracted"
	case StatusFailed:
		return "failed"
	case StatusSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of one extraction.
type Result struct {
	Features domain.Features
	Status   Status
	// Degraded lists feature groups that failed and were reported as zeros.
	Degraded []string
	Err      error
}

// OK reports whether the result carries usable features.
func (r Result) OK() bool {
	return len(r.Features) > 0
}

// SyntheticFeatures is the placeholder profile returned when the pipeline
// breaks and synthetic results are allowed. It keeps downstream scoring
// defined in degraded environments; it is not a measurement of anyone's voice.
// TODO: default features.allow_synthetic to false once enrollment clients
// retry on extraction errors.
func SyntheticFeatures() domain.Features {
	return domain.Features{
		domain.FeaturePitchMean:            440.0,
		domain.FeaturePitchStd:             50.0,
		domain.FeaturePitchRange:           200.0,
		domain.FeatureSpectralCentroidMean: 1000.0,
		domain.FeatureSpectralCentroidStd:  200.0,
		domain.FeatureMFCCMean:             -25.0,
		domain.FeatureMFCCStd:              100.0,
		domain.FeatureEnergyMean:           0.02,
		domain.FeatureEnergyStd:            0.03,
		domain.FeatureZCRMean:              0.06,
		domain.FeatureZCRStd:               0.02,
		domain.FeatureRolloffMean:          2000.0,
		domain.FeatureRolloffStd:           500.0,
	}
}

// Config controls the extraction pipeline.
type Config struct {
	SampleRate     int           // analysis rate (default 16000)
	MinDuration    time.Duration // shortest accepted recording (default 500ms)
	ScratchDir     string        // where recordings are staged for decoding
	AllowSynthetic bool

	FFTSize        int     // default 2048
	HopSize        int     // default 512
	NumMFCC        int     // default 13
	NumMels        int     // default 128
	PitchFloor     float64 // minimum peak magnitude for a confident pitch frame (default 0.1)
	PitchMinHz     float64 // default 150
	PitchMaxHz     float64 // default 4000
	RolloffPercent float64 // default 0.85
}

// DefaultConfig returns the reference analysis parameters.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		MinDuration:    500 * time.Millisecond,
		ScratchDir:     os.TempDir(),
		AllowSynthetic: true,
		FFTSize:        2048,
		HopSize:        512,
		NumMFCC:        13,
		NumMels:        128,
		PitchFloor:     0.1,
		PitchMinHz:     150,
		PitchMaxHz:     4000,
		RolloffPercent: 0.85,
	}
}

// Extractor computes voice features. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	decoder audio.Decoder
	logger  logrus.FieldLogger
	window  []float64
	dct     [][]float64

	mu       sync.Mutex
	melBanks map[int][][]float64
}

func NewExtractor(cfg Config, decoder audio.Decoder, logger logrus.FieldLogger) *Extractor {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = def.ScratchDir
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = def.HopSize
	}
	if cfg.NumMFCC <= 0 {
		cfg.NumMFCC = def.NumMFCC
	}
	if cfg.NumMels <= 0 {
		cfg.NumMels = def.NumMels
	}
	if cfg.PitchFloor <= 0 {
		cfg.PitchFloor = def.PitchFloor
	}
	if cfg.PitchMinHz <= 0 {
		cfg.PitchMinHz = def.PitchMinHz
	}
	if cfg.PitchMaxHz <= cfg.PitchMinHz {
		cfg.PitchMaxHz = def.PitchMaxHz
	}
	if cfg.RolloffPercent <= 0 || cfg.RolloffPercent >= 1 {
		cfg.RolloffPercent = def.RolloffPercent
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Extractor{
		cfg:      cfg,
		decoder:  decoder,
		logger:   logger,
		window:   periodicHann(cfg.FFTSize),
		dct:      dctBasis(cfg.NumMFCC, cfg.NumMels),
		melBanks: make(map[int][][]float64),
	}
}

// Extract decodes raw audio and computes its feature mapping. It never
// returns an error directly; failures are reported through Result.Status.
func (e *Extractor) Extract(ctx context.Context, raw []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("stack", string(debug.Stack())).Errorf("feature extraction panic: %v", r)
			res = e.synthetic(fmt.Errorf("feature extraction panic: %v", r))
		}
	}()

	path, cleanup, err := e.writeScratch(raw)
	if err != nil {
		return e.synthetic(err)
	}
	defer cleanup()

	wf, err := e.decode(ctx, path)
	if err != nil {
		e.logger.Errorf("decode audio (%d bytes): %v", len(raw), err)
		return failed(err)
	}

	if wf.Duration() < e.cfg.MinDuration {
		e.logger.Warnf("audio too short: %s (%d samples at %d Hz)", wf.Duration(), len(wf.Samples), wf.SampleRate)
		return failed(ErrTooShort)
	}

	return e.analyze(wf)
}

func (e *Extractor) writeScratch(raw []byte) (string, func(), error) {
	path := filepath.Join(e.cfg.ScratchDir, "voice-"+uuid.NewString()+".audio")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("create scratch file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warnf("remove scratch file %s: %v", path, err)
		}
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close scratch file: %w", err)
	}
	return path, cleanup, nil
}

// decode tries the analysis rate first and falls back to the native rate.
func (e *Extractor) decode(ctx context.Context, path string) (audio.Waveform, error) {
	wf, err := e.decoder.Decode(ctx, path, e.cfg.SampleRate)
	if err == nil {
		return wf, nil
	}
	e.logger.Warnf("decode at %d Hz failed, retrying at native rate: %v", e.cfg.SampleRate, err)

	wf, nativeErr := e.decoder.Decode(ctx, path, 0)
	if nativeErr != nil {
		return audio.Waveform{}, fmt.Errorf("decode audio: %w", errors.Join(err, nativeErr))
	}
	return wf, nil
}

func (e *Extractor) synthetic(err error) Result {
	if !e.cfg.AllowSynthetic {
		e.logger.Errorf("feature extraction failed: %v", err)
		return failed(err)
	}
	e.logger.Warnf("feature extraction failed, returning synthetic features: %v", err)
	return Result{Features: SyntheticFeatures(), Status: StatusSynthetic, Err: err}
}

func failed(err error) Result {
	return Result{Features: domain.Features{}, Status: StatusFailed, Err: err}
}

func (e *Extractor) melBank(sampleRate int) [][]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	bank, ok := e.melBanks[sampleRate]
	if !ok {
		bank = melFilterBank(e.cfg.NumMels, e.cfg.FFTSize, sampleRate)
		e.melBanks[sampleRate] = bank
	}
	return bank
}
