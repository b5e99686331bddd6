package audio

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

const wavFormatPCM = 1

// WAVDecoder decodes PCM WAV files without external tools.
type WAVDecoder struct{}

func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{}
}

func (d *WAVDecoder) Decode(_ context.Context, path string, sampleRate int) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("invalid wav file: %w", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Waveform{}, fmt.Errorf("wav audio format %d: %w", dec.WavAudioFormat, ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("read wav pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("wav header missing format: %w", ErrUnsupportedFormat)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return Waveform{}, fmt.Errorf("wav bit depth %d: %w", bitDepth, ErrUnsupportedFormat)
	}

	samples := downmix(buf.Data, buf.Format.NumChannels, bitDepth)
	native := buf.Format.SampleRate
	if sampleRate == 0 || sampleRate == native {
		return Waveform{Samples: samples, SampleRate: native}, nil
	}

	resampled, err := resample(samples, native, sampleRate)
	if err != nil {
		return Waveform{}, err
	}
	return Waveform{Samples: resampled, SampleRate: sampleRate}, nil
}

// downmix averages interleaved channels and scales integer samples into [-1, 1].
func downmix(data []int, channels, bitDepth int) []float64 {
	scale := float64(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		scale = 128
	}
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			v := float64(data[i*channels+c])
			if bitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		out[i] = sum / float64(channels) / scale
	}
	return out
}

func resample(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler %d->%d: %w", from, to, err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d->%d: %w", from, to, err)
	}
	return out, nil
}

var _ Decoder = (*WAVDecoder)(nil)
