// Package audio decodes recorded audio into mono floating point waveforms.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedFormat is returned when a decoder cannot handle the input.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Waveform is a mono signal with samples in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration reports the length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Decoder turns an audio file into a mono waveform. A sampleRate of 0 keeps
// the file's native rate.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int) (Waveform, error)
}
