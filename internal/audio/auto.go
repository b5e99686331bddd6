package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// AutoDecoder decodes RIFF/WAVE files natively and hands every other
// container to the fallback decoder.
type AutoDecoder struct {
	wav      Decoder
	fallback Decoder
}

// NewAutoDecoder returns a decoder that prefers wav for WAVE input. fallback
// may be nil, in which case non-WAVE input is rejected.
func NewAutoDecoder(wav, fallback Decoder) *AutoDecoder {
	return &AutoDecoder{wav: wav, fallback: fallback}
}

func (d *AutoDecoder) Decode(ctx context.Context, path string, sampleRate int) (Waveform, error) {
	isWAV, err := sniffWAVE(path)
	if err != nil {
		return Waveform{}, err
	}
	if isWAV {
		w, err := d.wav.Decode(ctx, path, sampleRate)
		if err == nil || d.fallback == nil {
			return w, err
		}
	}
	if d.fallback == nil {
		return Waveform{}, fmt.Errorf("no decoder for non-wav input: %w", ErrUnsupportedFormat)
	}
	return d.fallback.Decode(ctx, path, sampleRate)
}

func sniffWAVE(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, nil
	}
	return bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")), nil
}

var _ Decoder = (*AutoDecoder)(nil)
