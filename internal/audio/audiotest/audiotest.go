// Package audiotest synthesises WAV fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Tone is a sum of sinusoids with the given fundamental and harmonic weights.
type Tone struct {
	Frequency float64
	Harmonics []float64
	Amplitude float64
}

// Samples renders the tone as float samples in [-1, 1].
func (t Tone) Samples(sampleRate int, seconds float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	weights := t.Harmonics
	if len(weights) == 0 {
		weights = []float64{1}
	}
	total := 0.0
	for _, w := range weights {
		total += math.Abs(w)
	}
	amp := t.Amplitude
	if amp == 0 {
		amp = 0.5
	}

	out := make([]float64, n)
	for i := range out {
		ts := float64(i) / float64(sampleRate)
		v := 0.0
		for h, w := range weights {
			v += w * math.Sin(2*math.Pi*t.Frequency*float64(h+1)*ts)
		}
		out[i] = amp * v / total
	}
	return out
}

// WriteWAV encodes samples as 16-bit PCM with the given channel count and
// returns the file path.
func WriteWAV(t testing.TB, samples []float64, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	data := make([]int, 0, len(samples)*channels)
	for _, s := range samples {
		v := int(math.Round(s * 32767))
		for c := 0; c < channels; c++ {
			data = append(data, v)
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}

// WAVBytes is WriteWAV followed by reading the file back.
func WAVBytes(t testing.TB, samples []float64, sampleRate int) []byte {
	t.Helper()
	raw, err := os.ReadFile(WriteWAV(t, samples, sampleRate, 1))
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return raw
}
