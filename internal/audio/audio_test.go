package audio

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-auth/internal/audio/audiotest"
)

func TestWAVDecoder_NativeRate(t *testing.T) {
	in := audiotest.Tone{Frequency: 220}.Samples(16000, 1.0)
	path := audiotest.WriteWAV(t, in, 16000, 1)

	w, err := NewWAVDecoder().Decode(context.Background(), path, 16000)
	require.NoError(t, err)

	assert.Equal(t, 16000, w.SampleRate)
	require.Len(t, w.Samples, len(in))
	for i := 0; i < len(in); i += 997 {
		assert.InDelta(t, in[i], w.Samples[i], 1e-4)
	}
	assert.Equal(t, time.Second, w.Duration())
}

func TestWAVDecoder_DownmixesStereo(t *testing.T) {
	in := audiotest.Tone{Frequency: 300}.Samples(8000, 0.5)
	path := audiotest.WriteWAV(t, in, 8000, 2)

	w, err := NewWAVDecoder().Decode(context.Background(), path, 0)
	require.NoError(t, err)

	assert.Equal(t, 8000, w.SampleRate)
	require.Len(t, w.Samples, len(in))
	assert.InDelta(t, in[100], w.Samples[100], 1e-4)
}

func TestWAVDecoder_Resamples(t *testing.T) {
	in := audiotest.Tone{Frequency: 440}.Samples(44100, 1.0)
	path := audiotest.WriteWAV(t, in, 44100, 1)

	w, err := NewWAVDecoder().Decode(context.Background(), path, 16000)
	require.NoError(t, err)

	assert.Equal(t, 16000, w.SampleRate)
	assert.Greater(t, len(w.Samples), 8000)
	assert.Less(t, len(w.Samples), 17000)
}

func TestWAVDecoder_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o600))

	_, err := NewWAVDecoder().Decode(context.Background(), path, 16000)
	require.Error(t, err)
}

func TestAutoDecoder_RejectsNonWAVWithoutFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte{0x1a, 0x45, 0xdf, 0xa3, 0, 0, 0, 0, 0, 0, 0, 0}, 0o600))

	_, err := NewAutoDecoder(NewWAVDecoder(), nil).Decode(context.Background(), path, 16000)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

type stubDecoder struct {
	calls int
	out   Waveform
}

func (s *stubDecoder) Decode(context.Context, string, int) (Waveform, error) {
	s.calls++
	return s.out, nil
}

func TestAutoDecoder_RoutesByHeader(t *testing.T) {
	fallback := &stubDecoder{out: Waveform{Samples: []float64{0}, SampleRate: 16000}}
	dec := NewAutoDecoder(NewWAVDecoder(), fallback)

	wavPath := audiotest.WriteWAV(t, audiotest.Tone{Frequency: 200}.Samples(16000, 0.2), 16000, 1)
	w, err := dec.Decode(context.Background(), wavPath, 16000)
	require.NoError(t, err)
	assert.Len(t, w.Samples, 3200)
	assert.Equal(t, 0, fallback.calls)

	other := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(other, []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00"), 0o600))
	_, err = dec.Decode(context.Background(), other, 16000)
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.calls)
}

func TestParseF32LE(t *testing.T) {
	_, err := parseF32LE([]byte{1, 2, 3})
	require.Error(t, err)

	samples, err := parseF32LE([]byte{0, 0, 0x80, 0x3f, 0, 0, 0x80, 0xbf})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1}, samples)
}

func TestFFmpegDecoder_DecodesWAV(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dec := NewFFmpegDecoder("ffmpeg", 10*time.Second)
	require.NoError(t, dec.Init())

	path := audiotest.WriteWAV(t, audiotest.Tone{Frequency: 220}.Samples(22050, 1.0), 22050, 1)
	w, err := dec.Decode(context.Background(), path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, w.SampleRate)
	assert.InDelta(t, 16000, len(w.Samples), 200)
}

func TestNewDecoder(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	missing := NewFFmpegDecoder("definitely-not-ffmpeg-xyz", time.Second)

	d, err := NewDecoder(BackendWAV, missing, logger)
	require.NoError(t, err)
	assert.IsType(t, &WAVDecoder{}, d)

	_, err = NewDecoder(BackendFFmpeg, missing, logger)
	require.Error(t, err)

	d, err = NewDecoder(BackendAuto, missing, logger)
	require.NoError(t, err)
	assert.IsType(t, &AutoDecoder{}, d)

	_, err = NewDecoder("sox", missing, logger)
	require.Error(t, err)
}
