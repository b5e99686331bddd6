package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegDecoder shells out to ffmpeg, which handles the container formats
// browsers record in (webm, ogg, m4a, mp3).
type FFmpegDecoder struct {
	Binary  string
	Timeout time.Duration
}

func NewFFmpegDecoder(binary string, timeout time.Duration) *FFmpegDecoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpegDecoder{Binary: binary, Timeout: timeout}
}

// Init checks that the ffmpeg binary can be found.
func (d *FFmpegDecoder) Init() error {
	path, err := exec.LookPath(d.Binary)
	if err != nil {
		return fmt.Errorf("locate %s: %w", d.Binary, err)
	}
	d.Binary = path
	return nil
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int) (Waveform, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	args := []string{"-hide_banner", "-v", "error", "-i", path, "-ac", "1"}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}
	args = append(args, "-f", "f32le", "pipe:1")

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return Waveform{}, fmt.Errorf("ffmpeg decode: %w: %s", err, msg)
		}
		return Waveform{}, fmt.Errorf("ffmpeg decode: %w", err)
	}

	samples, err := parseF32LE(stdout.Bytes())
	if err != nil {
		return Waveform{}, err
	}

	rate := sampleRate
	if rate == 0 {
		rate, err = d.probeSampleRate(ctx, path)
		if err != nil {
			return Waveform{}, err
		}
	}
	return Waveform{Samples: samples, SampleRate: rate}, nil
}

func (d *FFmpegDecoder) probeSampleRate(ctx context.Context, path string) (int, error) {
	probe := strings.TrimSuffix(d.Binary, "ffmpeg") + "ffprobe"
	cmd := exec.CommandContext(ctx, probe,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe sample rate: %w", err)
	}
	rate, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("ffprobe sample rate %q: %w", strings.TrimSpace(string(out)), ErrUnsupportedFormat)
	}
	return rate, nil
}

func parseF32LE(raw []byte) ([]float64, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("ffmpeg output is not a whole number of f32 samples")
	}
	samples := make([]float64, len(raw)/4)
	for i := range samples {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return samples, nil
}

var _ Decoder = (*FFmpegDecoder)(nil)
