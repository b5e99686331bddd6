package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Backend names accepted by NewDecoder.
const (
	BackendAuto   = "auto"
	BackendWAV    = "wav"
	BackendFFmpeg = "ffmpeg"
)

// NewDecoder builds the decoder for backend. The auto backend degrades to
// WAV-only input when ffmpeg cannot be found.
func NewDecoder(backend string, ffmpeg *FFmpegDecoder, logger logrus.FieldLogger) (Decoder, error) {
	switch backend {
	case BackendWAV:
		return NewWAVDecoder(), nil
	case BackendFFmpeg:
		if err := ffmpeg.Init(); err != nil {
			return nil, err
		}
		return ffmpeg, nil
	case BackendAuto, "":
		if err := ffmpeg.Init(); err != nil {
			logger.WithError(err).Warn("ffmpeg unavailable, only wav input will be decoded")
			return NewAutoDecoder(NewWAVDecoder(), nil), nil
		}
		return NewAutoDecoder(NewWAVDecoder(), ffmpeg), nil
	default:
		return nil, fmt.Errorf("unknown decoder backend %q", backend)
	}
}
