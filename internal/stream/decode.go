package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

// PCMSource yields interleaved s16le stereo PCM at 48 kHz.
type PCMSource interface {
	io.Reader
	// Close stops decoding and releases the input. It returns the reason
	// decoding ended early, if any.
	Close() error
}

// DecoderFunc opens a PCM source for an acquired stream.
type DecoderFunc func(ctx context.Context, st *extract.Stream) (PCMSource, error)

// NewDecoder returns the default decoder: in-process astiav for locator
// URLs, an ffmpeg process fed on stdin for byte streams.
func NewDecoder(ffmpegPath string, logger *slog.Logger) DecoderFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, st *extract.Stream) (PCMSource, error) {
		switch {
		case st == nil:
			return nil, errors.New("nil stream")
		case st.Body != nil:
			return StartFFmpeg(ctx, ffmpegPath, st, logger)
		case st.URL != "":
			return OpenURL(ctx, st, logger)
		default:
			return nil, errors.New("stream has neither URL nor body")
		}
	}
}
