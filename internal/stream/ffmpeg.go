package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

// FFmpeg converts a byte stream (a yt-dlp pipe, say) to PCM in a child
// process.
type FFmpeg struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	body   io.Closer

	once sync.Once
	err  error
}

func ffmpegArgs(input string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	}
}

// StartFFmpeg feeds st.Body to ffmpeg's stdin. The body is closed with the
// decoder.
func StartFFmpeg(ctx context.Context, path string, st *extract.Stream, logger *slog.Logger) (*FFmpeg, error) {
	if path == "" {
		path = "ffmpeg"
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.ExecWith(ctx, path, ffmpegArgs("pipe:0")...)
	cmd.Stdin = st.Body
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	logger.Debug("ffmpeg started", "pid", cmd.Process.Pid)
	return &FFmpeg{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel, body: st.Body}, nil
}

func (f *FFmpeg) Read(p []byte) (int, error) { return f.stdout.Read(p) }

// Close kills ffmpeg if it is still running and reports a failed exit along
// with the last line ffmpeg printed.
func (f *FFmpeg) Close() error {
	f.once.Do(func() {
		f.cancel()
		_ = f.body.Close()
		_ = f.cmd.Wait()
		// a signal exit is our own kill
		if ps := f.cmd.ProcessState; ps != nil && ps.Exited() && !ps.Success() {
			msg := strings.TrimSpace(f.stderr.String())
			if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
				msg = msg[i+1:]
			}
			f.err = fmt.Errorf("ffmpeg exited with status %d: %s", ps.ExitCode(), msg)
		}
	})
	return f.err
}
