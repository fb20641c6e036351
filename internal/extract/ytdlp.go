package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/sonroyaalmerol/tunebot/internal/retry"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

const audioFormat = "ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best"

type YTDLPOptions struct {
	// Path is the yt-dlp executable.
	Path     string
	Retry    retry.Config
	Timeout  time.Duration
	Observer AttemptObserver
	Logger   *slog.Logger
}

// YTDLP resolves metadata with yt-dlp and streams audio from a yt-dlp
// subprocess writing to stdout. Resolution of the stream itself is deferred
// to Source.Open, where the first byte of output confirms it.
type YTDLP struct {
	path     string
	retry    retry.Config
	timeout  time.Duration
	attempts attemptLog
	log      *slog.Logger
}

func NewYTDLP(opts YTDLPOptions) *YTDLP {
	if opts.Path == "" {
		opts.Path = "yt-dlp"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &YTDLP{
		path:     opts.Path,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		attempts: attemptLog{backend: "ytdlp", log: opts.Logger, observer: opts.Observer},
		log:      opts.Logger,
	}
}

func (y *YTDLP) Name() string { return "ytdlp" }

func (y *YTDLP) command() *ytdlp.Command {
	return ytdlp.New().
		SetExecutable(y.path).
		NoCheckCertificates().
		NoWarnings()
}

func (y *YTDLP) ResolveDirect(ctx context.Context, ref string) (TrackMetadata, error) {
	id, ok := refToID(ref)
	if !ok {
		return TrackMetadata{}, &BackendError{Backend: "ytdlp", Kind: ErrUnavailable,
			Err: fmt.Errorf("not a video reference: %q", ref)}
	}

	var info *ytdlp.ExtractedInfo
	err := y.do(ctx, "info", id, func(ctx context.Context) error {
		res, err := y.command().Format(audioFormat).NoPlaylist().DumpJSON().Run(ctx, WatchURL(id))
		if err != nil {
			return ytdlpError(res, err)
		}
		infos, err := res.GetExtractedInfo()
		if err != nil || len(infos) == 0 || infos[0] == nil {
			return &BackendError{Backend: "ytdlp", Kind: ErrMalformed, Err: fmt.Errorf("parse yt-dlp json: %v", err)}
		}
		info = infos[0]
		return nil
	})
	if err != nil {
		return TrackMetadata{}, err
	}
	if b(info.IsLive) {
		return TrackMetadata{}, &BackendError{Backend: "ytdlp", Kind: ErrUnavailable, Err: errors.New("live streams are not supported")}
	}

	return TrackMetadata{
		ID:              id,
		Title:           s(info.Title),
		SourceURL:       WatchURL(id),
		DurationSeconds: secondsOrUnknown(info.Duration),
		Thumbnail:       lastThumb(info.Thumbnails),
		Uploader:        s(info.Uploader),
		Source:          &processSource{path: y.path, url: WatchURL(id), log: y.log},
	}, nil
}

func (y *YTDLP) Search(ctx context.Context, text string, limit int) ([]CandidateRef, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []CandidateRef
	err := y.do(ctx, "search", text, func(ctx context.Context) error {
		res, err := y.command().FlatPlaylist().DumpSingleJSON().Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, text))
		if err != nil {
			return ytdlpError(res, err)
		}
		infos, err := res.GetExtractedInfo()
		if err != nil || len(infos) == 0 || infos[0] == nil {
			return &BackendError{Backend: "ytdlp", Kind: ErrMalformed, Err: fmt.Errorf("parse yt-dlp json: %v", err)}
		}
		out = out[:0]
		for _, e := range infos[0].Entries {
			if e == nil || !IsVideoID(e.ID) {
				continue
			}
			out = append(out, CandidateRef{
				Ref:             e.ID,
				Title:           s(e.Title),
				DurationSeconds: secondsOrUnknown(e.Duration),
				Thumbnail:       lastThumb(e.Thumbnails),
				Uploader:        s(e.Uploader),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (y *YTDLP) do(ctx context.Context, op, ref string, fn func(context.Context) error) error {
	try := 0
	return retry.Do(ctx, y.retry, retryable, func(ctx context.Context) (err error) {
		try++
		started := time.Now()
		defer func() { y.attempts.record("", op, ref, try, started, err) }()

		actx, cancel := context.WithTimeout(ctx, y.timeout)
		defer cancel()
		err = fn(actx)
		if err != nil && ctx.Err() == nil && actx.Err() != nil {
			err = &BackendError{Backend: "ytdlp", Err: fmt.Errorf("attempt timed out after %s", y.timeout)}
		}
		return err
	})
}

func ytdlpError(res *ytdlp.Result, err error) error {
	text := err.Error()
	if res != nil {
		text += "\n" + res.Stderr
	}
	return &BackendError{Backend: "ytdlp", Kind: classifyStderr(text), Err: errors.New(lastLine(text))}
}

// classifyStderr maps yt-dlp's error output onto the failure classes.
func classifyStderr(text string) error {
	t := strings.ToLower(text)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(t, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("http error 429", "too many requests"):
		return ErrRateLimited
	case has("sign in to confirm", "http error 403", "not a bot"):
		return ErrForbidden
	case has("video unavailable", "private video", "has been removed", "not available in your country",
		"members-only", "is not available", "this live event", "premieres in", "is live"):
		return ErrUnavailable
	default:
		return nil
	}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "yt-dlp failed"
}

// processSource streams audio from a yt-dlp child process. Each Open spawns a
// new process; the returned Body owns it.
type processSource struct {
	path string
	url  string
	log  *slog.Logger
}

func (p *processSource) Locator() string { return "" }

// Open starts yt-dlp and blocks until it produces its first byte of audio or
// exits. The process is killed when ctx is done or the stream is closed.
func (p *processSource) Open(ctx context.Context) (*Stream, error) {
	pctx, cancel := context.WithCancel(ctx)
	cmd := utils.ExecWith(pctx, p.path,
		"--quiet", "--no-warnings", "--no-progress", "--no-playlist",
		"-f", audioFormat,
		"-o", "-",
		p.url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &BackendError{Backend: "ytdlp", Err: fmt.Errorf("start yt-dlp: %w", err)}
	}

	br := bufio.NewReaderSize(stdout, 64<<10)
	if _, err := br.Peek(1); err != nil {
		werr := cmd.Wait()
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := stderr.String()
		if werr != nil {
			text = werr.Error() + "\n" + text
		}
		return nil, &BackendError{Backend: "ytdlp", Kind: classifyStderr(text),
			Err: fmt.Errorf("no audio before exit: %s", lastLine(text))}
	}

	p.log.Debug("yt-dlp stream started", "url", p.url, "pid", cmd.Process.Pid)
	return &Stream{Body: &processReader{r: br, cmd: cmd, cancel: cancel}}, nil
}

type processReader struct {
	r      io.Reader
	cmd    *exec.Cmd
	cancel context.CancelFunc
	once   sync.Once
}

func (p *processReader) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *processReader) Close() error {
	p.once.Do(func() {
		p.cancel()
		// the process was killed on purpose, so its exit status is noise
		_ = p.cmd.Wait()
	})
	return nil
}

func s(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func b(ptr *bool) bool {
	return ptr != nil && *ptr
}

func secondsOrUnknown(ptr *float64) int {
	if ptr == nil || *ptr < 0 {
		return DurationUnknown
	}
	return int(*ptr + 0.5)
}

func lastThumb(ts []*ytdlp.ExtractedThumbnail) string {
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i] != nil && ts[i].URL != "" {
			return ts[i].URL
		}
	}
	return ""
}
