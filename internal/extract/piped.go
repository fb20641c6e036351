package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/tunebot/internal/retry"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

// locatorTTL is how long a Piped audio URL is trusted before Open fetches a
// fresh one. googlevideo URLs expire after roughly six hours.
const locatorTTL = 5 * time.Hour

type PipedOptions struct {
	Instances []string
	Client    *http.Client
	Retry     retry.Config
	// AttemptTimeout bounds each HTTP request.
	AttemptTimeout time.Duration
	// InstanceAttempts is how many instances one operation may rotate through.
	InstanceAttempts int
	// RequestsPerSecond caps traffic to each instance; 0 disables the limit.
	RequestsPerSecond float64
	Observer          AttemptObserver
	Logger            *slog.Logger
}

// Piped resolves and searches through a static list of Piped API instances,
// rotating to the next instance for each independent attempt.
type Piped struct {
	rot       *Rotator
	client    *http.Client
	retry     retry.Config
	timeout   time.Duration
	instTries int
	rps       float64
	attempts  attemptLog

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewPiped(opts PipedOptions) (*Piped, error) {
	var instances []string
	for _, in := range opts.Instances {
		if in = strings.TrimRight(strings.TrimSpace(in), "/"); in != "" {
			instances = append(instances, in)
		}
	}
	if len(instances) == 0 {
		return nil, errors.New("piped: no instances configured")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	if opts.InstanceAttempts <= 0 {
		opts.InstanceAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Piped{
		rot:       NewRotator(instances),
		client:    opts.Client,
		retry:     opts.Retry,
		timeout:   opts.AttemptTimeout,
		instTries: min(opts.InstanceAttempts, len(instances)),
		rps:       opts.RequestsPerSecond,
		attempts:  attemptLog{backend: "piped", log: opts.Logger, observer: opts.Observer},
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

func (p *Piped) Name() string { return "piped" }

type pipedSearchResponse struct {
	Items []struct {
		URL          string `json:"url"`
		Type         string `json:"type"`
		Title        string `json:"title"`
		Thumbnail    string `json:"thumbnail"`
		UploaderName string `json:"uploaderName"`
		Duration     *int   `json:"duration"`
	} `json:"items"`
}

type pipedStreamsResponse struct {
	Title        string `json:"title"`
	Duration     *int   `json:"duration"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Uploader     string `json:"uploader"`
	Livestream   bool   `json:"livestream"`
	AudioStreams []struct {
		URL      string `json:"url"`
		Bitrate  int    `json:"bitrate"`
		MimeType string `json:"mimeType"`
	} `json:"audioStreams"`
}

func (p *Piped) Search(ctx context.Context, text string, limit int) ([]CandidateRef, error) {
	path := "/search?q=" + url.QueryEscape(text) + "&filter=videos"
	var resp pipedSearchResponse
	if err := p.run(ctx, "search", text, path, &resp); err != nil {
		return nil, err
	}

	var out []CandidateRef
	for _, it := range resp.Items {
		if it.Type != "" && it.Type != "stream" {
			continue
		}
		id, ok := pipedItemID(it.URL)
		if !ok {
			continue
		}
		out = append(out, CandidateRef{
			Ref:             id,
			Title:           it.Title,
			DurationSeconds: durationOrUnknown(it.Duration),
			Thumbnail:       it.Thumbnail,
			Uploader:        it.UploaderName,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *Piped) ResolveDirect(ctx context.Context, ref string) (TrackMetadata, error) {
	id, ok := refToID(ref)
	if !ok {
		return TrackMetadata{}, &BackendError{Backend: "piped", Kind: ErrUnavailable,
			Err: fmt.Errorf("not a video reference: %q", ref)}
	}
	best, resp, err := p.streams(ctx, id)
	if err != nil {
		return TrackMetadata{}, err
	}
	return TrackMetadata{
		ID:              id,
		Title:           resp.Title,
		SourceURL:       WatchURL(id),
		DurationSeconds: durationOrUnknown(resp.Duration),
		Thumbnail:       resp.ThumbnailURL,
		Uploader:        resp.Uploader,
		Source:          &pipedSource{p: p, id: id, url: best, resolved: time.Now()},
	}, nil
}

// streams fetches /streams/{id} and picks the highest-bitrate audio stream.
func (p *Piped) streams(ctx context.Context, id string) (string, *pipedStreamsResponse, error) {
	var resp pipedStreamsResponse
	if err := p.run(ctx, "streams", id, "/streams/"+url.PathEscape(id), &resp); err != nil {
		return "", nil, err
	}
	if resp.Livestream {
		return "", nil, &BackendError{Backend: "piped", Kind: ErrUnavailable, Err: errors.New("live streams are not supported")}
	}
	best, bestRate := "", -1
	for _, s := range resp.AudioStreams {
		if s.URL != "" && s.Bitrate > bestRate {
			best, bestRate = s.URL, s.Bitrate
		}
	}
	if best == "" {
		return "", nil, &BackendError{Backend: "piped", Kind: ErrMalformed, Err: errors.New("no audio streams")}
	}
	return best, &resp, nil
}

// run performs one logical operation: up to instTries instances, each with its
// own retry budget. Unavailable content ends the operation at once; any other
// exhausted instance hands over to the next.
func (p *Piped) run(ctx context.Context, op, ref, path string, out any) error {
	var lastErr error
	for i := 0; i < p.instTries; i++ {
		instance := p.rot.Next()
		try := 0
		err := retry.Do(ctx, p.retry, retryable, func(ctx context.Context) error {
			try++
			return p.get(ctx, instance, op, ref, try, path, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			return err
		}
		p.attempts.log.Debug("piped instance exhausted", "instance", instance, "op", op, "err", err)
	}
	return lastErr
}

func (p *Piped) get(ctx context.Context, instance, op, ref string, try int, path string, out any) (err error) {
	started := time.Now()
	defer func() { p.attempts.record(instance, op, ref, try, started, err) }()

	if err := p.limiter(instance).Wait(ctx); err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, instance+path, nil)
	if err != nil {
		return &BackendError{Backend: "piped", Instance: instance, Kind: ErrMalformed, Err: err}
	}
	req.Header = utils.BrowserHeaders()

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && actx.Err() != nil {
			return &BackendError{Backend: "piped", Instance: instance,
				Err: fmt.Errorf("attempt timed out after %s", p.timeout)}
		}
		return &BackendError{Backend: "piped", Instance: instance, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		kind := statusKind(resp.StatusCode)
		if kind == nil && unavailableMessage(string(body)) {
			kind = ErrUnavailable
		}
		if op == "search" && kind == ErrUnavailable {
			// a missing search route is the instance's problem
			kind = nil
		}
		return &BackendError{Backend: "piped", Instance: instance, Status: resp.StatusCode, Kind: kind,
			Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		if ctx.Err() == nil && actx.Err() != nil {
			return &BackendError{Backend: "piped", Instance: instance,
				Err: fmt.Errorf("attempt timed out after %s", p.timeout)}
		}
		return &BackendError{Backend: "piped", Instance: instance, Kind: ErrMalformed, Err: err}
	}
	return nil
}

func (p *Piped) limiter(instance string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[instance]
	if !ok {
		limit := rate.Inf
		if p.rps > 0 {
			limit = rate.Limit(p.rps)
		}
		l = rate.NewLimiter(limit, 1)
		p.limiters[instance] = l
	}
	return l
}

// Piped reports unplayable videos as 500s with an explanatory message.
func unavailableMessage(body string) bool {
	b := strings.ToLower(body)
	for _, s := range []string{
		"video unavailable",
		"this video is unavailable",
		"private video",
		"has been removed",
		"not available in your country",
		"age restricted",
		"members-only",
	} {
		if strings.Contains(b, s) {
			return true
		}
	}
	return false
}

func pipedItemID(u string) (string, bool) {
	if id, ok := strings.CutPrefix(u, "/watch?v="); ok {
		id, _, _ = strings.Cut(id, "&")
		return id, IsVideoID(id)
	}
	return ExtractVideoID(u)
}

func durationOrUnknown(d *int) int {
	if d == nil || *d < 0 {
		return DurationUnknown
	}
	return *d
}

// pipedSource hands the resolved audio URL to the pipeline, refreshing it when
// it is old enough to have expired.
type pipedSource struct {
	p        *Piped
	id       string
	mu       sync.Mutex
	url      string
	resolved time.Time
}

func (s *pipedSource) Locator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *pipedSource) Open(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.resolved) > locatorTTL {
		best, _, err := s.p.streams(ctx, s.id)
		if err != nil {
			return nil, fmt.Errorf("refresh audio url: %w", err)
		}
		s.url, s.resolved = best, time.Now()
	}
	return &Stream{URL: s.url, Headers: utils.BrowserHeaders()}, nil
}
