package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"

	"github.com/sonroyaalmerol/tunebot/internal/retry"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

type SearchOptions struct {
	Retry retry.Config
	// AttemptTimeout bounds each call to the search client.
	AttemptTimeout time.Duration
	Observer       AttemptObserver
	Logger         *slog.Logger
}

type searchFunc func(ctx context.Context, text string) ([]CandidateRef, error)

// clientSearch runs a one-shot search client under the retry policy, with
// every attempt bounded by its own timeout.
type clientSearch struct {
	name     string
	retry    retry.Config
	timeout  time.Duration
	attempts attemptLog
	query    searchFunc
}

func newClientSearch(name string, opts SearchOptions, query searchFunc) clientSearch {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return clientSearch{
		name:     name,
		retry:    opts.Retry,
		timeout:  opts.AttemptTimeout,
		attempts: attemptLog{backend: name, log: opts.Logger, observer: opts.Observer},
		query:    query,
	}
}

func (c *clientSearch) Name() string { return c.name }

func (c *clientSearch) Search(ctx context.Context, text string, limit int) ([]CandidateRef, error) {
	var out []CandidateRef
	try := 0
	err := retry.Do(ctx, c.retry, retryable, func(ctx context.Context) (err error) {
		try++
		started := time.Now()
		defer func() { c.attempts.record("", "search", text, try, started, err) }()

		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		out, err = c.query(actx, text)
		switch {
		case err == nil:
			return nil
		case ctx.Err() == nil && actx.Err() != nil:
			return &BackendError{Backend: c.name, Err: fmt.Errorf("attempt timed out after %s", c.timeout)}
		case ctx.Err() != nil:
			return err
		}
		var be *BackendError
		if errors.As(err, &be) {
			return err
		}
		return &BackendError{Backend: c.name, Err: err}
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// YTSearch searches YouTube by scraping the results page. It cannot resolve
// streams and is only used as a search fallback.
type YTSearch struct {
	clientSearch
}

func NewYTSearch(opts SearchOptions) *YTSearch {
	return &YTSearch{newClientSearch("ytsearch", opts, ytsearchQuery)}
}

func ytsearchQuery(ctx context.Context, text string) ([]CandidateRef, error) {
	res, err := ytsearch.NewClient(nil).Search(ctx, text)
	if err != nil {
		return nil, err
	}
	var out []CandidateRef
	for _, r := range res.Results {
		if !IsVideoID(r.VideoID) {
			continue
		}
		dur := DurationUnknown
		if d, ok := utils.ParseClock(r.Duration); ok {
			dur = d
		}
		out = append(out, CandidateRef{
			Ref:             r.VideoID,
			Title:           r.Title,
			DurationSeconds: dur,
			Uploader:        r.Channel,
		})
	}
	return out, nil
}

// YTMusic searches YouTube Music tracks, which skews results toward official
// audio uploads.
type YTMusic struct {
	clientSearch
}

func NewYTMusic(opts SearchOptions) *YTMusic {
	return &YTMusic{newClientSearch("ytmusic", opts, ytmusicQuery)}
}

func ytmusicQuery(ctx context.Context, text string) ([]CandidateRef, error) {
	type result struct {
		refs []CandidateRef
		err  error
	}
	// the client takes no context; an attempt that times out abandons its call
	ch := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(text).Next()
		if err != nil {
			ch <- result{err: err}
			return
		}
		var refs []CandidateRef
		for _, t := range r.Tracks {
			if !IsVideoID(t.VideoID) {
				continue
			}
			var artists []string
			for _, a := range t.Artists {
				if a.Name != "" {
					artists = append(artists, a.Name)
				}
			}
			refs = append(refs, CandidateRef{
				Ref:             t.VideoID,
				Title:           t.Title,
				DurationSeconds: DurationUnknown,
				Uploader:        strings.Join(artists, ", "),
			})
		}
		ch <- result{refs: refs}
	}()

	select {
	case res := <-ch:
		return res.refs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fallbackSearch struct {
	Strategy
	fallbacks []Searcher
	log       *slog.Logger
}

// WithFallbackSearch wraps primary so that Search consults each fallback in
// order when the primary fails or finds nothing. Direct resolution always goes
// to primary.
func WithFallbackSearch(primary Strategy, logger *slog.Logger, fallbacks ...Searcher) Strategy {
	if len(fallbacks) == 0 {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackSearch{Strategy: primary, fallbacks: fallbacks, log: logger}
}

func (f *fallbackSearch) Search(ctx context.Context, text string, limit int) ([]CandidateRef, error) {
	out, err := f.Strategy.Search(ctx, text, limit)
	if err == nil && len(out) > 0 {
		return out, nil
	}
	firstErr := err
	for _, fb := range f.fallbacks {
		if ctx.Err() != nil {
			break
		}
		f.log.Debug("search falling back", "from", f.Strategy.Name(), "to", fb.Name(), "err", err)
		out, err = fb.Search(ctx, text, limit)
		if err == nil && len(out) > 0 {
			return out, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// nothing found anywhere is not an error; a primary failure still is
	return nil, firstErr
}
