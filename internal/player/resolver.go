package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sonroyaalmerol/tunebot/internal/cache"
	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

const (
	DefaultMaxCandidates  = 10
	DefaultResolveTimeout = 30 * time.Second
)

// LinkExpander turns a link to another service (a Spotify track, say) into a
// free-text query.
type LinkExpander interface {
	Match(query string) bool
	Expand(ctx context.Context, query string) (string, error)
}

type ResolverOptions struct {
	MaxCandidates int
	Timeout       time.Duration
	// FallbackToSearch retries a direct link that fails to resolve as a
	// free-text search on the same text.
	FallbackToSearch bool
	// CacheTTL memoizes direct resolutions by video ID. Zero disables it.
	CacheTTL  time.Duration
	Expanders []LinkExpander
	Logger    *slog.Logger
}

// ProgressFunc is told about each candidate before it is tried.
type ProgressFunc func(index int, c extract.CandidateRef)

// Resolver turns a user query into one playable Track.
type Resolver struct {
	strategy extract.Strategy
	opts     ResolverOptions
	cache    *cache.Cache[extract.TrackMetadata]
	log      *slog.Logger
}

func NewResolver(strategy extract.Strategy, opts ResolverOptions) *Resolver {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResolveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Resolver{strategy: strategy, opts: opts, log: opts.Logger}
	if opts.CacheTTL > 0 {
		r.cache = cache.New[extract.TrackMetadata](opts.CacheTTL, 512)
	}
	return r
}

// Resolve classifies query as a direct video link or free text and returns the
// first playable match. maxCandidates <= 0 uses the configured default.
func (r *Resolver) Resolve(ctx context.Context, query string, maxCandidates int) (Track, error) {
	return r.ResolveWithProgress(ctx, query, maxCandidates, nil)
}

func (r *Resolver) ResolveWithProgress(ctx context.Context, query string, maxCandidates int, progress ProgressFunc) (Track, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Track{}, ErrEmptyQuery
	}
	if maxCandidates <= 0 {
		maxCandidates = r.opts.MaxCandidates
	}

	rctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	for _, e := range r.opts.Expanders {
		if !e.Match(q) {
			continue
		}
		expanded, err := e.Expand(rctx, q)
		if err != nil {
			return Track{}, r.fail(ctx, rctx, fmt.Errorf("expand link: %w", err))
		}
		r.log.Debug("expanded link", "query", q, "expanded", expanded)
		q = expanded
		break
	}

	if id, ok := extract.ExtractVideoID(q); ok {
		md, err := r.direct(rctx, id)
		if err == nil {
			return trackFrom(md, extract.CandidateRef{DurationSeconds: extract.DurationUnknown}), nil
		}
		if !r.opts.FallbackToSearch || rctx.Err() != nil {
			return Track{}, r.fail(ctx, rctx, err)
		}
		r.log.Info("direct link failed, searching instead", "query", q, "err", err)
	}

	cands, err := r.strategy.Search(rctx, q, maxCandidates)
	if err != nil {
		return Track{}, r.fail(ctx, rctx, err)
	}
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	if len(cands) == 0 {
		return Track{}, fmt.Errorf("%w: no results for %q", ErrNoPlayableCandidate, q)
	}

	var lastErr error
	for i, c := range cands {
		if rctx.Err() != nil {
			break
		}
		if progress != nil {
			progress(i, c)
		}
		md, err := r.direct(rctx, c.Ref)
		if err == nil {
			return trackFrom(md, c), nil
		}
		lastErr = err
		r.log.Debug("candidate skipped", "index", i, "ref", c.Ref, "class", extract.ClassOf(err), "err", err)
	}
	return Track{}, r.fail(ctx, rctx, lastErr)
}

func (r *Resolver) direct(ctx context.Context, ref string) (extract.TrackMetadata, error) {
	key, cacheable := ref, extract.IsVideoID(ref)
	if !cacheable {
		key, cacheable = extract.ExtractVideoID(ref)
	}
	if r.cache != nil && cacheable {
		if md, ok := r.cache.Get(key); ok {
			return md, nil
		}
	}
	md, err := r.strategy.ResolveDirect(ctx, ref)
	if err != nil {
		return extract.TrackMetadata{}, err
	}
	if r.cache != nil && cacheable {
		r.cache.Set(key, md)
	}
	return md, nil
}

// fail maps the last backend error to a resolution error. A deadline hit on
// our own timeout is reported as such; a caller cancellation passes through.
func (r *Resolver) fail(parent, rctx context.Context, cause error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return ErrResolutionTimeout
	}
	if cause == nil {
		return ErrNoPlayableCandidate
	}
	return fmt.Errorf("%w: %w", ErrNoPlayableCandidate, cause)
}

func trackFrom(md extract.TrackMetadata, c extract.CandidateRef) Track {
	t := NewTrack(md)
	if t.Title == "" {
		t.Title = c.Title
	}
	if t.DurationSeconds == extract.DurationUnknown && c.DurationSeconds >= 0 {
		t.DurationSeconds = c.DurationSeconds
	}
	if t.Thumbnail == "" {
		t.Thumbnail = c.Thumbnail
	}
	if t.Uploader == "" {
		t.Uploader = c.Uploader
	}
	return t
}
