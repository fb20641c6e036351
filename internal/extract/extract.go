// Package extract turns YouTube references into playable audio through
// interchangeable backends: a rotating pool of Piped API instances, a local
// yt-dlp process, and search-only fallbacks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sonroyaalmerol/tunebot/internal/retry"
)

// DurationUnknown marks a duration the backend did not report.
const DurationUnknown = -1

var (
	// ErrUnavailable means the content itself cannot be played: deleted,
	// private, region-blocked, or a live stream.
	ErrUnavailable = errors.New("content unavailable")
	// ErrRateLimited means the backend or upstream is throttling us.
	ErrRateLimited = errors.New("rate limited")
	// ErrForbidden means the backend or upstream refuses us outright (403,
	// bot check).
	ErrForbidden = errors.New("forbidden")
	ErrMalformed = errors.New("malformed response")
)

// CandidateRef is a search hit that has not been confirmed playable yet.
type CandidateRef struct {
	// Ref is a video ID or URL accepted by ResolveDirect.
	Ref             string
	Title           string
	DurationSeconds int
	Thumbnail       string
	Uploader        string
}

// TrackMetadata is the result of a successful direct resolution.
type TrackMetadata struct {
	ID              string
	Title           string
	SourceURL       string
	DurationSeconds int
	Thumbnail       string
	Uploader        string
	Source          Source
}

// Stream is an acquired audio stream. Exactly one of URL or Body is set: a URL
// for the audio pipeline to fetch itself (with Headers), or a single-use byte
// stream that must be closed.
type Stream struct {
	URL     string
	Headers http.Header
	Body    io.ReadCloser
}

func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Source yields the audio for a resolved track. Backends that resolve
// metadata eagerly return a Source with a Locator; backends that fuse
// resolution and streaming return one whose Locator is empty and whose Open
// does the work.
type Source interface {
	Locator() string
	Open(ctx context.Context) (*Stream, error)
}

type Searcher interface {
	Name() string
	// Search returns at most limit candidates in the backend's relevance order.
	Search(ctx context.Context, text string, limit int) ([]CandidateRef, error)
}

// Strategy is the capability the resolver drives. Implementations are chosen
// once from configuration; see New.
type Strategy interface {
	Searcher
	ResolveDirect(ctx context.Context, ref string) (TrackMetadata, error)
}

// BackendError describes a failed backend call. Kind is one of the package
// sentinels, or nil for transient failures (network errors, 5xx, timeouts).
type BackendError struct {
	Backend  string
	Instance string
	Status   int
	Kind     error
	Err      error
}

func (e *BackendError) Error() string {
	where := e.Backend
	if e.Instance != "" {
		where += " " + e.Instance
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", where, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", where, e.Status, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", where, e.Err)
	default:
		return fmt.Sprintf("%s: %v", where, e.Kind)
	}
}

func (e *BackendError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

type Class int

const (
	ClassUnknown Class = iota
	ClassUnavailable
	ClassBlocked
	ClassMalformed
)

func (c Class) String() string {
	switch c {
	case ClassUnavailable:
		return "unavailable"
	case ClassBlocked:
		return "blocked"
	case ClassMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrRateLimited):
		return ClassBlocked
	case errors.Is(err, ErrMalformed):
		return ClassMalformed
	default:
		return ClassUnknown
	}
}

// statusKind maps an HTTP status to a failure class. nil means transient.
func statusKind(code int) error {
	switch {
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrUnavailable
	default:
		return nil
	}
}

// retryable is the retry classifier shared by the backends: only transient
// failures are retried.
func retryable(err error) bool {
	if errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed) {
		return false
	}
	return retry.IsRetryable(err)
}
