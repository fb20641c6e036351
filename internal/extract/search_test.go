package extract

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type stubSearcher struct {
	name  string
	refs  []CandidateRef
	err   error
	calls int
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) Search(ctx context.Context, text string, limit int) ([]CandidateRef, error) {
	s.calls++
	return s.refs, s.err
}

type stubStrategy struct {
	stubSearcher
	resolved []string
}

func (s *stubStrategy) ResolveDirect(ctx context.Context, ref string) (TrackMetadata, error) {
	s.resolved = append(s.resolved, ref)
	return TrackMetadata{ID: ref, Title: "t-" + ref}, nil
}

func TestWithFallbackSearch_PrimaryHit(t *testing.T) {
	primary := &stubStrategy{stubSearcher: stubSearcher{name: "piped", refs: []CandidateRef{{Ref: "aaaaaaaaaaa"}}}}
	fb := &stubSearcher{name: "ytsearch", refs: []CandidateRef{{Ref: "bbbbbbbbbbb"}}}

	s := WithFallbackSearch(primary, nil, fb)
	got, err := s.Search(context.Background(), "q", 5)
	if err != nil || len(got) != 1 || got[0].Ref != "aaaaaaaaaaa" {
		t.Fatalf("Search() = %v, %v", got, err)
	}
	if fb.calls != 0 {
		t.Error("fallback consulted despite primary results")
	}
}

func TestWithFallbackSearch_EmptyPrimaryFallsBack(t *testing.T) {
	primary := &stubStrategy{stubSearcher: stubSearcher{name: "piped"}}
	empty := &stubSearcher{name: "ytmusic"}
	fb := &stubSearcher{name: "ytsearch", refs: []CandidateRef{{Ref: "bbbbbbbbbbb"}}}

	s := WithFallbackSearch(primary, nil, empty, fb)
	got, err := s.Search(context.Background(), "q", 5)
	if err != nil || len(got) != 1 || got[0].Ref != "bbbbbbbbbbb" {
		t.Fatalf("Search() = %v, %v", got, err)
	}
	if empty.calls != 1 || fb.calls != 1 {
		t.Errorf("fallback calls = %d, %d; want 1, 1", empty.calls, fb.calls)
	}

	// resolution still goes to the primary
	md, err := s.ResolveDirect(context.Background(), got[0].Ref)
	if err != nil || md.Title != "t-bbbbbbbbbbb" || len(primary.resolved) != 1 {
		t.Errorf("ResolveDirect() = %+v, %v", md, err)
	}
}

func TestWithFallbackSearch_FailingPrimaryKeepsError(t *testing.T) {
	primary := &stubStrategy{stubSearcher: stubSearcher{name: "piped", err: &BackendError{Backend: "piped", Kind: ErrForbidden}}}
	fb := &stubSearcher{name: "ytsearch", err: errors.New("scrape failed")}

	s := WithFallbackSearch(primary, nil, fb)
	_, err := s.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("Search() error = %v, want primary's ErrForbidden", err)
	}
}

func TestWithFallbackSearch_NoFallbacksReturnsPrimary(t *testing.T) {
	primary := &stubStrategy{stubSearcher: stubSearcher{name: "piped"}}
	if s := WithFallbackSearch(primary, nil); s != Strategy(primary) {
		t.Error("WithFallbackSearch without fallbacks should return primary unchanged")
	}
}

func testClientSearch(timeout time.Duration, query searchFunc) *clientSearch {
	c := newClientSearch("ytsearch", SearchOptions{
		Retry:          fastRetry(2),
		AttemptTimeout: timeout,
		Logger:         slog.New(slog.DiscardHandler),
	}, query)
	return &c
}

func TestClientSearch_RetriesTransientFailure(t *testing.T) {
	calls := 0
	c := testClientSearch(time.Second, func(ctx context.Context, text string) ([]CandidateRef, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return []CandidateRef{{Ref: "aaaaaaaaaaa"}, {Ref: "bbbbbbbbbbb"}}, nil
	})

	got, err := c.Search(context.Background(), "song", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(got) != 1 || got[0].Ref != "aaaaaaaaaaa" {
		t.Errorf("Search() = %+v", got)
	}
}

func TestClientSearch_AttemptTimeout(t *testing.T) {
	calls := 0
	c := testClientSearch(10*time.Millisecond, func(ctx context.Context, text string) ([]CandidateRef, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := c.Search(context.Background(), "song", 5)
	var be *BackendError
	if !errors.As(err, &be) || be.Backend != "ytsearch" {
		t.Fatalf("Search() error = %v, want a ytsearch BackendError", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (first attempt plus 2 retries)", calls)
	}
}

func TestClientSearch_UnavailableNotRetried(t *testing.T) {
	calls := 0
	c := testClientSearch(time.Second, func(ctx context.Context, text string) ([]CandidateRef, error) {
		calls++
		return nil, &BackendError{Backend: "ytsearch", Kind: ErrUnavailable}
	})
	if _, err := c.Search(context.Background(), "song", 5); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Search() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClientSearch_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := testClientSearch(time.Second, func(ctx context.Context, text string) ([]CandidateRef, error) {
		return nil, ctx.Err()
	})
	if _, err := c.Search(ctx, "song", 5); !errors.Is(err, context.Canceled) {
		t.Errorf("Search() error = %v, want canceled", err)
	}
}
