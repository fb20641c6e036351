package player

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

func unavailable(ref string) error {
	return &extract.BackendError{Backend: "fake", Kind: extract.ErrUnavailable, Err: errors.New(ref)}
}

func TestResolver_EmptyQuery(t *testing.T) {
	fs := &fakeStrategy{}
	r := NewResolver(fs, ResolverOptions{})
	for _, q := range []string{"", "   ", "\t\n"} {
		if _, err := r.Resolve(context.Background(), q, 0); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Resolve(%q) error = %v, want ErrEmptyQuery", q, err)
		}
	}
	if s, res := fs.calls(); len(s)+len(res) != 0 {
		t.Error("backend called for an empty query")
	}
}

func TestResolver_SkipsUnplayableCandidate(t *testing.T) {
	fs := &fakeStrategy{
		results: map[string][]extract.CandidateRef{
			"lofi hip hop": {
				{Ref: "aaaaaaaaaaa", Title: "Deleted mix"},
				{Ref: "bbbbbbbbbbb", Title: "Lofi Radio (search title)"},
				{Ref: "ccccccccccc", Title: "Third"},
			},
		},
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			if ref == "aaaaaaaaaaa" {
				return extract.TrackMetadata{}, unavailable(ref)
			}
			return extract.TrackMetadata{ID: ref, Title: "Lofi Radio", DurationSeconds: 185, Source: instantSource{id: ref}}, nil
		},
	}
	r := NewResolver(fs, ResolverOptions{})

	var seen []string
	got, err := r.ResolveWithProgress(context.Background(), "lofi hip hop", 0, func(i int, c extract.CandidateRef) {
		seen = append(seen, c.Ref)
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Title != "Lofi Radio" || got.DurationSeconds != 185 {
		t.Errorf("Resolve() = %+v, want candidate 2 metadata", got)
	}
	if got.Source() == nil || got.AudioLocator == "" {
		t.Error("resolved track has no audio source")
	}
	_, resolved := fs.calls()
	if want := []string{"aaaaaaaaaaa", "bbbbbbbbbbb"}; !slices.Equal(resolved, want) {
		t.Errorf("resolved = %v, want %v", resolved, want)
	}
	if !slices.Equal(seen, resolved) {
		t.Errorf("progress saw %v, want %v", seen, resolved)
	}
}

func TestResolver_DurationMerge(t *testing.T) {
	tests := []struct {
		name      string
		metadata  int
		candidate int
		want      int
	}{
		{"unknown metadata takes candidate", extract.DurationUnknown, 185, 185},
		{"zero metadata is kept", 0, extract.DurationUnknown, 0},
		{"known metadata wins", 200, 185, 200},
		{"both unknown", extract.DurationUnknown, extract.DurationUnknown, extract.DurationUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStrategy{
				results: map[string][]extract.CandidateRef{
					"song": {{Ref: "aaaaaaaaaaa", Title: "Song", DurationSeconds: tt.candidate}},
				},
				resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
					return extract.TrackMetadata{ID: ref, Title: "Song", DurationSeconds: tt.metadata, Source: instantSource{id: ref}}, nil
				},
			}
			got, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "song", 0)
			if err != nil {
				t.Fatal(err)
			}
			if got.DurationSeconds != tt.want {
				t.Errorf("DurationSeconds = %d, want %d", got.DurationSeconds, tt.want)
			}
		})
	}
}

func TestResolver_RateLimitedCandidateSkipped(t *testing.T) {
	fs := &fakeStrategy{
		results: map[string][]extract.CandidateRef{
			"song": {{Ref: "aaaaaaaaaaa"}, {Ref: "bbbbbbbbbbb"}},
		},
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			if ref == "aaaaaaaaaaa" {
				return extract.TrackMetadata{}, &extract.BackendError{Backend: "fake", Status: 429, Kind: extract.ErrRateLimited}
			}
			return extract.TrackMetadata{ID: ref, Title: "Second", Source: instantSource{id: ref}}, nil
		},
	}
	got, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "song", 0)
	if err != nil || got.Title != "Second" {
		t.Fatalf("Resolve() = %+v, %v", got, err)
	}
}

func TestResolver_AllCandidatesFail(t *testing.T) {
	fs := &fakeStrategy{
		results: map[string][]extract.CandidateRef{
			"song": {{Ref: "aaaaaaaaaaa"}, {Ref: "bbbbbbbbbbb"}, {Ref: "ccccccccccc"}},
		},
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			return extract.TrackMetadata{}, unavailable(ref)
		},
	}
	_, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "song", 0)
	if !errors.Is(err, ErrNoPlayableCandidate) {
		t.Fatalf("Resolve() error = %v, want ErrNoPlayableCandidate", err)
	}
	if !errors.Is(err, extract.ErrUnavailable) {
		t.Errorf("Resolve() error = %v, want the last cause kept", err)
	}
	if ClassOf(err) != ClassResolution {
		t.Errorf("ClassOf() = %v, want resolution", ClassOf(err))
	}
}

func TestResolver_RespectsMaxCandidates(t *testing.T) {
	var refs []extract.CandidateRef
	for _, c := range "abcde" {
		refs = append(refs, extract.CandidateRef{Ref: strings.Repeat(string(c), 11)})
	}
	fs := &fakeStrategy{
		results: map[string][]extract.CandidateRef{"song": refs},
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			return extract.TrackMetadata{}, unavailable(ref)
		},
	}
	_, err := NewResolver(fs, ResolverOptions{MaxCandidates: 10}).Resolve(context.Background(), "song", 2)
	if !errors.Is(err, ErrNoPlayableCandidate) {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, resolved := fs.calls(); len(resolved) != 2 {
		t.Errorf("tried %d candidates, want 2", len(resolved))
	}
}

func TestResolver_NoResults(t *testing.T) {
	fs := &fakeStrategy{}
	_, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "nothing matches", 0)
	if !errors.Is(err, ErrNoPlayableCandidate) {
		t.Errorf("Resolve() error = %v, want ErrNoPlayableCandidate", err)
	}
}

func TestResolver_SearchErrorIsResolutionFailure(t *testing.T) {
	fs := &fakeStrategy{searchFn: func(ctx context.Context, text string) ([]extract.CandidateRef, error) {
		return nil, &extract.BackendError{Backend: "fake", Status: 403, Kind: extract.ErrForbidden}
	}}
	_, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "song", 0)
	if !errors.Is(err, ErrNoPlayableCandidate) || !errors.Is(err, extract.ErrForbidden) {
		t.Errorf("Resolve() error = %v", err)
	}
}

func TestResolver_DirectURL(t *testing.T) {
	fs := &fakeStrategy{}
	r := NewResolver(fs, ResolverOptions{})
	got, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 0)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != "dQw4w9WgXcQ" {
		t.Errorf("ID = %q", got.ID)
	}
	searched, resolved := fs.calls()
	if len(searched) != 0 || !slices.Equal(resolved, []string{"dQw4w9WgXcQ"}) {
		t.Errorf("searched = %v, resolved = %v", searched, resolved)
	}
}

func TestResolver_DirectURLFailure(t *testing.T) {
	const link = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	newFS := func() *fakeStrategy {
		return &fakeStrategy{
			results: map[string][]extract.CandidateRef{link: {{Ref: "bbbbbbbbbbb"}}},
			resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
				if ref == "dQw4w9WgXcQ" {
					return extract.TrackMetadata{}, unavailable(ref)
				}
				return extract.TrackMetadata{ID: ref, Title: "fallback", Source: instantSource{id: ref}}, nil
			},
		}
	}

	t.Run("no fallback", func(t *testing.T) {
		fs := newFS()
		_, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), link, 0)
		if !errors.Is(err, ErrNoPlayableCandidate) || !errors.Is(err, extract.ErrUnavailable) {
			t.Errorf("Resolve() error = %v", err)
		}
		if searched, _ := fs.calls(); len(searched) != 0 {
			t.Errorf("searched %v without fallback enabled", searched)
		}
	})

	t.Run("fallback to search", func(t *testing.T) {
		fs := newFS()
		got, err := NewResolver(fs, ResolverOptions{FallbackToSearch: true}).Resolve(context.Background(), link, 0)
		if err != nil || got.Title != "fallback" {
			t.Errorf("Resolve() = %+v, %v", got, err)
		}
	})
}

func TestResolver_Timeout(t *testing.T) {
	fs := &fakeStrategy{
		results: map[string][]extract.CandidateRef{"slow": {{Ref: "aaaaaaaaaaa"}, {Ref: "bbbbbbbbbbb"}}},
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			<-ctx.Done()
			return extract.TrackMetadata{}, ctx.Err()
		},
	}
	r := NewResolver(fs, ResolverOptions{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := r.Resolve(context.Background(), "slow", 0)
	if !errors.Is(err, ErrResolutionTimeout) {
		t.Fatalf("Resolve() error = %v, want ErrResolutionTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("resolution outlived its timeout")
	}
	if _, resolved := fs.calls(); len(resolved) != 1 {
		t.Errorf("tried %d candidates after the deadline, want 1", len(resolved))
	}
}

func TestResolver_CallerCancel(t *testing.T) {
	fs := &fakeStrategy{searchFn: func(ctx context.Context, text string) ([]extract.CandidateRef, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewResolver(fs, ResolverOptions{}).Resolve(ctx, "song", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestResolver_CachesDirectResolution(t *testing.T) {
	fs := &fakeStrategy{}
	r := NewResolver(fs, ResolverOptions{CacheTTL: time.Hour})
	for range 2 {
		if _, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, resolved := fs.calls(); len(resolved) != 1 {
		t.Errorf("ResolveDirect called %d times, want 1", len(resolved))
	}
}

type fakeExpander struct{ out string }

func (e fakeExpander) Match(q string) bool { return strings.HasPrefix(q, "https://open.spotify.com/") }

func (e fakeExpander) Expand(ctx context.Context, q string) (string, error) { return e.out, nil }

func TestResolver_ExpandsForeignLinks(t *testing.T) {
	fs := &fakeStrategy{results: map[string][]extract.CandidateRef{
		"Artist - Song": {{Ref: "aaaaaaaaaaa"}},
	}}
	r := NewResolver(fs, ResolverOptions{Expanders: []LinkExpander{fakeExpander{out: "Artist - Song"}}})
	if _, err := r.Resolve(context.Background(), "https://open.spotify.com/track/xyz", 0); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if searched, _ := fs.calls(); !slices.Equal(searched, []string{"Artist - Song"}) {
		t.Errorf("searched = %v", searched)
	}
}

func TestResolver_DirectUnknownDurationStaysUnknown(t *testing.T) {
	fs := &fakeStrategy{
		resolve: func(ctx context.Context, ref string) (extract.TrackMetadata, error) {
			return extract.TrackMetadata{ID: ref, Title: "Live", DurationSeconds: extract.DurationUnknown, Source: instantSource{id: ref}}, nil
		},
	}
	got, err := NewResolver(fs, ResolverOptions{}).Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.DurationKnown() {
		t.Errorf("DurationSeconds = %d, want unknown", got.DurationSeconds)
	}
}
