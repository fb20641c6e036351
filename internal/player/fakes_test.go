package player

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

type instantSource struct{ id string }

func (s instantSource) Locator() string { return "https://audio.example/" + s.id }

func (s instantSource) Open(ctx context.Context) (*extract.Stream, error) {
	return &extract.Stream{URL: s.Locator()}, nil
}

type failingSource struct{ err error }

func (s failingSource) Locator() string { return "" }

func (s failingSource) Open(ctx context.Context) (*extract.Stream, error) { return nil, s.err }

type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

// blockingSource stays in Open until released, ignoring cancellation, so a
// stream can arrive after the session has moved on.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	body    *trackedBody
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		body:    &trackedBody{Reader: strings.NewReader("audio")},
	}
}

func (s *blockingSource) Locator() string { return "" }

func (s *blockingSource) Open(ctx context.Context) (*extract.Stream, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return &extract.Stream{Body: s.body}, nil
}

func testTrack(title string) Track {
	return NewTrack(extract.TrackMetadata{
		ID:              title,
		Title:           title,
		DurationSeconds: 60,
		Source:          instantSource{id: title},
	})
}

type fakePlayer struct {
	mu      sync.Mutex
	current uint64
	paused  bool
	plays   int
	events  chan PlayerEvent
}

func newFakePlayer() *fakePlayer { return &fakePlayer{events: make(chan PlayerEvent, 64)} }

func (p *fakePlayer) Play(id uint64, st *extract.Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = id
	p.paused = false
	p.plays++
	p.events <- PlayerEvent{ID: id, Kind: PlayerPlaying}
	return nil
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return true
}

func (p *fakePlayer) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return true
}

func (p *fakePlayer) Stop() { p.Finish() }

// Finish ends the current item as if it had played to the end.
func (p *fakePlayer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != 0 {
		p.events <- PlayerEvent{ID: p.current, Kind: PlayerIdle}
		p.current = 0
	}
}

func (p *fakePlayer) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != 0 {
		p.events <- PlayerEvent{ID: p.current, Kind: PlayerError, Err: err}
		p.current = 0
	}
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func (p *fakePlayer) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) Events() <-chan PlayerEvent { return p.events }

type fakeConn struct {
	events       chan VoiceEvent
	player       *fakePlayer
	reconnectErr error
	reconnects   atomic.Int32
	closed       atomic.Bool
}

func (c *fakeConn) Events() <-chan VoiceEvent { return c.events }

func (c *fakeConn) Reconnect(ctx context.Context) error {
	c.reconnects.Add(1)
	return c.reconnectErr
}

func (c *fakeConn) NewAudioPlayer() AudioPlayer { return c.player }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeGuild struct {
	id         string
	channel    string
	conn       *fakeConn
	connectErr error
	// block makes Connect wait for its context.
	block    bool
	connects atomic.Int32
}

func newFakeGuild(id string) *fakeGuild {
	return &fakeGuild{
		id:      id,
		channel: "voice-" + id,
		conn:    &fakeConn{events: make(chan VoiceEvent, 4), player: newFakePlayer()},
	}
}

func (g *fakeGuild) GuildID() string        { return g.id }
func (g *fakeGuild) VoiceChannelID() string { return g.channel }

func (g *fakeGuild) Connect(ctx context.Context) (VoiceConnection, error) {
	g.connects.Add(1)
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.connectErr != nil {
		return nil, g.connectErr
	}
	return g.conn, nil
}

type recorder struct{ ch chan Notice }

func newRecorder() *recorder { return &recorder{ch: make(chan Notice, 256)} }

func (r *recorder) Notify(n Notice) { r.ch <- n }

// waitFor returns the first notice of kind (and title, when set), discarding
// anything before it.
func (r *recorder) waitFor(t *testing.T, kind NoticeKind, title string) Notice {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-r.ch:
			if n.Kind == kind && (title == "" || n.Track.Title == title) {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for notice %d %q", kind, title)
			return Notice{}
		}
	}
}

func (r *recorder) expectNone(t *testing.T, kind NoticeKind, within time.Duration) {
	t.Helper()
	timeout := time.After(within)
	for {
		select {
		case n := <-r.ch:
			if n.Kind == kind {
				t.Fatalf("unexpected notice %d for %q", kind, n.Track.Title)
			}
		case <-timeout:
			return
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// fakeStrategy serves canned search results and per-ref resolutions.
type fakeStrategy struct {
	mu       sync.Mutex
	results  map[string][]extract.CandidateRef
	searchFn func(ctx context.Context, text string) ([]extract.CandidateRef, error)
	resolve  func(ctx context.Context, ref string) (extract.TrackMetadata, error)
	searched []string
	resolved []string
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Search(ctx context.Context, text string, limit int) ([]extract.CandidateRef, error) {
	f.mu.Lock()
	f.searched = append(f.searched, text)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(ctx, text)
	}
	return f.results[text], nil
}

func (f *fakeStrategy) ResolveDirect(ctx context.Context, ref string) (extract.TrackMetadata, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, ref)
	f.mu.Unlock()
	if f.resolve != nil {
		return f.resolve(ctx, ref)
	}
	return extract.TrackMetadata{ID: ref, Title: "title " + ref, DurationSeconds: 100, Source: instantSource{id: ref}}, nil
}

func (f *fakeStrategy) calls() (searched, resolved []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searched...), append([]string(nil), f.resolved...)
}

var errBoom = errors.New("boom")
