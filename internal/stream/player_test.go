package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/player"
)

type pcmReader struct {
	*bytes.Reader
	closed bool
}

func (r *pcmReader) Close() error {
	r.closed = true
	return nil
}

func pcmDecoder(n int) DecoderFunc {
	return func(ctx context.Context, st *extract.Stream) (PCMSource, error) {
		return &pcmReader{Reader: bytes.NewReader(make([]byte, n))}, nil
	}
}

// countingEncoder emits one small packet per frame and one on flush.
type countingEncoder struct{}

func (countingEncoder) EncodeFrame(pcm []byte, onPacket OpusPacketHandler) error {
	if len(pcm) != FrameBytes {
		return errors.New("bad frame size")
	}
	return onPacket([]byte{0xf8, 0xff, 0xfe})
}

func (countingEncoder) Flush(onPacket OpusPacketHandler) error { return onPacket([]byte{0xf8}) }
func (countingEncoder) Close()                                 {}

type fakeSink struct {
	mu       sync.Mutex
	packets  int
	speaking []bool
	block    bool
	delay    time.Duration
	sent     chan struct{}
}

func newFakeSink() *fakeSink { return &fakeSink{sent: make(chan struct{}, 1024)} }

func (s *fakeSink) Send(ctx context.Context, pkt []byte) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.packets++
	s.mu.Unlock()
	s.sent <- struct{}{}
	return nil
}

func (s *fakeSink) Speaking(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = append(s.speaking, on)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

func newTestPlayer(sink OpusSink, dec DecoderFunc) *Player {
	return NewPlayer(sink, PlayerOptions{
		Decoder:    dec,
		NewEncoder: func() (FrameEncoder, error) { return countingEncoder{}, nil },
	})
}

func nextEvent(t *testing.T, p *Player) player.PlayerEvent {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no player event")
		return player.PlayerEvent{}
	}
}

func TestPlayer_PlaysToEnd(t *testing.T) {
	sink := newFakeSink()
	p := newTestPlayer(sink, pcmDecoder(FrameBytes*2+100))

	if err := p.Play(7, &extract.Stream{URL: "https://a/1"}); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, p); ev.ID != 7 || ev.Kind != player.PlayerPlaying {
		t.Errorf("first event = %+v, want playing", ev)
	}
	if ev := nextEvent(t, p); ev.ID != 7 || ev.Kind != player.PlayerIdle {
		t.Errorf("second event = %+v, want idle", ev)
	}
	// two full frames, a zero-padded tail and the flush
	if n := sink.count(); n != 4 {
		t.Errorf("sent %d packets, want 4", n)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.speaking) != 2 || !sink.speaking[0] || sink.speaking[1] {
		t.Errorf("speaking = %v, want [true false]", sink.speaking)
	}
}

func TestPlayer_DecodeError(t *testing.T) {
	p := newTestPlayer(newFakeSink(), func(ctx context.Context, st *extract.Stream) (PCMSource, error) {
		return nil, errors.New("403 from upstream")
	})
	p.Play(1, &extract.Stream{URL: "https://a/1"})
	ev := nextEvent(t, p)
	if ev.Kind != player.PlayerError || !strings.Contains(ev.Err.Error(), "403") {
		t.Errorf("event = %+v, want decode error", ev)
	}
}

func TestPlayer_EmptyStreamIsError(t *testing.T) {
	p := newTestPlayer(newFakeSink(), pcmDecoder(0))
	p.Play(1, &extract.Stream{URL: "https://a/1"})
	ev := nextEvent(t, p)
	if ev.Kind != player.PlayerError || !errors.Is(ev.Err, ErrNoAudio) {
		t.Errorf("event = %+v, want ErrNoAudio", ev)
	}
}

func TestPlayer_StopReportsIdle(t *testing.T) {
	sink := newFakeSink()
	sink.block = true
	p := newTestPlayer(sink, pcmDecoder(FrameBytes*50))

	p.Play(3, &extract.Stream{URL: "https://a/1"})
	if ev := nextEvent(t, p); ev.Kind != player.PlayerPlaying {
		t.Fatalf("event = %+v, want playing", ev)
	}
	p.Stop()
	if ev := nextEvent(t, p); ev.ID != 3 || ev.Kind != player.PlayerIdle {
		t.Errorf("event after Stop = %+v, want idle", ev)
	}
	// nothing left to stop
	p.Stop()
}

func TestPlayer_PauseHoldsPackets(t *testing.T) {
	sink := newFakeSink()
	sink.delay = time.Millisecond
	p := newTestPlayer(sink, pcmDecoder(FrameBytes*1000))

	if !p.Pause() {
		t.Fatal("Pause() = false")
	}
	p.Play(1, &extract.Stream{URL: "https://a/1"})
	// Play clears a pause left over from the previous item
	<-sink.sent

	if !p.Pause() {
		t.Fatal("Pause() = false while playing")
	}
	if p.Pause() {
		t.Error("second Pause() = true")
	}
	time.Sleep(20 * time.Millisecond)
	before := sink.count()
	time.Sleep(50 * time.Millisecond)
	// at most the frame that was in flight when the gate closed
	if after := sink.count(); after > before+2 {
		t.Errorf("sent %d packets while paused", after-before)
	}
	if !p.Resume() {
		t.Fatal("Resume() = false")
	}
	if p.Resume() {
		t.Error("second Resume() = true")
	}
	<-sink.sent
	p.Stop()
}

func slogDiscard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpeg_PipesBody(t *testing.T) {
	path := fakeFFmpeg(t, "exec cat\n")
	st := &extract.Stream{Body: io.NopCloser(strings.NewReader("raw-pcm-bytes"))}

	f, err := StartFFmpeg(context.Background(), path, st, slogDiscard())
	if err != nil {
		t.Fatalf("StartFFmpeg() error = %v", err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "raw-pcm-bytes" {
		t.Errorf("output = %q", got)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFFmpeg_FailureCarriesStderr(t *testing.T) {
	path := fakeFFmpeg(t, "echo 'pipe:0: Invalid data found when processing input' >&2\nexit 1\n")
	st := &extract.Stream{Body: io.NopCloser(strings.NewReader("junk"))}

	f, err := StartFFmpeg(context.Background(), path, st, slogDiscard())
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, f)
	err = f.Close()
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("Close() error = %v, want ffmpeg's message", err)
	}
}

func TestNewDecoder_RejectsEmptyStream(t *testing.T) {
	dec := NewDecoder("ffmpeg", nil)
	if _, err := dec(context.Background(), &extract.Stream{}); err == nil {
		t.Error("expected an error for a stream with neither URL nor body")
	}
}
