package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/player"
)

var ErrNoAudio = errors.New("stream produced no audio")

// OpusSink is where encoded packets go, normally a voice connection.
type OpusSink interface {
	Send(ctx context.Context, pkt []byte) error
	Speaking(on bool)
}

type PlayerOptions struct {
	Decoder DecoderFunc
	// NewEncoder defaults to a libopus Encoder at Bitrate.
	NewEncoder func() (FrameEncoder, error)
	Bitrate    int64
	Logger     *slog.Logger
}

type playback struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Player decodes, encodes and sends one stream at a time to a sink. It
// implements player.AudioPlayer.
type Player struct {
	sink       OpusSink
	decode     DecoderFunc
	newEncoder func() (FrameEncoder, error)
	log        *slog.Logger
	events     chan player.PlayerEvent
	gate       pauseGate

	mu  sync.Mutex
	cur *playback
}

func NewPlayer(sink OpusSink, opts PlayerOptions) *Player {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Decoder == nil {
		opts.Decoder = NewDecoder("ffmpeg", opts.Logger)
	}
	if opts.NewEncoder == nil {
		bitrate, logger := opts.Bitrate, opts.Logger
		opts.NewEncoder = func() (FrameEncoder, error) { return NewEncoder(bitrate, logger) }
	}
	return &Player{
		sink:       sink,
		decode:     opts.Decoder,
		newEncoder: opts.NewEncoder,
		log:        opts.Logger,
		events:     make(chan player.PlayerEvent, 16),
	}
}

func (p *Player) Events() <-chan player.PlayerEvent { return p.events }

// Play stops whatever is playing and starts st under id.
func (p *Player) Play(id uint64, st *extract.Stream) error {
	if st == nil {
		return errors.New("nil stream")
	}
	p.Stop()
	p.gate.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{id: id, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.cur = pb
	p.mu.Unlock()

	go p.run(ctx, pb, st)
	return nil
}

func (p *Player) Pause() bool  { return p.gate.Pause() }
func (p *Player) Resume() bool { return p.gate.Resume() }

// Stop ends the current playback, if any, and waits for it to wind down. The
// stopped item still reports PlayerIdle.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.cur
	p.cur = nil
	p.mu.Unlock()
	if pb == nil {
		return
	}
	pb.cancel()
	<-pb.done
}

func (p *Player) run(ctx context.Context, pb *playback, st *extract.Stream) {
	defer close(pb.done)
	err := p.stream(ctx, pb.id, st)
	ev := player.PlayerEvent{ID: pb.id, Kind: player.PlayerIdle}
	if err != nil && ctx.Err() == nil {
		ev = player.PlayerEvent{ID: pb.id, Kind: player.PlayerError, Err: err}
		p.log.Warn("playback failed", "err", err)
	}
	p.mu.Lock()
	if p.cur == pb {
		p.cur = nil
	}
	p.mu.Unlock()
	p.events <- ev
}

func (p *Player) stream(ctx context.Context, id uint64, st *extract.Stream) error {
	src, err := p.decode(ctx, st)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("decode: %w", err)
	}
	defer src.Close()

	enc, err := p.newEncoder()
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	defer enc.Close()

	p.sink.Speaking(true)
	defer p.sink.Speaking(false)

	started := false
	send := func(pkt []byte) error {
		if !started {
			started = true
			p.events <- player.PlayerEvent{ID: id, Kind: player.PlayerPlaying}
		}
		return p.sink.Send(ctx, pkt)
	}

	buf := make([]byte, FrameBytes)
	for {
		if err := p.gate.Wait(ctx); err != nil {
			return err
		}
		n, err := io.ReadFull(src, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF):
			return p.finish(enc, src, send, started)
		case errors.Is(err, io.ErrUnexpectedEOF):
			clear(buf[n:])
			last = true
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read pcm: %w", err)
		}
		if err := enc.EncodeFrame(buf, send); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if last {
			return p.finish(enc, src, send, true)
		}
	}
}

func (p *Player) finish(enc FrameEncoder, src PCMSource, send OpusPacketHandler, started bool) error {
	if !started {
		if err := src.Close(); err != nil {
			return fmt.Errorf("%w: %w", ErrNoAudio, err)
		}
		return ErrNoAudio
	}
	if err := enc.Flush(send); err != nil {
		return err
	}
	return src.Close()
}

// pauseGate blocks the send loop while paused.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *pauseGate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		return false
	}
	g.ch = make(chan struct{})
	return true
}

func (g *pauseGate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		return false
	}
	close(g.ch)
	g.ch = nil
	return true
}

func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
