package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

type SessionOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	// IdleTimeout ends a session that has had nothing queued for this long.
	IdleTimeout time.Duration
	// VacatedGrace ends a session whose voice channel has had no listeners
	// for this long. Zero disables the check.
	VacatedGrace time.Duration
	Notifier     Notifier
	Logger       *slog.Logger
}

type cmdKind int

const (
	cmdEnqueue cmdKind = iota
	cmdPause
	cmdResume
	cmdSkip
	cmdStop
	cmdSnapshot
	cmdVacated
)

type command struct {
	kind  cmdKind
	track Track
	flag  bool
	reply chan reply
}

type reply struct {
	pos  int
	snap QueueSnapshot
	err  error
}

type connectResult struct {
	conn VoiceConnection
	err  error
}

type acquireResult struct {
	gen uint64
	st  *extract.Stream
	err error
}

// Session owns the playback state of one guild. All state lives on a single
// goroutine; the exported methods send it commands and wait for the reply.
type Session struct {
	id      string
	guildID string
	gc      GuildContext
	opts    SessionOptions
	log     *slog.Logger
	notify  Notifier
	onClose func(*Session)

	cmds      chan command
	connected chan connectResult
	acquired  chan acquireResult
	reconnect chan error

	ready    chan struct{}
	readyErr error
	done     chan struct{}
	stopped  atomic.Bool

	// owned by run
	status        Status
	queue         []Track
	conn          VoiceConnection
	player        AudioPlayer
	cancelConnect context.CancelFunc
	gen           uint64
	cancelAcquire context.CancelFunc
	acquiring     bool
	playingID     uint64
	reconnecting  bool
	idleTimer     *time.Timer
	vacatedTimer  *time.Timer
}

// NewSession starts a session in the Connecting state. onClose runs on the
// session goroutine during termination, before Done is closed; it must not
// call back into the session.
func NewSession(gc GuildContext, opts SessionOptions, onClose func(*Session)) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 5 * time.Second
	}
	id := uuid.NewString()
	s := &Session{
		id:        id,
		guildID:   gc.GuildID(),
		gc:        gc,
		opts:      opts,
		log:       opts.Logger.With("guildID", gc.GuildID(), "session", id),
		notify:    opts.Notifier,
		onClose:   onClose,
		cmds:      make(chan command),
		connected: make(chan connectResult),
		acquired:  make(chan acquireResult),
		reconnect: make(chan error, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		status:    StatusConnecting,
	}
	go s.run()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) GuildID() string { return s.guildID }

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stopped reports whether the session ended through Stop rather than on its
// own (idle timeout, lost voice, failed connect).
func (s *Session) Stopped() bool { return s.stopped.Load() }

// WaitReady blocks until the voice connection is established or has failed.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-s.done:
		select {
		case <-s.ready:
			return s.readyErr
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue appends t and returns its 0-based queue position; position 0 is
// playing or about to play.
func (s *Session) Enqueue(t Track) (int, error) {
	r, err := s.send(command{kind: cmdEnqueue, track: t})
	return r.pos, err
}

func (s *Session) Pause() error {
	_, err := s.send(command{kind: cmdPause})
	return err
}

func (s *Session) Resume() error {
	_, err := s.send(command{kind: cmdResume})
	return err
}

func (s *Session) Skip() error {
	_, err := s.send(command{kind: cmdSkip})
	return err
}

// Stop terminates the session. Stopping a terminated session is a no-op.
func (s *Session) Stop() {
	_, _ = s.send(command{kind: cmdStop})
	<-s.done
}

func (s *Session) Snapshot() (QueueSnapshot, error) {
	r, err := s.send(command{kind: cmdSnapshot})
	return r.snap, err
}

// Status is a convenience over Snapshot; a terminated session reports
// StatusTerminating.
func (s *Session) Status() Status {
	snap, err := s.Snapshot()
	if err != nil {
		return StatusTerminating
	}
	return snap.Status
}

// SetVacated tells the session whether its voice channel has no listeners
// left besides the bot.
func (s *Session) SetVacated(empty bool) {
	_, _ = s.send(command{kind: cmdVacated, flag: empty})
}

func (s *Session) send(c command) (reply, error) {
	c.reply = make(chan reply, 1)
	select {
	case s.cmds <- c:
	case <-s.done:
		return reply{}, ErrSessionClosed
	}
	r := <-c.reply
	return r, r.err
}

func (s *Session) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	s.cancelConnect = cancel
	go func() {
		conn, err := s.gc.Connect(ctx)
		if err == nil && ctx.Err() != nil {
			// connected after we gave up
			_ = conn.Close()
			conn, err = nil, ctx.Err()
		}
		select {
		case s.connected <- connectResult{conn: conn, err: err}:
		case <-s.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()

	for s.status != StatusTerminating {
		var voiceEvents <-chan VoiceEvent
		var playerEvents <-chan PlayerEvent
		var idleC, vacatedC <-chan time.Time
		if s.conn != nil {
			voiceEvents = s.conn.Events()
		}
		if s.player != nil {
			playerEvents = s.player.Events()
		}
		if s.idleTimer != nil {
			idleC = s.idleTimer.C
		}
		if s.vacatedTimer != nil {
			vacatedC = s.vacatedTimer.C
		}

		select {
		case c := <-s.cmds:
			c.reply <- s.handle(c)
		case res := <-s.connected:
			s.onConnected(res)
		case res := <-s.acquired:
			s.onAcquired(res)
		case ev := <-playerEvents:
			s.onPlayerEvent(ev)
		case ev, ok := <-voiceEvents:
			if !ok {
				s.onVoiceLost(errors.New("voice events closed"))
				break
			}
			if ev == VoiceDisconnected {
				s.onVoiceLost(nil)
			}
		case err := <-s.reconnect:
			s.reconnecting = false
			if err != nil {
				s.onVoiceLost(err)
			} else {
				s.log.Info("voice reconnected")
			}
		case <-idleC:
			s.idleTimer = nil
			s.log.Info("idle timeout, leaving")
			s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeInactive})
			s.terminate()
		case <-vacatedC:
			s.vacatedTimer = nil
			s.log.Info("channel vacated, leaving")
			s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeInactive})
			s.terminate()
		}
	}
}

func (s *Session) handle(c command) reply {
	switch c.kind {
	case cmdEnqueue:
		s.queue = append(s.queue, c.track)
		pos := len(s.queue) - 1
		s.log.Debug("enqueued", "title", c.track.Title, "position", pos)
		if pos == 0 && s.status == StatusIdle {
			s.startPlayback()
		}
		return reply{pos: pos}
	case cmdPause:
		if s.status != StatusPlaying {
			return reply{err: ErrNotPlaying}
		}
		s.player.Pause()
		s.status = StatusPaused
		return reply{}
	case cmdResume:
		if s.status != StatusPaused {
			return reply{err: ErrNotPaused}
		}
		s.player.Resume()
		s.status = StatusPlaying
		return reply{}
	case cmdSkip:
		if len(s.queue) == 0 {
			return reply{err: ErrQueueEmpty}
		}
		s.log.Debug("skip", "title", s.queue[0].Title)
		s.advance()
		return reply{}
	case cmdStop:
		s.stopped.Store(true)
		s.terminate()
		return reply{}
	case cmdSnapshot:
		return reply{snap: QueueSnapshot{
			GuildID: s.guildID,
			Status:  s.status,
			Tracks:  append([]Track(nil), s.queue...),
		}}
	case cmdVacated:
		s.setVacated(c.flag)
		return reply{}
	}
	return reply{err: fmt.Errorf("unknown command %d", c.kind)}
}

func (s *Session) onConnected(res connectResult) {
	s.cancelConnect()
	s.cancelConnect = nil
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			s.readyErr = ErrConnectionTimeout
		} else {
			s.readyErr = fmt.Errorf("%w: %w", ErrConnectionFailed, res.err)
		}
		close(s.ready)
		s.log.Warn("voice connect failed", "err", res.err)
		s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeConnectFailed, Err: s.readyErr})
		s.terminate()
		return
	}
	s.conn = res.conn
	s.player = res.conn.NewAudioPlayer()
	s.status = StatusIdle
	close(s.ready)
	s.log.Info("voice connected", "channelID", s.gc.VoiceChannelID())
	if len(s.queue) > 0 {
		s.startPlayback()
	} else {
		s.armIdle()
	}
}

// startPlayback begins acquiring the stream for the head of the queue. Any
// earlier acquisition is invalidated by bumping the generation.
func (s *Session) startPlayback() {
	s.stopIdle()
	s.invalidate()
	t := s.queue[0]
	src := t.Source()
	if src == nil {
		s.trackFailed(t, fmt.Errorf("%w: track has no audio source", extract.ErrMalformed))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelAcquire = cancel
	s.acquiring = true
	gen := s.gen
	go func() {
		st, err := src.Open(ctx)
		select {
		case s.acquired <- acquireResult{gen: gen, st: st, err: err}:
		case <-s.done:
			_ = st.Close()
		}
	}()
}

func (s *Session) invalidate() {
	s.gen++
	s.acquiring = false
	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}
}

func (s *Session) onAcquired(res acquireResult) {
	if res.gen != s.gen || !s.acquiring {
		s.log.Debug("discarding stale stream", "gen", res.gen)
		_ = res.st.Close()
		return
	}
	s.acquiring = false
	s.cancelAcquire()
	s.cancelAcquire = nil

	t := s.queue[0]
	if res.err != nil {
		s.trackFailed(t, res.err)
		return
	}
	if err := s.player.Play(s.gen, res.st); err != nil {
		_ = res.st.Close()
		s.trackFailed(t, err)
		return
	}
	s.playingID = s.gen
}

func (s *Session) onPlayerEvent(ev PlayerEvent) {
	if ev.ID != s.playingID || s.playingID == 0 {
		return
	}
	t := s.queue[0]
	switch ev.Kind {
	case PlayerPlaying:
		s.status = StatusPlaying
		s.log.Info("now playing", "title", t.Title)
		s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeNowPlaying, Track: t})
	case PlayerIdle:
		s.playingID = 0
		s.advance()
	case PlayerError:
		s.playingID = 0
		s.trackFailed(t, ev.Err)
	}
}

func (s *Session) trackFailed(t Track, err error) {
	s.log.Warn("track failed", "title", t.Title, "err", err)
	s.notify.Notify(Notice{
		GuildID: s.guildID,
		Kind:    NoticeTrackFailed,
		Track:   t,
		Cause:   extract.ClassOf(err),
		Err:     err,
	})
	s.advance()
}

// advance drops the head of the queue and moves on to the next track.
func (s *Session) advance() {
	s.invalidate()
	if s.playingID != 0 {
		s.playingID = 0
		s.player.Stop()
	}
	if len(s.queue) > 0 {
		s.queue[0] = Track{}
		s.queue = s.queue[1:]
	}
	if len(s.queue) > 0 {
		s.status = StatusIdle
		s.startPlayback()
		return
	}
	s.status = StatusIdle
	s.queue = nil
	s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeQueueFinished})
	s.armIdle()
}

func (s *Session) onVoiceLost(cause error) {
	if cause == nil && !s.reconnecting {
		s.reconnecting = true
		s.log.Warn("voice disconnected, reconnecting")
		conn := s.conn
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.ReconnectWait)
			defer cancel()
			s.reconnect <- conn.Reconnect(ctx)
		}()
		return
	}
	if cause == nil {
		return
	}
	s.log.Warn("voice reconnect failed", "err", cause)
	s.notify.Notify(Notice{GuildID: s.guildID, Kind: NoticeDisconnected, Err: fmt.Errorf("%w: %w", ErrConnectionLost, cause)})
	s.terminate()
}

func (s *Session) setVacated(empty bool) {
	if !empty {
		if s.vacatedTimer != nil {
			s.vacatedTimer.Stop()
			s.vacatedTimer = nil
		}
		return
	}
	if s.vacatedTimer == nil && s.opts.VacatedGrace > 0 {
		s.vacatedTimer = time.NewTimer(s.opts.VacatedGrace)
	}
}

func (s *Session) armIdle() {
	if s.idleTimer == nil && s.opts.IdleTimeout > 0 {
		s.idleTimer = time.NewTimer(s.opts.IdleTimeout)
	}
}

func (s *Session) stopIdle() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// terminate releases everything the session holds. It runs exactly once, on
// the session goroutine.
func (s *Session) terminate() {
	if s.status == StatusTerminating {
		return
	}
	s.status = StatusTerminating
	s.invalidate()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	s.stopIdle()
	s.setVacated(false)
	s.queue = nil
	if s.player != nil && s.playingID != 0 {
		s.player.Stop()
	}
	s.playingID = 0
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("voice close", "err", err)
		}
	}
	select {
	case <-s.ready:
	default:
		s.readyErr = ErrSessionClosed
		close(s.ready)
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
	s.log.Info("session ended")
}
