package player

import (
	"context"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
)

// GuildContext is what the platform layer hands the core for one guild: where
// to connect and how.
type GuildContext interface {
	GuildID() string
	VoiceChannelID() string
	// Connect joins VoiceChannelID and returns once the connection is ready
	// or ctx is done.
	Connect(ctx context.Context) (VoiceConnection, error)
}

type VoiceEvent int

const (
	VoiceDisconnected VoiceEvent = iota
)

// VoiceConnection is owned by exactly one Session.
type VoiceConnection interface {
	Events() <-chan VoiceEvent
	// Reconnect performs one handshake and returns once the connection is
	// ready again.
	Reconnect(ctx context.Context) error
	NewAudioPlayer() AudioPlayer
	Close() error
}

type PlayerEventKind int

const (
	PlayerPlaying PlayerEventKind = iota
	PlayerIdle
	PlayerError
)

// PlayerEvent reports on the item started by AudioPlayer.Play with the same ID.
type PlayerEvent struct {
	ID   uint64
	Kind PlayerEventKind
	Err  error
}

// AudioPlayer plays one stream at a time. Play takes ownership of st and
// reports PlayerPlaying once audio flows, then exactly one of PlayerIdle or
// PlayerError. Play resets any pause. Events must be buffered: Stop may be
// called while nobody is reading them.
type AudioPlayer interface {
	Play(id uint64, st *extract.Stream) error
	Pause() bool
	Resume() bool
	Stop()
	Events() <-chan PlayerEvent
}

type NoticeKind int

const (
	NoticeNowPlaying NoticeKind = iota
	NoticeTrackFailed
	NoticeQueueFinished
	NoticeConnectFailed
	NoticeDisconnected
	NoticeInactive
)

// Notice is an informational event for the messaging layer. Track is set for
// NowPlaying and TrackFailed; Cause is set for TrackFailed.
type Notice struct {
	GuildID string
	Kind    NoticeKind
	Track   Track
	Cause   extract.Class
	Err     error
}

// Notifier receives notices on the session's goroutine and must not block.
type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
