package player

import (
	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

// Track is a resolved, playable unit of audio. Values are never modified
// after creation; WithRequest returns a copy.
type Track struct {
	ID        string
	Title     string
	SourceURL string
	// AudioLocator is a directly streamable URL, or empty when the stream is
	// only acquired at playback time.
	AudioLocator string
	// DurationSeconds is extract.DurationUnknown when the backend did not say.
	DurationSeconds int
	Thumbnail       string
	Uploader        string
	RequestedBy     string
	RequestChannel  string

	source extract.Source
}

func NewTrack(md extract.TrackMetadata) Track {
	t := Track{
		ID:              md.ID,
		Title:           md.Title,
		SourceURL:       md.SourceURL,
		DurationSeconds: md.DurationSeconds,
		Thumbnail:       md.Thumbnail,
		Uploader:        md.Uploader,
		source:          md.Source,
	}
	if md.Source != nil {
		t.AudioLocator = md.Source.Locator()
	}
	return t
}

// WithRequest returns a copy of t attributed to a user and the text channel
// notices about it should go to.
func (t Track) WithRequest(requestedBy, channelID string) Track {
	t.RequestedBy = requestedBy
	t.RequestChannel = channelID
	return t
}

func (t Track) Source() extract.Source { return t.source }

func (t Track) DurationKnown() bool { return t.DurationSeconds >= 0 }

// Length renders the duration, or "unknown".
func (t Track) Length() string { return utils.PrettyTime(t.DurationSeconds) }

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusPlaying
	StatusPaused
	StatusTerminating
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// QueueSnapshot is a read-only copy of a session's queue. Tracks[0], if
// present, is playing or about to play.
type QueueSnapshot struct {
	GuildID string
	Status  Status
	Tracks  []Track
}

func (q QueueSnapshot) Current() (Track, bool) {
	if len(q.Tracks) == 0 {
		return Track{}, false
	}
	return q.Tracks[0], true
}

// Upcoming returns the tracks after the current one.
func (q QueueSnapshot) Upcoming() []Track {
	if len(q.Tracks) <= 1 {
		return nil
	}
	return q.Tracks[1:]
}

// TotalSeconds sums the known durations of the queue; unknown reports whether
// any duration was missing.
func (q QueueSnapshot) TotalSeconds() (total int, unknown bool) {
	for _, t := range q.Tracks {
		if t.DurationKnown() {
			total += t.DurationSeconds
		} else {
			unknown = true
		}
	}
	return total, unknown
}
