package handlers

import (
	"errors"
	"fmt"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/ui"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

// userMessage turns a command error into something worth showing in chat.
// Resolution failures are reported once, whatever the per-candidate causes.
func userMessage(err error) string {
	switch {
	case errors.Is(err, player.ErrEmptyQuery):
		return "give me something to search for"
	case errors.Is(err, player.ErrNoVoiceChannel):
		return "gotta be in a voice channel"
	case errors.Is(err, player.ErrResolutionTimeout):
		return "took too long looking for that, try again"
	case errors.Is(err, player.ErrNoPlayableCandidate):
		return "couldn't find anything playable for that"
	case errors.Is(err, player.ErrConnectionTimeout):
		return "timed out connecting to the voice channel"
	case errors.Is(err, player.ErrConnectionFailed):
		return "couldn't connect to channel"
	case errors.Is(err, player.ErrNoSession), errors.Is(err, player.ErrSessionClosed):
		return "not connected"
	case errors.Is(err, player.ErrNotPlaying):
		return "not currently playing"
	case errors.Is(err, player.ErrNotPaused):
		return "not paused"
	case errors.Is(err, player.ErrQueueEmpty):
		return "nothing in the queue"
	case errors.Is(err, ui.ErrPageOutOfRange):
		return "the queue isn't that big"
	case errors.Is(err, repository.ErrPlaylistExists):
		return "you already have a playlist with this name"
	case errors.Is(err, repository.ErrPlaylistNotFound):
		return "no playlist with that name"
	case errors.Is(err, repository.ErrSongNotFound):
		return "no song at that position"
	case errors.Is(err, repository.ErrInvalidName):
		return "playlist names must be 1 to 64 characters"
	}
	switch player.ClassOf(err) {
	case player.ClassConnection:
		return "lost the voice connection"
	default:
		return "something went wrong"
	}
}

// noticeText renders a session notice; empty means stay quiet.
func noticeText(n player.Notice) string {
	switch n.Kind {
	case player.NoticeTrackFailed:
		title := utils.EscapeMd(n.Track.Title)
		switch n.Cause {
		case extract.ClassUnavailable:
			return fmt.Sprintf("skipping %s: it's unavailable", title)
		case extract.ClassBlocked:
			return fmt.Sprintf("skipping %s: the source refused to stream it", title)
		default:
			return fmt.Sprintf("skipping %s: playback failed", title)
		}
	case player.NoticeQueueFinished:
		return "queue finished"
	case player.NoticeConnectFailed:
		return userMessage(n.Err)
	case player.NoticeDisconnected:
		return "lost the voice connection, leaving"
	case player.NoticeInactive:
		return "leaving due to inactivity"
	}
	return ""
}
