package player

import (
	"context"
	"errors"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNoVoiceChannel = errors.New("not in a voice channel")

	ErrNoPlayableCandidate = errors.New("no playable candidate")
	ErrResolutionTimeout   = errors.New("resolution timed out")

	ErrConnectionTimeout = errors.New("voice connection timed out")
	ErrConnectionFailed  = errors.New("voice connection failed")
	ErrConnectionLost    = errors.New("voice connection lost")

	ErrNoSession     = errors.New("no active session")
	ErrNotPlaying    = errors.New("not playing")
	ErrNotPaused     = errors.New("not paused")
	ErrQueueEmpty    = errors.New("queue is empty")
	ErrSessionClosed = errors.New("session closed")
)

// ErrorClass groups failures by who can do something about them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	// ClassInput is user-correctable and rejected before any work starts.
	ClassInput
	ClassResolution
	ClassConnection
	ClassPlayback
	// ClassState is an operation that does not apply to the session's
	// current state, such as pausing while paused.
	ClassState
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassResolution:
		return "resolution"
	case ClassConnection:
		return "connection"
	case ClassPlayback:
		return "playback"
	case ClassState:
		return "state"
	default:
		return "unknown"
	}
}

func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrNoVoiceChannel):
		return ClassInput
	case errors.Is(err, ErrNoPlayableCandidate), errors.Is(err, ErrResolutionTimeout):
		return ClassResolution
	case errors.Is(err, ErrConnectionTimeout), errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrConnectionLost):
		return ClassConnection
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrNotPlaying), errors.Is(err, ErrNotPaused),
		errors.Is(err, ErrQueueEmpty), errors.Is(err, ErrSessionClosed):
		return ClassState
	case errors.Is(err, context.Canceled):
		return ClassUnknown
	default:
		return ClassPlayback
	}
}
