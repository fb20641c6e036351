package repository

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrPlaylistExists   = errors.New("playlist already exists")
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrSongNotFound     = errors.New("no song at that position")
	ErrInvalidName      = errors.New("invalid playlist name")
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// Settings are per-guild overrides. MaxCandidates 0 means the bot default.
type Settings struct {
	GuildID            string
	MaxCandidates      int
	LeaveIfNoListeners bool
}

// Playlist belongs to one user within one guild; names are unique per
// (guild, user).
type Playlist struct {
	ID        int64
	GuildID   string
	UserID    string
	Name      string
	SongCount int
	CreatedAt time.Time
	UpdatedAt time.Time
	Songs     []Song
}

type Song struct {
	ID              int64
	Position        int
	Title           string
	URL             string
	DurationSeconds int
	Thumbnail       string
	AddedAt         time.Time
}
