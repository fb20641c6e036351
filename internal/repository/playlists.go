package repository

import (
	"context"
	"strings"
	"unicode/utf8"
)

const maxNameLen = 64

type PlaylistService struct {
	repo *Repo
}

func NewPlaylistService(repo *Repo) *PlaylistService {
	return &PlaylistService{repo: repo}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

func (s *PlaylistService) Create(ctx context.Context, guild, user, name string) (*Playlist, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.repo.CreatePlaylist(ctx, guild, user, name)
}

func (s *PlaylistService) Delete(ctx context.Context, guild, user, name string) error {
	return s.repo.DeletePlaylist(ctx, guild, user, strings.TrimSpace(name))
}

func (s *PlaylistService) Rename(ctx context.Context, guild, user, from, to string) error {
	to, err := cleanName(to)
	if err != nil {
		return err
	}
	return s.repo.RenamePlaylist(ctx, guild, user, strings.TrimSpace(from), to)
}

func (s *PlaylistService) Get(ctx context.Context, guild, user, name string) (*Playlist, error) {
	return s.repo.FindPlaylist(ctx, guild, user, strings.TrimSpace(name))
}

func (s *PlaylistService) List(ctx context.Context, guild, user string) ([]Playlist, error) {
	return s.repo.ListPlaylists(ctx, guild, user)
}

func (s *PlaylistService) AddSong(ctx context.Context, guild, user, name string, song Song) (int, error) {
	return s.repo.AddSong(ctx, guild, user, strings.TrimSpace(name), song)
}

func (s *PlaylistService) RemoveSong(ctx context.Context, guild, user, name string, index int) (*Song, error) {
	if index < 1 {
		return nil, ErrSongNotFound
	}
	return s.repo.RemoveSong(ctx, guild, user, strings.TrimSpace(name), index)
}
