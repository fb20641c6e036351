package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db, now: time.Now} }

func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	); err != nil {
		return nil, err
	}
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, max_candidates, leave_if_no_listeners
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var leave int
	if err := row.Scan(&s.GuildID, &s.MaxCandidates, &leave); err != nil {
		return nil, err
	}
	s.LeaveIfNoListeners = leave != 0
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, max_candidates, leave_if_no_listeners) VALUES (?,?,?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  max_candidates=excluded.max_candidates,
		  leave_if_no_listeners=excluded.leave_if_no_listeners`,
		s.GuildID, s.MaxCandidates, boolToInt(s.LeaveIfNoListeners),
	)
	return err
}

func (r *Repo) CreatePlaylist(ctx context.Context, guild, user, name string) (*Playlist, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO playlists(guild_id, user_id, name, created_at, updated_at) VALUES (?,?,?,?,?)`,
		guild, user, name, now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrPlaylistExists, name)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Playlist{
		ID: id, GuildID: guild, UserID: user, Name: name,
		CreatedAt: time.Unix(now.Unix(), 0), UpdatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

// DeletePlaylist removes the playlist and, through the foreign key, its songs.
func (r *Repo) DeletePlaylist(ctx context.Context, guild, user, name string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM playlists WHERE guild_id=? AND user_id=? AND name=?`, guild, user, name)
	if err != nil {
		return err
	}
	return expectOne(res, name)
}

func (r *Repo) RenamePlaylist(ctx context.Context, guild, user, from, to string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE playlists SET name=?, updated_at=? WHERE guild_id=? AND user_id=? AND name=?`,
		to, r.now().Unix(), guild, user, from)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrPlaylistExists, to)
		}
		return err
	}
	return expectOne(res, from)
}

// FindPlaylist loads a playlist with its songs in play order.
func (r *Repo) FindPlaylist(ctx context.Context, guild, user, name string) (*Playlist, error) {
	p, err := r.findHeader(ctx, r.db, guild, user, name)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position, title, url, duration_seconds, thumbnail, added_at
		FROM playlist_songs WHERE playlist_id=? ORDER BY position ASC`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Song
		var added int64
		if err := rows.Scan(&s.ID, &s.Position, &s.Title, &s.URL, &s.DurationSeconds, &s.Thumbnail, &added); err != nil {
			return nil, err
		}
		s.AddedAt = time.Unix(added, 0)
		p.Songs = append(p.Songs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.SongCount = len(p.Songs)
	return p, nil
}

// ListPlaylists returns a user's playlists in the guild by name, with song
// counts but without songs.
func (r *Repo) ListPlaylists(ctx context.Context, guild, user string) ([]Playlist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.guild_id, p.user_id, p.name, p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM playlist_songs s WHERE s.playlist_id = p.id)
		FROM playlists p WHERE p.guild_id=? AND p.user_id=? ORDER BY p.name ASC`, guild, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Playlist
	for rows.Next() {
		var p Playlist
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.GuildID, &p.UserID, &p.Name, &created, &updated, &p.SongCount); err != nil {
			return nil, err
		}
		p.CreatedAt, p.UpdatedAt = time.Unix(created, 0), time.Unix(updated, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddSong appends s to the end of the playlist and returns its 1-based
// position.
func (r *Repo) AddSong(ctx context.Context, guild, user, name string, s Song) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	p, err := r.findHeader(ctx, tx, guild, user, name)
	if err != nil {
		return 0, err
	}
	var pos int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM playlist_songs WHERE playlist_id=?`, p.ID,
	).Scan(&pos); err != nil {
		return 0, err
	}
	now := r.now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playlist_songs(playlist_id, position, title, url, duration_seconds, thumbnail, added_at)
		VALUES (?,?,?,?,?,?,?)`,
		p.ID, pos, s.Title, s.URL, s.DurationSeconds, s.Thumbnail, now,
	); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE playlists SET updated_at=? WHERE id=?`, now, p.ID); err != nil {
		return 0, err
	}
	return pos, tx.Commit()
}

// RemoveSong deletes the song at the 1-based index and closes the gap.
func (r *Repo) RemoveSong(ctx context.Context, guild, user, name string, index int) (*Song, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := r.findHeader(ctx, tx, guild, user, name)
	if err != nil {
		return nil, err
	}
	var s Song
	var added int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, position, title, url, duration_seconds, thumbnail, added_at
		FROM playlist_songs WHERE playlist_id=? AND position=?`, p.ID, index,
	).Scan(&s.ID, &s.Position, &s.Title, &s.URL, &s.DurationSeconds, &s.Thumbnail, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSongNotFound, index)
	}
	if err != nil {
		return nil, err
	}
	s.AddedAt = time.Unix(added, 0)

	if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_songs WHERE id=?`, s.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE playlist_songs SET position = position - 1 WHERE playlist_id=? AND position > ?`,
		p.ID, index,
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE playlists SET updated_at=? WHERE id=?`, r.now().Unix(), p.ID); err != nil {
		return nil, err
	}
	return &s, tx.Commit()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repo) findHeader(ctx context.Context, q queryRower, guild, user, name string) (*Playlist, error) {
	var p Playlist
	var created, updated int64
	err := q.QueryRowContext(ctx, `
		SELECT id, guild_id, user_id, name, created_at, updated_at
		FROM playlists WHERE guild_id=? AND user_id=? AND name=?`, guild, user, name,
	).Scan(&p.ID, &p.GuildID, &p.UserID, &p.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrPlaylistNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, p.UpdatedAt = time.Unix(created, 0), time.Unix(updated, 0)
	return &p, nil
}

func expectOne(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrPlaylistNotFound, name)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
