package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	plib "github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/ui"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

type subOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(sub *discordgo.ApplicationCommandInteractionDataOption) subOptions {
	m := make(subOptions, len(sub.Options))
	for _, o := range sub.Options {
		m[o.Name] = o
	}
	return m
}

func (o subOptions) str(name string) string {
	if v, ok := o[name]; ok {
		return v.StringValue()
	}
	return ""
}

func (o subOptions) integer(name string) int {
	if v, ok := o[name]; ok {
		return int(v.IntValue())
	}
	return 0
}

func (h *CommandHandler) cmdPlaylist(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	opts := optionsOf(sub)
	ctx := context.Background()
	guildID, userID := i.GuildID, userIDOf(i)
	name := opts.str("name")
	log := h.log.With("guildID", guildID, "userID", userID, "playlist", name)

	fail := func(err error) {
		log.Debug("playlist command failed", "sub", sub.Name, "err", err)
		h.reply(s, i, userMessage(err), true)
	}

	switch sub.Name {
	case "create":
		p, err := h.playlists.Create(ctx, guildID, userID, name)
		if err != nil {
			fail(err)
			return
		}
		log.Info("playlist created")
		h.reply(s, i, fmt.Sprintf("👍 created playlist **%s**", utils.EscapeMd(p.Name)), false)

	case "delete":
		if err := h.playlists.Delete(ctx, guildID, userID, name); err != nil {
			fail(err)
			return
		}
		log.Info("playlist deleted")
		h.reply(s, i, "🗑️ playlist deleted", false)

	case "rename":
		to := opts.str("new-name")
		if err := h.playlists.Rename(ctx, guildID, userID, name, to); err != nil {
			fail(err)
			return
		}
		log.Info("playlist renamed", "to", to)
		h.reply(s, i, "👍 playlist renamed", false)

	case "add":
		h.playlistAdd(s, i, name, opts.str("query"))

	case "remove":
		song, err := h.playlists.RemoveSong(ctx, guildID, userID, name, opts.integer("position"))
		if err != nil {
			fail(err)
			return
		}
		log.Info("playlist song removed", "title", song.Title)
		h.reply(s, i, fmt.Sprintf(":wastebasket: removed **%s**", utils.EscapeMd(song.Title)), false)

	case "show":
		p, err := h.playlists.Get(ctx, guildID, userID, name)
		if err != nil {
			fail(err)
			return
		}
		h.replyEmbed(s, i, ui.PlaylistEmbed(p), false)

	case "list":
		items, err := h.playlists.List(ctx, guildID, userID)
		if err != nil {
			log.Warn("playlist list failed", "err", err)
			h.reply(s, i, "failed to list playlists", true)
			return
		}
		h.reply(s, i, ui.PlaylistList(items), true)

	case "play":
		h.playlistPlay(s, i, name)
	}
}

// playlistAdd resolves the query first so only playable songs are saved.
func (h *CommandHandler) playlistAdd(s *discordgo.Session, i *discordgo.InteractionCreate, name, query string) {
	ctx := context.Background()
	guildID, userID := i.GuildID, userIDOf(i)
	// fail fast before spending a resolution on a missing playlist
	if _, err := h.playlists.Get(ctx, guildID, userID, name); err != nil {
		h.reply(s, i, userMessage(err), true)
		return
	}
	set := h.settings(ctx, guildID)

	h.deferReply(s, i)
	t, err := h.svc.Resolve(ctx, query, set.MaxCandidates)
	if err != nil {
		h.log.Info("playlist add: resolve failed", "guildID", guildID, "query", query, "err", err)
		h.editReply(s, i, userMessage(err))
		return
	}
	pos, err := h.playlists.AddSong(ctx, guildID, userID, name, repository.Song{
		Title:           t.Title,
		URL:             t.SourceURL,
		DurationSeconds: t.DurationSeconds,
		Thumbnail:       t.Thumbnail,
	})
	if err != nil {
		h.editReply(s, i, userMessage(err))
		return
	}
	h.log.Info("playlist song added", "guildID", guildID, "playlist", name, "title", t.Title, "position", pos)
	h.editReply(s, i, fmt.Sprintf("👍 added **%s** to **%s** at position %d", utils.EscapeMd(t.Title), utils.EscapeMd(name), pos))
}

// playlistPlay queues the songs in order. A song that no longer resolves is
// skipped; a connection or input failure ends the run.
func (h *CommandHandler) playlistPlay(s *discordgo.Session, i *discordgo.InteractionCreate, name string) {
	ctx := context.Background()
	p, err := h.playlists.Get(ctx, i.GuildID, userIDOf(i), name)
	if err != nil {
		h.reply(s, i, userMessage(err), true)
		return
	}
	if len(p.Songs) == 0 {
		h.reply(s, i, "this playlist is empty", true)
		return
	}
	gc, ok := h.requester(s, i)
	if !ok {
		return
	}

	h.deferReply(s, i)
	h.notifier.remember(i.GuildID, i.ChannelID)

	urls := make([]string, len(p.Songs))
	for idx, song := range p.Songs {
		urls[idx] = song.URL
	}
	queued, skipped, err := queueAll(ctx, h.svc, gc, urls, plib.PlayOptions{
		RequestedBy:    userIDOf(i),
		RequestChannel: i.ChannelID,
	})
	if err != nil && queued == 0 {
		h.editReply(s, i, userMessage(err))
		return
	}
	h.log.Info("playlist queued", "guildID", i.GuildID, "playlist", p.Name, "queued", queued, "skipped", skipped)

	msg := fmt.Sprintf("queued %d songs from **%s**", queued, utils.EscapeMd(p.Name))
	if skipped > 0 {
		msg += fmt.Sprintf(" (%d couldn't be played)", skipped)
	}
	h.editReply(s, i, msg)
}

// queuer is the part of plib.Service playlist playback needs.
type queuer interface {
	Play(ctx context.Context, gc plib.GuildContext, query string, opts plib.PlayOptions) (plib.PlayResult, error)
}

func queueAll(ctx context.Context, q queuer, gc plib.GuildContext, queries []string, opts plib.PlayOptions) (queued, skipped int, err error) {
	for _, query := range queries {
		_, err := q.Play(ctx, gc, query, opts)
		switch {
		case err == nil:
			queued++
		case plib.ClassOf(err) == plib.ClassResolution, errors.Is(err, plib.ErrEmptyQuery):
			skipped++
		default:
			return queued, len(queries) - queued, err
		}
	}
	return queued, skipped, nil
}
