package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/config"
	"github.com/sonroyaalmerol/tunebot/internal/extract"
	plib "github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/ui"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

const maxCandidatesLimit = 25

type CommandHandler struct {
	cfg       *config.Config
	repo      *repository.Repo
	playlists *repository.PlaylistService
	svc       *plib.Service
	voice     *voiceConns
	notifier  *channelNotifier
	suggest   suggester
	log       *slog.Logger
}

func stringOpt(name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Name: name, Description: desc, Type: discordgo.ApplicationCommandOptionString, Required: required}
}

func intOpt(name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Name: name, Description: desc, Type: discordgo.ApplicationCommandOptionInteger, Required: required}
}

func queryOpt() *discordgo.ApplicationCommandOption {
	o := stringOpt("query", "query or URL", true)
	o.Autocomplete = true
	return o
}

func subCmd(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: desc, Options: opts}
}

func commands() []*discordgo.ApplicationCommand {
	newName := stringOpt("name", "playlist name", true)
	playlistName := stringOpt("name", "playlist name", true)
	playlistName.Autocomplete = true
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song (YouTube URL, Spotify track link, or search)",
			Options:     []*discordgo.ApplicationCommandOption{queryOpt()},
		},
		{Name: "pause", Description: "pause the current song"},
		{Name: "resume", Description: "resume playback"},
		{Name: "skip", Description: "skip to the next song"},
		{Name: "stop", Description: "Stop playback, clear the queue and leave"},
		{
			Name:        "queue",
			Description: "show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				intOpt("page", "page of queue to show [default: 1]", false),
				intOpt("page-size", "how many items per page [default: 10, max: 30]", false),
			},
		},
		{
			Name:        "playlist",
			Description: "Manage your playlists",
			Options: []*discordgo.ApplicationCommandOption{
				subCmd("create", "create a playlist", newName),
				subCmd("delete", "delete a playlist", playlistName),
				subCmd("rename", "rename a playlist", playlistName, stringOpt("new-name", "new name", true)),
				subCmd("add", "add a song to a playlist", playlistName, queryOpt()),
				subCmd("remove", "remove a song from a playlist", playlistName, intOpt("position", "position of the song", true)),
				subCmd("show", "show the songs in a playlist", playlistName),
				subCmd("list", "list your playlists"),
				subCmd("play", "queue every song in a playlist", playlistName),
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				subCmd("get", "show settings"),
				subCmd("set-max-candidates", "search results to try before giving up",
					intOpt("value", fmt.Sprintf("1-%d, 0 for the default", maxCandidatesLimit), true)),
				subCmd("set-leave-if-no-listeners", "leave when no listeners",
					&discordgo.ApplicationCommandOption{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true}),
			},
		},
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	cmds := commands()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		h.log.Error("failed to register application commands", "guildID", guildID, "err", err)
		return err
	}
	h.log.Info("finished registering commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

// recovered logs a panic from a gateway handler. discordgo runs handlers on
// their own goroutines, so an unrecovered panic ends the process.
func recovered(log *slog.Logger, handler string) {
	if r := recover(); r != nil {
		log.Error("handler panic recovered", "handler", handler, "panic", r, "stack", string(debug.Stack()))
	}
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer recovered(h.log, "interaction")
	if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
		h.autocomplete(s, i)
		return
	}
	if i.Type != discordgo.InteractionApplicationCommand {
		h.log.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
		return
	}
	if i.GuildID == "" {
		h.reply(s, i, "commands only work in a server", true)
		return
	}
	data := i.ApplicationCommandData()
	h.log.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", data.Name)
	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "pause":
		h.simple(s, i, h.svc.Pause, "the stop-and-go light is now red")
	case "resume":
		h.simple(s, i, h.svc.Resume, "the stop-and-go light is now green")
	case "skip":
		h.simple(s, i, h.svc.Skip, "skipped")
	case "stop":
		h.simple(s, i, h.svc.Stop, "u betcha, stopped")
	case "queue":
		h.cmdQueue(s, i)
	case "playlist":
		h.cmdPlaylist(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		h.log.Debug("unknown command", "name", data.Name, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	}); err != nil {
		h.log.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}, Flags: flags},
	}); err != nil {
		h.log.Warn("embed reply failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		h.log.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		h.log.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// canJoin reports whether the bot may connect and speak in channelID. An
// unknown answer counts as yes; the join itself will fail if not.
func canJoin(s *discordgo.Session, channelID string) bool {
	if s.State.User == nil {
		return true
	}
	perms, err := s.State.UserChannelPermissions(s.State.User.ID, channelID)
	if err != nil {
		return true
	}
	need := int64(discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak)
	return perms&need == need
}

func (h *CommandHandler) settings(ctx context.Context, guildID string) *repository.Settings {
	set, err := h.repo.UpsertSettings(ctx, guildID)
	if err != nil {
		h.log.Warn("upsert settings failed", "guildID", guildID, "err", err)
		return &repository.Settings{GuildID: guildID, LeaveIfNoListeners: true}
	}
	return set
}

// requester resolves the member's voice channel, replying and returning
// false when the request can't go ahead.
func (h *CommandHandler) requester(s *discordgo.Session, i *discordgo.InteractionCreate) (*guildContext, bool) {
	chID, ok := userInVoice(s, i.GuildID, userIDOf(i))
	if !ok {
		h.reply(s, i, userMessage(plib.ErrNoVoiceChannel), true)
		return nil, false
	}
	if !canJoin(s, chID) {
		h.reply(s, i, "I don't have permission to join and speak in your channel", true)
		return nil, false
	}
	return &guildContext{guildID: i.GuildID, channelID: chID, voice: h.voice}, true
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "query" {
			query = o.StringValue()
		}
	}
	h.log.Info("cmd play", "guildID", i.GuildID, "userID", userIDOf(i), "query", query)

	gc, ok := h.requester(s, i)
	if !ok {
		return
	}
	ctx := context.Background()
	set := h.settings(ctx, i.GuildID)

	h.deferReply(s, i)
	h.notifier.remember(i.GuildID, i.ChannelID)

	res, err := h.svc.Play(ctx, gc, query, plib.PlayOptions{
		RequestedBy:    userIDOf(i),
		RequestChannel: i.ChannelID,
		MaxCandidates:  set.MaxCandidates,
		Progress: func(index int, c extract.CandidateRef) {
			if index > 0 {
				h.editReply(s, i, "🔍 Trying: "+utils.EscapeMd(c.Title))
			}
		},
	})
	if err != nil {
		h.log.Info("play failed", "guildID", i.GuildID, "query", query, "class", plib.ClassOf(err), "err", err)
		h.editReply(s, i, userMessage(err))
		return
	}
	h.editReply(s, i, addedMessage(res))
}

func addedMessage(res plib.PlayResult) string {
	title := "**" + utils.EscapeMd(res.Track.Title) + "**"
	if res.Position == 0 {
		return fmt.Sprintf("%s `[ %s ]` is up next", title, res.Track.Length())
	}
	return fmt.Sprintf("%s `[ %s ]` added to the queue at position %d", title, res.Track.Length(), res.Position)
}

func (h *CommandHandler) simple(s *discordgo.Session, i *discordgo.InteractionCreate, op func(guildID string) error, ok string) {
	name := i.ApplicationCommandData().Name
	if err := op(i.GuildID); err != nil {
		h.log.Debug("cmd failed", "command", name, "guildID", i.GuildID, "err", err)
		h.reply(s, i, userMessage(err), true)
		return
	}
	h.log.Info("cmd "+name, "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, ok, false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	page, pageSize := 1, 10
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "page":
			page = int(o.IntValue())
		case "page-size":
			pageSize = int(o.IntValue())
		}
	}
	q, err := h.svc.Queue(i.GuildID)
	if err != nil {
		h.reply(s, i, userMessage(err), true)
		return
	}
	embed, err := ui.QueueEmbed(q, page, pageSize)
	if err != nil {
		h.reply(s, i, userMessage(err), true)
		return
	}
	h.log.Debug("cmd queue", "guildID", i.GuildID, "page", page, "pageSize", pageSize)
	h.replyEmbed(s, i, embed, true)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	set := h.settings(ctx, i.GuildID)
	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "get":
		maxCand := "default"
		if set.MaxCandidates > 0 {
			maxCand = fmt.Sprint(set.MaxCandidates)
		}
		h.reply(s, i, fmt.Sprintf("Config\n- Max candidates: %s\n- Leave if no listeners: %t", maxCand, set.LeaveIfNoListeners), false)
		return
	case "set-max-candidates":
		v := int(sub.Options[0].IntValue())
		if v < 0 || v > maxCandidatesLimit {
			h.reply(s, i, fmt.Sprintf("value must be between 0 and %d", maxCandidatesLimit), true)
			return
		}
		set.MaxCandidates = v
	case "set-leave-if-no-listeners":
		set.LeaveIfNoListeners = sub.Options[0].BoolValue()
		if !set.LeaveIfNoListeners {
			h.svc.Vacated(i.GuildID, false)
		}
	default:
		return
	}
	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		h.log.Error("update settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to save config", true)
		return
	}
	h.log.Info("config updated", "guildID", i.GuildID, "key", sub.Name)
	h.reply(s, i, "👍 config updated", false)
}

func userIDOf(i *discordgo.InteractionCreate) string {
	switch {
	case i == nil:
		return ""
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
