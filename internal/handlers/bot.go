package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/autocomplete"
	"github.com/sonroyaalmerol/tunebot/internal/config"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/stream"
)

const shutdownTimeout = 10 * time.Second

type Bot struct {
	cfg      *config.Config
	repo     *repository.Repo
	dg       *discordgo.Session
	svc      *player.Service
	voice    *voiceConns
	notifier *channelNotifier
	cmd      *CommandHandler
	log      *slog.Logger
}

// Deps are the long-lived pieces built before the Discord session.
type Deps struct {
	Repo     *repository.Repo
	Resolver *player.Resolver
	// Suggester feeds query autocomplete; nil disables it.
	Suggester *autocomplete.Suggester
	Logger    *slog.Logger
}

// NewBot wires the playback core to a Discord session. Nothing connects
// until Run.
func NewBot(cfg *config.Config, deps Deps) (*Bot, error) {
	repo, logger := deps.Repo, deps.Logger
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	notifier := newChannelNotifier(logger)
	registry := player.NewRegistry(player.SessionOptions{
		ConnectTimeout: cfg.Session.ConnectTimeout,
		ReconnectWait:  cfg.Session.ReconnectWait,
		IdleTimeout:    cfg.Session.IdleTimeout,
		VacatedGrace:   cfg.Session.VacatedGrace,
		Notifier:       notifier,
		Logger:         logger,
	})
	svc := player.NewService(deps.Resolver, registry, logger)
	voice := newVoiceConns(dg, stream.PlayerOptions{
		Decoder: stream.NewDecoder(cfg.Audio.FFmpegPath, logger),
		Bitrate: cfg.Audio.Bitrate,
		Logger:  logger,
	}, logger)

	b := &Bot{
		cfg: cfg, repo: repo, dg: dg, svc: svc, voice: voice, notifier: notifier, log: logger,
	}
	b.cmd = &CommandHandler{
		cfg:       cfg,
		repo:      repo,
		playlists: repository.NewPlaylistService(repo),
		svc:       svc,
		voice:     voice,
		notifier:  notifier,
		log:       logger,
	}
	if deps.Suggester != nil {
		b.cmd.suggest = deps.Suggester
	}
	return b, nil
}

func (b *Bot) Run(ctx context.Context) error {
	dg := b.dg
	b.notifier.attach(dg)

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		defer recovered(b.log, "ready")
		b.log.Info("connected", "user", s.State.User.Username)
		if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
			Status:     b.cfg.BotStatus,
			Activities: []*discordgo.Activity{{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening}},
		}); err != nil {
			b.log.Warn("update status", "err", err)
		}
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				b.log.Error("register global commands", "err", err)
			}
			return
		}
		var wg sync.WaitGroup
		for _, g := range s.State.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				_ = b.cmd.RegisterCommands(s, appID, guildID)
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			b.log.Error("clear global commands", "err", err)
		}
		b.log.Info("registered commands on all guilds")
	})

	// If registering per-guild, register on new guilds too
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		defer recovered(b.log, "guild create")
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		_ = b.cmd.RegisterCommands(s, s.State.User.ID, g.ID)
	})

	dg.AddHandler(b.cmd.HandleInteraction)

	dg.AddHandler(b.onVoiceState)

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info("shutting down", "sessions", b.svc.Registry().Len())

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.svc.Registry().Shutdown(sctx); err != nil {
		b.log.Warn("session shutdown", "err", err)
	}
	b.notifier.wait()
	return nil
}

func (b *Bot) onVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	defer recovered(b.log, "voice state")
	if s.State.User != nil && vs.UserID == s.State.User.ID {
		b.voice.botVoiceState(vs.GuildID, vs.ChannelID)
	}
	b.checkListeners(s, vs.GuildID)
}

// checkListeners tells the guild's session whether anyone is left to
// listen, when the guild wants the bot to leave empty channels.
func (b *Bot) checkListeners(s *discordgo.Session, guildID string) {
	c := b.voice.get(guildID)
	if c == nil {
		return
	}
	leave := true // column default
	set, err := b.repo.GetSettings(context.Background(), guildID)
	switch {
	case err == nil:
		leave = set.LeaveIfNoListeners
	case !errors.Is(err, sql.ErrNoRows):
		b.log.Warn("get settings failed", "guildID", guildID, "err", err)
		leave = false
	}
	if !leave {
		b.svc.Vacated(guildID, false)
		return
	}
	b.svc.Vacated(guildID, getNonBotSize(s, guildID, c.ChannelID()) == 0)
}

// getNonBotSize counts the humans in channelID. A member missing from the
// state cache counts as a listener.
func getNonBotSize(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	self := ""
	if s.State.User != nil {
		self = s.State.User.ID
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == self {
			continue
		}
		m := vs.Member
		if m == nil || m.User == nil {
			m, _ = s.State.Member(guildID, vs.UserID)
		}
		if m == nil || m.User == nil || !m.User.Bot {
			n++
		}
	}
	return n
}
