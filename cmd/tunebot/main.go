package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonroyaalmerol/tunebot/internal/autocomplete"
	"github.com/sonroyaalmerol/tunebot/internal/config"
	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/handlers"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/spotify"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger, logCloser := utils.NewLogger(utils.LogOptions{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	err = run(cfg, logger)
	if err != nil {
		logger.Error("exiting", "err", err)
	}
	logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	strategy, err := extract.New(cfg.Extraction, logger, nil)
	if err != nil {
		return fmt.Errorf("extraction backend: %w", err)
	}

	var expanders []player.LinkExpander
	suggestOpts := autocomplete.Options{Logger: logger.With("component", "autocomplete")}
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		sp := spotify.NewClientCredentials(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		expanders = append(expanders, spotify.NewExpander(sp))
		suggestOpts.Tracks = sp
		logger.Info("spotify links enabled")
	}
	resolver := player.NewResolver(strategy, player.ResolverOptions{
		MaxCandidates:    cfg.Resolver.MaxCandidates,
		Timeout:          cfg.Resolver.Timeout,
		FallbackToSearch: cfg.Resolver.FallbackToSearch,
		CacheTTL:         cfg.Resolver.CacheTTL,
		Expanders:        expanders,
		Logger:           logger.With("component", "resolver"),
	})

	bot, err := handlers.NewBot(cfg, handlers.Deps{
		Repo:      repo,
		Resolver:  resolver,
		Suggester: autocomplete.New(suggestOpts),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting", "backend", cfg.Extraction.Backend, "dataDir", cfg.DataDir)
	if err := bot.Run(ctx); err != nil {
		return fmt.Errorf("bot stopped: %w", err)
	}
	return nil
}
