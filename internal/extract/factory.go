package extract

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sonroyaalmerol/tunebot/internal/config"
	"github.com/sonroyaalmerol/tunebot/internal/retry"
)

// New builds the Strategy selected by cfg.Backend, wrapped with the configured
// search fallbacks.
func New(cfg config.ExtractionConfig, logger *slog.Logger, observer AttemptObserver) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.Retries
	if cfg.InitialBackoff > 0 {
		rc.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		rc.MaxBackoff = cfg.MaxBackoff
	}

	var primary Strategy
	switch cfg.Backend {
	case "piped", "":
		p, err := NewPiped(PipedOptions{
			Instances:         cfg.Instances,
			Client:            &http.Client{},
			Retry:             rc,
			AttemptTimeout:    cfg.AttemptTimeout,
			InstanceAttempts:  cfg.InstanceAttempts,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Observer:          observer,
			Logger:            logger.With("backend", "piped"),
		})
		if err != nil {
			return nil, err
		}
		primary = p
	case "ytdlp":
		primary = NewYTDLP(YTDLPOptions{
			Path:     cfg.YtdlpPath,
			Retry:    rc,
			Timeout:  cfg.AttemptTimeout,
			Observer: observer,
			Logger:   logger.With("backend", "ytdlp"),
		})
	default:
		return nil, fmt.Errorf("unknown extraction backend %q", cfg.Backend)
	}

	searchOpts := func(name string) SearchOptions {
		return SearchOptions{
			Retry:          rc,
			AttemptTimeout: cfg.AttemptTimeout,
			Observer:       observer,
			Logger:         logger.With("backend", name),
		}
	}
	var fallbacks []Searcher
	for _, name := range cfg.SearchFallbacks {
		switch name {
		case "ytsearch":
			fallbacks = append(fallbacks, NewYTSearch(searchOpts(name)))
		case "ytmusic":
			fallbacks = append(fallbacks, NewYTMusic(searchOpts(name)))
		default:
			return nil, fmt.Errorf("unknown search fallback %q", name)
		}
	}
	return WithFallbackSearch(primary, logger, fallbacks...), nil
}
