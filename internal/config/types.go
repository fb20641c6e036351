package config

import "time"

type Config struct {
	DiscordToken          string
	SpotifyClientID       string
	SpotifyClientSecret   string
	DataDir               string
	BotStatus             string // online/dnd/idle
	BotActivity           string
	RegisterCommandsOnBot bool

	Log        LogConfig        `toml:"log"`
	Extraction ExtractionConfig `toml:"extraction"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Session    SessionConfig    `toml:"session"`
	Audio      AudioConfig      `toml:"audio"`
}

type LogConfig struct {
	Level      string `toml:"level"`  // debug/info/warn/error
	Format     string `toml:"format"` // text/json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ExtractionConfig selects and tunes the extraction backend.
type ExtractionConfig struct {
	// Backend is "piped" or "ytdlp".
	Backend string `toml:"backend"`
	// Instances is the static Piped API endpoint list, tried round-robin.
	Instances []string `toml:"instances"`
	YtdlpPath string   `toml:"ytdlp_path"`
	// SearchFallbacks are search-only backends ("ytsearch", "ytmusic") consulted
	// in order when the primary backend finds nothing.
	SearchFallbacks []string `toml:"search_fallbacks"`

	RequestsPerSecond float64       `toml:"requests_per_second"`
	Retries           int           `toml:"retries"`
	InitialBackoff    time.Duration `toml:"initial_backoff"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
	AttemptTimeout    time.Duration `toml:"attempt_timeout"`
	InstanceAttempts  int           `toml:"instance_attempts"`
}

type ResolverConfig struct {
	MaxCandidates    int           `toml:"max_candidates"`
	Timeout          time.Duration `toml:"timeout"`
	FallbackToSearch bool          `toml:"url_fallback_to_search"`
	CacheTTL         time.Duration `toml:"cache_ttl"`
}

type SessionConfig struct {
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	ReconnectWait  time.Duration `toml:"reconnect_wait"`
	IdleTimeout    time.Duration `toml:"idle_timeout"`
	VacatedGrace   time.Duration `toml:"vacated_grace"`
}

type AudioConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
	// Bitrate of the Opus stream sent to Discord, in bits per second.
	Bitrate int64 `toml:"bitrate"`
}
