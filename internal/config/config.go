package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

var DefaultInstances = []string{
	"https://pipedapi.kavin.rocks",
	"https://pipedapi.tokhmi.xyz",
	"https://pipedapi.moomoo.me",
	"https://pipedapi.syncpundit.io",
	"https://api-piped.mha.fi",
	"https://pipedapi.rivo.lol",
	"https://pipedapi.leptons.xyz",
	"https://piped-api.lunar.icu",
	"https://pipedapi.colinslegacy.com",
	"https://yapi.vyper.me",
	"https://api.looleh.xyz",
	"https://pipedapi-libre.kavin.rocks",
	"https://pa.mint.lgbt",
	"https://pa.il.ax",
	"https://pipedapi.qdi.fi",
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// Default returns the configuration used when neither the config file nor the
// environment set a value.
func Default() *Config {
	return &Config{
		DataDir:     "./data",
		BotStatus:   "online",
		BotActivity: "music",
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Extraction: ExtractionConfig{
			Backend:           "piped",
			Instances:         slices.Clone(DefaultInstances),
			YtdlpPath:         "yt-dlp",
			SearchFallbacks:   []string{"ytsearch"},
			RequestsPerSecond: 2,
			Retries:           2,
			InitialBackoff:    time.Second,
			MaxBackoff:        5 * time.Second,
			AttemptTimeout:    15 * time.Second,
			InstanceAttempts:  3,
		},
		Resolver: ResolverConfig{
			MaxCandidates: 10,
			Timeout:       30 * time.Second,
			CacheTTL:      time.Hour,
		},
		Session: SessionConfig{
			ConnectTimeout: 30 * time.Second,
			ReconnectWait:  5 * time.Second,
			IdleTimeout:    5 * time.Minute,
			VacatedGrace:   5 * time.Minute,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			Bitrate:    96000,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional TOML file and
// the environment, in that order of precedence (environment wins). A .env file
// in the working directory is loaded first if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)

	path := getenv("CONFIG_FILE", filepath.Join(cfg.DataDir, "tunebot.toml"))
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DiscordToken = getenv("DISCORD_TOKEN", c.DiscordToken)
	c.SpotifyClientID = getenv("SPOTIFY_CLIENT_ID", c.SpotifyClientID)
	c.SpotifyClientSecret = getenv("SPOTIFY_CLIENT_SECRET", c.SpotifyClientSecret)
	c.BotStatus = getenv("BOT_STATUS", c.BotStatus)
	c.BotActivity = getenv("BOT_ACTIVITY", c.BotActivity)
	envBool("REGISTER_COMMANDS_ON_BOT", &c.RegisterCommandsOnBot)

	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	if getenv("DEBUG", "false") == "true" {
		c.Log.Level = "debug"
	}
	c.Log.Format = getenv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getenv("LOG_FILE", c.Log.File)

	e := &c.Extraction
	e.Backend = getenv("EXTRACTOR_BACKEND", e.Backend)
	envList("PIPED_INSTANCES", &e.Instances)
	e.YtdlpPath = getenv("YTDLP_PATH", e.YtdlpPath)
	envList("SEARCH_FALLBACKS", &e.SearchFallbacks)
	envFloat("EXTRACTOR_RPS", &e.RequestsPerSecond)
	envInt("EXTRACTOR_RETRIES", &e.Retries)
	envDuration("EXTRACTOR_ATTEMPT_TIMEOUT", &e.AttemptTimeout)
	envInt("EXTRACTOR_INSTANCE_ATTEMPTS", &e.InstanceAttempts)

	envInt("MAX_CANDIDATES", &c.Resolver.MaxCandidates)
	envDuration("RESOLVE_TIMEOUT", &c.Resolver.Timeout)
	envBool("URL_FALLBACK_TO_SEARCH", &c.Resolver.FallbackToSearch)
	envDuration("RESOLVE_CACHE_TTL", &c.Resolver.CacheTTL)

	envDuration("VOICE_CONNECT_TIMEOUT", &c.Session.ConnectTimeout)
	envDuration("VOICE_RECONNECT_WAIT", &c.Session.ReconnectWait)
	envDuration("IDLE_TIMEOUT", &c.Session.IdleTimeout)
	envDuration("VACATED_GRACE", &c.Session.VacatedGrace)

	c.Audio.FFmpegPath = getenv("FFMPEG_PATH", c.Audio.FFmpegPath)
	if v := os.Getenv("OPUS_BITRATE"); v != "" {
		if b, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Audio.Bitrate = b
		}
	}
}

// Validate rejects values that would make the bot misbehave rather than fail.
func (c *Config) Validate() error {
	switch c.Extraction.Backend {
	case "piped":
		if len(c.Extraction.Instances) == 0 {
			return ErrConfig("piped backend needs at least one instance")
		}
	case "ytdlp":
		if c.Extraction.YtdlpPath == "" {
			return ErrConfig("ytdlp backend needs ytdlp_path")
		}
	default:
		return ErrConfig(fmt.Sprintf("unknown extraction backend %q", c.Extraction.Backend))
	}
	for _, f := range c.Extraction.SearchFallbacks {
		if f != "ytsearch" && f != "ytmusic" {
			return ErrConfig(fmt.Sprintf("unknown search fallback %q", f))
		}
	}
	if c.Extraction.Retries < 0 {
		return ErrConfig("retries must be >= 0")
	}
	if c.Extraction.InstanceAttempts < 1 {
		return ErrConfig("instance_attempts must be >= 1")
	}
	if c.Extraction.AttemptTimeout <= 0 {
		return ErrConfig("attempt_timeout must be positive")
	}
	if c.Resolver.MaxCandidates < 1 {
		return ErrConfig("max_candidates must be >= 1")
	}
	if c.Resolver.Timeout <= 0 {
		return ErrConfig("resolver timeout must be positive")
	}
	if c.Session.ConnectTimeout <= 0 || c.Session.ReconnectWait <= 0 {
		return ErrConfig("voice timeouts must be positive")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.VacatedGrace <= 0 {
		return ErrConfig("idle timeouts must be positive")
	}
	if c.Audio.Bitrate < 6000 || c.Audio.Bitrate > 510000 {
		return ErrConfig("opus bitrate must be between 6000 and 510000")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrConfig(fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
