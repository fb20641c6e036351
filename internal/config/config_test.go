package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	t.Setenv("DISCORD_TOKEN", "token")
	for _, k := range []string{"MAX_CANDIDATES", "EXTRACTOR_BACKEND", "PIPED_INSTANCES", "DEBUG", "LOG_LEVEL", "RESOLVE_TIMEOUT"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Resolver.MaxCandidates != 10 {
		t.Errorf("MaxCandidates = %d, want 10", cfg.Resolver.MaxCandidates)
	}
	if cfg.Resolver.Timeout != 30*time.Second {
		t.Errorf("Resolver.Timeout = %v, want 30s", cfg.Resolver.Timeout)
	}
	if cfg.Resolver.FallbackToSearch {
		t.Error("FallbackToSearch should default to false")
	}
	if cfg.Session.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.Session.IdleTimeout)
	}
	if cfg.Extraction.Backend != "piped" || len(cfg.Extraction.Instances) != len(DefaultInstances) {
		t.Errorf("unexpected extraction defaults: %+v", cfg.Extraction)
	}
}

func TestLoadConfig_MissingToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DISCORD_TOKEN", "")

	_, err := LoadConfig()
	var cerr ErrConfig
	if !errors.As(err, &cerr) {
		t.Fatalf("LoadConfig() error = %v, want ErrConfig", err)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := setBaseEnv(t)
	path := filepath.Join(dir, "tunebot.toml")
	body := `
[extraction]
backend = "ytdlp"
ytdlp_path = "/usr/local/bin/yt-dlp"
search_fallbacks = ["ytmusic", "ytsearch"]

[resolver]
max_candidates = 4
timeout = "12s"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_CANDIDATES", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Extraction.Backend != "ytdlp" || cfg.Extraction.YtdlpPath != "/usr/local/bin/yt-dlp" {
		t.Errorf("file values not applied: %+v", cfg.Extraction)
	}
	if len(cfg.Extraction.SearchFallbacks) != 2 || cfg.Extraction.SearchFallbacks[0] != "ytmusic" {
		t.Errorf("SearchFallbacks = %v", cfg.Extraction.SearchFallbacks)
	}
	if cfg.Resolver.Timeout != 12*time.Second {
		t.Errorf("Resolver.Timeout = %v, want 12s", cfg.Resolver.Timeout)
	}
	if cfg.Resolver.MaxCandidates != 7 {
		t.Errorf("MaxCandidates = %d, want env override 7", cfg.Resolver.MaxCandidates)
	}
}

func TestLoadConfig_DebugForcesLevel(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Extraction.Backend = "invidious" }, true},
		{"no instances", func(c *Config) { c.Extraction.Instances = nil }, true},
		{"ytdlp without instances", func(c *Config) {
			c.Extraction.Backend = "ytdlp"
			c.Extraction.Instances = nil
		}, false},
		{"unknown fallback", func(c *Config) { c.Extraction.SearchFallbacks = []string{"bing"} }, true},
		{"zero candidates", func(c *Config) { c.Resolver.MaxCandidates = 0 }, true},
		{"negative retries", func(c *Config) { c.Extraction.Retries = -1 }, true},
		{"zero idle", func(c *Config) { c.Session.IdleTimeout = 0 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"bitrate too high", func(c *Config) { c.Audio.Bitrate = 1_000_000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
