// Package autocomplete feeds Discord's option autocomplete with search
// suggestions from YouTube and, when configured, Spotify tracks.
package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/cache"
	"github.com/sonroyaalmerol/tunebot/internal/spotify"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

const (
	defaultEndpoint = "https://suggestqueries.google.com/complete/search"
	// Discord rejects more than 25 choices and names or values over 100 runes.
	maxChoices = 25
	maxLen     = 100
)

// TrackSearcher is the Spotify search the suggester uses.
type TrackSearcher interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]spotify.SearchResult, error)
}

type Options struct {
	HTTPClient *http.Client
	// Endpoint overrides the YouTube suggestion URL.
	Endpoint string
	Tracks   TrackSearcher
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type Suggester struct {
	http     *http.Client
	endpoint string
	tracks   TrackSearcher
	cache    *cache.Cache[[]*discordgo.ApplicationCommandOptionChoice]
	log      *slog.Logger
}

func New(opts Options) *Suggester {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Suggester{
		http:     opts.HTTPClient,
		endpoint: opts.Endpoint,
		tracks:   opts.Tracks,
		cache:    cache.New[[]*discordgo.ApplicationCommandOptionChoice](opts.CacheTTL, 512),
		log:      opts.Logger,
	}
}

// Suggest returns up to limit choices for query. Failures of either source
// are logged and leave that source out; an empty query yields no choices.
func (s *Suggester) Suggest(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if limit <= 0 || limit > maxChoices {
		limit = 10
	}
	key := fmt.Sprintf("%d:%s", limit, strings.ToLower(query))
	if out, ok := s.cache.Get(key); ok {
		return out
	}

	yt, err := s.YouTube(ctx, query)
	if err != nil {
		s.log.Debug("youtube suggestions failed", "query", query, "err", err)
	}

	var tracks []spotify.SearchResult
	if s.tracks != nil {
		tracks, err = s.tracks.SearchTracks(ctx, query, limit/2)
		if err != nil {
			s.log.Debug("spotify suggestions failed", "query", query, "err", err)
			tracks = nil
		}
	}

	// spotify hits take the tail so YouTube never crowds them out
	ytRoom := max(limit-len(tracks), 0)
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for _, v := range yt[:min(len(yt), ytRoom)] {
		out = append(out, choice("YouTube: "+v, v))
	}
	for _, t := range tracks {
		if len(out) >= limit {
			break
		}
		name := "Spotify: 🎵 " + t.Name
		if t.Artist != "" {
			name += " - " + t.Artist
		}
		out = append(out, choice(name, "spotify:track:"+t.ID.String()))
	}

	s.cache.Set(key, out)
	return out
}

// YouTube queries the suggestion endpoint. The response is a JSON array whose
// second element lists the suggested phrases.
func (s *Suggester) YouTube(ctx context.Context, query string) ([]string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", utils.RandomUserAgent())
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest: status %d", resp.StatusCode)
	}

	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func choice(name, value string) *discordgo.ApplicationCommandOptionChoice {
	return &discordgo.ApplicationCommandOptionChoice{
		Name:  utils.Truncate(name, maxLen),
		Value: utils.Truncate(value, maxLen),
	}
}
