package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrNotTrackLink = errors.New("not a spotify track link")

type Track struct {
	Name   string
	Artist string
}

// Query is the free-text search a track link is rewritten to.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Name + " " + t.Artist
}

// TrackFetcher is the single Spotify call the expander needs.
type TrackFetcher interface {
	GetTrack(ctx context.Context, id spotify.ID) (Track, error)
}

type Client struct {
	raw *spotify.Client
}

func NewClientCredentials(clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &Client{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist}, nil
}

// SearchResult is a track hit with the ID needed to link back to it.
type SearchResult struct {
	ID spotify.ID
	Track
}

func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	if res.Tracks == nil {
		return nil, nil
	}
	out := make([]SearchResult, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		artist := ""
		if len(t.Artists) > 0 {
			artist = t.Artists[0].Name
		}
		out = append(out, SearchResult{ID: t.ID, Track: Track{Name: t.Name, Artist: artist}})
	}
	return out, nil
}

// ParseID accepts spotify:<type>:<id> URIs and open.spotify.com links,
// including the /intl-xx/ locale prefix.
func ParseID(raw string) (typ string, id spotify.ID, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[2] != "" {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", fmt.Errorf("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type")
}

// Expander rewrites Spotify track links into a search query so the resolver
// can find the same song on YouTube. It satisfies player.LinkExpander.
type Expander struct {
	tracks TrackFetcher
}

func NewExpander(tracks TrackFetcher) *Expander { return &Expander{tracks: tracks} }

func (e *Expander) Match(query string) bool {
	typ, _, err := ParseID(query)
	return err == nil && typ == "track"
}

func (e *Expander) Expand(ctx context.Context, query string) (string, error) {
	typ, id, err := ParseID(query)
	if err != nil {
		return "", err
	}
	if typ != "track" {
		return "", fmt.Errorf("%w: %s", ErrNotTrackLink, typ)
	}
	t, err := e.tracks.GetTrack(ctx, id)
	if err != nil {
		return "", fmt.Errorf("spotify track %s: %w", id, err)
	}
	return t.Query(), nil
}
