package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func IsVideoID(s string) bool { return videoIDRe.MatchString(s) }

func WatchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

var schemelessHosts = []string{
	"youtu.be/", "youtube.com/", "www.youtube.com/", "m.youtube.com/",
	"music.youtube.com/", "youtube-nocookie.com/", "www.youtube-nocookie.com/",
}

// ExtractVideoID returns the video ID of a YouTube watch, short, embed, live
// or youtu.be URL, with or without a scheme. ok is false for anything else,
// including playlist-only links.
func ExtractVideoID(raw string) (id string, ok bool) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	for _, h := range schemelessHosts {
		if strings.HasPrefix(lower, h) {
			raw = "https://" + raw
			break
		}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if rest, found := strings.CutPrefix(u.Path, prefix); found {
				id, _, _ = strings.Cut(rest, "/")
				break
			}
		}
	default:
		return "", false
	}
	if !IsVideoID(id) {
		return "", false
	}
	return id, true
}

// refToID accepts either a bare video ID or a URL.
func refToID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if IsVideoID(ref) {
		return ref, true
	}
	return ExtractVideoID(ref)
}
