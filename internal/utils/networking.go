package utils

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
)

func RandomUserAgent() string {
	// Target Chrome major versions roughly within last ~6 months
	const minMajor = 132
	const maxMajor = 138

	major := rand.IntN(maxMajor-minMajor+1) + minMajor
	return fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
		major,
	)
}

// BrowserHeaders returns the request headers sent to extraction backends and
// media hosts.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", RandomUserAgent())
	h.Set("Accept", "audio/*,*/*;q=0.9")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// BuildFFmpegHeaders renders headers for ffmpeg's -headers option: sorted
// "Key: Value\r\n" lines, with browser defaults filled in for missing keys.
func BuildFFmpegHeaders(base http.Header) string {
	h := base.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, v := range map[string]string{
		"User-Agent":      RandomUserAgent(),
		"Referer":         "https://www.youtube.com/",
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Origin":          "https://www.youtube.com",
		"Connection":      "keep-alive",
	} {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		// FFmpeg wants CRLF separators
		fmt.Fprintf(&b, "%s: %s\r\n", k, strings.TrimSpace(h.Get(k)))
	}
	return b.String()
}
