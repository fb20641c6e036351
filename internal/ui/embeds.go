package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorError   = 0x992222

	// PlaylistPreview is how many songs a playlist embed lists.
	PlaylistPreview = 15
	MaxPageSize     = 30
)

var ErrPageOutOfRange = errors.New("the queue isn't that big")

func link(title, url string) string {
	title = utils.EscapeMd(utils.Truncate(title, 80))
	if url == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, url)
}

func TrackLink(t player.Track) string { return link(t.Title, t.SourceURL) }

func requestedBy(t player.Track) string {
	if t.RequestedBy == "" {
		return ""
	}
	return fmt.Sprintf("\nRequested by: <@%s>", t.RequestedBy)
}

func NowPlayingEmbed(t player.Track, status player.Status) *discordgo.MessageEmbed {
	title, color, button := "Now Playing", colorPlaying, "▶️"
	if status == player.StatusPaused {
		title, color, button = "Paused", colorPaused, "⏸️"
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**%s\n\n%s `[ %s ]`", TrackLink(t), requestedBy(t), button, t.Length()),
		Color:       color,
	}
	if t.Uploader != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Source: " + t.Uploader}
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return embed
}

// QueueEmbed renders one page of the upcoming tracks under the current one.
// page is 1-based.
func QueueEmbed(q player.QueueSnapshot, page, pageSize int) (*discordgo.MessageEmbed, error) {
	cur, ok := q.Current()
	if !ok {
		return nil, player.ErrQueueEmpty
	}
	pageSize = min(max(pageSize, 1), MaxPageSize)
	page = max(page, 1)

	upcoming := q.Upcoming()
	maxPage := max((len(upcoming)+pageSize-1)/pageSize, 1)
	if page > maxPage {
		return nil, ErrPageOutOfRange
	}
	begin := (page - 1) * pageSize
	items := upcoming[begin:min(begin+pageSize, len(upcoming))]

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**%s\n`[ %s ]`\n\n", TrackLink(cur), requestedBy(cur), cur.Length())
	if len(items) > 0 {
		b.WriteString("**Up next:**\n")
		for idx, t := range items {
			fmt.Fprintf(&b, "`%d.` %s `[ %s ]`\n", begin+idx+1, TrackLink(t), t.Length())
		}
	}

	title, color := "Now Playing", colorPlaying
	if q.Status == player.StatusPaused {
		title, color = "Paused", colorPaused
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: b.String(),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: songCount(len(upcoming)), Inline: true},
			{Name: "Total length", Value: totalLength(q), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}
	if cur.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.Thumbnail}
	}
	return embed, nil
}

// PlaylistEmbed lists the first PlaylistPreview songs and the total.
func PlaylistEmbed(p *repository.Playlist) *discordgo.MessageEmbed {
	var b strings.Builder
	total := 0
	unknown := false
	for i, s := range p.Songs {
		if s.DurationSeconds >= 0 {
			total += s.DurationSeconds
		} else {
			unknown = true
		}
		if i < PlaylistPreview {
			fmt.Fprintf(&b, "`%d.` %s `[ %s ]`\n", s.Position, link(s.Title, s.URL), utils.PrettyTime(s.DurationSeconds))
		}
	}
	if len(p.Songs) > PlaylistPreview {
		fmt.Fprintf(&b, "…and %d more\n", len(p.Songs)-PlaylistPreview)
	}
	if len(p.Songs) == 0 {
		b.WriteString("this playlist is empty")
	}
	length := lengthString(total, unknown)
	return &discordgo.MessageEmbed{
		Title:       utils.EscapeMd(p.Name),
		Description: b.String(),
		Color:       colorPlaying,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Songs", Value: songCount(len(p.Songs)), Inline: true},
			{Name: "Total length", Value: length, Inline: true},
		},
	}
}

func PlaylistList(items []repository.Playlist) string {
	if len(items) == 0 {
		return "you don't have any playlists yet"
	}
	var b strings.Builder
	for _, p := range items {
		fmt.Fprintf(&b, "• %s (%s)\n", utils.EscapeMd(p.Name), songCount(p.SongCount))
	}
	return b.String()
}

func ErrorEmbed(title, msg string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: msg, Color: colorError}
}

func songCount(n int) string {
	switch n {
	case 0:
		return "-"
	case 1:
		return "1 song"
	}
	return fmt.Sprintf("%d songs", n)
}

func totalLength(q player.QueueSnapshot) string {
	return lengthString(q.TotalSeconds())
}

func lengthString(sec int, unknown bool) string {
	switch {
	case sec <= 0 && unknown:
		return "unknown"
	case sec <= 0:
		return "-"
	case unknown:
		return utils.PrettyTime(sec) + "+"
	}
	return utils.PrettyTime(sec)
}
