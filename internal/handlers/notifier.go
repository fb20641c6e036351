package handlers

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/ui"
)

// messenger is the part of *discordgo.Session the notifier uses.
type messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// channelNotifier posts session notices to the text channel the guild last
// played from. Sends happen off the session goroutine.
type channelNotifier struct {
	log *slog.Logger

	mu       sync.Mutex
	s        messenger
	channels map[string]string
	wg       sync.WaitGroup
}

func newChannelNotifier(logger *slog.Logger) *channelNotifier {
	return &channelNotifier{log: logger, channels: make(map[string]string)}
}

func (n *channelNotifier) attach(s messenger) {
	n.mu.Lock()
	n.s = s
	n.mu.Unlock()
}

// remember records where a guild's notices go.
func (n *channelNotifier) remember(guildID, channelID string) {
	if channelID == "" {
		return
	}
	n.mu.Lock()
	n.channels[guildID] = channelID
	n.mu.Unlock()
}

func (n *channelNotifier) Notify(ev player.Notice) {
	n.mu.Lock()
	s := n.s
	ch := ev.Track.RequestChannel
	if ch == "" {
		ch = n.channels[ev.GuildID]
	}
	n.mu.Unlock()
	if s == nil || ch == "" {
		return
	}

	var embed *discordgo.MessageEmbed
	var text string
	switch ev.Kind {
	case player.NoticeNowPlaying:
		embed = ui.NowPlayingEmbed(ev.Track, player.StatusPlaying)
	default:
		text = noticeText(ev)
		if text == "" {
			return
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer recovered(n.log, "notice")
		var err error
		if embed != nil {
			_, err = s.ChannelMessageSendEmbed(ch, embed)
		} else {
			_, err = s.ChannelMessageSend(ch, text)
		}
		if err != nil {
			n.log.Warn("notice send failed", "guildID", ev.GuildID, "channelID", ch, "err", err)
		}
	}()
}

// wait blocks until queued sends finish.
func (n *channelNotifier) wait() { n.wg.Wait() }
