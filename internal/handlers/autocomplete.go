package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/repository"
)

// Discord drops autocomplete responses after three seconds.
const autocompleteTimeout = 2500 * time.Millisecond

type suggester interface {
	Suggest(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice
}

// focusedOption finds the option the user is typing in, looking one level
// into subcommands.
func focusedOption(opts []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Focused {
			return o
		}
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			if f := focusedOption(o.Options); f != nil {
				return f
			}
		}
	}
	return nil
}

func (h *CommandHandler) autocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	focused := focusedOption(data.Options)
	if focused == nil || i.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), autocompleteTimeout)
	defer cancel()

	var choices []*discordgo.ApplicationCommandOptionChoice
	switch focused.Name {
	case "query":
		if h.suggest != nil {
			choices = h.suggest.Suggest(ctx, focused.StringValue(), 10)
		}
	case "name":
		choices = h.playlistChoices(ctx, i.GuildID, userIDOf(i), focused.StringValue())
	}
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		h.log.Debug("autocomplete respond failed", "guildID", i.GuildID, "command", data.Name, "err", err)
	}
}

// playlistChoices offers the caller's own playlists whose name contains typed.
func (h *CommandHandler) playlistChoices(ctx context.Context, guildID, userID, typed string) []*discordgo.ApplicationCommandOptionChoice {
	items, err := h.playlists.List(ctx, guildID, userID)
	if err != nil {
		h.log.Debug("playlist autocomplete failed", "guildID", guildID, "err", err)
		return nil
	}
	return matchPlaylists(items, typed)
}

func matchPlaylists(items []repository.Playlist, typed string) []*discordgo.ApplicationCommandOptionChoice {
	typed = strings.ToLower(strings.TrimSpace(typed))
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(items))
	for _, p := range items {
		if len(out) == 25 {
			break
		}
		if typed != "" && !strings.Contains(strings.ToLower(p.Name), typed) {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: p.Name, Value: p.Name})
	}
	return out
}
