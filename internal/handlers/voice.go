package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tunebot/internal/player"
	"github.com/sonroyaalmerol/tunebot/internal/stream"
)

// joiner is the part of *discordgo.Session the voice adapters use.
type joiner interface {
	ChannelVoiceJoin(gID, cID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// guildContext is one play request's view of a guild: where the member
// asking is sitting.
type guildContext struct {
	guildID   string
	channelID string
	voice     *voiceConns
}

func (g *guildContext) GuildID() string        { return g.guildID }
func (g *guildContext) VoiceChannelID() string { return g.channelID }

func (g *guildContext) Connect(ctx context.Context) (player.VoiceConnection, error) {
	c, err := g.voice.join(ctx, g.guildID, g.channelID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// voiceConns tracks the bot's live voice connections by guild so gateway
// voice-state updates can reach them.
type voiceConns struct {
	s          joiner
	playerOpts stream.PlayerOptions
	log        *slog.Logger

	mu    sync.Mutex
	conns map[string]*voiceConn
}

func newVoiceConns(s joiner, opts stream.PlayerOptions, logger *slog.Logger) *voiceConns {
	return &voiceConns{s: s, playerOpts: opts, log: logger, conns: make(map[string]*voiceConn)}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// rawJoin runs discordgo's blocking join under ctx. A join that completes
// after ctx is done is torn down.
func (v *voiceConns) rawJoin(ctx context.Context, guildID, channelID string) (*discordgo.VoiceConnection, error) {
	res := make(chan joinResult, 1)
	go func() {
		vc, err := v.s.ChannelVoiceJoin(guildID, channelID, false, true)
		select {
		case res <- joinResult{vc, err}:
		case <-ctx.Done():
			if vc != nil {
				_ = vc.Disconnect()
			}
		}
	}()
	select {
	case r := <-res:
		return r.vc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *voiceConns) join(ctx context.Context, guildID, channelID string) (*voiceConn, error) {
	vc, err := v.rawJoin(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	c := &voiceConn{
		owner:     v,
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		events:    make(chan player.VoiceEvent, 4),
	}
	v.mu.Lock()
	if old := v.conns[guildID]; old != nil {
		old.detach()
	}
	v.conns[guildID] = c
	v.mu.Unlock()
	v.log.Info("voice connected", "guildID", guildID, "channelID", channelID)
	return c, nil
}

func (v *voiceConns) get(guildID string) *voiceConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conns[guildID]
}

func (v *voiceConns) remove(c *voiceConn) {
	v.mu.Lock()
	if v.conns[c.guildID] == c {
		delete(v.conns, c.guildID)
	}
	v.mu.Unlock()
}

// botVoiceState handles a voice-state update for the bot's own user. An
// empty channel means the bot was disconnected; anything else is a move.
func (v *voiceConns) botVoiceState(guildID, channelID string) {
	c := v.get(guildID)
	if c == nil {
		return
	}
	if channelID == "" {
		c.lost()
		return
	}
	c.moved(channelID)
}

// voiceConn adapts a discordgo voice connection to player.VoiceConnection.
type voiceConn struct {
	owner   *voiceConns
	guildID string
	events  chan player.VoiceEvent

	mu        sync.Mutex
	channelID string
	vc        *discordgo.VoiceConnection
	closed    bool
}

func (c *voiceConn) Events() <-chan player.VoiceEvent { return c.events }

func (c *voiceConn) current() *discordgo.VoiceConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc
}

func (c *voiceConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *voiceConn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	channelID := c.channelID
	c.mu.Unlock()

	vc, err := c.owner.rawJoin(ctx, c.guildID, channelID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = vc.Disconnect()
		return errors.New("connection closed")
	}
	c.vc = vc
	return nil
}

func (c *voiceConn) NewAudioPlayer() player.AudioPlayer {
	opts := c.owner.playerOpts
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("guildID", c.guildID)
	}
	return stream.NewPlayer(stream.NewVoiceSink(c.current), opts)
}

func (c *voiceConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	vc := c.vc
	c.mu.Unlock()

	c.owner.remove(c)
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

func (c *voiceConn) lost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// our own Disconnect
		return
	}
	select {
	case c.events <- player.VoiceDisconnected:
	default:
	}
}

func (c *voiceConn) moved(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelID = channelID
}

// detach marks c as superseded by a newer join in the same guild. discordgo
// keeps one connection per guild, so c must not disconnect it any more.
func (c *voiceConn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.vc = nil
}
