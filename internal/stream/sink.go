package stream

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
)

var ErrSendTimeout = errors.New("opus send timeout")

// VoiceSink sends packets on a discordgo voice connection. discordgo paces
// OpusSend itself, so Send only applies backpressure.
//
// The connection is looked up on every send: a rejoin can replace it, and
// packets wait for the new one instead of failing the track.
type VoiceSink struct {
	conn    func() *discordgo.VoiceConnection
	timeout time.Duration
	poll    time.Duration
}

func NewVoiceSink(conn func() *discordgo.VoiceConnection) *VoiceSink {
	return &VoiceSink{conn: conn, timeout: 10 * time.Second, poll: 100 * time.Millisecond}
}

func ready(vc *discordgo.VoiceConnection) bool {
	if vc == nil {
		return false
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// opus is nil, which blocks, while there is no ready connection.
func (s *VoiceSink) opus() chan []byte {
	if vc := s.conn(); ready(vc) {
		return vc.OpusSend
	}
	return nil
}

func (s *VoiceSink) Send(ctx context.Context, pkt []byte) error {
	select {
	case s.opus() <- pkt:
		return nil
	default:
	}

	t := time.NewTimer(s.timeout)
	defer t.Stop()
	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	for {
		select {
		case s.opus() <- pkt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			// nothing is draining OpusSend
			return ErrSendTimeout
		case <-poll.C:
		}
	}
}

func (s *VoiceSink) Speaking(on bool) {
	vc := s.conn()
	if !ready(vc) {
		return
	}
	_ = vc.Speaking(on)
}
