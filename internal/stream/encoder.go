package stream

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"
)

const (
	SampleRate = 48000
	Channels   = 2
	// FrameSamples is 20 ms per channel at 48 kHz.
	FrameSamples = 960
	FrameBytes   = FrameSamples * Channels * 2
)

type OpusPacketHandler func(pkt []byte) error

// FrameEncoder turns 20 ms s16le stereo frames into Opus packets.
type FrameEncoder interface {
	EncodeFrame(pcm []byte, onPacket OpusPacketHandler) error
	Flush(onPacket OpusPacketHandler) error
	Close()
}

// Encoder is a libopus encoder driven through astiav. Packets passed to the
// handler are copies and may be retained.
type Encoder struct {
	cc     *astiav.CodecContext
	frame  *astiav.Frame
	packet *astiav.Packet
	log    *slog.Logger
}

func NewEncoder(bitrate int64, logger *slog.Logger) (*Encoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bitrate <= 0 {
		bitrate = 128_000
	}
	codec := astiav.FindEncoderByName("libopus")
	if codec == nil {
		return nil, errors.New("libopus encoder not found (check ffmpeg installation)")
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc opus codec context")
	}
	cc.SetSampleRate(SampleRate)
	cc.SetChannelLayout(astiav.ChannelLayoutStereo)
	cc.SetSampleFormat(astiav.SampleFormatS16)
	cc.SetBitRate(bitrate)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("frame_duration", "20", 0)
	_ = opts.Set("application", "audio", 0)

	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, fmt.Errorf("open opus encoder: %w", err)
	}

	frame := astiav.AllocFrame()
	if frame == nil {
		cc.Free()
		return nil, errors.New("alloc encoder frame")
	}
	frame.SetSampleRate(SampleRate)
	frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	frame.SetSampleFormat(astiav.SampleFormatS16)
	frame.SetNbSamples(FrameSamples)
	if err := frame.AllocBuffer(0); err != nil {
		frame.Free()
		cc.Free()
		return nil, fmt.Errorf("alloc encoder frame buffer: %w", err)
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		frame.Free()
		cc.Free()
		return nil, errors.New("alloc encoder packet")
	}
	logger.Debug("opus encoder ready", "bitrate", cc.BitRate())
	return &Encoder{cc: cc, frame: frame, packet: pkt, log: logger}, nil
}

func (e *Encoder) Close() {
	if e.packet != nil {
		e.packet.Free()
	}
	if e.frame != nil {
		e.frame.Free()
	}
	if e.cc != nil {
		e.cc.Free()
	}
}

// EncodeFrame takes exactly FrameBytes of interleaved PCM.
func (e *Encoder) EncodeFrame(pcm []byte, onPacket OpusPacketHandler) error {
	if len(pcm) != FrameBytes {
		return fmt.Errorf("pcm frame is %d bytes, want %d", len(pcm), FrameBytes)
	}
	if err := e.frame.MakeWritable(); err != nil {
		return fmt.Errorf("make frame writable: %w", err)
	}
	if err := e.frame.Data().SetBytes(pcm, 1); err != nil {
		return fmt.Errorf("set frame bytes: %w", err)
	}
	if err := e.cc.SendFrame(e.frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return e.drain(onPacket)
}

func (e *Encoder) Flush(onPacket OpusPacketHandler) error {
	if err := e.cc.SendFrame(nil); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil
		}
		return fmt.Errorf("send flush frame: %w", err)
	}
	return e.drain(onPacket)
}

func (e *Encoder) drain(onPacket OpusPacketHandler) error {
	for {
		e.packet.Unref()
		if err := e.cc.ReceivePacket(e.packet); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive opus packet: %w", err)
		}
		if err := onPacket(append([]byte(nil), e.packet.Data()...)); err != nil {
			return err
		}
	}
}
