package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/sonroyaalmerol/tunebot/internal/extract"
	"github.com/sonroyaalmerol/tunebot/internal/utils"
)

// avDecoder demuxes and decodes a remote audio URL with libav and resamples
// it to PCM on a background goroutine. That goroutine owns the C objects and
// frees them on exit; Close only signals it, since a blocking network read
// cannot be interrupted from Go.
type avDecoder struct {
	fc       *astiav.FormatContext
	audio    *astiav.Stream
	decCtx   *astiav.CodecContext
	swr      *astiav.SoftwareResampleContext
	srcFrame *astiav.Frame
	dstFrame *astiav.Frame
	pr       *io.PipeReader
	pw       *io.PipeWriter
	cancel   context.CancelFunc
	log      *slog.Logger

	closeOnce sync.Once
	errMu     sync.Mutex
	runErr    error
}

// OpenURL opens st.URL with st.Headers and starts decoding.
func OpenURL(ctx context.Context, st *extract.Stream, logger *slog.Logger) (PCMSource, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("alloc format context")
	}

	dict := astiav.NewDictionary()
	defer dict.Free()
	_ = dict.Set("reconnect", "1", 0)
	_ = dict.Set("reconnect_streamed", "1", 0)
	_ = dict.Set("reconnect_delay_max", "5", 0)
	_ = dict.Set("headers", utils.BuildFFmpegHeaders(st.Headers), 0)

	if err := fc.OpenInput(st.URL, nil, dict); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input: %w", err)
	}
	cleanup := func() {
		fc.CloseInput()
		fc.Free()
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		cleanup()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	audio, codec, err := fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil || audio == nil || codec == nil {
		cleanup()
		if err != nil {
			return nil, fmt.Errorf("find audio stream: %w", err)
		}
		return nil, errors.New("no audio stream")
	}

	decCtx := astiav.AllocCodecContext(codec)
	if decCtx == nil {
		cleanup()
		return nil, errors.New("alloc decoder context")
	}
	if err := decCtx.FromCodecParameters(audio.CodecParameters()); err != nil {
		decCtx.Free()
		cleanup()
		return nil, fmt.Errorf("decoder parameters: %w", err)
	}
	decCtx.SetTimeBase(audio.TimeBase())
	if err := decCtx.Open(codec, nil); err != nil {
		decCtx.Free()
		cleanup()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	swr := astiav.AllocSoftwareResampleContext()
	srcFrame := astiav.AllocFrame()
	dstFrame := astiav.AllocFrame()
	if swr == nil || srcFrame == nil || dstFrame == nil {
		if srcFrame != nil {
			srcFrame.Free()
		}
		if dstFrame != nil {
			dstFrame.Free()
		}
		if swr != nil {
			swr.Free()
		}
		decCtx.Free()
		cleanup()
		return nil, errors.New("alloc resampler")
	}

	pr, pw := io.Pipe()
	runCtx, cancel := context.WithCancel(ctx)
	d := &avDecoder{
		fc:       fc,
		audio:    audio,
		decCtx:   decCtx,
		swr:      swr,
		srcFrame: srcFrame,
		dstFrame: dstFrame,
		pr:       pr,
		pw:       pw,
		cancel:   cancel,
		log:      logger,
	}
	go d.run(runCtx)
	return d, nil
}

func (d *avDecoder) Read(p []byte) (int, error) { return d.pr.Read(p) }

func (d *avDecoder) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		_ = d.pr.Close()
	})
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

func (d *avDecoder) run(ctx context.Context) {
	defer d.free()
	err := d.decode(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.ErrClosedPipe) {
		d.errMu.Lock()
		d.runErr = err
		d.errMu.Unlock()
		d.log.Debug("decode ended", "err", err)
	}
	_ = d.pw.CloseWithError(err)
}

func (d *avDecoder) free() {
	d.srcFrame.Free()
	d.dstFrame.Free()
	d.swr.Free()
	d.decCtx.Free()
	d.fc.CloseInput()
	d.fc.Free()
}

func (d *avDecoder) decode(ctx context.Context) error {
	packet := astiav.AllocPacket()
	defer packet.Free()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		packet.Unref()
		if err := d.fc.ReadFrame(packet); err != nil {
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			if errors.Is(err, astiav.ErrEof) {
				return d.flush()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if packet.StreamIndex() != d.audio.Index() {
			continue
		}
		if err := d.decCtx.SendPacket(packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("send packet: %w", err)
		}
		if err := d.receive(); err != nil {
			return err
		}
	}
}

func (d *avDecoder) flush() error {
	_ = d.decCtx.SendPacket(nil)
	return d.receive()
}

func (d *avDecoder) receive() error {
	for {
		d.srcFrame.Unref()
		if err := d.decCtx.ReceiveFrame(d.srcFrame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := d.writePCM(); err != nil {
			return err
		}
	}
}

// writePCM resamples srcFrame to the output format. The destination frame is
// left unallocated so the resampler sizes it.
func (d *avDecoder) writePCM() error {
	d.dstFrame.Unref()
	d.dstFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	d.dstFrame.SetSampleRate(SampleRate)
	d.dstFrame.SetSampleFormat(astiav.SampleFormatS16)
	if err := d.swr.ConvertFrame(d.srcFrame, d.dstFrame); err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	b, err := d.dstFrame.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("resampled bytes: %w", err)
	}
	_, err = d.pw.Write(b)
	return err
}
