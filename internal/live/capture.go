package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livevox/internal/observe"
	"github.com/MrWong99/livevox/pkg/audio"
	provider "github.com/MrWong99/livevox/pkg/provider/live"
)

// errNoSession is returned by a capture sink when no session can take frames.
var errNoSession = errors.New("live: no session")

// captureSink receives one outbound blob. Returning errNoSession drops the
// frame silently; any other error is logged at debug level.
type captureSink func(provider.Blob) error

// capture converts device frames into fixed-size 16 kHz mono frames and hands
// them to a sink. It never buffers more than one partial frame: when the sink
// cannot take a frame the frame is dropped.
type capture struct {
	in        audio.Input
	frameSize int
	sink      captureSink
	onVolume  func(float64)
	metrics   *observe.Metrics

	// Owned by the run goroutine.
	pending   []float32
	resampler *audio.Resampler
	srcRate   int

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func newCapture(in audio.Input, frameSize int, sink captureSink, onVolume func(float64), m *observe.Metrics) *capture {
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	return &capture{
		in:        in,
		frameSize: frameSize,
		sink:      sink,
		onVolume:  onVolume,
		metrics:   m,
		pending:   make([]float32, 0, frameSize*2),
		done:      make(chan struct{}),
	}
}

// start launches the read loop.
func (c *capture) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

func (c *capture) run(ctx context.Context) {
	defer close(c.done)
	frames := c.in.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			c.process(ctx, f)
		}
	}
}

// process appends one device frame to the pending buffer and emits every
// complete outbound frame.
func (c *capture) process(ctx context.Context, f audio.AudioFrame) {
	samples, err := audio.ToFloat32Mono(f)
	if err != nil {
		slog.Debug("live: capture: convert frame", "err", err)
		c.metrics.RecordFrameDropped(ctx, "convert_error")
		return
	}
	if f.SampleRate > 0 && f.SampleRate != audio.CaptureSampleRate {
		if c.resampler == nil || c.srcRate != f.SampleRate {
			c.resampler, err = audio.NewResampler(f.SampleRate, audio.CaptureSampleRate)
			if err != nil {
				slog.Debug("live: capture: create resampler", "rate", f.SampleRate, "err", err)
				c.metrics.RecordFrameDropped(ctx, "convert_error")
				return
			}
			c.srcRate = f.SampleRate
		}
		if samples, err = c.resampler.Process(samples); err != nil {
			slog.Debug("live: capture: resample", "err", err)
			c.metrics.RecordFrameDropped(ctx, "convert_error")
			return
		}
	}

	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.frameSize {
		c.emit(ctx, c.pending[:c.frameSize])
		c.pending = append(c.pending[:0], c.pending[c.frameSize:]...)
	}
}

func (c *capture) emit(ctx context.Context, frame []float32) {
	if c.onVolume != nil {
		c.onVolume(audio.RMS(frame))
	}
	blob := provider.Blob{
		MIMEType: audio.PCMMimeType(audio.CaptureSampleRate),
		Data:     audio.Float32ToPCM16(frame),
	}
	switch err := c.sink(blob); {
	case err == nil:
		c.metrics.FramesSent.Add(ctx, 1)
	case errors.Is(err, errNoSession):
		c.metrics.RecordFrameDropped(ctx, "no_session")
	default:
		slog.Debug("live: capture: send frame", "err", err)
		c.metrics.RecordFrameDropped(ctx, "send_error")
	}
}

// stop ends the read loop and releases the input. Safe to call more than once
// and before start.
func (c *capture) stop() error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.in.Close(); err != nil {
			c.stopErr = fmt.Errorf("live: close input: %w", err)
		}
		if c.cancel != nil {
			<-c.done
		}
	})
	return c.stopErr
}
