// Package playout renders scheduled audio buffers against a sample-accurate
// playback clock and streams the mixed result to an [audio.Output].
//
// A [Context] owns a monotonically advancing render position measured in
// samples at its output rate. Callers schedule decoded buffers with
// [Context.Start] at an absolute position; the render loop mixes every voice
// that overlaps the current block, applies the output gain, feeds registered
// [Tap]s, and writes the block to the output. The position only advances as
// blocks are rendered, so it serves as the "current time" for scheduling.
package playout

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/livevox/pkg/audio"
)

// ErrContextClosed is returned when scheduling on or stopping voices of a
// closed [Context].
var ErrContextClosed = errors.New("playout: context closed")

const (
	// DefaultBlock is the render quantum used by [Context.Run].
	DefaultBlock = 20 * time.Millisecond

	// maxCatchUpBlocks bounds how many blocks Run renders in one wake-up when
	// it falls behind wall-clock time (for example after a slow Write).
	maxCatchUpBlocks = 5
)

// Tap observes every rendered block after the gain stage. Implementations
// must not retain or modify block and must return quickly.
type Tap interface {
	Observe(block []float32)
}

// Option configures a [Context] during construction.
type Option func(*Context)

// WithBlock sets the render quantum used by [Context.Run].
func WithBlock(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.block = d
		}
	}
}

// WithTap registers t to observe rendered output.
func WithTap(t Tap) Option {
	return func(c *Context) {
		c.taps = append(c.taps, t)
	}
}

// WithGain sets the initial output gain. The default is 1.
func WithGain(g float32) Option {
	return func(c *Context) { c.gain = g }
}

// Context is a mono playback context at a fixed sample rate.
//
// All exported methods are safe for concurrent use. Rendering happens either
// on the goroutine running [Context.Run] or on the caller of [Context.Render].
type Context struct {
	format audio.Format
	out    audio.Output
	block  time.Duration
	taps   []Tap

	mu       sync.Mutex
	position int64
	seq      uint64
	pending  voiceHeap
	active   []*Voice
	gain     float32
	closed   bool

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
	closeOnce sync.Once
}

// New creates a Context rendering mono audio at rate. out may be nil, in which
// case rendered blocks are only delivered to taps. The render loop does not
// start until [Context.Run] is called.
func New(rate int, out audio.Output, opts ...Option) *Context {
	c := &Context{
		format: audio.Mono(rate),
		out:    out,
		block:  DefaultBlock,
		gain:   1,
	}
	for _, o := range opts {
		o(c)
	}
	heap.Init(&c.pending)
	return c
}

// Format returns the context's mono output format.
func (c *Context) Format() audio.Format { return c.format }

// Position returns the render position in samples: the earliest position a
// newly scheduled voice can still be heard from.
func (c *Context) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// CurrentTime returns the render position as a duration since the context
// was created.
func (c *Context) CurrentTime() time.Duration {
	return c.format.Duration(c.Position())
}

// SetGain sets the output gain applied to the mixed signal before taps and
// the output.
func (c *Context) SetGain(g float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = g
}

// Start schedules samples to begin at absolute position at. Positions in the
// past start immediately on the next rendered block. The context takes
// ownership of samples.
func (c *Context) Start(samples []float32, at int64) (*Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	c.seq++
	v := &Voice{
		ctx:     c,
		samples: samples,
		length:  int64(len(samples)),
		start:   at,
		seq:     c.seq,
		index:   -1,
	}
	heap.Push(&c.pending, v)
	return v, nil
}

// Voices returns the number of voices that are scheduled or playing.
func (c *Context) Voices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len() + len(c.active)
}

// Render mixes the next len(dst) samples into dst, advances the render
// position by len(dst), and invokes the end callbacks of voices that finished
// within the block. It is exported so that tests and offline renderers can
// drive the clock deterministically.
func (c *Context) Render(dst []float32) {
	clear(dst)
	n := int64(len(dst))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	blockStart := c.position
	blockEnd := blockStart + n

	for v := c.pending.peek(); v != nil && v.start < blockEnd; v = c.pending.peek() {
		heap.Pop(&c.pending)
		v.state = voicePlaying
		c.active = append(c.active, v)
	}

	var ended []func()
	kept := c.active[:0]
	for _, v := range c.active {
		offset := max(v.start-blockStart, 0)
		count := min(n-offset, int64(len(v.samples)-v.pos))
		for i := range count {
			dst[offset+i] += v.samples[int64(v.pos)+i]
		}
		v.pos += int(count)
		if v.pos >= len(v.samples) {
			v.state = voiceEnded
			v.samples = nil
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
				v.onEnded = nil
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(c.active[len(kept):])
	c.active = kept

	if c.gain != 1 {
		for i := range dst {
			dst[i] *= c.gain
		}
	}
	c.position = blockEnd
	taps := c.taps
	c.mu.Unlock()

	for _, t := range taps {
		t.Observe(dst)
	}
	for _, fn := range ended {
		fn()
	}
}

// Run renders blocks paced by wall-clock time and writes them to the output
// until ctx is cancelled, [Context.Close] is called, or a write fails. Only one
// Run may be active at a time.
func (c *Context) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.runDone != nil {
		c.runMu.Unlock()
		return errors.New("playout: already running")
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.runMu.Unlock()
		return ErrContextClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.runCancel = cancel
	c.runDone = done
	c.runMu.Unlock()

	defer close(done)
	defer cancel()

	blockSamples := max(c.format.Samples(c.block), 1)
	buf := make([]float32, blockSamples)
	ticker := time.NewTicker(c.block)
	defer ticker.Stop()

	started := time.Now()
	base := c.Position()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
		}

		due := base + c.format.Samples(time.Since(started))
		for i := 0; i < maxCatchUpBlocks && c.Position()+blockSamples <= due; i++ {
			c.Render(buf)
			if c.out == nil {
				continue
			}
			if err := c.out.Write(audio.Float32ToPCM16(buf)); err != nil {
				if errors.Is(err, audio.ErrClosed) {
					return nil
				}
				slog.Warn("playout: output write failed", "err", err)
				return err
			}
		}
		// Falling further behind than the catch-up window would produce a
		// burst; rebase the schedule onto the current position instead.
		if c.Position()+blockSamples*maxCatchUpBlocks < due {
			started = time.Now()
			base = c.Position()
		}
	}
}

// Close stops the render loop, silences all voices without invoking their end
// callbacks, and closes the output. Close is idempotent.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.runMu.Lock()
		cancel, done := c.runCancel, c.runDone
		c.runMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		c.mu.Lock()
		c.closed = true
		for _, v := range c.pending {
			v.state = voiceStopped
			v.onEnded = nil
		}
		for _, v := range c.active {
			v.state = voiceStopped
			v.onEnded = nil
		}
		c.pending = nil
		c.active = nil
		c.mu.Unlock()

		if c.out != nil {
			err = c.out.Close()
		}
	})
	return err
}

// removePendingLocked removes v from the pending heap. Must be called with
// c.mu held.
func (c *Context) removePendingLocked(v *Voice) {
	if v.index >= 0 && v.index < c.pending.Len() && c.pending[v.index] == v {
		heap.Remove(&c.pending, v.index)
	}
}

// removeActiveLocked removes v from the active list. Must be called with c.mu
// held.
func (c *Context) removeActiveLocked(v *Voice) {
	if i := slices.Index(c.active, v); i >= 0 {
		c.active = slices.Delete(c.active, i, i+1)
	}
}
