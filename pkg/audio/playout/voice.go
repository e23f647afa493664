package playout

import (
	"time"
)

type voiceState int

const (
	voiceScheduled voiceState = iota
	voicePlaying
	voiceEnded
	voiceStopped
)

// Voice is one decoded buffer scheduled on a [Context] at a fixed start
// position. It plays exactly once, from its start position until the buffer
// is exhausted or [Voice.Stop] is called.
//
// A Voice owns its buffer exclusively from [Context.Start] until it ends or
// is stopped.
type Voice struct {
	ctx     *Context
	samples []float32
	length  int64
	start   int64
	seq     uint64

	// Guarded by ctx.mu.
	pos     int
	state   voiceState
	index   int
	onEnded func()
}

// Start returns the voice's start position in samples on the context clock.
func (v *Voice) Start() int64 { return v.start }

// Len returns the buffer length in samples.
func (v *Voice) Len() int64 { return v.length }

// End returns the position at which the voice finishes playing naturally.
func (v *Voice) End() int64 { return v.start + v.length }

// Duration returns the playback length of the voice.
func (v *Voice) Duration() time.Duration {
	return v.ctx.format.Duration(v.length)
}

// OnEnded registers fn to be called once when the voice finishes playing
// naturally. It is not called for voices ended by [Voice.Stop] or
// [Context.Close]. fn runs on the render goroutine with no context lock held
// and must not block. If the voice has already ended, fn runs right away on
// the caller's goroutine.
func (v *Voice) OnEnded(fn func()) {
	v.ctx.mu.Lock()
	if v.state == voiceEnded {
		v.ctx.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	v.onEnded = fn
	v.ctx.mu.Unlock()
}

// Stop silences the voice immediately, whether it is still waiting for its
// start position or already playing. Stopping an ended or stopped voice is a
// no-op. Returns [ErrContextClosed] if the owning context has been closed.
func (v *Voice) Stop() error {
	c := v.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	switch v.state {
	case voiceScheduled:
		c.removePendingLocked(v)
	case voicePlaying:
		c.removeActiveLocked(v)
	default:
		return nil
	}
	v.state = voiceStopped
	v.onEnded = nil
	return nil
}

// Playing reports whether the voice has been reached by the render position
// and has not yet ended or been stopped.
func (v *Voice) Playing() bool {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	return v.state == voicePlaying
}

// Done reports whether the voice has ended naturally or been stopped.
func (v *Voice) Done() bool {
	v.ctx.mu.Lock()
	defer v.ctx.mu.Unlock()
	return v.state == voiceEnded || v.state == voiceStopped
}
