// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Input], and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInput(audio.CaptureSampleRate, 8)
//	out := &mock.Output{FormatResult: audio.Mono(audio.PlaybackSampleRate)}
//	dev := &mock.Device{InputResult: in, OutputResult: out}
//	got, err := dev.OpenInput(ctx, audio.Mono(16000))
//	in.Push(frame)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livevox/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.Input] backed by a buffered channel.
// Use [NewInput] to construct one and [Input.Push] to deliver frames.
type Input struct {
	mu     sync.Mutex
	ch     chan audio.AudioFrame
	closed bool

	// SampleRate is stamped on frames pushed with [Input.PushSamples].
	SampleRate int

	// CloseError is returned by [Input.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInput returns an Input whose frame channel has the given buffer size.
func NewInput(sampleRate, buffer int) *Input {
	return &Input{
		ch:         make(chan audio.AudioFrame, buffer),
		SampleRate: sampleRate,
	}
}

// Frames implements [audio.Input].
func (i *Input) Frames() <-chan audio.AudioFrame { return i.ch }

// Push delivers frame to the consumer. It reports false once the input is
// closed. Push blocks while the channel buffer is full.
func (i *Input) Push(frame audio.AudioFrame) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return false
	}
	i.ch <- frame
	return true
}

// PushSamples converts float samples to a mono PCM16 frame at SampleRate and
// pushes it.
func (i *Input) PushSamples(samples []float32) bool {
	return i.Push(audio.AudioFrame{
		Data:       audio.Float32ToPCM16(samples),
		SampleRate: i.SampleRate,
		Channels:   1,
	})
}

// Close implements [audio.Input]. The frame channel is closed on the first call.
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountClose++
	if !i.closed {
		i.closed = true
		close(i.ch)
	}
	return i.CloseError
}

// Closed reports whether Close has been called.
func (i *Input) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// CloseCalls returns the number of Close calls.
func (i *Input) CloseCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.CallCountClose
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output] that records every write.
type Output struct {
	mu     sync.Mutex
	closed bool

	// FormatResult is returned by [Output.Format]. Defaults to 24 kHz mono.
	FormatResult audio.Format

	// WriteError is returned by [Output.Write] while the output is open.
	WriteError error

	// CloseError is returned by [Output.Close].
	CloseError error

	// Written holds a copy of every successful write, in order.
	Written [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FormatResult.SampleRate == 0 {
		return audio.Mono(audio.PlaybackSampleRate)
	}
	return o.FormatResult
}

// Write implements [audio.Output].
func (o *Output) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return audio.ErrClosed
	}
	if o.WriteError != nil {
		return o.WriteError
	}
	o.Written = append(o.Written, append([]byte(nil), pcm...))
	return nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.closed = true
	return o.CloseError
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Writes returns the number of successful writes.
func (o *Output) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Written)
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// InputResult is returned by OpenInput.
	InputResult audio.Input

	// InputError is returned by OpenInput.
	InputError error

	// OutputResult is returned by OpenOutput.
	OutputResult audio.Output

	// OutputError is returned by OpenOutput.
	OutputError error

	// Block, when non-nil, makes both Open calls wait until it is closed or
	// the context is cancelled.
	Block chan struct{}

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(ctx context.Context, _ audio.Format) (audio.Input, error) {
	d.mu.Lock()
	d.CallCountOpenInput++
	block := d.Block
	d.mu.Unlock()

	if err := wait(ctx, block); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.InputResult, d.InputError
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(ctx context.Context, _ audio.Format) (audio.Output, error) {
	d.mu.Lock()
	d.CallCountOpenOutput++
	block := d.Block
	d.mu.Unlock()

	if err := wait(ctx, block); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.OutputResult, d.OutputError
}

// Opens returns the number of OpenInput and OpenOutput calls.
func (d *Device) Opens() (inputs, outputs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpenInput, d.CallCountOpenOutput
}

func wait(ctx context.Context, block chan struct{}) error {
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
