// Package audio defines the device abstractions, frame types, and PCM
// conversion helpers used by the livevox voice pipeline.
//
// The two primary abstractions are:
//
//   - [Input]: an acquired capture endpoint (microphone, voice channel
//     participant, pipe) that delivers [AudioFrame] values.
//   - [Output]: an acquired playback endpoint that accepts rendered PCM.
//
// Both are obtained from a [Device] and are explicitly owned resources: the
// caller that acquired them must call Close exactly once. Implementations of
// [Device] live in adapter packages (audio/pipe, audio/discord).
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Output.Write] after the output has been closed.
var ErrClosed = errors.New("audio: endpoint closed")

// Input is an acquired capture stream.
//
// Implementations must be safe for concurrent use. The channel returned by
// Frames is closed when the input is closed or the underlying source ends.
type Input interface {
	// Frames returns the channel that delivers captured audio. Every frame
	// carries its own sample rate and channel count.
	Frames() <-chan AudioFrame

	// Close stops capture and releases the underlying device. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Output is an acquired playback sink.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Format reports the PCM format the output expects on Write.
	Format() Format

	// Write delivers one block of little-endian int16 PCM in [Output.Format].
	// It may block briefly for device flow control; it must not block
	// indefinitely. Returns [ErrClosed] after Close.
	Write(pcm []byte) error

	// Close flushes and releases the output. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Device is the entry point for an audio backend. Each call acquires a fresh
// endpoint; acquisition may block (for example while waiting for a voice
// channel join) and must honour ctx cancellation.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenInput acquires a capture stream. want is the preferred format;
	// implementations may deliver a different one and callers must convert.
	OpenInput(ctx context.Context, want Format) (Input, error)

	// OpenOutput acquires a playback sink. want is the preferred format;
	// the returned [Output.Format] is authoritative.
	OpenOutput(ctx context.Context, want Format) (Output, error)
}
