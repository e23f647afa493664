// Package pipe provides an [audio.Device] that exchanges raw PCM16LE with
// external processes over stdin/stdout, for example arecord/aplay, ffmpeg or
// sox. It is the default local audio backend: capture reads a recorder's
// stdout, playback writes a player's stdin.
package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livevox/pkg/audio"
)

// readChunk is the number of bytes requested from the source per read.
const readChunk = 4096

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Device runs one process per acquired endpoint. The commands must produce or
// consume headerless little-endian int16 mono PCM at the configured rates.
type Device struct {
	// InputCommand is the capture command and its arguments.
	InputCommand []string

	// OutputCommand is the playback command and its arguments.
	OutputCommand []string

	// InputRate is the sample rate produced by InputCommand.
	InputRate int

	// OutputRate is the sample rate expected by OutputCommand.
	OutputRate int
}

// OpenInput starts InputCommand and streams its stdout as frames.
func (d *Device) OpenInput(ctx context.Context, _ audio.Format) (audio.Input, error) {
	if len(d.InputCommand) == 0 {
		return nil, errors.New("pipe: no input command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(d.InputCommand[0], d.InputCommand[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: input stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipe: start %q: %w", d.InputCommand[0], err)
	}
	slog.Debug("pipe: capture started", "command", d.InputCommand[0], "pid", cmd.Process.Pid)
	return newInput(stdout, audio.Mono(d.InputRate), processStopper(cmd)), nil
}

// OpenOutput starts OutputCommand and writes rendered PCM to its stdin.
func (d *Device) OpenOutput(ctx context.Context, _ audio.Format) (audio.Output, error) {
	if len(d.OutputCommand) == 0 {
		return nil, errors.New("pipe: no output command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(d.OutputCommand[0], d.OutputCommand[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: output stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipe: start %q: %w", d.OutputCommand[0], err)
	}
	slog.Debug("pipe: playback started", "command", d.OutputCommand[0], "pid", cmd.Process.Pid)
	return NewWriterOutput(stdin, audio.Mono(d.OutputRate), processStopper(cmd)), nil
}

// processStopper returns a function that terminates cmd and reaps it.
func processStopper(cmd *exec.Cmd) func() error {
	return func() error {
		_ = cmd.Process.Kill()
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			return nil
		}
		return err
	}
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input streams PCM read from an [io.Reader] as [audio.AudioFrame] values.
type Input struct {
	src    io.ReadCloser
	format audio.Format
	stop   func() error
	frames chan audio.AudioFrame

	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
}

// NewReaderInput wraps src as an [audio.Input]. src must yield PCM16LE in
// format. Closing the input closes src.
func NewReaderInput(src io.ReadCloser, format audio.Format) *Input {
	return newInput(src, format, nil)
}

func newInput(src io.ReadCloser, format audio.Format, stop func() error) *Input {
	if format.Channels == 0 {
		format.Channels = 1
	}
	in := &Input{
		src:      src,
		format:   format,
		stop:     stop,
		frames:   make(chan audio.AudioFrame, 16),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go in.readLoop()
	return in
}

// Frames implements [audio.Input].
func (in *Input) Frames() <-chan audio.AudioFrame { return in.frames }

func (in *Input) readLoop() {
	defer close(in.readDone)
	defer close(in.frames)

	reader := bufio.NewReaderSize(in.src, 64*1024)
	frameAlign := 2 * in.format.Channels
	tmp := make([]byte, readChunk)
	var carry []byte
	var read int64

	for {
		n, err := reader.Read(tmp)
		if n > 0 {
			buf := append(carry, tmp[:n]...)
			whole := len(buf) - len(buf)%frameAlign
			if whole > 0 {
				frame := audio.AudioFrame{
					Data:       append([]byte(nil), buf[:whole]...),
					SampleRate: in.format.SampleRate,
					Channels:   in.format.Channels,
					Timestamp:  in.format.Duration(read / int64(frameAlign)),
				}
				read += int64(whole)
				select {
				case in.frames <- frame:
				case <-in.done:
					return
				}
			}
			carry = append(carry[:0], buf[whole:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-in.done:
				default:
					slog.Warn("pipe: capture read failed", "error", err)
				}
			}
			return
		}
	}
}

// Close implements [audio.Input]. It stops the reader and the process, if
// any. Safe to call more than once.
func (in *Input) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.done)
		err = in.src.Close()
		if in.stop != nil {
			if serr := in.stop(); serr != nil && err == nil {
				err = serr
			}
		}
		select {
		case <-in.readDone:
		case <-time.After(time.Second):
			slog.Warn("pipe: capture reader did not stop")
		}
	})
	return err
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output writes PCM to an [io.Writer].
type Output struct {
	format audio.Format
	stop   func() error
	dst    io.WriteCloser

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWriterOutput wraps dst as an [audio.Output] accepting PCM16LE in format.
// stop, if non-nil, runs after dst is closed.
func NewWriterOutput(dst io.WriteCloser, format audio.Format, stop func() error) *Output {
	if format.Channels == 0 {
		format.Channels = 1
	}
	return &Output{dst: dst, format: format, stop: stop}
}

// Format implements [audio.Output].
func (o *Output) Format() audio.Format { return o.format }

// Write implements [audio.Output].
func (o *Output) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return audio.ErrClosed
	}
	if _, err := o.dst.Write(pcm); err != nil {
		if o.closed.Load() {
			return audio.ErrClosed
		}
		return fmt.Errorf("pipe: write: %w", err)
	}
	return nil
}

// Close implements [audio.Output]. It does not wait for an in-flight Write;
// closing dst unblocks it. Safe to call more than once.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		err = o.dst.Close()
		if o.stop != nil {
			if serr := o.stop(); serr != nil && err == nil {
				err = serr
			}
		}
	})
	return err
}
