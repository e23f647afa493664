package pipe_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/MrWong99/livevox/pkg/audio/pipe"
)

type nopWriteCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *nopWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *nopWriteCloser) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestReaderInput_FramesCarryFormatAndAlign(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	in := pipe.NewReaderInput(pr, audio.Mono(16000))
	defer in.Close()

	go func() {
		// 3 bytes then 3 bytes: the odd byte must be carried over.
		pw.Write([]byte{1, 0, 2})
		pw.Write([]byte{0, 3, 0})
		pw.Close()
	}()

	var got []byte
	for frame := range in.Frames() {
		if frame.SampleRate != 16000 || frame.Channels != 1 {
			t.Errorf("frame format = %d/%d, want 16000/1", frame.SampleRate, frame.Channels)
		}
		if len(frame.Data)%2 != 0 {
			t.Errorf("frame has odd length %d", len(frame.Data))
		}
		got = append(got, frame.Data...)
	}
	if want := []byte{1, 0, 2, 0, 3, 0}; !bytes.Equal(got, want) {
		t.Errorf("data = %v, want %v", got, want)
	}
}

func TestReaderInput_CloseStopsReader(t *testing.T) {
	t.Parallel()

	pr, _ := io.Pipe()
	in := pipe.NewReaderInput(pr, audio.Mono(16000))

	done := make(chan struct{})
	go func() {
		for range in.Frames() {
		}
		close(done)
	}()

	if err := in.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Frames channel not closed after Close")
	}
}

func TestWriterOutput(t *testing.T) {
	t.Parallel()

	dst := &nopWriteCloser{}
	var stopped bool
	out := pipe.NewWriterOutput(dst, audio.Mono(24000), func() error {
		stopped = true
		return nil
	})
	if out.Format() != audio.Mono(24000) {
		t.Errorf("Format = %+v", out.Format())
	}
	if err := out.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !dst.closed || !stopped {
		t.Errorf("closed=%v stopped=%v, want both true", dst.closed, stopped)
	}
	if err := out.Write([]byte{5, 6}); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
	if got := dst.buf.Bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("written = %v", got)
	}
}

func TestDevice_NoCommands(t *testing.T) {
	t.Parallel()

	d := &pipe.Device{}
	if _, err := d.OpenInput(context.Background(), audio.Format{}); err == nil {
		t.Error("expected error without input command")
	}
	if _, err := d.OpenOutput(context.Background(), audio.Format{}); err == nil {
		t.Error("expected error without output command")
	}
}

func TestDevice_InputFromProcess(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}
	d := &pipe.Device{
		InputCommand: []string{"head", "-c", "64", "/dev/zero"},
		InputRate:    16000,
	}
	in, err := d.OpenInput(context.Background(), audio.Mono(16000))
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	total := 0
	timeout := time.After(2 * time.Second)
	for total < 64 {
		select {
		case frame, ok := <-in.Frames():
			if !ok {
				t.Fatalf("stream ended after %d bytes", total)
			}
			total += len(frame.Data)
		case <-timeout:
			t.Fatalf("timed out after %d bytes", total)
		}
	}
}

func TestDevice_OutputToProcess(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	d := &pipe.Device{OutputCommand: []string{"cat"}, OutputRate: 24000}
	out, err := d.OpenOutput(context.Background(), audio.Mono(24000))
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := out.Write(make([]byte, 480)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDevice_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &pipe.Device{InputCommand: []string{"true"}}
	if _, err := d.OpenInput(ctx, audio.Format{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
