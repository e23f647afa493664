package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livevox/internal/observe"
	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/MrWong99/livevox/pkg/audio/playout"
	provider "github.com/MrWong99/livevox/pkg/provider/live"
)

// Scheduler places inbound audio chunks back to back on a playout context's
// sample clock and cuts them off on interruption.
//
// The clock (nextStart) only moves forward while chunks arrive. It is reset
// to zero by [Scheduler.Interrupt] and [Scheduler.Close]; the next chunk then
// starts at the context's current render position.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	pctx    *playout.Context
	metrics *observe.Metrics

	mu        sync.Mutex
	nextStart int64
	active    map[*playout.Voice]struct{}
	closed    bool

	// decMu guards the resampler, which carries filter state from one chunk
	// to the next.
	decMu     sync.Mutex
	resampler *audio.Resampler
	srcRate   int
}

// NewScheduler creates a Scheduler rendering on pctx. A nil m records to
// [observe.DefaultMetrics].
func NewScheduler(pctx *playout.Context, m *observe.Metrics) *Scheduler {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Scheduler{
		pctx:    pctx,
		metrics: m,
		active:  make(map[*playout.Voice]struct{}),
	}
}

// Schedule decodes one PCM16LE chunk and starts it at
// max(nextStart, current position). Decode failures are logged, counted and
// returned; the clock is left untouched. A resampled chunk can yield no
// samples yet while the filter fills; Schedule then returns a nil voice and
// no error.
func (s *Scheduler) Schedule(b provider.Blob) (*playout.Voice, error) {
	ctx := context.Background()
	samples, err := s.decode(b)
	if err != nil {
		slog.Warn("live: decode audio chunk", "mime_type", b.MIMEType, "bytes", len(b.Data), "err", err)
		s.metrics.ChunkDecodeFailures.Add(ctx, 1)
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, playout.ErrContextClosed
	}
	start := max(s.nextStart, s.pctx.Position())
	v, err := s.pctx.Start(samples, start)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("live: schedule chunk: %w", err)
	}
	s.active[v] = struct{}{}
	s.nextStart = start + v.Len()
	s.mu.Unlock()

	// The voice may already have ended on the render goroutine; OnEnded then
	// runs remove immediately, so it must be called without s.mu.
	v.OnEnded(func() { s.remove(v) })
	s.metrics.ChunksScheduled.Add(ctx, 1)
	return v, nil
}

// decode converts a chunk to mono float samples at the context rate. Chunks
// whose MIME rate differs from the context rate go through one resampler per
// source rate.
func (s *Scheduler) decode(b provider.Blob) ([]float32, error) {
	if len(b.Data) == 0 {
		return nil, errors.New("empty chunk")
	}
	rate := s.pctx.Format().SampleRate
	src := audio.PlaybackSampleRate
	if b.MIMEType != "" {
		r, err := audio.ParsePCMRate(b.MIMEType, audio.PlaybackSampleRate)
		if err != nil {
			return nil, err
		}
		src = r
	}
	samples, err := audio.PCM16ToFloat32(b.Data)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("chunk shorter than one sample")
	}
	if src == rate {
		return samples, nil
	}

	s.decMu.Lock()
	defer s.decMu.Unlock()
	if s.resampler == nil || s.srcRate != src {
		if s.resampler, err = audio.NewResampler(src, rate); err != nil {
			return nil, err
		}
		s.srcRate = src
	}
	return s.resampler.Process(samples)
}

func (s *Scheduler) remove(v *playout.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, v)
}

// Interrupt stops every active voice, clears the active set and resets the
// clock to zero. Each stop is attempted independently; failures are counted
// and otherwise ignored. It returns the number of voices that were active.
func (s *Scheduler) Interrupt() int {
	s.resetResampler()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAllLocked()
}

// resetResampler drops filter state so audio cut by an interruption does not
// bleed into the next chunk.
func (s *Scheduler) resetResampler() {
	s.decMu.Lock()
	defer s.decMu.Unlock()
	s.resampler, s.srcRate = nil, 0
}

func (s *Scheduler) stopAllLocked() int {
	n := len(s.active)
	for v := range s.active {
		if err := v.Stop(); err != nil {
			slog.Debug("live: stop voice", "err", err)
			s.metrics.VoiceStopFailures.Add(context.Background(), 1)
		}
	}
	clear(s.active)
	s.nextStart = 0
	return n
}

// Close stops all voices and rejects further chunks. Safe to call more than
// once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopAllLocked()
	s.closed = true
}

// Active returns the number of voices that are scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the playback clock: the earliest time the next chunk may
// begin, measured on the context clock.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pctx.Format().Duration(s.nextStart)
}
