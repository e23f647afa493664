// Package live implements the real-time voice conversation session manager.
//
// A [Manager] owns one conversation at a time: it acquires a capture input and
// a playback output from an [audio.Device], opens a remote session through a
// provider, streams 16 kHz microphone frames out, schedules inbound 24 kHz
// speech gap-free on a sample clock, cuts playback on interruption, and keeps
// the transcript of both sides.
//
// State changes are serialised behind one mutex. Every acquired resource
// belongs to a connection attempt tagged with a generation number; events and
// late completions from an attempt that is no longer current are discarded.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livevox/internal/observe"
	"github.com/MrWong99/livevox/internal/transcript"
	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/MrWong99/livevox/pkg/audio/analysis"
	"github.com/MrWong99/livevox/pkg/audio/playout"
	provider "github.com/MrWong99/livevox/pkg/provider/live"
)

// Sentinel errors reported by [Manager.Connect].
var (
	// ErrMissingCredential means no API key was configured.
	ErrMissingCredential = errors.New("live: missing API credential")

	// ErrDeviceUnavailable wraps failures to acquire the capture input or
	// playback output.
	ErrDeviceUnavailable = errors.New("live: audio device unavailable")

	// ErrSessionOpen wraps failures to open the remote session.
	ErrSessionOpen = errors.New("live: open session")

	// ErrConnectAborted is returned by a Connect call that was superseded by
	// Disconnect or Close.
	ErrConnectAborted = errors.New("live: connect aborted")
)

// ProviderFactory builds a provider for one connection attempt from the
// credential read at connect time.
type ProviderFactory func(apiKey string) (provider.Provider, error)

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Device acquires the capture input and playback output. Required.
	Device audio.Device

	// NewProvider builds the remote provider. Required.
	NewProvider ProviderFactory

	// ProviderName labels provider metrics, e.g. "gemini-live".
	ProviderName string

	// Credential returns the API key. It is called exactly once per Connect.
	Credential func() string

	// Session is the fixed session configuration sent on every connect.
	Session provider.Config

	// FrameSize is the outbound frame length in samples. Default 4096.
	FrameSize int

	// MaxTranscripts caps the transcript history. Default 50.
	MaxTranscripts int

	// FFTSize is the analyser window length. Default 256.
	FFTSize int

	// OutputGain is the playback gain. Zero means 1.
	OutputGain float32

	// RenderBlock is the playback render quantum. Default 20ms.
	RenderBlock time.Duration

	// Metrics records pipeline counters. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Snapshot is a consistent view of a Manager for renderers.
type Snapshot struct {
	State       State              `json:"state"`
	SessionID   string             `json:"session_id,omitempty"`
	Error       string             `json:"error,omitempty"`
	Volume      float64            `json:"volume"`
	Playing     int                `json:"playing"`
	Transcripts []transcript.Entry `json:"transcripts"`

	// Frequency is the byte spectrum of the playback output. Nil while no
	// output exists.
	Frequency []byte `json:"frequency,omitempty"`
}

// attempt holds every resource acquired for one connection. Fields are
// written under Manager.mu while the attempt is current and read without the
// lock once it has been detached for release.
type attempt struct {
	gen     uint64
	id      string
	started time.Time
	config  provider.Config

	runCtx    context.Context
	runCancel context.CancelFunc
	abort     context.CancelFunc

	output   audio.Output
	pctx     *playout.Context
	analyser *analysis.Analyser
	sched    *Scheduler
	capture  *capture
	session  provider.Session
	open     bool

	opened  chan struct{}
	ended   chan struct{}
	endOnce sync.Once
	err     error
}

func (a *attempt) finish(err error) {
	a.endOnce.Do(func() {
		a.err = err
		close(a.ended)
	})
}

// log is tagged with the attempt's session ID via runCtx.
func (a *attempt) log() *slog.Logger {
	return observe.Logger(a.runCtx)
}

// Manager is the session lifecycle controller. All exported methods are safe
// for concurrent use.
type Manager struct {
	cfg     ManagerConfig
	metrics *observe.Metrics

	// opMu serialises Disconnect so that a returning call has released
	// everything the previous attempt acquired.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	session    provider.Config
	gen        uint64
	cur        *attempt
	lastErr    error
	volume     float64
	history    *transcript.History
	observers  []func(State)
	pending    []State
	notifying  bool
	closeOnce  sync.Once
	closeError error
}

// NewManager creates a Manager in [StateDisconnected].
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	if cfg.MaxTranscripts <= 0 {
		cfg.MaxTranscripts = transcript.DefaultMaxEntries
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = analysis.DefaultFFTSize
	}
	if cfg.OutputGain == 0 {
		cfg.OutputGain = 1
	}
	if cfg.RenderBlock <= 0 {
		cfg.RenderBlock = playout.DefaultBlock
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "live"
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:     cfg,
		metrics: m,
		state:   StateDisconnected,
		session: cfg.Session,
		history: transcript.New(transcript.WithMaxEntries(cfg.MaxTranscripts)),
	}
}

// SetSessionConfig replaces the session configuration used by the next
// Connect. An open session keeps the configuration it was opened with.
func (m *Manager) SetSessionConfig(cfg provider.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = cfg
}

// OnStateChange registers fn to be called after every state transition, in
// transition order. fn runs without the manager lock held and may call back
// into the Manager.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that moved the manager into [StateError], or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Transcripts returns the retained transcript entries, oldest first.
func (m *Manager) Transcripts() []transcript.Entry {
	return m.history.Entries()
}

// Volume returns the RMS level of the most recent outbound frame.
func (m *Manager) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Analyser returns the playback analyser, or nil while no output exists.
func (m *Manager) Analyser() *analysis.Analyser {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.analyser
}

// Snapshot returns a consistent view of the manager.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		State:  m.state,
		Volume: m.volume,
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	var an *analysis.Analyser
	var sched *Scheduler
	if a := m.cur; a != nil {
		s.SessionID = a.id
		an, sched = a.analyser, a.sched
	}
	m.mu.Unlock()

	s.Transcripts = m.history.Entries()
	if sched != nil {
		s.Playing = sched.Active()
	}
	if an != nil {
		s.Frequency = make([]byte, an.FrequencyBinCount())
		an.ByteFrequencyData(s.Frequency)
	}
	return s
}

// Connect starts a conversation. It is a no-op returning nil unless the
// manager is in [StateDisconnected] or [StateError]. The credential is read
// once; when it is empty the manager moves straight to [StateError] without
// touching the device.
//
// Connect blocks until the remote session reports open, the attempt fails, or
// ctx is cancelled. ctx bounds only the attempt: an established session lives
// until Disconnect or a remote close.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.canConnect() {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	m.volume = 0

	apiKey := ""
	if m.cfg.Credential != nil {
		apiKey = m.cfg.Credential()
	}
	if apiKey == "" {
		m.lastErr = ErrMissingCredential
		m.setStateLocked(StateError)
		m.mu.Unlock()
		m.flush()
		slog.Error("live: API key not found")
		return ErrMissingCredential
	}

	id := uuid.NewString()
	ctx = observe.WithSession(ctx, id)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &attempt{
		gen:       m.gen,
		id:        id,
		started:   time.Now(),
		config:    m.session,
		runCtx:    runCtx,
		runCancel: runCancel,
		opened:    make(chan struct{}),
		ended:     make(chan struct{}),
	}
	m.cur = a
	m.lastErr = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.flush()

	ctx, span := observe.StartSpan(ctx, "live.connect",
		trace.WithAttributes(
			attribute.String("provider", m.cfg.ProviderName),
			attribute.String("model", a.config.Model),
		),
	)
	defer span.End()

	err := m.establish(ctx, a, apiKey)
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrConnectAborted):
		status = "aborted"
	default:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.metrics.RecordConnect(ctx, time.Since(a.started).Seconds(), status)
	return err
}

// establish acquires the attempt's resources in order and waits for the
// session to open.
func (m *Manager) establish(ctx context.Context, a *attempt, apiKey string) error {
	log := observe.Logger(ctx)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !m.attach(a, func() { a.abort = cancel }) {
		return ErrConnectAborted
	}
	if m.cfg.Device == nil || m.cfg.NewProvider == nil {
		return m.fail(a, fmt.Errorf("%w: manager not configured", ErrDeviceUnavailable))
	}

	out, err := m.cfg.Device.OpenOutput(attemptCtx, audio.Mono(audio.PlaybackSampleRate))
	if err != nil {
		return m.fail(a, fmt.Errorf("%w: output: %w", ErrDeviceUnavailable, err))
	}
	an, err := analysis.New(analysis.WithFFTSize(m.cfg.FFTSize))
	if err != nil {
		_ = out.Close()
		return m.fail(a, fmt.Errorf("live: create analyser: %w", err))
	}
	pctx := playout.New(out.Format().SampleRate, out,
		playout.WithTap(an),
		playout.WithGain(m.cfg.OutputGain),
		playout.WithBlock(m.cfg.RenderBlock),
	)
	if !m.attach(a, func() {
		a.output = out
		a.pctx = pctx
		a.analyser = an
		a.sched = NewScheduler(pctx, m.metrics)
	}) {
		_ = pctx.Close()
		return ErrConnectAborted
	}
	go func() {
		if err := pctx.Run(a.runCtx); err != nil && !errors.Is(err, playout.ErrContextClosed) {
			log.Warn("live: playback stopped", "err", err)
		}
	}()

	in, err := m.cfg.Device.OpenInput(attemptCtx, audio.Mono(audio.CaptureSampleRate))
	if err != nil {
		return m.fail(a, fmt.Errorf("%w: input: %w", ErrDeviceUnavailable, err))
	}
	// Capture reads from the start so audio produced before the session
	// opens is dropped by the sink instead of queuing in the input.
	capt := newCapture(in, m.cfg.FrameSize, m.sender(a), m.volumeSetter(a), m.metrics)
	if !m.attach(a, func() {
		a.capture = capt
		capt.start(a.runCtx)
	}) {
		_ = in.Close()
		return ErrConnectAborted
	}

	p, err := m.cfg.NewProvider(apiKey)
	if err != nil {
		return m.fail(a, fmt.Errorf("%w: %w", ErrSessionOpen, err))
	}
	sess, err := p.Connect(attemptCtx, a.config)
	if err != nil {
		m.metrics.RecordProviderError(ctx, m.cfg.ProviderName, "connect")
		return m.fail(a, fmt.Errorf("%w: %w", ErrSessionOpen, err))
	}
	if !m.attach(a, func() { a.session = sess }) {
		_ = sess.Close()
		return ErrConnectAborted
	}
	m.metrics.ActiveSessions.Add(ctx, 1)
	go m.runEvents(a, sess)

	select {
	case <-a.opened:
		log.Info("live: session open", "model", a.config.Model, "voice", a.config.Voice)
		return nil
	case <-a.ended:
		if a.err != nil {
			return a.err
		}
		return fmt.Errorf("%w: closed before open", ErrSessionOpen)
	case <-attemptCtx.Done():
		return m.fail(a, fmt.Errorf("live: connect: %w", attemptCtx.Err()))
	}
}

// attach runs fn under the lock if a is still the current attempt.
func (m *Manager) attach(a *attempt, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(a) {
		return false
	}
	fn()
	return true
}

func (m *Manager) liveLocked(a *attempt) bool {
	return m.cur == a && a.gen == m.gen
}

// sender returns the capture sink for a. Frames are dropped while the
// session is not open or a is no longer current.
func (m *Manager) sender(a *attempt) captureSink {
	return func(b provider.Blob) error {
		m.mu.Lock()
		if !m.liveLocked(a) || !a.open || a.session == nil {
			m.mu.Unlock()
			return errNoSession
		}
		sess := a.session
		m.mu.Unlock()
		return sess.SendRealtimeInput(b)
	}
}

func (m *Manager) volumeSetter(a *attempt) func(float64) {
	return func(v float64) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.liveLocked(a) {
			m.volume = v
		}
	}
}

// runEvents consumes the session's event stream in arrival order until it
// closes.
func (m *Manager) runEvents(a *attempt, sess provider.Session) {
	for ev := range sess.Events() {
		m.handleEvent(a, ev)
	}
}

func (m *Manager) handleEvent(a *attempt, ev provider.Event) {
	switch ev.Type {
	case provider.EventOpen:
		m.mu.Lock()
		if !m.liveLocked(a) || a.open {
			m.mu.Unlock()
			return
		}
		a.open = true
		m.setStateLocked(StateConnected)
		close(a.opened)
		m.mu.Unlock()
		m.flush()

	case provider.EventMessage:
		if ev.Message != nil {
			m.handleMessage(a, ev.Message)
		}

	case provider.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("live: session error")
		}
		a.log().Error("live: session error", "err", err)
		m.metrics.RecordProviderError(context.Background(), m.cfg.ProviderName, "transport")
		m.fail(a, err)

	case provider.EventClose:
		a.log().Info("live: session closed", "reason", ev.Reason)
		m.end(a, StateDisconnected, nil)
	}
}

// handleMessage applies one server message: audio first, then interruption,
// then transcripts.
func (m *Manager) handleMessage(a *attempt, msg *provider.ServerMessage) {
	m.mu.Lock()
	if !m.liveLocked(a) {
		m.mu.Unlock()
		return
	}
	sched := a.sched
	m.mu.Unlock()

	ctx := context.Background()
	if msg.Audio != nil && sched != nil {
		// Decode failures are logged and counted by the scheduler.
		_, _ = sched.Schedule(*msg.Audio)
	}
	if msg.Interrupted && sched != nil {
		n := sched.Interrupt()
		m.metrics.Interruptions.Add(ctx, 1)
		a.log().Debug("live: interrupted", "stopped", n)
	}
	if msg.InputTranscription != "" || msg.OutputTranscription != "" {
		m.mu.Lock()
		if m.liveLocked(a) {
			for _, e := range m.history.AppendMessage(msg.InputTranscription, msg.OutputTranscription) {
				m.metrics.RecordTranscriptEntry(ctx, string(e.Sender))
			}
		}
		m.mu.Unlock()
	}
	if msg.TurnComplete {
		m.metrics.TurnsCompleted.Add(ctx, 1)
		a.log().Debug("live: turn complete")
	}
}

// fail moves a live attempt to [StateError] and releases its resources. It
// returns err, or [ErrConnectAborted] when a is no longer current.
func (m *Manager) fail(a *attempt, err error) error {
	if !m.end(a, StateError, err) {
		return ErrConnectAborted
	}
	return err
}

// end detaches a, records the final state and releases a's resources. The
// transcript is kept for display. It reports false when a was not current.
func (m *Manager) end(a *attempt, s State, err error) bool {
	m.mu.Lock()
	if !m.liveLocked(a) {
		m.mu.Unlock()
		return false
	}
	m.gen++
	m.cur = nil
	m.lastErr = err
	m.volume = 0
	m.setStateLocked(s)
	m.mu.Unlock()

	a.finish(err)
	m.release(a)
	m.flush()
	return true
}

// release tears down a in reverse acquisition order. Every close is attempted
// even when an earlier one fails.
func (m *Manager) release(a *attempt) {
	if a.abort != nil {
		a.abort()
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.log().Warn("live: close session", "err", err)
		}
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if a.capture != nil {
		if err := a.capture.stop(); err != nil {
			a.log().Warn("live: stop capture", "err", err)
		}
	}
	if a.sched != nil {
		a.sched.Close()
	}
	a.runCancel()
	if a.pctx != nil {
		if err := a.pctx.Close(); err != nil {
			a.log().Warn("live: close playback", "err", err)
		}
	} else if a.output != nil {
		_ = a.output.Close()
	}
}

// Disconnect ends the conversation from any state and leaves the manager in
// [StateDisconnected] with an empty transcript. An in-flight Connect is
// aborted. Disconnect is idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.gen++
	a := m.cur
	m.cur = nil
	if a == nil {
		m.resetLocked()
		m.mu.Unlock()
		m.flush()
		return nil
	}
	m.mu.Unlock()

	a.finish(ErrConnectAborted)
	m.release(a)
	observe.Logger(observe.WithSession(ctx, a.id)).Info("live: disconnected")

	m.mu.Lock()
	// A Connect from another caller may have started while a was released;
	// its attempt owns the state now.
	if m.cur == nil {
		m.resetLocked()
	}
	m.mu.Unlock()
	m.flush()
	return nil
}

// resetLocked clears the transcript and error and moves to
// [StateDisconnected]. Must be called with m.mu held and no current attempt.
func (m *Manager) resetLocked() {
	m.history.Clear()
	m.volume = 0
	m.lastErr = nil
	m.setStateLocked(StateDisconnected)
}

// Close disconnects on process shutdown. Only the first call has an effect.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeError = m.Disconnect(context.Background())
	})
	return m.closeError
}

// setStateLocked records a transition and queues it for observers. No-op
// when s equals the current state. Must be called with m.mu held; the caller
// runs flush after unlocking.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.pending = append(m.pending, s)
	m.metrics.RecordStateTransition(context.Background(), s.String())
}

// flush delivers queued transitions to observers in order. Only one
// goroutine delivers at a time; transitions queued meanwhile are picked up by
// the active deliverer.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		obs := slices.Clone(m.observers)
		m.mu.Unlock()
		for _, s := range batch {
			for _, fn := range obs {
				fn(s)
			}
		}
		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}
