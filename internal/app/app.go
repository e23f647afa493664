// Package app wires the livevox subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the audio device, live
// session manager and control surfaces from the config, Run serves them until
// the context ends or the operator quits, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithProviderFactory, WithListener, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livevox/internal/config"
	"github.com/MrWong99/livevox/internal/console"
	"github.com/MrWong99/livevox/internal/discord"
	"github.com/MrWong99/livevox/internal/health"
	"github.com/MrWong99/livevox/internal/live"
	"github.com/MrWong99/livevox/internal/observe"
	"github.com/MrWong99/livevox/internal/resilience"
	"github.com/MrWong99/livevox/internal/server"
	"github.com/MrWong99/livevox/pkg/audio"
	"github.com/MrWong99/livevox/pkg/audio/pipe"
	provider "github.com/MrWong99/livevox/pkg/provider/live"
	"github.com/MrWong99/livevox/pkg/provider/live/gemini"
	"github.com/MrWong99/livevox/pkg/provider/live/genai"
)

// ProviderFactory builds the live provider for one connect from the current
// live settings and the credential read for it.
type ProviderFactory func(cfg config.LiveConfig, apiKey string) (provider.Provider, error)

// NewProvider is the default [ProviderFactory]. It maps live.provider to the
// raw WebSocket client ("gemini-live") or the SDK client ("genai").
func NewProvider(cfg config.LiveConfig, apiKey string) (provider.Provider, error) {
	switch cfg.Provider {
	case "gemini-live":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(apiKey, opts...), nil
	case "genai":
		var opts []genai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(cfg.BaseURL))
		}
		return genai.New(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("app: unknown live provider %q", cfg.Provider)
	}
}

// SessionConfig builds the session configuration sent on connect. Audio is
// the only response modality and both transcriptions are always on.
func SessionConfig(cfg config.LiveConfig) (provider.Config, error) {
	instruction, err := cfg.Instruction()
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		Model:                    cfg.Model,
		ResponseModalities:       []provider.Modality{provider.ModalityAudio},
		Voice:                    cfg.Voice,
		SystemInstruction:        instruction,
		InputAudioTranscription:  true,
		OutputAudioTranscription: true,
	}, nil
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// live holds the live settings currently in effect. Reload swaps it so the
	// credential and provider factory see edits without a restart.
	live atomic.Pointer[config.LiveConfig]

	device      audio.Device
	newProvider ProviderFactory
	getenv      func(string) string
	level       *slog.LevelVar
	metrics     *observe.Metrics
	stdin       io.Reader
	stdout      io.Writer
	listener    net.Listener
	watcher     *config.Watcher
	breaker     *resilience.Breaker

	manager *live.Manager
	bot     *discord.Bot
	server  *server.Server
	console *console.Console

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects the audio device instead of building one from
// audio.device. No Discord bot is started when a device is injected.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithProviderFactory replaces [NewProvider].
func WithProviderFactory(f ProviderFactory) Option {
	return func(a *App) { a.newProvider = f }
}

// WithStdio sets the console's input and output. Default os.Stdin and
// os.Stdout.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = in, out }
}

// WithListener serves the HTTP API on ln instead of server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGetenv replaces os.Getenv for credential lookup.
func WithGetenv(f func(string) string) Option {
	return func(a *App) { a.getenv = f }
}

// WithLogLevel lets Reload adjust the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithBreaker replaces the circuit breaker guarding provider connects.
func WithBreaker(b *resilience.Breaker) Option {
	return func(a *App) { a.breaker = b }
}

// WithWatcher runs w alongside the app. Its callback should call
// [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// New creates an App from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		newProvider: NewProvider,
		getenv:      os.Getenv,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.breaker == nil {
		a.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: cfg.Live.Provider})
	}
	liveCfg := cfg.Live
	a.live.Store(&liveCfg)

	sessCfg, err := SessionConfig(cfg.Live)
	if err != nil {
		return nil, fmt.Errorf("app: session config: %w", err)
	}

	if err := a.initDevice(ctx); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("app: init device: %w", err)
	}

	a.manager = live.NewManager(live.ManagerConfig{
		Device: a.device,
		NewProvider: func(apiKey string) (provider.Provider, error) {
			p, err := a.newProvider(*a.live.Load(), apiKey)
			if err != nil {
				return nil, err
			}
			return resilience.GuardProvider(p, a.breaker), nil
		},
		ProviderName:   cfg.Live.Provider,
		Credential:     a.credential,
		Session:        sessCfg,
		FrameSize:      cfg.Audio.FrameSize,
		MaxTranscripts: cfg.Transcript.MaxEntries,
		OutputGain:     float32(cfg.Audio.OutputGain),
		Metrics:        a.metrics,
	})
	// The manager goes first so the session ends before its device closes.
	a.closers = append([]func() error{a.manager.Close}, a.closers...)

	if a.bot != nil {
		a.bot.Attach(a.manager)
	}

	hh := health.New(
		health.Credential(a.credential),
		health.Session(a.manager.Err),
		health.Provider(a.breaker.Err),
	)
	a.server = server.New(a.manager,
		server.WithHealth(hh),
		server.WithMetrics(a.metrics),
	)

	if cfg.Console.IsEnabled() {
		a.console = console.New(a.manager, a.stdin, a.stdout)
	}

	slog.Info("app initialised",
		"provider", cfg.Live.Provider,
		"model", cfg.Live.Model,
		"voice", cfg.Live.Voice,
		"device", cfg.Audio.Device,
		"console", a.console != nil,
	)
	return a, nil
}

// initDevice builds the audio device from audio.device unless one was
// injected.
func (a *App) initDevice(ctx context.Context) error {
	if a.device != nil {
		return nil
	}
	switch a.cfg.Audio.Device {
	case config.DevicePipe:
		a.device = &pipe.Device{
			InputCommand:  a.cfg.Audio.InputCommand,
			OutputCommand: a.cfg.Audio.OutputCommand,
			InputRate:     a.cfg.Audio.InputRate,
			OutputRate:    a.cfg.Audio.OutputRate,
		}
		return nil
	case config.DeviceDiscord:
		bot, err := discord.New(ctx, discord.Config{
			Token:          a.cfg.Discord.Token,
			GuildID:        a.cfg.Discord.GuildID,
			ChannelID:      a.cfg.Discord.ChannelID,
			OperatorRoleID: a.cfg.Discord.OperatorRoleID,
		})
		if err != nil {
			return err
		}
		a.bot = bot
		a.device = bot.Device()
		a.closers = append(a.closers, bot.Close)
		return nil
	default:
		return fmt.Errorf("unknown audio device %q", a.cfg.Audio.Device)
	}
}

// credential resolves the API key from the live settings in effect.
func (a *App) credential() string {
	return a.live.Load().Credential(a.getenv)()
}

// Manager returns the live session manager.
func (a *App) Manager() *live.Manager { return a.manager }

// Reload applies a changed config. The log level changes immediately; session
// settings and the credential apply on the next connect. Everything else is
// logged as needing a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.SessionChanged {
		sessCfg, err := SessionConfig(new.Live)
		if err != nil {
			slog.Warn("config reload: keeping previous session settings", "err", err)
		} else {
			liveCfg := a.live.Load()
			next := new.Live
			// Provider and endpoint are fixed for the process.
			next.Provider, next.BaseURL = liveCfg.Provider, liveCfg.BaseURL
			a.live.Store(&next)
			a.manager.SetSessionConfig(sessCfg)
			slog.Info("session settings updated", "fields", d.SessionFields)
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: restart required to apply", "fields", d.RestartRequired)
	}
}

// Run serves the HTTP API, the console, the config watcher and the Discord
// bot until ctx is cancelled or the operator quits the console. It returns
// the first component error, or nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	tls := a.cfg.Server.TLS
	certFile, keyFile := "", ""
	if tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	g.Go(func() error {
		if a.listener != nil {
			return a.server.Serve(ctx, a.listener, certFile, keyFile)
		}
		return a.server.ListenAndServe(ctx, a.cfg.Server.ListenAddr, certFile, keyFile)
	})

	if a.console != nil {
		g.Go(func() error {
			defer cancel()
			return a.console.Run(ctx)
		})
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(ctx) })
	}

	slog.Info("app running")
	return g.Wait()
}

// Shutdown ends any session and releases every subsystem. Safe to call more
// than once.
func (a *App) Shutdown() error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("app shut down")
	})
	return errors.Join(errs...)
}
