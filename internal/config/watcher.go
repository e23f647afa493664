package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the file. The cheap stat fields gate
// the read; the digest decides whether the content really changed.
type fingerprint struct {
	mod  time.Time
	size int64
	sum  [sha256.Size]byte
}

func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.mod.Equal(info.ModTime()) && f.size == info.Size()
}

// Watcher keeps the latest valid config from a file. It polls the file and
// also re-reads it on demand through [Watcher.Reload]. An edit that fails to
// parse or validate is logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	reload   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path, failing if it is not a valid config. onChange runs
// on the Run goroutine after every accepted edit.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks Run to re-read the file now, skipping the stat shortcut.
// Requests made while one is pending are merged.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done or Stop is called. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			w.poll(false)
		case <-w.reload:
			slog.Info("config watcher: reload requested", "path", w.path)
			w.poll(true)
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
			return
		}
		w.mu.Lock()
		unchanged := w.seen.sameStat(info)
		w.mu.Unlock()
		if unchanged {
			return
		}
	}

	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config watcher: edit rejected, keeping current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if fp.sum == w.seen.sum {
		w.seen = fp
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.seen = cfg, fp
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: config changed",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"session_fields", d.SessionFields,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and fingerprints the file.
func (w *Watcher) read() (*Config, fingerprint, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mod: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
