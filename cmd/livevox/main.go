// Command livevox runs a real-time voice conversation with a Gemini Live
// model, bridging a local or Discord audio device to the remote session.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livevox/internal/app"
	"github.com/MrWong99/livevox/internal/config"
	"github.com/MrWong99/livevox/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

// shutdownTimeout bounds teardown after the run loop exits.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "livevox:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "livevox",
		Short: "Real-time voice conversations with Gemini Live",
		Long: `livevox streams microphone audio to a Gemini Live model and plays the
spoken reply, with a live transcript, a terminal console, an HTTP/WebSocket
API and optional Discord voice channel support.

Running livevox without a subcommand is the same as "livevox run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "livevox.yaml", "path to the YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the voice client",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServer(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load the configuration, report problems and print a summary",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), cfg)
				return nil
			},
		},
		newVoicesCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "livevox", version)
			},
		},
	)
	return root
}

func newVoicesCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the prebuilt voices accepted by live.voice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := app.NewProvider(config.LiveConfig{Provider: providerName}, "")
			if err != nil {
				return err
			}
			for _, v := range p.Voices() {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", config.DefaultProvider, "live provider (gemini-live or genai)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

// runServer loads the config, wires the app and blocks until a signal, a
// console quit or a fatal component error.
func runServer(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	level := new(slog.LevelVar)

	var application *app.App
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		if application != nil {
			application.Reload(old, new)
		}
	})
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
	}
	if err != nil {
		return err
	}
	cfg := watcher.Current()

	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("livevox starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads the config without waiting for the next poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				watcher.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	otelShutdown, err := observe.InitProvider(ctx, observe.WithServiceVersion(version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if !cfg.Console.IsEnabled() {
		printSummary(os.Stdout, cfg)
	}

	application, err = app.New(ctx, cfg,
		app.WithLogLevel(level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := application.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return errors.Join(append([]error{runErr}, errs...)...)
}

// printSummary writes a short overview of the effective configuration.
func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           livevox: startup summary        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	printRow(w, "Provider", cfg.Live.Provider)
	printRow(w, "Model", cfg.Live.Model)
	printRow(w, "Voice", cfg.Live.Voice)
	printRow(w, "Audio", string(cfg.Audio.Device))
	if cfg.Audio.Device == config.DeviceDiscord {
		printRow(w, "Channel", cfg.Discord.ChannelID)
	} else {
		printRow(w, "Capture", strings.Join(cfg.Audio.InputCommand, " "))
		printRow(w, "Playback", strings.Join(cfg.Audio.OutputCommand, " "))
	}
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}

func printRow(w io.Writer, key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 25 {
		value = string(r[:24]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s : %-25s ║\n", key, value)
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
