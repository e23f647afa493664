// Package config provides the configuration schema, loader and file watcher
// for the livevox voice client.
package config

import "log/slog"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DeviceKind selects the audio backend.
type DeviceKind string

const (
	// DevicePipe exchanges PCM with external recorder and player processes.
	DevicePipe DeviceKind = "pipe"

	// DeviceDiscord uses a Discord voice channel as microphone and speaker.
	DeviceDiscord DeviceKind = "discord"
)

// IsValid reports whether d is a recognised device kind.
func (d DeviceKind) IsValid() bool {
	return d == DevicePipe || d == DeviceDiscord
}

// Config is the root configuration structure for livevox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Live       LiveConfig       `yaml:"live"`
	Audio      AudioConfig      `yaml:"audio"`
	Discord    DiscordConfig    `yaml:"discord"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Console    ConsoleConfig    `yaml:"console"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LiveConfig selects and configures the remote conversational service.
type LiveConfig struct {
	// Provider is the backend name; see [ValidProviderNames].
	Provider string `yaml:"provider"`

	// APIKey is the credential. Prefer APIKeyEnv for anything checked in.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the model id without the "models/" prefix.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// SystemInstruction is the persona text. SystemInstructionFile, when set,
	// takes precedence and is read at startup.
	SystemInstruction     string `yaml:"system_instruction"`
	SystemInstructionFile string `yaml:"system_instruction_file"`
}

// AudioConfig configures the local audio pipeline.
type AudioConfig struct {
	Device DeviceKind `yaml:"device"`

	// FrameSize is the number of 16 kHz samples per outbound frame.
	FrameSize int `yaml:"frame_size"`

	// InputRate and OutputRate are the PCM rates of the pipe commands.
	InputRate  int `yaml:"input_rate"`
	OutputRate int `yaml:"output_rate"`

	InputCommand  []string `yaml:"input_command"`
	OutputCommand []string `yaml:"output_command"`

	// OutputGain scales playback before analysis. Zero means unity.
	OutputGain float64 `yaml:"output_gain"`
}

// DiscordConfig identifies the voice channel used when audio.device is
// discord. The first participant heard in the channel is the speaker.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`

	// OperatorRoleID limits /livevox connect and disconnect to members with
	// this role. Empty allows everyone in the guild.
	OperatorRoleID string `yaml:"operator_role_id"`
}

// TranscriptConfig bounds the in-memory conversation history.
type TranscriptConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// ConsoleConfig controls the terminal view.
type ConsoleConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the console is on. It defaults to true.
func (c ConsoleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
