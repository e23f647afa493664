package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultProvider    = "gemini-live"
	DefaultAPIKeyEnv   = "GEMINI_API_KEY"
	FallbackAPIKeyEnv  = "API_KEY"
	DefaultModel       = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice       = "Kore"
	DefaultFrameSize   = 4096
	DefaultInputRate   = 16000
	DefaultOutputRate  = 24000
	DefaultMaxEntries  = 50
	DefaultInstruction = "You are a friendly, concise voice assistant. Keep answers short and conversational."
)

// ValidProviderNames lists the accepted backend names per kind. [Validate]
// rejects any other value.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live", "genai"},
	"audio": {"pipe", "discord"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Live.Provider == "" {
		cfg.Live.Provider = DefaultProvider
	}
	if cfg.Live.APIKeyEnv == "" {
		cfg.Live.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Live.Model == "" {
		cfg.Live.Model = DefaultModel
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultVoice
	}
	if cfg.Live.SystemInstruction == "" && cfg.Live.SystemInstructionFile == "" {
		cfg.Live.SystemInstruction = DefaultInstruction
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DevicePipe
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.InputRate == 0 {
		cfg.Audio.InputRate = DefaultInputRate
	}
	if cfg.Audio.OutputRate == 0 {
		cfg.Audio.OutputRate = DefaultOutputRate
	}
	if cfg.Audio.OutputGain == 0 {
		cfg.Audio.OutputGain = 1
	}
	if cfg.Audio.Device == DevicePipe {
		if len(cfg.Audio.InputCommand) == 0 {
			cfg.Audio.InputCommand = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(cfg.Audio.InputRate)}
		}
		if len(cfg.Audio.OutputCommand) == 0 {
			cfg.Audio.OutputCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(cfg.Audio.OutputRate)}
		}
	}
	if cfg.Transcript.MaxEntries == 0 {
		cfg.Transcript.MaxEntries = DefaultMaxEntries
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Live
	if cfg.Live.Provider == "" {
		errs = append(errs, errors.New("live.provider is required"))
	} else if !slices.Contains(ValidProviderNames["live"], cfg.Live.Provider) {
		errs = append(errs, fmt.Errorf("live.provider %q is invalid; valid values: %s",
			cfg.Live.Provider, strings.Join(ValidProviderNames["live"], ", ")))
	}
	if cfg.Live.SystemInstruction != "" && cfg.Live.SystemInstructionFile != "" {
		slog.Warn("live.system_instruction_file overrides live.system_instruction")
	}
	if cfg.Live.APIKey != "" {
		slog.Warn("live.api_key is set inline; prefer live.api_key_env")
	}

	// Audio
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: %s",
			cfg.Audio.Device, strings.Join(ValidProviderNames["audio"], ", ")))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.InputRate < 0 || cfg.Audio.OutputRate < 0 {
		errs = append(errs, errors.New("audio.input_rate and audio.output_rate must be positive"))
	}
	if cfg.Audio.OutputGain < 0 || cfg.Audio.OutputGain > 4 {
		errs = append(errs, fmt.Errorf("audio.output_gain %.2f is out of range [0, 4]", cfg.Audio.OutputGain))
	}
	if cfg.Audio.Device == DevicePipe {
		if len(cfg.Audio.InputCommand) == 0 {
			errs = append(errs, errors.New("audio.input_command is required for the pipe device"))
		}
		if len(cfg.Audio.OutputCommand) == 0 {
			errs = append(errs, errors.New("audio.output_command is required for the pipe device"))
		}
	}

	// Discord
	if cfg.Audio.Device == DeviceDiscord {
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required for the discord device"))
		}
		if cfg.Discord.GuildID == "" {
			errs = append(errs, errors.New("discord.guild_id is required for the discord device"))
		}
		if cfg.Discord.ChannelID == "" {
			errs = append(errs, errors.New("discord.channel_id is required for the discord device"))
		}
	}

	// Transcript
	if cfg.Transcript.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("transcript.max_entries %d must be positive", cfg.Transcript.MaxEntries))
	}

	return errors.Join(errs...)
}

// Credential returns a function that resolves the API key each time it is
// called: live.api_key first, then the live.api_key_env variable, then
// API_KEY. The lookup is deferred so a key exported after startup is picked
// up by the next connect.
func (c LiveConfig) Credential(getenv func(string) string) func() string {
	if getenv == nil {
		getenv = os.Getenv
	}
	return func() string {
		if c.APIKey != "" {
			return c.APIKey
		}
		env := c.APIKeyEnv
		if env == "" {
			env = DefaultAPIKeyEnv
		}
		if v := getenv(env); v != "" {
			return v
		}
		return getenv(FallbackAPIKeyEnv)
	}
}

// Instruction returns the persona text, reading SystemInstructionFile when
// set.
func (c LiveConfig) Instruction() (string, error) {
	if c.SystemInstructionFile == "" {
		return c.SystemInstruction, nil
	}
	data, err := os.ReadFile(c.SystemInstructionFile)
	if err != nil {
		return "", fmt.Errorf("config: read system instruction: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
