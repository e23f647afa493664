package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: session settings
// take effect on the next connect, the log level immediately.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true if any field in SessionFields changed.
	SessionChanged bool
	SessionFields  []string

	// RestartRequired lists changed fields that only apply after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	session := func(field string, changed bool) {
		if changed {
			d.SessionFields = append(d.SessionFields, field)
			d.SessionChanged = true
		}
	}
	session("live.model", old.Live.Model != new.Live.Model)
	session("live.voice", old.Live.Voice != new.Live.Voice)
	session("live.system_instruction", old.Live.SystemInstruction != new.Live.SystemInstruction)
	session("live.system_instruction_file", old.Live.SystemInstructionFile != new.Live.SystemInstructionFile)
	session("live.api_key", old.Live.APIKey != new.Live.APIKey)
	session("live.api_key_env", old.Live.APIKeyEnv != new.Live.APIKeyEnv)

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("live.provider", old.Live.Provider != new.Live.Provider)
	restart("live.base_url", old.Live.BaseURL != new.Live.BaseURL)
	restart("audio.device", old.Audio.Device != new.Audio.Device)
	restart("audio.frame_size", old.Audio.FrameSize != new.Audio.FrameSize)
	restart("audio.output_gain", old.Audio.OutputGain != new.Audio.OutputGain)
	restart("audio.input_command", !slices.Equal(old.Audio.InputCommand, new.Audio.InputCommand))
	restart("audio.output_command", !slices.Equal(old.Audio.OutputCommand, new.Audio.OutputCommand))
	restart("discord", old.Discord != new.Discord)
	restart("transcript.max_entries", old.Transcript.MaxEntries != new.Transcript.MaxEntries)

	return d
}
