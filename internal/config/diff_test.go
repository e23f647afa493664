package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/livevox/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.SessionChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_SessionFields(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Live.Voice = "Puck"
	new.Live.SystemInstruction = "Be brief."

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Fatal("expected SessionChanged=true")
	}
	want := []string{"live.voice", "live.system_instruction"}
	if !slices.Equal(d.SessionFields, want) {
		t.Errorf("SessionFields = %v, want %v", d.SessionFields, want)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Live.Provider = "genai"
	new.Audio.OutputCommand = []string{"paplay", "--raw"}
	new.Discord.ChannelID = "42"

	d := config.Diff(old, new)
	want := []string{"live.provider", "audio.output_command", "discord"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.SessionChanged {
		t.Error("expected SessionChanged=false")
	}
}
