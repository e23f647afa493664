package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/livevox/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "unknown provider",
			yaml: "live:\n  provider: openai-realtime\n",
			want: []string{"live.provider", "gemini-live, genai"},
		},
		{
			name: "unknown device",
			yaml: "audio:\n  device: alsa\n",
			want: []string{"audio.device", "pipe, discord"},
		},
		{
			name: "negative frame size",
			yaml: "audio:\n  frame_size: -1\n",
			want: []string{"audio.frame_size"},
		},
		{
			name: "gain out of range",
			yaml: "audio:\n  output_gain: 9\n",
			want: []string{"audio.output_gain"},
		},
		{
			name: "discord without ids",
			yaml: "audio:\n  device: discord\n",
			want: []string{"discord.token", "discord.guild_id", "discord.channel_id"},
		},
		{
			name: "half tls",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: []string{"server.tls"},
		},
		{
			name: "negative transcript cap",
			yaml: "transcript:\n  max_entries: -5\n",
			want: []string{"transcript.max_entries"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
live:
  provider: nope
audio:
  device: discord
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	if n := strings.Count(err.Error(), "\n") + 1; n < 5 {
		t.Errorf("expected at least 5 joined errors, got %d: %v", n, err)
	}
}

func TestValidate_DiscordDevice(t *testing.T) {
	t.Parallel()

	yaml := `
audio:
  device: discord
discord:
  token: bot-token
  guild_id: "1"
  channel_id: "2"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(cfg.Audio.InputCommand) != 0 {
		t.Errorf("discord device should not get pipe commands, got %v", cfg.Audio.InputCommand)
	}
}

func TestValidate_PipeRequiresCommands(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Live: config.LiveConfig{Provider: "gemini-live"}, Audio: config.AudioConfig{Device: config.DevicePipe}}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, w := range []string{"audio.input_command", "audio.output_command"} {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("error should mention %q, got: %v", w, err)
		}
	}
}

func TestValidate_MissingProvider(t *testing.T) {
	t.Parallel()

	err := config.Validate(&config.Config{})
	if err == nil || !strings.Contains(err.Error(), "live.provider is required") {
		t.Errorf("err = %v, want live.provider is required", err)
	}
}
