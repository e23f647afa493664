package genai

import (
	"errors"
	"testing"

	"github.com/MrWong99/livevox/pkg/provider/live"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

func TestConnectConfig_MapsAllFields(t *testing.T) {
	t.Parallel()

	model, cfg := ConnectConfig(live.Config{
		Model:                    "m-1",
		ResponseModalities:       []live.Modality{live.ModalityAudio},
		Voice:                    "Puck",
		SystemInstruction:        "Be brief.",
		InputAudioTranscription:  true,
		OutputAudioTranscription: true,
	})
	if model != "m-1" {
		t.Errorf("model = %q, want m-1", model)
	}
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig == nil || cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Errorf("speech config = %+v", cfg.SpeechConfig)
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("transcription configs must be set when enabled")
	}
}

func TestConnectConfig_Defaults(t *testing.T) {
	t.Parallel()

	model, cfg := ConnectConfig(live.Config{})
	if model != defaultModel {
		t.Errorf("model = %q, want %q", model, defaultModel)
	}
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("default modalities = %v, want [AUDIO]", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig != nil || cfg.SystemInstruction != nil {
		t.Error("empty voice and instruction must be omitted")
	}
	if cfg.InputAudioTranscription != nil || cfg.OutputAudioTranscription != nil {
		t.Error("transcription must be omitted when disabled")
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}},
				{Text: "ignored"},
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{3, 4}}},
			}},
			InputTranscription:  &genai.Transcription{Text: "Hello"},
			OutputTranscription: &genai.Transcription{Text: "Hi there"},
			Interrupted:         true,
		},
	}
	got := Messages(msg)
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].Audio == nil || got[0].Audio.Data[0] != 1 || got[0].InputTranscription != "Hello" ||
		got[0].OutputTranscription != "Hi there" || !got[0].Interrupted {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Audio == nil || got[1].Audio.Data[0] != 3 || got[1].InputTranscription != "" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestMessages_NoContent(t *testing.T) {
	t.Parallel()

	if got := Messages(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
	if got := Messages(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{}}); len(got) != 0 {
		t.Errorf("empty content produced %v", got)
	}
}

func TestFinalEvent(t *testing.T) {
	t.Parallel()

	ev := finalEvent(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"})
	if ev.Type != live.EventClose || ev.Reason != "bye" {
		t.Errorf("normal close = %+v", ev)
	}
	ev = finalEvent(&websocket.CloseError{Code: websocket.CloseInternalServerErr, Text: "boom"})
	if ev.Type != live.EventError {
		t.Errorf("internal error close = %+v, want error", ev)
	}
	ev = finalEvent(errors.New("connection reset"))
	if ev.Type != live.EventError || ev.Err == nil {
		t.Errorf("read failure = %+v, want error", ev)
	}
}
