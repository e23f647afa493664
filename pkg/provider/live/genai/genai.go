// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai) Live client.
//
// It is an alternative to the hand-rolled WebSocket client in package gemini
// and is selected with the "genai" provider name. The SDK owns the wire
// protocol; this package maps live.Config onto LiveConnectConfig and turns the
// SDK's blocking Receive loop into a live.Event stream.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livevox/pkg/provider/live"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	eventBuffer  = 64
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL used by the SDK.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements live.Provider using the Gen AI SDK.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a Provider authenticating with apiKey against the Gemini API
// backend.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Voices returns the prebuilt voices offered by Gemini Live.
func (p *Provider) Voices() []string {
	return append([]string(nil), live.PrebuiltVoices...)
}

// Connect opens a Live session through the SDK.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	cc := &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	model, connectCfg := ConnectConfig(cfg)
	ls, err := client.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	s := &session{
		ls:     ls,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// ConnectConfig maps cfg onto the SDK's model name and LiveConnectConfig.
// Transcription flags map onto empty AudioTranscriptionConfig values.
func ConnectConfig(cfg live.Config) (string, *genai.LiveConnectConfig) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	out := &genai.LiveConnectConfig{}
	for _, m := range cfg.ResponseModalities {
		out.ResponseModalities = append(out.ResponseModalities, genai.Modality(m))
	}
	if len(out.ResponseModalities) == 0 {
		out.ResponseModalities = []genai.Modality{genai.ModalityAudio}
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.InputAudioTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputAudioTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return model, out
}

// Messages converts one SDK server message into live messages, following the
// same part layout as the WebSocket client: the first audio part travels with
// the transcripts and flags, further audio parts follow on their own.
func Messages(msg *genai.LiveServerMessage) []*live.ServerMessage {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	first := &live.ServerMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.InputTranscription != nil {
		first.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		first.OutputTranscription = sc.OutputTranscription.Text
	}

	var extra []*live.ServerMessage
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			blob := &live.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
			if first.Audio == nil {
				first.Audio = blob
				continue
			}
			extra = append(extra, &live.ServerMessage{Audio: blob})
		}
	}

	out := make([]*live.ServerMessage, 0, 1+len(extra))
	if !first.Empty() {
		out = append(out, first)
	}
	return append(out, extra...)
}

type session struct {
	ls     *genai.Session
	events chan live.Event

	mu     sync.Mutex
	closed bool
	ended  bool
	opened bool
	done   chan struct{}
}

func (s *session) receiveLoop() {
	defer close(s.events)
	defer func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
	}()

	for {
		msg, err := s.ls.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.emit(finalEvent(err))
			return
		}
		if msg.SetupComplete != nil {
			s.mu.Lock()
			first := !s.opened
			s.opened = true
			s.mu.Unlock()
			if first && !s.emit(live.Event{Type: live.EventOpen}) {
				return
			}
		}
		if msg.GoAway != nil {
			slog.Info("genai: server requested disconnect")
		}
		for _, m := range Messages(msg) {
			if !s.emit(live.Event{Type: live.EventMessage, Message: m}) {
				return
			}
		}
	}
}

// finalEvent classifies the error that ended Receive. The SDK reads through a
// gorilla WebSocket, so a close frame surfaces as a *websocket.CloseError.
func finalEvent(err error) live.Event {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		var ce *websocket.CloseError
		reason := ""
		if errors.As(err, &ce) {
			reason = ce.Text
		}
		return live.Event{Type: live.EventClose, Reason: reason}
	}
	return live.Event{Type: live.EventError, Err: fmt.Errorf("genai: receive: %w", err)}
}

func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events returns the session's inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// SendRealtimeInput delivers one microphone chunk as realtime audio input.
func (s *session) SendRealtimeInput(b live.Blob) error {
	s.mu.Lock()
	if s.closed || s.ended {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	s.mu.Unlock()

	err := s.ls.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: b.MIMEType, Data: b.Data},
	})
	if err != nil {
		return fmt.Errorf("genai: send realtime input: %w", err)
	}
	return nil
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.ls.Close(); err != nil {
		slog.Debug("genai: close session", "err", err)
	}
	return nil
}
