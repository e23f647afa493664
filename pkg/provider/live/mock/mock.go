// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject inbound events and inspect the audio that was sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Open()
//	sess.Message(&live.ServerMessage{InputTranscription: "Hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livevox/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a new
	// Session for every call.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, when non-nil, makes Connect wait until it is closed or ctx ends.
	Block chan struct{}

	// VoiceList is returned by Voices.
	VoiceList []string

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Voices returns VoiceList.
func (p *Provider) Voices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VoiceList
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastSession returns the most recently handed out session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	ended  bool

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// Sent records every blob passed to SendRealtimeInput.
	Sent []live.Blob

	// CloseCount is the number of Close calls.
	CloseCount int

	closed chan struct{}
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 256),
		closed: make(chan struct{}),
	}
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// SendRealtimeInput records b and returns SendErr.
func (s *Session) SendRealtimeInput(b live.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCount > 0 || s.ended {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, live.Blob{MIMEType: b.MIMEType, Data: append([]byte(nil), b.Data...)})
	return nil
}

// Close implements live.Session. The event stream is closed on the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.CloseCount == 1 {
		close(s.closed)
		if !s.ended {
			s.ended = true
			close(s.events)
		}
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount > 0
}

// SentCount returns the number of blobs sent.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// Emit delivers ev on the event stream. It is a no-op once the stream ended.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// Open emits an EventOpen.
func (s *Session) Open() { s.Emit(live.Event{Type: live.EventOpen}) }

// Message emits an EventMessage carrying m.
func (s *Session) Message(m *live.ServerMessage) {
	s.Emit(live.Event{Type: live.EventMessage, Message: m})
}

// Fail emits a final EventError and ends the stream.
func (s *Session) Fail(err error) { s.end(live.Event{Type: live.EventError, Err: err}) }

// RemoteClose emits a final EventClose and ends the stream.
func (s *Session) RemoteClose(reason string) {
	s.end(live.Event{Type: live.EventClose, Reason: reason})
}

func (s *Session) end(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
	s.ended = true
	close(s.events)
}
