// Package live defines the Provider interface for real-time conversational
// voice backends such as the Gemini Live API.
//
// A live provider wraps a remote service that accepts a continuous stream of
// microphone audio and streams back synthesised speech, transcription
// fragments and turn signals over one stateful session. The session's
// push-style callbacks are reified as a single ordered stream of [Event]
// values ({open, message, close, error}) so that one consumer goroutine can
// apply them in arrival order and ignore events that arrive after teardown.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by [Session.SendRealtimeInput] after the session
// has been closed or has ended.
var ErrSessionClosed = errors.New("live: session closed")

// Modality is a response modality requested from the model.
type Modality string

// ModalityAudio requests synthesised speech.
const ModalityAudio Modality = "AUDIO"

// Blob is an opaque binary payload tagged with its MIME type. Providers apply
// any transport encoding (such as base64) themselves; Data is always raw.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Config is the fixed configuration a session is opened with.
type Config struct {
	// Model is the model identifier without the "models/" prefix.
	Model string

	// ResponseModalities lists the requested output modalities.
	ResponseModalities []Modality

	// Voice is the prebuilt voice name used for speech output.
	Voice string

	// SystemInstruction is the persona text supplied to the model.
	SystemInstruction string

	// InputAudioTranscription enables transcription of the user's speech.
	InputAudioTranscription bool

	// OutputAudioTranscription enables transcription of the model's speech.
	OutputAudioTranscription bool
}

// ServerMessage is one inbound message from the remote service. Any subset of
// the fields may be set.
type ServerMessage struct {
	// Audio is a synthesised speech chunk, or nil.
	Audio *Blob

	// InputTranscription is a fragment of the user's recognised speech.
	InputTranscription string

	// OutputTranscription is a fragment of the model's spoken output as text.
	OutputTranscription string

	// Interrupted reports that the model's current turn was cut off.
	Interrupted bool

	// TurnComplete reports that the model finished its turn.
	TurnComplete bool
}

// Empty reports whether m carries nothing actionable.
func (m *ServerMessage) Empty() bool {
	return m.Audio == nil && m.InputTranscription == "" && m.OutputTranscription == "" &&
		!m.Interrupted && !m.TurnComplete
}

// EventType tags the variant carried by an [Event].
type EventType int

const (
	// EventOpen is delivered once when the session is ready for input.
	EventOpen EventType = iota

	// EventMessage carries a [ServerMessage].
	EventMessage

	// EventClose is delivered when the remote side closed the session cleanly.
	// It is the last event.
	EventClose

	// EventError is delivered on a transport or protocol failure. A fatal error
	// is the last event.
	EventError
)

// String returns the lower-case name of t.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one entry of a session's inbound event stream.
type Event struct {
	Type EventType

	// Message is set for EventMessage.
	Message *ServerMessage

	// Err is set for EventError.
	Err error

	// Reason is the close reason for EventClose, if the remote side gave one.
	Reason string
}

// Session is an open live conversation. It is an interface so that test code
// can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendRealtimeInput delivers one chunk of microphone audio. The blob's MIME
	// type must describe its format, for example "audio/pcm;rate=16000".
	// Returns [ErrSessionClosed] after Close or after the session ended.
	SendRealtimeInput(b Blob) error

	// Events returns the session's inbound event stream. Events are delivered
	// in arrival order. The channel is closed after the final event, or without
	// a final event when the caller closed the session. Consumers must drain it
	// promptly to avoid stalling the receive loop.
	Events() <-chan Event

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live conversation backend.
type Provider interface {
	// Connect opens a new session. It returns once the transport is established
	// and the configuration has been sent; readiness is signalled by an
	// [EventOpen] on the session's event stream. The caller owns the Session.
	Connect(ctx context.Context, cfg Config) (Session, error)

	// Voices lists the prebuilt voice names accepted in [Config.Voice].
	Voices() []string
}

// PrebuiltVoices are the voice names offered by the Gemini Live models.
var PrebuiltVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr"}
