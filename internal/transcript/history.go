// Package transcript aggregates the running conversation transcript.
//
// The remote service delivers recognized speech for both sides of the
// conversation as incremental fragments attached to server messages. A
// [History] turns every non-empty fragment into an immutable [Entry] and keeps
// the most recent entries in arrival order. Fragments are never merged or
// de-duplicated: each one becomes its own entry.
//
// History is safe for concurrent use.
package transcript

import (
	"sync"
	"time"
)

// DefaultMaxEntries is the number of entries a [History] keeps by default.
const DefaultMaxEntries = 50

// Sender identifies who spoke a transcript entry.
type Sender string

const (
	// SenderUser marks speech recognized from the local microphone.
	SenderUser Sender = "user"

	// SenderModel marks speech synthesized by the remote model.
	SenderModel Sender = "model"
)

// Entry is one transcript fragment. Entries are values and never change after
// they are appended.
type Entry struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a [History].
type Option func(*History)

// WithMaxEntries sets the retention cap. Values below 1 are ignored.
func WithMaxEntries(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.max = n
		}
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// History is a bounded, insertion-ordered list of transcript entries. When the
// cap is exceeded the oldest entries are evicted first.
type History struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	now     func() time.Time
}

// New creates an empty History.
func New(opts ...Option) *History {
	h := &History{max: DefaultMaxEntries, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Max returns the retention cap.
func (h *History) Max() int { return h.max }

// AppendMessage records the fragments carried by one server message. A
// non-empty input fragment becomes a user entry and a non-empty output
// fragment a model entry; when both are present the user entry comes first.
// It returns the entries that were appended.
func (h *History) AppendMessage(input, output string) []Entry {
	if input == "" && output == "" {
		return nil
	}
	ts := h.now()
	added := make([]Entry, 0, 2)
	if input != "" {
		added = append(added, Entry{Text: input, Sender: SenderUser, Timestamp: ts})
	}
	if output != "" {
		added = append(added, Entry{Text: output, Sender: SenderModel, Timestamp: ts})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, added...)
	if over := len(h.entries) - h.max; over > 0 {
		// Copy down so the backing array does not keep growing.
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
	return added
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
