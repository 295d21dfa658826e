// Package results holds the append-only feeds a UI polls: every analysis
// result (raw) and the deduplicated subset (processed).
package results

import (
	"sync"
	"time"
)

// RoleAssistant marks analysis output.
const RoleAssistant = "assistant"

// Names of the two feeds.
const (
	Raw       = "raw"
	Processed = "processed"
)

// Entry is one displayed message. Seq starts at 1 and is dense per stream.
type Entry struct {
	Seq        int       `json:"seq" doc:"Position in the stream, starting at 1"`
	Role       string    `json:"role" example:"assistant"`
	Content    string    `json:"content"`
	ProducedAt time.Time `json:"produced_at"`
	Mode       string    `json:"mode" example:"snapshot"`
	Window     uint64    `json:"window" doc:"Capture window the result was produced from"`
	Failed     bool      `json:"failed,omitempty" doc:"Content is a failure marker"`
}

// Meta carries the analysis details stored with an entry.
type Meta struct {
	ProducedAt time.Time
	Mode       string
	Window     uint64
	Failed     bool
}

// Stream is an ordered, append-only log. Safe for concurrent use.
type Stream struct {
	name string

	mu       sync.RWMutex
	entries  []Entry
	onAppend []func(Entry)
}

func NewStream(name string) *Stream {
	return &Stream{name: name}
}

func (s *Stream) Name() string { return s.name }

// Append adds an entry and returns it. Hooks run after the entry is visible
// to readers, in registration order, on the caller's goroutine.
func (s *Stream) Append(role, content string, meta Meta) Entry {
	s.mu.Lock()
	e := Entry{
		Seq:        len(s.entries) + 1,
		Role:       role,
		Content:    content,
		ProducedAt: meta.ProducedAt,
		Mode:       meta.Mode,
		Window:     meta.Window,
		Failed:     meta.Failed,
	}
	s.entries = append(s.entries, e)
	hooks := s.onAppend
	s.mu.Unlock()

	for _, h := range hooks {
		h(e)
	}
	return e
}

// OnAppend registers a hook called for every later append.
func (s *Stream) OnAppend(h func(Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = append(s.onAppend[:len(s.onAppend):len(s.onAppend)], h)
}

// Snapshot returns a copy of every entry.
func (s *Stream) Snapshot() []Entry {
	return s.Since(0)
}

// Since returns a copy of entries with Seq greater than seq.
func (s *Stream) Since(seq int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(s.entries) {
		return []Entry{}
	}
	out := make([]Entry, len(s.entries)-seq)
	copy(out, s.entries[seq:])
	return out
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Last returns the newest entry.
func (s *Stream) Last() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}
