package session

import (
	"fmt"
	"sync"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/results"
)

// Context is the per-session configuration the UI controls plus the two
// result feeds. Safe for concurrent use.
type Context struct {
	mu        sync.RWMutex
	mode      capture.Mode
	prompt    string
	recording bool

	raw       *results.Stream
	processed *results.Stream
}

// NewContext returns a context with empty feeds.
func NewContext(mode capture.Mode, prompt string) *Context {
	if !mode.Valid() {
		mode = capture.ModeSnapshot
	}
	return &Context{
		mode:      mode,
		prompt:    prompt,
		raw:       results.NewStream(results.Raw),
		processed: results.NewStream(results.Processed),
	}
}

func (c *Context) Mode() capture.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Context) SetMode(m capture.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w %q", capture.ErrUnknownMode, m)
	}
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	return nil
}

// Prompt returns the session prompt, which may be empty.
func (c *Context) Prompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompt
}

func (c *Context) SetPrompt(p string) {
	c.mu.Lock()
	c.prompt = p
	c.mu.Unlock()
}

func (c *Context) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

func (c *Context) setRecording(v bool) {
	c.mu.Lock()
	c.recording = v
	c.mu.Unlock()
}

// snapshot returns mode and prompt read together.
func (c *Context) snapshot() (capture.Mode, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode, c.prompt
}

func (c *Context) Raw() *results.Stream       { return c.raw }
func (c *Context) Processed() *results.Stream { return c.processed }

// Stream returns the feed named view; an empty view is processed.
func (c *Context) Stream(view string) (*results.Stream, error) {
	switch view {
	case "", results.Processed:
		return c.processed, nil
	case results.Raw:
		return c.raw, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
}
