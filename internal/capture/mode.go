// Package capture decides when a window of frames is due for analysis and
// turns a flushed window into media a vision model can consume.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/screenscribe/internal/frames"
)

// Mode selects how a window is presented to the backend.
type Mode string

const (
	// ModeSnapshot analyses only the most recent frame of each window.
	ModeSnapshot Mode = "snapshot"
	// ModeClip analyses the full ordered window as a short video.
	ModeClip Mode = "clip"
)

// ErrUnknownMode is returned for a mode name that is not recognised.
var ErrUnknownMode = errors.New("unknown capture mode")

// ParseMode accepts the canonical names and the labels used by older UIs.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snapshot", "snapshots", "image":
		return ModeSnapshot, nil
	case "clip", "clips", "video":
		return ModeClip, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
}

func (m Mode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeSnapshot || m == ModeClip
}

// Window is a flushed, immutable run of frames in arrival order.
type Window struct {
	Seq    uint64
	Start  time.Time
	Frames []frames.Frame
}

// Empty reports whether the window captured nothing.
func (w Window) Empty() bool { return len(w.Frames) == 0 }

// Select returns the frames to analyse for mode: the last frame for a
// snapshot, every frame for a clip.
func (w Window) Select(mode Mode) []frames.Frame {
	if w.Empty() {
		return nil
	}
	if mode == ModeSnapshot {
		return w.Frames[len(w.Frames)-1:]
	}
	return w.Frames
}
