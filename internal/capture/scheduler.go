package capture

import "time"

// DefaultWindow is the analysis interval when none is configured.
const DefaultWindow = 2 * time.Second

// Scheduler is a time gate over a fixed window duration. It holds no frames.
// Not safe for concurrent use.
type Scheduler struct {
	window time.Duration
	start  time.Time
}

// NewScheduler starts the first window at start. A non-positive window uses
// DefaultWindow.
func NewScheduler(window time.Duration, start time.Time) *Scheduler {
	s := &Scheduler{start: start}
	s.SetWindow(window)
	return s
}

// OnFrame reports whether the current window has elapsed at now. On true the
// next window begins at now.
func (s *Scheduler) OnFrame(now time.Time) bool {
	if now.Sub(s.start) < s.window {
		return false
	}
	s.start = now
	return true
}

// Reset begins a new window at now.
func (s *Scheduler) Reset(now time.Time) {
	s.start = now
}

// SetWindow changes the duration. The current window start is kept.
func (s *Scheduler) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultWindow
	}
	s.window = d
}

func (s *Scheduler) Window() time.Duration { return s.window }

// Start returns when the current window began.
func (s *Scheduler) Start() time.Time { return s.start }
