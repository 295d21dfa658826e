package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/profiles"
)

// ProfileSource resolves named presets.
type ProfileSource interface {
	Get(name string) (profiles.Profile, error)
}

// Defaults apply to sessions that do not set a field.
type Defaults struct {
	Mode      capture.Mode
	Prompt    string
	Window    time.Duration
	Recording bool
}

// CreateOptions are the per-session overrides. Explicit fields win over
// the profile, which wins over the defaults.
type CreateOptions struct {
	Profile   string
	Mode      fn.Option[capture.Mode]
	Prompt    fn.Option[string]
	Window    fn.Option[time.Duration]
	Recording fn.Option[bool]
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Backend  analysis.Backend
	Profiles ProfileSource // optional
	Bus      *events.Bus   // optional
	Logger   *slog.Logger
	Defaults Defaults
	Clock    func() time.Time
	// MaxSessions bounds concurrent sessions; 0 is unlimited.
	MaxSessions int
}

// ErrTooManySessions is returned when MaxSessions is reached.
var ErrTooManySessions = errors.New("too many sessions")

// Manager owns every open session.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Handler
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Defaults.Mode.Valid() {
		cfg.Defaults.Mode = capture.ModeSnapshot
	}
	if cfg.Defaults.Window <= 0 {
		cfg.Defaults.Window = capture.DefaultWindow
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Handler),
	}
}

// Create opens a session.
func (m *Manager) Create(opts CreateOptions) (*Handler, error) {
	d := m.cfg.Defaults
	mode, prompt, window, recording := d.Mode, d.Prompt, d.Window, d.Recording

	if opts.Profile != "" {
		if m.cfg.Profiles == nil {
			return nil, fmt.Errorf("%w: %s", profiles.ErrProfileNotFound, opts.Profile)
		}
		p, err := m.cfg.Profiles.Get(opts.Profile)
		if err != nil {
			return nil, err
		}
		if p.Mode != "" {
			parsed, err := capture.ParseMode(p.Mode)
			if err != nil {
				return nil, err
			}
			mode = parsed
		}
		if p.Prompt != "" {
			prompt = p.Prompt
		}
		if p.WindowDuration() > 0 {
			window = p.WindowDuration()
		}
		recording = recording || p.Recording
	}

	mode = opts.Mode.UnwrapOr(mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("%w %q", capture.ErrUnknownMode, mode)
	}
	prompt = opts.Prompt.UnwrapOr(prompt)
	window = opts.Window.UnwrapOr(window)
	recording = opts.Recording.UnwrapOr(recording)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	h := NewHandler(Options{
		ID:        id,
		Profile:   opts.Profile,
		Mode:      mode,
		Prompt:    prompt,
		Window:    window,
		Recording: recording,
		Backend:   m.cfg.Backend,
		Bus:       m.cfg.Bus,
		Logger:    m.logger,
		Clock:     m.cfg.Clock,
	})
	m.sessions[id] = h
	activeSessions.Inc()

	m.logger.Info("Session created", "session", id, "mode", mode, "window", h.Status().Window, "profile", opts.Profile)
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(events.SessionCreatedEvent{
			SessionID: id,
			Mode:      mode.String(),
			Prompt:    prompt,
			Profile:   opts.Profile,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return h, nil
}

func (m *Manager) Get(id string) (*Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return h, nil
}

// List returns the status of every session, oldest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	handlers := make([]*Handler, 0, len(m.sessions))
	for _, h := range m.sessions {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.Status())
	}
	slices.SortFunc(out, func(a, b Status) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Close closes and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		activeSessions.Dec()
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	h.Close()
	return nil
}

// Shutdown closes every session and waits for their analyses to finish.
// Calls still running when ctx is done are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handlers := make([]*Handler, 0, len(m.sessions))
	for id, h := range m.sessions {
		handlers = append(handlers, h)
		delete(m.sessions, id)
		activeSessions.Dec()
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h.Close()
	}
	var err error
	for _, h := range handlers {
		if err == nil {
			err = h.Wait(ctx)
		}
		if err != nil {
			h.Abort()
		}
	}
	return err
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
