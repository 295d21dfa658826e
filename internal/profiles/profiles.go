// Package profiles stores named analysis presets in a TOML file and keeps
// them current as the file changes.
package profiles

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/config"
	"github.com/smazurov/screenscribe/internal/events"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidProfile  = errors.New("invalid profile")
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Duration reads and writes "2s" style strings.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Profile is a named session preset. Empty fields fall back to server
// defaults.
type Profile struct {
	Name        string   `toml:"-" json:"name" example:"terminal" doc:"Profile name"`
	Description string   `toml:"description,omitempty" json:"description,omitempty" doc:"Free-form description"`
	Mode        string   `toml:"mode,omitempty" json:"mode,omitempty" enum:"snapshot,clip" doc:"Capture mode"`
	Prompt      string   `toml:"prompt,omitempty" json:"prompt,omitempty" doc:"Analysis prompt"`
	Window      Duration `toml:"window,omitempty" json:"-"`
	Recording   bool     `toml:"recording,omitempty" json:"recording,omitempty" doc:"Start recording on session creation"`
}

// WindowDuration returns the configured window, zero when unset.
func (p Profile) WindowDuration() time.Duration { return time.Duration(p.Window) }

// Validate checks the name, mode and window.
func (p Profile) Validate() error {
	if !validName.MatchString(p.Name) {
		return fmt.Errorf("%w: name %q must be alphanumeric with - or _", ErrInvalidProfile, p.Name)
	}
	if p.Mode != "" {
		if _, err := capture.ParseMode(p.Mode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	}
	if p.Window < 0 {
		return fmt.Errorf("%w: window must not be negative", ErrInvalidProfile)
	}
	return nil
}

type file struct {
	Profiles map[string]Profile `toml:"profiles"`
}

// Load reads a profiles file. A missing file yields no profiles.
func Load(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}

	out := make(map[string]Profile, len(f.Profiles))
	for name, p := range f.Profiles {
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// Store is the in-memory view of a profiles file. Safe for concurrent use.
type Store struct {
	path   string
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	profiles map[string]Profile

	watcher *config.Watcher[map[string]Profile]
}

// NewStore loads path. bus may be nil.
func NewStore(path string, bus *events.Bus, logger *slog.Logger) (*Store, error) {
	loaded, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, bus: bus, logger: logger, profiles: loaded}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// List returns profiles sorted by name.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Profile) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Put creates or replaces a profile and writes the file.
func (s *Store) Put(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Profile, len(s.profiles)+1)
	for k, v := range s.profiles {
		next[k] = v
	}
	next[p.Name] = p
	if err := s.save(next); err != nil {
		return err
	}
	s.profiles = next
	return nil
}

// Delete removes a profile and writes the file.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	next := make(map[string]Profile, len(s.profiles))
	for k, v := range s.profiles {
		if k != name {
			next[k] = v
		}
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.profiles = next
	return nil
}

// save writes atomically so the watcher never reads a partial file.
func (s *Store) save(profiles map[string]Profile) error {
	data, err := toml.Marshal(file{Profiles: profiles})
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".profiles-*.toml")
	if err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace profiles: %w", err)
	}
	return nil
}

// Watch reloads the store whenever the file changes until Close.
func (s *Store) Watch() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}

	w := config.NewConfigWatcher(s.path, Load, s.logger,
		config.WithErrorHandler[map[string]Profile](func(err error) {
			s.logger.Warn("Ignoring invalid profiles file", "path", s.path, "error", err)
		}),
	)
	w.OnReload(s.replace)
	if err := w.Start(); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Reload re-reads the file immediately.
func (s *Store) Reload() error {
	loaded, err := Load(s.path)
	if err != nil {
		return err
	}
	s.replace(loaded)
	return nil
}

func (s *Store) replace(loaded map[string]Profile) {
	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()

	names := make([]string, 0, len(loaded))
	for _, p := range s.List() {
		names = append(names, p.Name)
	}
	s.logger.Info("Profiles reloaded", "count", len(names))
	if s.bus != nil {
		s.bus.Publish(events.ProfilesReloadedEvent{Names: names, Timestamp: time.Now().Format(time.RFC3339)})
	}
}

func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Stop()
}
