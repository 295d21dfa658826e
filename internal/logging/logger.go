package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

// Logger is the subset of *slog.Logger used by packages that accept an injected logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	mutex       sync.RWMutex
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
	rootLevel   = &slog.LevelVar{}
	current     Config
	initialized bool
	history     *RingBuffer
	onEntry     LogCallback
)

// Config holds the global level, output format and per-module level overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// levelFor resolves the effective level of a module under cfg.
func (cfg Config) levelFor(module string) slog.Level {
	level := slog.LevelInfo
	if parsed := parseLevel(cfg.Level); parsed != nil {
		level = *parsed
	}
	if override, ok := cfg.Modules[module]; ok {
		if parsed := parseLevel(override); parsed != nil {
			level = *parsed
		}
	}
	return level
}

// Initialize installs cfg. Loggers handed out earlier keep their identity and
// output format; only their levels change.
func Initialize(cfg Config) {
	mutex.Lock()
	defer mutex.Unlock()

	current = cfg
	initialized = true
	history = NewRingBuffer(historySize)

	rootLevel.Set(cfg.levelFor(""))

	for module, levelVar := range levels {
		levelVar.Set(cfg.levelFor(module))
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, rootLevel)))
}

// GetBuffer returns the recent log history.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return history
}

// SetLogCallback registers fn to receive every entry written to the history.
func SetLogCallback(fn LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	onEntry = fn
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := loggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if initialized {
		levelVar.Set(current.levelFor(module))
		format = current.Format
	}

	logger = slog.New(newHandler(format, levelVar)).With("module", module)
	loggers[module] = logger
	levels[module] = levelVar
	return logger
}

// SetModuleLevel changes the level of a module at runtime.
func SetModuleLevel(module, level string) bool {
	parsed := parseLevel(level)
	if parsed == nil {
		return false
	}
	GetLogger(module)

	mutex.Lock()
	defer mutex.Unlock()
	levels[module].Set(*parsed)
	return true
}

// newHandler builds the output chain: stdout when attached, the systemd
// journal when running under it, and always the in-memory history.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var chain []slog.Handler
	if stdoutAttached() {
		chain = append(chain, stdout)
	}
	if IsJournalAvailable() {
		chain = append(chain, NewJournalHandler(level))
	}
	chain = append(chain, NewBufferHandler(level))

	if len(chain) == 1 {
		return chain[0]
	}
	return NewMultiHandler(chain...)
}

func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
