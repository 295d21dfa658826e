package process

import (
	"log/slog"
	"time"
)

// CommandProvider returns the command line for id.
type CommandProvider func(id string) (command string, err error)

// StateChangeCallback observes pool state transitions.
type StateChangeCallback func(id string, from, to State, err error)

// Configurer prepares a Process before it runs, e.g. wiring stdin/stdout.
// It is called again for every restart.
type Configurer func(id string, proc *Process)

// PoolOptions configures NewPool.
type PoolOptions struct {
	CommandProvider  CommandProvider
	OnStateChange    StateChangeCallback
	ConfigureProcess Configurer

	// MaxRestarts bounds automatic restarts after a failed exit. Zero disables them.
	MaxRestarts  int
	RestartDelay time.Duration

	Logger *slog.Logger
}
