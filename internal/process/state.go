package process

import "time"

// State is the lifecycle state of a pooled process.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Info is a point-in-time view of a pooled process.
type Info struct {
	ID           string
	State        State
	StartedAt    time.Time
	RestartCount int
	LastError    error
}
