package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool runs named processes, one per ID.
type Pool interface {
	// Start launches the process for id. It fails if one is already running.
	Start(id string) error
	// Stop gracefully stops the process for id; unknown IDs are ignored.
	Stop(id string) error
	// Restart stops and starts the process for id.
	Restart(id string) error
	// GetStatus returns the current info; unknown IDs report StateIdle.
	GetStatus(id string) *Info
	IsRunning(id string) bool
	// StopAll stops everything and waits for the runners to return.
	StopAll()
}

type managedProcess struct {
	id           string
	proc         *Process
	state        State
	startedAt    time.Time
	restartCount int
	lastError    error
	cancel       context.CancelFunc
	done         chan struct{}
}

type pool struct {
	opts   PoolOptions
	logger *slog.Logger

	mu        sync.RWMutex
	processes map[string]*managedProcess

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. opts.CommandProvider is required.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil || opts.CommandProvider == nil {
		panic("process: PoolOptions.CommandProvider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &pool{
		opts:      *opts,
		logger:    logger,
		processes: make(map[string]*managedProcess),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *pool) Start(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mp, ok := p.processes[id]; ok && (mp.state == StateRunning || mp.state == StateStarting) {
		return fmt.Errorf("process %s already running", id)
	}

	command, err := p.opts.CommandProvider(id)
	if err != nil {
		return fmt.Errorf("command for %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	mp := &managedProcess{
		id:        id,
		proc:      p.newProcess(id, command),
		state:     StateStarting,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.processes[id] = mp
	p.notify(id, StateIdle, StateStarting, nil)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(mp.done)
		p.supervise(ctx, mp)
	}()
	return nil
}

func (p *pool) newProcess(id, command string) *Process {
	proc := New(id, command, p.logger)
	if p.opts.ConfigureProcess != nil {
		p.opts.ConfigureProcess(id, proc)
	}
	return proc
}

// supervise runs mp until it stops cleanly, is cancelled, or exhausts
// MaxRestarts.
func (p *pool) supervise(ctx context.Context, mp *managedProcess) {
	for {
		p.transition(mp, StateRunning, nil)

		code, err := mp.proc.Run(ctx)
		if err == nil && code != 0 {
			err = fmt.Errorf("exited with code %d", code)
		}

		switch {
		case ctx.Err() != nil:
			p.transition(mp, StateIdle, nil)
			return
		case err == nil:
			p.logger.Info("Process finished", "id", mp.id)
			p.transition(mp, StateIdle, nil)
			return
		}

		p.mu.Lock()
		attempt := mp.restartCount
		mp.restartCount++
		p.mu.Unlock()

		if attempt >= p.opts.MaxRestarts {
			p.logger.Error("Process failed", "id", mp.id, "error", err, "restarts", attempt)
			p.transition(mp, StateError, err)
			return
		}

		p.logger.Warn("Process failed, restarting", "id", mp.id, "error", err, "attempt", attempt+1)
		p.transition(mp, StateStarting, err)
		select {
		case <-ctx.Done():
			p.transition(mp, StateIdle, nil)
			return
		case <-time.After(p.opts.RestartDelay):
		}

		command, cmdErr := p.opts.CommandProvider(mp.id)
		if cmdErr != nil {
			p.transition(mp, StateError, cmdErr)
			return
		}
		proc := p.newProcess(mp.id, command)
		p.mu.Lock()
		mp.proc = proc
		p.mu.Unlock()
	}
}

func (p *pool) transition(mp *managedProcess, to State, err error) {
	p.mu.Lock()
	from := mp.state
	mp.state = to
	if err != nil {
		mp.lastError = err
	}
	p.mu.Unlock()

	if from != to {
		p.notify(mp.id, from, to, err)
	}
}

func (p *pool) Stop(id string) error {
	p.mu.Lock()
	mp, ok := p.processes[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	from := mp.state
	if from == StateRunning || from == StateStarting {
		mp.state = StateStopping
	}
	p.mu.Unlock()

	if from == StateRunning || from == StateStarting {
		p.notify(id, from, StateStopping, nil)
	}
	mp.cancel()

	select {
	case <-mp.done:
	case <-time.After(10 * time.Second):
		p.logger.Warn("Timed out waiting for process to stop", "id", id)
	}

	p.mu.Lock()
	if p.processes[id] == mp {
		delete(p.processes, id)
	}
	p.mu.Unlock()
	return nil
}

func (p *pool) Restart(id string) error {
	if err := p.Stop(id); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	return p.Start(id)
}

func (p *pool) GetStatus(id string) *Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mp, ok := p.processes[id]
	if !ok {
		return &Info{ID: id, State: StateIdle}
	}
	return &Info{
		ID:           id,
		State:        mp.state,
		StartedAt:    mp.startedAt,
		RestartCount: mp.restartCount,
		LastError:    mp.lastError,
	}
}

func (p *pool) IsRunning(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mp, ok := p.processes[id]
	return ok && mp.state == StateRunning
}

func (p *pool) StopAll() {
	p.cancel()

	p.mu.RLock()
	ids := make([]string, 0, len(p.processes))
	for id := range p.processes {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		_ = p.Stop(id)
	}
	p.wg.Wait()
}

func (p *pool) notify(id string, from, to State, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(id, from, to, err)
	}
}
