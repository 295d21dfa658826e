// Package session runs one capture pipeline per connected client: frames
// are batched into windows, each window is analysed in the background, and
// results land in a raw feed and a deduplicated feed.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/dedup"
	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/frames"
	"github.com/smazurov/screenscribe/internal/results"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrUnknownView     = errors.New("unknown view")
)

// State is the recording state of a handler.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options configures a Handler.
type Options struct {
	ID        string
	Profile   string
	Mode      capture.Mode
	Prompt    string
	Window    time.Duration
	Recording bool
	Backend   analysis.Backend
	Bus       *events.Bus // optional
	Logger    *slog.Logger
	Clock     func() time.Time
	// BufferHint preallocates room for this many frames per window.
	BufferHint int
}

// Update changes session settings; absent fields are left alone.
type Update struct {
	Mode   fn.Option[capture.Mode]
	Prompt fn.Option[string]
	Window fn.Option[time.Duration]
}

// Status is a point-in-time view of a handler.
type Status struct {
	ID        string
	Profile   string
	State     State
	Mode      capture.Mode
	Prompt    string
	Window    time.Duration
	Buffered  int
	Windows   uint64
	InFlight  int
	Raw       int
	Processed int
	CreatedAt time.Time
}

// Handler is the per-client pipeline. Frame intake is serialized; analysis
// of a flushed window runs on its own goroutine so the next window keeps
// filling. Results are committed one at a time in window order.
type Handler struct {
	id        string
	profile   string
	createdAt time.Time
	sctx      *Context
	backend   analysis.Backend
	dedup     *dedup.Deduplicator
	bus       *events.Bus
	logger    *slog.Logger
	now       func() time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc
	inflight  sync.WaitGroup
	pending   int

	mu        sync.Mutex
	state     State
	buffer    *frames.Buffer
	scheduler *capture.Scheduler
	windowSeq uint64
	// dispatched numbers non-empty windows densely; commits follow it.
	dispatched uint64
	latest     fn.Option[frames.Frame]

	commitMu   sync.Mutex
	nextCommit uint64
	ready      map[uint64]analysis.Result
	dedupState dedup.State
}

// NewHandler builds a handler in the idle state, or recording when
// opts.Recording is set.
func NewHandler(opts Options) *Handler {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", opts.ID)
	hint := opts.BufferHint
	if hint <= 0 {
		hint = 64
	}

	runCtx, cancel := context.WithCancel(context.Background())
	now := clock()
	h := &Handler{
		id:         opts.ID,
		profile:    opts.Profile,
		createdAt:  now,
		sctx:       NewContext(opts.Mode, opts.Prompt),
		backend:    opts.Backend,
		dedup:      dedup.New(opts.Backend, logger),
		bus:        opts.Bus,
		logger:     logger,
		now:        clock,
		runCtx:     runCtx,
		cancelRun:  cancel,
		state:      StateIdle,
		buffer:     frames.NewBuffer(hint),
		scheduler:  capture.NewScheduler(opts.Window, now),
		latest:     fn.None[frames.Frame](),
		nextCommit: 1,
		ready:      make(map[uint64]analysis.Result),
	}
	if opts.Recording {
		h.state = StateRecording
		h.sctx.setRecording(true)
	}
	return h
}

func (h *Handler) ID() string           { return h.id }
func (h *Handler) Context() *Context    { return h.sctx }
func (h *Handler) CreatedAt() time.Time { return h.createdAt }

func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Receive accepts one frame. While idle the buffer is cleared instead, and
// after Close it does nothing.
func (h *Handler) Receive(f frames.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateClosed:
		return
	case StateIdle:
		h.latest = fn.Some(f)
		h.buffer.Clear()
		return
	}

	h.latest = fn.Some(f)
	framesReceived.Inc()

	start := h.scheduler.Start()
	if h.scheduler.OnFrame(h.now()) {
		h.windowSeq++
		h.dispatch(capture.Window{Seq: h.windowSeq, Start: start, Frames: h.buffer.Drain()})
	}
	h.buffer.Append(f)
}

// Emit returns the most recent buffered frame, for live preview.
func (h *Handler) Emit() (frames.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffer.PeekLast()
}

// Latest returns the last frame received in any state other than closed,
// including frames discarded while idle.
func (h *Handler) Latest() fn.Option[frames.Frame] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// StartRecording moves idle to recording and starts a fresh window.
func (h *Handler) StartRecording() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateClosed:
		return ErrSessionClosed
	case StateRecording:
		return nil
	}
	h.buffer.Clear()
	h.scheduler.Reset(h.now())
	h.setState(StateRecording)
	return nil
}

// StopRecording moves recording to idle. The partial window is discarded.
func (h *Handler) StopRecording() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateClosed:
		return ErrSessionClosed
	case StateIdle:
		return nil
	}
	if n := h.buffer.Len(); n > 0 {
		h.logger.Debug("Discarding partial window", "frames", n)
	}
	h.buffer.Clear()
	h.setState(StateIdle)
	return nil
}

// Apply changes mode, prompt or window. A new mode or prompt takes effect
// at the next flush; a new window length applies to the current window.
func (h *Handler) Apply(u Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return ErrSessionClosed
	}

	var err error
	u.Mode.WhenSome(func(m capture.Mode) {
		err = h.sctx.SetMode(m)
	})
	if err != nil {
		return err
	}
	u.Prompt.WhenSome(h.sctx.SetPrompt)
	u.Window.WhenSome(h.scheduler.SetWindow)

	h.publish(events.ContextUpdatedEvent{
		SessionID: h.id,
		Mode:      h.sctx.Mode().String(),
		Prompt:    h.sctx.Prompt(),
		Window:    h.scheduler.Window().String(),
		Timestamp: h.now().Format(time.RFC3339),
	})
	return nil
}

// Close stops intake for good. In-flight analyses run to completion but
// their results are dropped. Close is idempotent.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return
	}
	h.buffer.Clear()
	h.setState(StateClosed)
	h.mu.Unlock()

	// Wait for a commit in progress so nothing lands after Close returns.
	h.commitMu.Lock()
	raw, processed := h.sctx.Raw().Len(), h.sctx.Processed().Len()
	h.commitMu.Unlock()

	h.publish(events.SessionClosedEvent{
		SessionID: h.id,
		RawCount:  raw,
		Processed: processed,
		Timestamp: h.now().Format(time.RFC3339),
	})
	h.logger.Info("Session closed", "raw", raw, "processed", processed)
}

// Abort cancels in-flight backend calls. Used when shutdown cannot wait.
func (h *Handler) Abort() { h.cancelRun() }

// Wait blocks until every dispatched analysis has finished or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) Status() Status {
	h.mu.Lock()
	st := Status{
		ID:        h.id,
		Profile:   h.profile,
		State:     h.state,
		Window:    h.scheduler.Window(),
		Buffered:  h.buffer.Len(),
		Windows:   h.windowSeq,
		InFlight:  h.pending,
		CreatedAt: h.createdAt,
	}
	h.mu.Unlock()

	st.Mode, st.Prompt = h.sctx.snapshot()
	st.Raw = h.sctx.Raw().Len()
	st.Processed = h.sctx.Processed().Len()
	return st
}

// setState must be called with h.mu held.
func (h *Handler) setState(next State) {
	prev := h.state
	h.state = next
	h.sctx.setRecording(next == StateRecording)
	h.logger.Info("Session state changed", "from", prev.String(), "to", next.String())
	h.publish(events.SessionStateChangedEvent{
		SessionID: h.id,
		State:     next.String(),
		Previous:  prev.String(),
		Mode:      h.sctx.Mode().String(),
		Timestamp: h.now().Format(time.RFC3339),
	})
}

// dispatch must be called with h.mu held.
func (h *Handler) dispatch(w capture.Window) {
	if w.Empty() {
		windowsSkipped.Inc()
		h.logger.Debug("Skipping empty window", "window", w.Seq)
		return
	}

	mode, prompt := h.sctx.snapshot()
	if prompt == "" {
		prompt = analysis.DefaultPrompt(mode)
	}
	unit := analysis.NewUnit(mode, w)

	windowsFlushed.WithLabelValues(mode.String()).Inc()
	h.logger.Debug("Flushing window", "window", w.Seq, "mode", mode, "frames", len(w.Frames), "analysed", len(unit.Frames))

	h.dispatched++
	h.pending++
	h.inflight.Add(1)
	go h.analyze(h.dispatched, unit, prompt)
}

func (h *Handler) analyze(seq uint64, unit analysis.Unit, prompt string) {
	defer h.inflight.Done()
	defer func() {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
	}()

	res := analysis.Resolve(h.backend.Describe(h.runCtx, unit, prompt), unit, h.now())
	res.Failure.WhenSome(func(f analysis.Failure) {
		h.logger.Warn("Window analysis failed", "window", unit.Window, "kind", f.Kind, "error", f.Message)
	})
	h.commit(seq, res)
}

// commit records the result for dispatch seq and appends every result that
// is now next in window order. A slow window holds back later ones.
func (h *Handler) commit(seq uint64, res analysis.Result) {
	h.commitMu.Lock()
	defer h.commitMu.Unlock()

	h.ready[seq] = res
	for {
		next, ok := h.ready[h.nextCommit]
		if !ok {
			return
		}
		delete(h.ready, h.nextCommit)
		h.nextCommit++
		h.appendResult(next)
	}
}

// appendResult adds res to the raw feed and, unless it repeats the previous
// accepted result, to the processed feed. Must be called with commitMu held.
func (h *Handler) appendResult(res analysis.Result) {
	if h.State() == StateClosed {
		resultsDropped.Inc()
		h.logger.Debug("Dropping result for closed session", "window", res.Window)
		return
	}

	meta := results.Meta{
		ProducedAt: res.ProducedAt,
		Mode:       res.Mode.String(),
		Window:     res.Window,
		Failed:     res.Failed(),
	}
	h.publishEntry(results.Raw, h.sctx.Raw().Append(results.RoleAssistant, res.Text, meta))

	if !h.dedup.Accept(h.runCtx, res.Text, &h.dedupState) {
		h.logger.Debug("Suppressed duplicate result", "window", res.Window)
		h.publish(events.DuplicateSuppressedEvent{
			SessionID: h.id,
			Window:    res.Window,
			Timestamp: h.now().Format(time.RFC3339),
		})
		return
	}
	h.publishEntry(results.Processed, h.sctx.Processed().Append(results.RoleAssistant, res.Text, meta))
}

func (h *Handler) publishEntry(stream string, e results.Entry) {
	h.publish(events.ResultAppendedEvent{
		SessionID:  h.id,
		Stream:     stream,
		Seq:        e.Seq,
		Role:       e.Role,
		Content:    e.Content,
		Mode:       e.Mode,
		Window:     e.Window,
		Failed:     e.Failed,
		ProducedAt: e.ProducedAt.Format(time.RFC3339),
	})
}

func (h *Handler) publish(ev events.Event) {
	if h.bus != nil {
		h.bus.Publish(ev)
	}
}
