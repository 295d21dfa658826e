package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"pgregory.net/rapid"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/analysis/analysistest"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/frames"
)

var t0 = time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// At moves the clock to t0 plus offset.
func (c *fakeClock) At(offset time.Duration) {
	c.mu.Lock()
	c.now = t0.Add(offset)
	c.mu.Unlock()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func frame(seq uint64) frames.Frame {
	f, err := frames.New(seq, t0, 2, 2, make([]byte, 12))
	if err != nil {
		panic(err)
	}
	return f
}

type fixture struct {
	h       *Handler
	clock   *fakeClock
	backend *analysistest.Backend
	seq     uint64
}

func newFixture(t *testing.T, mode capture.Mode, recording bool) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	backend := analysistest.New()
	h := NewHandler(Options{
		ID:        "test",
		Mode:      mode,
		Window:    2 * time.Second,
		Recording: recording,
		Backend:   backend,
		Logger:    testLogger(),
		Clock:     clock.Now,
	})
	t.Cleanup(h.Close)
	return &fixture{h: h, clock: clock, backend: backend}
}

// send delivers a frame at each offset in seconds.
func (f *fixture) send(offsets ...float64) {
	for _, off := range offsets {
		f.clock.At(seconds(off))
		f.seq++
		f.h.Receive(frame(f.seq))
	}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.h.Wait(ctx); err != nil {
		t.Fatalf("analyses did not finish: %v", err)
	}
}

func contents(h *Handler, view string) []string {
	s, _ := h.Context().Stream(view)
	var out []string
	for _, e := range s.Snapshot() {
		out = append(out, e.Content)
	}
	return out
}

func TestFlushAfterWindowElapses(t *testing.T) {
	f := newFixture(t, capture.ModeClip, true)

	f.send(0, 0.5, 1.0, 1.9)
	if n := len(f.backend.Calls()); n != 0 {
		t.Fatalf("%d analysis calls before the window elapsed", n)
	}
	if got := f.h.Status().Buffered; got != 4 {
		t.Fatalf("buffered = %d, want 4", got)
	}

	f.send(2.1)
	f.wait(t)

	calls := f.backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	unit := calls[0].Unit
	if unit.Mode != capture.ModeClip || len(unit.Frames) != 4 {
		t.Fatalf("unit = mode %s with %d frames", unit.Mode, len(unit.Frames))
	}
	for i, fr := range unit.Frames {
		if fr.Seq != uint64(i+1) {
			t.Errorf("frame %d has seq %d", i, fr.Seq)
		}
	}
	if calls[0].Prompt != analysis.DefaultClipPrompt {
		t.Errorf("prompt = %q", calls[0].Prompt)
	}

	// The triggering frame starts the next window.
	if got := f.h.Status().Buffered; got != 1 {
		t.Errorf("buffered after flush = %d, want 1", got)
	}
	if last, ok := f.h.Emit(); !ok || last.Seq != 5 {
		t.Errorf("Emit = %d, %v; want frame 5", last.Seq, ok)
	}
}

func TestSnapshotUsesLastFrame(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	f.send(0, 0.5, 1.0, 1.9, 2.1)
	f.wait(t)

	calls := f.backend.Calls()
	if len(calls) != 1 || len(calls[0].Unit.Frames) != 1 || calls[0].Unit.Frames[0].Seq != 4 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Prompt != analysis.DefaultSnapshotPrompt {
		t.Errorf("prompt = %q", calls[0].Prompt)
	}
}

func TestStopRecordingDiscardsPartialWindow(t *testing.T) {
	f := newFixture(t, capture.ModeClip, true)
	f.send(0, 0.5, 1.0)

	if err := f.h.StopRecording(); err != nil {
		t.Fatal(err)
	}
	f.wait(t)

	if n := len(f.backend.Calls()); n != 0 {
		t.Errorf("%d analysis calls, want none", n)
	}
	if f.h.Status().Buffered != 0 {
		t.Error("buffer should be empty")
	}
	if len(contents(f.h, "raw")) != 0 || len(contents(f.h, "processed")) != 0 {
		t.Error("streams should be unchanged")
	}
	if f.h.Context().Recording() {
		t.Error("context should not be recording")
	}
}

func TestBackendFailureBecomesMarker(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	f.backend.QueueError(errors.New("quota exceeded"))

	f.send(0, 2.0)
	f.wait(t)

	raw := f.h.Context().Raw().Snapshot()
	if len(raw) != 1 {
		t.Fatalf("raw has %d entries", len(raw))
	}
	if !strings.Contains(raw[0].Content, "quota exceeded") || !raw[0].Failed {
		t.Errorf("raw entry = %+v", raw[0])
	}
	if processed := contents(f.h, "processed"); len(processed) != 1 || processed[0] != raw[0].Content {
		t.Errorf("processed = %v", processed)
	}

	// A repeated failure is deduplicated like any text.
	f.backend.QueueError(errors.New("quota exceeded"))
	f.send(4.0)
	f.wait(t)
	if len(contents(f.h, "raw")) != 2 || len(contents(f.h, "processed")) != 1 {
		t.Errorf("raw %v processed %v", contents(f.h, "raw"), contents(f.h, "processed"))
	}
	cmp := f.backend.Comparisons()
	if len(cmp) != 1 || cmp[0].Current != cmp[0].Previous {
		t.Errorf("comparisons = %+v", cmp)
	}
}

func TestProcessedStreamDeduplicatesAdjacent(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	f.backend.QueueText("A", "A", "B", "A")

	f.send(0)
	for i := 1; i <= 4; i++ {
		f.send(float64(2 * i))
		f.wait(t)
	}

	if raw := contents(f.h, "raw"); strings.Join(raw, ",") != "A,A,B,A" {
		t.Errorf("raw = %v", raw)
	}
	if processed := contents(f.h, "processed"); strings.Join(processed, ",") != "A,B,A" {
		t.Errorf("processed = %v", processed)
	}
	if len(f.backend.Comparisons()) != 3 {
		t.Errorf("comparisons = %d, want 3", len(f.backend.Comparisons()))
	}
}

func TestIdleClearsBuffer(t *testing.T) {
	f := newFixture(t, capture.ModeClip, false)
	f.send(0, 1, 2, 3, 4, 5)
	f.wait(t)

	if n := len(f.backend.Calls()); n != 0 {
		t.Errorf("%d calls while idle", n)
	}
	if f.h.Status().Buffered != 0 {
		t.Error("idle handler buffered frames")
	}
	if _, ok := f.h.Emit(); ok {
		t.Error("Emit should be empty while idle")
	}
	latest := f.h.Latest()
	if latest.IsNone() || latest.UnwrapOr(frames.Frame{}).Seq != 6 {
		t.Error("Latest should track idle frames")
	}
}

func TestStartRecordingStartsFreshWindow(t *testing.T) {
	f := newFixture(t, capture.ModeClip, false)
	f.send(0, 1)

	f.clock.At(seconds(5))
	if err := f.h.StartRecording(); err != nil {
		t.Fatal(err)
	}
	f.send(5.5, 6.9)
	if n := len(f.backend.Calls()); n != 0 {
		t.Fatalf("window measured from before recording started")
	}
	f.send(7.0)
	f.wait(t)

	calls := f.backend.Calls()
	if len(calls) != 1 || len(calls[0].Unit.Frames) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestEmptyWindowSkipped(t *testing.T) {
	f := newFixture(t, capture.ModeClip, true)

	// First frame arrives after a whole window with nothing buffered.
	f.send(3)
	f.wait(t)
	if n := len(f.backend.Calls()); n != 0 {
		t.Errorf("empty window analysed %d times", n)
	}
	if f.h.Context().Raw().Len() != 0 {
		t.Error("empty window produced a result")
	}
	if f.h.Status().Buffered != 1 {
		t.Error("frame should start the next window")
	}
}

func TestReceiveAfterCloseIsNoop(t *testing.T) {
	f := newFixture(t, capture.ModeClip, true)
	f.send(0)
	f.h.Close()
	f.h.Close()

	f.send(1, 5, 9)
	f.wait(t)

	if f.h.State() != StateClosed {
		t.Errorf("state = %s", f.h.State())
	}
	if n := len(f.backend.Calls()); n != 0 {
		t.Errorf("%d calls after close", n)
	}
	if err := f.h.StartRecording(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("StartRecording err = %v", err)
	}
	if err := f.h.Apply(Update{Prompt: fn.Some("x")}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Apply err = %v", err)
	}
}

func TestResultsAfterCloseAreDropped(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	release := make(chan struct{})
	f.backend.OnDescribe(func(context.Context, analysis.Unit, string) fn.Result[string] {
		<-release
		return fn.Ok("late")
	})

	f.send(0, 2)
	f.h.Close()
	close(release)
	f.wait(t)

	if n := f.h.Context().Raw().Len(); n != 0 {
		t.Errorf("raw has %d entries after close", n)
	}
}

func TestCloseLetsInFlightAnalysisFinish(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	started := make(chan struct{})
	release := make(chan struct{})
	cancelled := make(chan bool, 1)
	f.backend.OnDescribe(func(ctx context.Context, _ analysis.Unit, _ string) fn.Result[string] {
		close(started)
		select {
		case <-ctx.Done():
			cancelled <- true
		case <-release:
			cancelled <- false
		}
		return fn.Ok("late")
	})

	f.send(0, 2)
	<-started
	f.h.Close()
	close(release)
	f.wait(t)

	if <-cancelled {
		t.Error("analysis context was cancelled by Close")
	}
	if n := f.h.Context().Raw().Len(); n != 0 {
		t.Errorf("raw has %d entries after close", n)
	}
}

func TestResultsCommitInWindowOrder(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	release := make(chan struct{})
	f.backend.OnDescribe(func(_ context.Context, u analysis.Unit, _ string) fn.Result[string] {
		if u.Window == 1 {
			<-release
		}
		return fn.Ok(fmt.Sprintf("window%d", u.Window))
	})

	f.send(0, 2.0, 4.0)

	// Window 2 is committed once only window 1 remains in flight.
	deadline := time.Now().Add(2 * time.Second)
	for len(f.backend.Calls()) < 2 || f.h.Status().InFlight != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("window 2 did not finish, status = %+v", f.h.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := f.h.Context().Raw().Len(); n != 0 {
		t.Errorf("window 2 committed ahead of window 1: %v", contents(f.h, "raw"))
	}

	close(release)
	f.wait(t)

	if raw := contents(f.h, "raw"); strings.Join(raw, ",") != "window1,window2" {
		t.Errorf("raw = %v", raw)
	}
	if processed := contents(f.h, "processed"); strings.Join(processed, ",") != "window1,window2" {
		t.Errorf("processed = %v", processed)
	}
}

func TestIntakeContinuesDuringAnalysis(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	release := make(chan struct{})
	f.backend.OnDescribe(func(_ context.Context, u analysis.Unit, _ string) fn.Result[string] {
		<-release
		return fn.Ok("window")
	})

	f.send(0, 2.0, 2.5, 3.0, 4.0)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.backend.Calls()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second window not dispatched while first was in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := f.h.Status(); st.InFlight != 2 || st.Buffered != 1 {
		t.Errorf("status = %+v", st)
	}

	close(release)
	f.wait(t)
	if f.h.Context().Raw().Len() != 2 {
		t.Errorf("raw = %v", contents(f.h, "raw"))
	}
}

func TestApplyChangesNextFlush(t *testing.T) {
	f := newFixture(t, capture.ModeSnapshot, true)
	f.send(0, 1)

	err := f.h.Apply(Update{
		Mode:   fn.Some(capture.ModeClip),
		Prompt: fn.Some("What is the user typing?"),
		Window: fn.Some(3 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}

	f.send(2.5)
	if n := len(f.backend.Calls()); n != 0 {
		t.Fatal("longer window should not have elapsed")
	}
	f.send(3.0)
	f.wait(t)

	calls := f.backend.Calls()
	if len(calls) != 1 || calls[0].Prompt != "What is the user typing?" || len(calls[0].Unit.Frames) != 3 {
		t.Fatalf("calls = %+v", calls)
	}

	if err := f.h.Apply(Update{Mode: fn.Some(capture.Mode("gif"))}); err == nil {
		t.Error("expected invalid mode error")
	}
}

func TestApplyPublishesContextUpdate(t *testing.T) {
	bus := events.New()
	updates := make(chan events.ContextUpdatedEvent, 4)
	states := make(chan events.SessionStateChangedEvent, 4)
	defer bus.Subscribe(func(e events.ContextUpdatedEvent) { updates <- e })()
	defer bus.Subscribe(func(e events.SessionStateChangedEvent) { states <- e })()

	clock := &fakeClock{now: t0}
	h := NewHandler(Options{ID: "s1", Backend: analysistest.New(), Bus: bus, Logger: testLogger(), Clock: clock.Now})
	defer h.Close()

	err := h.Apply(Update{Mode: fn.Some(capture.ModeClip), Prompt: fn.Some("p"), Window: fn.Some(5 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-updates:
		if e.SessionID != "s1" || e.Mode != "clip" || e.Prompt != "p" || e.Window != "5s" {
			t.Errorf("context event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no context event")
	}
	select {
	case e := <-states:
		t.Errorf("unexpected state event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventsPublished(t *testing.T) {
	bus := events.New()
	appended := make(chan events.ResultAppendedEvent, 8)
	states := make(chan events.SessionStateChangedEvent, 8)
	defer bus.Subscribe(func(e events.ResultAppendedEvent) { appended <- e })()
	defer bus.Subscribe(func(e events.SessionStateChangedEvent) { states <- e })()

	clock := &fakeClock{now: t0}
	h := NewHandler(Options{ID: "s1", Backend: analysistest.New().QueueText("hello"), Bus: bus, Logger: testLogger(), Clock: clock.Now})
	defer h.Close()

	if err := h.StartRecording(); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-states:
		if e.State != "recording" || e.Previous != "idle" {
			t.Errorf("state event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state event")
	}

	h.Receive(frame(1))
	clock.At(2 * time.Second)
	h.Receive(frame(2))

	got := map[string]events.ResultAppendedEvent{}
	for len(got) < 2 {
		select {
		case e := <-appended:
			got[e.Stream] = e
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d result events, want 2", len(got))
		}
	}
	if got["raw"].Content != "hello" || got["processed"].Seq != 1 || got["raw"].SessionID != "s1" {
		t.Errorf("events = %+v", got)
	}
}

// model mirrors the gate-then-append rule without concurrency.
type model struct {
	window   time.Duration
	start    time.Duration
	windows  uint64
	buffered []uint64
	flushed  map[uint64][]uint64
}

// receive reports whether the window gate fired.
func (m *model) receive(at time.Duration, seq uint64) bool {
	due := at-m.start >= m.window
	if due {
		m.windows++
		if len(m.buffered) > 0 {
			m.flushed[m.windows] = m.buffered
		}
		m.buffered = nil
		m.start = at
	}
	m.buffered = append(m.buffered, seq)
	return due
}

func TestPipelineMatchesModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mode := rapid.SampledFrom([]capture.Mode{capture.ModeSnapshot, capture.ModeClip}).Draw(rt, "mode")
		windowMs := rapid.Int64Range(100, 5000).Draw(rt, "window_ms")
		gaps := rapid.SliceOfN(rapid.Int64Range(0, 3000), 1, 60).Draw(rt, "gaps_ms")

		clock := &fakeClock{now: t0}
		backend := analysistest.New()
		h := NewHandler(Options{
			Mode:      mode,
			Window:    time.Duration(windowMs) * time.Millisecond,
			Recording: true,
			Backend:   backend,
			Logger:    testLogger(),
			Clock:     clock.Now,
		})
		defer h.Close()

		m := &model{window: time.Duration(windowMs) * time.Millisecond, flushed: map[uint64][]uint64{}}
		var at time.Duration
		for i, gap := range gaps {
			at += time.Duration(gap) * time.Millisecond
			clock.At(at)
			seq := uint64(i + 1)

			before := h.Status().Buffered
			h.Receive(frame(seq))
			flushed := m.receive(at, seq)

			after := h.Status().Buffered
			switch {
			case flushed && after != 1:
				rt.Fatalf("buffer after flush = %d, want 1", after)
			case !flushed && after != before+1:
				rt.Fatalf("buffer went from %d to %d without a flush", before, after)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Wait(ctx); err != nil {
			rt.Fatal(err)
		}

		calls := backend.Calls()
		if len(calls) != len(m.flushed) {
			rt.Fatalf("got %d calls, model flushed %d windows", len(calls), len(m.flushed))
		}
		if h.Status().Buffered != len(m.buffered) {
			rt.Fatalf("buffered %d, model %d", h.Status().Buffered, len(m.buffered))
		}

		// Calls may complete in any order, so match them by window number.
		for _, c := range calls {
			want, ok := m.flushed[c.Unit.Window]
			if !ok {
				rt.Fatalf("analysed window %d the model never flushed", c.Unit.Window)
			}
			got := seqs(c.Unit.Frames)
			if mode == capture.ModeSnapshot {
				want = want[len(want)-1:]
			}
			if !equalSeqs(got, want) {
				rt.Fatalf("window %d: analysed %v, want %v", c.Unit.Window, got, want)
			}
		}
	})
}

func seqs(fs []frames.Frame) []uint64 {
	out := make([]uint64, len(fs))
	for i, f := range fs {
		out[i] = f.Seq
	}
	return out
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
