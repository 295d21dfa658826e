package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/frames"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFrame(seq uint64) frames.Frame {
	f, err := frames.New(seq, time.Unix(int64(seq), 0), 4, 4, make([]byte, 4*4*3))
	if err != nil {
		panic(err)
	}
	return f
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"true", true},
		{"True.", true},
		{" TRUE\n", true},
		{"false", false},
		{"They differ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.reply); got != tt.want {
			t.Errorf("ParseVerdict(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestDuplicatePromptIncludesBoth(t *testing.T) {
	p := DuplicatePrompt("cur text", "prev text")
	if !strings.Contains(p, "Current: cur text\nPrevious: prev text") {
		t.Errorf("prompt missing texts: %q", p)
	}
	if !strings.HasSuffix(p, "Respond with only 'true' or 'false'.") {
		t.Errorf("prompt missing instruction: %q", p)
	}
}

func TestDefaultPrompt(t *testing.T) {
	if DefaultPrompt(capture.ModeSnapshot) != DefaultSnapshotPrompt {
		t.Error("snapshot prompt")
	}
	if DefaultPrompt(capture.ModeClip) != DefaultClipPrompt {
		t.Error("clip prompt")
	}
}

func TestNewUnit(t *testing.T) {
	w := capture.Window{Seq: 7, Frames: []frames.Frame{testFrame(1), testFrame(2)}}

	snap := NewUnit(capture.ModeSnapshot, w)
	if snap.Window != 7 || len(snap.Frames) != 1 || snap.Frames[0].Seq != 2 {
		t.Errorf("snapshot unit = %+v", snap)
	}
	clip := NewUnit(capture.ModeClip, w)
	if len(clip.Frames) != 2 {
		t.Errorf("clip unit has %d frames", len(clip.Frames))
	}
	if !NewUnit(capture.ModeClip, capture.Window{}).Empty() {
		t.Error("empty window should give an empty unit")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type refusedErr struct{}

func (refusedErr) Error() string   { return "connection refused" }
func (refusedErr) Timeout() bool   { return false }
func (refusedErr) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"empty", ErrEmptyResponse, KindInvalidResponse},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, KindAuth},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindQuota},
		{"quota message", &openai.APIError{HTTPStatusCode: 400, Message: "Quota exceeded for project"}, KindQuota},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad image"}, KindInvalidResponse},
		{"server", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}, KindNetwork},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"net refused", refusedErr{}, KindNetwork},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("kind = %s, want %s", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
	already := &Error{Kind: KindAuth, Err: errors.New("x")}
	if Classify(fmt.Errorf("wrapped: %w", already)) != already {
		t.Error("already classified errors should pass through")
	}
}

func TestResolve(t *testing.T) {
	at := time.Unix(50, 0)
	snap := Unit{Mode: capture.ModeSnapshot, Window: 3}

	ok := Resolve(fn.Ok("a desktop"), snap, at)
	if ok.Text != "a desktop" || ok.Failed() || ok.Window != 3 || !ok.ProducedAt.Equal(at) {
		t.Errorf("unexpected result %+v", ok)
	}

	failed := Resolve(fn.Err[string](errors.New("quota exceeded")), snap, at)
	if failed.Text != "⚠️ Image analysis failed: quota exceeded" {
		t.Errorf("text = %q", failed.Text)
	}
	if !failed.Failed() {
		t.Error("expected failure")
	}

	clip := Resolve(fn.Err[string](context.DeadlineExceeded), Unit{Mode: capture.ModeClip}, at)
	if !strings.HasPrefix(clip.Text, "⚠️ Video analysis failed: ") {
		t.Errorf("text = %q", clip.Text)
	}
	clip.Failure.WhenSome(func(f Failure) {
		if f.Kind != KindTimeout {
			t.Errorf("kind = %s, want timeout", f.Kind)
		}
	})
}

type slowBackend struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (s *slowBackend) Describe(ctx context.Context, _ Unit, _ string) fn.Result[string] {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
		return fn.Ok("done")
	case <-ctx.Done():
		return fn.Err[string](ctx.Err())
	}
}

func (s *slowBackend) IsDuplicate(ctx context.Context, _, _ string) fn.Result[bool] {
	select {
	case <-time.After(s.delay):
		return fn.Ok(false)
	case <-ctx.Done():
		return fn.Err[bool](ctx.Err())
	}
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(&slowBackend{delay: time.Second}, 20*time.Millisecond, 0)

	res := g.Describe(context.Background(), Unit{}, "")
	if !res.IsErr() {
		t.Fatal("expected timeout error")
	}
	if Classify(res.Err()).Kind != KindTimeout {
		t.Errorf("kind = %s", Classify(res.Err()).Kind)
	}

	if g.IsDuplicate(context.Background(), "a", "b").IsOk() {
		t.Error("expected compare timeout")
	}
}

func TestGuardLimitsConcurrency(t *testing.T) {
	inner := &slowBackend{delay: 20 * time.Millisecond}
	g := NewGuard(inner, 0, 2)

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := g.Describe(context.Background(), Unit{}, ""); res.IsErr() {
				t.Errorf("unexpected error: %v", res.Err())
			}
		}()
	}
	wg.Wait()

	if got := inner.maxSeen.Load(); got > 2 {
		t.Errorf("saw %d concurrent calls, limit is 2", got)
	}
}

type chatServer struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	agents   []string
	status   int
	reply    string
	errorMsg string
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.agents = append(s.agents, r.Header.Get("User-Agent"))
	status, reply, errMsg := s.status, s.reply, s.errorMsg
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":%q,"type":"error"}}`, errMsg)
		return
	}
	fmt.Fprintf(w, `{"id":"1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, reply)
}

func newTestBackend(t *testing.T, srv *chatServer) *OpenAIBackend {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	enc := capture.NewEncoder(capture.EncoderConfig{ClipFormat: capture.FormatFrames, MaxFrames: 2}, testLogger())
	b, err := NewOpenAIBackend(Config{APIKey: "k", BaseURL: ts.URL + "/v1beta/openai/"}, enc, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestOpenAIBackendDescribeSnapshot(t *testing.T) {
	srv := &chatServer{reply: "  A code editor  "}
	b := newTestBackend(t, srv)

	text, err := b.Describe(context.Background(), Unit{Mode: capture.ModeSnapshot, Frames: []frames.Frame{testFrame(1)}}, "").Unpack()
	if err != nil {
		t.Fatal(err)
	}
	if text != "A code editor" {
		t.Errorf("text = %q", text)
	}

	req := srv.requests[0]
	if req.Model != DefaultModel {
		t.Errorf("model = %s", req.Model)
	}
	parts := req.Messages[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want prompt and image", len(parts))
	}
	if parts[0].Text != DefaultSnapshotPrompt {
		t.Errorf("prompt = %q", parts[0].Text)
	}
	if parts[1].ImageURL == nil || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image part = %+v", parts[1])
	}
	if !strings.HasPrefix(srv.agents[0], "screenscribe/") {
		t.Errorf("User-Agent = %q", srv.agents[0])
	}
}

func TestOpenAIBackendDescribeClipFrames(t *testing.T) {
	srv := &chatServer{reply: "scrolling"}
	b := newTestBackend(t, srv)

	unit := Unit{Mode: capture.ModeClip, Frames: []frames.Frame{testFrame(1), testFrame(2), testFrame(3)}}
	if res := b.Describe(context.Background(), unit, "what changed?"); res.IsErr() {
		t.Fatal(res.Err())
	}

	parts := srv.requests[0].Messages[0].MultiContent
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want prompt plus 2 sampled frames", len(parts))
	}
	if parts[0].Text != "what changed?" {
		t.Errorf("prompt = %q", parts[0].Text)
	}
}

func TestOpenAIBackendQuotaError(t *testing.T) {
	srv := &chatServer{status: http.StatusTooManyRequests, errorMsg: "quota exceeded"}
	b := newTestBackend(t, srv)

	unit := Unit{Mode: capture.ModeSnapshot, Frames: []frames.Frame{testFrame(1)}}
	res := Resolve(b.Describe(context.Background(), unit, "p"), unit, time.Now())

	if !strings.Contains(res.Text, "quota exceeded") {
		t.Errorf("marker %q should carry provider message", res.Text)
	}
	res.Failure.WhenSome(func(f Failure) {
		if f.Kind != KindQuota {
			t.Errorf("kind = %s, want quota", f.Kind)
		}
	})
}

func TestOpenAIBackendIsDuplicate(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"true", true},
		{"False", false},
	}
	for _, tt := range tests {
		srv := &chatServer{reply: tt.reply}
		b := newTestBackend(t, srv)

		got, err := b.IsDuplicate(context.Background(), "now", "before").Unpack()
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("reply %q: got %v, want %v", tt.reply, got, tt.want)
		}
		if c := srv.requests[0].Messages[0].Content; c != DuplicatePrompt("now", "before") {
			t.Errorf("content = %q", c)
		}
	}
}

func TestOpenAIBackendEmptyUnit(t *testing.T) {
	b := newTestBackend(t, &chatServer{reply: "x"})
	if res := b.Describe(context.Background(), Unit{Mode: capture.ModeClip}, ""); !errors.Is(res.Err(), capture.ErrNoFrames) {
		t.Errorf("err = %v", res.Err())
	}
}

func TestNewOpenAIBackendRequiresKey(t *testing.T) {
	if _, err := NewOpenAIBackend(Config{}, nil, testLogger()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v", err)
	}
}
