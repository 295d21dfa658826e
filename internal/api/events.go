package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/events"
)

// connectedEvent is the first message on every event stream.
type connectedEvent struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Greeting"`
	SessionID string `json:"session_id,omitempty" doc:"Session the stream is scoped to"`
	Timestamp string `json:"timestamp" doc:"Connection time"`
}

func sessionEventTypes() map[string]any {
	return map[string]any{
		"connected":         connectedEvent{},
		"session-created":   events.SessionCreatedEvent{},
		"session-state":     events.SessionStateChangedEvent{},
		"context-updated":   events.ContextUpdatedEvent{},
		"session-closed":    events.SessionClosedEvent{},
		"result":            events.ResultAppendedEvent{},
		"duplicate":         events.DuplicateSuppressedEvent{},
		"ingest-state":      events.IngestStateChangedEvent{},
		"profiles-reloaded": events.ProfilesReloadedEvent{},
	}
}

// subscribeSession forwards every session-scoped event for sessionID into
// ch. An empty sessionID subscribes to all sessions.
func (s *Server) subscribeSession(sessionID string, ch chan<- any) func() {
	unsubscribers := []func(){
		events.SubscribeSession[events.SessionCreatedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.SessionStateChangedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.ContextUpdatedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.SessionClosedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.ResultAppendedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.DuplicateSuppressedEvent](s.eventBus, sessionID, ch),
		events.SubscribeSession[events.IngestStateChangedEvent](s.eventBus, sessionID, ch),
	}
	return func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}
}

// forward sends events from ch until the client goes away. A session
// stream ends after its session-closed event.
func forward(ctx context.Context, send sse.Sender, ch <-chan any, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := send.Data(ev); err != nil {
				return
			}
			if _, closed := ev.(events.SessionClosedEvent); closed && sessionID != "" {
				return
			}
		}
	}
}

// registerSSERoutes registers the event streams.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event Stream",
		Description: "Results, duplicates and state changes for every session",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, sessionEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ch := make(chan any, 32)
		defer s.subscribeSession("", ch)()
		defer events.SubscribeToChannel[events.ProfilesReloadedEvent](s.eventBus, ch)()

		if err := send.Data(connectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}
		forward(ctx, send, ch, "")
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "session-events-stream",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}/events",
		Summary:     "Session Event Stream",
		Description: "Results, duplicates and state changes for one session. The stream ends when the session closes.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, sessionEventTypes(), func(ctx context.Context, input *models.SessionPath, send sse.Sender) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return
		}
		ch := make(chan any, 32)
		defer s.subscribeSession(h.ID(), ch)()

		if err := send.Data(connectedEvent{
			Message:   "SSE connection established",
			SessionID: h.ID(),
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}
		forward(ctx, send, ch, h.ID())
	})
}
