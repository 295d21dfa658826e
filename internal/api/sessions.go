package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/profiles"
	"github.com/smazurov/screenscribe/internal/session"
)

// registerSessionRoutes registers session lifecycle endpoints.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Create Session",
		Description:   "Open a capture session. Explicit fields override the profile, which overrides server defaults.",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 429},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.SessionCreateRequest) (*models.SessionResponse, error) {
		opts, err := createOptions(input.Body)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		h, err := s.sessions.Create(opts)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		return &models.SessionResponse{Body: s.sessionData(h.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "List open sessions, oldest first",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		statuses := s.sessions.List()
		data := make([]models.SessionData, len(statuses))
		for i, st := range statuses {
			data[i] = s.sessionData(st)
		}
		return &models.SessionListResponse{
			Body: models.SessionListData{Sessions: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get Session",
		Description: "Get the state and counters of a session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*models.SessionResponse, error) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		return &models.SessionResponse{Body: s.sessionData(h.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{id}",
		Summary:       "Close Session",
		Description:   "Close a session. Analyses still running are cancelled and their results dropped.",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*struct{}, error) {
		if s.receiver != nil {
			s.receiver.Close(input.ID)
		}
		if err := s.sessions.Close(input.ID); err != nil {
			return nil, s.mapSessionError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/recording/start",
		Summary:     "Start Recording",
		Description: "Begin windowed analysis with a fresh window. Starting twice is a no-op.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404, 409},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*models.SessionResponse, error) {
		return s.transition(input.ID, (*session.Handler).StartRecording)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/recording/stop",
		Summary:     "Stop Recording",
		Description: "Stop flushing windows. The partial window is discarded; analyses already running still complete.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404, 409},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*models.SessionResponse, error) {
		return s.transition(input.ID, (*session.Handler).StopRecording)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-context",
		Method:      http.MethodPatch,
		Path:        "/api/sessions/{id}/context",
		Summary:     "Update Context",
		Description: "Change mode, prompt or window. Mode and prompt apply from the next flushed window.",
		Tags:        []string{"sessions"},
		Errors:      []int{400, 401, 404, 409},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ContextUpdateRequest) (*models.SessionResponse, error) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		update, err := contextUpdate(input.Body)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		if err := h.Apply(update); err != nil {
			return nil, s.mapSessionError(err)
		}
		return &models.SessionResponse{Body: s.sessionData(h.Status())}, nil
	})
}

func (s *Server) transition(id string, op func(*session.Handler) error) (*models.SessionResponse, error) {
	h, err := s.sessions.Get(id)
	if err != nil {
		return nil, s.mapSessionError(err)
	}
	if err := op(h); err != nil {
		return nil, s.mapSessionError(err)
	}
	return &models.SessionResponse{Body: s.sessionData(h.Status())}, nil
}

func createOptions(body models.SessionCreateData) (session.CreateOptions, error) {
	opts := session.CreateOptions{Profile: body.Profile}
	if body.Mode != "" {
		mode, err := capture.ParseMode(body.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = fn.Some(mode)
	}
	if body.Prompt != "" {
		opts.Prompt = fn.Some(body.Prompt)
	}
	if body.Window != "" {
		window, err := parseWindow(body.Window)
		if err != nil {
			return opts, err
		}
		opts.Window = fn.Some(window)
	}
	if body.Recording != nil {
		opts.Recording = fn.Some(*body.Recording)
	}
	return opts, nil
}

func contextUpdate(body models.ContextUpdateData) (session.Update, error) {
	var u session.Update
	if body.Mode != "" {
		mode, err := capture.ParseMode(body.Mode)
		if err != nil {
			return u, err
		}
		u.Mode = fn.Some(mode)
	}
	if body.Prompt != nil {
		u.Prompt = fn.Some(*body.Prompt)
	}
	if body.Window != "" {
		window, err := parseWindow(body.Window)
		if err != nil {
			return u, err
		}
		u.Window = fn.Some(window)
	}
	return u, nil
}

func parseWindow(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive, got %s", s)
	}
	return d, nil
}

func (s *Server) sessionData(st session.Status) models.SessionData {
	return models.SessionData{
		ID:             st.ID,
		Profile:        st.Profile,
		State:          st.State.String(),
		Mode:           st.Mode.String(),
		Prompt:         st.Prompt,
		Window:         st.Window.String(),
		Buffered:       st.Buffered,
		Windows:        st.Windows,
		InFlight:       st.InFlight,
		RawCount:       st.Raw,
		ProcessedCount: st.Processed,
		Publisher:      s.receiver != nil && s.receiver.Active(st.ID),
		CreatedAt:      st.CreatedAt,
	}
}

// mapSessionError maps domain errors to HTTP errors.
func (s *Server) mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, profiles.ErrProfileNotFound):
		return huma.Error404NotFound(err.Error(), err)
	case errors.Is(err, session.ErrSessionClosed):
		return huma.Error409Conflict(err.Error(), err)
	case errors.Is(err, session.ErrTooManySessions):
		return huma.Error429TooManyRequests(err.Error(), err)
	case errors.Is(err, capture.ErrUnknownMode), errors.Is(err, session.ErrUnknownView),
		errors.Is(err, profiles.ErrInvalidProfile):
		return huma.Error400BadRequest(err.Error(), err)
	}
	s.logger.Error("Unexpected session error", "error", err)
	return huma.Error500InternalServerError("internal server error", err)
}
