package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/frames"
	"github.com/smazurov/screenscribe/internal/ingest"
	"github.com/smazurov/screenscribe/internal/session"
)

// registerFeedRoutes registers frame intake, feed polling and preview.
func (s *Server) registerFeedRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "push-frame",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/frames",
		Summary:     "Push Frame",
		Description: "Deliver one captured frame. Frames are buffered only while recording; the preview always updates.",
		Tags:        []string{"frames"},
		Errors:      []int{400, 401, 404, 409},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.FrameRequest) (*models.FrameResponse, error) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		if h.State() == session.StateClosed {
			return nil, s.mapSessionError(session.ErrSessionClosed)
		}

		ts := input.Body.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		f, err := s.frameFromBase64(input.Body.Image, ts)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		h.Receive(f)

		st := h.Status()
		return &models.FrameResponse{
			Body: models.FrameAckData{Seq: f.Seq, State: st.State.String(), Buffered: st.Buffered},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-messages",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}/messages",
		Summary:     "Poll Feed",
		Description: "Read the processed (deduplicated, default) or raw result feed",
		Tags:        []string{"frames"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.MessagesRequest) (*models.MessagesResponse, error) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		stream, err := h.Context().Stream(input.View)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		return &models.MessagesResponse{
			Body: models.MessagesData{
				View:           stream.Name(),
				Messages:       stream.Since(input.Since),
				Last:           stream.Len(),
				PollIntervalMs: int(s.options.PollInterval / time.Millisecond),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-preview",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}/preview",
		Summary:     "Preview",
		Description: "Latest received frame as JPEG, or 204 before the first frame",
		Tags:        []string{"frames"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*models.PreviewResponse, error) {
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		latest := h.Latest()
		if latest.IsNone() {
			return &models.PreviewResponse{Status: http.StatusNoContent}, nil
		}
		media, err := s.encoder.JPEG(latest.UnwrapOr(frames.Frame{}))
		if err != nil {
			return nil, huma.Error500InternalServerError("encode preview", err)
		}
		return &models.PreviewResponse{Status: http.StatusOK, ContentType: media.MIME, Body: media.Data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/webrtc",
		Summary:     "Publish Screen",
		Description: "Exchange an SDP offer for an answer. Decoded frames from the shared screen flow into the session.",
		Tags:        []string{"webrtc"},
		Errors:      []int{400, 401, 404, 409, 501},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.WebRTCRequest) (*models.WebRTCResponse, error) {
		if s.receiver == nil {
			return nil, huma.Error501NotImplemented("WebRTC ingest is disabled")
		}
		h, err := s.sessions.Get(input.ID)
		if err != nil {
			return nil, s.mapSessionError(err)
		}
		if h.State() == session.StateClosed {
			return nil, s.mapSessionError(session.ErrSessionClosed)
		}
		answer, err := s.receiver.Accept(h.ID(), h, input.Body.SDP)
		if err != nil {
			return nil, huma.Error400BadRequest("failed to negotiate", err)
		}
		return &models.WebRTCResponse{Body: models.WebRTCOffer{Type: "answer", SDP: answer}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "webrtc-close",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{id}/webrtc",
		Summary:       "Stop Publishing",
		Description:   "Disconnect the session's screen share",
		Tags:          []string{"webrtc"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 501},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.SessionPath) (*struct{}, error) {
		if s.receiver == nil {
			return nil, huma.Error501NotImplemented("WebRTC ingest is disabled")
		}
		if !s.receiver.Active(input.ID) {
			return nil, huma.Error404NotFound(ingest.ErrNoPeer.Error(), ingest.ErrNoPeer)
		}
		s.receiver.Close(input.ID)
		return nil, nil
	})
}

// registerRTCRoutes registers connectivity configuration for the capture page.
func (s *Server) registerRTCRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-rtc-config",
		Method:      http.MethodGet,
		Path:        "/api/rtc-config",
		Summary:     "RTC Configuration",
		Description: "ICE servers for the browser's RTCPeerConnection",
		Tags:        []string{"webrtc"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.RTCConfigResponse, error) {
		cfg := ingest.Config{ICEServers: ingest.DefaultICEServers}
		if s.receiver != nil {
			cfg = s.receiver.Config()
		}
		servers := cfg.PionICEServers()
		out := make([]models.ICEServer, len(servers))
		for i, srv := range servers {
			credential, _ := srv.Credential.(string)
			out[i] = models.ICEServer{URLs: srv.URLs, Username: srv.Username, Credential: credential}
		}
		return &models.RTCConfigResponse{Body: models.RTCConfigData{ICEServers: out}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-decoder-options",
		Method:      http.MethodGet,
		Path:        "/api/webrtc/options",
		Summary:     "Decoder Options",
		Description: "FFmpeg input flags available to the WebRTC ingest decoder",
		Tags:        []string{"webrtc"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		active := ffmpeg.GetDefaultOptions()
		if s.receiver != nil {
			active = s.receiver.Config().DecodeOptions
		}
		names := make([]string, len(active))
		for i, o := range active {
			names[i] = string(o)
		}
		return &models.OptionsResponse{
			Body: models.OptionsData{Options: ffmpeg.AllOptions, Active: names},
		}, nil
	})
}
