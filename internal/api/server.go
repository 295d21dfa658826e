package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/ingest"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/profiles"
	"github.com/smazurov/screenscribe/internal/session"
	"github.com/smazurov/screenscribe/internal/version"
)

// DefaultPollInterval is the feed polling hint given to clients.
const DefaultPollInterval = 2 * time.Second

// DefaultMaxFramePixels admits frames up to 4K UHD.
const DefaultMaxFramePixels = 3840 * 2160

// Options wires the server to the rest of the application.
type Options struct {
	AuthUsername string
	AuthPassword string

	Sessions *session.Manager
	Backend  analysis.Backend
	Encoder  *capture.Encoder
	EventBus *events.Bus
	// Model is reported by one-shot analysis.
	Model string

	Receiver *ingest.Receiver // optional
	Profiles *profiles.Store  // optional

	PollInterval time.Duration
	// MaxFramePixels bounds width*height of uploaded images.
	MaxFramePixels    int
	PrometheusHandler http.Handler // optional
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger

	sessions *session.Manager
	backend  analysis.Backend
	encoder  *capture.Encoder
	eventBus *events.Bus
	receiver *ingest.Receiver
	profiles *profiles.Store

	frameSeq atomic.Uint64
}

// NewServer creates the API server with Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("screenscribe API", version.Version)
	config.Info.Description = "Windowed screen capture analysis with raw and deduplicated result feeds"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)
	server := newServer(api, opts)
	server.mux = mux

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs", http.StatusFound)
	})

	return server
}

// newServer binds handlers to api without registering routes, so tests can
// mount them on a humatest API.
func newServer(api huma.API, opts *Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxFramePixels <= 0 {
		opts.MaxFramePixels = DefaultMaxFramePixels
	}
	if opts.EventBus == nil {
		opts.EventBus = events.New()
	}
	return &Server{
		api:      api,
		options:  opts,
		logger:   logging.GetLogger("api"),
		sessions: opts.Sessions,
		backend:  opts.Backend,
		encoder:  opts.Encoder,
		eventBus: opts.EventBus,
		receiver: opts.Receiver,
		profiles: opts.Profiles,
	}
}

// GetMux returns the underlying ServeMux.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down, giving in-flight requests until ctx is done.
// Open SSE streams are cut when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:   "ok",
				Message:  "API is healthy",
				Sessions: s.sessions.Len(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerRTCRoutes()
	s.registerSessionRoutes()
	s.registerFeedRoutes()
	s.registerProfileRoutes()
	s.registerAnalyzeRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns the basic auth security requirement.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
