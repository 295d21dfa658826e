package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/screenscribe/cmd"
	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/api"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/config"
	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/ingest"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/profiles"
	"github.com/smazurov/screenscribe/internal/session"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port           string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	PollInterval   string `help:"Polling interval suggested to feed clients" default:"2s" toml:"server.poll_interval" env:"SERVER_POLL_INTERVAL"`
	MaxSessions    int    `help:"Maximum concurrent sessions (0 = unlimited)" default:"16" toml:"server.max_sessions" env:"SERVER_MAX_SESSIONS"`
	MaxFramePixels int    `help:"Largest accepted image in pixels (width*height)" default:"8294400" toml:"server.max_frame_pixels" env:"SERVER_MAX_FRAME_PIXELS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Analysis settings
	AnalysisAPIKey       string `help:"Vision API key (falls back to GEMINI_API_KEY)" default:"" toml:"analysis.api_key" env:"ANALYSIS_API_KEY"`
	AnalysisBaseURL      string `help:"OpenAI-compatible endpoint" default:"https://generativelanguage.googleapis.com/v1beta/openai/" toml:"analysis.base_url" env:"ANALYSIS_BASE_URL"`
	AnalysisModel        string `help:"Model for descriptions" default:"gemini-2.0-flash" toml:"analysis.model" env:"ANALYSIS_MODEL"`
	AnalysisCompareModel string `help:"Model for duplicate checks (defaults to the description model)" default:"" toml:"analysis.compare_model" env:"ANALYSIS_COMPARE_MODEL"`
	AnalysisMaxTokens    int    `help:"Max tokens per description (0 = provider default)" default:"0" toml:"analysis.max_tokens" env:"ANALYSIS_MAX_TOKENS"`
	AnalysisTimeout      string `help:"Per-call timeout (0 disables)" default:"60s" toml:"analysis.timeout" env:"ANALYSIS_TIMEOUT"`
	AnalysisConcurrency  int    `help:"Concurrent backend calls across sessions (0 = unlimited)" default:"4" toml:"analysis.concurrency" env:"ANALYSIS_CONCURRENCY"`

	// Capture settings
	CaptureMode      string `help:"Default capture mode (snapshot, clip)" default:"snapshot" toml:"capture.mode" env:"CAPTURE_MODE"`
	CaptureWindow    string `help:"Default window length" default:"2s" toml:"capture.window" env:"CAPTURE_WINDOW"`
	CapturePrompt    string `help:"Default prompt (empty uses the mode default)" default:"" toml:"capture.prompt" env:"CAPTURE_PROMPT"`
	CaptureRecording bool   `help:"Start new sessions recording" default:"false" toml:"capture.recording" env:"CAPTURE_RECORDING"`

	// Clip encoding settings
	EncoderFFmpegPath  string `help:"ffmpeg binary" default:"ffmpeg" toml:"encoder.ffmpeg_path" env:"ENCODER_FFMPEG_PATH"`
	EncoderClipFormat  string `help:"Clip format (mp4, webm, frames)" default:"mp4" toml:"encoder.clip_format" env:"ENCODER_CLIP_FORMAT"`
	EncoderClipFPS     int    `help:"Clip frame rate" default:"10" toml:"encoder.clip_fps" env:"ENCODER_CLIP_FPS"`
	EncoderMaxSide     int    `help:"Downscale so neither side exceeds this (0 = keep)" default:"1280" toml:"encoder.max_side" env:"ENCODER_MAX_SIDE"`
	EncoderJPEGQuality int    `help:"JPEG quality" default:"85" toml:"encoder.jpeg_quality" env:"ENCODER_JPEG_QUALITY"`

	// WebRTC ingest settings
	IngestEnabled       bool   `help:"Accept WebRTC screen shares" default:"true" toml:"ingest.enabled" env:"INGEST_ENABLED"`
	IngestICEServers    string `help:"Comma-separated STUN/TURN URLs" default:"" toml:"ingest.ice_servers" env:"INGEST_ICE_SERVERS"`
	IngestTURNUsername  string `help:"TURN username" default:"" toml:"ingest.turn_username" env:"INGEST_TURN_USERNAME"`
	IngestTURNPassword  string `help:"TURN password" default:"" toml:"ingest.turn_password" env:"INGEST_TURN_PASSWORD"`
	IngestWidth         int    `help:"Decoded frame width" default:"1280" toml:"ingest.width" env:"INGEST_WIDTH"`
	IngestHeight        int    `help:"Decoded frame height" default:"720" toml:"ingest.height" env:"INGEST_HEIGHT"`
	IngestFPS           int    `help:"Decoded frame rate" default:"5" toml:"ingest.fps" env:"INGEST_FPS"`
	IngestDecodeOptions string `help:"Comma-separated decoder flags (see /api/webrtc/options)" default:"" toml:"ingest.decode_options" env:"INGEST_DECODE_OPTIONS"`

	// Profiles settings
	ProfilesFile string `help:"Analysis profiles file" default:"profiles.toml" toml:"profiles.file" env:"PROFILES_FILE"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession  string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingAnalysis string `help:"Analysis logging level" default:"info" toml:"logging.analysis" env:"LOGGING_ANALYSIS"`
	LoggingCapture  string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingFFmpeg   string `help:"FFmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingIngest   string `help:"WebRTC ingest logging level" default:"info" toml:"logging.ingest" env:"LOGGING_INGEST"`
	LoggingProfiles string `help:"Profiles logging level" default:"info" toml:"logging.profiles" env:"LOGGING_PROFILES"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func parseDuration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (o *Options) analysisConfig() analysis.Config {
	key := o.AnalysisAPIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	return analysis.Config{
		APIKey:       key,
		BaseURL:      o.AnalysisBaseURL,
		Model:        o.AnalysisModel,
		CompareModel: o.AnalysisCompareModel,
		MaxTokens:    o.AnalysisMaxTokens,
	}
}

func (o *Options) encoderConfig() capture.EncoderConfig {
	cfg := capture.DefaultEncoderConfig()
	cfg.FFmpegPath = o.EncoderFFmpegPath
	cfg.ClipFormat = o.EncoderClipFormat
	cfg.ClipFPS = o.EncoderClipFPS
	cfg.MaxSide = o.EncoderMaxSide
	cfg.JPEGQuality = o.EncoderJPEGQuality
	return cfg
}

func (o *Options) settings(logger *slog.Logger) *cmd.Settings {
	mode, err := capture.ParseMode(o.CaptureMode)
	if err != nil {
		logger.Warn("Invalid capture mode, using snapshot", "mode", o.CaptureMode)
		mode = capture.ModeSnapshot
	}
	return &cmd.Settings{
		Analysis:     o.analysisConfig(),
		Encoder:      o.encoderConfig(),
		ProfilesFile: o.ProfilesFile,
		Mode:         mode,
		Prompt:       o.CapturePrompt,
		Window:       parseDuration(logger, "capture.window", o.CaptureWindow, capture.DefaultWindow),
	}
}

func main() {
	var (
		cli      humacli.CLI
		settings *cmd.Settings
	)

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"session":  opts.LoggingSession,
				"analysis": opts.LoggingAnalysis,
				"capture":  opts.LoggingCapture,
				"ffmpeg":   opts.LoggingFFmpeg,
				"ingest":   opts.LoggingIngest,
				"profiles": opts.LoggingProfiles,
				"api":      opts.LoggingAPI,
				"http":     opts.LoggingHTTP,
			},
		})
		logger := logging.GetLogger("main")
		settings = opts.settings(logger)

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(api.LogForwarder(eventBus))

		encoder := capture.NewEncoder(settings.Encoder, logging.GetLogger("capture"))

		var backend analysis.Backend
		openAI, err := analysis.NewOpenAIBackend(settings.Analysis, encoder, logging.GetLogger("analysis"))
		if err != nil {
			logger.Warn("Analysis backend unavailable, every window will record a failure", "error", err)
			backend = unavailableBackend{err: err}
		} else {
			backend = openAI
		}
		timeout := parseDuration(logger, "analysis.timeout", opts.AnalysisTimeout, time.Minute)
		backend = analysis.Instrument(analysis.NewGuard(backend, timeout, opts.AnalysisConcurrency))

		profileStore, err := profiles.NewStore(opts.ProfilesFile, eventBus, logging.GetLogger("profiles"))
		if err != nil {
			logger.Error("Failed to load profiles", "file", opts.ProfilesFile, "error", err)
			os.Exit(1)
		}

		manager := session.NewManager(session.ManagerConfig{
			Backend:  backend,
			Profiles: profileStore,
			Bus:      eventBus,
			Logger:   logging.GetLogger("session"),
			Defaults: session.Defaults{
				Mode:      settings.Mode,
				Prompt:    settings.Prompt,
				Window:    settings.Window,
				Recording: opts.CaptureRecording,
			},
			MaxSessions: opts.MaxSessions,
		})

		var receiver *ingest.Receiver
		if opts.IngestEnabled {
			var decodeOptions []ffmpeg.OptionType
			if names := splitList(opts.IngestDecodeOptions); len(names) > 0 {
				parsed, optErr := ffmpeg.ParseOptions(names)
				if optErr != nil {
					logger.Warn("Ignoring invalid decoder options", "error", optErr)
				} else {
					decodeOptions = parsed
				}
			}
			receiver = ingest.NewReceiver(ingest.Config{
				ICEServers:    splitList(opts.IngestICEServers),
				TURNUsername:  opts.IngestTURNUsername,
				TURNPassword:  opts.IngestTURNPassword,
				FFmpegPath:    opts.EncoderFFmpegPath,
				Width:         opts.IngestWidth,
				Height:        opts.IngestHeight,
				FPS:           opts.IngestFPS,
				DecodeOptions: decodeOptions,
			}, eventBus, logging.GetLogger("ingest"))
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Sessions:          manager,
			Backend:           backend,
			Encoder:           encoder,
			EventBus:          eventBus,
			Model:             opts.AnalysisModel,
			Receiver:          receiver,
			Profiles:          profileStore,
			PollInterval:      parseDuration(logger, "server.poll_interval", opts.PollInterval, api.DefaultPollInterval),
			MaxFramePixels:    opts.MaxFramePixels,
			PrometheusHandler: promhttp.Handler(),
		})

		hooks.OnStart(func() {
			if watchErr := profileStore.Watch(); watchErr != nil {
				logger.Warn("Failed to watch profiles, hot-reload disabled", "error", watchErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "model", opts.AnalysisModel, "clip_format", encoder.ClipFormat())
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop decoders before sessions so no frames arrive mid-shutdown
			if receiver != nil {
				receiver.Stop()
			}
			if stopErr := manager.Shutdown(ctx); stopErr != nil {
				logger.Warn("Sessions did not finish in time", "error", stopErr)
			}
			if stopErr := profileStore.Close(); stopErr != nil {
				logger.Warn("Error stopping profiles watcher", "error", stopErr)
			}
		})
	})

	provider := func() *cmd.Settings { return settings }
	cli.Root().AddCommand(cmd.NewAnalyzeCmd(provider))
	cli.Root().AddCommand(cmd.NewReplayCmd(provider))
	cli.Root().AddCommand(cmd.NewProfilesCmd(provider))

	// Run the CLI
	cli.Run()
}

// unavailableBackend fails every call so sessions still record failure
// markers when no backend could be built.
type unavailableBackend struct{ err error }

func (b unavailableBackend) Describe(context.Context, analysis.Unit, string) fn.Result[string] {
	return fn.Err[string](b.err)
}

func (b unavailableBackend) IsDuplicate(context.Context, string, string) fn.Result[bool] {
	return fn.Err[bool](b.err)
}
