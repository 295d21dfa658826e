package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/version"
)

// Gemini's OpenAI-compatible endpoint and model.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.0-flash"
)

// ErrNoAPIKey is returned when the backend is built without credentials.
var ErrNoAPIKey = errors.New("analysis API key is not set")

// Config configures an OpenAIBackend.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	CompareModel string // defaults to Model
	MaxTokens    int
	Temperature  float32
	// ImageDetail is passed through as the image_url detail hint.
	ImageDetail string
	HTTPClient  *http.Client
}

// OpenAIBackend talks to any OpenAI-compatible chat completions API that
// accepts data URLs in image_url parts.
type OpenAIBackend struct {
	client  *openai.Client
	cfg     Config
	encoder *capture.Encoder
	logger  logging.Logger
}

// NewOpenAIBackend validates cfg and builds a client.
func NewOpenAIBackend(cfg Config, encoder *capture.Encoder, logger logging.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CompareModel == "" {
		cfg.CompareModel = cfg.Model
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 2 * time.Minute}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   base.Timeout,
		Transport: userAgentTransport{next: transport, agent: version.UserAgent()},
	}

	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		encoder: encoder,
		logger:  logger,
	}, nil
}

// Model returns the describe model name.
func (b *OpenAIBackend) Model() string { return b.cfg.Model }

func (b *OpenAIBackend) Describe(ctx context.Context, unit Unit, prompt string) fn.Result[string] {
	if unit.Empty() {
		return fn.Err[string](capture.ErrNoFrames)
	}
	if prompt == "" {
		prompt = DefaultPrompt(unit.Mode)
	}

	media, err := b.encoder.Encode(ctx, unit.Mode, unit.Frames)
	if err != nil {
		return fn.Err[string](err)
	}

	parts := make([]openai.ChatMessagePart, 0, len(media)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
	for _, m := range media {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    DataURL(m),
				Detail: openai.ImageURLDetail(b.cfg.ImageDetail),
			},
		})
	}

	b.logger.Debug("Describing window", "window", unit.Window, "mode", unit.Mode, "frames", len(unit.Frames), "parts", len(media))

	text, err := b.complete(ctx, b.cfg.Model, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})
	if err != nil {
		return fn.Err[string](err)
	}
	return fn.Ok(text)
}

func (b *OpenAIBackend) IsDuplicate(ctx context.Context, current, previous string) fn.Result[bool] {
	reply, err := b.complete(ctx, b.cfg.CompareModel, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: DuplicatePrompt(current, previous),
	})
	if err != nil {
		return fn.Err[bool](err)
	}
	return fn.Ok(ParseVerdict(reply))
}

func (b *OpenAIBackend) complete(ctx context.Context, model string, msg openai.ChatCompletionMessage) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    []openai.ChatCompletionMessage{msg},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", Classify(ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", Classify(ErrEmptyResponse)
	}
	return text, nil
}

// DataURL inlines media as a base64 data URL.
func DataURL(m capture.Media) string {
	return "data:" + m.MIME + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}
