package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/api/models"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/frames"
)

func (s *Server) registerAnalyzeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "analyze-image",
		Method:      http.MethodPost,
		Path:        "/api/analyze",
		Summary:     "Analyze Image",
		Description: "Describe a single image without opening a session",
		Tags:        []string{"analysis"},
		Errors:      []int{400, 401, 429, 502, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
		img, err := decodeImage(input.Body.Image, s.options.MaxFramePixels)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		prompt := input.Body.Prompt
		if prompt == "" {
			prompt = analysis.DefaultPrompt(capture.ModeSnapshot)
		}
		unit := analysis.Unit{
			Mode:   capture.ModeSnapshot,
			Frames: []frames.Frame{frames.FromImage(s.frameSeq.Add(1), time.Now(), img)},
		}

		text, err := s.backend.Describe(ctx, unit, prompt).Unpack()
		if err != nil {
			return nil, analysisError(err)
		}
		return &models.AnalyzeResponse{
			Body: models.AnalyzeData{Description: text, Model: s.options.Model},
		}, nil
	})
}

// analysisError maps a backend failure to the closest gateway status.
func analysisError(err error) error {
	aerr := analysis.Classify(err)
	switch aerr.Kind {
	case analysis.KindQuota:
		return huma.Error429TooManyRequests(aerr.Error(), err)
	case analysis.KindTimeout:
		return huma.Error504GatewayTimeout(aerr.Error(), err)
	}
	return huma.Error502BadGateway(aerr.Error(), err)
}
