package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"strings"
	"time"

	"github.com/smazurov/screenscribe/internal/frames"
)

var (
	errEmptyImage    = errors.New("image is empty")
	errImageTooLarge = errors.New("image exceeds pixel limit")
)

// decodeImage accepts raw base64 or a data URL holding a JPEG or PNG of at
// most maxPixels pixels. The header is checked before the pixels are
// decoded.
func decodeImage(encoded string, maxPixels int) (image.Image, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		_, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		encoded = payload
	}
	if encoded == "" {
		return nil, errEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d is over %d", errImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// frameFromBase64 decodes an uploaded image into a frame stamped at ts.
func (s *Server) frameFromBase64(encoded string, ts time.Time) (frames.Frame, error) {
	img, err := decodeImage(encoded, s.options.MaxFramePixels)
	if err != nil {
		return frames.Frame{}, err
	}
	return frames.FromImage(s.frameSeq.Add(1), ts, img), nil
}
