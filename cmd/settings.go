// Package cmd holds the screenscribe subcommands.
package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/logging"
)

// Settings is the slice of server configuration the subcommands need.
type Settings struct {
	Analysis     analysis.Config
	Encoder      capture.EncoderConfig
	ProfilesFile string

	Mode   capture.Mode
	Prompt string
	Window time.Duration

	// Backend replaces the OpenAI-compatible backend when set.
	Backend analysis.Backend
}

// SettingsFunc returns the parsed settings. It is called when a command
// runs, after flags and the config file have been applied.
type SettingsFunc func() *Settings

// backend builds the analysis backend and the encoder it uses.
func (s *Settings) backend(logger logging.Logger) (analysis.Backend, error) {
	if s.Backend != nil {
		return s.Backend, nil
	}
	encoder := capture.NewEncoder(s.Encoder, logging.GetLogger("capture"))
	return analysis.NewOpenAIBackend(s.Analysis, encoder, logger)
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

func isImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
