package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"time"

	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/frames"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/process"
)

// Clip formats.
const (
	FormatMP4    = "mp4"
	FormatWebM   = "webm"
	FormatFrames = "frames"
)

// ErrNoFrames is returned when asked to encode nothing.
var ErrNoFrames = errors.New("no frames to encode")

// Media is one encoded attachment for a backend request.
type Media struct {
	MIME string
	Data []byte
}

// EncoderConfig controls how windows are encoded.
type EncoderConfig struct {
	FFmpegPath  string
	ClipFormat  string // mp4, webm or frames
	ClipFPS     int
	ClipCRF     int
	MaxSide     int
	MaxFrames   int // frames format: upper bound on sampled frames
	JPEGQuality int
	Timeout     time.Duration
}

// DefaultEncoderConfig matches the settings the analysis prompts were tuned on.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		FFmpegPath:  "ffmpeg",
		ClipFormat:  FormatMP4,
		ClipFPS:     10,
		MaxSide:     1280,
		MaxFrames:   8,
		JPEGQuality: 85,
		Timeout:     30 * time.Second,
	}
}

// Encoder turns frames into media. Safe for concurrent use.
type Encoder struct {
	cfg    EncoderConfig
	logger logging.Logger
}

func NewEncoder(cfg EncoderConfig, logger logging.Logger) *Encoder {
	def := DefaultEncoderConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.ClipFormat == "" {
		cfg.ClipFormat = def.ClipFormat
	}
	if cfg.ClipFPS <= 0 {
		cfg.ClipFPS = def.ClipFPS
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = def.MaxFrames
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	if cfg.ClipFormat != FormatFrames {
		if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
			logger.Warn("ffmpeg not found, clips will be sent as sampled frames", "path", cfg.FFmpegPath)
			cfg.ClipFormat = FormatFrames
		}
	}

	return &Encoder{cfg: cfg, logger: logger}
}

// ClipFormat reports the effective clip format after ffmpeg detection.
func (e *Encoder) ClipFormat() string { return e.cfg.ClipFormat }

// Encode produces the media for frames already selected for mode.
func (e *Encoder) Encode(ctx context.Context, mode Mode, fs []frames.Frame) ([]Media, error) {
	if len(fs) == 0 {
		return nil, ErrNoFrames
	}
	if mode == ModeSnapshot {
		m, err := e.JPEG(fs[len(fs)-1])
		if err != nil {
			return nil, err
		}
		return []Media{m}, nil
	}
	return e.Clip(ctx, fs)
}

// JPEG encodes a single frame.
func (e *Encoder) JPEG(f frames.Frame) (Media, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return Media{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Media{MIME: "image/jpeg", Data: buf.Bytes()}, nil
}

// Clip encodes frames in order. Frames whose size differs from the first
// are dropped since a video stream has a single geometry.
func (e *Encoder) Clip(ctx context.Context, fs []frames.Frame) ([]Media, error) {
	if len(fs) == 0 {
		return nil, ErrNoFrames
	}
	if e.cfg.ClipFormat == FormatFrames {
		return e.sampledFrames(fs)
	}

	uniform := make([]frames.Frame, 0, len(fs))
	for _, f := range fs {
		if f.SameSize(fs[0]) {
			uniform = append(uniform, f)
		}
	}
	if dropped := len(fs) - len(uniform); dropped > 0 {
		e.logger.Debug("Dropped frames with mismatched size", "dropped", dropped, "width", fs[0].Width, "height", fs[0].Height)
	}

	params := &ffmpeg.ClipParams{
		Binary:    e.cfg.FFmpegPath,
		Input:     ffmpeg.RawVideo{Width: fs[0].Width, Height: fs[0].Height, FPS: e.cfg.ClipFPS},
		CRF:       e.cfg.ClipCRF,
		MaxSide:   e.cfg.MaxSide,
		Container: e.cfg.ClipFormat,
	}

	readers := make([]io.Reader, len(uniform))
	for i, f := range uniform {
		readers[i] = bytes.NewReader(f.Pix)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := process.Output(ctx, "clip-encode", ffmpeg.BuildClipCommand(params), io.MultiReader(readers...), e.logger, ffmpeg.ParseLogLevel)
	if err != nil {
		return nil, fmt.Errorf("encode clip: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("encode clip: ffmpeg produced no output")
	}

	e.logger.Debug("Encoded clip", "frames", len(uniform), "bytes", len(out), "duration", time.Since(start))
	return []Media{{MIME: "video/" + e.cfg.ClipFormat, Data: out}}, nil
}

func (e *Encoder) sampledFrames(fs []frames.Frame) ([]Media, error) {
	idx := SampleIndices(len(fs), e.cfg.MaxFrames)
	out := make([]Media, 0, len(idx))
	for _, i := range idx {
		m, err := e.JPEG(fs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// SampleIndices picks up to limit evenly spaced, strictly increasing indices
// from [0, n). The last index is always included.
func SampleIndices(n, limit int) []int {
	if n <= 0 || limit <= 0 {
		return nil
	}
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if limit == 1 {
		return []int{n - 1}
	}
	out := make([]int, limit)
	for i := range out {
		out[i] = i * (n - 1) / (limit - 1)
	}
	return out
}
