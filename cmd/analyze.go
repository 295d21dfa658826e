package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenscribe/internal/analysis"
	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/frames"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/process"
)

// Video files are sampled into frames of this size before encoding.
const (
	sampleWidth  = 960
	sampleHeight = 540
)

type analyzeOptions struct {
	prompt  string
	model   string
	fps     int
	timeout time.Duration
}

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd(settings SettingsFunc) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Describe a single image or video file",
		Long: `Sends one image (PNG or JPEG) as a snapshot, or any video ffmpeg can read as a clip, ` +
			`to the configured vision model and prints the description.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings()
			if opts.model != "" {
				s.Analysis.Model = opts.model
			}
			ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
			defer cancel()
			return runAnalyze(ctx, cmd.OutOrStdout(), &s, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Prompt; the mode default when empty")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override")
	cmd.Flags().IntVar(&opts.fps, "fps", 2, "Sampling rate for video files")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall timeout")

	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, s *Settings, opts analyzeOptions, path string) error {
	logger := logging.GetLogger("analysis")
	backend, err := s.backend(logger)
	if err != nil {
		return err
	}

	unit, err := loadUnit(ctx, s, opts.fps, path)
	if err != nil {
		return err
	}
	prompt := opts.prompt
	if prompt == "" {
		prompt = analysis.DefaultPrompt(unit.Mode)
	}

	logger.Info("Analyzing file", "path", path, "mode", unit.Mode, "frames", len(unit.Frames))
	text, err := backend.Describe(ctx, unit, prompt).Unpack()
	if err != nil {
		return fmt.Errorf("analyze %s: %w", path, err)
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

// loadUnit reads an image as a snapshot or samples a video into a clip.
func loadUnit(ctx context.Context, s *Settings, fps int, path string) (analysis.Unit, error) {
	if isImage(path) {
		img, err := loadImage(path)
		if err != nil {
			return analysis.Unit{}, err
		}
		return analysis.Unit{
			Mode:   capture.ModeSnapshot,
			Frames: []frames.Frame{frames.FromImage(1, time.Now(), img)},
		}, nil
	}

	fs, err := sampleVideo(ctx, s.Encoder.FFmpegPath, path, fps)
	if err != nil {
		return analysis.Unit{}, err
	}
	return analysis.Unit{Mode: capture.ModeClip, Frames: fs}, nil
}

func sampleVideo(ctx context.Context, binary, path string, fps int) ([]frames.Frame, error) {
	command := ffmpeg.BuildDecodeCommand(&ffmpeg.DecodeParams{
		Binary: binary,
		Input:  path,
		Output: ffmpeg.RawVideo{Width: sampleWidth, Height: sampleHeight, FPS: fps},
	})
	logger := logging.GetLogger("ffmpeg")
	raw, err := process.Output(ctx, "sample", command, nil, logger, ffmpeg.ParseLogLevel)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return splitFrames(raw, sampleWidth, sampleHeight, fps, time.Now())
}

// splitFrames cuts packed rgb24 output into frames spaced 1/fps apart.
// A trailing partial frame is dropped.
func splitFrames(raw []byte, width, height, fps int, start time.Time) ([]frames.Frame, error) {
	size := width * height * 3
	step := time.Second / time.Duration(max(fps, 1))

	var out []frames.Frame
	for off := 0; off+size <= len(raw); off += size {
		seq := uint64(len(out) + 1)
		f, err := frames.New(seq, start.Add(time.Duration(seq-1)*step), width, height, raw[off:off+size])
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, capture.ErrNoFrames
	}
	return out, nil
}
