package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/frames"
	"github.com/smazurov/screenscribe/internal/logging"
	"github.com/smazurov/screenscribe/internal/results"
	"github.com/smazurov/screenscribe/internal/session"
)

type replayOptions struct {
	fps    float64
	window time.Duration
	mode   string
	prompt string
}

// NewReplayCmd creates the replay command.
func NewReplayCmd(settings SettingsFunc) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <dir>",
		Short: "Run a directory of screenshots through the pipeline",
		Long: `Feeds the PNG and JPEG files in a directory, in name order, through a recording session ` +
			`on a simulated clock and prints the raw and processed feeds. Each window is analysed ` +
			`before the next frame is fed, so output is in window order. The trailing partial window ` +
			`is not analysed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReplay(ctx, cmd.OutOrStdout(), settings(), opts, args[0])
		},
	}

	cmd.Flags().Float64Var(&opts.fps, "fps", 1, "Simulated capture rate")
	cmd.Flags().DurationVar(&opts.window, "window", 0, "Window length; the configured default when zero")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Capture mode: snapshot or clip")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Prompt; the mode default when empty")

	return cmd
}

func runReplay(ctx context.Context, out io.Writer, s *Settings, opts replayOptions, dir string) error {
	logger := logging.GetLogger("session")
	if opts.fps <= 0 {
		return fmt.Errorf("fps must be positive, got %v", opts.fps)
	}

	paths, err := listImages(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no PNG or JPEG files in %s", dir)
	}

	mode := s.Mode
	if opts.mode != "" {
		if mode, err = capture.ParseMode(opts.mode); err != nil {
			return err
		}
	}
	if !mode.Valid() {
		mode = capture.ModeSnapshot
	}
	window := opts.window
	if window <= 0 {
		window = s.Window
	}
	if window <= 0 {
		window = capture.DefaultWindow
	}
	prompt := opts.prompt
	if prompt == "" {
		prompt = s.Prompt
	}

	backend, err := s.backend(logging.GetLogger("analysis"))
	if err != nil {
		return err
	}

	start := time.Now()
	var elapsed atomic.Int64
	clock := func() time.Time { return start.Add(time.Duration(elapsed.Load())) }
	step := time.Duration(float64(time.Second) / opts.fps)

	h := session.NewHandler(session.Options{
		ID:        "replay",
		Mode:      mode,
		Prompt:    prompt,
		Window:    window,
		Recording: true,
		Backend:   backend,
		Logger:    logger,
		Clock:     clock,
	})
	defer h.Close()

	logger.Info("Replaying", "dir", dir, "frames", len(paths), "mode", mode, "window", window, "fps", opts.fps)
	for i, path := range paths {
		img, err := loadImage(path)
		if err != nil {
			return err
		}
		before := h.Status().Windows
		h.Receive(frames.FromImage(uint64(i+1), clock(), img))
		if h.Status().Windows != before {
			if err := h.Wait(ctx); err != nil {
				return err
			}
		}
		elapsed.Add(int64(step))
	}
	if err := h.Wait(ctx); err != nil {
		return err
	}

	if n := h.Status().Buffered; n > 0 {
		logger.Info("Trailing window not analysed", "frames", n)
	}
	printFeed(out, h.Context().Raw(), start)
	printFeed(out, h.Context().Processed(), start)
	return nil
}

// listImages returns the image files in dir in name order.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func printFeed(out io.Writer, stream *results.Stream, start time.Time) {
	entries := stream.Snapshot()
	fmt.Fprintf(out, "== %s (%d) ==\n", stream.Name(), len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "[%d] +%s window %d: %s\n", e.Seq, e.ProducedAt.Sub(start).Round(time.Millisecond), e.Window, e.Content)
	}
}
