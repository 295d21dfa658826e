// Package analysis defines the vision backend the pipeline depends on, the
// OpenAI-compatible implementation of it, and the wrappers that bound and
// measure calls.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/capture"
	"github.com/smazurov/screenscribe/internal/frames"
)

// Backend describes captured frames and compares descriptions.
type Backend interface {
	// Describe returns a natural-language description of unit.
	Describe(ctx context.Context, unit Unit, prompt string) fn.Result[string]

	// IsDuplicate reports whether current says substantially the same
	// thing as previous.
	IsDuplicate(ctx context.Context, current, previous string) fn.Result[bool]
}

// Unit is what gets analysed for one window.
type Unit struct {
	Mode   capture.Mode
	Window uint64
	Frames []frames.Frame
}

// NewUnit selects the frames of w that mode analyses. The unit is empty
// when the window is.
func NewUnit(mode capture.Mode, w capture.Window) Unit {
	return Unit{Mode: mode, Window: w.Seq, Frames: w.Select(mode)}
}

// Empty reports whether there is nothing to analyse.
func (u Unit) Empty() bool { return len(u.Frames) == 0 }

// Default prompts per mode.
const (
	DefaultSnapshotPrompt = "Describe what's visible on this screen"
	DefaultClipPrompt     = "Describe what's happening on this screen"
)

// DefaultPrompt returns the prompt used when a session sets none.
func DefaultPrompt(mode capture.Mode) string {
	if mode == capture.ModeClip {
		return DefaultClipPrompt
	}
	return DefaultSnapshotPrompt
}

// DuplicatePrompt asks the model whether two descriptions match.
func DuplicatePrompt(current, previous string) string {
	return fmt.Sprintf("Compare these two responses:\nCurrent: %s\nPrevious: %s\n\n"+
		"Are they substantially the same? Respond with only 'true' or 'false'.", current, previous)
}

// ParseVerdict interprets a reply to DuplicatePrompt. Anything mentioning
// "true" counts as a duplicate.
func ParseVerdict(reply string) bool {
	return strings.Contains(strings.ToLower(reply), "true")
}
