package analysis

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/smazurov/screenscribe/internal/capture"
)

// Failure records why a describe call produced a marker instead of a
// description.
type Failure struct {
	Kind    Kind
	Message string
}

// Result is the outcome of analysing one window. A failed call still has
// Text: the visible marker.
type Result struct {
	Text       string
	ProducedAt time.Time
	Mode       capture.Mode
	Window     uint64
	Failure    fn.Option[Failure]
}

func (r Result) Failed() bool { return r.Failure.IsSome() }

// Resolve turns a describe outcome into a result. Errors become marker text
// and are never returned.
func Resolve(res fn.Result[string], unit Unit, producedAt time.Time) Result {
	out := Result{ProducedAt: producedAt, Mode: unit.Mode, Window: unit.Window, Failure: fn.None[Failure]()}

	text, err := res.Unpack()
	if err != nil {
		classified := Classify(err)
		out.Text = FailureMarker(unit.Mode, classified.Error())
		out.Failure = fn.Some(Failure{Kind: classified.Kind, Message: classified.Error()})
		return out
	}

	out.Text = text
	return out
}

// FailureMarker is the text shown in place of a description when analysis
// fails.
func FailureMarker(mode capture.Mode, msg string) string {
	if mode == capture.ModeClip {
		return "⚠️ Video analysis failed: " + msg
	}
	return "⚠️ Image analysis failed: " + msg
}
