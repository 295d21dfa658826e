// Package dedup suppresses descriptions that repeat the previously accepted
// one.
package dedup

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/screenscribe/internal/logging"
)

var (
	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "dedup",
		Name:      "suppressed_total",
		Help:      "Results rejected as duplicates of the previous accepted result",
	})

	compareFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "dedup",
		Name:      "compare_failures_total",
		Help:      "Comparisons that failed and were treated as not duplicate",
	})
)

// Comparer is the part of the analysis backend dedup needs.
type Comparer interface {
	IsDuplicate(ctx context.Context, current, previous string) fn.Result[bool]
}

// State holds the most recently accepted text. The zero value has none.
type State struct {
	previous fn.Option[string]
}

// Previous returns the last accepted text, if any.
func (s *State) Previous() fn.Option[string] { return s.previous }

// Reset forgets the last accepted text.
func (s *State) Reset() { s.previous = fn.None[string]() }

// Deduplicator decides whether a new result is worth showing.
type Deduplicator struct {
	cmp    Comparer
	logger logging.Logger
}

func New(cmp Comparer, logger logging.Logger) *Deduplicator {
	return &Deduplicator{cmp: cmp, logger: logger}
}

// Accept reports whether current should be appended to the processed
// stream and, if so, records it in state. With no previous result, or an
// empty one, current is accepted without a comparison. A failed comparison
// accepts.
func (d *Deduplicator) Accept(ctx context.Context, current string, state *State) bool {
	previous := state.previous.UnwrapOr("")
	if previous == "" {
		state.previous = fn.Some(current)
		return true
	}

	dup, err := d.cmp.IsDuplicate(ctx, current, previous).Unpack()
	if err != nil {
		compareFailuresTotal.Inc()
		d.logger.Warn("Duplicate check failed, keeping result", "error", err)
		dup = false
	}
	if dup {
		suppressedTotal.Inc()
		return false
	}

	state.previous = fn.Some(current)
	return true
}
