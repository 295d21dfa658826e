package analysis

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "analysis",
		Name:      "calls_total",
		Help:      "Backend calls by operation, capture mode and outcome",
	}, []string{"op", "mode", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "screenscribe",
		Subsystem: "analysis",
		Name:      "call_duration_seconds",
		Help:      "Backend call latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"op"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenscribe",
		Subsystem: "analysis",
		Name:      "in_flight",
		Help:      "Backend calls currently in progress",
	})
)

// Instrument records call counts and latency for next.
func Instrument(next Backend) Backend {
	return instrumented{next: next}
}

type instrumented struct {
	next Backend
}

func (i instrumented) Describe(ctx context.Context, unit Unit, prompt string) fn.Result[string] {
	done := track("describe")
	res := i.next.Describe(ctx, unit, prompt)
	done(string(unit.Mode), res.Err())
	return res
}

func (i instrumented) IsDuplicate(ctx context.Context, current, previous string) fn.Result[bool] {
	done := track("compare")
	res := i.next.IsDuplicate(ctx, current, previous)
	done("", res.Err())
	return res
}

func track(op string) func(mode string, err error) {
	start := time.Now()
	inFlight.Inc()
	return func(mode string, err error) {
		inFlight.Dec()
		callDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = string(Classify(err).Kind)
		}
		callsTotal.WithLabelValues(op, mode, outcome).Inc()
	}
}
