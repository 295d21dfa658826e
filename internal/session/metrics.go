package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "session",
		Name:      "frames_received_total",
		Help:      "Frames received while recording",
	})

	windowsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "session",
		Name:      "windows_flushed_total",
		Help:      "Capture windows handed to analysis by mode",
	}, []string{"mode"})

	windowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "session",
		Name:      "windows_skipped_total",
		Help:      "Capture windows that elapsed with no frames",
	})

	resultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "session",
		Name:      "results_dropped_total",
		Help:      "Analysis results discarded because the session closed first",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenscribe",
		Subsystem: "session",
		Name:      "active",
		Help:      "Open sessions",
	})
)
