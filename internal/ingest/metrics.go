package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "rtp_packets_total",
		Help:      "RTP packets received by codec",
	}, []string{"codec"})

	bytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "rtp_bytes_total",
		Help:      "RTP payload bytes received by codec",
	}, []string{"codec"})

	rtcpReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "rtcp_packets_total",
		Help:      "RTCP packets received from browsers by type",
	}, []string{"type"})

	plisSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "plis_sent_total",
		Help:      "Keyframe requests sent to browsers",
	})

	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "frames_decoded_total",
		Help:      "Raw frames produced by decoders",
	})

	activePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenscribe",
		Subsystem: "ingest",
		Name:      "active_peers",
		Help:      "Connected WebRTC publishers",
	})
)
