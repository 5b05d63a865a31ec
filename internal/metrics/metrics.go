// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/rttprobe/internal/log"
)

const namespace = "rttprobe"

var (
	// PublishBatchSize tracks the number of records per published batch
	PublishBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_batch_size",
			Help:      "Number of probe records per published batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"core"},
	)

	// PublishErrorsTotal counts lost batches by reason
	PublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of batches lost before reaching the transport",
		},
		[]string{"core", "reason"},
	)

	// PublishLatencySeconds measures transport send latency
	PublishLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Latency of transport sends in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~0.3s
		},
		[]string{"core", "transport"},
	)

	// IngestFramesTotal counts frames copied into the ring by feeders
	IngestFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_frames_total",
			Help:      "Total number of frames enqueued by ingest feeders",
		},
		[]string{"source"},
	)

	// IngestDropsTotal counts frames dropped by feeders
	IngestDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_drops_total",
			Help:      "Total number of frames dropped by ingest feeders",
		},
		[]string{"source", "reason"},
	)

	// LogDroppedTotal exposes log lines lost in async log buffers
	LogDroppedTotal = promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_dropped_total",
			Help:      "Total number of log lines dropped by async log buffers",
		},
		func() float64 { return float64(log.Dropped()) },
	)
)

// Publish error reasons
const (
	ReasonBackpressure = "backpressure"
	ReasonSend         = "send"
	ReasonClosed       = "closed"
	ReasonEncode       = "encode"
)
