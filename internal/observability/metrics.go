package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"stream_id"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "frames_rejected_total",
		Help:      "Total number of frames rejected by backpressure",
	}, []string{"stream_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"stream_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched to an enrolled identity",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "inference_duration_seconds",
		Help:      "Duration of recognition stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "training_runs_total",
		Help:      "Training runs by outcome (ok, noop, error)",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "audit_write_failures_total",
		Help:      "Audit log writes that failed and were swallowed",
	})
)
