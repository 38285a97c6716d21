package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request intake metrics
	RequestsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamfbridge_requests_received_total",
			Help: "Total number of change requests accepted",
		},
		[]string{"request_type"},
	)

	RequestsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamfbridge_requests_rejected_total",
			Help: "Total number of change requests rejected at validation",
		},
	)

	// Processing metrics
	RequestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamfbridge_requests_processed_total",
			Help: "Total number of requests dispatched, by outcome",
		},
		[]string{"result"},
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jamfbridge_process_duration_seconds",
			Help:    "Duration of a single request dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamfbridge_decrypt_failures_total",
			Help: "Total number of payload decryption or integrity failures",
		},
	)

	RemoteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamfbridge_remote_errors_total",
			Help: "Total number of Jamf Pro API errors",
		},
		[]string{"operation"},
	)

	// Queue metrics
	PendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jamfbridge_pending_queue_depth",
			Help: "Number of requests awaiting dispatch at last drain",
		},
	)

	StaleReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamfbridge_stale_reclaimed_total",
			Help: "Total number of stuck processing requests reclaimed",
		},
	)
)
