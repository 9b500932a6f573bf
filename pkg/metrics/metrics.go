package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|unverified|locked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macroscope_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "macroscope_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "macroscope_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// FileTransfers counts storage operations by scope (profile|project), operation and result.
	FileTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macroscope_file_transfers_total",
			Help: "Total number of file transfer operations",
		},
		[]string{"scope", "operation", "result"},
	)

	// FileTransferBytes accumulates uploaded bytes per scope.
	FileTransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macroscope_file_transfer_bytes_total",
			Help: "Total number of bytes uploaded",
		},
		[]string{"scope"},
	)

	// AccountDeletions counts account deletion runs by result (success|partial|rejected).
	AccountDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macroscope_account_deletions_total",
			Help: "Total number of account deletion attempts",
		},
		[]string{"result"},
	)
)

// RealtimeConnections tracks open websocket connections.
var RealtimeConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "macroscope_realtime_connections",
		Help: "Number of open realtime connections",
	},
)

var (
	// MaintenanceRuns counts background cleanup runs by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "macroscope_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// MaintenanceLastSuccess records the unix time of the last successful run per job.
	MaintenanceLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "macroscope_maintenance_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful maintenance run",
		},
		[]string{"job"},
	)
)
