// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package metrics holds the Prometheus instrumentation for backups, uploads,
// restores and the backup log store. Collectors register with the default
// registry; expose them with promhttp.Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Backup Metrics
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_backups_total",
			Help: "Total number of backups by owner, mode and result",
		},
		[]string{"owner", "mode", "result"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagevault_backup_duration_seconds",
			Help:    "Duration of backup capture in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"owner", "mode"},
	)

	BackupPagesCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_backup_pages_captured_total",
			Help: "Total number of pages written into backup archives",
		},
		[]string{"mode"},
	)

	BackupInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagevault_backup_in_progress",
			Help: "Number of storage-level backups currently running",
		},
	)

	BackupNextExecution = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagevault_backup_next_execution_timestamp_seconds",
			Help: "Unix time of the next scheduled backup per owner",
		},
		[]string{"owner"},
	)

	// Upload Metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_uploads_total",
			Help: "Total number of backup uploads by owner and result",
		},
		[]string{"owner", "result"},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagevault_upload_duration_seconds",
			Help:    "Duration of backup uploads in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"owner"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pagevault_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Restore Metrics
	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_restores_total",
			Help: "Total number of restores by owner and result",
		},
		[]string{"owner", "result"},
	)

	// Backup Log Metrics
	BackupLogErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_backuplog_errors_total",
			Help: "Backup log store operations that failed and were skipped",
		},
		[]string{"op"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagevault_api_requests_total",
			Help: "HTTP requests served by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagevault_api_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagevault_api_active_requests",
			Help: "HTTP requests currently being served",
		},
	)
)

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// RecordBackup records the outcome of one backup run.
func RecordBackup(owner, mode string, duration time.Duration, err error) {
	BackupsTotal.WithLabelValues(owner, mode, result(err)).Inc()
	BackupDuration.WithLabelValues(owner, mode).Observe(duration.Seconds())
}

// RecordPagesCaptured adds to the captured page counter.
func RecordPagesCaptured(mode string, pages int) {
	if pages > 0 {
		BackupPagesCaptured.WithLabelValues(mode).Add(float64(pages))
	}
}

// RecordNextExecution publishes the next scheduled backup time.
func RecordNextExecution(owner string, at time.Time) {
	BackupNextExecution.WithLabelValues(owner).Set(float64(at.Unix()))
}

// RecordUpload records the outcome of one upload.
func RecordUpload(owner string, duration time.Duration, err error) {
	UploadsTotal.WithLabelValues(owner, result(err)).Inc()
	UploadDuration.WithLabelValues(owner).Observe(duration.Seconds())
}

// RecordRestore records the outcome of one restore.
func RecordRestore(owner string, err error) {
	RestoresTotal.WithLabelValues(owner, result(err)).Inc()
}

// RecordBackupLogError counts a log store failure that was tolerated.
func RecordBackupLogError(op string) {
	BackupLogErrors.WithLabelValues(op).Inc()
}

// RecordAPIRequest counts one served HTTP request and its latency.
func RecordAPIRequest(route string, code int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// TrackActiveRequest moves the active request gauge up or down.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
