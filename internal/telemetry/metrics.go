/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_api_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermod_api_request_duration_seconds",
		Help:    "HTTP API request duration",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_api_active_connections",
		Help: "Number of HTTP requests currently being served",
	})

	// APIWebSocketConnections gauges open realtime ingest sockets.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_api_websocket_connections",
		Help: "Number of open voice ingest WebSocket connections",
	})

	// BroadcastRequestsTotal counts playback requests by task type and decision.
	BroadcastRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_broadcast_requests_total",
		Help: "Total playback requests by task type and controller decision",
	}, []string{"type", "decision"})

	// PreemptionsTotal counts tasks displaced by higher priority work.
	PreemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_preemptions_total",
		Help: "Total preemptions by the type of the displaced task",
	}, []string{"preempted_type"})

	// ControllerPriority gauges the priority of the active task (0 when idle).
	ControllerPriority = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_controller_priority",
		Help: "Priority level of the currently active broadcast",
	})

	// ScheduleQueueDepth gauges interrupted schedules waiting to resume.
	ScheduleQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_schedule_queue_depth",
		Help: "Number of schedule tasks parked in the resume queue",
	})

	// SchedulerTicksTotal counts scheduler loop iterations.
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermod_scheduler_ticks_total",
		Help: "Total scheduler tick iterations",
	})

	// SchedulerErrorsTotal counts scheduler tick failures.
	SchedulerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermod_scheduler_errors_total",
		Help: "Total scheduler tick errors",
	})

	// SchedulesFiredTotal counts schedules promoted to playback.
	SchedulesFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_schedules_fired_total",
		Help: "Total schedules promoted to playback by repeat mode",
	}, []string{"repeat"})

	// TTSSynthesisDuration tracks speech synthesis latency per engine.
	TTSSynthesisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermod_tts_synthesis_duration_seconds",
		Help:    "Text to speech synthesis duration",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
	}, []string{"engine"})

	// TTSSynthesisErrorsTotal counts failed synthesis attempts per engine.
	TTSSynthesisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_tts_synthesis_errors_total",
		Help: "Total text to speech synthesis failures",
	}, []string{"engine"})

	// PlaybackProcessesActive gauges running audio player processes.
	PlaybackProcessesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_playback_processes_active",
		Help: "Number of running audio player processes",
	})

	// PlaybackFailuresTotal counts playback process failures by kind.
	PlaybackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_playback_failures_total",
		Help: "Total playback process failures",
	}, []string{"kind"})

	// StreamPipesActive gauges attached raw PCM stream pipes.
	StreamPipesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_stream_pipes_active",
		Help: "Number of attached realtime PCM pipes",
	})

	// HeartbeatKillsTotal counts watchdog terminations by reason.
	HeartbeatKillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_heartbeat_kills_total",
		Help: "Total tasks stopped by the liveness watchdog",
	}, []string{"reason"})

	// EmergencyActivationsTotal counts emergency alarm activations.
	EmergencyActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermod_emergency_activations_total",
		Help: "Total emergency alarm activations",
	})

	// NotificationsSentTotal counts stored notifications by type.
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_notifications_sent_total",
		Help: "Total notifications recorded",
	}, []string{"type"})

	// AudioAssetsStoredTotal counts uploaded audio assets by storage backend.
	AudioAssetsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_audio_assets_stored_total",
		Help: "Total audio assets written to object storage",
	}, []string{"backend"})

	// LogsPurgedTotal counts broadcast log rows removed by retention cleanup.
	LogsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermod_logs_purged_total",
		Help: "Total broadcast log rows purged by retention cleanup",
	})

	// DatabaseQueryDuration tracks GORM operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermod_database_query_duration_seconds",
		Help:    "Database operation duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts database operation errors.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermod_database_errors_total",
		Help: "Total database operation errors",
	}, []string{"operation", "type"})

	// DatabaseConnectionsActive gauges open SQL connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermod_database_connections_active",
		Help: "Number of open database connections",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBroadcastDecision counts a controller decision for a request.
func RecordBroadcastDecision(taskType, decision string) {
	BroadcastRequestsTotal.WithLabelValues(taskType, decision).Inc()
}

// RecordPreemption counts a displaced task.
func RecordPreemption(preemptedType string) {
	PreemptionsTotal.WithLabelValues(preemptedType).Inc()
}

// RecordHeartbeatKill counts a watchdog termination.
func RecordHeartbeatKill(reason string) {
	HeartbeatKillsTotal.WithLabelValues(reason).Inc()
}
