// Package observability exposes the Prometheus metrics surfaced by every
// component of the coordinator, grounded directly on
// control_plane/observability/metrics.go's promauto-vars pattern —
// package-level collectors, one GaugeVec/CounterVec/Histogram per signal,
// registered automatically on import.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GraphReadyTasks tracks the number of tasks currently ready to dispatch.
	GraphReadyTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentcore_graph_ready_tasks",
		Help: "Number of tasks in a run's graph currently ready to dispatch",
	}, []string{"run_id"})

	// GraphCompletedTasks tracks cumulative completed tasks per run.
	GraphCompletedTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_graph_completed_tasks_total",
		Help: "Total tasks marked completed, by run",
	}, []string{"run_id"})

	// SchedulerLoopDuration tracks one iteration of the scheduler's main loop.
	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentcore_scheduler_loop_duration_seconds",
		Help:    "Duration of one scheduler main-loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// SchedulerEvents tracks scheduler lifecycle event emission by kind.
	SchedulerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_scheduler_events_total",
		Help: "Scheduler lifecycle events emitted, by kind",
	}, []string{"kind"})

	// SchedulerCurrentRPM tracks the scheduler's internal RPM estimate.
	SchedulerCurrentRPM = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentcore_scheduler_current_rpm",
		Help: "Scheduler's current estimated requests-per-minute across in-flight tasks",
	})

	// WorkerPoolSize tracks live workers by status.
	WorkerPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentcore_workerpool_size",
		Help: "Number of tracked workers, by status",
	}, []string{"status"})

	// WorkerSpawnFailures tracks spawn failures by kind.
	WorkerSpawnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_workerpool_spawn_failures_total",
		Help: "Worker spawn failures, by error kind",
	}, []string{"kind"})

	// ChannelMessagesTotal tracks messages handled by the channel, by type and direction.
	ChannelMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_channel_messages_total",
		Help: "Messages processed by the message channel",
	}, []string{"type", "direction"})

	// ChannelQueueDrops tracks bounded-queue overflow drops.
	ChannelQueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_channel_queue_drops_total",
		Help: "Messages dropped from a bounded per-destination queue due to overflow",
	}, []string{"destination"})

	// ChannelRemoteFallbacks tracks messages handed to the remote sink.
	ChannelRemoteFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_channel_remote_fallbacks_total",
		Help: "Messages routed to the remote sink fallback",
	}, []string{"destination"})

	// RateLimiterCurrentRPM tracks per-provider current RPM.
	RateLimiterCurrentRPM = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentcore_ratelimiter_current_rpm",
		Help: "Current rolling-window requests-per-minute, per provider",
	}, []string{"provider"})

	// RateLimiterEvents tracks warning/exceeded events, per provider.
	RateLimiterEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_ratelimiter_events_total",
		Help: "Rate-limit warning/exceeded events emitted, per provider",
	}, []string{"provider", "kind"})

	// WorkspaceConflicts tracks validation conflicts by kind.
	WorkspaceConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_workspace_conflicts_total",
		Help: "Workspace conflicts detected during validation, by kind",
	}, []string{"kind"})

	// ReviewRoundTripSeconds tracks the time from requestReview to resolution.
	ReviewRoundTripSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentcore_review_roundtrip_seconds",
		Help:    "Time from requestReview to approval/rejection/timeout",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ReviewOutcomes tracks approvals, rejections, and timeouts by specialization.
	ReviewOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_review_outcomes_total",
		Help: "Review outcomes, by specialization and outcome",
	}, []string{"specialization", "outcome"})
)
