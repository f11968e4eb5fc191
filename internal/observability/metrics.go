package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the Easel server.
//
// Tracked series:
//   - Client message throughput by message kind
//   - Agent turn counts and durations
//   - Stroke batches and interpolated point totals
//   - Tool executions by name and status
//   - Workspace persistence latency
//   - Errors by component and type
//   - Active workspace and connection gauges
type Metrics struct {
	// ClientMessages counts client messages by kind and outcome.
	// Labels: kind, status (ok|invalid|rate_limited|error)
	ClientMessages *prometheus.CounterVec

	// TurnCounter counts agent turns by outcome.
	// Labels: status (completed|aborted|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full agent turn latency in seconds.
	TurnDuration prometheus.Histogram

	// StrokeBatches counts queued stroke batches.
	StrokeBatches prometheus.Counter

	// BatchPoints observes interpolated point counts per batch.
	BatchPoints prometheus.Histogram

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// SaveDuration measures workspace persistence latency in seconds.
	SaveDuration prometheus.Histogram

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (dispatcher|orchestrator|store|server|registry), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveWorkspaces is the number of activated workspaces.
	ActiveWorkspaces prometheus.Gauge

	// OpenConnections is the number of open client sockets.
	OpenConnections prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// startup; metrics are served from the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		ClientMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_client_messages_total",
				Help: "Total client messages by kind and outcome",
			},
			[]string{"kind", "status"},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_agent_turns_total",
				Help: "Total agent turns by outcome",
			},
			[]string{"status"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "easel_agent_turn_duration_seconds",
				Help:    "Duration of agent turns in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		StrokeBatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "easel_stroke_batches_total",
				Help: "Total stroke batches queued for clients",
			},
		),

		BatchPoints: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "easel_batch_points",
				Help:    "Interpolated points per stroke batch",
				Buckets: []float64{50, 200, 500, 1000, 5000, 20000},
			},
		),

		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "easel_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"tool"},
		),

		SaveDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "easel_workspace_save_duration_seconds",
				Help:    "Duration of workspace persistence in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "easel_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveWorkspaces: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "easel_active_workspaces",
				Help: "Current number of activated workspaces",
			},
		),

		OpenConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "easel_open_connections",
				Help: "Current number of open client connections",
			},
		),
	}
}

// RecordClientMessage increments the client message counter.
func (m *Metrics) RecordClientMessage(kind, status string) {
	m.ClientMessages.WithLabelValues(kind, status).Inc()
}

// RecordTurn records an agent turn outcome and duration.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordBatch records a queued stroke batch and its point total.
func (m *Metrics) RecordBatch(points int) {
	m.StrokeBatches.Inc()
	m.BatchPoints.Observe(float64(points))
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordSave records a workspace persistence duration.
func (m *Metrics) RecordSave(durationSeconds float64) {
	m.SaveDuration.Observe(durationSeconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
