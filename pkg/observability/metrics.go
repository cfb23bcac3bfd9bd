package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	agentsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarm_agents",
			Help: "Number of agents per lifecycle status",
		},
		[]string{"status"},
	)

	agentSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_agent_spawns_total",
			Help: "Total number of spawn attempts",
		},
		[]string{"role", "result"},
	)

	// Routing metrics
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_messages_total",
			Help: "Total number of send attempts by outcome",
		},
		[]string{"result"},
	)

	mailboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_mailbox_pending",
			Help: "Messages queued across all mailboxes",
		},
	)

	// Hub metrics
	hubWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_hub_writes_total",
			Help: "Total number of hub store writes",
		},
		[]string{"store", "result"},
	)

	budgetRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_budget_remaining",
			Help: "Units left in the budget guard",
		},
	)

	swarmHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_halted",
			Help: "1 once the kill-switch has fired",
		},
	)

	// Tool surface metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "code"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Persistence metrics
	checkpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_checkpoints_total",
			Help: "Total number of checkpoints written",
		},
		[]string{"backend", "status"},
	)

	checkpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_checkpoint_duration_seconds",
			Help:    "Checkpoint duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	checkpointBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_checkpoint_bytes",
			Help: "Size of the last checkpoint blob",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			agentsByStatus,
			agentSpawnsTotal,
			messagesTotal,
			mailboxDepth,
			hubWritesTotal,
			budgetRemaining,
			swarmHalted,
			toolCallsTotal,
			toolCallDuration,
			checkpointsTotal,
			checkpointDuration,
			checkpointBytes,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordAgentStatusChange moves one agent between status gauges.
// An empty from records a new agent.
func RecordAgentStatusChange(from, to string) {
	if from != "" {
		agentsByStatus.WithLabelValues(from).Dec()
	}
	agentsByStatus.WithLabelValues(to).Inc()
}

// ResetAgentStatuses clears the status gauges, used when state is restored.
func ResetAgentStatuses() {
	agentsByStatus.Reset()
}

// RecordSpawn records a spawn attempt
func RecordSpawn(role, result string) {
	agentSpawnsTotal.WithLabelValues(role, result).Inc()
}

// RecordMessage records a send attempt outcome
func RecordMessage(result string) {
	messagesTotal.WithLabelValues(result).Inc()
}

// AddMailboxPending adjusts the pending message gauge
func AddMailboxPending(delta int) {
	mailboxDepth.Add(float64(delta))
}

// RecordHubWrite records a hub store write
func RecordHubWrite(store, result string) {
	hubWritesTotal.WithLabelValues(store, result).Inc()
}

// SetBudgetRemaining sets the budget gauge
func SetBudgetRemaining(units int64) {
	budgetRemaining.Set(float64(units))
}

// SetHalted sets the kill-switch gauge
func SetHalted(halted bool) {
	if halted {
		swarmHalted.Set(1)
		return
	}
	swarmHalted.Set(0)
}

// RecordToolCall records tool call metrics
func RecordToolCall(tool, code string, duration time.Duration) {
	if code == "" {
		code = "ok"
	}
	toolCallsTotal.WithLabelValues(tool, code).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordCheckpoint records checkpoint metrics
func RecordCheckpoint(backend, status string, size int, duration time.Duration) {
	checkpointsTotal.WithLabelValues(backend, status).Inc()
	checkpointDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if size > 0 {
		checkpointBytes.Set(float64(size))
	}
}
