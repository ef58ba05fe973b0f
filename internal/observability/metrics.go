package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every Prometheus collector vaultweaver exposes. One
// instance is created per process and wired into the components that
// produce each measurement.
type Metrics struct {
	RuleExecutionsTotal   *prometheus.CounterVec
	RuleLatency           *prometheus.HistogramVec
	LLMCallsTotal         *prometheus.CounterVec
	LLMLatency            prometheus.Histogram
	LLMTokensTotal        prometheus.Counter
	CacheOpLatency        *prometheus.HistogramVec
	WorkflowRunsActive    prometheus.Gauge
	WorkflowRunsTotal     *prometheus.CounterVec
	WorkflowDuration      prometheus.Histogram
	MemoryStoreSize       prometheus.Gauge
}

// NewMetrics constructs and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RuleExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultweaver", Subsystem: "rules", Name: "executions_total",
			Help: "Rule executions by rule ID and outcome.",
		}, []string{"rule_id", "outcome"}),
		RuleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vaultweaver", Subsystem: "rules", Name: "latency_seconds",
			Help: "Rule execution latency.", Buckets: prometheus.DefBuckets,
		}, []string{"rule_id"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultweaver", Subsystem: "llm", Name: "calls_total",
			Help: "LLM calls by outcome.",
		}, []string{"outcome"}),
		LLMLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vaultweaver", Subsystem: "llm", Name: "latency_seconds",
			Help: "LLM call latency.", Buckets: prometheus.DefBuckets,
		}),
		LLMTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultweaver", Subsystem: "llm", Name: "tokens_total",
			Help: "Estimated tokens consumed across LLM calls.",
		}),
		CacheOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vaultweaver", Subsystem: "cache", Name: "op_latency_seconds",
			Help: "Shadow cache operation latency.", Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		WorkflowRunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vaultweaver", Subsystem: "workflows", Name: "runs_active",
			Help: "Currently running workflow runs.",
		}),
		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultweaver", Subsystem: "workflows", Name: "runs_total",
			Help: "Completed workflow runs by terminal status.",
		}, []string{"status"}),
		WorkflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vaultweaver", Subsystem: "workflows", Name: "duration_seconds",
			Help: "Workflow run duration.", Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		MemoryStoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vaultweaver", Subsystem: "memory", Name: "entries",
			Help: "Non-expired entries currently held in the memory store.",
		}),
	}

	reg.MustRegister(
		m.RuleExecutionsTotal, m.RuleLatency,
		m.LLMCallsTotal, m.LLMLatency, m.LLMTokensTotal,
		m.CacheOpLatency,
		m.WorkflowRunsActive, m.WorkflowRunsTotal, m.WorkflowDuration,
		m.MemoryStoreSize,
	)
	return m
}
