// Package metrics exposes Prometheus instrumentation for the assistant.
//
// Recording is always non-blocking; callers fire counters from request
// goroutines without coordination. The collector carries its own registry
// so tests can run in parallel without collector name collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "concierge"

// Collector holds the assistant's Prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	conversations *prometheus.CounterVec
	messages      *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	errors        *prometheus.CounterVec
	responseTime  *prometheus.HistogramVec
	activeAgents  prometheus.Gauge
}

// NewCollector registers all instruments on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		conversations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Conversations started, by tenant and application.",
		}, []string{"tenant_id", "application"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages processed, by tenant and execution mode.",
		}, []string{"tenant_id", "mode"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations created, by tenant and priority.",
		}, []string{"tenant_id", "priority"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Tokens consumed by model calls, by tenant.",
		}, []string{"tenant_id"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Internal errors, by component.",
		}, []string{"component"}),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "End to end turn latency, by tenant and execution mode.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tenant_id", "mode"}),
		activeAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "human_agents_busy",
			Help:      "Human agents currently handling at least one escalation.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConversationStarted(tenantID, application string) {
	c.conversations.WithLabelValues(tenantID, application).Inc()
}

func (c *Collector) MessageProcessed(tenantID, mode string) {
	c.messages.WithLabelValues(tenantID, mode).Inc()
}

func (c *Collector) EscalationCreated(tenantID, priority string) {
	c.escalations.WithLabelValues(tenantID, priority).Inc()
}

func (c *Collector) TokensUsed(tenantID string, tokens int) {
	if tokens > 0 {
		c.tokens.WithLabelValues(tenantID).Add(float64(tokens))
	}
}

func (c *Collector) ErrorOccurred(component string) {
	c.errors.WithLabelValues(component).Inc()
}

func (c *Collector) ObserveResponseTime(tenantID, mode string, seconds float64) {
	c.responseTime.WithLabelValues(tenantID, mode).Observe(seconds)
}

func (c *Collector) SetBusyAgents(n int) {
	c.activeAgents.Set(float64(n))
}
