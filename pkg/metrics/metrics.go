package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "costgate"

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	cacheWrites    prometheus.Counter
	cacheEvictions *prometheus.CounterVec

	budgetDecisions *prometheus.CounterVec
	spendTotal      *prometheus.CounterVec
	budgetUsage     *prometheus.GaugeVec
}

// New creates collectors and registers them with registry.
// A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total cache lookups by result",
			},
			[]string{"result"},
		),
		cacheWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_writes_total",
				Help:      "Total cache entries written",
			},
		),
		cacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total cache entries removed by reason",
			},
			[]string{"reason"},
		),
		budgetDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_decisions_total",
				Help:      "Total pre-call budget decisions by reason",
			},
			[]string{"reason"},
		),
		spendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spend_usd_total",
				Help:      "Total recorded spend in USD by provider and model",
			},
			[]string{"provider", "model"},
		),
		budgetUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "budget_usage_ratio",
				Help:      "Monthly spend divided by the monthly limit",
			},
			[]string{"org", "project"},
		),
	}

	registry.MustRegister(
		m.cacheLookups,
		m.cacheWrites,
		m.cacheEvictions,
		m.budgetDecisions,
		m.spendTotal,
		m.budgetUsage,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// CacheLookup records a lookup result: "hit", "miss" or "corrupt".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CacheWrite records a put.
func (m *Metrics) CacheWrite() {
	if m == nil {
		return
	}
	m.cacheWrites.Inc()
}

// CacheEvicted records n entries removed for reason
// ("expired", "size", "invalidated", "provider", "all").
func (m *Metrics) CacheEvicted(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// BudgetDecision records a pre-call decision.
func (m *Metrics) BudgetDecision(reason string) {
	if m == nil {
		return
	}
	m.budgetDecisions.WithLabelValues(reason).Inc()
}

// Spend records a priced call.
func (m *Metrics) Spend(provider, model string, costUSD float64) {
	if m == nil || costUSD <= 0 {
		return
	}
	m.spendTotal.WithLabelValues(provider, model).Add(costUSD)
}

// BudgetUsage sets the spend/limit ratio for org and project.
func (m *Metrics) BudgetUsage(org, project string, ratio float64) {
	if m == nil {
		return
	}
	m.budgetUsage.WithLabelValues(org, project).Set(ratio)
}
