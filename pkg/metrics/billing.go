package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billing"

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// CacheMetrics counts plan configuration cache traffic.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
	writes  *prometheus.CounterVec
}

// NewCacheMetrics registers the cache metrics on the provided registerer.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		return &CacheMetrics{}
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_cache_lookups_total",
		Help:      "Plan configuration cache lookups by scope and outcome.",
	}, []string{"scope", "outcome"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_cache_write_failures_total",
		Help:      "Plan configuration cache writes that failed and were skipped.",
	}, []string{"scope"})
	reg.MustRegister(lookups, writes)
	return &CacheMetrics{lookups: lookups, writes: writes}
}

// ObserveLookup records one cache read for scope (org, plan, plans).
func (c *CacheMetrics) ObserveLookup(scope, outcome string) {
	if c == nil || c.lookups == nil {
		return
	}
	c.lookups.WithLabelValues(labelOrUnknown(scope), labelOrUnknown(outcome)).Inc()
}

// IncWriteFailure records a skipped cache write.
func (c *CacheMetrics) IncWriteFailure(scope string) {
	if c == nil || c.writes == nil {
		return
	}
	c.writes.WithLabelValues(labelOrUnknown(scope)).Inc()
}

// LedgerMetrics counts usage and credit ledger activity.
type LedgerMetrics struct {
	usage   *prometheus.CounterVec
	credits *prometheus.CounterVec
	denied  *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	usage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_quantity_total",
		Help:      "Usage quantity recorded by usage type.",
	}, []string{"type"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credit_transactions_total",
		Help:      "Credit ledger transactions by transaction type.",
	}, []string{"type"})
	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limit_denials_total",
		Help:      "Admission checks that would exceed a limit.",
	}, []string{"limit"})
	reg.MustRegister(usage, credits, denied)
	return &LedgerMetrics{usage: usage, credits: credits, denied: denied}
}

// AddUsage records quantity units of usage type.
func (l *LedgerMetrics) AddUsage(usageType string, quantity int64) {
	if l == nil || l.usage == nil || quantity <= 0 {
		return
	}
	l.usage.WithLabelValues(labelOrUnknown(usageType)).Add(float64(quantity))
}

// IncTransaction records one credit transaction of the given type.
func (l *LedgerMetrics) IncTransaction(txType string) {
	if l == nil || l.credits == nil {
		return
	}
	l.credits.WithLabelValues(labelOrUnknown(txType)).Inc()
}

// IncDenied records an admission check that would exceed limit.
func (l *LedgerMetrics) IncDenied(limit string) {
	if l == nil || l.denied == nil {
		return
	}
	l.denied.WithLabelValues(labelOrUnknown(limit)).Inc()
}
