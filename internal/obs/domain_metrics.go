package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReconciliationsTotal counts reconciliation results by order kind and status.
	ReconciliationsTotal *prometheus.CounterVec
	// PartialMutationsTotal counts placed-order edits that stopped part way, by last completed phase.
	PartialMutationsTotal *prometheus.CounterVec
	// RemoteCallsTotal counts Shopify Admin API calls by operation and result.
	RemoteCallsTotal *prometheus.CounterVec
	// RemoteCallLatency records Shopify Admin API latency in milliseconds.
	RemoteCallLatency *prometheus.HistogramVec
	// WebhookTotal counts inbound Shopify webhooks by topic and outcome.
	WebhookTotal *prometheus.CounterVec
	// TasksTotal counts queued reconciliation task outcomes.
	TasksTotal *prometheus.CounterVec
	// EventsPublishedTotal counts outcome events handed to the broker.
	EventsPublishedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Count of surcharge reconciliations by order kind and status.",
		}, []string{"kind", "status"})
		PartialMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_mutations_total",
			Help:      "Count of order edits left incomplete, by last completed phase.",
		}, []string{"phase"})
		RemoteCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Count of Shopify Admin API calls by operation and result.",
		}, []string{"operation", "result"})
		RemoteCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_ms",
			Help:      "Latency for Shopify Admin API calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation"})
		WebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_total",
			Help:      "Count of processed Shopify webhooks by outcome.",
		}, []string{"topic", "result"})
		TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Count of queued reconciliation task outcomes.",
		}, []string{"result"})
		EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Count of outcome events published to the broker.",
		}, []string{"topic", "result"})

		reuseCounter := func(target **prometheus.CounterVec) func(prometheus.Collector) {
			return func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			}
		}
		mustRegisterCollector(reg, ReconciliationsTotal, reuseCounter(&ReconciliationsTotal))
		mustRegisterCollector(reg, PartialMutationsTotal, reuseCounter(&PartialMutationsTotal))
		mustRegisterCollector(reg, RemoteCallsTotal, reuseCounter(&RemoteCallsTotal))
		mustRegisterCollector(reg, RemoteCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RemoteCallLatency = v
			}
		})
		mustRegisterCollector(reg, WebhookTotal, reuseCounter(&WebhookTotal))
		mustRegisterCollector(reg, TasksTotal, reuseCounter(&TasksTotal))
		mustRegisterCollector(reg, EventsPublishedTotal, reuseCounter(&EventsPublishedTotal))
	})
}

// ObserveRemoteCall records one Shopify Admin API call. It is a no-op until
// the domain metrics are registered.
func ObserveRemoteCall(operation, result string, elapsed time.Duration) {
	if RemoteCallsTotal != nil {
		RemoteCallsTotal.WithLabelValues(operation, result).Inc()
	}
	if RemoteCallLatency != nil {
		RemoteCallLatency.WithLabelValues(operation).Observe(DurationMillis(elapsed))
	}
}

// IncCounter increments a registered counter vector, ignoring unregistered ones.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
