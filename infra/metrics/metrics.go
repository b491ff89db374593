package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Metrics struct {
	Connections  prometheus.Gauge
	Tick         prometheus.Gauge
	PassDuration prometheus.Histogram
	DueAccounts  prometheus.Counter

	MessagesTotal         *prometheus.CounterVec // path=batch|event, result=sent|dropped
	ContextUpdatesDropped prometheus.Counter

	ActivityTotal  *prometheus.CounterVec // kind, result=accepted|rejected|failed
	ReconcileTotal *prometheus.CounterVec // stage=recompute|addition|removal, result
	CacheTotal     *prometheus.CounterVec // tier=local|remote, result=hit|miss|error
	EnqueueTotal   *prometheus.CounterVec // topic, result=ok|failed
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "friend_monitor_connections",
			Help: "Live client connections",
		}),
		Tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "friend_monitor_tick",
			Help: "Current global tick",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "friend_monitor_broadcast_pass_ms",
			Help:    "Duration of a broadcast pass (ms)",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		DueAccounts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friend_monitor_due_accounts_total",
			Help: "Accounts selected as due across all passes",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friend_monitor_messages_total",
			Help: "Server messages handed to connections by result",
		}, []string{"path", "result"}),
		ContextUpdatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friend_monitor_context_updates_dropped_total",
			Help: "Context updates abandoned after exhausting compare-and-swap attempts",
		}),
		ActivityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friend_monitor_activity_total",
			Help: "Ingested activity updates by kind and result",
		}, []string{"kind", "result"}),
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friend_monitor_reconcile_total",
			Help: "Reconciliation runs by stage and result",
		}, []string{"stage", "result"}),
		CacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friend_monitor_cache_total",
			Help: "Cache lookups by tier and result",
		}, []string{"tier", "result"}),
		EnqueueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friend_monitor_enqueue_total",
			Help: "Queue publishes by topic and result",
		}, []string{"topic", "result"}),
	}

	reg.MustRegister(
		m.Connections,
		m.Tick,
		m.PassDuration,
		m.DueAccounts,
		m.MessagesTotal,
		m.ContextUpdatesDropped,
		m.ActivityTotal,
		m.ReconcileTotal,
		m.CacheTotal,
		m.EnqueueTotal,
	)
	return m
}

// NewNop returns metrics registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var Module = fx.Module("metrics",
	fx.Provide(
		func() *prometheus.Registry {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			return reg
		},
		func(reg *prometheus.Registry) *Metrics { return New(reg) },
	),
)
