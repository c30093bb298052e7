// Package metrics holds the Prometheus collectors for the notification
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptnotify"

type Metrics struct {
	reg *prometheus.Registry

	Dispatches     *prometheus.CounterVec
	MemberTasks    *prometheus.CounterVec
	MemberDuration prometheus.Histogram
	CacheLookups   *prometheus.CounterVec
	TxExhausted    prometheus.Counter
	BatchMembers   *prometheus.CounterVec
	TaskEvents     *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	TokensPruned   prometheus.Counter
	BusDropped     prometheus.GaugeFunc
}

// New builds collectors on a private registry so several instances can
// coexist in one process. dropped may be nil.
func New(dropped func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Channel dispatch outcomes.",
		}, []string{"channel", "outcome"}),
		MemberTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "member",
			Name:      "tasks_total",
			Help:      "Per-member task outcomes.",
		}, []string{"outcome"}),
		MemberDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "member",
			Name:      "task_duration_seconds",
			Help:      "Per-member task duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prompt_cache",
			Name:      "lookups_total",
			Help:      "Prompt content cache lookups.",
		}, []string{"result"}),
		TxExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_exhausted_total",
			Help:      "Ledger transactions that ran out of attempts.",
		}),
		BatchMembers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "members_total",
			Help:      "Members fanned out by bucket batches.",
		}, []string{"status"}),
		TaskEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "task_events_total",
			Help:      "Task engine lifecycle events.",
		}, []string{"event"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "task_duration_seconds",
			Help:      "Task run duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		TokensPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "tokens_pruned_total",
			Help:      "Invalid push tokens removed from members.",
		}),
	}
	if dropped != nil {
		m.BusDropped = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_events",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(dropped()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Dispatch(channel, outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) MemberTask(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.MemberTasks.WithLabelValues(outcome).Inc()
	m.MemberDuration.Observe(took.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerExhausted() {
	if m == nil {
		return
	}
	m.TxExhausted.Inc()
}

func (m *Metrics) BatchMember(status string) {
	if m == nil {
		return
	}
	m.BatchMembers.WithLabelValues(status).Inc()
}

func (m *Metrics) TokensRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPruned.Add(float64(n))
}
