package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	EffectDuration     *prometheus.HistogramVec
	NegativeBalances   *prometheus.CounterVec
	PartialFailures    prometheus.Counter
	Compensations      *prometheus.CounterVec
	LimitRejections    prometheus.Counter
	UsageResets        prometheus.Counter
	ProviderCallTiming *prometheus.HistogramVec
	ProviderCalls      *prometheus.CounterVec
	JobRuns            *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total operations recorded.",
			},
			[]string{"kind", "status"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transitions_total",
				Help: "Total operation status transitions and amendments.",
			},
			[]string{"from", "to", "outcome"},
		),
		EffectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_effect_duration_seconds",
				Help:    "Time to apply one unit of balance effects.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		NegativeBalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_negative_balances_total",
				Help: "Wallet writes that left a balance below zero.",
			},
			[]string{"currency"},
		),
		PartialFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_partial_failures_total",
				Help: "Multi-leg effects that failed after applying at least one leg.",
			},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_compensations_total",
				Help: "Compensating writes attempted after a partial failure.",
			},
			[]string{"outcome"},
		),
		LimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_limit_rejections_total",
				Help: "Requests rejected by the annual limit.",
			},
		),
		UsageResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_usage_resets_total",
				Help: "Annual usage counters reset on year rollover.",
			},
		),
		ProviderCallTiming: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_provider_call_duration_seconds",
				Help:    "Quote provider call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_provider_calls_total",
				Help: "Quote provider calls by outcome.",
			},
			[]string{"op", "outcome"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_job_runs_total",
				Help: "Scheduled job runs by status.",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_job_duration_seconds",
				Help:    "Scheduled job duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.TransitionsTotal,
		m.EffectDuration,
		m.NegativeBalances,
		m.PartialFailures,
		m.Compensations,
		m.LimitRejections,
		m.UsageResets,
		m.ProviderCallTiming,
		m.ProviderCalls,
		m.JobRuns,
		m.JobDuration,
	)
	return m
}

func (m *Metrics) IncOperation(kind, status string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *Metrics) ObserveEffect(method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EffectDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) IncNegativeBalance(currency string) {
	if m == nil {
		return
	}
	m.NegativeBalances.WithLabelValues(currency).Inc()
}

func (m *Metrics) IncPartialFailure() {
	if m == nil {
		return
	}
	m.PartialFailures.Inc()
}

func (m *Metrics) IncCompensation(outcome string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLimitRejection() {
	if m == nil {
		return
	}
	m.LimitRejections.Inc()
}

func (m *Metrics) AddUsageResets(n int) {
	if m == nil {
		return
	}
	m.UsageResets.Add(float64(n))
}

func (m *Metrics) ObserveProviderCall(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, outcome).Inc()
	m.ProviderCallTiming.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) ObserveJob(name, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(name, status).Inc()
	m.JobDuration.WithLabelValues(name).Observe(duration.Seconds())
}
