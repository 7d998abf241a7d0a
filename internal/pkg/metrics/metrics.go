package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysignal_signals_total",
		Help: "Signals emitted per pipeline stage",
	}, []string{"stage"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysignal_governance_decisions_total",
		Help: "Governance decisions by outcome",
	}, []string{"decision"})

	RuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysignal_rule_failures_total",
		Help: "Failed governance rule checks",
	}, []string{"rule"})

	EvaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polysignal_evaluation_latency_seconds",
		Help:    "Governance evaluation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polysignal_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polysignal_kill_switch_active",
		Help: "1 while the governance kill switch is latched",
	})

	BalanceUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polysignal_balance_usd",
		Help: "Current governance engine balance",
	})
)
