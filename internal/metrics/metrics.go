// Package metrics exposes xenoflow's Prometheus counters and gauges.
// Grounded on etalazz-vsa's internal/ratelimiter/telemetry/churn package:
// package-level metric vars registered once via prometheus.MustRegister,
// updated from the hot dispatch and background engine paths, served
// through promhttp.Handler() from internal/adminapi.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FlowsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xenoflow_flows_dispatched_total",
		Help: "Total flow records handed to the dispatcher.",
	})
	FWMProduceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xenoflow_fwm_produce_errors_total",
		Help: "Total FWM Process() failures, by window name.",
	}, []string{"fwm"})
	MAVGOverlimitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xenoflow_mavg_overlimit_transitions_total",
		Help: "Total overlimit/back-to-normal transitions fired, by MAVG window name.",
	}, []string{"mavg"})
	MAVGUnderlimitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xenoflow_mavg_underlimit_transitions_total",
		Help: "Total underlimit/back-to-normal transitions fired, by MAVG window name.",
	}, []string{"mavg"})
	CLSFClassesEmitted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xenoflow_clsf_classes_emitted",
		Help: "Number of classes emitted by the last classification dump, by window name.",
	}, []string{"clsf"})
	ReloadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xenoflow_mo_reload_failures_total",
		Help: "Total mo.conf reload attempts that failed and kept the previous limit set.",
	})
	BankSwaps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xenoflow_bank_swaps_total",
		Help: "Total bank selector flips, by engine.",
	}, []string{"engine"})
)

func init() {
	prometheus.MustRegister(
		FlowsDispatched,
		FWMProduceErrors,
		MAVGOverlimitTransitions,
		MAVGUnderlimitTransitions,
		CLSFClassesEmitted,
		ReloadFailures,
		BankSwaps,
	)
}
