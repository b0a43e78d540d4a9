package metrics

import "testing"

func TestCountersAreUsable(t *testing.T) {
	FlowsDispatched.Inc()
	FWMProduceErrors.WithLabelValues("test_fwm").Inc()
	MAVGOverlimitTransitions.WithLabelValues("test_mavg").Inc()
	MAVGUnderlimitTransitions.WithLabelValues("test_mavg").Inc()
	CLSFClassesEmitted.WithLabelValues("test_clsf").Set(3)
	ReloadFailures.Inc()
	BankSwaps.WithLabelValues("fwm").Inc()
}
