package alert

import (
	"github.com/hashicorp/go-metrics"
)

// telemetryAlertFired gives a standard way to add the
// `tvstream_alert_fired{rule="x"}` metric.
func telemetryAlertFired(rule string) {
	metrics.IncrCounterWithLabels(
		[]string{
			"alert",
			"fired",
		},
		1,
		[]metrics.Label{
			{Name: "rule", Value: rule},
		},
	)
}

// telemetryStreamDeviation gives a standard way to add the
// `tvstream_verify_deviation{symbol="x"}` metric.
func telemetryStreamDeviation(symbol string) {
	metrics.IncrCounterWithLabels(
		[]string{
			"verify",
			"deviation",
		},
		1,
		[]metrics.Label{
			{Name: "symbol", Value: symbol},
		},
	)
}
