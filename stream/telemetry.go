package stream

import (
	"github.com/hashicorp/go-metrics"
)

const (
	MessageTypeQuote   = MessageType("quote")
	MessageTypeCandle  = MessageType("candle")
	MessageTypeStudy   = MessageType("study")
	MessageTypeControl = MessageType("control")

	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

type (
	MessageType string
)

// String cast stream MessageType to string.
func (mt MessageType) String() string {
	return string(mt)
}

// directionLabel returns a label for the message direction.
func directionLabel(dir string) metrics.Label {
	return metrics.Label{
		Name:  "direction",
		Value: dir,
	}
}

// messageTypeLabel returns a label based on the message type.
func messageTypeLabel(mt MessageType) metrics.Label {
	return metrics.Label{
		Name:  "type",
		Value: mt.String(),
	}
}

// telemetryWebsocketReconnect gives a standard way to add the
// `tvstream_websocket_reconnect` metric.
func telemetryWebsocketReconnect() {
	metrics.IncrCounter(
		[]string{
			"websocket",
			"reconnect",
		},
		1,
	)
}

// telemetryWebsocketMessage gives a standard way to add the
// `tvstream_websocket_message{direction="x", type="x"}` metric.
func telemetryWebsocketMessage(dir string, mt MessageType) {
	metrics.IncrCounterWithLabels(
		[]string{
			"websocket",
			"message",
		},
		1,
		[]metrics.Label{
			directionLabel(dir),
			messageTypeLabel(mt),
		},
	)
}

// telemetryHeartbeat gives a standard way to add the
// `tvstream_websocket_heartbeat` metric.
func telemetryHeartbeat() {
	metrics.IncrCounter(
		[]string{
			"websocket",
			"heartbeat",
		},
		1,
	)
}

// telemetryCallbackPanic gives a standard way to add the
// `tvstream_callback_panic{kind="x"}` metric.
func telemetryCallbackPanic(kind string) {
	metrics.IncrCounterWithLabels(
		[]string{
			"callback",
			"panic",
		},
		1,
		[]metrics.Label{
			{Name: "kind", Value: kind},
		},
	)
}
