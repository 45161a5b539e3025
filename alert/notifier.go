package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/marketflow/tvstream/types"
)

type (
	// Event describes one fired alert.
	Event struct {
		Rule      string
		Symbol    string
		Interval  types.Interval
		Condition string
		Values    map[string]float64
		At        time.Time
	}

	// Notifier delivers fired alerts. Calls arrive from a single worker
	// goroutine; a failed delivery is logged and the event is not retried.
	Notifier interface {
		Notify(ctx context.Context, event Event) error
	}

	// LogNotifier writes fired alerts to the log.
	LogNotifier struct {
		logger zerolog.Logger
	}

	// SlackNotifier posts fired alerts to a Slack channel.
	SlackNotifier struct {
		client  *slack.Client
		channel string
	}
)

// Message renders the one-line notification text.
func (e Event) Message() string {
	msg := fmt.Sprintf("[%s] %s %s: %s", e.Rule, e.Symbol, e.Interval, e.Condition)
	if last, ok := e.Values["last"]; ok {
		msg = fmt.Sprintf("%s (last: %g)", msg, last)
	}
	return msg
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("module", "alert").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	evt := n.logger.Info().
		Str("rule", event.Rule).
		Str("symbol", event.Symbol).
		Str("interval", string(event.Interval)).
		Str("condition", event.Condition).
		Time("at", event.At)
	if last, ok := event.Values["last"]; ok {
		evt = evt.Float64("last", last)
	}
	evt.Msg("alert fired")
	return nil
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	_, _, err := n.client.PostMessageContext(
		ctx,
		n.channel,
		slack.MsgOptionText(event.Message(), false),
	)
	return err
}
