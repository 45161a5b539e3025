package stream

import (
	"encoding/json"

	"github.com/marketflow/tvstream/types"
)

// handlePayload routes one decoded data payload by its method tag. It runs
// on the transport read loop; store mutations commit before callbacks fire.
func (c *Client) handlePayload(payload []byte) {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug().
			Err(err).
			Str("payload", truncateForLog(payload)).
			Msg("discarding malformed payload")
		return
	}
	if msg.Method == "" {
		// Session greetings and protocol acks arrive without a method tag.
		return
	}

	switch msg.Method {
	case methodQuoteData:
		c.handleQuoteData(msg)

	case methodQuoteCompleted:
		c.handleQuoteCompleted(msg)

	case methodTimescaleUpdate, methodDataUpdate:
		c.handleSeriesData(msg)

	case methodSymbolResolved, methodSeriesCompleted:
		c.logger.Debug().
			Str("method", msg.Method).
			Str("payload", truncateForLog(payload)).
			Msg("server ack")

	case methodSeriesError, methodSymbolError, methodCriticalError:
		// The subscription stays registered; a reconnect replays it.
		c.logger.Error().
			Str("method", msg.Method).
			Str("payload", truncateForLog(payload)).
			Msg("server reported a stream error")

	case methodStudyLoading:
		c.handleStudyState(msg, false)

	case methodStudyCompleted:
		c.handleStudyState(msg, true)

	case methodStudyError:
		c.logger.Warn().
			Str("payload", truncateForLog(payload)).
			Msg("server reported a study error")

	default:
		c.logger.Debug().
			Str("method", msg.Method).
			Msg("ignoring unknown method")
	}
}

// handleQuoteData folds a qsd update into the quote record and fans it out.
// Updates for symbols no longer registered are dropped.
func (c *Client) handleQuoteData(msg serverMessage) {
	if len(msg.Params) < 2 {
		return
	}

	var qd quoteData
	if err := json.Unmarshal(msg.Params[1], &qd); err != nil {
		c.logger.Debug().Err(err).Msg("discarding malformed qsd params")
		return
	}

	bare := types.BareSymbol(qd.Name)
	if !c.registry.hasQuote(bare) {
		c.logger.Debug().Str("symbol", qd.Name).Msg("dropping update for unsubscribed symbol")
		return
	}
	if qd.Status != "" && qd.Status != "ok" {
		c.logger.Debug().
			Str("symbol", qd.Name).
			Str("status", qd.Status).
			Msg("quote update carries non-ok status")
	}

	telemetryWebsocketMessage(directionInbound, MessageTypeQuote)

	snapshot := c.store.applyQuote(bare, qd.Name, qd.Values)
	c.store.fireQuote(snapshot)
}

// handleQuoteCompleted sets the readiness event for the named symbol.
func (c *Client) handleQuoteCompleted(msg serverMessage) {
	if len(msg.Params) < 2 {
		return
	}

	var full string
	if err := json.Unmarshal(msg.Params[1], &full); err != nil {
		return
	}

	bare := types.BareSymbol(full)
	if !c.registry.hasQuote(bare) {
		return
	}
	c.store.quoteEvent(bare).Set()
}

// handleSeriesData walks the tagged blocks of a timescale_update or du
// payload and routes each to its candle series or study.
func (c *Client) handleSeriesData(msg serverMessage) {
	if len(msg.Params) < 2 {
		return
	}

	var blocks map[string]seriesBlock
	if err := json.Unmarshal(msg.Params[1], &blocks); err != nil {
		c.logger.Debug().Err(err).Msg("discarding malformed series params")
		return
	}

	for tag, block := range blocks {
		points := block.points()
		if len(points) == 0 {
			continue
		}

		if sub, ok := c.registry.studyForTag(tag); ok {
			c.applyStudyUpdate(sub, points)
			continue
		}
		if sub, ok := c.registry.seriesForTag(tag); ok {
			c.applyCandleUpdate(sub, points)
			continue
		}

		c.logger.Debug().Str("tag", tag).Msg("dropping update for unknown series tag")
	}
}

// applyCandleUpdate parses the bar vectors, merges them into the buffer, and
// fires callbacks for the bars that were actually applied.
func (c *Client) applyCandleUpdate(sub *seriesSub, points []dataPoint) {
	bars := make([]types.Candle, 0, len(points))
	for _, p := range points {
		bar, err := p.toCandle()
		if err != nil {
			c.logger.Debug().
				Err(err).
				Str("series", sub.key.String()).
				Msg("skipping malformed bar")
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return
	}

	telemetryWebsocketMessage(directionInbound, MessageTypeCandle)

	applied := c.store.mergeCandles(sub.key, bars)
	if len(applied) == 0 {
		return
	}
	c.store.fireCandles(sub.key, applied)
}

// applyStudyUpdate projects the latest sample through the study's descriptor
// and publishes the named outputs.
func (c *Client) applyStudyUpdate(sub *studySub, points []dataPoint) {
	values, ok := projectStudyValues(sub.descriptor, points)
	if !ok {
		return
	}

	telemetryWebsocketMessage(directionInbound, MessageTypeStudy)

	snapshot := c.store.applyStudy(sub.key, values)
	c.store.fireStudy(sub.key, snapshot)
}

// handleStudyState flips the ready flag carried by study_loading and
// study_completed frames. Readiness events are set by the first value
// update, not by the completion ack.
func (c *Client) handleStudyState(msg serverMessage, ready bool) {
	if len(msg.Params) < 2 {
		return
	}

	var tag string
	if err := json.Unmarshal(msg.Params[1], &tag); err != nil {
		return
	}

	sub, ok := c.registry.setStudyReady(tag, ready)
	if !ok {
		c.logger.Debug().Str("tag", tag).Msg("study state for unknown tag")
		return
	}

	c.logger.Debug().
		Str("study", sub.key.Name).
		Str("series", sub.key.series().String()).
		Bool("ready", ready).
		Msg("study state changed")
}
