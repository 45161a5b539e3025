package stream

import (
	"crypto/rand"
	"fmt"
)

// Session ids are regenerated on every transport open so the server never
// sees a stale session revived across reconnects.
const (
	quoteSessionPrefix = "qs_"
	chartSessionPrefix = "cs_"
	sessionIDLength    = 12
	sessionIDCharset   = "abcdefghijklmnopqrstuvwxyz0123456789"

	anonymousToken = "unauthorized_user_token"

	seriesOutputID = "s1"
	seriesBarCount = 300
)

// newSessionID returns prefix followed by sessionIDLength random characters
// drawn from sessionIDCharset.
func newSessionID(prefix string) (string, error) {
	buf := make([]byte, sessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	for i, b := range buf {
		buf[i] = sessionIDCharset[int(b)%len(sessionIDCharset)]
	}

	return prefix + string(buf), nil
}

// bootstrap re-establishes protocol state on a fresh connection: fresh
// session ids, the fixed four-message startup sequence, then a replay of
// every registered subscription. It runs as the websocket controller's
// connect hook, so the connected event is only set after it returns nil.
func (c *Client) bootstrap() error {
	qs, err := newSessionID(quoteSessionPrefix)
	if err != nil {
		return err
	}
	cs, err := newSessionID(chartSessionPrefix)
	if err != nil {
		return err
	}

	// Suspend live sends until the replay below has walked the registry; a
	// subscribe racing the replay either lands in the walk or blocks on
	// subMtx and sends itself once the session is live again.
	c.subMtx.Lock()
	c.live = false
	c.subMtx.Unlock()

	c.sessMtx.Lock()
	c.quoteSession = qs
	c.chartSession = cs
	c.sessMtx.Unlock()

	// Readiness is per connection; completion frames on the new session
	// will set these again.
	c.store.clearEvents()

	token := anonymousToken
	if creds := c.credentials(); creds.Token != "" {
		token = creds.Token
	}

	fields := make([]interface{}, 0, len(quoteSessionFields)+1)
	fields = append(fields, qs)
	for _, f := range quoteSessionFields {
		fields = append(fields, f)
	}

	startup := []Message{
		newMessage(methodSetAuthToken, token),
		newMessage(methodQuoteCreateSession, qs),
		{Method: methodQuoteSetFields, Params: fields},
		newMessage(methodChartCreateSession, cs, ""),
	}
	for _, msg := range startup {
		if err := c.wsc.SendMessage(msg); err != nil {
			return fmt.Errorf("bootstrap %s: %w", msg.Method, err)
		}
	}

	c.logger.Debug().
		Str("quote_session", qs).
		Str("chart_session", cs).
		Msg("session bootstrap complete")

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	if err := c.replaySubscriptions(qs, cs); err != nil {
		return err
	}
	c.live = true
	return nil
}

// replaySubscriptions re-registers every live quote, series, and study
// against the fresh sessions, in original subscribe order.
func (c *Client) replaySubscriptions(qs, cs string) error {
	for _, full := range c.registry.quoteList() {
		if err := c.wsc.SendMessage(newMessage(methodQuoteAddSymbols, qs, full)); err != nil {
			return fmt.Errorf("replay quote %s: %w", full, err)
		}
	}

	for _, sub := range c.registry.seriesList() {
		if err := c.sendCreateSeries(cs, sub); err != nil {
			return fmt.Errorf("replay series %s: %w", sub.key, err)
		}
	}

	for _, sub := range c.registry.studyList() {
		if err := c.sendCreateStudy(cs, sub); err != nil {
			return fmt.Errorf("replay study %s: %w", sub.key.Name, err)
		}
	}

	return nil
}

// sendCreateSeries resolves the symbol under its alias, then opens the
// candle stream under its series tag.
func (c *Client) sendCreateSeries(cs string, sub *seriesSub) error {
	resolve := newMessage(methodResolveSymbol, cs, sub.alias, "="+sub.fullName)
	if err := c.wsc.SendMessage(resolve); err != nil {
		return err
	}

	create := newMessage(methodCreateSeries,
		cs, sub.tag, seriesOutputID, sub.alias,
		sub.key.Interval.Wire(), seriesBarCount, "",
	)

	return c.wsc.SendMessage(create)
}

// sendCreateStudy attaches the indicator to the prices stream under its
// study tag, carrying the encoded input record.
func (c *Client) sendCreateStudy(cs string, sub *studySub) error {
	inputs := buildStudyInputs(sub.descriptor, sub.inputs)

	create := newMessage(methodCreateStudy,
		cs, sub.tag, studyOutputID, studySeriesRef, studyScriptType, inputs,
	)

	return c.wsc.SendMessage(create)
}
