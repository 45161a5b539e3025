package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketflow/tvstream/pine"
	"github.com/marketflow/tvstream/types"
)

// Client is the streaming engine: one websocket connection, the subscription
// registry, and the data store glued together behind a symbol-oriented API.
// All methods are safe for concurrent use. Callbacks run synchronously on the
// read-loop goroutine and must not call blocking methods on the same client.
type Client struct {
	logger zerolog.Logger

	wsc      *WebsocketController
	registry *registry
	store    *dataStore

	creds       CredentialSource
	descriptors DescriptorProvider

	connectTimeout time.Duration

	sessMtx      sync.Mutex
	quoteSession string
	chartSession string

	// subMtx serializes registry mutations against the bootstrap replay;
	// live, guarded by it, is true once the current session's replay has
	// run, so a mutation is either replayed or sent here, never neither.
	subMtx sync.Mutex
	live   bool
}

// New assembles a disconnected client; Connect starts the engine.
func New(logger zerolog.Logger, opts ...Option) *Client {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.descriptors == nil {
		cfg.descriptors = pine.Default()
	}

	c := &Client{
		logger:         logger.With().Str("module", "stream").Logger(),
		registry:       newRegistry(),
		creds:          cfg.creds,
		descriptors:    cfg.descriptors,
		connectTimeout: cfg.connectTimeout,
	}
	c.store = newDataStore(c.logger)
	c.wsc = newWebsocketController(
		cfg.endpoint,
		cfg.origin,
		cfg.maxReconnectAttempts,
		cfg.reconnectCap,
		c.bootstrap,
		c.handlePayload,
		c.logger,
	)

	return c
}

// Connect arms the reconnector and blocks until the first bootstrap completes
// or the timeout elapses, whichever of the context deadline and the
// configured connect timeout is tighter. On timeout the engine keeps dialing
// in the background until Disconnect or the retry attempts run out.
func (c *Client) Connect(ctx context.Context) error {
	c.wsc.Start()

	timeout := c.connectTimeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}
	if !c.wsc.WaitConnected(timeout) {
		return fmt.Errorf("%w: no connection after %s", types.ErrWaitTimeout, timeout)
	}
	return nil
}

// Disconnect stops reconnection, closes the transport, releases every
// blocked waiter, and drops cached data. Subscriptions stay registered, so a
// later Connect replays them.
func (c *Client) Disconnect() {
	c.wsc.Stop()
	c.subMtx.Lock()
	c.live = false
	c.subMtx.Unlock()
	c.store.wakeWaiters()
	c.store.clearData()
}

// IsConnected reports whether a bootstrapped connection is live.
func (c *Client) IsConnected() bool {
	return c.wsc.IsConnected()
}

// Ping measures a transport round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	return c.wsc.Ping(ctx)
}

// LastHeartbeat returns the wall-clock time of the last server heartbeat.
func (c *Client) LastHeartbeat() time.Time {
	return c.wsc.LastHeartbeat()
}

// credentials returns the current auth material, zero when anonymous.
func (c *Client) credentials() types.Credentials {
	if c.creds == nil {
		return types.Credentials{}
	}
	return c.creds.Credentials()
}

func (c *Client) sessions() (qs, cs string) {
	c.sessMtx.Lock()
	defer c.sessMtx.Unlock()
	return c.quoteSession, c.chartSession
}

// sendLive transmits a registry mutation on the bootstrapped session.
// Callers hold subMtx. Failures are logged rather than returned: the
// registry survives them and the next bootstrap replays the subscription.
func (c *Client) sendLive(msg Message, subject string) {
	if !c.live {
		return
	}
	if err := c.wsc.SendMessage(msg); err != nil {
		c.logger.Warn().
			Err(err).
			Str("message", msg.Method).
			Str("subject", subject).
			Msg("send failed; subscription will replay on reconnect")
	}
}

// ----- quotes -----

// SubscribeQuote registers symbol for live quote updates; exchange may be
// empty when symbol is already exchange-qualified. Resubscribing is a no-op.
func (c *Client) SubscribeQuote(symbol, exchange string) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", types.ErrInvalidArgument)
	}

	full := types.FullSymbol(exchange, symbol)
	bare := types.BareSymbol(full)

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	if !c.registry.addQuote(bare, full) {
		return nil
	}
	c.store.quoteEvent(bare)

	qs, _ := c.sessions()
	c.sendLive(newMessage(methodQuoteAddSymbols, qs, full), full)

	c.logger.Debug().Str("symbol", full).Msg("subscribed quote")
	return nil
}

// UnsubscribeQuote drops the quote subscription and its cached record,
// readiness event, and callbacks. Unknown symbols are a no-op.
func (c *Client) UnsubscribeQuote(symbol string) {
	bare := types.BareSymbol(symbol)

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	full, ok := c.registry.removeQuote(bare)
	if !ok {
		return
	}
	c.store.dropQuote(bare)

	qs, _ := c.sessions()
	c.sendLive(newMessage(methodQuoteRemoveSymbols, qs, full), full)

	c.logger.Debug().Str("symbol", full).Msg("unsubscribed quote")
}

// GetQuote returns a snapshot of the latest quote record. Lookup is
// case-insensitive and accepts exchange-qualified names.
func (c *Client) GetQuote(symbol string) (types.Quote, bool) {
	return c.store.Quote(types.BareSymbol(symbol))
}

// GetQuotes returns snapshots of every populated quote record.
func (c *Client) GetQuotes() []types.Quote {
	return c.store.Quotes()
}

// WaitForQuote blocks until the first priced update for symbol arrives or
// the timeout elapses.
func (c *Client) WaitForQuote(symbol string, timeout time.Duration) (types.Quote, error) {
	return c.store.WaitForQuote(types.BareSymbol(symbol), timeout)
}

// OnQuote registers a callback fired on every update for symbol; the
// returned func deregisters it.
func (c *Client) OnQuote(symbol string, cb QuoteCallback) func() {
	return c.store.onQuote(types.BareSymbol(symbol), cb)
}

// OnAnyQuote registers a callback fired on every quote update.
func (c *Client) OnAnyQuote(cb QuoteCallback) func() {
	return c.store.onAnyQuote(cb)
}

// ----- candles -----

// SubscribeChart opens a candle stream for (symbol, interval); exchange may
// be empty when symbol is already exchange-qualified. Resubscribing is a
// no-op.
func (c *Client) SubscribeChart(symbol, interval, exchange string) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", types.ErrInvalidArgument)
	}
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return err
	}

	full := types.FullSymbol(exchange, symbol)
	key := seriesKey{Symbol: types.BareSymbol(full), Interval: iv}

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	sub, isNew := c.registry.addSeries(key, full)
	if !isNew {
		return nil
	}
	c.store.candleEvent(key)

	if c.live {
		_, cs := c.sessions()
		if err := c.sendCreateSeries(cs, sub); err != nil {
			c.logger.Warn().
				Err(err).
				Str("series", key.String()).
				Msg("send failed; subscription will replay on reconnect")
		}
	}

	c.logger.Debug().Str("series", key.String()).Msg("subscribed chart")
	return nil
}

// UnsubscribeChart closes the candle stream and drops its buffer, event,
// callbacks, and tag mapping. Studies attached to the stream are removed
// first; they cannot outlive their series.
func (c *Client) UnsubscribeChart(symbol, interval string) error {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return err
	}
	key := seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv}

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	_, cs := c.sessions()
	for _, st := range c.registry.studiesForSeries(key) {
		if _, ok := c.registry.removeStudy(st.key); !ok {
			continue
		}
		c.store.dropStudy(st.key)
		c.sendLive(newMessage(methodRemoveStudy, cs, st.tag), st.key.Name)
	}

	sub, ok := c.registry.removeSeries(key)
	if !ok {
		return nil
	}
	c.store.dropSeries(key)
	c.sendLive(newMessage(methodRemoveSeries, cs, sub.tag), key.String())

	c.logger.Debug().Str("series", key.String()).Msg("unsubscribed chart")
	return nil
}

// GetCandle returns the latest bar of the stream.
func (c *Client) GetCandle(symbol, interval string) (types.Candle, bool) {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return types.Candle{}, false
	}
	return c.store.Candle(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv})
}

// GetCandles returns a copy of the newest count bars, oldest first; a
// non-positive count returns the whole buffer.
func (c *Client) GetCandles(symbol, interval string, count int) []types.Candle {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return nil
	}
	return c.store.Candles(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv}, count)
}

// CloseHistory returns the close series of the newest count bars, oldest
// first.
func (c *Client) CloseHistory(symbol, interval string, count int) []float64 {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return nil
	}
	return c.store.closeSeries(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv}, count)
}

// WaitForCandle blocks until the stream holds at least one bar or the
// timeout elapses.
func (c *Client) WaitForCandle(symbol, interval string, timeout time.Duration) (types.Candle, error) {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return types.Candle{}, err
	}
	return c.store.WaitForCandle(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv}, timeout)
}

// OnCandle registers a callback fired for every bar applied to the stream.
func (c *Client) OnCandle(symbol, interval string, cb CandleCallback) (func(), error) {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	return c.store.onCandle(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv}, cb), nil
}

// OnAnyCandle registers a callback fired for every applied bar on every
// stream.
func (c *Client) OnAnyCandle(cb CandleCallback) func() {
	return c.store.onAnyCandle(cb)
}

// ----- studies -----

// AddStudy attaches an indicator to a subscribed candle stream and returns
// the study tag. The stream must already exist. Custom indicators (USER; and
// PUB; namespaces) need a session cookie. Adding the same indicator to the
// same stream again returns the existing tag without re-sending.
func (c *Client) AddStudy(ctx context.Context, symbol, interval, indicator string, inputs map[string]interface{}) (string, error) {
	return c.addStudy(ctx, symbol, interval, indicator, "", inputs)
}

// AddStudyAs is AddStudy under an explicit display name, letting several
// instances of one indicator coexist on a stream (say SMA_20 next to
// SMA_50). Later lookups use the given name.
func (c *Client) AddStudyAs(ctx context.Context, symbol, interval, indicator, name string, inputs map[string]interface{}) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty study name", types.ErrInvalidArgument)
	}
	return c.addStudy(ctx, symbol, interval, indicator, name, inputs)
}

func (c *Client) addStudy(ctx context.Context, symbol, interval, indicator, name string, inputs map[string]interface{}) (string, error) {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return "", err
	}
	bare := types.BareSymbol(symbol)

	skey := seriesKey{Symbol: bare, Interval: iv}
	if !c.registry.hasSeries(skey) {
		return "", fmt.Errorf("%w: %s", types.ErrSeriesRequired, skey)
	}

	creds := c.credentials()
	ref, err := resolveIndicator(indicator, creds)
	if err != nil {
		return "", err
	}
	if name != "" {
		ref.Display = strings.ToUpper(strings.TrimSpace(name))
	}

	key := studyKey{Symbol: bare, Interval: iv, Name: ref.Display}
	if sub, ok := c.registry.studyFor(key); ok {
		return sub.tag, nil
	}

	desc, err := c.descriptors.Descriptor(ctx, ref.ID, pineVersionTag, creds)
	if err != nil {
		return "", fmt.Errorf("descriptor for %s: %w", ref.ID, err)
	}

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	sub, isNew := c.registry.addStudy(key, ref, desc, inputs)
	if !isNew {
		return sub.tag, nil
	}
	c.store.studyEvent(key)

	if c.live {
		_, cs := c.sessions()
		if err := c.sendCreateStudy(cs, sub); err != nil {
			c.logger.Warn().
				Err(err).
				Str("study", key.Name).
				Msg("send failed; study will replay on reconnect")
		}
	}

	c.logger.Debug().
		Str("study", key.Name).
		Str("series", skey.String()).
		Str("tag", sub.tag).
		Msg("added study")
	return sub.tag, nil
}

// RemoveStudy detaches the indicator and drops its outputs, event, and
// callbacks. Unknown studies are a no-op.
func (c *Client) RemoveStudy(symbol, interval, indicator string) error {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return err
	}
	ref, err := normalizeIndicator(indicator)
	if err != nil {
		return err
	}

	key := studyKey{Symbol: types.BareSymbol(symbol), Interval: iv, Name: ref.Display}

	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	sub, ok := c.registry.removeStudy(key)
	if !ok {
		return nil
	}
	c.store.dropStudy(key)

	_, cs := c.sessions()
	c.sendLive(newMessage(methodRemoveStudy, cs, sub.tag), key.Name)

	c.logger.Debug().Str("study", key.Name).Msg("removed study")
	return nil
}

// GetStudy returns a copy of the latest named outputs of the study.
func (c *Client) GetStudy(symbol, interval, indicator string) (types.StudyValues, bool) {
	key, err := c.studyKeyFor(symbol, interval, indicator)
	if err != nil {
		return nil, false
	}
	return c.store.Study(key)
}

// GetStudies returns the latest outputs of every study on (symbol, interval),
// keyed by display name.
func (c *Client) GetStudies(symbol, interval string) map[string]types.StudyValues {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return nil
	}
	return c.store.Studies(seriesKey{Symbol: types.BareSymbol(symbol), Interval: iv})
}

// WaitForStudy blocks until the study delivers its first outputs or the
// timeout elapses.
func (c *Client) WaitForStudy(symbol, interval, indicator string, timeout time.Duration) (types.StudyValues, error) {
	key, err := c.studyKeyFor(symbol, interval, indicator)
	if err != nil {
		return nil, err
	}
	return c.store.WaitForStudy(key, timeout)
}

// OnStudy registers a callback fired on every output update of the study.
func (c *Client) OnStudy(symbol, interval, indicator string, cb StudyCallback) (func(), error) {
	key, err := c.studyKeyFor(symbol, interval, indicator)
	if err != nil {
		return nil, err
	}
	return c.store.onStudy(key, cb), nil
}

// OnAnyStudy registers a callback fired on every study update.
func (c *Client) OnAnyStudy(cb StudyCallback) func() {
	return c.store.onAnyStudy(cb)
}

func (c *Client) studyKeyFor(symbol, interval, indicator string) (studyKey, error) {
	iv, err := types.ParseInterval(interval)
	if err != nil {
		return studyKey{}, err
	}
	ref, err := normalizeIndicator(indicator)
	if err != nil {
		return studyKey{}, err
	}
	return studyKey{Symbol: types.BareSymbol(symbol), Interval: iv, Name: ref.Display}, nil
}
