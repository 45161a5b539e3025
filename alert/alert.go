// Package alert evaluates compiled boolean conditions against the streaming
// engine's push feed and fans fired alerts out to notifiers. Rules declare a
// symbol, an interval and a condition expression; the monitor subscribes the
// data it needs, attaches the indicator studies the expression references,
// and fires on false-to-true edges with a per-rule cooldown.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketflow/tvstream/condition"
	psync "github.com/marketflow/tvstream/pkg/sync"
	"github.com/marketflow/tvstream/stream"
	"github.com/marketflow/tvstream/types"
)

// maxHistoryBars bounds the per-field history retained for lookbacks and
// crossovers, matching the depth of the engine's candle buffers.
const maxHistoryBars = 300

// eventQueueSize bounds pending notifications; the dispatcher never blocks
// on a slow notifier.
const eventQueueSize = 64

var _ Engine = (*stream.Client)(nil)

type (
	// Engine is the narrow streaming surface the monitor drives.
	Engine interface {
		SubscribeQuote(symbol, exchange string) error
		SubscribeChart(symbol, interval, exchange string) error
		AddStudyAs(ctx context.Context, symbol, interval, indicator, name string, inputs map[string]interface{}) (string, error)
		GetQuote(symbol string) (types.Quote, bool)
		GetCandles(symbol, interval string, count int) []types.Candle
		OnAnyCandle(cb stream.CandleCallback) func()
		OnAnyStudy(cb stream.StudyCallback) func()
	}

	// Rule defines one watched condition.
	Rule struct {
		Name      string
		Symbol    string // may be exchange-qualified
		Interval  types.Interval
		Condition string
		Cooldown  time.Duration
	}

	// Monitor owns the compiled rules, the per-series history feeds and the
	// notification worker.
	Monitor struct {
		logger    zerolog.Logger
		engine    Engine
		notifiers []Notifier

		rules []*rule

		feedMtx sync.Mutex
		feeds   map[feedKey]*feed

		events  chan Event
		closer  *psync.Closer
		removes []func()
		wg      sync.WaitGroup
	}

	rule struct {
		Rule
		cond *condition.Condition

		mtx       sync.Mutex
		active    bool
		lastFired time.Time
	}

	feedKey struct {
		Symbol   string // bare
		Interval types.Interval
	}

	// feed accumulates flattened study outputs for one (symbol, interval):
	// the current values plus a per-field bar series whose tail mirrors the
	// open bar. Candle-derived history is read from the engine at evaluation
	// time instead.
	feed struct {
		lastBar int64
		study   map[string]float64
		history map[string][]float64
	}
)

// familyIndicators maps condition field families onto the indicator to
// attach. Families with a length take one study per referenced period, named
// FAMILY_P; the rest attach once under the family name with descriptor
// defaults.
var familyIndicators = map[string]struct {
	indicator string
	hasLength bool
}{
	"rsi":   {"RSI", true},
	"sma":   {"SMA", true},
	"ema":   {"EMA", true},
	"bb":    {"BB", false},
	"macd":  {"MACD", false},
	"adx":   {"ADX", true},
	"stoch": {"STOCHASTIC", false},
	"atr":   {"ATR", true},
	"obv":   {"OBV", false},
	"vwap":  {"VWAP", false},
}

// New compiles the rules and returns a monitor ready to Start. Rules with
// unparseable conditions or field families no indicator can serve are
// rejected here. Without notifiers, fired alerts go to the log.
func New(logger zerolog.Logger, eng Engine, rules []Rule, notifiers ...Notifier) (*Monitor, error) {
	m := &Monitor{
		logger:    logger.With().Str("module", "alert").Logger(),
		engine:    eng,
		notifiers: notifiers,
		feeds:     make(map[feedKey]*feed),
		events:    make(chan Event, eventQueueSize),
		closer:    psync.NewCloser(),
	}
	if len(m.notifiers) == 0 {
		m.notifiers = []Notifier{NewLogNotifier(logger)}
	}

	for _, r := range rules {
		iv, err := types.ParseInterval(string(r.Interval))
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		r.Interval = iv

		cond, err := condition.Parse(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		for family := range cond.RequiredIndicators() {
			if _, ok := familyIndicators[family]; !ok {
				return nil, fmt.Errorf("%w: rule %s: no indicator serves field family %q",
					types.ErrInvalidArgument, r.Name, family)
			}
		}
		if r.Cooldown <= 0 {
			return nil, fmt.Errorf("%w: rule %s: cooldown must be positive", types.ErrInvalidArgument, r.Name)
		}
		m.rules = append(m.rules, &rule{Rule: r, cond: cond})
	}
	return m, nil
}

// Start subscribes every rule's quote and chart, attaches the studies its
// condition references, and begins evaluating on candle and study pushes.
func (m *Monitor) Start(ctx context.Context) error {
	for _, r := range m.rules {
		if err := m.engine.SubscribeQuote(r.Symbol, ""); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if err := m.engine.SubscribeChart(r.Symbol, string(r.Interval), ""); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}

		key := feedKey{Symbol: types.BareSymbol(r.Symbol), Interval: r.Interval}
		m.feedMtx.Lock()
		if _, ok := m.feeds[key]; !ok {
			m.feeds[key] = &feed{
				study:   make(map[string]float64),
				history: make(map[string][]float64),
			}
		}
		m.feedMtx.Unlock()

		if err := m.attachStudies(ctx, r); err != nil {
			return err
		}

		m.logger.Info().
			Str("rule", r.Name).
			Str("symbol", r.Symbol).
			Str("interval", string(r.Interval)).
			Str("condition", r.Condition).
			Dur("cooldown", r.Cooldown).
			Msg("watching")
	}

	m.removes = append(m.removes,
		m.engine.OnAnyCandle(m.handleCandle),
		m.engine.OnAnyStudy(m.handleStudy),
	)

	m.wg.Add(2)
	go m.worker(ctx)
	go m.verifier(ctx)

	return nil
}

// Stop detaches from the engine and drains the notification worker. Stop is
// idempotent.
func (m *Monitor) Stop() {
	m.closer.Close()
	for _, remove := range m.removes {
		remove()
	}
	m.removes = nil
	m.wg.Wait()
}

// attachStudies adds one study per indicator family and period the rule's
// condition references. Length-bearing families get an explicit length input
// and a period-suffixed name so several periods coexist on one stream.
func (m *Monitor) attachStudies(ctx context.Context, r *rule) error {
	for family, periods := range r.cond.RequiredIndicators() {
		info := familyIndicators[family]

		if !info.hasLength {
			name := strings.ToUpper(family)
			if _, err := m.engine.AddStudyAs(ctx, r.Symbol, string(r.Interval), info.indicator, name, nil); err != nil {
				return fmt.Errorf("rule %s: attach %s: %w", r.Name, name, err)
			}
			continue
		}

		for _, period := range periods {
			name := fmt.Sprintf("%s_%d", strings.ToUpper(family), period)
			inputs := map[string]interface{}{"length": period}
			if _, err := m.engine.AddStudyAs(ctx, r.Symbol, string(r.Interval), info.indicator, name, inputs); err != nil {
				return fmt.Errorf("rule %s: attach %s: %w", r.Name, name, err)
			}
		}
	}
	return nil
}

// handleCandle rolls the study history forward when a new bar opens, then
// evaluates the rules on the series. Repeat updates of the open bar only
// re-evaluate.
func (m *Monitor) handleCandle(symbol string, interval types.Interval, candle types.Candle) {
	key := feedKey{Symbol: types.BareSymbol(symbol), Interval: interval}

	m.feedMtx.Lock()
	f, ok := m.feeds[key]
	if !ok {
		m.feedMtx.Unlock()
		return
	}
	if candle.Timestamp > f.lastBar {
		f.lastBar = candle.Timestamp
		for field, v := range f.study {
			s := append(f.history[field], v)
			if len(s) > maxHistoryBars {
				s = s[1:]
			}
			f.history[field] = s
		}
	}
	m.feedMtx.Unlock()

	m.evaluate(key)
}

// handleStudy folds flattened study outputs into the feed, rewriting the
// open-bar tail of each field's series, then evaluates.
func (m *Monitor) handleStudy(symbol string, interval types.Interval, study string, values types.StudyValues) {
	key := feedKey{Symbol: types.BareSymbol(symbol), Interval: interval}
	flat := flattenStudyValues(study, values)

	m.feedMtx.Lock()
	f, ok := m.feeds[key]
	if !ok {
		m.feedMtx.Unlock()
		return
	}
	for field, v := range flat {
		f.study[field] = v
		if s := f.history[field]; len(s) == 0 {
			f.history[field] = []float64{v}
		} else {
			s[len(s)-1] = v
		}
	}
	m.feedMtx.Unlock()

	m.evaluate(key)
}

// flattenStudyValues maps a study's named outputs onto the field spellings
// the condition language uses. A study named ADX_14 with outputs
// {adx, plus_di, minus_di} lands as adx_14, adx, adx_14_plus_di, adx_plus_di
// and so on; period-suffixed spellings stay distinct per attached period.
func flattenStudyValues(study string, values types.StudyValues) map[string]float64 {
	display := strings.ToLower(study)
	family, period := splitStudyName(display)

	out := make(map[string]float64, 2*len(values))
	for name, v := range values {
		name = strings.ToLower(name)
		if name == "value" || name == family {
			out[display] = v
			if period == condition.DefaultPeriod {
				out[family] = v
			}
			continue
		}

		out[name] = v
		if period == 0 || period == condition.DefaultPeriod {
			out[family+"_"+name] = v
		}
		if period > 0 {
			out[fmt.Sprintf("%s_%d_%s", family, period, name)] = v
		}
	}
	return out
}

// splitStudyName separates an optional numeric period suffix, so "sma_20"
// yields ("sma", 20) and "macd" yields ("macd", 0).
func splitStudyName(display string) (string, int) {
	i := strings.LastIndex(display, "_")
	if i < 0 {
		return display, 0
	}
	period := 0
	for _, r := range display[i+1:] {
		if r < '0' || r > '9' {
			return display, 0
		}
		period = period*10 + int(r-'0')
	}
	if period == 0 {
		return display, 0
	}
	return display[:i], period
}

// evaluate rebuilds the value snapshot and history table for the series and
// runs every rule watching it.
func (m *Monitor) evaluate(key feedKey) {
	values, history := m.snapshot(key)
	now := time.Now()

	for _, r := range m.rules {
		if types.BareSymbol(r.Symbol) != key.Symbol || r.Interval != key.Interval {
			continue
		}
		result := r.cond.Evaluate(values, history)
		if r.shouldFire(result, now) {
			m.fire(r, values, now)
		}
	}
}

// snapshot layers current values candle-tail first, quote record second,
// study outputs last, and pairs them with bar-aligned history series.
func (m *Monitor) snapshot(key feedKey) (map[string]float64, map[string][]float64) {
	values := make(map[string]float64)
	history := make(map[string][]float64)

	bars := m.engine.GetCandles(key.Symbol, string(key.Interval), maxHistoryBars)
	if n := len(bars); n > 0 {
		tail := bars[n-1]
		values["open"] = tail.Open
		values["high"] = tail.High
		values["low"] = tail.Low
		values["last"] = tail.Close
		values["volume"] = tail.Volume

		opens := make([]float64, n)
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		volumes := make([]float64, n)
		for i, b := range bars {
			opens[i], highs[i], lows[i] = b.Open, b.High, b.Low
			closes[i], volumes[i] = b.Close, b.Volume
		}
		history["open"] = opens
		history["high"] = highs
		history["low"] = lows
		history["last"] = closes
		history["volume"] = volumes
	}

	if q, ok := m.engine.GetQuote(key.Symbol); ok {
		for k, v := range q.ConditionValues() {
			values[k] = v
		}
	}

	m.feedMtx.Lock()
	if f, ok := m.feeds[key]; ok {
		for k, v := range f.study {
			values[k] = v
		}
		for k, s := range f.history {
			history[k] = s
		}
	}
	m.feedMtx.Unlock()

	return values, history
}

// shouldFire applies edge detection and the cooldown: a rule fires when its
// result flips from false to true outside the cooldown window. Edges inside
// the window are swallowed.
func (r *rule) shouldFire(result bool, now time.Time) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	fire := result && !r.active && now.Sub(r.lastFired) >= r.Cooldown
	r.active = result
	if fire {
		r.lastFired = now
	}
	return fire
}

// fire queues the event for the notification worker; a full queue drops the
// notification rather than stalling the data path.
func (m *Monitor) fire(r *rule, values map[string]float64, now time.Time) {
	telemetryAlertFired(r.Name)

	snapshot := make(map[string]float64, len(values))
	for k, v := range values {
		snapshot[k] = v
	}
	ev := Event{
		Rule:      r.Name,
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		Condition: r.Condition,
		Values:    snapshot,
		At:        now,
	}

	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Str("rule", r.Name).Msg("notification queue full; dropping alert")
	}
}

func (m *Monitor) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case ev := <-m.events:
			for _, n := range m.notifiers {
				if err := n.Notify(ctx, ev); err != nil {
					m.logger.Error().Err(err).Str("rule", ev.Rule).Msg("notifier failed")
				}
			}
		case <-m.closer.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
