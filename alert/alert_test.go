package alert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/stream"
	"github.com/marketflow/tvstream/types"
)

type studyAttach struct {
	symbol    string
	interval  string
	indicator string
	name      string
	inputs    map[string]interface{}
}

// fakeEngine records subscriptions and replays pushes into the monitor's
// callbacks the way the streaming client would.
type fakeEngine struct {
	mtx sync.Mutex

	quotes  map[string]types.Quote
	candles map[string][]types.Candle

	quoteSubs []string
	chartSubs []string
	attached  []studyAttach

	candleCbs map[int]stream.CandleCallback
	studyCbs  map[int]stream.StudyCallback
	cbSeq     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		quotes:    make(map[string]types.Quote),
		candles:   make(map[string][]types.Candle),
		candleCbs: make(map[int]stream.CandleCallback),
		studyCbs:  make(map[int]stream.StudyCallback),
	}
}

func (f *fakeEngine) SubscribeQuote(symbol, exchange string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.quoteSubs = append(f.quoteSubs, types.FullSymbol(exchange, symbol))
	return nil
}

func (f *fakeEngine) SubscribeChart(symbol, interval, exchange string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.chartSubs = append(f.chartSubs, types.FullSymbol(exchange, symbol)+"/"+interval)
	return nil
}

func (f *fakeEngine) AddStudyAs(_ context.Context, symbol, interval, indicator, name string, inputs map[string]interface{}) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.attached = append(f.attached, studyAttach{symbol, interval, indicator, name, inputs})
	return fmt.Sprintf("st_%d", len(f.attached)), nil
}

func (f *fakeEngine) GetQuote(symbol string) (types.Quote, bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	q, ok := f.quotes[types.BareSymbol(symbol)]
	return q, ok
}

func (f *fakeEngine) GetCandles(symbol, interval string, count int) []types.Candle {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	buf := f.candles[types.BareSymbol(symbol)+"/"+interval]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	out := make([]types.Candle, count)
	copy(out, buf[len(buf)-count:])
	return out
}

func (f *fakeEngine) OnAnyCandle(cb stream.CandleCallback) func() {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.cbSeq++
	id := f.cbSeq
	f.candleCbs[id] = cb
	return func() {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		delete(f.candleCbs, id)
	}
}

func (f *fakeEngine) OnAnyStudy(cb stream.StudyCallback) func() {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.cbSeq++
	id := f.cbSeq
	f.studyCbs[id] = cb
	return func() {
		f.mtx.Lock()
		defer f.mtx.Unlock()
		delete(f.studyCbs, id)
	}
}

func (f *fakeEngine) pushCandle(symbol string, interval types.Interval, candle types.Candle) {
	f.mtx.Lock()
	key := types.BareSymbol(symbol) + "/" + string(interval)
	f.candles[key] = append(f.candles[key], candle)
	cbs := make([]stream.CandleCallback, 0, len(f.candleCbs))
	for _, cb := range f.candleCbs {
		cbs = append(cbs, cb)
	}
	f.mtx.Unlock()

	for _, cb := range cbs {
		cb(types.BareSymbol(symbol), interval, candle)
	}
}

func (f *fakeEngine) pushStudy(symbol string, interval types.Interval, study string, values types.StudyValues) {
	f.mtx.Lock()
	cbs := make([]stream.StudyCallback, 0, len(f.studyCbs))
	for _, cb := range f.studyCbs {
		cbs = append(cbs, cb)
	}
	f.mtx.Unlock()

	for _, cb := range cbs {
		cb(types.BareSymbol(symbol), interval, study, values)
	}
}

// captureNotifier collects delivered events, optionally failing first.
type captureNotifier struct {
	mtx    sync.Mutex
	events []Event
	fail   bool
}

func (n *captureNotifier) Notify(_ context.Context, event Event) error {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.events = append(n.events, event)
	if n.fail {
		return fmt.Errorf("delivery refused")
	}
	return nil
}

func (n *captureNotifier) count() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return len(n.events)
}

func (n *captureNotifier) last() Event {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.events[len(n.events)-1]
}

func TestNewRejectsBadRules(t *testing.T) {
	eng := newFakeEngine()

	_, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "broken", Symbol: "THYAO", Interval: types.Interval1m, Condition: "rsi <", Cooldown: time.Minute},
	})
	require.ErrorIs(t, err, types.ErrInvalidCondition)

	_, err = New(zerolog.Nop(), eng, []Rule{
		{Name: "odd_interval", Symbol: "THYAO", Interval: "7m", Condition: "rsi < 30", Cooldown: time.Minute},
	})
	require.ErrorIs(t, err, types.ErrInvalidInterval)

	_, err = New(zerolog.Nop(), eng, []Rule{
		{Name: "no_cooldown", Symbol: "THYAO", Interval: types.Interval1m, Condition: "rsi < 30"},
	})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestMonitorAutoAttachesStudies(t *testing.T) {
	eng := newFakeEngine()
	m, err := New(zerolog.Nop(), eng, []Rule{
		{
			Name:      "momentum",
			Symbol:    "BIST:THYAO",
			Interval:  types.Interval1m,
			Condition: "rsi < 30 and sma_20 crosses_above sma_50 and macd > 0",
			Cooldown:  time.Minute,
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Equal(t, []string{"BIST:THYAO"}, eng.quoteSubs)
	require.Equal(t, []string{"BIST:THYAO/1m"}, eng.chartSubs)

	byName := make(map[string]studyAttach, len(eng.attached))
	for _, att := range eng.attached {
		byName[att.name] = att
	}
	require.Len(t, byName, 4)

	rsi := byName["RSI_14"]
	require.Equal(t, "RSI", rsi.indicator)
	require.Equal(t, map[string]interface{}{"length": 14}, rsi.inputs)

	require.Equal(t, "SMA", byName["SMA_20"].indicator)
	require.Equal(t, map[string]interface{}{"length": 20}, byName["SMA_20"].inputs)
	require.Equal(t, map[string]interface{}{"length": 50}, byName["SMA_50"].inputs)

	macd := byName["MACD"]
	require.Equal(t, "MACD", macd.indicator)
	require.Nil(t, macd.inputs, "descriptor defaults apply when the field carries no period")
}

func TestMonitorEdgeTriggerWithCooldown(t *testing.T) {
	eng := newFakeEngine()
	sink := &captureNotifier{}

	m, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "oversold", Symbol: "THYAO", Interval: types.Interval1m, Condition: "rsi < 30", Cooldown: time.Hour},
	})
	require.NoError(t, err)
	m.notifiers = []Notifier{sink}

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// first true evaluation fires
	eng.pushStudy("THYAO", types.Interval1m, "RSI_14", types.StudyValues{"value": 25})
	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	ev := sink.last()
	require.Equal(t, "oversold", ev.Rule)
	require.Equal(t, "rsi < 30", ev.Condition)
	require.Equal(t, 25.0, ev.Values["rsi"])
	require.Contains(t, ev.Message(), "oversold")

	// still true: no edge, no second event
	eng.pushStudy("THYAO", types.Interval1m, "RSI_14", types.StudyValues{"value": 20})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, sink.count())

	// back to false, then true again inside the cooldown window: swallowed
	eng.pushStudy("THYAO", types.Interval1m, "RSI_14", types.StudyValues{"value": 45})
	eng.pushStudy("THYAO", types.Interval1m, "RSI_14", types.StudyValues{"value": 10})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, sink.count())
}

func TestMonitorCrossover(t *testing.T) {
	eng := newFakeEngine()
	sink := &captureNotifier{}

	m, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "golden_cross", Symbol: "THYAO", Interval: types.Interval1m, Condition: "sma_20 crosses_above sma_50", Cooldown: time.Minute},
	})
	require.NoError(t, err)
	m.notifiers = []Notifier{sink}

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// bar 1: fast below slow
	eng.pushCandle("THYAO", types.Interval1m, types.Candle{Timestamp: 60, Close: 10})
	eng.pushStudy("THYAO", types.Interval1m, "SMA_20", types.StudyValues{"value": 9})
	eng.pushStudy("THYAO", types.Interval1m, "SMA_50", types.StudyValues{"value": 10})

	// bar 2 opens carrying the bar-1 values forward; no cross yet
	eng.pushCandle("THYAO", types.Interval1m, types.Candle{Timestamp: 120, Close: 11})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, sink.count())

	// fast overtakes slow within bar 2
	eng.pushStudy("THYAO", types.Interval1m, "SMA_50", types.StudyValues{"value": 10})
	eng.pushStudy("THYAO", types.Interval1m, "SMA_20", types.StudyValues{"value": 11})

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	ev := sink.last()
	require.Equal(t, "golden_cross", ev.Rule)
	require.Equal(t, 11.0, ev.Values["sma_20"])
}

func TestMonitorNotifierFanout(t *testing.T) {
	eng := newFakeEngine()
	failing := &captureNotifier{fail: true}
	healthy := &captureNotifier{}

	m, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "spike", Symbol: "THYAO", Interval: types.Interval1m, Condition: "volume > 1M", Cooldown: time.Minute},
	})
	require.NoError(t, err)
	m.notifiers = []Notifier{failing, healthy}

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	eng.mtx.Lock()
	q := types.NewQuote("THYAO")
	q.Volume = 2_000_000
	eng.quotes["THYAO"] = *q
	eng.mtx.Unlock()

	eng.pushCandle("THYAO", types.Interval1m, types.Candle{Timestamp: 60, Close: 10, Volume: 500})

	require.Eventually(t, func() bool {
		return failing.count() == 1 && healthy.count() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMonitorStop(t *testing.T) {
	eng := newFakeEngine()
	sink := &captureNotifier{}

	m, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "oversold", Symbol: "THYAO", Interval: types.Interval1m, Condition: "rsi < 30", Cooldown: time.Minute},
	})
	require.NoError(t, err)
	m.notifiers = []Notifier{sink}

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()

	require.Empty(t, eng.candleCbs, "callbacks detach on stop")
	require.Empty(t, eng.studyCbs)

	eng.pushStudy("THYAO", types.Interval1m, "RSI_14", types.StudyValues{"value": 10})
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sink.count())
}

func TestVerifyStreams(t *testing.T) {
	eng := newFakeEngine()
	m, err := New(zerolog.Nop(), eng, []Rule{
		{Name: "oversold", Symbol: "THYAO", Interval: types.Interval1m, Condition: "rsi < 30", Cooldown: time.Minute},
		{Name: "spike", Symbol: "BIST:THYAO", Interval: types.Interval1m, Condition: "volume > 1M", Cooldown: time.Minute},
	})
	require.NoError(t, err)

	// one check per distinct series; nothing delivered yet
	checks := m.VerifyStreams()
	require.Len(t, checks, 1)
	require.Equal(t, CheckQuoteMissing, checks[0].Type)

	q := types.NewQuote("THYAO")
	q.Last = 100
	eng.mtx.Lock()
	eng.quotes["THYAO"] = *q
	eng.mtx.Unlock()

	checks = m.VerifyStreams()
	require.Equal(t, CheckCandleMissing, checks[0].Type)

	eng.mtx.Lock()
	eng.candles["THYAO/1m"] = []types.Candle{{Timestamp: 60, Close: 100.2}}
	eng.mtx.Unlock()

	checks = m.VerifyStreams()
	require.Equal(t, CheckMatch, checks[0].Type)
	require.Contains(t, checks[0].Message, "PASS")

	eng.mtx.Lock()
	eng.candles["THYAO/1m"] = []types.Candle{{Timestamp: 120, Close: 150}}
	eng.mtx.Unlock()

	checks = m.VerifyStreams()
	require.Equal(t, CheckDeviated, checks[0].Type)
	require.Contains(t, checks[0].Message, "FAIL")
}

func TestFlattenStudyValues(t *testing.T) {
	testCases := []struct {
		name   string
		study  string
		values types.StudyValues
		want   map[string]float64
	}{
		{
			name:   "default_period_gets_bare_spelling",
			study:  "RSI_14",
			values: types.StudyValues{"value": 28.5},
			want:   map[string]float64{"rsi_14": 28.5, "rsi": 28.5},
		},
		{
			name:   "custom_period_stays_suffixed",
			study:  "RSI_7",
			values: types.StudyValues{"value": 28.5},
			want:   map[string]float64{"rsi_7": 28.5},
		},
		{
			name:   "macd_outputs_keep_bare_names",
			study:  "MACD",
			values: types.StudyValues{"macd": 1.2, "signal": 0.8, "histogram": 0.4},
			want: map[string]float64{
				"macd":           1.2,
				"signal":         0.8,
				"macd_signal":    0.8,
				"histogram":      0.4,
				"macd_histogram": 0.4,
			},
		},
		{
			name:   "bands_get_family_prefix",
			study:  "BB",
			values: types.StudyValues{"upper": 3, "middle": 2, "lower": 1},
			want: map[string]float64{
				"upper": 3, "bb_upper": 3,
				"middle": 2, "bb_middle": 2,
				"lower": 1, "bb_lower": 1,
			},
		},
		{
			name:   "stochastic_k_and_d",
			study:  "STOCH",
			values: types.StudyValues{"k": 81, "d": 74},
			want: map[string]float64{
				"k": 81, "stoch_k": 81,
				"d": 74, "stoch_d": 74,
			},
		},
		{
			name:   "adx_custom_period_never_claims_default_spellings",
			study:  "ADX_20",
			values: types.StudyValues{"adx": 31, "plus_di": 25, "minus_di": 15},
			want: map[string]float64{
				"adx_20":          31,
				"plus_di":         25,
				"adx_20_plus_di":  25,
				"minus_di":        15,
				"adx_20_minus_di": 15,
			},
		},
		{
			name:   "adx_default_period_claims_both",
			study:  "ADX_14",
			values: types.StudyValues{"adx": 31, "plus_di": 25},
			want: map[string]float64{
				"adx":            31,
				"adx_14":         31,
				"plus_di":        25,
				"adx_plus_di":    25,
				"adx_14_plus_di": 25,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := flattenStudyValues(tc.study, tc.values)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSplitStudyName(t *testing.T) {
	family, period := splitStudyName("sma_20")
	require.Equal(t, "sma", family)
	require.Equal(t, 20, period)

	family, period = splitStudyName("macd")
	require.Equal(t, "macd", family)
	require.Zero(t, period)

	family, period = splitStudyName("plus_di")
	require.Equal(t, "plus_di", family)
	require.Zero(t, period)
}
