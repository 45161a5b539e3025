package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	psync "github.com/marketflow/tvstream/pkg/sync"
	"github.com/marketflow/tvstream/types"
)

type (
	// QuoteCallback receives a snapshot copy after each quote mutation.
	QuoteCallback func(types.Quote)

	// CandleCallback receives each bar merged into a candle buffer.
	CandleCallback func(symbol string, interval types.Interval, candle types.Candle)

	// StudyCallback receives the latest named outputs after a study update.
	StudyCallback func(symbol string, interval types.Interval, study string, values types.StudyValues)
)

// dataStore holds the latest quote per symbol, the candle buffer per
// (symbol, interval), and the latest study outputs per (symbol, interval,
// name), plus the readiness events and callback lists attached to them.
// The dispatcher writes; accessors and callbacks read snapshots. No lock is
// held while callbacks run.
type dataStore struct {
	logger zerolog.Logger

	mtx     sync.RWMutex
	quotes  map[string]*types.Quote
	candles map[seriesKey][]types.Candle
	studies map[studyKey]types.StudyValues

	evtMtx       sync.Mutex
	quoteEvents  map[string]*psync.Event
	candleEvents map[seriesKey]*psync.Event
	studyEvents  map[studyKey]*psync.Event

	cbMtx        sync.Mutex
	cbSeq        int
	quoteCbs     map[string]map[int]QuoteCallback
	anyQuoteCbs  map[int]QuoteCallback
	candleCbs    map[seriesKey]map[int]CandleCallback
	anyCandleCbs map[int]CandleCallback
	studyCbs     map[studyKey]map[int]StudyCallback
	anyStudyCbs  map[int]StudyCallback
}

func newDataStore(logger zerolog.Logger) *dataStore {
	return &dataStore{
		logger:       logger.With().Str("module", "store").Logger(),
		quotes:       make(map[string]*types.Quote),
		candles:      make(map[seriesKey][]types.Candle),
		studies:      make(map[studyKey]types.StudyValues),
		quoteEvents:  make(map[string]*psync.Event),
		candleEvents: make(map[seriesKey]*psync.Event),
		studyEvents:  make(map[studyKey]*psync.Event),
		quoteCbs:     make(map[string]map[int]QuoteCallback),
		anyQuoteCbs:  make(map[int]QuoteCallback),
		candleCbs:    make(map[seriesKey]map[int]CandleCallback),
		anyCandleCbs: make(map[int]CandleCallback),
		studyCbs:     make(map[studyKey]map[int]StudyCallback),
		anyStudyCbs:  make(map[int]StudyCallback),
	}
}

// ----- quotes -----

// applyQuote folds a qsd update into the record for bare, creating it on
// first push, and returns a snapshot copy. The readiness event is set when
// the record holds a last price.
func (s *dataStore) applyQuote(bare, full string, vals quoteValues) types.Quote {
	s.mtx.Lock()
	q, ok := s.quotes[bare]
	if !ok {
		q = types.NewQuote(bare)
		q.FullName = full
		s.quotes[bare] = q
	}
	vals.applyTo(q)
	q.UpdatedAt = time.Now()
	snapshot := *q
	s.mtx.Unlock()

	if snapshot.HasLast() {
		s.quoteEvent(bare).Set()
	}
	return snapshot
}

// Quote returns a snapshot copy, or false when never populated.
func (s *dataStore) Quote(bare string) (types.Quote, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	q, ok := s.quotes[bare]
	if !ok {
		return types.Quote{}, false
	}
	return *q, true
}

// readyQuote is Quote restricted to records that hold a last price.
func (s *dataStore) readyQuote(bare string) (types.Quote, bool) {
	q, ok := s.Quote(bare)
	if !ok || !q.HasLast() {
		return types.Quote{}, false
	}
	return q, true
}

// WaitForQuote blocks until the first priced update for bare or the timeout.
func (s *dataStore) WaitForQuote(bare string, timeout time.Duration) (types.Quote, error) {
	if q, ok := s.readyQuote(bare); ok {
		return q, nil
	}
	s.quoteEvent(bare).Wait(timeout)
	if q, ok := s.readyQuote(bare); ok {
		return q, nil
	}
	return types.Quote{}, fmt.Errorf("%w: quote %s after %s", types.ErrWaitTimeout, bare, timeout)
}

// Quotes returns snapshot copies of every populated record.
func (s *dataStore) Quotes() []types.Quote {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make([]types.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, *q)
	}
	return out
}

// ----- candles -----

// mergeCandles applies bars in arrival order: a bar matching the tail
// timestamp rewrites the tail, newer bars append, older bars are dropped.
// The applied bars are returned for callback fan-out.
func (s *dataStore) mergeCandles(key seriesKey, bars []types.Candle) []types.Candle {
	s.mtx.Lock()
	buf := s.candles[key]
	applied := make([]types.Candle, 0, len(bars))
	for _, bar := range bars {
		n := len(buf)
		switch {
		case n == 0 || bar.Timestamp > buf[n-1].Timestamp:
			buf = append(buf, bar)
			applied = append(applied, bar)
		case bar.Timestamp == buf[n-1].Timestamp:
			buf[n-1] = bar
			applied = append(applied, bar)
		default:
			s.logger.Debug().
				Str("series", key.String()).
				Int64("timestamp", bar.Timestamp).
				Msg("dropping out-of-order bar")
		}
	}
	// the buffer never outgrows the depth requested at series creation
	if len(buf) > seriesBarCount {
		buf = append(buf[:0], buf[len(buf)-seriesBarCount:]...)
	}
	s.candles[key] = buf
	s.mtx.Unlock()

	if len(applied) > 0 {
		s.candleEvent(key).Set()
	}
	return applied
}

// Candle returns the latest bar.
func (s *dataStore) Candle(key seriesKey) (types.Candle, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	buf := s.candles[key]
	if len(buf) == 0 {
		return types.Candle{}, false
	}
	return buf[len(buf)-1], true
}

// Candles returns a copy of the newest count bars, oldest first; a
// non-positive count returns the whole buffer.
func (s *dataStore) Candles(key seriesKey, count int) []types.Candle {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	buf := s.candles[key]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	out := make([]types.Candle, count)
	copy(out, buf[len(buf)-count:])
	return out
}

// WaitForCandle blocks until the series holds at least one bar.
func (s *dataStore) WaitForCandle(key seriesKey, timeout time.Duration) (types.Candle, error) {
	if c, ok := s.Candle(key); ok {
		return c, nil
	}
	s.candleEvent(key).Wait(timeout)
	if c, ok := s.Candle(key); ok {
		return c, nil
	}
	return types.Candle{}, fmt.Errorf("%w: candles %s after %s", types.ErrWaitTimeout, key, timeout)
}

// closeSeries returns the close series of the buffer, oldest first.
func (s *dataStore) closeSeries(key seriesKey, count int) []float64 {
	bars := s.Candles(key, count)
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// ----- studies -----

// applyStudy replaces the latest outputs for key and returns a copy.
func (s *dataStore) applyStudy(key studyKey, values types.StudyValues) types.StudyValues {
	s.mtx.Lock()
	s.studies[key] = values
	s.mtx.Unlock()

	s.studyEvent(key).Set()
	return values.Clone()
}

// Study returns a copy of the latest outputs.
func (s *dataStore) Study(key studyKey) (types.StudyValues, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	values, ok := s.studies[key]
	if !ok {
		return nil, false
	}
	return values.Clone(), true
}

// Studies returns the latest outputs for every study on (symbol, interval),
// keyed by display name.
func (s *dataStore) Studies(key seriesKey) map[string]types.StudyValues {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make(map[string]types.StudyValues)
	for k, values := range s.studies {
		if k.series() == key {
			out[k.Name] = values.Clone()
		}
	}
	return out
}

// WaitForStudy blocks until the study delivers its first outputs.
func (s *dataStore) WaitForStudy(key studyKey, timeout time.Duration) (types.StudyValues, error) {
	if v, ok := s.Study(key); ok {
		return v, nil
	}
	s.studyEvent(key).Wait(timeout)
	if v, ok := s.Study(key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: study %s on %s/%s after %s",
		types.ErrWaitTimeout, key.Name, key.Symbol, key.Interval, timeout)
}

// ----- readiness events -----

func (s *dataStore) quoteEvent(bare string) *psync.Event {
	s.evtMtx.Lock()
	defer s.evtMtx.Unlock()

	ev, ok := s.quoteEvents[bare]
	if !ok {
		ev = psync.NewEvent()
		s.quoteEvents[bare] = ev
	}
	return ev
}

func (s *dataStore) candleEvent(key seriesKey) *psync.Event {
	s.evtMtx.Lock()
	defer s.evtMtx.Unlock()

	ev, ok := s.candleEvents[key]
	if !ok {
		ev = psync.NewEvent()
		s.candleEvents[key] = ev
	}
	return ev
}

func (s *dataStore) studyEvent(key studyKey) *psync.Event {
	s.evtMtx.Lock()
	defer s.evtMtx.Unlock()

	ev, ok := s.studyEvents[key]
	if !ok {
		ev = psync.NewEvent()
		s.studyEvents[key] = ev
	}
	return ev
}

// clearEvents re-arms every readiness event; called at bootstrap before the
// registry replay so waiters block until fresh completions arrive.
func (s *dataStore) clearEvents() {
	s.evtMtx.Lock()
	defer s.evtMtx.Unlock()

	for _, ev := range s.quoteEvents {
		ev.Clear()
	}
	for _, ev := range s.candleEvents {
		ev.Clear()
	}
	for _, ev := range s.studyEvents {
		ev.Clear()
	}
}

// wakeWaiters unblocks every pending wait without setting events; callers
// re-check state and observe either their stored value or a timeout.
func (s *dataStore) wakeWaiters() {
	s.evtMtx.Lock()
	defer s.evtMtx.Unlock()

	for _, ev := range s.quoteEvents {
		ev.Wake()
	}
	for _, ev := range s.candleEvents {
		ev.Wake()
	}
	for _, ev := range s.studyEvents {
		ev.Wake()
	}
}

// ----- lifecycle -----

// dropQuote destroys the record, event, and per-symbol callbacks.
func (s *dataStore) dropQuote(bare string) {
	s.mtx.Lock()
	delete(s.quotes, bare)
	s.mtx.Unlock()

	s.evtMtx.Lock()
	delete(s.quoteEvents, bare)
	s.evtMtx.Unlock()

	s.cbMtx.Lock()
	delete(s.quoteCbs, bare)
	s.cbMtx.Unlock()
}

// dropSeries destroys the buffer, event, and per-series callbacks.
func (s *dataStore) dropSeries(key seriesKey) {
	s.mtx.Lock()
	delete(s.candles, key)
	s.mtx.Unlock()

	s.evtMtx.Lock()
	delete(s.candleEvents, key)
	s.evtMtx.Unlock()

	s.cbMtx.Lock()
	delete(s.candleCbs, key)
	s.cbMtx.Unlock()
}

// dropStudy destroys the outputs, event, and per-study callbacks.
func (s *dataStore) dropStudy(key studyKey) {
	s.mtx.Lock()
	delete(s.studies, key)
	s.mtx.Unlock()

	s.evtMtx.Lock()
	delete(s.studyEvents, key)
	s.evtMtx.Unlock()

	s.cbMtx.Lock()
	delete(s.studyCbs, key)
	s.cbMtx.Unlock()
}

// clearData destroys every stored record while keeping events and callbacks;
// used on disconnect, after which accessors report "absent".
func (s *dataStore) clearData() {
	s.mtx.Lock()
	s.quotes = make(map[string]*types.Quote)
	s.candles = make(map[seriesKey][]types.Candle)
	s.studies = make(map[studyKey]types.StudyValues)
	s.mtx.Unlock()
}

// ----- callbacks -----

// onQuote registers a per-symbol callback and returns its remove func.
func (s *dataStore) onQuote(bare string, cb QuoteCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	if s.quoteCbs[bare] == nil {
		s.quoteCbs[bare] = make(map[int]QuoteCallback)
	}
	s.quoteCbs[bare][id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		if m, ok := s.quoteCbs[bare]; ok {
			delete(m, id)
		}
	}
}

func (s *dataStore) onAnyQuote(cb QuoteCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	s.anyQuoteCbs[id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		delete(s.anyQuoteCbs, id)
	}
}

func (s *dataStore) onCandle(key seriesKey, cb CandleCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	if s.candleCbs[key] == nil {
		s.candleCbs[key] = make(map[int]CandleCallback)
	}
	s.candleCbs[key][id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		if m, ok := s.candleCbs[key]; ok {
			delete(m, id)
		}
	}
}

func (s *dataStore) onAnyCandle(cb CandleCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	s.anyCandleCbs[id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		delete(s.anyCandleCbs, id)
	}
}

func (s *dataStore) onStudy(key studyKey, cb StudyCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	if s.studyCbs[key] == nil {
		s.studyCbs[key] = make(map[int]StudyCallback)
	}
	s.studyCbs[key][id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		if m, ok := s.studyCbs[key]; ok {
			delete(m, id)
		}
	}
}

func (s *dataStore) onAnyStudy(cb StudyCallback) func() {
	s.cbMtx.Lock()
	defer s.cbMtx.Unlock()

	s.cbSeq++
	id := s.cbSeq
	s.anyStudyCbs[id] = cb
	return func() {
		s.cbMtx.Lock()
		defer s.cbMtx.Unlock()
		delete(s.anyStudyCbs, id)
	}
}

// fireQuote invokes per-symbol then global callbacks with a snapshot.
func (s *dataStore) fireQuote(q types.Quote) {
	s.cbMtx.Lock()
	cbs := make([]QuoteCallback, 0, len(s.quoteCbs[q.Symbol])+len(s.anyQuoteCbs))
	for _, cb := range s.quoteCbs[q.Symbol] {
		cbs = append(cbs, cb)
	}
	for _, cb := range s.anyQuoteCbs {
		cbs = append(cbs, cb)
	}
	s.cbMtx.Unlock()

	for _, cb := range cbs {
		s.invoke("quote", func() { cb(q) })
	}
}

// fireCandles invokes callbacks once per applied bar, in arrival order.
func (s *dataStore) fireCandles(key seriesKey, bars []types.Candle) {
	s.cbMtx.Lock()
	cbs := make([]CandleCallback, 0, len(s.candleCbs[key])+len(s.anyCandleCbs))
	for _, cb := range s.candleCbs[key] {
		cbs = append(cbs, cb)
	}
	for _, cb := range s.anyCandleCbs {
		cbs = append(cbs, cb)
	}
	s.cbMtx.Unlock()

	for _, bar := range bars {
		bar := bar
		for _, cb := range cbs {
			cb := cb
			s.invoke("candle", func() { cb(key.Symbol, key.Interval, bar) })
		}
	}
}

func (s *dataStore) fireStudy(key studyKey, values types.StudyValues) {
	s.cbMtx.Lock()
	cbs := make([]StudyCallback, 0, len(s.studyCbs[key])+len(s.anyStudyCbs))
	for _, cb := range s.studyCbs[key] {
		cbs = append(cbs, cb)
	}
	for _, cb := range s.anyStudyCbs {
		cbs = append(cbs, cb)
	}
	s.cbMtx.Unlock()

	for _, cb := range cbs {
		cb := cb
		s.invoke("study", func() { cb(key.Symbol, key.Interval, key.Name, values.Clone()) })
	}
}

// invoke runs one callback, recovering panics so a failing callback can
// never break the dispatcher loop or suppress its peers.
func (s *dataStore) invoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			telemetryCallbackPanic(kind)
			s.logger.Error().
				Interface("panic", r).
				Str("kind", kind).
				Msg("recovered panicking callback")
		}
	}()
	fn()
}
