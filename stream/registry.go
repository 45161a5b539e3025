package stream

import (
	"fmt"
	"sort"
	"sync"

	"github.com/StudioSol/set"

	"github.com/marketflow/tvstream/types"
)

type (
	// seriesKey identifies one candle stream.
	seriesKey struct {
		Symbol   string
		Interval types.Interval
	}

	// studyKey identifies one study on a candle stream.
	studyKey struct {
		Symbol   string
		Interval types.Interval
		Name     string // display name, e.g. "RSI"
	}

	// seriesSub is one live candle subscription and its wire identity.
	seriesSub struct {
		key      seriesKey
		fullName string // exchange-qualified symbol sent to the server
		tag      string // create_series tag, ex.: ser_1
		alias    string // resolve_symbol alias, ex.: sym_1
		seq      int
	}

	// studySub is one live study and everything needed to (re)create it.
	studySub struct {
		key        studyKey
		tag        string // create_study tag, ex.: st_2
		indicator  indicatorRef
		descriptor types.Descriptor
		inputs     map[string]interface{} // user overrides by input name
		ready      bool
		seq        int
	}
)

func (k seriesKey) String() string {
	return k.Symbol + "/" + k.Interval.String()
}

func (k studyKey) series() seriesKey {
	return seriesKey{Symbol: k.Symbol, Interval: k.Interval}
}

// registry is the authoritative record of desired subscriptions plus the
// bidirectional tag maps routing inbound frames back to logical identity.
// It holds no connection state; the client replays it on every bootstrap.
type registry struct {
	mtx sync.Mutex

	quoteOrder *set.LinkedHashSetString // full names in subscribe order
	quoteFull  map[string]string        // bare symbol -> full name

	series      map[seriesKey]*seriesSub
	seriesByTag map[string]*seriesSub

	studies    map[studyKey]*studySub
	studyByTag map[string]*studySub

	tagSeq   int
	studySeq int
}

func newRegistry() *registry {
	return &registry{
		quoteOrder:  set.NewLinkedHashSetString(),
		quoteFull:   make(map[string]string),
		series:      make(map[seriesKey]*seriesSub),
		seriesByTag: make(map[string]*seriesSub),
		studies:     make(map[studyKey]*studySub),
		studyByTag:  make(map[string]*studySub),
	}
}

// addQuote records a quote subscription. The bool reports whether the symbol
// is new; re-subscribing is a no-op that preserves existing state.
func (r *registry) addQuote(bare, full string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.quoteFull[bare]; ok {
		return false
	}
	r.quoteFull[bare] = full
	r.quoteOrder.Add(full)
	return true
}

func (r *registry) removeQuote(bare string) (string, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	full, ok := r.quoteFull[bare]
	if !ok {
		return "", false
	}
	delete(r.quoteFull, bare)
	r.quoteOrder.Remove(full)
	return full, true
}

func (r *registry) hasQuote(bare string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.quoteFull[bare]
	return ok
}

// quoteList returns the subscribed full names in subscribe order.
func (r *registry) quoteList() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	out := make([]string, 0, r.quoteOrder.Length())
	for full := range r.quoteOrder.Iter() {
		out = append(out, full)
	}
	return out
}

// addSeries allocates wire tags for a new candle subscription. The bool
// reports whether the series is new.
func (r *registry) addSeries(key seriesKey, fullName string) (*seriesSub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if sub, ok := r.series[key]; ok {
		return sub, false
	}
	r.tagSeq++
	sub := &seriesSub{
		key:      key,
		fullName: fullName,
		tag:      fmt.Sprintf("ser_%d", r.tagSeq),
		alias:    fmt.Sprintf("sym_%d", r.tagSeq),
		seq:      r.tagSeq,
	}
	r.series[key] = sub
	r.seriesByTag[sub.tag] = sub
	return sub, true
}

func (r *registry) removeSeries(key seriesKey) (*seriesSub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	sub, ok := r.series[key]
	if !ok {
		return nil, false
	}
	delete(r.series, key)
	delete(r.seriesByTag, sub.tag)
	return sub, true
}

func (r *registry) hasSeries(key seriesKey) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.series[key]
	return ok
}

func (r *registry) seriesForTag(tag string) (*seriesSub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	sub, ok := r.seriesByTag[tag]
	return sub, ok
}

// seriesList returns live series in creation order.
func (r *registry) seriesList() []*seriesSub {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	out := make([]*seriesSub, 0, len(r.series))
	for _, sub := range r.series {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// addStudy records a study. When the same display name already exists on the
// (symbol, interval) the existing record is returned and the bool is false;
// nothing is re-sent for duplicates.
func (r *registry) addStudy(key studyKey, indicator indicatorRef, descriptor types.Descriptor, inputs map[string]interface{}) (*studySub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if sub, ok := r.studies[key]; ok {
		return sub, false
	}
	r.studySeq++
	sub := &studySub{
		key:        key,
		tag:        fmt.Sprintf("st_%d", r.studySeq),
		indicator:  indicator,
		descriptor: descriptor,
		inputs:     inputs,
		seq:        r.studySeq,
	}
	r.studies[key] = sub
	r.studyByTag[sub.tag] = sub
	return sub, true
}

func (r *registry) removeStudy(key studyKey) (*studySub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	sub, ok := r.studies[key]
	if !ok {
		return nil, false
	}
	delete(r.studies, key)
	delete(r.studyByTag, sub.tag)
	return sub, true
}

func (r *registry) studyForTag(tag string) (*studySub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	sub, ok := r.studyByTag[tag]
	return sub, ok
}

func (r *registry) hasStudy(key studyKey) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.studies[key]
	return ok
}

func (r *registry) studyFor(key studyKey) (*studySub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	sub, ok := r.studies[key]
	return sub, ok
}

// setStudyReady flips the ready flag of the study owning tag.
func (r *registry) setStudyReady(tag string, ready bool) (*studySub, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	sub, ok := r.studyByTag[tag]
	if !ok {
		return nil, false
	}
	sub.ready = ready
	return sub, true
}

// studyList returns live studies in creation order.
func (r *registry) studyList() []*studySub {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	out := make([]*studySub, 0, len(r.studies))
	for _, sub := range r.studies {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// studiesForSeries returns the studies attached to one candle stream, used
// to cascade removal when the stream is unsubscribed.
func (r *registry) studiesForSeries(key seriesKey) []*studySub {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var out []*studySub
	for _, sub := range r.studies {
		if sub.key.series() == key {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
