package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/types"
)

func TestRegistryQuotes(t *testing.T) {
	r := newRegistry()

	require.True(t, r.addQuote("THYAO", "BIST:THYAO"))
	require.True(t, r.addQuote("GARAN", "BIST:GARAN"))
	require.False(t, r.addQuote("THYAO", "BIST:THYAO"), "resubscribing is a no-op")

	require.True(t, r.hasQuote("THYAO"))
	require.Equal(t, []string{"BIST:THYAO", "BIST:GARAN"}, r.quoteList(), "subscribe order is preserved")

	full, ok := r.removeQuote("THYAO")
	require.True(t, ok)
	require.Equal(t, "BIST:THYAO", full)
	require.False(t, r.hasQuote("THYAO"))

	_, ok = r.removeQuote("THYAO")
	require.False(t, ok)

	require.Equal(t, []string{"BIST:GARAN"}, r.quoteList())
}

func TestRegistrySeries(t *testing.T) {
	r := newRegistry()
	key := seriesKey{Symbol: "THYAO", Interval: types.Interval1m}

	sub, isNew := r.addSeries(key, "BIST:THYAO")
	require.True(t, isNew)
	require.Equal(t, "ser_1", sub.tag)
	require.Equal(t, "sym_1", sub.alias)

	again, isNew := r.addSeries(key, "BIST:THYAO")
	require.False(t, isNew)
	require.Same(t, sub, again, "duplicate subscribe returns the existing record")

	other, isNew := r.addSeries(seriesKey{Symbol: "GARAN", Interval: types.Interval1h}, "BIST:GARAN")
	require.True(t, isNew)
	require.Equal(t, "ser_2", other.tag)

	byTag, ok := r.seriesForTag("ser_1")
	require.True(t, ok)
	require.Same(t, sub, byTag)

	list := r.seriesList()
	require.Len(t, list, 2)
	require.Equal(t, "ser_1", list[0].tag)
	require.Equal(t, "ser_2", list[1].tag)

	removed, ok := r.removeSeries(key)
	require.True(t, ok)
	require.Same(t, sub, removed)
	require.False(t, r.hasSeries(key))
	_, ok = r.seriesForTag("ser_1")
	require.False(t, ok, "tag mapping dies with the series")
}

func TestRegistryStudies(t *testing.T) {
	r := newRegistry()
	series := seriesKey{Symbol: "THYAO", Interval: types.Interval1m}
	key := studyKey{Symbol: "THYAO", Interval: types.Interval1m, Name: "RSI"}
	ref := indicatorRef{ID: "STD;RSI", Display: "RSI"}
	desc := types.Descriptor{ID: "STD;RSI", Version: "last"}

	sub, isNew := r.addStudy(key, ref, desc, map[string]interface{}{"length": 9})
	require.True(t, isNew)
	require.Equal(t, "st_1", sub.tag)

	dup, isNew := r.addStudy(key, ref, desc, nil)
	require.False(t, isNew)
	require.Same(t, sub, dup, "same display name on the same stream returns the existing study")

	macdKey := studyKey{Symbol: "THYAO", Interval: types.Interval1m, Name: "MACD"}
	macd, isNew := r.addStudy(macdKey, indicatorRef{ID: "STD;MACD", Display: "MACD"}, desc, nil)
	require.True(t, isNew)
	require.Equal(t, "st_2", macd.tag)

	got, ok := r.studyFor(key)
	require.True(t, ok)
	require.Same(t, sub, got)

	byTag, ok := r.studyForTag("st_2")
	require.True(t, ok)
	require.Same(t, macd, byTag)

	attached := r.studiesForSeries(series)
	require.Len(t, attached, 2)
	require.Equal(t, "st_1", attached[0].tag)
	require.Equal(t, "st_2", attached[1].tag)

	flipped, ok := r.setStudyReady("st_1", true)
	require.True(t, ok)
	require.True(t, flipped.ready)
	_, ok = r.setStudyReady("st_99", true)
	require.False(t, ok)

	removed, ok := r.removeStudy(key)
	require.True(t, ok)
	require.Same(t, sub, removed)
	require.False(t, r.hasStudy(key))
	_, ok = r.studyForTag("st_1")
	require.False(t, ok)

	require.Len(t, r.studiesForSeries(series), 1)
}
