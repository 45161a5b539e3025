package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/tvstream/types"
)

const searchBody = `[
  {"symbol": "<em>THY</em>AO", "description": "<em>TURK HAVA YOLLARI</em>", "exchange": "BIST", "type": "stock", "currency_code": "TRY"},
  {"symbol": "THYAO.E", "description": "TURK HAVA YOLLARI AO", "exchange": "BIST", "type": "stock", "currency_code": "TRY"},
  {"symbol": "", "description": "ghost row", "exchange": "BIST", "type": "stock", "currency_code": "TRY"}
]`

func TestSearchRequiresQuery(t *testing.T) {
	c := New(zerolog.Nop(), "http://localhost:0")

	for name, query := range map[string]string{"empty": "", "whitespace": "   "} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Search(context.Background(), query, "")
			require.Error(t, err)
			require.True(t, errors.Is(err, types.ErrEmptyQuery))
			require.True(t, errors.Is(err, types.ErrInvalidArgument))
		})
	}
}

func TestSearchParsesRows(t *testing.T) {
	var (
		gotText     string
		gotExchange string
		gotOrigin   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotText = r.URL.Query().Get("text")
		gotExchange = r.URL.Query().Get("exchange")
		gotOrigin = r.Header.Get("Origin")
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), srv.URL)
	rows, err := c.Search(context.Background(), "thy", "bist")
	require.NoError(t, err)

	require.Equal(t, "thy", gotText)
	require.Equal(t, "BIST", gotExchange, "exchange filter is upper-cased")
	require.Equal(t, defaultOrigin, gotOrigin)

	require.Len(t, rows, 2, "rows without a symbol are dropped")
	require.Equal(t, "THYAO", rows[0].Symbol, "highlight tags are stripped")
	require.Equal(t, "TURK HAVA YOLLARI", rows[0].Description)
	require.Equal(t, "BIST", rows[0].Exchange)
	require.Equal(t, "stock", rows[0].Type)
	require.Equal(t, "TRY", rows[0].Currency)
	require.Equal(t, "THYAO.E", rows[1].Symbol)
}

func TestSearchCachesResponses(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), srv.URL)
	ctx := context.Background()

	first, err := c.Search(ctx, "thy", "BIST")
	require.NoError(t, err)
	second, err := c.Search(ctx, "thy", "BIST")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&requests), "second lookup is served from cache")

	_, err = c.Search(ctx, "thy", "NASDAQ")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&requests), "a different exchange is a different key")
}

func TestSearchBreakerOpensAfterFailures(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(zerolog.Nop(), srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Search(ctx, "thy", "")
		require.Error(t, err)
		require.True(t, errors.Is(err, types.ErrFetchFailed))
	}
	require.EqualValues(t, 3, atomic.LoadInt32(&requests))

	_, err := c.Search(ctx, "thy", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, types.ErrFetchFailed))
	require.EqualValues(t, 3, atomic.LoadInt32(&requests), "open breaker fails fast without a request")
}

func TestSearchUpstreamErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c := New(zerolog.Nop(), srv.URL)
		_, err := c.Search(context.Background(), "thy", "")
		require.True(t, errors.Is(err, types.ErrFetchFailed))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"not": "an array"}`))
		}))
		defer srv.Close()

		c := New(zerolog.Nop(), srv.URL)
		_, err := c.Search(context.Background(), "thy", "")
		require.True(t, errors.Is(err, types.ErrFetchFailed))
	})
}
