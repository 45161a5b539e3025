// Package search queries the symbol-search endpoint and caches responses.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sony/gobreaker"
	"github.com/tidwall/buntdb"

	"github.com/marketflow/tvstream/types"
)

const (
	// DefaultBaseURL serves symbol search.
	DefaultBaseURL = "https://symbol-search.tradingview.com"

	searchPath    = "/symbol_search/"
	defaultOrigin = "https://www.tradingview.com"

	defaultTimeout = 10 * time.Second
	cacheTTL       = 5 * time.Minute
)

// Client resolves free-text queries into tradable symbols. Responses are
// cached for a few minutes and the upstream is guarded by a circuit breaker
// so a flapping endpoint fails fast instead of piling up timeouts.
type Client struct {
	logger  zerolog.Logger
	baseURL string
	origin  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *buntdb.DB
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide search client, created on first use.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = New(zerolog.Nop(), DefaultBaseURL)
	})
	return defaultClient
}

// New creates a search client against baseURL; empty means DefaultBaseURL.
func New(logger zerolog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger = logger.With().Str("module", "search").Logger()

	// in-memory open cannot touch the filesystem; a failure only costs the cache
	cache, err := buntdb.Open(":memory:")
	if err != nil {
		logger.Warn().Err(err).Msg("symbol cache disabled")
		cache = nil
	}

	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		origin:  defaultOrigin,
		client:  &http.Client{Timeout: defaultTimeout},
		breaker: newSearchBreaker(),
		cache:   cache,
	}
}

// newSearchBreaker trips after 3 consecutive failures, or once more than 5%
// of at least 20 requests have failed. Half-open probes resume after a
// minute.
func newSearchBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "symbol-search",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			return counts.Requests >= 20 &&
				float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	})
}

// Search returns the symbols matching query, optionally restricted to one
// exchange. Matches come back exchange-qualified and ready for subscribing.
func (c *Client) Search(ctx context.Context, query, exchange string) ([]types.SymbolInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.ErrEmptyQuery
	}
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	key := query + "|" + exchange
	if rows, ok := c.cached(key); ok {
		return rows, nil
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, query, exchange)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: search %q: %w", types.ErrFetchFailed, query, err)
		}
		return nil, err
	}

	rows := v.([]types.SymbolInfo)
	c.store(key, rows)
	return rows, nil
}

func (c *Client) fetch(ctx context.Context, query, exchange string) ([]types.SymbolInfo, error) {
	params := url.Values{}
	params.Set("text", query)
	if exchange != "" {
		params.Set("exchange", exchange)
	}
	endpoint := c.baseURL + searchPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Origin", c.origin)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", types.ErrFetchFailed, query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search %q: status %d", types.ErrFetchFailed, query, resp.StatusCode)
	}

	var rows []searchRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %w", types.ErrFetchFailed, err)
	}

	matches := lo.FilterMap(rows, func(row searchRow, _ int) (types.SymbolInfo, bool) {
		symbol := stripHighlight(row.Symbol)
		if symbol == "" {
			return types.SymbolInfo{}, false
		}
		return types.SymbolInfo{
			Symbol:      symbol,
			Description: stripHighlight(row.Description),
			Exchange:    row.Exchange,
			Type:        row.Type,
			Currency:    row.Currency,
		}, true
	})

	c.logger.Debug().
		Str("query", query).
		Str("exchange", exchange).
		Int("matches", len(matches)).
		Msg("symbol search")

	return matches, nil
}

// searchRow is one raw response row. The server wraps the matched substring
// in <em> highlight tags. ex.: {"symbol":"<em>THY</em>AO","exchange":"BIST"}
type searchRow struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
	Currency    string `json:"currency_code"`
}

var highlightReplacer = strings.NewReplacer("<em>", "", "</em>", "")

func stripHighlight(s string) string {
	return highlightReplacer.Replace(s)
}

func (c *Client) cached(key string) ([]types.SymbolInfo, bool) {
	if c.cache == nil {
		return nil, false
	}

	var raw string
	err := c.cache.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return nil, false
	}

	var rows []types.SymbolInfo
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *Client) store(key string, rows []types.SymbolInfo) {
	if c.cache == nil {
		return
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	_ = c.cache.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), &buntdb.SetOptions{Expires: true, TTL: cacheTTL})
		return err
	})
}
