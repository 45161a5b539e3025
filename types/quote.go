package types

import (
	"encoding/json"
	"math"
	"time"
)

// Quote defines the latest snapshot for one instrument in the quote session.
// Numeric fields start as NaN so "never delivered" is distinguishable from
// zero; partial server updates mutate the record in place.
type Quote struct {
	Symbol      string // bare symbol, e.g. "THYAO"
	FullName    string // exchange-qualified name, e.g. "BIST:THYAO"
	Exchange    string
	Description string
	Type        string
	Currency    string

	Last          float64
	Change        float64
	ChangePercent float64
	Bid           float64
	Ask           float64
	BidSize       float64
	AskSize       float64
	Volume        float64
	Open          float64
	High          float64
	Low           float64
	PrevClose     float64

	MarketCap        float64
	PriceEarnings    float64
	EarningsPerShare float64
	DividendsYield   float64
	Beta             float64
	High52Week       float64
	Low52Week        float64

	RegularMarketPrice         float64
	RegularMarketChange        float64
	RegularMarketChangePercent float64
	PreMarketPrice             float64
	PreMarketChange            float64
	AfterHoursPrice            float64
	AfterHoursChange           float64

	PriceScale float64
	MinMove    float64
	MinMove2   float64
	Fractional bool

	CurrentSession string
	Status         string
	Timezone       string
	OriginalName   string
	ShortName      string
	ValueUnitID    string

	LastTime  int64     // server timestamp of the last trade
	OpenTime  int64     // session open, unix seconds
	CloseTime int64     // session close, unix seconds
	UpdatedAt time.Time // wall clock of the last local mutation
}

// NewQuote returns a quote for symbol with every numeric field set to NaN.
func NewQuote(symbol string) *Quote {
	q := &Quote{Symbol: symbol}
	for _, f := range q.numericFields() {
		*f.ptr = math.NaN()
	}
	return q
}

type namedField struct {
	name string
	ptr  *float64
}

func (q *Quote) numericFields() []namedField {
	return []namedField{
		{"last", &q.Last},
		{"change", &q.Change},
		{"change_percent", &q.ChangePercent},
		{"bid", &q.Bid},
		{"ask", &q.Ask},
		{"bid_size", &q.BidSize},
		{"ask_size", &q.AskSize},
		{"volume", &q.Volume},
		{"open", &q.Open},
		{"high", &q.High},
		{"low", &q.Low},
		{"prev_close", &q.PrevClose},
		{"market_cap", &q.MarketCap},
		{"price_earnings", &q.PriceEarnings},
		{"earnings_per_share", &q.EarningsPerShare},
		{"dividends_yield", &q.DividendsYield},
		{"beta", &q.Beta},
		{"high_52_week", &q.High52Week},
		{"low_52_week", &q.Low52Week},
		{"regular_market_price", &q.RegularMarketPrice},
		{"regular_market_change", &q.RegularMarketChange},
		{"regular_market_change_percent", &q.RegularMarketChangePercent},
		{"pre_market_price", &q.PreMarketPrice},
		{"pre_market_change", &q.PreMarketChange},
		{"after_hours_price", &q.AfterHoursPrice},
		{"after_hours_change", &q.AfterHoursChange},
		{"price_scale", &q.PriceScale},
		{"min_move", &q.MinMove},
		{"min_move_2", &q.MinMove2},
	}
}

// HasLast reports whether a last price has been delivered.
func (q *Quote) HasLast() bool {
	return !math.IsNaN(q.Last)
}

// ConditionValues flattens the quote into the field map the condition engine
// evaluates against. NaN fields are omitted so a missing value stays missing.
func (q *Quote) ConditionValues() map[string]float64 {
	vals := make(map[string]float64)
	for _, f := range q.numericFields() {
		if !math.IsNaN(*f.ptr) {
			vals[f.name] = *f.ptr
		}
	}
	return vals
}

// MarshalJSON emits only the fields that have been delivered; NaN numerics
// are dropped rather than breaking the encoder.
func (q *Quote) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"symbol": q.Symbol,
	}
	for _, f := range q.numericFields() {
		if !math.IsNaN(*f.ptr) {
			out[f.name] = *f.ptr
		}
	}
	for name, s := range map[string]string{
		"full_name":       q.FullName,
		"exchange":        q.Exchange,
		"description":     q.Description,
		"type":            q.Type,
		"currency":        q.Currency,
		"current_session": q.CurrentSession,
		"status":          q.Status,
		"timezone":        q.Timezone,
		"original_name":   q.OriginalName,
		"short_name":      q.ShortName,
		"value_unit_id":   q.ValueUnitID,
	} {
		if s != "" {
			out[name] = s
		}
	}
	if q.LastTime != 0 {
		out["last_time"] = q.LastTime
	}
	if !q.UpdatedAt.IsZero() {
		out["updated_at"] = q.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}
