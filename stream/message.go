package stream

import (
	"encoding/json"
	"fmt"

	"github.com/marketflow/tvstream/types"
)

// Methods emitted by the client.
const (
	methodSetAuthToken       = "set_auth_token"
	methodQuoteCreateSession = "quote_create_session"
	methodQuoteSetFields     = "quote_set_fields"
	methodQuoteAddSymbols    = "quote_add_symbols"
	methodQuoteRemoveSymbols = "quote_remove_symbols"
	methodChartCreateSession = "chart_create_session"
	methodResolveSymbol      = "resolve_symbol"
	methodCreateSeries       = "create_series"
	methodRemoveSeries       = "remove_series"
	methodCreateStudy        = "create_study"
	methodRemoveStudy        = "remove_study"
)

// Methods accepted from the server.
const (
	methodQuoteData       = "qsd"
	methodQuoteCompleted  = "quote_completed"
	methodSymbolResolved  = "symbol_resolved"
	methodTimescaleUpdate = "timescale_update"
	methodDataUpdate      = "du"
	methodSeriesCompleted = "series_completed"
	methodSeriesError     = "series_error"
	methodSymbolError     = "symbol_error"
	methodCriticalError   = "critical_error"
	methodStudyLoading    = "study_loading"
	methodStudyCompleted  = "study_completed"
	methodStudyError      = "study_error"
)

type (
	// Message is the JSON payload of one outbound data frame. ex.:
	// {"m":"quote_add_symbols","p":["qs_x7k2m9pq4t1n","BIST:THYAO"]}
	Message struct {
		Method string        `json:"m"`
		Params []interface{} `json:"p"`
	}

	// serverMessage defers param decoding until the method is known. ex.:
	// {"m":"qsd","p":["qs_x7k2m9pq4t1n",{"n":"BIST:THYAO","s":"ok","v":{...}}]}
	serverMessage struct {
		Method string            `json:"m"`
		Params []json.RawMessage `json:"p"`
	}

	// quoteData is the second qsd param. ex.:
	// {"n":"BIST:THYAO","s":"ok","v":{"lp":299.0,"chp":1.5}}
	quoteData struct {
		Name   string      `json:"n"`  // ex.: BIST:THYAO
		Status string      `json:"s"`  // ex.: ok
		Values quoteValues `json:"v"`
	}

	// quoteValues carries whichever of the session fields this update
	// includes; absent fields stay nil and leave the record untouched.
	quoteValues struct {
		LastPrice        *float64 `json:"lp"`
		Change           *float64 `json:"ch"`
		ChangePercent    *float64 `json:"chp"`
		Bid              *float64 `json:"bid"`
		Ask              *float64 `json:"ask"`
		BidSize          *float64 `json:"bid_size"`
		AskSize          *float64 `json:"ask_size"`
		Volume           *float64 `json:"volume"`
		OpenPrice        *float64 `json:"open_price"`
		HighPrice        *float64 `json:"high_price"`
		LowPrice         *float64 `json:"low_price"`
		PrevClosePrice   *float64 `json:"prev_close_price"`
		MarketCap        *float64 `json:"market_cap_basic"`
		PriceEarnings    *float64 `json:"price_earnings_ttm"`
		EarningsPerShare *float64 `json:"earnings_per_share_basic_ttm"`
		DividendsYield   *float64 `json:"dividends_yield"`
		Beta             *float64 `json:"beta_1_year"`
		High52Week       *float64 `json:"high_52_week"`
		Low52Week        *float64 `json:"low_52_week"`

		RegularMarketPrice         *float64 `json:"regular_market_price"`
		RegularMarketChange        *float64 `json:"regular_market_change"`
		RegularMarketChangePercent *float64 `json:"regular_market_change_percent"`
		PreMarketPrice             *float64 `json:"pre_market_price"`
		PreMarketChange            *float64 `json:"pre_market_change"`
		AfterHoursPrice            *float64 `json:"after_hours_price"`
		AfterHoursChange           *float64 `json:"after_hours_change"`

		PriceScale *float64 `json:"pricescale"`
		MinMove    *float64 `json:"minmov"`
		MinMove2   *float64 `json:"minmove2"`
		Fractional *bool    `json:"fractional"`

		Description    *string `json:"description"`
		Type           *string `json:"type"`
		Exchange       *string `json:"exchange"`
		Currency       *string `json:"currency_code"`
		CurrentSession *string `json:"current_session"`
		Status         *string `json:"status"`
		OriginalName   *string `json:"original_name"`
		ShortName      *string `json:"short_name"`
		Timezone       *string `json:"timezone"`
		ValueUnitID    *string `json:"value_unit_id"`

		LastTime  *int64 `json:"lp_time"`
		OpenTime  *int64 `json:"open_time"`
		CloseTime *int64 `json:"close_time"`
	}

	// seriesBlock is one tagged entry of a timescale_update/du payload.
	// Candle entries arrive under "s", study entries under "st". ex.:
	// {"s":[{"i":0,"v":[1700000000,1,2,1,2,10]}]}
	seriesBlock struct {
		Series []dataPoint `json:"s"`
		Study  []dataPoint `json:"st"`
	}

	// dataPoint is one bar or study sample; Values starts with the bar
	// timestamp. ex.: {"i":1,"v":[1700000060,2,3,2,3,12]}
	dataPoint struct {
		Index  int       `json:"i"`
		Values []float64 `json:"v"`
	}
)

func newMessage(method string, params ...interface{}) Message {
	return Message{Method: method, Params: params}
}

// points returns whichever sample list the block carries.
func (b seriesBlock) points() []dataPoint {
	if len(b.Series) > 0 {
		return b.Series
	}
	return b.Study
}

// toCandle converts a bar sample [ts, o, h, l, c, v] into a candle.
func (p dataPoint) toCandle() (types.Candle, error) {
	if len(p.Values) < 6 {
		return types.Candle{}, fmt.Errorf("short bar vector: %d values", len(p.Values))
	}
	return types.Candle{
		Timestamp: int64(p.Values[0]),
		Open:      p.Values[1],
		High:      p.Values[2],
		Low:       p.Values[3],
		Close:     p.Values[4],
		Volume:    p.Values[5],
	}, nil
}

// applyTo folds the update into the quote record in place.
func (v quoteValues) applyTo(q *types.Quote) {
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setS := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setF(&q.Last, v.LastPrice)
	setF(&q.Change, v.Change)
	setF(&q.ChangePercent, v.ChangePercent)
	setF(&q.Bid, v.Bid)
	setF(&q.Ask, v.Ask)
	setF(&q.BidSize, v.BidSize)
	setF(&q.AskSize, v.AskSize)
	setF(&q.Volume, v.Volume)
	setF(&q.Open, v.OpenPrice)
	setF(&q.High, v.HighPrice)
	setF(&q.Low, v.LowPrice)
	setF(&q.PrevClose, v.PrevClosePrice)
	setF(&q.MarketCap, v.MarketCap)
	setF(&q.PriceEarnings, v.PriceEarnings)
	setF(&q.EarningsPerShare, v.EarningsPerShare)
	setF(&q.DividendsYield, v.DividendsYield)
	setF(&q.Beta, v.Beta)
	setF(&q.High52Week, v.High52Week)
	setF(&q.Low52Week, v.Low52Week)
	setF(&q.RegularMarketPrice, v.RegularMarketPrice)
	setF(&q.RegularMarketChange, v.RegularMarketChange)
	setF(&q.RegularMarketChangePercent, v.RegularMarketChangePercent)
	setF(&q.PreMarketPrice, v.PreMarketPrice)
	setF(&q.PreMarketChange, v.PreMarketChange)
	setF(&q.AfterHoursPrice, v.AfterHoursPrice)
	setF(&q.AfterHoursChange, v.AfterHoursChange)
	setF(&q.PriceScale, v.PriceScale)
	setF(&q.MinMove, v.MinMove)
	setF(&q.MinMove2, v.MinMove2)

	setS(&q.Description, v.Description)
	setS(&q.Type, v.Type)
	setS(&q.Exchange, v.Exchange)
	setS(&q.Currency, v.Currency)
	setS(&q.CurrentSession, v.CurrentSession)
	setS(&q.Status, v.Status)
	setS(&q.OriginalName, v.OriginalName)
	setS(&q.ShortName, v.ShortName)
	setS(&q.Timezone, v.Timezone)
	setS(&q.ValueUnitID, v.ValueUnitID)

	if v.Fractional != nil {
		q.Fractional = *v.Fractional
	}
	if v.LastTime != nil {
		q.LastTime = *v.LastTime
	}
	if v.OpenTime != nil {
		q.OpenTime = *v.OpenTime
	}
	if v.CloseTime != nil {
		q.CloseTime = *v.CloseTime
	}
}

// quoteSessionFields is the full static field list registered with
// quote_set_fields at bootstrap.
var quoteSessionFields = []string{
	"lp", "ch", "chp", "bid", "ask", "bid_size", "ask_size", "volume",
	"open_price", "high_price", "low_price", "prev_close_price",
	"market_cap_basic", "price_earnings_ttm", "earnings_per_share_basic_ttm",
	"dividends_yield", "beta_1_year", "high_52_week", "low_52_week",
	"description", "type", "exchange", "currency_code", "lp_time",
	"current_session", "status", "original_name", "short_name",
	"open_time", "close_time", "timezone",
	"regular_market_price", "regular_market_change", "regular_market_change_percent",
	"pre_market_price", "pre_market_change",
	"after_hours_price", "after_hours_change",
	"pricescale", "minmov", "minmove2", "fractional", "value_unit_id",
}
