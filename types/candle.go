package types

import "time"

// Candle defines one OHLCV bar of a candle series.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // bar open, unix seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the bar-open timestamp as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}
