package types

import "fmt"

// Interval identifies the bar width of a candle series. The canonical form
// is the lowercase token ("1m" … "1mo"); the wire form is what the chart
// session expects in create_series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
)

// intervalWire maps canonical intervals to their wire encoding.
var intervalWire = map[Interval]string{
	Interval1m:  "1",
	Interval5m:  "5",
	Interval15m: "15",
	Interval30m: "30",
	Interval1h:  "60",
	Interval2h:  "120",
	Interval4h:  "240",
	Interval1d:  "1D",
	Interval1wk: "1W",
	Interval1mo: "1M",
}

// intervalAliases maps accepted input spellings to canonical intervals.
// Case matters on the month/minute boundary: "1m" is a minute, "1M" a month.
var intervalAliases = map[string]Interval{
	"1w": Interval1wk,
	"1M": Interval1mo,
}

// ParseInterval validates an interval token and returns its canonical form.
// Unknown tokens are rejected with ErrInvalidInterval.
func ParseInterval(token string) (Interval, error) {
	if alias, ok := intervalAliases[token]; ok {
		return alias, nil
	}
	iv := Interval(token)
	if _, ok := intervalWire[iv]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, token)
	}
	return iv, nil
}

// Wire returns the encoding sent in create_series.
func (i Interval) Wire() string {
	return intervalWire[i]
}

func (i Interval) String() string {
	return string(i)
}

// SupportedIntervals returns the canonical interval tokens in ascending
// bar-width order.
func SupportedIntervals() []Interval {
	return []Interval{
		Interval1m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval2h, Interval4h,
		Interval1d, Interval1wk, Interval1mo,
	}
}
