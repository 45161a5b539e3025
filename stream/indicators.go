package stream

import (
	"fmt"
	"strings"

	"github.com/marketflow/tvstream/types"
)

// indicatorRef pairs the wire id of an indicator with the display name
// studies are keyed by.
type indicatorRef struct {
	ID      string
	Display string
}

// indicatorShortNames maps the supported short names (and their aliases) to
// wire ids. Names not in the table pass through resolveIndicator verbatim
// when they already carry a namespace, or get the standard prefix otherwise.
var indicatorShortNames = map[string]indicatorRef{
	"RSI":        {"STD;RSI", "RSI"},
	"MACD":       {"STD;MACD", "MACD"},
	"BB":         {"STD;BB", "BB"},
	"BOLLINGER":  {"STD;BB", "BB"},
	"EMA":        {"STD;EMA", "EMA"},
	"SMA":        {"STD;SMA", "SMA"},
	"STOCHASTIC": {"STD;Stochastic", "STOCHASTIC"},
	"STOCH":      {"STD;Stochastic", "STOCHASTIC"},
	"ATR":        {"STD;ATR", "ATR"},
	"ADX":        {"STD;ADX", "ADX"},
	"OBV":        {"STD;OBV", "OBV"},
	"VWAP":       {"STD;VWAP", "VWAP"},
	"ICHIMOKU":   {"STD;Ichimoku%Cloud", "ICHIMOKU"},
	"SUPERTREND": {"STD;Supertrend", "SUPERTREND"},
	"PSAR":       {"STD;Parabolic%SAR", "PSAR"},
	"CCI":        {"STD;CCI", "CCI"},
	"MFI":        {"STD;MFI", "MFI"},
	"ROC":        {"STD;ROC", "ROC"},
	"WILLIAMS":   {"STD;Williams%25R", "WILLIAMS"},
	"CMF":        {"STD;CMF", "CMF"},
	"VOLUME":     {"STD;Volume", "VOLUME"},
}

const standardIndicatorPrefix = "STD;"

// customIndicatorPrefixes name the namespaces that require a session cookie.
var customIndicatorPrefixes = []string{"USER;", "PUB;"}

// normalizeIndicator maps an indicator request onto its display name and
// wire id without touching credentials; lookups and removals use it directly.
func normalizeIndicator(name string) (indicatorRef, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return indicatorRef{}, fmt.Errorf("%w: empty indicator name", types.ErrInvalidArgument)
	}

	if strings.Contains(trimmed, ";") {
		suffix := trimmed[strings.LastIndex(trimmed, ";")+1:]
		if suffix == "" {
			return indicatorRef{}, fmt.Errorf("%w: indicator id %q has an empty name", types.ErrInvalidArgument, trimmed)
		}
		return indicatorRef{ID: trimmed, Display: strings.ToUpper(suffix)}, nil
	}

	upper := strings.ToUpper(trimmed)
	if known, ok := indicatorShortNames[upper]; ok {
		return known, nil
	}
	return indicatorRef{ID: standardIndicatorPrefix + upper, Display: upper}, nil
}

// resolveIndicator is normalizeIndicator plus the auth gate: custom-namespace
// ids are only usable with a session cookie.
func resolveIndicator(name string, creds types.Credentials) (indicatorRef, error) {
	ref, err := normalizeIndicator(name)
	if err != nil {
		return indicatorRef{}, err
	}

	for _, prefix := range customIndicatorPrefixes {
		if strings.HasPrefix(ref.ID, prefix) && !creds.HasCookie() {
			return indicatorRef{}, fmt.Errorf("%w: indicator %q needs a session cookie", types.ErrAuthRequired, ref.ID)
		}
	}
	return ref, nil
}
