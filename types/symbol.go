package types

import "strings"

// SymbolInfo defines one row of a symbol-search response.
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
	Currency    string `json:"currency_code"`
}

// FullSymbol joins an exchange and a bare symbol into the exchange-qualified
// wire form, e.g. ("BIST", "thyao") -> "BIST:THYAO". An empty exchange
// yields the bare symbol.
func FullSymbol(exchange, symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	if exchange == "" {
		return symbol
	}
	return exchange + ":" + symbol
}

// BareSymbol strips the exchange qualifier from a wire symbol name,
// e.g. "BIST:THYAO" -> "THYAO".
func BareSymbol(full string) string {
	if i := strings.LastIndex(full, ":"); i >= 0 {
		return strings.ToUpper(full[i+1:])
	}
	return strings.ToUpper(full)
}
