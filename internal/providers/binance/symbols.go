package binance

import "strings"

// knownQuotes is ordered so longer suffixes win ("ETHBUSD" is ETH/BUSD, not ETHB/USD).
var knownQuotes = []string{"USDT", "BUSD", "USDC", "USD", "BTC", "ETH", "BNB", "EUR", "GBP"}

// DefaultQuote is assumed when a symbol carries no recognizable quote asset.
const DefaultQuote = "USDT"

// SplitSymbol resolves a user-supplied crypto symbol into base and quote
// assets. Accepted forms include "BTC/USDT", "btcusdt", "BTC/USDT:USDT" and a
// bare "BTC".
func SplitSymbol(symbol string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	if b, q, ok := strings.Cut(s, "/"); ok {
		if q == "" {
			q = DefaultQuote
		}
		return b, q
	}

	for _, q := range knownQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return s, DefaultQuote
}

// NormalizeSymbol returns the exchange symbol, e.g. "btc/usdt" -> "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	base, quote := SplitSymbol(symbol)
	return base + quote
}
