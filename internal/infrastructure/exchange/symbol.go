package exchange

import (
	"strings"
)

// SymbolConverter 逻辑交易对 <-> 交易所符号
type SymbolConverter interface {
	// PairToSymbol BTC/USDT -> BTCUSDT
	PairToSymbol(pair string) string
	// SymbolToPair BTCUSDT -> BTC/USDT
	SymbolToPair(symbol string) string
	// QuoteAsset 计价币种，例: USDT
	QuoteAsset() string
}

// CommonSymbolConverter concatenated BASEQUOTE symbols (Bybit spot and linear).
type CommonSymbolConverter struct {
	quote string
}

func NewCommonSymbolConverter(quote string) *CommonSymbolConverter {
	return &CommonSymbolConverter{quote: strings.ToUpper(strings.TrimSpace(quote))}
}

func (c *CommonSymbolConverter) QuoteAsset() string {
	return c.quote
}

// PairToSymbol drops the separator and any settlement suffix:
// BTC/USDT -> BTCUSDT, BTC/USDT:USDT -> BTCUSDT, BTC -> BTCUSDT
func (c *CommonSymbolConverter) PairToSymbol(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if p == "" {
		return ""
	}
	if i := strings.Index(p, ":"); i >= 0 {
		p = p[:i]
	}
	if !strings.Contains(p, "/") && !strings.HasSuffix(p, c.quote) {
		return p + c.quote
	}
	return strings.ReplaceAll(p, "/", "")
}

// SymbolToPair BTCUSDT -> BTC/USDT; symbols without the quote suffix are returned unchanged.
func (c *CommonSymbolConverter) SymbolToPair(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if c.quote == "" || !strings.HasSuffix(sym, c.quote) || len(sym) == len(c.quote) {
		return sym
	}
	return strings.TrimSuffix(sym, c.quote) + "/" + c.quote
}
