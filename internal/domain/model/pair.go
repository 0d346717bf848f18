package model

import (
	"fmt"
	"strings"
	"time"
)

// Pair 交易对：逻辑名称 + 现货/永续交易所符号
type Pair struct {
	Name            string  `json:"name"`      // BTC/USDT
	Spot            string  `json:"spot"`      // BTCUSDT
	Perpetual       string  `json:"perpetual"` // BTCUSDT (linear)
	MinPositionSize float64 `json:"min_position_size,omitempty"`
	TickSize        float64 `json:"tick_size,omitempty"`
}

// ExchangeSymbol returns the raw exchange symbol for a candle kind.
func (p Pair) ExchangeSymbol(kind SeriesKind) string {
	if kind == KindSpot {
		return p.Spot
	}
	return p.Perpetual
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe 1m / 5m / 1h / 1d ...
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.ToLower(strings.TrimSpace(tf))]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}
