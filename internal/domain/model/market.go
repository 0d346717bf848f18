package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRecord 记录不满足存储契约（缺字段 / 价格关系非法）
var ErrInvalidRecord = errors.New("invalid market record")

// SeriesKind 数据序列类型
type SeriesKind string

const (
	KindSpot      SeriesKind = "spot"
	KindPerpetual SeriesKind = "perpetual"
	KindFunding   SeriesKind = "funding"
)

// AllKinds collection order: funding alignment reads the candles stored before it.
var AllKinds = []SeriesKind{KindSpot, KindPerpetual, KindFunding}

func (k SeriesKind) String() string { return string(k) }

func (k SeriesKind) IsCandle() bool { return k == KindSpot || k == KindPerpetual }

// ParseSeriesKind accepts the lower-case kind name.
func ParseSeriesKind(s string) (SeriesKind, error) {
	switch SeriesKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSpot:
		return KindSpot, nil
	case KindPerpetual:
		return KindPerpetual, nil
	case KindFunding:
		return KindFunding, nil
	default:
		return "", fmt.Errorf("unknown series kind %q", s)
	}
}

// Candle 现货/永续 K线（永续额外带 mark/index 价格）
type Candle struct {
	Symbol     string              `json:"symbol"` // logical pair name, e.g. BTC/USDT
	Timestamp  time.Time           `json:"timestamp"`
	Open       decimal.Decimal     `json:"open"`
	High       decimal.Decimal     `json:"high"`
	Low        decimal.Decimal     `json:"low"`
	Close      decimal.Decimal     `json:"close"`
	Volume     decimal.Decimal     `json:"volume"`
	MarkPrice  decimal.NullDecimal `json:"mark_price"`
	IndexPrice decimal.NullDecimal `json:"index_price"`
}

// NewCandle validates and builds a candle. Timestamps are normalised to UTC minutes.
func NewCandle(symbol string, ts time.Time, open, high, low, close, volume decimal.Decimal) (Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Candle{}, fmt.Errorf("%w: empty symbol", ErrInvalidRecord)
	}
	if ts.IsZero() {
		return Candle{}, fmt.Errorf("%w: %s: zero timestamp", ErrInvalidRecord, symbol)
	}
	prices := [4]struct {
		name string
		v    decimal.Decimal
	}{{"open", open}, {"high", high}, {"low", low}, {"close", close}}
	for _, p := range prices {
		if !p.v.IsPositive() {
			return Candle{}, fmt.Errorf("%w: %s@%d: %s=%s not positive", ErrInvalidRecord, symbol, ts.UnixMilli(), p.name, p.v)
		}
	}
	if volume.IsNegative() {
		return Candle{}, fmt.Errorf("%w: %s@%d: negative volume %s", ErrInvalidRecord, symbol, ts.UnixMilli(), volume)
	}
	upper := decimal.Max(open, close)
	lower := decimal.Min(open, close)
	if high.LessThan(upper) || lower.LessThan(low) {
		return Candle{}, fmt.Errorf("%w: %s@%d: ohlc out of order o=%s h=%s l=%s c=%s",
			ErrInvalidRecord, symbol, ts.UnixMilli(), open, high, low, close)
	}
	return Candle{
		Symbol:    symbol,
		Timestamp: ts.UTC().Truncate(time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, nil
}

// FundingEvent 资金费率结算记录
type FundingEvent struct {
	Symbol         string    `json:"symbol"`
	Timestamp      time.Time `json:"timestamp"` // funding instant
	FundingRate    float64   `json:"funding_rate"`
	PredictedRate  *float64  `json:"predicted_rate,omitempty"`
	PerpetualPrice *float64  `json:"perpetual_price,omitempty"`
	SpotPrice      *float64  `json:"spot_price,omitempty"`
	BasisBps       *float64  `json:"basis_bps,omitempty"`
	// Snapshot live ticker reading stored when history was unavailable; not a settlement.
	Snapshot       bool      `json:"snapshot,omitempty"`
}

// NewFundingEvent validates the key fields of a funding event.
func NewFundingEvent(symbol string, ts time.Time, rate float64) (FundingEvent, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return FundingEvent{}, fmt.Errorf("%w: empty symbol", ErrInvalidRecord)
	}
	if ts.IsZero() {
		return FundingEvent{}, fmt.Errorf("%w: %s: zero funding timestamp", ErrInvalidRecord, symbol)
	}
	return FundingEvent{Symbol: symbol, Timestamp: ts.UTC(), FundingRate: rate}, nil
}

// AlignPrices fills spot/perpetual prices and derives basis when both are known.
// Prices already present are kept.
func (e *FundingEvent) AlignPrices(spot, perp *float64) {
	if e.SpotPrice == nil && spot != nil {
		e.SpotPrice = spot
	}
	if e.PerpetualPrice == nil && perp != nil {
		e.PerpetualPrice = perp
	}
	if e.BasisBps == nil && e.SpotPrice != nil && e.PerpetualPrice != nil && *e.SpotPrice > 0 {
		b := (*e.PerpetualPrice - *e.SpotPrice) / *e.SpotPrice * 10000
		e.BasisBps = &b
	}
}

// AnnualRatePct funding rate annualised at three settlements per day.
func (e FundingEvent) AnnualRatePct() float64 {
	return e.FundingRate * FundingPeriodsPerYear * 100
}

// SeriesStats 序列概况（check 命令使用）
type SeriesStats struct {
	Kind   SeriesKind `json:"kind"`
	Symbol string     `json:"symbol"`
	Count  int64      `json:"count"`
	First  time.Time  `json:"first,omitempty"`
	Last   time.Time  `json:"last,omitempty"`
}
