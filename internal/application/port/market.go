package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupported 交易所不支持该查询（例如历史资金费率）
	ErrUnsupported = errors.New("operation not supported by exchange")
	// ErrNoData 交易所返回空数据
	ErrNoData = errors.New("no data returned")
)

// Market 市场类别
type Market string

const (
	MarketSpot   Market = "spot"
	MarketLinear Market = "linear" // USDT perpetual
)

// RawCandle exchange candle as (openTime, o, h, l, c, v).
type RawCandle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// FundingRecord 历史资金费率记录
type FundingRecord struct {
	Timestamp     time.Time
	FundingRate   float64
	PredictedRate *float64
	MarkPrice     *float64
	IndexPrice    *float64
}

// FundingTimeKind tags how the exchange reported the next funding time.
type FundingTimeKind int

const (
	FundingTimeAbsent FundingTimeKind = iota
	FundingTimeInstant
	FundingTimeText
)

// FundingTime 下次结算时间：可能是时间戳、字符串，也可能缺失
type FundingTime struct {
	Kind    FundingTimeKind
	Instant time.Time
	Text    string
}

func FundingTimeAt(t time.Time) FundingTime {
	if t.IsZero() {
		return FundingTime{}
	}
	return FundingTime{Kind: FundingTimeInstant, Instant: t}
}

func FundingTimeFromText(s string) FundingTime {
	if s == "" {
		return FundingTime{}
	}
	return FundingTime{Kind: FundingTimeText, Text: s}
}

// FundingSnapshot 当前资金费率快照
type FundingSnapshot struct {
	Symbol        string
	FundingRate   float64
	Timestamp     time.Time // observation time
	NextFunding   FundingTime
	PredictedRate *float64
	MarkPrice     *float64
	IndexPrice    *float64
}

// Ticker 最新行情
type Ticker struct {
	Symbol      string
	Last        float64
	QuoteVolume float64 // 24h turnover in quote currency
	MarkPrice   *float64
	IndexPrice  *float64
	Timestamp   time.Time
}

// PriceLevel [price, size]
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook shallow book, best level first on both sides.
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Best returns the top of book; ok is false when either side is empty.
func (b OrderBook) Best() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// Limits exchange-imposed maximum page sizes.
type Limits struct {
	MaxCandles         int
	MaxFundingHistory  int
	// MinFundingInterval shortest settlement interval the exchange lists. When set, a funding page
	// of n records covers exactly [since, since+n*MinFundingInterval).
	MinFundingInterval time.Duration
}

// MarketData 行情能力；所有调用都可能瞬时失败，调用方负责重试/跳过
type MarketData interface {
	FetchCandles(ctx context.Context, market Market, symbol, interval string, since time.Time, limit int) ([]RawCandle, error)
	FetchFundingHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]FundingRecord, error)
	FetchFundingRate(ctx context.Context, symbol string) (*FundingSnapshot, error)
	FetchTicker(ctx context.Context, market Market, symbol string) (*Ticker, error)
	FetchOrderBook(ctx context.Context, market Market, symbol string, depth int) (*OrderBook, error)
	Limits() Limits
}
