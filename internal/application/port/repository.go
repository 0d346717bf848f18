package port

import (
	"context"
	"time"

	"fundarb/internal/domain/model"
)

// MarketStore 行情持久化：(symbol, timestamp) 唯一，只插入不更新
type MarketStore interface {
	// LatestTimestamp returns the newest stored timestamp; ok is false when the series is empty.
	// Funding snapshots are not settlements and are ignored.
	LatestTimestamp(ctx context.Context, kind model.SeriesKind, symbol string) (ts time.Time, ok bool, err error)
	Exists(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (bool, error)

	// InsertCandles inserts absent candles in one transaction and returns how many were written.
	InsertCandles(ctx context.Context, kind model.SeriesKind, candles []model.Candle) (int, error)
	InsertFundingEvents(ctx context.Context, events []model.FundingEvent) (int, error)

	// CandleAt returns nil, nil when no candle is stored at ts.
	CandleAt(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (*model.Candle, error)
	// RecentFundingEvents newest first.
	RecentFundingEvents(ctx context.Context, symbol string, limit int) ([]model.FundingEvent, error)
	SeriesStats(ctx context.Context, kind model.SeriesKind, symbol string) (model.SeriesStats, error)

	Close() error
}
