package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// fundingStep advances the cursor past the last funding event.
const fundingStep = time.Millisecond

// CollectorConfig 历史采集参数
type CollectorConfig struct {
	Interval     string        // candle timeframe, e.g. "1m"
	BatchSize    int           // requested per call, capped by the exchange limit
	BatchDelay   time.Duration // pause between successful batches
	ErrorSkip    time.Duration // window skipped after a failed batch
	ErrorBackoff time.Duration // pause after a failed batch
}

func (c *CollectorConfig) applyDefaults() {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ErrorSkip <= 0 {
		c.ErrorSkip = time.Hour
	}
	if c.ErrorBackoff < 0 {
		c.ErrorBackoff = 0
	}
}

// CollectReport 单个 (pair, kind) 序列的采集结果
type CollectReport struct {
	RunID    string           `json:"run_id"`
	Pair     string           `json:"pair"`
	Kind     model.SeriesKind `json:"kind"`
	Start    time.Time        `json:"start"`
	Inserted int              `json:"inserted"`
	Skipped  int              `json:"skipped"`
	Batches  int              `json:"batches"`
	Errors   int              `json:"errors"`
	Fallback bool             `json:"fallback"` // funding snapshot captured instead of / besides history
}

// Collector backfills spot/perpetual candles and funding events into the store.
// Re-running a window is idempotent: present keys are skipped, never rewritten.
type Collector struct {
	market port.MarketData
	store  port.MarketStore
	pairs  []model.Pair
	cfg    CollectorConfig
	step   time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewCollector(market port.MarketData, store port.MarketStore, pairs []model.Pair, cfg CollectorConfig) (*Collector, error) {
	if market == nil || store == nil {
		return nil, errors.New("collector requires market data and store")
	}
	cfg.applyDefaults()
	step, err := model.ParseTimeframe(cfg.Interval)
	if err != nil {
		return nil, err
	}
	return &Collector{
		market: market,
		store:  store,
		pairs:  pairs,
		cfg:    cfg,
		step:   step,
		now:    time.Now,
		sleep:  Sleep,
	}, nil
}

// Collect runs one backfill pass over [start, end] for every pair and kind.
// Only context cancellation is returned as an error; everything else is logged and counted.
func (c *Collector) Collect(ctx context.Context, start, end time.Time) ([]CollectReport, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, fmt.Errorf("empty collection window %s .. %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	runID := uuid.NewString()
	log.Info().
		Str("run_id", runID).
		Int("pairs", len(c.pairs)).
		Time("start", start).
		Time("end", end).
		Str("interval", c.cfg.Interval).
		Msg("collection started")

	reports := make([]CollectReport, 0, len(c.pairs)*len(model.AllKinds))
	for _, pair := range c.pairs {
		for _, kind := range model.AllKinds {
			if err := ctx.Err(); err != nil {
				return reports, err
			}
			rep, err := c.collectSeries(ctx, pair, kind, start, end)
			rep.RunID = runID
			reports = append(reports, rep)
			if err != nil {
				if IsCancelled(err) {
					return reports, err
				}
				log.Error().Err(err).Str("pair", pair.Name).Str("kind", kind.String()).Msg("series collection aborted")
				continue
			}
			log.Info().
				Str("pair", pair.Name).
				Str("kind", kind.String()).
				Int("inserted", rep.Inserted).
				Int("skipped", rep.Skipped).
				Int("batches", rep.Batches).
				Int("errors", rep.Errors).
				Msg("series collected")
		}
	}
	return reports, nil
}

// RunContinuous reruns Collect over the sliding window [now-lookback, now] driven by loop.
func (c *Collector) RunContinuous(ctx context.Context, loop *Loop, lookback time.Duration) error {
	return loop.Run(ctx, func(ctx context.Context) error {
		end := c.now().UTC()
		_, err := c.Collect(ctx, end.Add(-lookback), end)
		return err
	})
}

func (c *Collector) collectSeries(ctx context.Context, pair model.Pair, kind model.SeriesKind, start, end time.Time) (CollectReport, error) {
	rep := CollectReport{Pair: pair.Name, Kind: kind}

	latest, ok, err := c.store.LatestTimestamp(ctx, kind, pair.Name)
	if err != nil {
		return rep, fmt.Errorf("latest %s timestamp: %w", kind, err)
	}
	step := c.step
	if kind == model.KindFunding {
		step = fundingStep
	}
	// resume strictly after the newest stored record
	cursor := start
	if ok && !latest.Before(cursor) {
		cursor = latest.UTC().Add(step)
	}
	rep.Start = cursor

	limit := c.batchLimit(kind)
	var window time.Duration
	if kind == model.KindFunding {
		window = time.Duration(limit) * c.market.Limits().MinFundingInterval
	}
	total := end.Sub(cursor)
	snapshotTaken := false

	for cursor.Before(end) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		var (
			n    int
			last time.Time
		)
		if kind.IsCandle() {
			n, last, err = c.candleBatch(ctx, pair, kind, cursor, end, limit, &rep)
		} else {
			n, last, err = c.fundingBatch(ctx, pair, cursor, end, limit, &rep)
		}

		if err != nil {
			if IsCancelled(err) {
				return rep, err
			}
			rep.Errors++
			log.Warn().
				Err(err).
				Str("pair", pair.Name).
				Str("kind", kind.String()).
				Time("from", cursor).
				Dur("skip", c.cfg.ErrorSkip).
				Msg("batch failed, skipping ahead")

			if kind == model.KindFunding && !snapshotTaken {
				snapshotTaken = true
				c.captureFundingSnapshot(ctx, pair, &rep)
				if errors.Is(err, port.ErrUnsupported) {
					return rep, nil
				}
			}

			cursor = cursor.Add(c.cfg.ErrorSkip)
			if err := c.sleep(ctx, c.cfg.ErrorBackoff); err != nil {
				return rep, err
			}
			continue
		}

		if window > 0 && n < limit {
			// page window fully read, walk on to the next one
			cursor = cursor.Add(window)
			if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
				return rep, err
			}
			continue
		}
		if n == 0 {
			break
		}
		if total > 0 {
			done := last.Sub(rep.Start)
			log.Debug().
				Str("pair", pair.Name).
				Str("kind", kind.String()).
				Time("last", last).
				Float64("progress_pct", float64(done)/float64(total)*100).
				Msg("batch stored")
		}
		if n < limit {
			break
		}

		next := last.Add(step)
		if !next.After(cursor) {
			// exchange kept returning the same page
			break
		}
		cursor = next
		if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (c *Collector) batchLimit(kind model.SeriesKind) int {
	limits := c.market.Limits()
	hard := limits.MaxCandles
	if kind == model.KindFunding {
		hard = limits.MaxFundingHistory
	}
	if hard > 0 && hard < c.cfg.BatchSize {
		return hard
	}
	return c.cfg.BatchSize
}

// candleBatch returns the raw record count and the newest returned timestamp.
func (c *Collector) candleBatch(ctx context.Context, pair model.Pair, kind model.SeriesKind, cursor, end time.Time, limit int, rep *CollectReport) (int, time.Time, error) {
	market := port.MarketSpot
	if kind == model.KindPerpetual {
		market = port.MarketLinear
	}
	raws, err := c.market.FetchCandles(ctx, market, pair.ExchangeSymbol(kind), c.cfg.Interval, cursor, limit)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("fetch %s candles: %w", kind, err)
	}
	if len(raws) == 0 {
		return 0, time.Time{}, nil
	}

	var mark decimal.NullDecimal
	if kind == model.KindPerpetual {
		mark = c.sampleMarkPrice(ctx, pair)
	}

	var last time.Time
	fresh := make([]model.Candle, 0, len(raws))
	for _, r := range raws {
		if r.OpenTime.After(last) {
			last = r.OpenTime
		}
		if r.OpenTime.After(end) {
			continue
		}
		candle, err := model.NewCandle(pair.Name, r.OpenTime, r.Open, r.High, r.Low, r.Close, r.Volume)
		if err != nil {
			return 0, time.Time{}, err
		}
		exists, err := c.store.Exists(ctx, kind, pair.Name, candle.Timestamp)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("exists check: %w", err)
		}
		if exists {
			rep.Skipped++
			continue
		}
		candle.MarkPrice = mark
		fresh = append(fresh, candle)
	}

	inserted, err := c.store.InsertCandles(ctx, kind, fresh)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert %s candles: %w", kind, err)
	}
	rep.Inserted += inserted
	rep.Batches++
	return len(raws), last.UTC(), nil
}

func (c *Collector) fundingBatch(ctx context.Context, pair model.Pair, cursor, end time.Time, limit int, rep *CollectReport) (int, time.Time, error) {
	records, err := c.market.FetchFundingHistory(ctx, pair.Perpetual, cursor, limit)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("fetch funding history: %w", err)
	}
	if len(records) == 0 {
		return 0, time.Time{}, nil
	}

	var last time.Time
	fresh := make([]model.FundingEvent, 0, len(records))
	for _, r := range records {
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
		if r.Timestamp.After(end) {
			continue
		}
		ev, err := model.NewFundingEvent(pair.Name, r.Timestamp, r.FundingRate)
		if err != nil {
			return 0, time.Time{}, err
		}
		exists, err := c.store.Exists(ctx, model.KindFunding, pair.Name, ev.Timestamp)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("exists check: %w", err)
		}
		if exists {
			rep.Skipped++
			continue
		}
		ev.PredictedRate = r.PredictedRate
		ev.PerpetualPrice = r.MarkPrice
		ev.SpotPrice = r.IndexPrice
		c.alignFunding(ctx, &ev)
		fresh = append(fresh, ev)
	}

	inserted, err := c.store.InsertFundingEvents(ctx, fresh)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert funding events: %w", err)
	}
	rep.Inserted += inserted
	rep.Batches++
	return len(records), last.UTC(), nil
}

// alignFunding fills prices from the stored candle closes at the funding instant. Best effort.
func (c *Collector) alignFunding(ctx context.Context, ev *model.FundingEvent) {
	at := ev.Timestamp.Truncate(time.Minute)
	spot := c.closeAt(ctx, model.KindSpot, ev.Symbol, at)
	perp := c.closeAt(ctx, model.KindPerpetual, ev.Symbol, at)
	ev.AlignPrices(spot, perp)
}

func (c *Collector) closeAt(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) *float64 {
	candle, err := c.store.CandleAt(ctx, kind, symbol, ts)
	if err != nil {
		log.Debug().Err(err).Str("pair", symbol).Str("kind", kind.String()).Msg("funding alignment lookup failed")
		return nil
	}
	if candle == nil {
		return nil
	}
	v := candle.Close.InexactFloat64()
	return &v
}

// sampleMarkPrice one ticker per batch; missing data yields a null mark.
func (c *Collector) sampleMarkPrice(ctx context.Context, pair model.Pair) decimal.NullDecimal {
	t, err := c.market.FetchTicker(ctx, port.MarketLinear, pair.Perpetual)
	if err != nil {
		log.Debug().Err(err).Str("pair", pair.Name).Msg("mark price sample failed")
		return decimal.NullDecimal{}
	}
	if t == nil || t.MarkPrice == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*t.MarkPrice))
}

// captureFundingSnapshot stores the current funding rate as a single event flagged as a snapshot,
// so later runs still resume from the last settlement.
func (c *Collector) captureFundingSnapshot(ctx context.Context, pair model.Pair, rep *CollectReport) {
	snap, err := c.market.FetchFundingRate(ctx, pair.Perpetual)
	if err != nil || snap == nil {
		log.Warn().Err(err).Str("pair", pair.Name).Msg("funding snapshot fallback failed")
		return
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	ev, err := model.NewFundingEvent(pair.Name, ts, snap.FundingRate)
	if err != nil {
		log.Warn().Err(err).Str("pair", pair.Name).Msg("funding snapshot rejected")
		return
	}
	exists, err := c.store.Exists(ctx, model.KindFunding, pair.Name, ev.Timestamp)
	if err != nil {
		log.Warn().Err(err).Str("pair", pair.Name).Msg("funding snapshot exists check failed")
		return
	}
	if exists {
		return
	}
	ev.Snapshot = true
	ev.PredictedRate = snap.PredictedRate
	ev.PerpetualPrice = snap.MarkPrice
	ev.SpotPrice = snap.IndexPrice
	ev.AlignPrices(nil, nil)

	inserted, err := c.store.InsertFundingEvents(ctx, []model.FundingEvent{ev})
	if err != nil {
		log.Warn().Err(err).Str("pair", pair.Name).Msg("funding snapshot insert failed")
		return
	}
	rep.Inserted += inserted
	rep.Fallback = true
	log.Info().Str("pair", pair.Name).Float64("funding_rate", ev.FundingRate).Msg("funding snapshot captured")
}
