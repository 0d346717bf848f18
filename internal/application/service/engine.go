package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	dsvc "fundarb/internal/domain/service"
)

const (
	DefaultBookDepth    = 5
	DefaultHistoryLimit = 10
)

// ErrEmptyBook 盘口一侧为空
var ErrEmptyBook = errors.New("order book side is empty")

// EngineDeps 机会引擎依赖
type EngineDeps struct {
	Market     port.MarketData
	Store      port.MarketStore // optional; no stored funding history when nil
	Pairs      []model.Pair
	Thresholds Thresholds
	Sink       port.OpportunitySink // optional
	Display    port.Display         // optional
	History    *OpportunityHistory

	BookDepth    int
	HistoryLimit int
	Now          func() time.Time
}

// Engine scans the configured pairs for funding arbitrage, one pair at a time.
type Engine struct {
	deps EngineDeps
}

func NewEngine(deps EngineDeps) *Engine {
	if deps.History == nil {
		deps.History = NewOpportunityHistory(DefaultHistoryCapacity)
	}
	if deps.BookDepth <= 0 {
		deps.BookDepth = DefaultBookDepth
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = DefaultHistoryLimit
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps}
}

func (e *Engine) Thresholds() Thresholds       { return e.deps.Thresholds }
func (e *Engine) History() *OpportunityHistory { return e.deps.History }
func (e *Engine) Pairs() []model.Pair          { return e.deps.Pairs }

// PairSnapshot market observations for one pair within a cycle.
type PairSnapshot struct {
	Symbol         string
	SpotPrice      float64
	FuturesPrice   float64
	FundingRate    float64
	NextFunding    time.Time
	AvgSpreadBps   float64
	Volume24h      float64
	FundingHistory []float64 // most recent last
}

// Rejection why a pair produced no opportunity.
type Rejection string

const (
	RejectNone        Rejection = ""
	RejectFundingRate Rejection = "funding_rate_below_min"
	RejectVolume      Rejection = "volume_below_min"
	RejectSpread      Rejection = "spread_above_max"
	RejectNoDirection Rejection = "zero_funding_rate"
	RejectRisk        Rejection = "risk_above_max"
)

// Evaluate applies filters, scoring and classification. Pure: no I/O.
func Evaluate(s PairSnapshot, th Thresholds, now time.Time) (*model.Opportunity, Rejection) {
	absRate := math.Abs(s.FundingRate)
	if absRate < th.MinFundingRate {
		return nil, RejectFundingRate
	}
	if s.Volume24h < th.MinVolume24h {
		return nil, RejectVolume
	}
	if s.AvgSpreadBps > th.MaxSpreadBps {
		return nil, RejectSpread
	}

	oppType, action, ok := dsvc.Direction(s.FundingRate)
	if !ok {
		return nil, RejectNoDirection
	}

	basis := dsvc.BasisBps(s.SpotPrice, s.FuturesPrice)
	annual := dsvc.AnnualFundingRatePct(s.FundingRate)
	risk := dsvc.RiskScore(dsvc.RiskInput{
		FundingRate:    s.FundingRate,
		BasisBps:       basis,
		AvgSpreadBps:   s.AvgSpreadBps,
		Volume24h:      s.Volume24h,
		FundingHistory: s.FundingHistory,
	})
	if risk > th.MaxRiskScore {
		return nil, RejectRisk
	}

	points := dsvc.ConfidencePoints(s.FundingRate, risk, s.FundingHistory)
	history := make([]float64, len(s.FundingHistory))
	copy(history, s.FundingHistory)

	return &model.Opportunity{
		ID:                   uuid.NewString(),
		Symbol:               s.Symbol,
		Type:                 oppType,
		SpotPrice:            s.SpotPrice,
		FuturesPrice:         s.FuturesPrice,
		FundingRate:          s.FundingRate,
		NextFundingTime:      s.NextFunding,
		BasisBps:             basis,
		AnnualFundingRatePct: annual,
		ProfitPotentialPct:   math.Abs(annual),
		RiskScore:            risk,
		Action:               action,
		Confidence:           dsvc.ClassifyConfidence(points),
		MinCapital:           dsvc.MinCapital(s.AvgSpreadBps),
		Volume24h:            s.Volume24h,
		BidAskSpreadBps:      s.AvgSpreadBps,
		FundingHistory:       history,
		ObservedAt:           now.UTC(),
	}, RejectNone
}

// Observe gathers the market snapshot of one pair.
func (e *Engine) Observe(ctx context.Context, pair model.Pair) (PairSnapshot, error) {
	md := e.deps.Market
	snap := PairSnapshot{Symbol: pair.Name}

	spotTicker, err := md.FetchTicker(ctx, port.MarketSpot, pair.Spot)
	if err != nil {
		return snap, fmt.Errorf("spot ticker: %w", err)
	}
	spotBook, err := md.FetchOrderBook(ctx, port.MarketSpot, pair.Spot, e.deps.BookDepth)
	if err != nil {
		return snap, fmt.Errorf("spot book: %w", err)
	}
	futTicker, err := md.FetchTicker(ctx, port.MarketLinear, pair.Perpetual)
	if err != nil {
		return snap, fmt.Errorf("futures ticker: %w", err)
	}
	futBook, err := md.FetchOrderBook(ctx, port.MarketLinear, pair.Perpetual, e.deps.BookDepth)
	if err != nil {
		return snap, fmt.Errorf("futures book: %w", err)
	}
	funding, err := md.FetchFundingRate(ctx, pair.Perpetual)
	if err != nil {
		return snap, fmt.Errorf("funding rate: %w", err)
	}
	if spotTicker == nil || futTicker == nil || spotBook == nil || futBook == nil || funding == nil {
		return snap, port.ErrNoData
	}

	sBid, sAsk, ok := spotBook.Best()
	if !ok {
		return snap, fmt.Errorf("spot %s: %w", pair.Spot, ErrEmptyBook)
	}
	fBid, fAsk, ok := futBook.Best()
	if !ok {
		return snap, fmt.Errorf("futures %s: %w", pair.Perpetual, ErrEmptyBook)
	}

	snap.SpotPrice = spotTicker.Last
	snap.FuturesPrice = futTicker.Last
	snap.FundingRate = funding.FundingRate
	snap.Volume24h = futTicker.QuoteVolume
	spotSpread := dsvc.SpreadBps(sBid, sAsk, snap.SpotPrice)
	futSpread := dsvc.SpreadBps(fBid, fAsk, snap.FuturesPrice)
	snap.AvgSpreadBps = (spotSpread + futSpread) / 2

	next, src := ResolveNextFunding(funding.NextFunding, e.deps.Now())
	if src == FundingFromFallback {
		log.Debug().Str("pair", pair.Name).Msg("next funding time missing, assuming 8h")
	}
	snap.NextFunding = next

	snap.FundingHistory = e.recentFunding(ctx, pair.Name)
	return snap, nil
}

// recentFunding most recent last; lookup failures leave the history empty.
func (e *Engine) recentFunding(ctx context.Context, symbol string) []float64 {
	if e.deps.Store == nil {
		return nil
	}
	events, err := e.deps.Store.RecentFundingEvents(ctx, symbol, e.deps.HistoryLimit)
	if err != nil {
		log.Warn().Err(err).Str("pair", symbol).Msg("funding history lookup failed")
		return nil
	}
	out := make([]float64, len(events))
	for i, ev := range events {
		out[len(events)-1-i] = ev.FundingRate
	}
	return out
}

// AnalyzePair returns nil with a nil error when the pair is filtered out.
func (e *Engine) AnalyzePair(ctx context.Context, pair model.Pair) (*model.Opportunity, error) {
	snap, err := e.Observe(ctx, pair)
	if err != nil {
		return nil, err
	}
	opp, reason := Evaluate(snap, e.deps.Thresholds, e.deps.Now())
	if opp == nil {
		log.Debug().
			Str("pair", pair.Name).
			Str("reason", string(reason)).
			Float64("funding_rate", snap.FundingRate).
			Float64("volume_24h", snap.Volume24h).
			Float64("spread_bps", snap.AvgSpreadBps).
			Msg("pair filtered")
	}
	return opp, nil
}

// Scan evaluates every pair sequentially and returns the batch ranked by profit potential.
// A failing pair is logged and skipped.
func (e *Engine) Scan(ctx context.Context) ([]model.Opportunity, error) {
	var batch []model.Opportunity
	for _, pair := range e.deps.Pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opp, err := e.AnalyzePair(ctx, pair)
		if err != nil {
			if IsCancelled(err) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(err).Str("pair", pair.Name).Msg("pair analysis failed")
			continue
		}
		if opp != nil {
			batch = append(batch, *opp)
		}
	}
	Rank(batch)
	return batch, nil
}

// Rank stable sort by ProfitPotentialPct descending.
func Rank(batch []model.Opportunity) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].ProfitPotentialPct > batch[j].ProfitPotentialPct
	})
}

// Publish appends the batch to the rolling history and hands it to the sink and display.
func (e *Engine) Publish(ctx context.Context, batch []model.Opportunity) {
	if len(batch) == 0 {
		log.Info().Int("pairs", len(e.deps.Pairs)).Msg("no arbitrage opportunities at current thresholds")
		return
	}
	e.deps.History.Append(batch)

	if e.deps.Sink != nil {
		if err := e.deps.Sink.SaveOpportunities(ctx, batch); err != nil {
			log.Error().Err(err).Int("count", len(batch)).Msg("save opportunities failed")
		}
	}
	if e.deps.Display != nil {
		e.deps.Display.ShowOpportunities(batch)
	}
	best := batch[0]
	log.Info().
		Int("count", len(batch)).
		Str("best", best.Symbol).
		Float64("best_profit_pct", best.ProfitPotentialPct).
		Msg("opportunities found")
}

// Cycle one scan + publish.
func (e *Engine) Cycle(ctx context.Context) error {
	batch, err := e.Scan(ctx)
	if err != nil {
		return err
	}
	e.Publish(ctx, batch)
	return nil
}

// Run drives Cycle with loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, loop *Loop) error {
	log.Info().
		Int("pairs", len(e.deps.Pairs)).
		Float64("min_funding_rate", e.deps.Thresholds.MinFundingRate).
		Float64("max_risk_score", e.deps.Thresholds.MaxRiskScore).
		Dur("interval", loop.Interval).
		Msg("opportunity engine started")
	return loop.Run(ctx, e.Cycle)
}
