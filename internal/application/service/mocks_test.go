package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// MockMarketData in-memory exchange: serves stored series by "since" and records every request.
type MockMarketData struct {
	mu sync.Mutex

	candles map[string][]port.RawCandle // market|symbol
	funding map[string][]port.FundingRecord
	tickers map[string]*port.Ticker
	books   map[string]*port.OrderBook
	rates   map[string]*port.FundingSnapshot
	limits  port.Limits

	// failure injection
	candleErr    func(market port.Market, since time.Time) error
	fundingErr   error
	rateErr      map[string]error
	tickerErr    map[string]error
	panicOnRates bool

	candleRequests  []time.Time
	fundingRequests []time.Time
	rateCalls       int
	tickerCalls     int
}

func NewMockMarketData() *MockMarketData {
	return &MockMarketData{
		candles:   make(map[string][]port.RawCandle),
		funding:   make(map[string][]port.FundingRecord),
		tickers:   make(map[string]*port.Ticker),
		books:     make(map[string]*port.OrderBook),
		rates:     make(map[string]*port.FundingSnapshot),
		rateErr:   make(map[string]error),
		tickerErr: make(map[string]error),
		limits:    port.Limits{MaxCandles: 1000, MaxFundingHistory: 200},
	}
}

func key(market port.Market, symbol string) string { return string(market) + "|" + symbol }

func (m *MockMarketData) AddCandles(market port.Market, symbol string, cs ...port.RawCandle) {
	k := key(market, symbol)
	m.candles[k] = append(m.candles[k], cs...)
	sort.Slice(m.candles[k], func(i, j int) bool { return m.candles[k][i].OpenTime.Before(m.candles[k][j].OpenTime) })
}

func (m *MockMarketData) AddFunding(symbol string, rs ...port.FundingRecord) {
	m.funding[symbol] = append(m.funding[symbol], rs...)
	sort.Slice(m.funding[symbol], func(i, j int) bool { return m.funding[symbol][i].Timestamp.Before(m.funding[symbol][j].Timestamp) })
}

func (m *MockMarketData) FetchCandles(ctx context.Context, market port.Market, symbol, interval string, since time.Time, limit int) ([]port.RawCandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleRequests = append(m.candleRequests, since)
	if m.candleErr != nil {
		if err := m.candleErr(market, since); err != nil {
			return nil, err
		}
	}
	var out []port.RawCandle
	for _, c := range m.candles[key(market, symbol)] {
		if c.OpenTime.Before(since) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockMarketData) FetchFundingHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]port.FundingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingRequests = append(m.fundingRequests, since)
	if m.fundingErr != nil {
		return nil, m.fundingErr
	}
	var until time.Time
	if m.limits.MinFundingInterval > 0 {
		until = since.Add(time.Duration(limit) * m.limits.MinFundingInterval)
	}
	var out []port.FundingRecord
	for _, r := range m.funding[symbol] {
		if r.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !r.Timestamp.Before(until) {
			break
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockMarketData) FetchFundingRate(ctx context.Context, symbol string) (*port.FundingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateCalls++
	if m.panicOnRates {
		panic("exchange exploded")
	}
	if err := m.rateErr[symbol]; err != nil {
		return nil, err
	}
	s, ok := m.rates[symbol]
	if !ok {
		return nil, port.ErrNoData
	}
	return s, nil
}

func (m *MockMarketData) FetchTicker(ctx context.Context, market port.Market, symbol string) (*port.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerCalls++
	if err := m.tickerErr[key(market, symbol)]; err != nil {
		return nil, err
	}
	t, ok := m.tickers[key(market, symbol)]
	if !ok {
		return nil, port.ErrNoData
	}
	return t, nil
}

func (m *MockMarketData) FetchOrderBook(ctx context.Context, market port.Market, symbol string, depth int) (*port.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[key(market, symbol)]
	if !ok {
		return nil, port.ErrNoData
	}
	return b, nil
}

func (m *MockMarketData) Limits() port.Limits { return m.limits }

// MockMarketStore in-memory MarketStore keyed by (kind, symbol, ts).
type MockMarketStore struct {
	mu      sync.Mutex
	candles map[model.SeriesKind]map[string]map[int64]model.Candle
	funding map[string]map[int64]model.FundingEvent

	recentErr error
	existsErr error
	inserted  int
}

func NewMockMarketStore() *MockMarketStore {
	return &MockMarketStore{
		candles: map[model.SeriesKind]map[string]map[int64]model.Candle{
			model.KindSpot:      {},
			model.KindPerpetual: {},
		},
		funding: make(map[string]map[int64]model.FundingEvent),
	}
}

func (s *MockMarketStore) keys(kind model.SeriesKind, symbol string) []int64 {
	var out []int64
	if kind == model.KindFunding {
		for ts := range s.funding[symbol] {
			out = append(out, ts)
		}
	} else {
		for ts := range s.candles[kind][symbol] {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *MockMarketStore) LatestTimestamp(ctx context.Context, kind model.SeriesKind, symbol string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.keys(kind, symbol)
	for i := len(ks) - 1; i >= 0; i-- {
		if kind == model.KindFunding && s.funding[symbol][ks[i]].Snapshot {
			continue
		}
		return time.UnixMilli(ks[i]).UTC(), true, nil
	}
	return time.Time{}, false, nil
}

func (s *MockMarketStore) Exists(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if kind == model.KindFunding {
		_, ok := s.funding[symbol][ts.UnixMilli()]
		return ok, nil
	}
	_, ok := s.candles[kind][symbol][ts.UnixMilli()]
	return ok, nil
}

func (s *MockMarketStore) InsertCandles(ctx context.Context, kind model.SeriesKind, candles []model.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !kind.IsCandle() {
		return 0, errors.New("not a candle kind")
	}
	n := 0
	for _, c := range candles {
		bySym := s.candles[kind][c.Symbol]
		if bySym == nil {
			bySym = make(map[int64]model.Candle)
			s.candles[kind][c.Symbol] = bySym
		}
		if _, ok := bySym[c.Timestamp.UnixMilli()]; ok {
			continue
		}
		bySym[c.Timestamp.UnixMilli()] = c
		n++
	}
	s.inserted += n
	return n, nil
}

func (s *MockMarketStore) InsertFundingEvents(ctx context.Context, events []model.FundingEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range events {
		bySym := s.funding[e.Symbol]
		if bySym == nil {
			bySym = make(map[int64]model.FundingEvent)
			s.funding[e.Symbol] = bySym
		}
		if _, ok := bySym[e.Timestamp.UnixMilli()]; ok {
			continue
		}
		bySym[e.Timestamp.UnixMilli()] = e
		n++
	}
	s.inserted += n
	return n, nil
}

func (s *MockMarketStore) CandleAt(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (*model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candles[kind][symbol][ts.UnixMilli()]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MockMarketStore) RecentFundingEvents(ctx context.Context, symbol string, limit int) ([]model.FundingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	ks := s.keys(model.KindFunding, symbol)
	var out []model.FundingEvent
	for i := len(ks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.funding[symbol][ks[i]])
	}
	return out, nil
}

func (s *MockMarketStore) SeriesStats(ctx context.Context, kind model.SeriesKind, symbol string) (model.SeriesStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.keys(kind, symbol)
	st := model.SeriesStats{Kind: kind, Symbol: symbol, Count: int64(len(ks))}
	if len(ks) > 0 {
		st.First = time.UnixMilli(ks[0]).UTC()
		st.Last = time.UnixMilli(ks[len(ks)-1]).UTC()
	}
	return st, nil
}

func (s *MockMarketStore) Close() error { return nil }

func (s *MockMarketStore) Count(kind model.SeriesKind, symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys(kind, symbol))
}

// MockSink records every batch.
type MockSink struct {
	batches [][]model.Opportunity
	err     error
}

func (m *MockSink) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	cp := make([]model.Opportunity, len(batch))
	copy(cp, batch)
	m.batches = append(m.batches, cp)
	return m.err
}

func flatCandle(ts time.Time, price float64) port.RawCandle {
	p := decimal.NewFromFloat(price)
	return port.RawCandle{OpenTime: ts, Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
}

func f64(v float64) *float64 { return &v }
