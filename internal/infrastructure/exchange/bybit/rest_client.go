package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"fundarb/internal/application/port"
)

const (
	DefaultBaseURL = "https://api.bybit.com"

	maxKlineLimit   = 1000
	maxFundingLimit = 200
	maxBookDepth    = 200

	// minFundingInterval shortest linear settlement interval (1h contracts exist next to 4h and 8h).
	// A funding page of n records spans n hours so the exchange never truncates it.
	minFundingInterval = time.Hour
)

// klineIntervals 1m -> "1", 1h -> "60", 1d -> "D"
var klineIntervals = map[string]struct {
	code string
	step time.Duration
}{
	"1m":  {"1", time.Minute},
	"3m":  {"3", 3 * time.Minute},
	"5m":  {"5", 5 * time.Minute},
	"15m": {"15", 15 * time.Minute},
	"30m": {"30", 30 * time.Minute},
	"1h":  {"60", time.Hour},
	"2h":  {"120", 2 * time.Hour},
	"4h":  {"240", 4 * time.Hour},
	"6h":  {"360", 6 * time.Hour},
	"12h": {"720", 12 * time.Hour},
	"1d":  {"D", 24 * time.Hour},
}

// Options REST 客户端配置
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Client Bybit v5 公共行情客户端，实现 port.MarketData。
// Every request shares one rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	stream     *TickerStream
}

var _ port.MarketData = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst),
	}
}

// WithTickerStream serves linear tickers and funding snapshots from the ws cache while it is fresh.
func (c *Client) WithTickerStream(s *TickerStream) *Client {
	c.stream = s
	return c
}

func (c *Client) Limits() port.Limits {
	return port.Limits{MaxCandles: maxKlineLimit, MaxFundingHistory: maxFundingLimit, MinFundingInterval: minFundingInterval}
}

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"` // [startTime, open, high, low, close, volume, turnover], newest first
}

// FetchCandles GET /v5/market/kline, returned oldest first.
func (c *Client) FetchCandles(ctx context.Context, market port.Market, symbol, interval string, since time.Time, limit int) ([]port.RawCandle, error) {
	iv, ok := klineIntervals[strings.ToLower(interval)]
	if !ok {
		return nil, fmt.Errorf("bybit: unsupported kline interval %q", interval)
	}
	limit = clampLimit(limit, maxKlineLimit)
	start := since.UTC()
	end := start.Add(time.Duration(limit)*iv.step - time.Millisecond)

	params := url.Values{}
	params.Set("category", string(market))
	params.Set("symbol", symbol)
	params.Set("interval", iv.code)
	params.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))

	var res klineResult
	if _, err := c.publicGet(ctx, "/v5/market/kline", params, &res); err != nil {
		return nil, err
	}

	out := make([]port.RawCandle, 0, len(res.List))
	for _, row := range res.List {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("bybit kline %s: %w", symbol, err)
		}
		out = append(out, candle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func parseKlineRow(row []string) (port.RawCandle, error) {
	if len(row) < 6 {
		return port.RawCandle{}, fmt.Errorf("short kline row %v", row)
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return port.RawCandle{}, fmt.Errorf("kline start %q: %w", row[0], err)
	}
	vals := make([]decimal.Decimal, 5)
	for i := range vals {
		d, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return port.RawCandle{}, fmt.Errorf("kline field %d %q: %w", i+1, row[i+1], err)
		}
		vals[i] = d
	}
	return port.RawCandle{
		OpenTime: time.UnixMilli(ms).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

type fundingHistoryResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol               string `json:"symbol"`
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

// FetchFundingHistory GET /v5/market/funding/history over [since, since+limit*1h).
// Bybit needs both ends of the window and keeps the newest records when it overflows.
func (c *Client) FetchFundingHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]port.FundingRecord, error) {
	limit = clampLimit(limit, maxFundingLimit)
	start := since.UTC()
	end := start.Add(time.Duration(limit)*minFundingInterval - time.Millisecond)

	params := url.Values{}
	params.Set("category", string(port.MarketLinear))
	params.Set("symbol", symbol)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))

	var res fundingHistoryResult
	if _, err := c.publicGet(ctx, "/v5/market/funding/history", params, &res); err != nil {
		return nil, err
	}

	out := make([]port.FundingRecord, 0, len(res.List))
	for _, item := range res.List {
		ms, err := strconv.ParseInt(item.FundingRateTimestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit funding timestamp %q: %w", item.FundingRateTimestamp, err)
		}
		r, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit funding rate %q: %w", item.FundingRate, err)
		}
		out = append(out, port.FundingRecord{Timestamp: time.UnixMilli(ms).UTC(), FundingRate: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// tickerItem spot and linear share this shape; linear adds mark/index/funding fields.
type tickerItem struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	Turnover24h     string `json:"turnover24h"`
	Volume24h       string `json:"volume24h"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
	Bid1Price       string `json:"bid1Price"`
	Ask1Price       string `json:"ask1Price"`
}

type tickersResult struct {
	Category string       `json:"category"`
	List     []tickerItem `json:"list"`
}

func (c *Client) fetchTickerItem(ctx context.Context, market port.Market, symbol string) (tickerItem, time.Time, error) {
	params := url.Values{}
	params.Set("category", string(market))
	params.Set("symbol", symbol)

	var res tickersResult
	serverMs, err := c.publicGet(ctx, "/v5/market/tickers", params, &res)
	if err != nil {
		return tickerItem{}, time.Time{}, err
	}
	for _, item := range res.List {
		if strings.EqualFold(item.Symbol, symbol) {
			return item, serverTime(serverMs), nil
		}
	}
	return tickerItem{}, time.Time{}, fmt.Errorf("bybit ticker %s/%s: %w", market, symbol, port.ErrNoData)
}

// FetchTicker GET /v5/market/tickers (linear served from the ws cache when fresh).
func (c *Client) FetchTicker(ctx context.Context, market port.Market, symbol string) (*port.Ticker, error) {
	if market == port.MarketLinear && c.stream != nil {
		// a cache entry built from deltas only may miss turnover
		if item, ts, ok := c.stream.Latest(symbol); ok && item.LastPrice != "" && item.Turnover24h != "" {
			return toTicker(item, ts)
		}
	}
	item, ts, err := c.fetchTickerItem(ctx, market, symbol)
	if err != nil {
		return nil, err
	}
	return toTicker(item, ts)
}

func toTicker(item tickerItem, ts time.Time) (*port.Ticker, error) {
	last, err := strconv.ParseFloat(item.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("bybit ticker %s lastPrice %q: %w", item.Symbol, item.LastPrice, err)
	}
	return &port.Ticker{
		Symbol:      item.Symbol,
		Last:        last,
		QuoteVolume: parseFloatOr(item.Turnover24h, 0),
		MarkPrice:   optionalFloat(item.MarkPrice),
		IndexPrice:  optionalFloat(item.IndexPrice),
		Timestamp:   ts,
	}, nil
}

// FetchFundingRate current funding from the linear ticker.
func (c *Client) FetchFundingRate(ctx context.Context, symbol string) (*port.FundingSnapshot, error) {
	var (
		item tickerItem
		ts   time.Time
		err  error
	)
	cached := false
	if c.stream != nil {
		item, ts, cached = c.stream.Latest(symbol)
		cached = cached && item.FundingRate != ""
	}
	if !cached {
		item, ts, err = c.fetchTickerItem(ctx, port.MarketLinear, symbol)
		if err != nil {
			return nil, err
		}
	}
	if item.FundingRate == "" {
		return nil, fmt.Errorf("bybit funding %s: %w", symbol, port.ErrNoData)
	}
	r, err := strconv.ParseFloat(item.FundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("bybit funding rate %q: %w", item.FundingRate, err)
	}
	return &port.FundingSnapshot{
		Symbol:      item.Symbol,
		FundingRate: r,
		Timestamp:   ts,
		NextFunding: parseFundingTime(item.NextFundingTime),
		MarkPrice:   optionalFloat(item.MarkPrice),
		IndexPrice:  optionalFloat(item.IndexPrice),
	}, nil
}

// parseFundingTime epoch millis -> instant; anything else is kept as text for the resolver.
func parseFundingTime(s string) port.FundingTime {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return port.FundingTime{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return port.FundingTimeAt(time.UnixMilli(ms).UTC())
	}
	return port.FundingTimeFromText(s)
}

type orderBookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
}

// FetchOrderBook GET /v5/market/orderbook
func (c *Client) FetchOrderBook(ctx context.Context, market port.Market, symbol string, depth int) (*port.OrderBook, error) {
	depth = clampLimit(depth, maxBookDepth)
	params := url.Values{}
	params.Set("category", string(market))
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))

	var res orderBookResult
	if _, err := c.publicGet(ctx, "/v5/market/orderbook", params, &res); err != nil {
		return nil, err
	}
	bids, err := parseLevels(res.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit book %s bids: %w", symbol, err)
	}
	asks, err := parseLevels(res.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit book %s asks: %w", symbol, err)
	}
	return &port.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: serverTime(res.Ts),
	}, nil
}

func parseLevels(rows [][]string) ([]port.PriceLevel, error) {
	out := make([]port.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("short level %v", row)
		}
		p, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, err
		}
		s, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, port.PriceLevel{Price: p, Size: s})
	}
	return out, nil
}

func clampLimit(n, ceiling int) int {
	if n <= 0 || n > ceiling {
		return ceiling
	}
	return n
}

func serverTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func optionalFloat(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloatOr(s string, def float64) float64 {
	if v := optionalFloat(s); v != nil {
		return *v
	}
	return def
}
