package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fundarb/internal/application/port"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, RateLimitRPS: 1000, RateLimitBurst: 100}), &calls
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// TestFetchCandles K线按时间升序返回，请求带 start/end
func TestFetchCandles(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v5/market/kline" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("category") != "linear" || q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "60" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("start") != "1704067200000" || q.Get("end") != "1704074399999" {
			t.Errorf("unexpected window %s .. %s", q.Get("start"), q.Get("end"))
		}
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","symbol":"BTCUSDT","list":[
			["1704070800000","42100.5","42200","42000","42150.25","12.5","526000"],
			["1704067200000","42000","42150","41900","42100.5","10","420000"]
		]},"time":1704074400000}`)
	})

	candles, err := c.FetchCandles(context.Background(), port.MarketLinear, "BTCUSDT", "1h", since, 2)
	if err != nil {
		t.Fatalf("fetch candles failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].OpenTime.Equal(since) || !candles[1].OpenTime.Equal(since.Add(time.Hour)) {
		t.Errorf("candles not ascending: %s %s", candles[0].OpenTime, candles[1].OpenTime)
	}
	if candles[1].Close.String() != "42150.25" {
		t.Errorf("close should keep exact decimal, got %s", candles[1].Close)
	}

	if _, err := c.FetchCandles(context.Background(), port.MarketSpot, "BTCUSDT", "7m", since, 2); err == nil {
		t.Error("expected unsupported interval error")
	}
}

func TestFetchFundingHistory(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("startTime") == "" || q.Get("endTime") == "" {
			t.Errorf("funding history needs both ends: %s", r.URL.RawQuery)
		}
		if q.Get("endTime") != "1704077999999" { // since + 3h - 1ms
			t.Errorf("unexpected endTime %s", q.Get("endTime"))
		}
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[
			{"symbol":"BTCUSDT","fundingRate":"0.0002","fundingRateTimestamp":"1704070800000"},
			{"symbol":"BTCUSDT","fundingRate":"-0.0001","fundingRateTimestamp":"1704067200000"}
		]}}`)
	})

	recs, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", since, 3)
	if err != nil {
		t.Fatalf("fetch funding history failed: %v", err)
	}
	if len(recs) != 2 || recs[0].FundingRate != -0.0001 || recs[1].FundingRate != 0.0002 {
		t.Errorf("unexpected records %+v", recs)
	}
}

// TestFetchFundingHistoryShortInterval 4h 结算的合约整页不被截断
func TestFetchFundingHistoryShortInterval(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const limit = 200
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		n, _ := strconv.Atoi(q.Get("limit"))

		// exchange side: 4h settlements, newest first, at most limit per page
		var items []string
		for i := 2000; i >= 0; i-- {
			ts := since.Add(time.Duration(i) * 4 * time.Hour).UnixMilli()
			if ts < start || ts > end || len(items) == n {
				continue
			}
			items = append(items, fmt.Sprintf(`{"symbol":"BTCUSDT","fundingRate":"0.0001","fundingRateTimestamp":"%d"}`, ts))
		}
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[`+strings.Join(items, ",")+`]}}`)
	})

	recs, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", since, limit)
	if err != nil {
		t.Fatalf("fetch funding history failed: %v", err)
	}
	if len(recs) == 0 || len(recs) >= limit {
		t.Fatalf("page should hold fewer than %d records, got %d", limit, len(recs))
	}
	if !recs[0].Timestamp.Equal(since) {
		t.Errorf("oldest settlement dropped: first record %s", recs[0].Timestamp)
	}
	for i := 1; i < len(recs); i++ {
		if gap := recs[i].Timestamp.Sub(recs[i-1].Timestamp); gap != 4*time.Hour {
			t.Fatalf("gap in page at %d: %s", i, gap)
		}
	}
	if got := c.Limits().MinFundingInterval; got != time.Hour {
		t.Errorf("min funding interval: got %s", got)
	}
}

func TestFetchTickerAndFundingRate(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[{
			"symbol":"ETHUSDT","lastPrice":"3000.5","turnover24h":"123456789.5","volume24h":"41000",
			"markPrice":"3000.4","indexPrice":"2999.9","fundingRate":"0.0001","nextFundingTime":"1704096000000",
			"bid1Price":"3000.4","ask1Price":"3000.6"}]},"time":1704090000000}`)
	})
	ctx := context.Background()

	tk, err := c.FetchTicker(ctx, port.MarketLinear, "ETHUSDT")
	if err != nil {
		t.Fatalf("fetch ticker failed: %v", err)
	}
	if tk.Last != 3000.5 || tk.QuoteVolume != 123456789.5 || tk.MarkPrice == nil || *tk.MarkPrice != 3000.4 {
		t.Errorf("unexpected ticker %+v", tk)
	}

	fr, err := c.FetchFundingRate(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("fetch funding rate failed: %v", err)
	}
	if fr.FundingRate != 0.0001 {
		t.Errorf("funding rate: got %f", fr.FundingRate)
	}
	if fr.NextFunding.Kind != port.FundingTimeInstant || fr.NextFunding.Instant.UnixMilli() != 1704096000000 {
		t.Errorf("next funding: got %+v", fr.NextFunding)
	}
	if fr.Timestamp.UnixMilli() != 1704090000000 {
		t.Errorf("snapshot time should come from the envelope, got %s", fr.Timestamp)
	}
}

func TestFetchOrderBook(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("unexpected depth %s", r.URL.Query().Get("limit"))
		}
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT","b":[["42000.1","1.5"],["42000","2"]],"a":[["42000.3","0.7"]],"ts":1704090000000,"u":1}}`)
	})

	book, err := c.FetchOrderBook(context.Background(), port.MarketSpot, "BTCUSDT", 5)
	if err != nil {
		t.Fatalf("fetch order book failed: %v", err)
	}
	bid, ask, ok := book.Best()
	if !ok || bid != 42000.1 || ask != 42000.3 {
		t.Errorf("unexpected top of book %f / %f (%v)", bid, ask, ok)
	}
}

// TestAPIErrors retCode 与 HTTP 错误
func TestAPIErrors(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/market/tickers":
			writeJSON(w, `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{}}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	_, err := c.FetchTicker(ctx, port.MarketSpot, "NOPEUSDT")
	apiErr, ok := IsAPIError(err)
	if !ok || apiErr.RetCode != 10001 {
		t.Fatalf("expected APIError 10001, got %v", err)
	}

	_, err = c.FetchFundingHistory(ctx, "BTCUSDT", time.Now(), 10)
	if !errors.Is(err, port.ErrUnsupported) {
		t.Fatalf("404 should map to ErrUnsupported, got %v", err)
	}
}

// TestTickerStreamServesLinearTicker ws 缓存命中时不发 REST 请求
func TestTickerStreamServesLinearTicker(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"1"}]}}`)
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stream := NewTickerStream("", []string{"btcusdt", "BTCUSDT"})
	stream.now = func() time.Time { return now }
	c.WithTickerStream(stream)

	stream.HandleMessage([]byte(`{"success":true,"ret_msg":"","op":"subscribe"}`))
	stream.HandleMessage([]byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1704067200000,"data":{
		"symbol":"BTCUSDT","lastPrice":"42000","markPrice":"42001","indexPrice":"41999","turnover24h":"9000000",
		"fundingRate":"0.0001","nextFundingTime":"1704096000000"}}`))
	stream.HandleMessage([]byte(`{"topic":"tickers.BTCUSDT","type":"delta","ts":1704067201000,"data":{"symbol":"BTCUSDT","markPrice":"42010"}}`))

	ctx := context.Background()
	tk, err := c.FetchTicker(ctx, port.MarketLinear, "BTCUSDT")
	if err != nil {
		t.Fatalf("fetch ticker failed: %v", err)
	}
	if tk.Last != 42000 || tk.MarkPrice == nil || *tk.MarkPrice != 42010 {
		t.Errorf("delta should merge into snapshot, got %+v", tk)
	}
	fr, err := c.FetchFundingRate(ctx, "BTCUSDT")
	if err != nil || fr.FundingRate != 0.0001 {
		t.Fatalf("funding from cache: %+v %v", fr, err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("cached reads should not hit REST, got %d calls", *calls)
	}

	// stale cache falls back to REST
	now = now.Add(time.Minute)
	if _, err := c.FetchTicker(ctx, port.MarketLinear, "BTCUSDT"); err != nil {
		t.Fatalf("fetch ticker failed: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("stale cache should hit REST once, got %d", *calls)
	}
	if len(stream.symbols) != 1 {
		t.Errorf("symbols should be deduplicated, got %v", stream.symbols)
	}
}

// TestTickerStreamDeltaOnlyFallsBack 只有 delta 的缓存缺少成交额，走 REST
func TestTickerStreamDeltaOnlyFallsBack(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"ETHUSDT","lastPrice":"3000","turnover24h":"5000000"}]}}`)
	})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stream := NewTickerStream("", []string{"ETHUSDT"})
	stream.now = func() time.Time { return now }
	c.WithTickerStream(stream)

	stream.HandleMessage([]byte(`{"topic":"tickers.ETHUSDT","type":"delta","ts":1704067200000,"data":{"symbol":"ETHUSDT","lastPrice":"3001"}}`))

	tk, err := c.FetchTicker(context.Background(), port.MarketLinear, "ETHUSDT")
	if err != nil {
		t.Fatalf("fetch ticker failed: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("cache without turnover should hit REST, got %d calls", *calls)
	}
	if tk.QuoteVolume != 5000000 {
		t.Errorf("quote volume: expected 5000000, got %f", tk.QuoteVolume)
	}
}
