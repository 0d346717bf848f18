package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
)

type fakeStore struct {
	stats   map[string]int64
	funding []model.FundingEvent
	stored  []model.Opportunity
	err     error

	lastSymbol string
	lastLimit  int
}

func (s *fakeStore) SeriesStats(ctx context.Context, kind model.SeriesKind, symbol string) (model.SeriesStats, error) {
	if s.err != nil {
		return model.SeriesStats{}, s.err
	}
	return model.SeriesStats{Kind: kind, Symbol: symbol, Count: s.stats[symbol+"/"+string(kind)]}, nil
}

func (s *fakeStore) RecentFundingEvents(ctx context.Context, symbol string, limit int) ([]model.FundingEvent, error) {
	s.lastSymbol, s.lastLimit = symbol, limit
	return s.funding, s.err
}

func (s *fakeStore) RecentOpportunities(ctx context.Context, symbol string, limit int) ([]model.Opportunity, error) {
	s.lastSymbol, s.lastLimit = symbol, limit
	return s.stored, s.err
}

func newTestRouter(store Store) (*gin.Engine, *service.OpportunityHistory) {
	gin.SetMode(gin.TestMode)
	hist := service.NewOpportunityHistory(10)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hist.Append([]model.Opportunity{
		{ID: "1", Symbol: "BTC/USDT", FundingRate: 0.0005, ObservedAt: t0},
		{ID: "2", Symbol: "ETH/USDT", FundingRate: -0.0004, ObservedAt: t0},
	})
	hist.Append([]model.Opportunity{{ID: "3", Symbol: "BTC/USDT", FundingRate: 0.0006, ObservedAt: t0.Add(time.Minute)}})

	h := &Handler{
		History: hist,
		Store:   store,
		Pairs: []model.Pair{
			{Name: "BTC/USDT", Spot: "BTCUSDT", Perpetual: "BTCUSDT"},
			{Name: "ETH/USDT", Spot: "ETHUSDT", Perpetual: "ETHUSDT"},
		},
		Thresholds: service.Thresholds{MinFundingRate: 0.0001, MaxRiskScore: 6},
	}
	return NewRouter(h), hist
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func get(t *testing.T, r http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	if path != "/healthz" {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s: response is not json: %s", path, w.Body.String())
		}
	}
	return w.Code, env
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(&fakeStore{})
	code, _ := get(t, r, "/healthz")
	if code != http.StatusOK {
		t.Errorf("healthz: got %d", code)
	}
}

func TestListOpportunitiesFromHistory(t *testing.T) {
	r, _ := newTestRouter(&fakeStore{})

	code, env := get(t, r, "/api/opportunities")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	var all []model.Opportunity
	_ = json.Unmarshal(env.Data, &all)
	if len(all) != 3 || all[2].ID != "3" {
		t.Errorf("expected full history oldest first, got %+v", all)
	}

	_, env = get(t, r, "/api/opportunities?symbol=btcusdt&limit=1")
	var btc []model.Opportunity
	_ = json.Unmarshal(env.Data, &btc)
	if len(btc) != 1 || btc[0].ID != "3" {
		t.Errorf("limit should keep the newest, got %+v", btc)
	}

	if code, _ := get(t, r, "/api/opportunities?symbol=DOGEUSDT"); code != http.StatusNotFound {
		t.Errorf("unknown symbol: got %d", code)
	}
}

func TestListOpportunitiesFromStore(t *testing.T) {
	store := &fakeStore{stored: []model.Opportunity{{ID: "s1", Symbol: "ETH/USDT"}}}
	r, _ := newTestRouter(store)

	code, env := get(t, r, "/api/opportunities?source=store&symbol=ETH-USDT&limit=5")
	if code != http.StatusOK || env.Meta["source"] != "store" {
		t.Fatalf("got %d %+v", code, env)
	}
	if store.lastSymbol != "ETH/USDT" || store.lastLimit != 5 {
		t.Errorf("store queried with %q/%d", store.lastSymbol, store.lastLimit)
	}

	store.err = errors.New("db closed")
	if code, env := get(t, r, "/api/opportunities?source=store"); code != http.StatusInternalServerError || env.Message != "db closed" {
		t.Errorf("store error: got %d %q", code, env.Message)
	}
}

func TestListSeries(t *testing.T) {
	store := &fakeStore{stats: map[string]int64{"BTC/USDT/spot": 1440, "ETH/USDT/funding": 90}}
	r, _ := newTestRouter(store)

	code, env := get(t, r, "/api/series")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	var stats []model.SeriesStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 6 {
		t.Fatalf("expected 2 pairs x 3 kinds, got %d", len(stats))
	}
	if stats[0].Symbol != "BTC/USDT" || stats[0].Kind != model.KindSpot || stats[0].Count != 1440 {
		t.Errorf("unexpected first entry %+v", stats[0])
	}
	if stats[5].Kind != model.KindFunding || stats[5].Count != 90 {
		t.Errorf("unexpected last entry %+v", stats[5])
	}
}

func TestListFunding(t *testing.T) {
	store := &fakeStore{funding: []model.FundingEvent{
		{Symbol: "BTC/USDT", Timestamp: time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC), FundingRate: 0.0001},
	}}
	r, _ := newTestRouter(store)

	code, env := get(t, r, "/api/funding/BTCUSDT")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	var views []map[string]any
	_ = json.Unmarshal(env.Data, &views)
	if len(views) != 1 {
		t.Fatalf("unexpected funding views %v", views)
	}
	if annual, _ := views[0]["annual_rate_pct"].(float64); math.Abs(annual-10.95) > 1e-9 {
		t.Errorf("annual rate: got %v", views[0]["annual_rate_pct"])
	}
	if store.lastLimit != 3 {
		t.Errorf("default limit should be 3, got %d", store.lastLimit)
	}
}

func TestThresholds(t *testing.T) {
	r, _ := newTestRouter(nil)
	code, env := get(t, r, "/api/thresholds")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	var th service.Thresholds
	_ = json.Unmarshal(env.Data, &th)
	if th.MaxRiskScore != 6 {
		t.Errorf("unexpected thresholds %+v", th)
	}
	if code, _ := get(t, r, "/api/series"); code != http.StatusServiceUnavailable {
		t.Errorf("nil store should be unavailable, got %d", code)
	}
}
