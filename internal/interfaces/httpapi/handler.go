package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
)

// Store 只读查询
type Store interface {
	SeriesStats(ctx context.Context, kind model.SeriesKind, symbol string) (model.SeriesStats, error)
	RecentFundingEvents(ctx context.Context, symbol string, limit int) ([]model.FundingEvent, error)
	RecentOpportunities(ctx context.Context, symbol string, limit int) ([]model.Opportunity, error)
}

// Handler read-only view over the engine history and the market store.
type Handler struct {
	History    *service.OpportunityHistory
	Store      Store
	Pairs      []model.Pair
	Thresholds service.Thresholds
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/opportunities", h.listOpportunities)
	api.GET("/series", h.listSeries)
	api.GET("/funding/:symbol", h.listFunding)
	api.GET("/thresholds", h.thresholds)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "history": h.History.Len()})
}

// GET /api/opportunities?symbol=BTCUSDT&source=store&limit=20
func (h *Handler) listOpportunities(c *gin.Context) {
	symbol := ""
	if raw := strings.TrimSpace(c.Query("symbol")); raw != "" {
		p, found := h.resolvePair(raw)
		if !found {
			fail(c, http.StatusNotFound, "unknown symbol "+raw)
			return
		}
		symbol = p.Name
	}
	limit := intQuery(c, "limit", 100)

	if c.Query("source") == "store" {
		if h.Store == nil {
			fail(c, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		items, err := h.Store.RecentOpportunities(c.Request.Context(), symbol, limit)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		ok(c, items, map[string]any{"source": "store", "count": len(items)})
		return
	}

	var items []model.Opportunity
	if symbol != "" {
		items = h.History.BySymbol(symbol)
	} else {
		items = h.History.Snapshot()
	}
	// newest last in history; keep the tail
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	ok(c, items, map[string]any{"source": "history", "count": len(items)})
}

// GET /api/series
func (h *Handler) listSeries(c *gin.Context) {
	if h.Store == nil {
		fail(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	out := make([]model.SeriesStats, 0, len(h.Pairs)*len(model.AllKinds))
	for _, p := range h.Pairs {
		for _, kind := range model.AllKinds {
			st, err := h.Store.SeriesStats(c.Request.Context(), kind, p.Name)
			if err != nil {
				fail(c, http.StatusInternalServerError, err.Error())
				return
			}
			out = append(out, st)
		}
	}
	ok(c, out, nil)
}

type fundingView struct {
	model.FundingEvent
	AnnualRatePct float64 `json:"annual_rate_pct"`
}

// GET /api/funding/:symbol?limit=3
func (h *Handler) listFunding(c *gin.Context) {
	if h.Store == nil {
		fail(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	p, found := h.resolvePair(c.Param("symbol"))
	if !found {
		fail(c, http.StatusNotFound, "unknown symbol "+c.Param("symbol"))
		return
	}
	events, err := h.Store.RecentFundingEvents(c.Request.Context(), p.Name, intQuery(c, "limit", 3))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]fundingView, 0, len(events))
	for _, e := range events {
		out = append(out, fundingView{FundingEvent: e, AnnualRatePct: e.AnnualRatePct()})
	}
	ok(c, out, map[string]any{"symbol": p.Name})
}

func (h *Handler) thresholds(c *gin.Context) {
	ok(c, h.Thresholds, nil)
}

// resolvePair accepts BTC/USDT, btc-usdt or the exchange symbol BTCUSDT.
func (h *Handler) resolvePair(raw string) (model.Pair, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "/")
	for _, p := range h.Pairs {
		if s == p.Name || s == p.Spot || s == p.Perpetual {
			return p, true
		}
	}
	return model.Pair{}, false
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
