package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"fundarb/internal/infrastructure/exchange"
)

const (
	DefaultLinearWsURL = "wss://stream.bybit.com/v5/public/linear"
	defaultMaxAge      = 10 * time.Second
)

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// tickerDataList data can be object OR array
type tickerDataList []tickerItem

func (d *tickerDataList) UnmarshalJSON(b []byte) error {
	b = exchange.BytesTrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []tickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one tickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = tickerDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type tickerMsg struct {
	Topic string         `json:"topic"`
	Type  string         `json:"type"` // snapshot | delta
	Ts    int64          `json:"ts"`
	Data  tickerDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

type cachedTicker struct {
	item    tickerItem
	ts      time.Time
	updated time.Time
}

// TickerStream 订阅 linear tickers.* 并缓存最新值（snapshot + delta 合并）
type TickerStream struct {
	wsURL   string
	symbols []string
	maxAge  time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]*cachedTicker
}

func NewTickerStream(wsURL string, symbols []string) *TickerStream {
	if strings.TrimSpace(wsURL) == "" {
		wsURL = DefaultLinearWsURL
	}
	seen := map[string]struct{}{}
	var syms []string
	for _, s := range symbols {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		syms = append(syms, u)
	}
	return &TickerStream{
		wsURL:   strings.TrimSpace(wsURL),
		symbols: syms,
		maxAge:  defaultMaxAge,
		now:     time.Now,
		cache:   make(map[string]*cachedTicker),
	}
}

// Latest returns the cached ticker when it was updated within maxAge.
func (s *TickerStream) Latest(symbol string) (tickerItem, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[strings.ToUpper(symbol)]
	if !ok || s.now().Sub(c.updated) > s.maxAge {
		return tickerItem{}, time.Time{}, false
	}
	return c.item, c.ts, true
}

// Run 连接并保持订阅，断线指数退避重连，直到 ctx 取消
func (s *TickerStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return errors.New("bybit ticker stream: no symbols")
	}
	topics := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		topics = append(topics, "tickers."+sym)
	}

	backoff := &exchange.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Info().Str("url", s.wsURL).Int("topics", len(topics)).Msg("bybit ws connecting")
		conn, err := exchange.DialWS(ctx, s.wsURL, 10*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("bybit ws dial failed")
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
			continue
		}

		if err := conn.WriteJSON(subReq{Op: "subscribe", Args: topics}); err != nil {
			_ = conn.Close()
			log.Error().Err(err).Msg("bybit ws subscribe failed")
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		backoff.Reset()
		log.Info().Msg("bybit ws connected & subscribed")

		err = exchange.ReadWithPing(ctx, conn, s.HandleMessage)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("bybit ws disconnected, reconnecting")
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

// HandleMessage merges one ws frame into the cache. Empty delta fields keep the previous value.
func (s *TickerStream) HandleMessage(b []byte) {
	var msg tickerMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Err(err).Msg("bybit ws message dropped")
		return
	}
	if msg.Success != nil {
		if !*msg.Success {
			log.Error().Str("ret_msg", msg.RetMsg).Msg("bybit ws subscribe rejected")
		}
		return
	}
	if len(msg.Data) == 0 {
		return
	}

	ts := serverTime(msg.Ts)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range msg.Data {
		sym := strings.ToUpper(strings.TrimSpace(d.Symbol))
		if sym == "" {
			sym = strings.TrimPrefix(msg.Topic, "tickers.")
		}
		if sym == "" {
			continue
		}
		c, ok := s.cache[sym]
		if !ok || msg.Type == "snapshot" {
			c = &cachedTicker{}
			s.cache[sym] = c
		}
		mergeTicker(&c.item, d)
		c.item.Symbol = sym
		c.ts = ts
		c.updated = now
	}
}

func mergeTicker(dst *tickerItem, src tickerItem) {
	set := func(d *string, v string) {
		if v != "" {
			*d = v
		}
	}
	set(&dst.LastPrice, src.LastPrice)
	set(&dst.Turnover24h, src.Turnover24h)
	set(&dst.Volume24h, src.Volume24h)
	set(&dst.MarkPrice, src.MarkPrice)
	set(&dst.IndexPrice, src.IndexPrice)
	set(&dst.FundingRate, src.FundingRate)
	set(&dst.NextFundingTime, src.NextFundingTime)
	set(&dst.Bid1Price, src.Bid1Price)
	set(&dst.Ask1Price, src.Ask1Price)
}
