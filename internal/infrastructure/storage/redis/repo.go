package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo 机会广播：stream 留档 + pubsub 推送 + latest 哈希
type Repo struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	keyLatest string // prefix + ":latest"
	stream    string
	channel   string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, stream, channel string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "fundarb"
	}
	if strings.TrimSpace(stream) == "" {
		stream = "opportunities"
	}
	if strings.TrimSpace(channel) == "" {
		channel = "opportunities"
	}
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyLatest: prefix + ":latest",
		stream:    prefix + ":" + stream,
		channel:   prefix + ":" + channel,
	}
}

// Message published on the channel for each batch.
type Message struct {
	TsMs          int64                       `json:"ts_ms"`
	Count         int                         `json:"count"`
	Opportunities []model.OpportunityLogEntry `json:"opportunities"`
}

func (r *Repo) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	for _, o := range batch {
		payload, err := json.Marshal(o)
		if err != nil {
			return err
		}
		// Stream: XADD <stream> * id symbol ...
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: streamValues(o, string(payload)),
		})
		// Hash: field = "BTC/USDT" -> json
		pipe.HSet(ctx, r.keyLatest, o.Symbol, string(payload))
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	msg, err := encodeMessage(batch)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, msg).Err()
}

func (r *Repo) Close() error { return r.rdb.Close() }

func streamValues(o model.Opportunity, payload string) map[string]any {
	return map[string]any{
		"id":           o.ID,
		"ts_ms":        o.ObservedAt.UnixMilli(),
		"symbol":       o.Symbol,
		"funding_rate": o.FundingRate,
		"profit_pct":   o.ProfitPotentialPct,
		"risk_score":   o.RiskScore,
		"action":       string(o.Action),
		"payload":      payload,
	}
}

func encodeMessage(batch []model.Opportunity) (string, error) {
	m := Message{Count: len(batch), Opportunities: make([]model.OpportunityLogEntry, 0, len(batch))}
	for _, o := range batch {
		if ts := o.ObservedAt.UnixMilli(); ts > m.TsMs {
			m.TsMs = ts
		}
		m.Opportunities = append(m.Opportunities, o.LogEntry())
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ port.OpportunitySink = (*Repo)(nil)
