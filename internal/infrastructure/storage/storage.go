package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Dialect SQL 方言差异（占位符）
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Table names per series.
const (
	TableSpotCandles      = "spot_candles"
	TablePerpetualCandles = "perpetual_candles"
	TableFundingEvents    = "funding_events"
	TableOpportunities    = "opportunities"
)

// SQLStore MarketStore + OpportunitySink on database/sql.
// Queries are written with ? and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ port.MarketStore     = (*SQLStore)(nil)
	_ port.OpportunitySink = (*SQLStore)(nil)
)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// TableFor maps a series kind to its table.
func TableFor(kind model.SeriesKind) (string, error) {
	switch kind {
	case model.KindSpot:
		return TableSpotCandles, nil
	case model.KindPerpetual:
		return TablePerpetualCandles, nil
	case model.KindFunding:
		return TableFundingEvents, nil
	default:
		return "", fmt.Errorf("unknown series kind %q", kind)
	}
}

func (s *SQLStore) LatestTimestamp(ctx context.Context, kind model.SeriesKind, symbol string) (time.Time, bool, error) {
	table, err := TableFor(kind)
	if err != nil {
		return time.Time{}, false, err
	}
	query := `SELECT MAX(ts_ms) FROM ` + table + ` WHERE symbol = ?`
	if kind == model.KindFunding {
		// snapshots are stamped at fetch time and must not move the resume point
		query += ` AND is_snapshot = 0`
	}
	var ms sql.NullInt64
	err = s.db.QueryRowContext(ctx, s.q(query), symbol).Scan(&ms)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

func (s *SQLStore) Exists(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (bool, error) {
	table, err := TableFor(kind)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM `+table+` WHERE symbol = ? AND ts_ms = ? LIMIT 1`), symbol, ts.UnixMilli()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertCandles one transaction per batch; present keys are left untouched.
func (s *SQLStore) InsertCandles(ctx context.Context, kind model.SeriesKind, candles []model.Candle) (int, error) {
	if !kind.IsCandle() {
		return 0, fmt.Errorf("%s is not a candle series", kind)
	}
	if len(candles) == 0 {
		return 0, nil
	}
	table, _ := TableFor(kind)
	query := s.q(`INSERT INTO ` + table + `(symbol, ts_ms, open, high, low, close, volume, mark_price, index_price, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts_ms) DO NOTHING`)

	now := time.Now().UnixMilli()
	return s.inTx(ctx, query, len(candles), func(i int) []any {
		c := candles[i]
		return []any{c.Symbol, c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume, c.MarkPrice, c.IndexPrice, now}
	})
}

func (s *SQLStore) InsertFundingEvents(ctx context.Context, events []model.FundingEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	query := s.q(`INSERT INTO ` + TableFundingEvents + `(symbol, ts_ms, funding_rate, predicted_rate, perpetual_price, spot_price, basis_bps, is_snapshot, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts_ms) DO NOTHING`)

	now := time.Now().UnixMilli()
	return s.inTx(ctx, query, len(events), func(i int) []any {
		e := events[i]
		return []any{e.Symbol, e.Timestamp.UnixMilli(), e.FundingRate,
			nullFloat(e.PredictedRate), nullFloat(e.PerpetualPrice), nullFloat(e.SpotPrice), nullFloat(e.BasisBps), boolInt(e.Snapshot), now}
	})
}

func (s *SQLStore) inTx(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for i := 0; i < n; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, err
		}
		if affected, err := res.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLStore) CandleAt(ctx context.Context, kind model.SeriesKind, symbol string, ts time.Time) (*model.Candle, error) {
	if !kind.IsCandle() {
		return nil, fmt.Errorf("%s is not a candle series", kind)
	}
	table, _ := TableFor(kind)
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT symbol, ts_ms, open, high, low, close, volume, mark_price, index_price
		FROM `+table+` WHERE symbol = ? AND ts_ms = ?`), symbol, ts.UnixMilli())

	var (
		c  model.Candle
		ms int64
	)
	err := row.Scan(&c.Symbol, &ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.MarkPrice, &c.IndexPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Timestamp = time.UnixMilli(ms).UTC()
	return &c, nil
}

// RecentFundingEvents newest first.
func (s *SQLStore) RecentFundingEvents(ctx context.Context, symbol string, limit int) ([]model.FundingEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT symbol, ts_ms, funding_rate, predicted_rate, perpetual_price, spot_price, basis_bps, is_snapshot
		FROM `+TableFundingEvents+` WHERE symbol = ?
		ORDER BY ts_ms DESC LIMIT ?`), symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FundingEvent
	for rows.Next() {
		var (
			e                               model.FundingEvent
			ms                              int64
			predicted, perp, spot, basisBps sql.NullFloat64
			snapshot                        int
		)
		if err := rows.Scan(&e.Symbol, &ms, &e.FundingRate, &predicted, &perp, &spot, &basisBps, &snapshot); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ms).UTC()
		e.PredictedRate = floatPtr(predicted)
		e.PerpetualPrice = floatPtr(perp)
		e.SpotPrice = floatPtr(spot)
		e.BasisBps = floatPtr(basisBps)
		e.Snapshot = snapshot != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) SeriesStats(ctx context.Context, kind model.SeriesKind, symbol string) (model.SeriesStats, error) {
	st := model.SeriesStats{Kind: kind, Symbol: symbol}
	table, err := TableFor(kind)
	if err != nil {
		return st, err
	}
	var first, last sql.NullInt64
	err = s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*), MIN(ts_ms), MAX(ts_ms) FROM `+table+` WHERE symbol = ?`), symbol).
		Scan(&st.Count, &first, &last)
	if err != nil {
		return st, err
	}
	if first.Valid {
		st.First = time.UnixMilli(first.Int64).UTC()
	}
	if last.Valid {
		st.Last = time.UnixMilli(last.Int64).UTC()
	}
	return st, nil
}

// SaveOpportunities 保存机会（按 id 去重）
func (s *SQLStore) SaveOpportunities(ctx context.Context, batch []model.Opportunity) error {
	if len(batch) == 0 {
		return nil
	}
	query := s.q(`INSERT INTO ` + TableOpportunities + `(
			id, symbol, ts_ms, opportunity_type, action, confidence, funding_rate, annual_rate_pct,
			profit_potential_pct, risk_score, basis_bps, min_capital, payload, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)

	payloads := make([]string, len(batch))
	for i, o := range batch {
		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode opportunity %s: %w", o.ID, err)
		}
		payloads[i] = string(b)
	}
	now := time.Now().UnixMilli()
	_, err := s.inTx(ctx, query, len(batch), func(i int) []any {
		o := batch[i]
		return []any{o.ID, o.Symbol, o.ObservedAt.UnixMilli(), string(o.Type), string(o.Action), string(o.Confidence),
			o.FundingRate, o.AnnualFundingRatePct, o.ProfitPotentialPct, o.RiskScore, o.BasisBps, o.MinCapital, payloads[i], now}
	})
	return err
}

// RecentOpportunities newest first; empty symbol means all pairs.
func (s *SQLStore) RecentOpportunities(ctx context.Context, symbol string, limit int) ([]model.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT payload FROM ` + TableOpportunities
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY ts_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o model.Opportunity
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("decode stored opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
