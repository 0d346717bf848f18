package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fundarb/internal/infrastructure/storage"
)

// Repo 共享 PostgreSQL 行情库
type Repo struct {
	*storage.SQLStore
}

func New(dsn string, maxOpenConns int) (*Repo, error) {
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)

	r := &Repo{SQLStore: storage.NewSQLStore(db, storage.DialectPostgres)}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.DB().ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS spot_candles (
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  open NUMERIC NOT NULL,
  high NUMERIC NOT NULL,
  low NUMERIC NOT NULL,
  close NUMERIC NOT NULL,
  volume NUMERIC NOT NULL,
  mark_price NUMERIC,
  index_price NUMERIC,
  created_at BIGINT NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS perpetual_candles (
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  open NUMERIC NOT NULL,
  high NUMERIC NOT NULL,
  low NUMERIC NOT NULL,
  close NUMERIC NOT NULL,
  volume NUMERIC NOT NULL,
  mark_price NUMERIC,
  index_price NUMERIC,
  created_at BIGINT NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS funding_events (
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  funding_rate DOUBLE PRECISION NOT NULL,
  predicted_rate DOUBLE PRECISION,
  perpetual_price DOUBLE PRECISION,
  spot_price DOUBLE PRECISION,
  basis_bps DOUBLE PRECISION,
  is_snapshot SMALLINT NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  opportunity_type TEXT NOT NULL,
  action TEXT NOT NULL,
  confidence TEXT NOT NULL,
  funding_rate DOUBLE PRECISION NOT NULL,
  annual_rate_pct DOUBLE PRECISION NOT NULL,
  profit_potential_pct DOUBLE PRECISION NOT NULL,
  risk_score DOUBLE PRECISION NOT NULL,
  basis_bps DOUBLE PRECISION NOT NULL,
  min_capital DOUBLE PRECISION NOT NULL,
  payload TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(ts_ms);
`)
	return err
}
