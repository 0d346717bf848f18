package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"fundarb/internal/infrastructure/storage"
)

// Repo 本地 SQLite 行情库（单文件，单连接）
type Repo struct {
	*storage.SQLStore
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{SQLStore: storage.NewSQLStore(db, storage.DialectSQLite)}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// prices are TEXT so decimals round-trip exactly
func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.DB().ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS spot_candles (
  symbol TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  open TEXT NOT NULL,
  high TEXT NOT NULL,
  low TEXT NOT NULL,
  close TEXT NOT NULL,
  volume TEXT NOT NULL,
  mark_price TEXT,
  index_price TEXT,
  created_at INTEGER NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS perpetual_candles (
  symbol TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  open TEXT NOT NULL,
  high TEXT NOT NULL,
  low TEXT NOT NULL,
  close TEXT NOT NULL,
  volume TEXT NOT NULL,
  mark_price TEXT,
  index_price TEXT,
  created_at INTEGER NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS funding_events (
  symbol TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  funding_rate REAL NOT NULL,
  predicted_rate REAL,
  perpetual_price REAL,
  spot_price REAL,
  basis_bps REAL,
  is_snapshot INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  PRIMARY KEY(symbol, ts_ms)
);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  opportunity_type TEXT NOT NULL,
  action TEXT NOT NULL,
  confidence TEXT NOT NULL,
  funding_rate REAL NOT NULL,
  annual_rate_pct REAL NOT NULL,
  profit_potential_pct REAL NOT NULL,
  risk_score REAL NOT NULL,
  basis_bps REAL NOT NULL,
  min_capital REAL NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(ts_ms);
CREATE INDEX IF NOT EXISTS idx_opportunities_symbol ON opportunities(symbol);
`)
	return err
}
