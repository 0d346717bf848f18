package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/exchange"
)

const (
	DefaultBybitRESTURL    = "https://api.bybit.com"
	DefaultBybitTestnetURL = "https://api-testnet.bybit.com"
	DefaultBybitWsURL      = "wss://stream.bybit.com/v5/public/linear"
)

// Pair [[pairs]] 配置项
type Pair struct {
	Name            string  `toml:"name"`
	Spot            string  `toml:"spot"`
	Perpetual       string  `toml:"perpetual"`
	MinPositionSize float64 `toml:"min_position_size"`
	TickSize        float64 `toml:"tick_size"`
}

type Config struct {
	App struct {
		Name string `toml:"name"`
	} `toml:"app"`

	Pairs []Pair `toml:"pairs"`

	Collector struct {
		Interval         string `toml:"interval"`
		BatchSize        int    `toml:"batch_size"`
		BatchDelayMs     int    `toml:"batch_delay_ms"`
		ErrorSkipMinutes int    `toml:"error_skip_minutes"`
		ErrorBackoffMs   int    `toml:"error_backoff_ms"`
		LookbackDays     int    `toml:"lookback_days"`
		Schedule         string `toml:"schedule"`
	} `toml:"collector"`

	Scanner struct {
		Profile         string `toml:"profile"`
		ScanIntervalSec int    `toml:"scan_interval_sec"`
		ErrorBackoffSec int    `toml:"error_backoff_sec"`
		LogPath         string `toml:"log_path"`
		HistoryLimit    int    `toml:"history_limit"`
		BookDepth       int    `toml:"book_depth"`

		// optional overrides on top of the profile
		MinFundingRate *float64 `toml:"min_funding_rate"`
		MinBasisBps    *float64 `toml:"min_basis_bps"`
		MaxRiskScore   *float64 `toml:"max_risk_score"`
		MinVolume24h   *float64 `toml:"min_volume_24h"`
		MaxSpreadBps   *float64 `toml:"max_spread_bps"`
	} `toml:"scanner"`

	Exchange struct {
		Bybit struct {
			RestURL        string  `toml:"rest_url"`
			WsURL          string  `toml:"ws_url"`
			WsEnabled      bool    `toml:"ws_enabled"`
			Testnet        bool    `toml:"testnet"`
			TimeoutSec     int     `toml:"timeout_sec"`
			RateLimitRPS   float64 `toml:"rate_limit_rps"`
			RateLimitBurst int     `toml:"rate_limit_burst"`
		} `toml:"bybit"`
	} `toml:"exchange"`

	Storage struct {
		Driver string `toml:"driver"` // sqlite | postgres
	} `toml:"storage"`

	SQLite struct {
		Path string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		DSN          string `toml:"dsn"`
		MaxOpenConns int    `toml:"max_open_conns"`
	} `toml:"postgres"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		TTLSeconds int    `toml:"ttl_seconds"`
		Stream     string `toml:"stream"`
		Channel    string `toml:"channel"`
	} `toml:"redis"`

	HTTP struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"http"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
}

// Load 读取 .env + TOML 文件，环境变量优先
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv reads .env from the working directory when present.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("BYBIT_TESTNET"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Exchange.Bybit.Testnet = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("FUNDARB_POSTGRES_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("FUNDARB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("FUNDARB_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fundarb"
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = []Pair{
			{Name: "BTC/USDT", MinPositionSize: 0.001, TickSize: 0.1},
			{Name: "ETH/USDT", MinPositionSize: 0.01, TickSize: 0.01},
			{Name: "SOL/USDT", MinPositionSize: 0.1, TickSize: 0.001},
		}
	}

	c := &cfg.Collector
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.BatchDelayMs <= 0 {
		c.BatchDelayMs = 100
	}
	if c.ErrorSkipMinutes <= 0 {
		c.ErrorSkipMinutes = 60
	}
	if c.ErrorBackoffMs <= 0 {
		c.ErrorBackoffMs = 2000
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.Schedule == "" {
		c.Schedule = "@every 1h"
	}

	s := &cfg.Scanner
	if s.ScanIntervalSec <= 0 {
		s.ScanIntervalSec = 30
	}
	if s.ErrorBackoffSec <= 0 {
		s.ErrorBackoffSec = 60
	}
	if s.LogPath == "" {
		s.LogPath = "logs/opportunities.json"
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = service.DefaultHistoryLimit
	}
	if s.BookDepth <= 0 {
		s.BookDepth = service.DefaultBookDepth
	}

	b := &cfg.Exchange.Bybit
	if b.RestURL == "" {
		b.RestURL = DefaultBybitRESTURL
		if b.Testnet {
			b.RestURL = DefaultBybitTestnetURL
		}
	}
	if b.WsURL == "" {
		b.WsURL = DefaultBybitWsURL
	}
	if b.TimeoutSec <= 0 {
		b.TimeoutSec = 10
	}
	if b.RateLimitRPS <= 0 {
		b.RateLimitRPS = 10
	}
	if b.RateLimitBurst <= 0 {
		b.RateLimitBurst = 5
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/fundarb.db"
	}
	if cfg.Postgres.MaxOpenConns <= 0 {
		cfg.Postgres.MaxOpenConns = 10
	}

	r := &cfg.Redis
	if r.Addr == "" {
		r.Addr = "127.0.0.1:6379"
	}
	if r.Prefix == "" {
		r.Prefix = "fundarb"
	}
	if r.TTLSeconds <= 0 {
		r.TTLSeconds = 600
	}
	if r.Stream == "" {
		r.Stream = "opportunities"
	}
	if r.Channel == "" {
		r.Channel = "opportunities"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 50
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
}

func validate(cfg *Config) error {
	pairs, err := normalizePairs(cfg.Pairs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("pairs is empty")
	}
	cfg.Pairs = pairs

	if _, err := model.ParseTimeframe(cfg.Collector.Interval); err != nil {
		return fmt.Errorf("collector.interval: %w", err)
	}
	if _, err := service.ParseProfile(cfg.Scanner.Profile); err != nil {
		return fmt.Errorf("scanner.profile: %w", err)
	}
	if _, err := cfg.Thresholds(""); err != nil {
		return err
	}

	switch cfg.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return errors.New("sqlite.path empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return errors.New("postgres.dsn empty but storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}

	if cfg.Exchange.Bybit.WsEnabled && strings.TrimSpace(cfg.Exchange.Bybit.WsURL) == "" {
		return errors.New("exchange.bybit.ws_url empty but enabled")
	}
	return nil
}

// normalizePairs derives missing exchange symbols (BTC/USDT -> BTCUSDT, BTC/USDT:USDT -> BTCUSDT) and drops duplicates.
func normalizePairs(in []Pair) ([]Pair, error) {
	out := make([]Pair, 0, len(in))
	seen := map[string]struct{}{}
	for _, p := range in {
		p.Name = strings.ToUpper(strings.TrimSpace(p.Name))
		if p.Name == "" {
			continue
		}
		if !strings.Contains(p.Name, "/") {
			return nil, fmt.Errorf("pair %q must look like BASE/QUOTE", p.Name)
		}
		if i := strings.Index(p.Name, ":"); i >= 0 {
			p.Name = p.Name[:i]
		}
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}

		quote := p.Name[strings.Index(p.Name, "/")+1:]
		raw := exchange.NewCommonSymbolConverter(quote).PairToSymbol(p.Name)
		if p.Spot = strings.ToUpper(strings.TrimSpace(p.Spot)); p.Spot == "" {
			p.Spot = raw
		}
		if p.Perpetual = strings.ToUpper(strings.TrimSpace(p.Perpetual)); p.Perpetual == "" {
			p.Perpetual = raw
		}
		out = append(out, p)
	}
	return out, nil
}

// ModelPairs 转换为领域交易对
func (c *Config) ModelPairs() []model.Pair {
	out := make([]model.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, model.Pair{
			Name:            p.Name,
			Spot:            p.Spot,
			Perpetual:       p.Perpetual,
			MinPositionSize: p.MinPositionSize,
			TickSize:        p.TickSize,
		})
	}
	return out
}

// Thresholds builds the immutable scanner thresholds; profile overrides scanner.profile when non-empty.
func (c *Config) Thresholds(profile string) (service.Thresholds, error) {
	if profile == "" {
		profile = c.Scanner.Profile
	}
	p, err := service.ParseProfile(profile)
	if err != nil {
		return service.Thresholds{}, err
	}
	base, err := service.ProfileThresholds(p)
	if err != nil {
		return service.Thresholds{}, err
	}
	th := base.With(service.Overrides{
		MinFundingRate: c.Scanner.MinFundingRate,
		MinBasisBps:    c.Scanner.MinBasisBps,
		MaxRiskScore:   c.Scanner.MaxRiskScore,
		MinVolume24h:   c.Scanner.MinVolume24h,
		MaxSpreadBps:   c.Scanner.MaxSpreadBps,
	})
	if err := th.Validate(); err != nil {
		return service.Thresholds{}, fmt.Errorf("scanner thresholds: %w", err)
	}
	return th, nil
}

func (c *Config) CollectorConfig() service.CollectorConfig {
	return service.CollectorConfig{
		Interval:     c.Collector.Interval,
		BatchSize:    c.Collector.BatchSize,
		BatchDelay:   time.Duration(c.Collector.BatchDelayMs) * time.Millisecond,
		ErrorSkip:    time.Duration(c.Collector.ErrorSkipMinutes) * time.Minute,
		ErrorBackoff: time.Duration(c.Collector.ErrorBackoffMs) * time.Millisecond,
	}
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.ScanIntervalSec) * time.Second
}

func (c *Config) ScanBackoff() time.Duration {
	return time.Duration(c.Scanner.ErrorBackoffSec) * time.Second
}

func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Collector.LookbackDays) * 24 * time.Hour
}
