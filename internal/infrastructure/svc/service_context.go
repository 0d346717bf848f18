package svc

import (
	"context"
	"fmt"
	"os"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/exchange/bybit"
	"fundarb/internal/infrastructure/storage"
	"fundarb/internal/infrastructure/storage/composite"
	"fundarb/internal/infrastructure/storage/jsonl"
	pgrepo "fundarb/internal/infrastructure/storage/postgres"
	redisrepo "fundarb/internal/infrastructure/storage/redis"
	sqliterepo "fundarb/internal/infrastructure/storage/sqlite"
	"fundarb/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层
	market    *bybit.Client
	stream    *bybit.TickerStream
	store     *storage.SQLStore
	redisRepo *redisrepo.Repo
	logWriter *jsonl.Writer

	// 输出端口
	sinks   *composite.Repo
	display port.Display
	history *service.OpportunityHistory

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	if len(cfg.Pairs) == 0 {
		return nil, ErrNoPairs
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		display:     console.NewDisplay(os.Stdout, true),
		history:     service.NewOpportunityHistory(service.DefaultHistoryCapacity),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化
func (sc *ServiceContext) initializeComponents() error {
	sc.initMarket()

	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	if err := sc.initializeSinks(); err != nil {
		return err
	}

	log.Info().
		Int("pairs", len(sc.Config.Pairs)).
		Str("storage", sc.Config.Storage.Driver).
		Int("sinks", sc.sinks.Len()).
		Msg("✓ All components initialized")
	return nil
}

func (sc *ServiceContext) initMarket() {
	b := sc.Config.Exchange.Bybit
	sc.market = bybit.NewClient(bybit.Options{
		BaseURL:        b.RestURL,
		Timeout:        time.Duration(b.TimeoutSec) * time.Second,
		RateLimitRPS:   b.RateLimitRPS,
		RateLimitBurst: b.RateLimitBurst,
	})

	if b.WsEnabled {
		symbols := make([]string, 0, len(sc.Config.Pairs))
		for _, p := range sc.Config.Pairs {
			symbols = append(symbols, p.Perpetual)
		}
		sc.stream = bybit.NewTickerStream(b.WsURL, symbols)
		sc.market.WithTickerStream(sc.stream)
	}

	log.Info().
		Str("rest", b.RestURL).
		Bool("ws", b.WsEnabled).
		Float64("rps", b.RateLimitRPS).
		Msg("✓ Bybit client initialized")
}

// initializeStorage 初始化行情库 (SQLite 或 Postgres)
func (sc *ServiceContext) initializeStorage() error {
	switch sc.Config.Storage.Driver {
	case "postgres":
		repo, err := pgrepo.New(sc.Config.Postgres.DSN, sc.Config.Postgres.MaxOpenConns)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		sc.store = repo.SQLStore
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("✓ Postgres initialized")

	default:
		repo, err := sqliterepo.New(sc.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		sc.store = repo.SQLStore
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
	}
	return nil
}

// initializeSinks JSONL 日志必有；Redis 可选；SQL opportunities 表总是写入
func (sc *ServiceContext) initializeSinks() error {
	w, err := jsonl.New(sc.Config.Scanner.LogPath)
	if err != nil {
		return fmt.Errorf("opportunity log init failed: %w", err)
	}
	sc.logWriter = w

	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	sinks := []port.OpportunitySink{sc.logWriter, sc.store}
	if sc.redisRepo != nil {
		sinks = append(sinks, sc.redisRepo)
	}
	sc.sinks = composite.New(sinks...)
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		time.Duration(sc.Config.Redis.TTLSeconds)*time.Second,
		sc.Config.Redis.Stream,
		sc.Config.Redis.Channel,
	)

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

// StartTickerStream runs the linear ticker websocket in the background when enabled.
func (sc *ServiceContext) StartTickerStream(ctx context.Context) {
	if sc.stream == nil {
		return
	}
	go func() {
		if err := sc.stream.Run(ctx); err != nil && !service.IsCancelled(err) {
			log.Error().Err(err).Msg("bybit ticker stream stopped")
		}
	}()
}

func (sc *ServiceContext) Market() port.MarketData { return sc.market }

func (sc *ServiceContext) Store() *storage.SQLStore { return sc.store }

func (sc *ServiceContext) History() *service.OpportunityHistory { return sc.history }

// NewCollector 构建历史采集器
func (sc *ServiceContext) NewCollector() (*service.Collector, error) {
	return service.NewCollector(sc.market, sc.store, sc.Config.ModelPairs(), sc.Config.CollectorConfig())
}

// CollectorLoop 持续采集调度（cron 表达式）
func (sc *ServiceContext) CollectorLoop() (*service.Loop, error) {
	loop := service.NewLoop("collector", time.Hour, time.Duration(sc.Config.Collector.ErrorBackoffMs)*time.Millisecond)
	return loop.WithSchedule(sc.Config.Collector.Schedule)
}

// NewEngine 构建机会引擎；profile 为空时使用配置中的 scanner.profile
func (sc *ServiceContext) NewEngine(profile string) (*service.Engine, error) {
	th, err := sc.Config.Thresholds(profile)
	if err != nil {
		return nil, err
	}
	return service.NewEngine(service.EngineDeps{
		Market:       sc.market,
		Store:        sc.store,
		Pairs:        sc.Config.ModelPairs(),
		Thresholds:   th,
		Sink:         sc.sinks,
		Display:      sc.display,
		History:      sc.history,
		BookDepth:    sc.Config.Scanner.BookDepth,
		HistoryLimit: sc.Config.Scanner.HistoryLimit,
	}), nil
}

// ScannerLoop 扫描循环
func (sc *ServiceContext) ScannerLoop() *service.Loop {
	return service.NewLoop("scanner", sc.Config.ScanInterval(), sc.Config.ScanBackoff())
}

// Close 按照相反的顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
