package main

import (
	"context"
	"flag"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"fundarb/internal/infrastructure/svc"
	"fundarb/internal/interfaces/httpapi"
)

func runScan(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	profile := fs.String("profile", "", "threshold profile (ultra|aggressive|normal|conservative)")
	once := fs.Bool("once", false, "run a single scan cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := sc.NewEngine(*profile)
	if err != nil {
		return err
	}
	th := engine.Thresholds()
	log.Info().
		Float64("min_funding_rate", th.MinFundingRate).
		Float64("max_risk_score", th.MaxRiskScore).
		Float64("min_volume_24h", th.MinVolume24h).
		Float64("max_spread_bps", th.MaxSpreadBps).
		Msg("scanner thresholds")

	if *once {
		return engine.Cycle(ctx)
	}

	sc.StartTickerStream(ctx)

	if sc.Config.HTTP.Enabled {
		gin.SetMode(gin.ReleaseMode)
		router := httpapi.NewRouter(&httpapi.Handler{
			History:    engine.History(),
			Store:      sc.Store(),
			Pairs:      engine.Pairs(),
			Thresholds: th,
		})
		go func() {
			if err := httpapi.Serve(ctx, sc.Config.HTTP.Addr, router); err != nil {
				log.Error().Err(err).Msg("http api stopped")
			}
		}()
	}

	return engine.Run(ctx, sc.ScannerLoop())
}
