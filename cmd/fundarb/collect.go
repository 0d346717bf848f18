package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"fundarb/internal/infrastructure/svc"
)

func runCollect(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	days := fs.Int("days", sc.Config.Collector.LookbackDays, "days of history to backfill")
	live := fs.Bool("live", false, "keep collecting on collector.schedule")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collector, err := sc.NewCollector()
	if err != nil {
		return err
	}
	lookback := time.Duration(*days) * 24 * time.Hour

	if *live {
		loop, err := sc.CollectorLoop()
		if err != nil {
			return err
		}
		sc.StartTickerStream(ctx)
		log.Info().Int("days", *days).Str("schedule", sc.Config.Collector.Schedule).Msg("continuous collection")
		return collector.RunContinuous(ctx, loop, lookback)
	}

	end := time.Now().UTC()
	reports, err := collector.Collect(ctx, end.Add(-lookback), end)

	inserted, errs := 0, 0
	for _, r := range reports {
		inserted += r.Inserted
		errs += r.Errors
	}
	log.Info().
		Int("series", len(reports)).
		Int("inserted", inserted).
		Int("errors", errs).
		Msg("collection finished")
	return err
}
