package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/config"
)

// runCheck 每个交易对各序列的条数、首尾时间，以及最近 3 次资金费率
func runCheck(ctx context.Context, w io.Writer, store port.MarketStore, pairs []model.Pair) error {
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\n", p.Name)
		for _, kind := range model.AllKinds {
			st, err := store.SeriesStats(ctx, kind, p.Name)
			if err != nil {
				return fmt.Errorf("%s %s stats: %w", p.Name, kind, err)
			}
			if st.Count == 0 {
				fmt.Fprintf(w, "  %-10s %8d\n", kind, 0)
				continue
			}
			fmt.Fprintf(w, "  %-10s %8d  %s .. %s\n", kind, st.Count,
				st.First.Format(time.RFC3339), st.Last.Format(time.RFC3339))
		}

		events, err := store.RecentFundingEvents(ctx, p.Name, 3)
		if err != nil {
			return fmt.Errorf("%s recent funding: %w", p.Name, err)
		}
		for _, e := range events {
			fmt.Fprintf(w, "  funding %s  rate=%.6f  annual=%.2f%%\n",
				e.Timestamp.Format(time.RFC3339), e.FundingRate, e.AnnualRatePct())
		}
	}
	return nil
}

func runConfig(w io.Writer, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	profile := fs.String("profile", "", "threshold profile (ultra|aggressive|normal|conservative)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	th, err := cfg.Thresholds(*profile)
	if err != nil {
		return err
	}
	name := *profile
	if name == "" {
		p, _ := service.ParseProfile(cfg.Scanner.Profile)
		name = string(p)
	}

	fmt.Fprintf(w, "profile          %s\n", name)
	fmt.Fprintf(w, "min_funding_rate %.6f\n", th.MinFundingRate)
	fmt.Fprintf(w, "min_basis_bps    %.2f\n", th.MinBasisBps)
	fmt.Fprintf(w, "max_risk_score   %.2f\n", th.MaxRiskScore)
	fmt.Fprintf(w, "min_volume_24h   %.0f\n", th.MinVolume24h)
	fmt.Fprintf(w, "max_spread_bps   %.2f\n", th.MaxSpreadBps)
	fmt.Fprintf(w, "scan_interval    %s\n", cfg.ScanInterval())
	fmt.Fprintf(w, "pairs            %d\n", len(cfg.Pairs))
	return nil
}
