package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fundarb/internal/application/service"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/logger"
	"fundarb/internal/infrastructure/svc"
)

const usage = `usage: fundarb [-config path] <command> [flags]

commands:
  collect [-days N] [-live]       backfill candles and funding history
  scan [-profile p] [-once]       run the opportunity engine
  check                           summarize stored series
  config [-profile p]             print effective scanner thresholds
`

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, cmdArgs := args[0], args[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger not configured yet
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}

	// config needs no storage or network
	if cmd == "config" {
		if err := runConfig(os.Stdout, cfg, cmdArgs); err != nil {
			log.Fatal().Err(err).Msg("config failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("service initialization failed")
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Str("command", cmd).
		Int("pairs", len(cfg.Pairs)).
		Msg(cfg.App.Name + " started")

	switch cmd {
	case "collect":
		err = runCollect(ctx, sc, cmdArgs)
	case "scan":
		err = runScan(ctx, sc, cmdArgs)
	case "check":
		err = runCheck(ctx, os.Stdout, sc.Store(), cfg.ModelPairs())
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !service.IsCancelled(err) {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		_ = sc.Close()
		os.Exit(1)
	}
	log.Info().Str("command", cmd).Msg("done")
}
