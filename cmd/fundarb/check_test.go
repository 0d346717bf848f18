package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/config"
	sqliterepo "fundarb/internal/infrastructure/storage/sqlite"
)

func TestRunCheck(t *testing.T) {
	repo, err := sqliterepo.New(filepath.Join(t.TempDir(), "check.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := decimal.NewFromInt(100)
	c1, _ := model.NewCandle("BTC/USDT", t0, p, p, p, p, decimal.Zero)
	c2, _ := model.NewCandle("BTC/USDT", t0.Add(time.Hour), p, p, p, p, decimal.Zero)
	if _, err := repo.InsertCandles(ctx, model.KindSpot, []model.Candle{c1, c2}); err != nil {
		t.Fatalf("insert candles: %v", err)
	}
	var events []model.FundingEvent
	for i := 0; i < 4; i++ {
		e, _ := model.NewFundingEvent("BTC/USDT", t0.Add(time.Duration(i)*8*time.Hour), 0.0001*float64(i+1))
		events = append(events, e)
	}
	if _, err := repo.InsertFundingEvents(ctx, events); err != nil {
		t.Fatalf("insert funding: %v", err)
	}

	var buf bytes.Buffer
	pairs := []model.Pair{{Name: "BTC/USDT"}, {Name: "ETH/USDT"}}
	if err := runCheck(ctx, &buf, repo, pairs); err != nil {
		t.Fatalf("runCheck failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "spot              2  2024-01-01T00:00:00Z .. 2024-01-01T01:00:00Z") {
		t.Errorf("missing spot summary:\n%s", out)
	}
	if strings.Count(out, "  funding ") != 3 {
		t.Errorf("expected the last 3 funding rates:\n%s", out)
	}
	if !strings.Contains(out, "rate=0.000400  annual=43.80%") {
		t.Errorf("newest funding rate should be listed with annual rate:\n%s", out)
	}
	if !strings.Contains(out, "ETH/USDT\n  spot              0") {
		t.Errorf("empty pair should show zero counts:\n%s", out)
	}
}

func TestRunConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[scanner]\nprofile = \"conservative\"\nmax_risk_score = 4.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	var buf bytes.Buffer
	if err := runConfig(&buf, cfg, nil); err != nil {
		t.Fatalf("runConfig failed: %v", err)
	}
	if !strings.Contains(buf.String(), "profile          conservative") || !strings.Contains(buf.String(), "max_risk_score   4.50") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	if err := runConfig(&buf, cfg, []string{"-profile", "yolo"}); err == nil {
		t.Error("unknown profile should fail")
	}
}
