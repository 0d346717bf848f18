package service

import (
	"fmt"
	"strings"
)

// Profile 扫描阈值预设
type Profile string

const (
	ProfileUltra        Profile = "ultra"
	ProfileAggressive   Profile = "aggressive"
	ProfileNormal       Profile = "normal"
	ProfileConservative Profile = "conservative"
)

// Thresholds is an immutable filter/risk configuration; build once per run and pass by value.
type Thresholds struct {
	MinFundingRate float64 `json:"min_funding_rate"`
	MinBasisBps    float64 `json:"min_basis_bps"` // reported only, not a filter
	MaxRiskScore   float64 `json:"max_risk_score"`
	MinVolume24h   float64 `json:"min_volume_24h"`
	MaxSpreadBps   float64 `json:"max_spread_bps"`
}

// Overrides nil fields keep the profile value.
type Overrides struct {
	MinFundingRate *float64
	MinBasisBps    *float64
	MaxRiskScore   *float64
	MinVolume24h   *float64
	MaxSpreadBps   *float64
}

var profiles = map[Profile]Thresholds{
	ProfileNormal: {
		MinFundingRate: 0.0001,
		MinBasisBps:    5,
		MaxRiskScore:   7,
		MinVolume24h:   1_000_000,
		MaxSpreadBps:   10,
	},
	ProfileAggressive: {
		MinFundingRate: 0.00005,
		MinBasisBps:    5,
		MaxRiskScore:   8,
		MinVolume24h:   500_000,
		MaxSpreadBps:   15,
	},
	ProfileConservative: {
		MinFundingRate: 0.0002,
		MinBasisBps:    5,
		MaxRiskScore:   5,
		MinVolume24h:   2_000_000,
		MaxSpreadBps:   8,
	},
	ProfileUltra: {
		MinFundingRate: 0.00003,
		MinBasisBps:    5,
		MaxRiskScore:   10,
		MinVolume24h:   100_000,
		MaxSpreadBps:   50,
	},
}

// ParseProfile empty string means normal.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ProfileNormal, nil
	}
	if _, ok := profiles[p]; !ok {
		return "", fmt.Errorf("unknown scanner profile %q", s)
	}
	return p, nil
}

// ProfileThresholds returns the preset bundle for p.
func ProfileThresholds(p Profile) (Thresholds, error) {
	t, ok := profiles[p]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown scanner profile %q", p)
	}
	return t, nil
}

// With returns a copy with the non-nil overrides applied.
func (t Thresholds) With(o Overrides) Thresholds {
	if o.MinFundingRate != nil {
		t.MinFundingRate = *o.MinFundingRate
	}
	if o.MinBasisBps != nil {
		t.MinBasisBps = *o.MinBasisBps
	}
	if o.MaxRiskScore != nil {
		t.MaxRiskScore = *o.MaxRiskScore
	}
	if o.MinVolume24h != nil {
		t.MinVolume24h = *o.MinVolume24h
	}
	if o.MaxSpreadBps != nil {
		t.MaxSpreadBps = *o.MaxSpreadBps
	}
	return t
}

func (t Thresholds) Validate() error {
	if t.MinFundingRate < 0 {
		return fmt.Errorf("min_funding_rate must be >= 0, got %f", t.MinFundingRate)
	}
	if t.MaxRiskScore < 1 || t.MaxRiskScore > 10 {
		return fmt.Errorf("max_risk_score must be within [1,10], got %f", t.MaxRiskScore)
	}
	if t.MinVolume24h < 0 {
		return fmt.Errorf("min_volume_24h must be >= 0, got %f", t.MinVolume24h)
	}
	if t.MaxSpreadBps < 0 {
		return fmt.Errorf("max_spread_bps must be >= 0, got %f", t.MaxSpreadBps)
	}
	return nil
}
