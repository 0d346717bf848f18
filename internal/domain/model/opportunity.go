package model

import "time"

// FundingPeriodsPerYear 三次结算/天 × 365
const FundingPeriodsPerYear = 3 * 365

type OpportunityType string

const (
	OpportunityLongFunding  OpportunityType = "long_funding"
	OpportunityShortFunding OpportunityType = "short_funding"
)

type Action string

const (
	ActionLongSpotShortPerp Action = "LONG_SPOT_SHORT_PERP"
	ActionShortSpotLongPerp Action = "SHORT_SPOT_LONG_PERP"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Opportunity 资金费率套利机会（每轮扫描新建）
type Opportunity struct {
	ID                   string          `json:"id"`
	Symbol               string          `json:"symbol"`
	Type                 OpportunityType `json:"opportunity_type"`
	SpotPrice            float64         `json:"spot_price"`
	FuturesPrice         float64         `json:"futures_price"`
	FundingRate          float64         `json:"funding_rate"`
	NextFundingTime      time.Time       `json:"next_funding_time"`
	BasisBps             float64         `json:"basis_bps"`
	AnnualFundingRatePct float64         `json:"annual_funding_rate_pct"`
	ProfitPotentialPct   float64         `json:"profit_potential_pct"`
	RiskScore            float64         `json:"risk_score"` // 1-10, lower is safer
	Action               Action          `json:"recommended_action"`
	Confidence           Confidence      `json:"entry_confidence"`
	MinCapital           float64         `json:"min_capital"`
	Volume24h            float64         `json:"volume_24h"`
	BidAskSpreadBps      float64         `json:"bid_ask_spread_bps"`
	FundingHistory       []float64       `json:"funding_history"` // most recent last
	ObservedAt           time.Time       `json:"observed_at"`
}

// OpportunityLogEntry one line of the append-only opportunity log.
type OpportunityLogEntry struct {
	Timestamp       string     `json:"timestamp"`
	Symbol          string     `json:"symbol"`
	FundingRate     float64    `json:"fundingRate"`
	AnnualRate      float64    `json:"annualRate"`
	ProfitPotential float64    `json:"profitPotential"`
	RiskScore       float64    `json:"riskScore"`
	Confidence      Confidence `json:"confidence"`
	Action          Action     `json:"action"`
}

func (o Opportunity) LogEntry() OpportunityLogEntry {
	return OpportunityLogEntry{
		Timestamp:       o.ObservedAt.UTC().Format(time.RFC3339Nano),
		Symbol:          o.Symbol,
		FundingRate:     o.FundingRate,
		AnnualRate:      o.AnnualFundingRatePct,
		ProfitPotential: o.ProfitPotentialPct,
		RiskScore:       o.RiskScore,
		Confidence:      o.Confidence,
		Action:          o.Action,
	}
}
