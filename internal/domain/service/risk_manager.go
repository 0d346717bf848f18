package service

import (
	"math"

	"fundarb/internal/domain/model"
)

const (
	baseRiskScore = 1.0
	maxRiskScore  = 10.0
)

// RiskInput 风险评分输入
type RiskInput struct {
	FundingRate    float64
	BasisBps       float64
	AvgSpreadBps   float64
	Volume24h      float64
	FundingHistory []float64
}

// RiskScore 叠加式风险评分，基础 1.0，上限 10.0，越低越安全。
// Within each factor the tighter threshold is checked first.
func RiskScore(in RiskInput) float64 {
	score := baseRiskScore

	// 资金费率波动
	vol := PopulationStdDev(in.FundingHistory)
	if vol > 0.0005 {
		score += 2
	} else if vol > 0.0002 {
		score += 1
	}

	// 极端费率
	absRate := math.Abs(in.FundingRate)
	if absRate > 0.002 {
		score += 2
	} else if absRate > 0.001 {
		score += 1
	}

	// 基差回归
	absBasis := math.Abs(in.BasisBps)
	if absBasis > 50 {
		score += 1.5
	} else if absBasis > 20 {
		score += 0.5
	}

	// 流动性
	if in.Volume24h < 2_000_000 {
		score += 2.5
	} else if in.Volume24h < 5_000_000 {
		score += 1.5
	}

	// 盘口价差
	if in.AvgSpreadBps > 15 {
		score += 2
	} else if in.AvgSpreadBps > 8 {
		score += 1
	}

	return math.Min(score, maxRiskScore)
}

// ConfidencePoints tallies the entry-confidence score.
func ConfidencePoints(fundingRate, riskScore float64, history []float64) int {
	points := 0

	absRate := math.Abs(fundingRate)
	switch {
	case absRate > 0.0015:
		points += 3
	case absRate > 0.0008:
		points += 2
	case absRate > 0.0003:
		points += 1
	}

	if consistentDirection(history, 3) {
		points += 2
	}

	switch {
	case riskScore < 3:
		points += 2
	case riskScore < 5:
		points += 1
	}
	return points
}

// ClassifyConfidence 置信度分级
func ClassifyConfidence(points int) model.Confidence {
	switch {
	case points >= 6:
		return model.ConfidenceHigh
	case points >= 4:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// consistentDirection reports whether the last n entries are all strictly positive or all strictly negative.
func consistentDirection(history []float64, n int) bool {
	if len(history) < n {
		return false
	}
	recent := history[len(history)-n:]
	pos, neg := true, true
	for _, r := range recent {
		if r <= 0 {
			pos = false
		}
		if r >= 0 {
			neg = false
		}
	}
	return pos || neg
}

// Direction maps the funding sign to the collecting side.
// ok is false for a zero rate.
func Direction(fundingRate float64) (t model.OpportunityType, a model.Action, ok bool) {
	switch {
	case fundingRate > 0:
		return model.OpportunityLongFunding, model.ActionLongSpotShortPerp, true
	case fundingRate < 0:
		return model.OpportunityShortFunding, model.ActionShortSpotLongPerp, true
	default:
		return "", "", false
	}
}
