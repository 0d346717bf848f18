package service

import (
	"math"

	"fundarb/internal/domain/model"
)

// BasisBps 期现基差（基点）
func BasisBps(spot, futures float64) float64 {
	if spot == 0 {
		return 0
	}
	return (futures - spot) / spot * 10000
}

// AnnualFundingRatePct annualised funding in percent (3 settlements per day).
func AnnualFundingRatePct(rate float64) float64 {
	return rate * model.FundingPeriodsPerYear * 100
}

// SpreadBps 盘口价差（基点），以给定价格为分母
func SpreadBps(bestBid, bestAsk, price float64) float64 {
	if price == 0 {
		return 0
	}
	return (bestAsk - bestBid) / price * 10000
}

// MinCapital base 10k scaled up by the average spread.
func MinCapital(avgSpreadBps float64) float64 {
	return 10000 * (1 + avgSpreadBps/100)
}

// PopulationStdDev 总体标准差，少于两个样本返回 0
func PopulationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
