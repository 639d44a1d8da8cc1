// Package quality 连接质量分级，诊断采集器与恢复管理器共用同一套阈值
package quality

import "github.com/weisyn/meshguard/pkg/types"

// 分级阈值：时延（毫秒）与丢包率
const (
	ExcellentLatencyMs = 100.0
	ExcellentLoss      = 0.01
	GoodLatencyMs      = 300.0
	GoodLoss           = 0.05
	FairLatencyMs      = 500.0
	FairLoss           = 0.10
)

// Classify 按 (时延, 丢包率) 计算连接质量，两个条件都满足才进入该档
func Classify(latencyMs, lossRate float64) types.ConnectionQuality {
	switch {
	case latencyMs < ExcellentLatencyMs && lossRate < ExcellentLoss:
		return types.QualityExcellent
	case latencyMs < GoodLatencyMs && lossRate < GoodLoss:
		return types.QualityGood
	case latencyMs < FairLatencyMs && lossRate < FairLoss:
		return types.QualityFair
	default:
		return types.QualityPoor
	}
}

// LossRate 丢包率 = lost / received；未收到任何包但有丢失时为 1
func LossRate(lost, received int64) float64 {
	if lost <= 0 {
		return 0
	}
	if received <= 0 {
		return 1
	}
	r := float64(lost) / float64(received)
	if r > 1 {
		return 1
	}
	return r
}
