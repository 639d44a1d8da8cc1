package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weisyn/meshguard/pkg/types"
)

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		name    string
		latency float64
		loss    float64
		want    types.ConnectionQuality
	}{
		{"excellent", 99.9, 0.009, types.QualityExcellent},
		{"latency 100 is good", 100, 0, types.QualityGood},
		{"loss 1% is good", 50, 0.01, types.QualityGood},
		{"latency 300 is fair", 300, 0, types.QualityFair},
		{"loss 5% is fair", 50, 0.05, types.QualityFair},
		{"latency 500 is poor", 500, 0, types.QualityPoor},
		{"loss 10% is poor", 50, 0.10, types.QualityPoor},
		{"good edge", 299.9, 0.049, types.QualityGood},
		{"fair edge", 499.9, 0.099, types.QualityFair},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.latency, tc.loss))
		})
	}
}

func TestLossRate(t *testing.T) {
	assert.Equal(t, 0.0, LossRate(0, 0))
	assert.Equal(t, 1.0, LossRate(3, 0))
	assert.InDelta(t, 0.25, LossRate(1, 4), 1e-9)
	assert.Equal(t, 1.0, LossRate(10, 2))
}
