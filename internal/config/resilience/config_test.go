package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/meshguard/pkg/types"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int { return &i }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool { return &b }

func TestDefaultOptions_Valid(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())

	assert.Equal(t, 5*time.Second, opts.Diagnostics.SampleInterval)
	assert.Equal(t, 5*time.Second, opts.Degradation.EvaluationInterval)
	assert.Equal(t, 30*time.Second, opts.Recovery.HealthCheckInterval)
	assert.Equal(t, 5*time.Second, opts.Recovery.PingTimeout)
	assert.Equal(t, 0.8, opts.Recovery.PartitionRecoveryRatio)
	assert.Equal(t, 5*time.Minute, opts.Recovery.PartitionRecoveryTimeout)
}

func TestNewFromAppConfig_Overrides(t *testing.T) {
	opts, err := NewFromAppConfig(&types.AppConfig{
		Degradation: &types.UserDegradationConfig{
			EvaluationInterval: strPtr("2s"),
			MinPeerCount:       intPtr(2),
			ProfileCache:       boolPtr(false),
		},
		Recovery: &types.UserRecoveryConfig{
			InitialReconnectDelay: strPtr("500ms"),
			BackoffMultiplier:     floatPtr(3),
			MaxReconnectAttempts:  intPtr(0),
		},
		Centralized: &types.UserCentralizedConfig{
			HealthURL: strPtr("https://example.invalid/healthz"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, opts.Degradation.EvaluationInterval)
	assert.Equal(t, 2, opts.Degradation.MinPeerCount)
	assert.Equal(t, []string{"local_storage", "queued_messaging"}, opts.Degradation.LocalCapabilities.Names())
	assert.Equal(t, 500*time.Millisecond, opts.Recovery.InitialReconnectDelay)
	assert.Equal(t, 3.0, opts.Recovery.BackoffMultiplier)
	assert.Equal(t, 0, opts.Recovery.MaxReconnectAttempts)
	assert.Equal(t, "https://example.invalid/healthz", opts.Centralized.HealthURL)
}

func TestNewFromAppConfig_InvalidDuration(t *testing.T) {
	_, err := NewFromAppConfig(&types.AppConfig{
		Recovery: &types.UserRecoveryConfig{HealthCheckInterval: strPtr("soon")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery.health_check_interval")
}

func TestValidate_Ranges(t *testing.T) {
	opts := DefaultOptions()
	opts.Recovery.PartitionThreshold = 1.5
	opts.Recovery.BackoffMultiplier = 0.5
	opts.Recovery.MaxReconnectDelay = time.Millisecond

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition_threshold")
	assert.Contains(t, err.Error(), "backoff_multiplier")
	assert.Contains(t, err.Error(), "max_reconnect_delay")
}
