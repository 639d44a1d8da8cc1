package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/meshguard/internal/config"
)

func TestSampleConfig_Parses(t *testing.T) {
	cfg, err := config.ParseAppConfig(GetSampleConfig(), ".yaml")
	require.NoError(t, err)

	require.NotNil(t, cfg.API)
	assert.Equal(t, "127.0.0.1:7878", *cfg.API.ListenAddr)
	require.NotNil(t, cfg.Recovery)
	assert.Equal(t, 5, *cfg.Recovery.MaxReconnectAttempts)
	require.NotNil(t, cfg.P2P)
	assert.Len(t, cfg.P2P.ListenAddrs, 2)
}

func TestGetSampleConfig_ReturnsCopy(t *testing.T) {
	a := GetSampleConfig()
	a[0] = 'X'
	assert.NotEqual(t, a[0], GetSampleConfig()[0])
}
