package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
)

func TestProvideService(t *testing.T) {
	opts := p2pcfg.DefaultOptions()
	opts.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}

	out, err := ProvideService(ModuleInput{Config: opts})
	require.NoError(t, err)
	defer out.Host.Close()

	assert.Same(t, out.Transport, out.ResilienceTransport)
	assert.Same(t, out.Routing, out.Discovery)
	assert.Nil(t, out.Prober)
	assert.False(t, out.Overlay.IsRunning())

	opts.StunServer = "stun:127.0.0.1:3478"
	withStun, err := ProvideService(ModuleInput{Config: opts})
	require.NoError(t, err)
	defer withStun.Host.Close()
	assert.NotNil(t, withStun.Prober)
}
