package host

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
)

func localOptions(t *testing.T) *p2pcfg.Options {
	t.Helper()
	opts := p2pcfg.DefaultOptions()
	opts.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	return opts
}

func TestBuild_ListensAndCountsBandwidth(t *testing.T) {
	built, err := Build(localOptions(t), nil)
	require.NoError(t, err)
	defer built.Host.Close()

	assert.NotEmpty(t, built.Host.Addrs())
	require.NotNil(t, built.Bandwidth)
	assert.Zero(t, built.Bandwidth.GetBandwidthTotals().TotalIn)
}

func TestBuild_PersistsIdentity(t *testing.T) {
	opts := localOptions(t)
	opts.IdentityKeyPath = filepath.Join(t.TempDir(), "keys", "node.key")

	first, err := Build(opts, nil)
	require.NoError(t, err)
	id := first.Host.ID()
	require.NoError(t, first.Host.Close())

	second, err := Build(opts, nil)
	require.NoError(t, err)
	defer second.Host.Close()
	assert.Equal(t, id, second.Host.ID())
}
