package chains

import (
	"testing"

	"custody-service/internal/config"
	"custody-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetup_BuildsEveryChain(t *testing.T) {
	cfg, err := config.Load(zap.NewNop())
	require.NoError(t, err)

	registry, closeFn, err := Setup(cfg.Chains, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	assert.ElementsMatch(t, domain.AllChains(), registry.List())

	ln, err := registry.Get(domain.ChainLightning)
	require.NoError(t, err)
	assert.Empty(t, ln.Endpoints(), "lightning has no default node")

	eth, err := registry.Get(domain.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, eth.Capabilities().SupportsAsset("USDT"))
}

func TestSetup_EnabledSubset(t *testing.T) {
	t.Setenv("ENABLED_CHAINS", "bitcoin,arbitrum")
	cfg, err := config.Load(zap.NewNop())
	require.NoError(t, err)

	registry, closeFn, err := Setup(cfg.Chains, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, []domain.ChainID{domain.ChainArbitrum, domain.ChainBitcoin}, registry.List())
}

func TestSetup_InvalidConfig(t *testing.T) {
	cfg, err := config.Load(zap.NewNop())
	require.NoError(t, err)
	cfg.Chains.Bitcoin.Network = "moonnet"

	_, closeFn, err := Setup(cfg.Chains, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bitcoin")
	closeFn()
}
