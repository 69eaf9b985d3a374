package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIncomingIDIsDeterministic(t *testing.T) {
	a := IncomingID(ChainBitcoin, "abc", "bc1q", 0)
	b := IncomingID(ChainBitcoin, "abc", "bc1q", 0)
	c := IncomingID(ChainBitcoin, "abc", "bc1q", 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEndpointsDropsBlanksAndRepeats(t *testing.T) {
	cfg := ChainRPCConfig{
		Primary:   "https://a",
		Fallbacks: []string{"", "https://b", "https://a", " https://c "},
		Timeout:   time.Second,
	}
	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, cfg.Endpoints())
}

func TestAllowsAsset(t *testing.T) {
	open := WalletMetadata{}
	assert.True(t, open.AllowsAsset("anything"))

	inst := WalletMetadata{Institutional: true, InstitutionalAssets: []string{"USDT"}}
	assert.True(t, inst.AllowsAsset("usdt"))
	assert.False(t, inst.AllowsAsset("ETH"))
}

func TestAllChainsCoversTwelve(t *testing.T) {
	chains := AllChains()
	assert.Len(t, chains, 12)
	for _, c := range chains {
		assert.True(t, c.Known())
	}
	assert.True(t, ChainArbitrum.IsEVM())
	assert.False(t, ChainTron.IsEVM())
	assert.Equal(t, ChainSolana, ParseChain(" Solana "))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress(ChainPolygon, " 0xAbCdEf"))
	assert.Equal(t, "TXyZ", NormalizeAddress(ChainTron, "TXyZ"))
}
