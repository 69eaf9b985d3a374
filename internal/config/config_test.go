package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"custody-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, time.Minute, cfg.Monitor.BackoffBase)
	assert.Equal(t, 15*time.Minute, cfg.Monitor.BackoffCap)
	assert.Equal(t, "mainnet", cfg.Chains.Network)
	assert.Len(t, cfg.Chains.EVM, 4)

	for _, chain := range domain.AllChains() {
		assert.NotNil(t, cfg.Chains.RPC(chain), chain)
		assert.True(t, cfg.Chains.IsEnabled(chain))
	}
	assert.Empty(t, cfg.Chains.Lightning.RPC.Endpoints())
	assert.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", cfg.Chains.Tron.Tokens[0].Contract)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_NETWORK", "testnet")
	t.Setenv("ETHEREUM_RPC_URL", "http://localhost:8545")
	t.Setenv("SOLANA_RPC_FALLBACKS", "http://a, ,http://b")
	t.Setenv("RIPPLE_RPC_TIMEOUT", "3s")
	t.Setenv("ENABLED_CHAINS", "ethereum,nope,solana")
	t.Setenv("MONITOR_INTERVAL", "not-a-duration")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	eth := cfg.Chains.RPC(domain.ChainEthereum)
	assert.Equal(t, []string{"http://localhost:8545"}, eth.Endpoints())
	assert.Equal(t, int64(11155111), cfg.Chains.EVM[0].ChainID)

	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Chains.Solana.RPC.Fallbacks)
	assert.Equal(t, 3*time.Second, cfg.Chains.Ripple.RPC.Timeout)

	assert.True(t, cfg.Chains.IsEnabled(domain.ChainSolana))
	assert.False(t, cfg.Chains.IsEnabled(domain.ChainBitcoin))
	assert.Len(t, cfg.Chains.Enabled, 2)

	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval, "invalid values fall back to defaults")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_ChainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"polygon": {"primary": "http://poly", "fallbacks": [], "timeout": "2s",
			"tokens": [{"symbol": "dai", "contract": "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", "decimals": 18}]},
		"lightning": {"primary": "https://lnd:8080"}
	}`), 0o600))
	t.Setenv("CHAIN_CONFIG_FILE", path)

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	poly := cfg.Chains.RPC(domain.ChainPolygon)
	assert.Equal(t, []string{"http://poly"}, poly.Endpoints())
	assert.Equal(t, 2*time.Second, poly.Timeout)
	for _, c := range cfg.Chains.EVM {
		if c.Chain == domain.ChainPolygon {
			require.Len(t, c.Tokens, 1)
			assert.Equal(t, "DAI", c.Tokens[0].Symbol)
		}
	}
	assert.Equal(t, "https://lnd:8080", cfg.Chains.Lightning.RPC.Primary)
}

func TestLoad_ChainFileRejectsUnknownChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dogecoin": {"primary": "http://x"}}`), 0o600))
	t.Setenv("CHAIN_CONFIG_FILE", path)

	_, err := Load(zap.NewNop())
	assert.ErrorContains(t, err, "unknown chain")
}

func TestDBConfigDSN(t *testing.T) {
	dsn := DBConfig{Host: "db", Port: "5432", User: "app", Password: "p@ss", Name: "custody", SSLMode: "disable"}.DSN()
	assert.Equal(t, "postgres://app:p%40ss@db:5432/custody?sslmode=disable", dsn)
}
