package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"custody-service/internal/chains/bitcoin"
	"custody-service/internal/chains/cardano"
	"custody-service/internal/chains/cosmos"
	"custody-service/internal/chains/evm"
	"custody-service/internal/chains/lightning"
	"custody-service/internal/chains/ripple"
	"custody-service/internal/chains/solana"
	"custody-service/internal/chains/substrate"
	"custody-service/internal/chains/tron"
	"custody-service/internal/domain"
)

const defaultRPCTimeout = 15 * time.Second

// ChainsConfig carries the adapter settings for every supported chain.
type ChainsConfig struct {
	Network string
	// Enabled limits which adapters are built. Empty means all.
	Enabled []domain.ChainID

	EVM       []evm.Config
	Bitcoin   bitcoin.Config
	Cosmos    cosmos.Config
	Polkadot  substrate.Config
	Solana    solana.Config
	Ripple    ripple.Config
	Tron      tron.Config
	Cardano   cardano.Config
	Lightning lightning.Config
}

// IsEnabled reports whether the adapter for chain should be built.
func (c ChainsConfig) IsEnabled(chain domain.ChainID) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	for _, id := range c.Enabled {
		if id == chain {
			return true
		}
	}
	return false
}

// RPC returns the endpoint set of chain so it can be overridden in place.
func (c *ChainsConfig) RPC(chain domain.ChainID) *domain.ChainRPCConfig {
	for i := range c.EVM {
		if c.EVM[i].Chain == chain {
			return &c.EVM[i].RPC
		}
	}
	switch chain {
	case domain.ChainBitcoin:
		return &c.Bitcoin.RPC
	case domain.ChainCosmos:
		return &c.Cosmos.RPC
	case domain.ChainPolkadot:
		return &c.Polkadot.RPC
	case domain.ChainSolana:
		return &c.Solana.RPC
	case domain.ChainRipple:
		return &c.Ripple.RPC
	case domain.ChainTron:
		return &c.Tron.RPC
	case domain.ChainCardano:
		return &c.Cardano.RPC
	case domain.ChainLightning:
		return &c.Lightning.RPC
	}
	return nil
}

func endpoints(primary string, fallbacks ...string) domain.ChainRPCConfig {
	return domain.ChainRPCConfig{Primary: primary, Fallbacks: fallbacks, Timeout: defaultRPCTimeout}
}

// defaultChains returns public endpoints for the selected network.
func defaultChains(network string) ChainsConfig {
	switch strings.ToLower(network) {
	case "testnet":
		return testnetChains()
	default:
		return mainnetChains()
	}
}

func mainnetChains() ChainsConfig {
	return ChainsConfig{
		Network: "mainnet",
		EVM: []evm.Config{
			{
				Chain:   domain.ChainEthereum,
				ChainID: 1,
				RPC:     endpoints("https://ethereum-rpc.publicnode.com", "https://eth.llamarpc.com"),
				Tokens: []evm.TokenConfig{
					{Symbol: "USDT", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
					{Symbol: "USDC", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				},
			},
			{
				Chain:   domain.ChainBSC,
				ChainID: 56,
				RPC:     endpoints("https://bsc-dataseed.binance.org", "https://bsc-rpc.publicnode.com"),
				Tokens: []evm.TokenConfig{
					{Symbol: "USDT", Contract: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
					{Symbol: "USDC", Contract: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
				},
			},
			{
				Chain:   domain.ChainPolygon,
				ChainID: 137,
				RPC:     endpoints("https://polygon-rpc.com", "https://polygon-bor-rpc.publicnode.com"),
				Tokens: []evm.TokenConfig{
					{Symbol: "USDT", Contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
					{Symbol: "USDC", Contract: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
				},
			},
			{
				Chain:   domain.ChainArbitrum,
				ChainID: 42161,
				RPC:     endpoints("https://arb1.arbitrum.io/rpc", "https://arbitrum-one-rpc.publicnode.com"),
				Tokens: []evm.TokenConfig{
					{Symbol: "USDT", Contract: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
					{Symbol: "USDC", Contract: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
				},
			},
		},
		Bitcoin: bitcoin.Config{
			Network: "mainnet",
			RPC:     endpoints("https://blockstream.info/api", "https://mempool.space/api"),
		},
		Cosmos: cosmos.Config{
			RPC:     endpoints("https://cosmos-rest.publicnode.com", "https://rest.cosmos.directory/cosmoshub"),
			ChainID: "cosmoshub-4",
		},
		Polkadot: substrate.Config{
			RPC:        endpoints("https://polkadot-public-sidecar.parity-chains.parity.io"),
			Indexer:    endpoints("https://polkadot.api.subscan.io"),
			SS58Prefix: 0,
		},
		Solana: solana.Config{
			RPC: endpoints("https://api.mainnet-beta.solana.com", "https://solana-rpc.publicnode.com"),
		},
		Ripple: ripple.Config{
			RPC: endpoints("https://s1.ripple.com:51234", "https://xrplcluster.com"),
		},
		Tron: tron.Config{
			RPC:  endpoints("https://api.trongrid.io"),
			GRPC: endpoints("grpc.trongrid.io:50051"),
			Tokens: []tron.TokenConfig{
				{Symbol: "USDT", Contract: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6},
			},
		},
		Cardano: cardano.Config{
			RPC:     endpoints("https://cardano-mainnet.blockfrost.io/api/v0"),
			Network: "mainnet",
		},
		// No public LND exists; the chain stays a placeholder until LIGHTNING_RPC_URL is set.
		Lightning: lightning.Config{RPC: domain.ChainRPCConfig{Timeout: defaultRPCTimeout}},
	}
}

func testnetChains() ChainsConfig {
	return ChainsConfig{
		Network: "testnet",
		EVM: []evm.Config{
			{Chain: domain.ChainEthereum, ChainID: 11155111, RPC: endpoints("https://ethereum-sepolia-rpc.publicnode.com")},
			{Chain: domain.ChainBSC, ChainID: 97, RPC: endpoints("https://bsc-testnet-rpc.publicnode.com")},
			{Chain: domain.ChainPolygon, ChainID: 80002, RPC: endpoints("https://rpc-amoy.polygon.technology")},
			{Chain: domain.ChainArbitrum, ChainID: 421614, RPC: endpoints("https://sepolia-rollup.arbitrum.io/rpc")},
		},
		Bitcoin: bitcoin.Config{
			Network: "testnet",
			RPC:     endpoints("https://blockstream.info/testnet/api", "https://mempool.space/testnet/api"),
		},
		Cosmos: cosmos.Config{
			RPC:     endpoints("https://rest.sentry-01.theta-testnet.polypore.xyz"),
			ChainID: "theta-testnet-001",
		},
		Polkadot: substrate.Config{
			RPC:        endpoints("https://westend-public-sidecar.parity-chains.parity.io"),
			Indexer:    endpoints("https://westend.api.subscan.io"),
			SS58Prefix: 42,
		},
		Solana: solana.Config{
			RPC: endpoints("https://api.devnet.solana.com"),
		},
		Ripple: ripple.Config{
			RPC: endpoints("https://s.altnet.rippletest.net:51234"),
		},
		Tron: tron.Config{
			RPC:  endpoints("https://nile.trongrid.io"),
			GRPC: endpoints("grpc.nile.trongrid.io:50051"),
		},
		Cardano: cardano.Config{
			RPC:     endpoints("https://cardano-preprod.blockfrost.io/api/v0"),
			Network: "preprod",
		},
		Lightning: lightning.Config{RPC: domain.ChainRPCConfig{Timeout: defaultRPCTimeout}},
	}
}

// envPrefix maps a chain to its variable prefix, e.g. ETHEREUM_RPC_URL.
func envPrefix(chain domain.ChainID) string {
	return strings.ToUpper(string(chain))
}

// applyChainEnv layers <CHAIN>_RPC_URL, <CHAIN>_RPC_FALLBACKS and
// <CHAIN>_RPC_TIMEOUT plus the chain specific credentials.
func applyChainEnv(c *ChainsConfig) {
	for _, chain := range domain.AllChains() {
		rpcCfg := c.RPC(chain)
		if rpcCfg == nil {
			continue
		}
		prefix := envPrefix(chain)
		if v := os.Getenv(prefix + "_RPC_URL"); v != "" {
			rpcCfg.Primary = v
			// An explicit primary drops the public fallbacks unless they are restated.
			rpcCfg.Fallbacks = nil
		}
		if v := getEnvAsList(prefix+"_RPC_FALLBACKS", nil); v != nil {
			rpcCfg.Fallbacks = v
		}
		rpcCfg.Timeout = getEnvAsDuration(prefix+"_RPC_TIMEOUT", rpcCfg.Timeout)
	}

	for i := range c.EVM {
		prefix := envPrefix(c.EVM[i].Chain)
		c.EVM[i].ChainID = getEnvAsInt64(prefix+"_CHAIN_ID", c.EVM[i].ChainID)
		c.EVM[i].Confirmations = uint64(getEnvAsInt64(prefix+"_CONFIRMATIONS", int64(c.EVM[i].Confirmations)))
		c.EVM[i].ScanWindow = uint64(getEnvAsInt64(prefix+"_SCAN_WINDOW", int64(c.EVM[i].ScanWindow)))
		if v, ok := new(big.Int).SetString(os.Getenv(prefix+"_MAX_GAS_PRICE_WEI"), 10); ok && v.Sign() > 0 {
			c.EVM[i].MaxGasPrice = v
		}
	}

	c.Bitcoin.Network = getEnv("BITCOIN_NETWORK", c.Bitcoin.Network)
	c.Cosmos.ChainID = getEnv("COSMOS_CHAIN_ID", c.Cosmos.ChainID)
	c.Cosmos.Prefix = getEnv("COSMOS_PREFIX", c.Cosmos.Prefix)
	c.Cosmos.Denom = getEnv("COSMOS_DENOM", c.Cosmos.Denom)
	c.Cosmos.GasPrice = getEnv("COSMOS_GAS_PRICE", c.Cosmos.GasPrice)
	c.Polkadot.SS58Prefix = uint8(getEnvAsInt("POLKADOT_SS58_PREFIX", int(c.Polkadot.SS58Prefix)))
	c.Polkadot.IndexerKey = getEnv("POLKADOT_SUBSCAN_KEY", c.Polkadot.IndexerKey)
	if v := os.Getenv("POLKADOT_SUBSCAN_URL"); v != "" {
		c.Polkadot.Indexer.Primary = v
	}
	c.Tron.APIKey = getEnv("TRON_API_KEY", c.Tron.APIKey)
	c.Tron.FeeLimit = getEnvAsInt64("TRON_FEE_LIMIT", c.Tron.FeeLimit)
	if v := getEnvAsList("TRON_GRPC_URLS", nil); v != nil {
		c.Tron.GRPC.Primary = v[0]
		c.Tron.GRPC.Fallbacks = v[1:]
	}
	c.Cardano.ProjectID = getEnv("BLOCKFROST_PROJECT_ID", c.Cardano.ProjectID)
	c.Cardano.Network = getEnv("CARDANO_NETWORK", c.Cardano.Network)
	c.Lightning.Macaroon = getEnv("LIGHTNING_MACAROON", c.Lightning.Macaroon)
	c.Lightning.InsecureTLS = getEnvAsBool("LIGHTNING_INSECURE_TLS", c.Lightning.InsecureTLS)
}

// chainFileEntry is one chain in the CHAIN_CONFIG_FILE document.
type chainFileEntry struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks"`
	Timeout   string   `json:"timeout"`
	Tokens    []struct {
		Symbol   string `json:"symbol"`
		Contract string `json:"contract"`
		Decimals int    `json:"decimals"`
	} `json:"tokens"`
}

// applyChainFile reads a JSON object keyed by chain id and overrides
// endpoints and token lists. Unknown chains are rejected.
func applyChainFile(c *ChainsConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read chain config: %w", err)
	}
	var doc map[string]chainFileEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse chain config: %w", err)
	}

	for name, entry := range doc {
		chain := domain.ParseChain(name)
		if !chain.Known() {
			return fmt.Errorf("chain config: unknown chain %q", name)
		}
		rpcCfg := c.RPC(chain)
		if entry.Primary != "" {
			rpcCfg.Primary = entry.Primary
		}
		if entry.Fallbacks != nil {
			rpcCfg.Fallbacks = entry.Fallbacks
		}
		if entry.Timeout != "" {
			d, err := time.ParseDuration(entry.Timeout)
			if err != nil {
				return fmt.Errorf("chain config %s: invalid timeout: %w", name, err)
			}
			rpcCfg.Timeout = d
		}
		if entry.Tokens == nil {
			continue
		}
		switch {
		case chain.IsEVM():
			for i := range c.EVM {
				if c.EVM[i].Chain != chain {
					continue
				}
				c.EVM[i].Tokens = c.EVM[i].Tokens[:0:0]
				for _, t := range entry.Tokens {
					c.EVM[i].Tokens = append(c.EVM[i].Tokens, evm.TokenConfig{Symbol: strings.ToUpper(t.Symbol), Contract: t.Contract, Decimals: t.Decimals})
				}
			}
		case chain == domain.ChainTron:
			c.Tron.Tokens = nil
			for _, t := range entry.Tokens {
				c.Tron.Tokens = append(c.Tron.Tokens, tron.TokenConfig{Symbol: strings.ToUpper(t.Symbol), Contract: t.Contract, Decimals: t.Decimals})
			}
		default:
			return fmt.Errorf("chain config %s: tokens are not supported", name)
		}
	}
	return nil
}
