package chains

import (
	"fmt"

	"custody-service/internal/chains/bitcoin"
	"custody-service/internal/chains/cardano"
	"custody-service/internal/chains/cosmos"
	"custody-service/internal/chains/evm"
	"custody-service/internal/chains/lightning"
	"custody-service/internal/chains/ripple"
	"custody-service/internal/chains/solana"
	"custody-service/internal/chains/substrate"
	"custody-service/internal/chains/tron"
	"custody-service/internal/config"
	"custody-service/internal/domain"

	"go.uber.org/zap"
)

// Setup builds an adapter for every enabled chain. The returned func
// releases node connections held by the adapters.
func Setup(cfg config.ChainsConfig, logger *zap.Logger) (*Registry, func(), error) {
	registry := NewRegistry()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	fail := func(chain domain.ChainID, err error) (*Registry, func(), error) {
		closeAll()
		return nil, func() {}, fmt.Errorf("failed to initialize %s: %w", chain, err)
	}

	for _, c := range cfg.EVM {
		if !cfg.IsEnabled(c.Chain) {
			continue
		}
		a, err := evm.New(c, logger)
		if err != nil {
			return fail(c.Chain, err)
		}
		registry.Register(a)
		closers = append(closers, a.Close)
	}

	if cfg.IsEnabled(domain.ChainBitcoin) {
		a, err := bitcoin.New(cfg.Bitcoin, logger)
		if err != nil {
			return fail(domain.ChainBitcoin, err)
		}
		registry.Register(a)
	}
	if cfg.IsEnabled(domain.ChainCosmos) {
		a, err := cosmos.New(cfg.Cosmos, logger)
		if err != nil {
			return fail(domain.ChainCosmos, err)
		}
		registry.Register(a)
	}
	if cfg.IsEnabled(domain.ChainPolkadot) {
		a, err := substrate.New(cfg.Polkadot, logger)
		if err != nil {
			return fail(domain.ChainPolkadot, err)
		}
		registry.Register(a)
	}
	if cfg.IsEnabled(domain.ChainTron) {
		a, err := tron.New(cfg.Tron, logger)
		if err != nil {
			return fail(domain.ChainTron, err)
		}
		registry.Register(a)
		closers = append(closers, a.Stop)
	}
	if cfg.IsEnabled(domain.ChainSolana) {
		registry.Register(solana.New(cfg.Solana, logger))
	}
	if cfg.IsEnabled(domain.ChainRipple) {
		registry.Register(ripple.New(cfg.Ripple, logger))
	}
	if cfg.IsEnabled(domain.ChainCardano) {
		registry.Register(cardano.New(cfg.Cardano, logger))
	}
	if cfg.IsEnabled(domain.ChainLightning) {
		registry.Register(lightning.New(cfg.Lightning, logger))
	}

	logger.Info("chain registry ready", zap.Int("chains", len(registry.List())))
	return registry, closeAll, nil
}
