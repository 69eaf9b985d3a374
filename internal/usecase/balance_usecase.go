// internal/usecase/balance_usecase.go
package usecase

import (
	"context"
	"strings"

	"custody-service/internal/domain"
	"custody-service/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// reindexConcurrency bounds parallel chain reads during a reindex.
const reindexConcurrency = 8

type BalanceUsecase struct {
	wallets *WalletUsecase
	cache   *repository.BalanceCache
	logger  *zap.Logger
}

func NewBalanceUsecase(
	wallets *WalletUsecase,
	cache *repository.BalanceCache,
	logger *zap.Logger,
) *BalanceUsecase {
	return &BalanceUsecase{
		wallets: wallets,
		cache:   cache,
		logger:  logger,
	}
}

// BalanceResult is one balance read with the wallet it belongs to.
type BalanceResult struct {
	WalletID string          `json:"walletId,omitempty"`
	Chain    domain.ChainID  `json:"chain"`
	Address  string          `json:"address"`
	Asset    string          `json:"asset"`
	Balance  *domain.Balance `json:"balance,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// GetBalance always reads the chain and refreshes the cache with the result.
func (uc *BalanceUsecase) GetBalance(ctx context.Context, ref WalletRef, asset string) (*BalanceResult, error) {
	rw, err := uc.wallets.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := checkAsset(rw.wallet, asset, rw.adapter); err != nil {
		return nil, err
	}

	bal, err := rw.adapter.GetBalance(ctx, rw.wallet, asset)
	if err != nil {
		return nil, err
	}
	if asset == "" {
		asset = bal.Symbol
	}
	uc.remember(ctx, rw.wallet, asset, *bal)

	return &BalanceResult{
		WalletID: rw.wallet.ID,
		Chain:    rw.wallet.Chain,
		Address:  rw.wallet.Address,
		Asset:    strings.ToUpper(asset),
		Balance:  bal,
	}, nil
}

// CachedBalance returns the last mirrored balance without touching the chain.
func (uc *BalanceUsecase) CachedBalance(ctx context.Context, ref WalletRef, asset string) (*repository.CachedBalance, error) {
	rw, err := uc.wallets.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if asset == "" {
		asset = rw.adapter.Info().Symbol
	}
	return uc.cache.Get(ctx, rw.wallet.Chain, cacheRef(rw.wallet), asset)
}

// BalanceRequest is one entry of a reindex batch.
type BalanceRequest struct {
	WalletRef
	Asset string `json:"asset,omitempty"`
}

// ReindexBalances refreshes the cache for every request. Failures are
// reported per entry and do not stop the batch.
func (uc *BalanceUsecase) ReindexBalances(ctx context.Context, reqs []BalanceRequest) []BalanceResult {
	results := make([]BalanceResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reindexConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := uc.GetBalance(gctx, req.WalletRef, req.Asset)
			if err != nil {
				results[i] = BalanceResult{
					WalletID: req.ID,
					Chain:    req.Chain,
					Address:  req.Address,
					Asset:    strings.ToUpper(req.Asset),
					Error:    err.Error(),
				}
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	uc.logger.Info("balances reindexed",
		zap.Int("requested", len(reqs)),
		zap.Int("failed", failed))
	return results
}

func (uc *BalanceUsecase) remember(ctx context.Context, w domain.Wallet, asset string, bal domain.Balance) {
	if err := uc.cache.Put(ctx, w.Chain, cacheRef(w), asset, bal); err != nil {
		uc.logger.Warn("failed to cache balance",
			zap.String("chain", string(w.Chain)),
			zap.String("address", w.Address),
			zap.Error(err))
	}
}

// cacheRef keys registered wallets by id and raw ones by address.
func cacheRef(w domain.Wallet) string {
	if w.IsRegistered() {
		return w.ID
	}
	return w.Address
}
