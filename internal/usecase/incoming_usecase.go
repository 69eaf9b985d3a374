// internal/usecase/incoming_usecase.go
package usecase

import (
	"context"
	"sort"

	"custody-service/internal/domain"
	"custody-service/internal/repository"
	"custody-service/internal/xerrors"

	"go.uber.org/zap"
)

const defaultIncomingLimit = 50

type IncomingUsecase struct {
	wallets *WalletUsecase
	index   repository.WalletIndex
	store   repository.IncomingStore
	logger  *zap.Logger
}

func NewIncomingUsecase(
	wallets *WalletUsecase,
	index repository.WalletIndex,
	store repository.IncomingStore,
	logger *zap.Logger,
) *IncomingUsecase {
	return &IncomingUsecase{
		wallets: wallets,
		index:   index,
		store:   store,
		logger:  logger,
	}
}

// ListForWallet returns recorded payments to one wallet or raw address,
// newest first.
func (uc *IncomingUsecase) ListForWallet(ctx context.Context, ref WalletRef, limit int) ([]domain.IncomingTx, error) {
	if limit <= 0 {
		limit = defaultIncomingLimit
	}
	rw, err := uc.wallets.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return uc.store.List(ctx, rw.wallet.Chain, rw.wallet.Address, limit)
}

// ListForOwner merges the payments of every wallet owned by owner.
func (uc *IncomingUsecase) ListForOwner(ctx context.Context, owner string, limit int) ([]domain.IncomingTx, error) {
	if limit <= 0 {
		limit = defaultIncomingLimit
	}
	wallets, err := uc.index.List(ctx, domain.WalletFilter{Owner: owner})
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, xerrors.ErrOwnerNotFound
	}

	out := []domain.IncomingTx{}
	for _, w := range wallets {
		txs, err := uc.store.List(ctx, w.Chain, w.Address, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, txs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
