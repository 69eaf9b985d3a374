// internal/chains/evm/balance.go
package evm

import (
	"context"
	"math/big"

	"custody-service/internal/domain"
	"custody-service/pkg/units"

	"github.com/ethereum/go-ethereum/ethclient"
)

// GetBalance reads the native balance or an ERC-20 balance.
func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	owner, err := validateAddress(wallet.Address)
	if err != nil {
		return nil, err
	}
	token, err := a.resolveAsset(asset)
	if err != nil {
		return nil, err
	}

	amount, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		if token == nil {
			return c.BalanceAt(ctx, owner, nil)
		}
		return a.tokenBalance(ctx, c, token, owner)
	})
	if err != nil {
		return nil, err
	}

	if token == nil {
		return &domain.Balance{
			Amount:   units.Format(amount, a.info.Decimals),
			Decimals: a.info.Decimals,
			Symbol:   a.info.Symbol,
		}, nil
	}
	return &domain.Balance{
		Amount:   units.Format(amount, token.Decimals),
		Decimals: token.Decimals,
		Symbol:   token.Symbol,
	}, nil
}
