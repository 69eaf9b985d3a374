package usecase

import (
	"context"
	"testing"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceUsecase_GetBalanceRefreshesCache(t *testing.T) {
	e := newTestEnv(t, domain.ChainBitcoin)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainBitcoin, "btc")
	require.NoError(t, err)
	e.adapter.setBalance(w.Address, "0.015")

	res, err := e.balance.GetBalance(ctx, WalletRef{ID: w.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, "0.015", res.Balance.Amount)
	assert.Equal(t, "BTC", res.Asset)
	assert.Equal(t, w.ID, res.WalletID)

	e.adapter.setBalance(w.Address, "0.02")
	cached, err := e.balance.CachedBalance(ctx, WalletRef{ID: w.ID}, "btc")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "0.015", cached.Amount, "cache holds the last read")

	res, err = e.balance.GetBalance(ctx, WalletRef{Chain: domain.ChainBitcoin, Address: w.Address}, "")
	require.NoError(t, err)
	assert.Equal(t, "0.02", res.Balance.Amount, "reads always hit the chain")
}

func TestBalanceUsecase_RawAddressCachedByAddress(t *testing.T) {
	e := newTestEnv(t, domain.ChainBitcoin)
	ctx := context.Background()
	e.adapter.setBalance("bc1qraw", "1")

	ref := WalletRef{Chain: domain.ChainBitcoin, Address: "bc1qraw"}
	res, err := e.balance.GetBalance(ctx, ref, "")
	require.NoError(t, err)
	assert.Empty(t, res.WalletID)

	cached, err := e.balances.Get(ctx, domain.ChainBitcoin, "bc1qraw", "BTC")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "1", cached.Amount)
}

func TestBalanceUsecase_ReindexBalances(t *testing.T) {
	e := newTestEnv(t, domain.ChainTron)
	ctx := context.Background()
	a, err := e.wallets.CreateWallet(ctx, domain.ChainTron, "a")
	require.NoError(t, err)
	inst, err := e.wallets.CreateInstitutionalWallet(ctx, domain.ChainTron, "desk", []string{"USDT"})
	require.NoError(t, err)
	e.adapter.setBalance(a.Address, "12")
	e.adapter.setBalance(inst.Address, "7")

	results := e.balance.ReindexBalances(ctx, []BalanceRequest{
		{WalletRef: WalletRef{ID: a.ID}},
		{WalletRef: WalletRef{ID: "missing"}},
		{WalletRef: WalletRef{ID: inst.ID}},
		{WalletRef: WalletRef{ID: inst.ID}, Asset: "usdt"},
	})
	require.Len(t, results, 4)

	assert.Equal(t, "12", results[0].Balance.Amount)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "missing", results[1].WalletID)
	assert.Contains(t, results[1].Error, "not found")
	assert.Contains(t, results[2].Error, xerrors.ErrAssetNotAllowed.Msg)
	assert.Equal(t, "USDT", results[3].Asset)
	assert.Equal(t, "7", results[3].Balance.Amount)

	cached, err := e.balances.Get(ctx, domain.ChainTron, inst.ID, "USDT")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.WithinDuration(t, time.Now(), cached.UpdatedAt, time.Minute)
}
