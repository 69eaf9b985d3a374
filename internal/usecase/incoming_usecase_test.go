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

func TestIncomingUsecase(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	ctx := context.Background()

	owned, _, err := e.wallets.EnsureVirtualWallets(ctx, "carol", []domain.ChainID{domain.ChainEthereum})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	w := owned[0]

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, hash := range []string{"0x1", "0x2", "0x3"} {
		_, err := e.incoming.Record(ctx, domain.IncomingTx{
			Chain:     domain.ChainEthereum,
			TxHash:    hash,
			Address:   w.Address,
			Amount:    "1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	txs, err := e.incomingUC.ListForWallet(ctx, WalletRef{ID: w.ID}, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0x3", txs[0].TxHash)

	txs, err = e.incomingUC.ListForOwner(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	_, err = e.incomingUC.ListForOwner(ctx, "nobody", 0)
	assert.ErrorIs(t, err, xerrors.ErrOwnerNotFound)

	raw, err := e.incomingUC.ListForWallet(ctx, WalletRef{Chain: domain.ChainEthereum, Address: "0xelsewhere"}, 0)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
