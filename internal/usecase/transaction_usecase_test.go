package usecase

import (
	"context"
	"errors"
	"testing"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionUsecase_SendUsesStoredSecrets(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainEthereum, "hot")
	require.NoError(t, err)

	res, err := e.transactions.Send(ctx, SendRequest{
		From:     WalletRef{ID: w.ID},
		To:       "0xdest",
		Amount:   "0.5",
		Priority: "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TxHash)

	sends := e.adapter.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "key-1", sends[0].Secrets.PrivateKey)
	assert.Equal(t, domain.PriorityNormal, sends[0].Priority)
}

func TestTransactionUsecase_Idempotency(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainEthereum, "hot")
	require.NoError(t, err)

	req := SendRequest{From: WalletRef{ID: w.ID}, To: "0xdest", Amount: "1", ClientTxID: "order-7"}
	first, err := e.transactions.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "order-7", first.ClientTxID)

	second, err := e.transactions.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Len(t, e.adapter.sent(), 1, "repeat is not broadcast")

	req.ClientTxID = "order-8"
	_, err = e.transactions.Send(ctx, req)
	require.NoError(t, err)
	assert.Len(t, e.adapter.sent(), 2)
}

func TestTransactionUsecase_FailedSendReleasesClientTxID(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainEthereum, "hot")
	require.NoError(t, err)

	req := SendRequest{From: WalletRef{ID: w.ID}, To: "0xdest", Amount: "1", ClientTxID: "order-9"}
	e.adapter.sendErr = errors.New("nonce too low")
	_, err = e.transactions.Send(ctx, req)
	require.Error(t, err)

	e.adapter.sendErr = nil
	res, err := e.transactions.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TxHash)
}

func TestTransactionUsecase_Validation(t *testing.T) {
	e := newTestEnv(t, domain.ChainTron)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainTron, "hot")
	require.NoError(t, err)
	inst, err := e.wallets.CreateInstitutionalWallet(ctx, domain.ChainTron, "desk", []string{"USDT"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SendRequest
		want error
		kind xerrors.Kind
	}{
		{"zero amount", SendRequest{From: WalletRef{ID: w.ID}, To: "T1", Amount: "0"}, xerrors.ErrInvalidAmount, ""},
		{"garbage amount", SendRequest{From: WalletRef{ID: w.ID}, To: "T1", Amount: "1e"}, xerrors.ErrInvalidAmount, ""},
		{"no destination", SendRequest{From: WalletRef{ID: w.ID}, Amount: "1"}, nil, xerrors.KindBadRequest},
		{"asset not allowed", SendRequest{From: WalletRef{ID: inst.ID}, To: "T1", Amount: "1"}, xerrors.ErrAssetNotAllowed, ""},
		{"unknown wallet", SendRequest{From: WalletRef{ID: "nope"}, To: "T1", Amount: "1"}, xerrors.ErrWalletNotFound, ""},
		{"signed tx without chain", SendRequest{SignedTx: "0xdead"}, nil, xerrors.KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.transactions.Send(ctx, tt.req)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				assert.True(t, xerrors.Is(err, tt.kind), "got %v", err)
			}
		})
	}
	assert.Empty(t, e.adapter.sent())

	_, err = e.transactions.Send(ctx, SendRequest{From: WalletRef{ID: inst.ID}, To: "T1", Amount: "1", Asset: "usdt"})
	assert.NoError(t, err)
}

func TestTransactionUsecase_SignedTx(t *testing.T) {
	e := newTestEnv(t, domain.ChainCardano)
	e.adapter.caps.SignedTxOnly = true
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainCardano, "ada")
	require.NoError(t, err)

	_, err = e.transactions.Send(ctx, SendRequest{From: WalletRef{ID: w.ID}, To: "addr1", Amount: "1"})
	assert.ErrorIs(t, err, xerrors.ErrSignedTxRequired)

	res, err := e.transactions.Send(ctx, SendRequest{From: WalletRef{Chain: domain.ChainCardano}, SignedTx: " 84a4 "})
	require.NoError(t, err)
	assert.Equal(t, domain.ChainCardano, res.Chain)
	sends := e.adapter.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "84a4", sends[0].SignedTx)
	assert.False(t, sends[0].Wallet.IsRegistered())
}

func TestTransactionUsecase_SendInvalidatesCachedBalance(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, domain.ChainEthereum, "hot")
	require.NoError(t, err)
	e.adapter.setBalance(w.Address, "3")

	_, err = e.balance.GetBalance(ctx, WalletRef{ID: w.ID}, "")
	require.NoError(t, err)
	cached, err := e.balance.CachedBalance(ctx, WalletRef{ID: w.ID}, "")
	require.NoError(t, err)
	require.NotNil(t, cached)

	_, err = e.transactions.Send(ctx, SendRequest{From: WalletRef{ID: w.ID}, To: "0xdest", Amount: "1"})
	require.NoError(t, err)
	cached, err = e.balance.CachedBalance(ctx, WalletRef{ID: w.ID}, "")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestTransactionUsecase_EstimateFeeAndStatus(t *testing.T) {
	e := newTestEnv(t, domain.ChainEthereum)
	e.adapter.fee = domain.FeeQuote{Amount: "0.00042", Currency: "ETH"}
	ctx := context.Background()

	quote, err := e.transactions.EstimateFee(ctx, SendRequest{
		From:     WalletRef{Chain: domain.ChainEthereum, Address: "0xraw"},
		To:       "0xdest",
		Amount:   "1",
		Priority: domain.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.00042", quote.Amount)
	assert.Equal(t, domain.PriorityHigh, quote.Priority)

	st, err := e.transactions.GetStatus(ctx, domain.ChainEthereum, " 0xabc ")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", st.TxHash)
	assert.Equal(t, domain.TxConfirmed, st.Status)

	_, err = e.transactions.GetStatus(ctx, domain.ChainEthereum, "")
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))
	_, err = e.transactions.GetStatus(ctx, domain.ChainRipple, "abc")
	assert.True(t, xerrors.Is(err, xerrors.KindNotImplemented))
}
