// internal/chains/tron/transfer.go
package tron

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"go.uber.org/zap"
)

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	token, err := a.resolveAsset(asset)
	if err != nil {
		return nil, err
	}
	if _, err := parseAddress(wallet.Address); err != nil {
		return nil, err
	}
	raw, err := a.rawBalance(ctx, wallet.Address, token)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &domain.Balance{Amount: units.Format(raw, a.info.Decimals), Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
	}
	return &domain.Balance{Amount: units.Format(raw, token.Decimals), Decimals: token.Decimals, Symbol: token.Symbol}, nil
}

func (a *Adapter) rawBalance(ctx context.Context, addr string, token *TokenConfig) (*big.Int, error) {
	return rpc.Do(ctx, a.http, func(ctx context.Context, endpoint string) (*big.Int, error) {
		trx, tokens, err := a.client.balances(ctx, endpoint, addr)
		if err != nil {
			return nil, err
		}
		if token == nil {
			return big.NewInt(trx), nil
		}
		v, ok := new(big.Int).SetString(tokens[token.Contract], 10)
		if !ok {
			return new(big.Int), nil
		}
		return v, nil
	})
}

// EstimateFee quotes the TRX burnt when the sender has no staked resources.
// TRON has no fee market so priority does not change the quote.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	token, err := a.resolveAsset(draft.Asset)
	if err != nil {
		return nil, err
	}
	quote := &domain.FeeQuote{Currency: a.info.Symbol, Priority: draft.Priority.OrDefault()}
	if token == nil {
		quote.Amount = units.FormatInt64(nativeBandwidth*bandwidthPrice, a.info.Decimals)
		return quote, nil
	}

	to, err := parseAddress(draft.To)
	if err != nil {
		return nil, err
	}
	amount, err := units.Parse(draft.Amount, token.Decimals)
	if err != nil {
		return nil, xerrors.BadRequest("invalid amount %q: %v", draft.Amount, err)
	}
	sun, err := rpc.Do(ctx, a.http, func(ctx context.Context, endpoint string) (int64, error) {
		return a.tokenFee(ctx, endpoint, draft.Wallet.Address, token, to, amount), nil
	})
	if err != nil {
		return nil, err
	}
	quote.Amount = units.FormatInt64(sun, a.info.Decimals)
	return quote, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if draft.SignedTx != "" {
		return a.sendRaw(ctx, draft)
	}
	token, err := a.resolveAsset(draft.Asset)
	if err != nil {
		return nil, err
	}
	if _, err := parseAddress(draft.To); err != nil {
		return nil, err
	}
	if _, err := parseAddress(draft.Wallet.Address); err != nil {
		return nil, err
	}
	key, err := signingKey(draft.Secrets, draft.Wallet.Address)
	if err != nil {
		return nil, err
	}
	if len(a.grpc.List()) == 0 {
		return nil, xerrors.ErrSignedTxRequired
	}

	decimals, symbol := a.info.Decimals, a.info.Symbol
	if token != nil {
		decimals, symbol = token.Decimals, token.Symbol
	}
	amount, err := units.ParsePositive(draft.Amount, decimals)
	if err != nil {
		return nil, err
	}
	if !amount.IsInt64() {
		return nil, xerrors.BadRequest("amount too large: %s", draft.Amount)
	}

	balance, err := a.rawBalance(ctx, draft.Wallet.Address, token)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		missing := new(big.Int).Sub(amount, balance)
		return nil, xerrors.InsufficientFunds(units.Format(missing, decimals),
			"tron: insufficient %s balance: have %s, need %s", symbol, units.Format(balance, decimals), draft.Amount)
	}

	tx, err := rpc.Do(ctx, a.grpc, func(_ context.Context, endpoint string) (*core.Transaction, error) {
		b, err := a.builder(endpoint)
		if err != nil {
			return nil, err
		}
		var ext *api.TransactionExtention
		if token == nil {
			ext, err = b.Transfer(draft.Wallet.Address, draft.To, amount.Int64())
		} else {
			ext, err = b.TriggerContract(draft.Wallet.Address, token.Contract, transferSelector,
				transferArgs(draft.To, amount), a.cfg.FeeLimit, 0, "", 0)
		}
		if err != nil {
			return nil, err
		}
		if ext == nil || ext.Transaction == nil || ext.Transaction.RawData == nil {
			return nil, errors.New("node returned an empty transaction")
		}
		return ext.Transaction, nil
	})
	if err != nil {
		return nil, err
	}

	txID, err := signTransaction(tx, key)
	if err != nil {
		return nil, err
	}
	if err := a.broadcast(ctx, tx); err != nil {
		return nil, err
	}

	a.logger.Info("transaction broadcast",
		zap.String("tx_hash", txID),
		zap.String("asset", symbol),
		zap.String("amount", draft.Amount))
	return &domain.SendResult{Chain: domain.ChainTron, TxHash: txID, Status: domain.TxPending, ClientTxID: draft.ClientTxID}, nil
}

// broadcast submits the same signed transaction to each gRPC node in turn.
// A node that already holds it counts as success.
func (a *Adapter) broadcast(ctx context.Context, tx *core.Transaction) error {
	return rpc.Exec(ctx, a.grpc, func(_ context.Context, endpoint string) error {
		b, err := a.builder(endpoint)
		if err != nil {
			return err
		}
		ret, err := b.Broadcast(tx)
		if err == nil {
			return nil
		}
		if ret == nil {
			return err
		}
		switch ret.GetCode() {
		case api.Return_DUP_TRANSACTION_ERROR:
			return nil
		case api.Return_SERVER_BUSY, api.Return_NO_CONNECTION, api.Return_NOT_ENOUGH_EFFECTIVE_CONNECTION:
			return err
		}
		// the node answered and refused the transaction
		return xerrors.BadRequest("tron: broadcast rejected: %v", err)
	})
}

func (a *Adapter) sendRaw(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if !isHexTx(draft.SignedTx) {
		return nil, xerrors.BadRequest("signed TRON transaction must be hex encoded")
	}
	raw := strings.TrimPrefix(draft.SignedTx, "0x")
	res, err := rpc.Do(ctx, a.http, func(ctx context.Context, endpoint string) (*broadcastResponse, error) {
		return a.client.broadcastHex(ctx, endpoint, raw)
	})
	if err != nil {
		return nil, err
	}
	duplicate := res.Code == api.Return_DUP_TRANSACTION_ERROR.String() && res.TxID != ""
	if !res.Result && !duplicate {
		return nil, xerrors.BadRequest("tron: broadcast rejected: %s %s", res.Code, decodeMessage(res.Message))
	}
	return &domain.SendResult{Chain: domain.ChainTron, TxHash: res.TxID, Status: domain.TxPending, ClientTxID: draft.ClientTxID}, nil
}
