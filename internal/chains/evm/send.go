// internal/chains/evm/send.go
package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// EstimateFee prices gas at the suggested price, adjusted for priority and
// capped at MaxGasPrice. The fee is always in the native asset.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	token, err := a.resolveAsset(draft.Asset)
	if err != nil {
		return nil, err
	}
	priority := draft.Priority.OrDefault()

	gasPrice, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	gasPrice = a.capGasPrice(applyPriority(gasPrice, priority))

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(a.gasLimit(token)))
	return &domain.FeeQuote{
		Amount:   units.Format(fee, a.info.Decimals),
		Currency: a.info.Symbol,
		Priority: priority,
	}, nil
}

// SendTransaction broadcasts draft.SignedTx when present, otherwise builds
// and signs a legacy EIP-155 transfer with the wallet secrets.
func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if draft.SignedTx != "" {
		return a.sendRaw(ctx, draft)
	}

	from, err := validateAddress(draft.Wallet.Address)
	if err != nil {
		return nil, err
	}
	to, err := validateAddress(draft.To)
	if err != nil {
		return nil, err
	}
	token, err := a.resolveAsset(draft.Asset)
	if err != nil {
		return nil, err
	}
	decimals := a.info.Decimals
	if token != nil {
		decimals = token.Decimals
	}
	amount, err := units.ParsePositive(draft.Amount, decimals)
	if err != nil {
		return nil, xerrors.BadRequest("%v", err)
	}

	key, err := parsePrivateKey(draft.Secrets)
	if err != nil {
		return nil, err
	}
	if crypto.PubkeyToAddress(key.PublicKey) != from {
		return nil, xerrors.BadRequest("private key does not match wallet address")
	}

	a.logger.Info("sending transaction",
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("asset", draft.Asset),
		zap.String("amount", draft.Amount))

	params, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (txParams, error) {
		nonce, err := c.PendingNonceAt(ctx, from)
		if err != nil {
			return txParams{}, fmt.Errorf("failed to get nonce: %w", err)
		}
		gasPrice, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return txParams{}, fmt.Errorf("failed to get gas price: %w", err)
		}
		return txParams{nonce: nonce, gasPrice: gasPrice}, nil
	})
	if err != nil {
		return nil, err
	}
	gasPrice := a.capGasPrice(applyPriority(params.gasPrice, draft.Priority.OrDefault()))

	var tx *types.Transaction
	if token == nil {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    params.nonce,
			To:       &to,
			Value:    amount,
			Gas:      a.cfg.GasLimitNative,
			GasPrice: gasPrice,
		})
	} else {
		data, err := a.packTransfer(to, amount)
		if err != nil {
			return nil, err
		}
		contract := common.HexToAddress(token.Contract)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    params.nonce,
			To:       &contract,
			Value:    new(big.Int),
			Gas:      a.cfg.GasLimitToken,
			GasPrice: gasPrice,
			Data:     data,
		})
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := a.broadcast(ctx, signed); err != nil {
		return nil, err
	}

	a.logger.Info("transaction sent", zap.String("tx_hash", signed.Hash().Hex()))

	return &domain.SendResult{
		Chain:      a.cfg.Chain,
		TxHash:     signed.Hash().Hex(),
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

func (a *Adapter) sendRaw(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(draft.SignedTx, "0x"))
	if err != nil {
		return nil, xerrors.BadRequest("signed transaction is not hex: %v", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, xerrors.BadRequest("invalid signed transaction: %v", err)
	}

	if err := a.broadcast(ctx, tx); err != nil {
		return nil, err
	}

	return &domain.SendResult{
		Chain:      a.cfg.Chain,
		TxHash:     tx.Hash().Hex(),
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

type txParams struct {
	nonce    uint64
	gasPrice *big.Int
}

// broadcast submits the same signed transaction to each endpoint in turn.
// A node that already has it, or has already mined it, counts as success.
func (a *Adapter) broadcast(ctx context.Context, tx *types.Transaction) error {
	_, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (struct{}, error) {
		err := c.SendTransaction(ctx, tx)
		if err == nil || alreadyKnown(err) {
			return struct{}{}, nil
		}
		if nonceTooLow(err) {
			if _, _, lookupErr := c.TransactionByHash(ctx, tx.Hash()); lookupErr == nil {
				return struct{}{}, nil
			}
		}
		return struct{}{}, fmt.Errorf("failed to send transaction: %w", err)
	})
	return err
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "already imported")
}

func nonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func (a *Adapter) gasLimit(token *TokenConfig) uint64 {
	if token == nil {
		return a.cfg.GasLimitNative
	}
	return a.cfg.GasLimitToken
}

func (a *Adapter) capGasPrice(gasPrice *big.Int) *big.Int {
	if a.cfg.MaxGasPrice != nil && gasPrice.Cmp(a.cfg.MaxGasPrice) > 0 {
		return new(big.Int).Set(a.cfg.MaxGasPrice)
	}
	return gasPrice
}

// applyPriority scales the gas price: low 80%, normal 100%, high 150%.
func applyPriority(gasPrice *big.Int, priority domain.Priority) *big.Int {
	percent := int64(100)
	switch priority {
	case domain.PriorityLow:
		percent = 80
	case domain.PriorityHigh:
		percent = 150
	}
	out := new(big.Int).Mul(gasPrice, big.NewInt(percent))
	return out.Quo(out, big.NewInt(100))
}
