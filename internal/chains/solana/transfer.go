// internal/chains/solana/transfer.go
package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	owner, err := parseAddress(wallet.Address)
	if err != nil {
		return nil, err
	}
	lamports, err := withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) (uint64, error) {
		res, err := c.GetBalance(ctx, owner, solrpc.CommitmentConfirmed)
		if err != nil {
			return 0, err
		}
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		Amount:   units.FormatUint64(lamports, a.info.Decimals),
		Decimals: a.info.Decimals,
		Symbol:   a.info.Symbol,
	}, nil
}

// transferTx builds an unsigned single transfer paid by from.
func (a *Adapter) transferTx(ctx context.Context, c *solrpc.Client, from, to sol.PublicKey, lamports uint64) (*sol.Transaction, error) {
	recent, err := c.GetLatestBlockhash(ctx, solrpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}
	return sol.NewTransaction(
		[]sol.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		recent.Value.Blockhash,
		sol.TransactionPayer(from),
	)
}

// EstimateFee asks the node to price the transfer message when the draft
// names both parties, falling back to the base signature fee.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	fee := baseFeeLamports

	from, errFrom := sol.PublicKeyFromBase58(draft.Wallet.Address)
	to, errTo := sol.PublicKeyFromBase58(draft.To)
	if errFrom == nil && errTo == nil {
		quoted, err := withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) (uint64, error) {
			tx, err := a.transferTx(ctx, c, from, to, 1)
			if err != nil {
				return 0, err
			}
			msg, err := tx.Message.MarshalBinary()
			if err != nil {
				return 0, err
			}
			res, err := c.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(msg), solrpc.CommitmentProcessed)
			if err != nil {
				return 0, err
			}
			if res.Value == nil {
				return baseFeeLamports, nil
			}
			return *res.Value, nil
		})
		if err != nil {
			a.logger.Warn("fee quote failed, using base fee", zap.Error(err))
		} else {
			fee = quoted
		}
	}

	return &domain.FeeQuote{
		Amount:   units.FormatUint64(fee, a.info.Decimals),
		Currency: a.info.Symbol,
		Priority: draft.Priority.OrDefault(),
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	if draft.SignedTx != "" {
		return a.sendRaw(ctx, draft)
	}

	from, err := parseAddress(draft.Wallet.Address)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress(draft.To)
	if err != nil {
		return nil, err
	}
	amount, err := units.ParsePositive(draft.Amount, a.info.Decimals)
	if err != nil {
		return nil, xerrors.BadRequest("%v", err)
	}
	if !amount.IsUint64() {
		return nil, xerrors.BadRequest("amount out of range: %s", draft.Amount)
	}
	key, err := parseKey(draft.Secrets, from)
	if err != nil {
		return nil, err
	}

	tx, err := withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) (*sol.Transaction, error) {
		return a.transferTx(ctx, c, from, to, amount.Uint64())
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Sign(func(pk sol.PublicKey) *sol.PrivateKey {
		if pk.Equals(from) {
			return &key
		}
		return nil
	}); err != nil {
		return nil, xerrors.BadRequest("failed to sign transaction: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	sig, err := a.broadcast(ctx, raw, tx.Signatures[0])
	if err != nil {
		return nil, err
	}

	a.logger.Info("transaction broadcast", zap.String("tx_hash", sig.String()))
	return &domain.SendResult{
		Chain:      domain.ChainSolana,
		TxHash:     sig.String(),
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

// sendRaw submits a base64 encoded, fully signed transaction.
func (a *Adapter) sendRaw(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	raw, err := base64.StdEncoding.DecodeString(draft.SignedTx)
	if err != nil {
		return nil, xerrors.BadRequest("signed transaction must be base64")
	}
	tx, err := sol.TransactionFromBytes(raw)
	if err != nil || len(tx.Signatures) == 0 {
		return nil, xerrors.BadRequest("invalid signed transaction")
	}
	sig, err := a.broadcast(ctx, raw, tx.Signatures[0])
	if err != nil {
		return nil, err
	}
	return &domain.SendResult{
		Chain:      domain.ChainSolana,
		TxHash:     sig.String(),
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

// broadcast submits the same signed bytes to each endpoint in turn. A node
// that has already processed them reports the transaction's own signature.
func (a *Adapter) broadcast(ctx context.Context, raw []byte, sig sol.Signature) (sol.Signature, error) {
	return withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) (sol.Signature, error) {
		got, err := c.SendRawTransactionWithOpts(ctx, raw, solrpc.TransactionOpts{
			PreflightCommitment: solrpc.CommitmentConfirmed,
		})
		if err != nil {
			if alreadyProcessed(err) {
				return sig, nil
			}
			return sol.Signature{}, err
		}
		return got, nil
	})
}

func alreadyProcessed(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(rpcErr.Message, "already been processed") ||
		strings.Contains(fmt.Sprint(rpcErr.Data), "AlreadyProcessed")
}
