// internal/chains/solana/history.go
package solana

import (
	"context"
	"fmt"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	sol "github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	sig, err := sol.SignatureFromBase58(txID)
	if err != nil {
		return nil, xerrors.BadRequest("invalid transaction signature: %s", txID)
	}

	return withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) (*domain.TxStatus, error) {
		res, err := c.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}
		if len(res.Value) == 0 || res.Value[0] == nil {
			return status, nil
		}
		st := res.Value[0]
		status.BlockNumber = st.Slot
		if st.Confirmations != nil {
			status.Confirmations = int64(*st.Confirmations)
		}
		switch {
		case st.Err != nil:
			status.Status = domain.TxFailed
			status.Error = fmt.Sprint(st.Err)
		case st.ConfirmationStatus == solrpc.ConfirmationStatusFinalized:
			status.Status = domain.TxConfirmed
		default:
			status.Status = domain.TxPending
		}
		return status, nil
	})
}

// ListIncoming walks recent signatures for address and reports those that
// raised its lamport balance.
func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	return withClient(ctx, a, func(ctx context.Context, c *solrpc.Client) ([]domain.IncomingTx, error) {
		sigs, err := c.GetSignaturesForAddressWithOpts(ctx, owner, &solrpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: solrpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, err
		}

		var out []domain.IncomingTx
		maxVersion := uint64(0)
		for _, s := range sigs {
			if s.Err != nil {
				continue
			}
			res, err := c.GetTransaction(ctx, s.Signature, &solrpc.GetTransactionOpts{
				Encoding:                       sol.EncodingBase64,
				Commitment:                     solrpc.CommitmentConfirmed,
				MaxSupportedTransactionVersion: &maxVersion,
			})
			if err != nil {
				return nil, err
			}
			in, ok := a.incomingFrom(res, owner, s.Signature.String())
			if !ok {
				continue
			}
			if s.BlockTime != nil {
				in.Timestamp = s.BlockTime.Time().UTC()
			}
			out = append(out, in.WithID())
		}
		return out, nil
	})
}

func (a *Adapter) incomingFrom(res *solrpc.GetTransactionResult, owner sol.PublicKey, signature string) (domain.IncomingTx, bool) {
	if res == nil || res.Meta == nil || res.Meta.Err != nil || res.Transaction == nil {
		return domain.IncomingTx{}, false
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return domain.IncomingTx{}, false
	}
	idx := -1
	for i, key := range tx.Message.AccountKeys {
		if key.Equals(owner) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(res.Meta.PreBalances) || idx >= len(res.Meta.PostBalances) {
		return domain.IncomingTx{}, false
	}
	pre, post := res.Meta.PreBalances[idx], res.Meta.PostBalances[idx]
	if post <= pre {
		return domain.IncomingTx{}, false
	}

	from := ""
	if len(tx.Message.AccountKeys) > 0 {
		from = tx.Message.AccountKeys[0].String()
	}
	in := domain.IncomingTx{
		Chain:       domain.ChainSolana,
		TxHash:      signature,
		Address:     owner.String(),
		Index:       idx,
		Amount:      units.FormatUint64(post-pre, a.info.Decimals),
		Asset:       a.info.Symbol,
		Status:      domain.TxConfirmed,
		From:        from,
		BlockNumber: res.Slot,
	}
	if res.BlockTime != nil {
		in.Timestamp = time.Unix(int64(*res.BlockTime), 0).UTC()
	}
	return in, true
}
