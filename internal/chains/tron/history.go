// internal/chains/tron/history.go
package tron

import (
	"context"
	"encoding/hex"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"golang.org/x/sync/errgroup"
)

var txIDPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// decodeMessage turns the hex encoded error text nodes return into ASCII.
func decodeMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil && len(b) > 0 {
		return string(b)
	}
	return msg
}

// base58Address converts a 41 prefixed hex address as returned by TronGrid.
func base58Address(h string) string {
	a := address.HexToAddress(h)
	if len(a) != address.AddressLength {
		return ""
	}
	return a.String()
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txIDPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid TRON transaction id: %s", txID)
	}
	txID = strings.ToLower(strings.TrimPrefix(txID, "0x"))

	return rpc.Do(ctx, a.http, func(ctx context.Context, endpoint string) (*domain.TxStatus, error) {
		info, err := a.client.txInfo(ctx, endpoint, txID)
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID}
		if info.ID == "" {
			// not in a block yet; the node may still hold it in its pool
			tx, err := a.client.tx(ctx, endpoint, txID)
			if err != nil {
				return nil, err
			}
			status.Status = domain.TxUnknown
			if tx.TxID != "" {
				status.Status = domain.TxPending
			}
			return status, nil
		}

		status.BlockNumber = uint64(info.BlockNumber)
		if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
			status.Status = domain.TxFailed
			status.Error = strings.TrimSpace(info.Receipt.Result + " " + decodeMessage(info.ResMessage))
			return status, nil
		}

		head, err := a.client.nowBlock(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if head >= info.BlockNumber {
			status.Confirmations = head - info.BlockNumber + 1
		}
		status.Status = domain.TxPending
		if status.Confirmations >= a.cfg.Confirmations {
			status.Status = domain.TxConfirmed
		}
		return status, nil
	})
}

type incomingPage struct {
	native []nativeTransfer
	tokens []tokenTransfer
}

// ListIncoming merges confirmed TRX transfers and TRC20 transfers of the
// configured tokens, newest first.
func (a *Adapter) ListIncoming(ctx context.Context, addr string, limit int) ([]domain.IncomingTx, error) {
	if _, err := parseAddress(addr); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	page, err := rpc.Do(ctx, a.http, func(ctx context.Context, endpoint string) (*incomingPage, error) {
		var p incomingPage
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			p.native, err = a.client.incomingNative(gctx, endpoint, addr, limit)
			return err
		})
		if len(a.cfg.Tokens) > 0 {
			g.Go(func() error {
				var err error
				p.tokens, err = a.client.incomingTokens(gctx, endpoint, addr, limit)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		return nil, err
	}

	var out []domain.IncomingTx
	for _, tx := range page.native {
		if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "SUCCESS" {
			continue
		}
		for i, c := range tx.RawData.Contract {
			v := c.Parameter.Value
			if c.Type != "TransferContract" || base58Address(v.ToAddress) != addr {
				continue
			}
			out = append(out, domain.IncomingTx{
				Chain:       domain.ChainTron,
				TxHash:      tx.TxID,
				Address:     addr,
				Index:       i,
				Amount:      units.FormatInt64(v.Amount, a.info.Decimals),
				Asset:       a.info.Symbol,
				Status:      domain.TxConfirmed,
				From:        base58Address(v.OwnerAddress),
				BlockNumber: uint64(tx.BlockNumber),
				Timestamp:   time.UnixMilli(tx.BlockTimestamp).UTC(),
			}.WithID())
		}
	}

	for _, t := range page.tokens {
		token := a.tokenByContract(t.TokenInfo.Address)
		if token == nil || t.To != addr || t.Type != "Transfer" {
			continue
		}
		value, ok := new(big.Int).SetString(t.Value, 10)
		if !ok {
			continue
		}
		// index 0 belongs to the TRX value of the same transaction
		out = append(out, domain.IncomingTx{
			Chain:     domain.ChainTron,
			TxHash:    t.TransactionID,
			Address:   addr,
			Index:     1,
			Amount:    units.Format(value, token.Decimals),
			Asset:     token.Symbol,
			Status:    domain.TxConfirmed,
			From:      t.From,
			Timestamp: time.UnixMilli(t.BlockTimestamp).UTC(),
		}.WithID())
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
