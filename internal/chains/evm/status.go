// internal/chains/evm/status.go
package evm

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// GetStatus maps the receipt onto a state. A successful receipt counts as
// confirmed once it has the configured number of confirmations.
func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid transaction hash: %s", txID)
	}
	hash := common.HexToHash(txID)

	return withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (*domain.TxStatus, error) {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			_, pending, err := c.TransactionByHash(ctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				return &domain.TxStatus{TxHash: hash.Hex(), Status: domain.TxUnknown}, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get transaction: %w", err)
			}
			if pending {
				return &domain.TxStatus{TxHash: hash.Hex(), Status: domain.TxPending}, nil
			}
			return &domain.TxStatus{TxHash: hash.Hex(), Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		status := &domain.TxStatus{
			TxHash:      hash.Hex(),
			BlockNumber: receipt.BlockNumber.Uint64(),
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			status.Status = domain.TxFailed
			status.Error = "execution reverted"
			return status, nil
		}

		head, err := c.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get block number: %w", err)
		}
		if head >= status.BlockNumber {
			status.Confirmations = int64(head-status.BlockNumber) + 1
		}
		if uint64(status.Confirmations) >= a.cfg.Confirmations {
			status.Status = domain.TxConfirmed
		} else {
			status.Status = domain.TxPending
		}
		return status, nil
	})
}
