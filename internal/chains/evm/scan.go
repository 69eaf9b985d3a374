// internal/chains/evm/scan.go
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"custody-service/internal/domain"
	"custody-service/pkg/units"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// rpcBlock is the part of eth_getBlockByNumber read by the scanner. Unknown
// transaction types decode like any other and are filtered by type.
type rpcBlock struct {
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []rpcTx        `json:"transactions"`
}

type rpcTx struct {
	Hash  common.Hash     `json:"hash"`
	Type  hexutil.Uint64  `json:"type"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

// transferTypes are the envelope types that can move value to a user:
// legacy, access list, dynamic fee, blob, set code, and arbitrum's L1
// deposit (0x64). Arbitrum system transactions such as 0x6a are skipped.
var transferTypes = map[uint64]bool{
	0x00: true,
	0x01: true,
	0x02: true,
	0x03: true,
	0x04: true,
	0x64: true,
}

func (a *Adapter) LatestBlock(ctx context.Context) (uint64, error) {
	return withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// ScanWindow is the number of blocks scanned per monitor cycle.
func (a *Adapter) ScanWindow() uint64 {
	return a.cfg.ScanWindow
}

// ScanIncoming finds native transfers and token Transfer logs paying any of
// addresses in blocks [from, to]. Native transfers use index 0; token
// transfers use log index + 1.
func (a *Adapter) ScanIncoming(ctx context.Context, addresses []string, from, to uint64) ([]domain.IncomingTx, error) {
	if len(addresses) == 0 || from > to {
		return nil, nil
	}

	watched := make(map[common.Address]string, len(addresses))
	topics := make([]common.Hash, 0, len(addresses))
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			a.logger.Warn("skipping invalid address", zap.String("address", addr))
			continue
		}
		h := common.HexToAddress(addr)
		watched[h] = addr
		topics = append(topics, common.BytesToHash(h.Bytes()))
	}
	if len(watched) == 0 {
		return nil, nil
	}

	var out []domain.IncomingTx
	times := make(map[uint64]time.Time)

	for n := from; n <= to; n++ {
		block, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) (*rpcBlock, error) {
			var block *rpcBlock
			if err := c.Client().CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(n), true); err != nil {
				return nil, err
			}
			if block == nil {
				return nil, ethereum.NotFound
			}
			return block, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get block %d: %w", n, err)
		}
		ts := time.Unix(int64(block.Timestamp), 0).UTC()
		times[n] = ts

		for _, tx := range block.Transactions {
			if !transferTypes[uint64(tx.Type)] || tx.To == nil || tx.Value == nil || tx.Value.ToInt().Sign() <= 0 {
				continue
			}
			addr, ok := watched[*tx.To]
			if !ok {
				continue
			}
			in := domain.IncomingTx{
				Chain:       a.cfg.Chain,
				TxHash:      tx.Hash.Hex(),
				Address:     addr,
				Amount:      units.Format(tx.Value.ToInt(), a.info.Decimals),
				Asset:       a.info.Symbol,
				Status:      domain.TxConfirmed,
				From:        tx.From.Hex(),
				BlockNumber: n,
				Timestamp:   ts,
			}
			out = append(out, in.WithID())
		}
	}

	if len(a.cfg.Tokens) > 0 {
		contracts := make([]common.Address, 0, len(a.cfg.Tokens))
		for _, t := range a.cfg.Tokens {
			contracts = append(contracts, common.HexToAddress(t.Contract))
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: contracts,
			Topics:    [][]common.Hash{{transferTopic}, nil, topics},
		}
		logs, err := withClient(ctx, a, func(ctx context.Context, c *ethclient.Client) ([]types.Log, error) {
			return c.FilterLogs(ctx, query)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs: %w", err)
		}

		for _, l := range logs {
			if len(l.Topics) < 3 || l.Removed {
				continue
			}
			token := a.tokenByContract(l.Address)
			if token == nil {
				continue
			}
			addr, ok := watched[common.BytesToAddress(l.Topics[2].Bytes())]
			if !ok {
				continue
			}
			in := domain.IncomingTx{
				Chain:       a.cfg.Chain,
				TxHash:      l.TxHash.Hex(),
				Address:     addr,
				Index:       int(l.Index) + 1,
				Amount:      units.Format(new(big.Int).SetBytes(l.Data), token.Decimals),
				Asset:       token.Symbol,
				Status:      domain.TxConfirmed,
				From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
				BlockNumber: l.BlockNumber,
				Timestamp:   times[l.BlockNumber],
			}
			out = append(out, in.WithID())
		}
	}

	return out, nil
}

// ListIncoming scans the most recent window for a single address.
func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	if _, err := validateAddress(address); err != nil {
		return nil, err
	}
	head, err := a.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	from := uint64(0)
	if head+1 > a.cfg.ScanWindow {
		from = head + 1 - a.cfg.ScanWindow
	}

	txs, err := a.ScanIncoming(ctx, []string{address}, from, head)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].BlockNumber > txs[j].BlockNumber })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}
