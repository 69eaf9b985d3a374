// Package substrate serves Polkadot style chains. Keys are ed25519 with
// SS58 addresses; transactions must be signed by the caller and are
// submitted through Substrate API Sidecar.
package substrate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"go.uber.org/zap"
)

var extrinsicHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Config struct {
	RPC        domain.ChainRPCConfig // sidecar endpoints
	Indexer    domain.ChainRPCConfig // subscan endpoints
	IndexerKey string
	SS58Prefix uint8
	DefaultFee string // planck, used when no signed tx is available to price
}

type Adapter struct {
	cfg      Config
	info     domain.ChainInfo
	nodes    *rpc.Endpoints
	indexers *rpc.Endpoints
	sidecar  *sidecar
	subscan  *subscan
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.DefaultFee == "" {
		cfg.DefaultFee = "156000000"
	}
	if _, ok := new(big.Int).SetString(cfg.DefaultFee, 10); !ok {
		return nil, fmt.Errorf("invalid polkadot default fee: %q", cfg.DefaultFee)
	}
	info, _ := domain.InfoFor(domain.ChainPolkadot)

	logger = logger.With(zap.String("chain", string(domain.ChainPolkadot)))
	logger.Info("Polkadot chain initialized",
		zap.Uint8("ss58_prefix", cfg.SS58Prefix),
		zap.Strings("endpoints", cfg.RPC.Endpoints()),
		zap.Bool("indexer", len(cfg.Indexer.Endpoints()) > 0))

	return &Adapter{
		cfg:      cfg,
		info:     info,
		nodes:    rpc.NewEndpoints(domain.ChainPolkadot, cfg.RPC, logger),
		indexers: rpc.NewEndpoints(domain.ChainPolkadot, cfg.Indexer, logger),
		sidecar:  &sidecar{http: rpc.NewHTTPClient(cfg.RPC.Timeout)},
		subscan:  &subscan{http: rpc.NewHTTPClient(cfg.Indexer.Timeout, rpc.WithHeader("X-API-Key", cfg.IndexerKey))},
		logger:   logger,
	}, nil
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainPolkadot }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Maturity:     domain.MaturityPartial,
		SignedTxOnly: true,
		Assets:       []string{a.info.Symbol},
		Notes:        "extrinsics must be signed by the caller",
	}
}

func (a *Adapter) Endpoints() []string { return a.nodes.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	return a.sidecar.ping(ctx, endpoint)
}

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	address := EncodeSS58(pub, a.cfg.SS58Prefix)
	a.logger.Info("wallet generated", zap.String("address", address))

	return &domain.Wallet{
			Address:   address,
			Chain:     domain.ChainPolkadot,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: hex.EncodeToString(priv.Seed()),
		}, nil
}

func (a *Adapter) validateAddress(address string) error {
	_, prefix, err := DecodeSS58(address)
	if err != nil || prefix != a.cfg.SS58Prefix {
		return xerrors.BadRequest("invalid polkadot address: %s", address)
	}
	return nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && !strings.EqualFold(asset, a.info.Symbol) {
		return xerrors.BadRequest("polkadot only supports %s, got %s", a.info.Symbol, asset)
	}
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	if err := a.validateAddress(wallet.Address); err != nil {
		return nil, err
	}
	free, err := rpc.Do(ctx, a.nodes, func(ctx context.Context, base string) (string, error) {
		return a.sidecar.freeBalance(ctx, base, wallet.Address)
	})
	if err != nil {
		return nil, err
	}
	amount, err := a.formatPlanck(free)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{Amount: amount, Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
}

// EstimateFee asks the sidecar to price a signed extrinsic. Without one
// the configured default is quoted.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	fee := a.cfg.DefaultFee
	if draft.SignedTx != "" {
		partial, err := rpc.Do(ctx, a.nodes, func(ctx context.Context, base string) (string, error) {
			return a.sidecar.feeEstimate(ctx, base, draft.SignedTx)
		})
		if err != nil {
			a.logger.Warn("fee estimate failed, using default", zap.Error(err))
		} else if partial != "" {
			fee = partial
		}
	}
	amount, err := a.formatPlanck(fee)
	if err != nil {
		return nil, err
	}
	return &domain.FeeQuote{Amount: amount, Currency: a.info.Symbol, Priority: draft.Priority.OrDefault()}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	if draft.SignedTx == "" {
		return nil, xerrors.ErrSignedTxRequired
	}
	tx := draft.SignedTx
	if !strings.HasPrefix(tx, "0x") {
		tx = "0x" + tx
	}
	if _, err := hex.DecodeString(tx[2:]); err != nil {
		return nil, xerrors.BadRequest("signed extrinsic must be hex")
	}

	hash, err := rpc.Do(ctx, a.nodes, func(ctx context.Context, base string) (string, error) {
		return a.sidecar.submit(ctx, base, tx)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("extrinsic submitted", zap.String("tx_hash", hash))
	return &domain.SendResult{
		Chain:      domain.ChainPolkadot,
		TxHash:     hash,
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !extrinsicHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid extrinsic hash: %s", txID)
	}
	if len(a.indexers.List()) == 0 {
		return nil, xerrors.NotImplemented("polkadot status lookups need an indexer endpoint")
	}
	return rpc.Do(ctx, a.indexers, func(ctx context.Context, base string) (*domain.TxStatus, error) {
		ext, err := a.subscan.extrinsic(ctx, base, txID)
		if rpc.IsNotFound(err) {
			return &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID, BlockNumber: ext.BlockNum}
		switch {
		case !ext.Success:
			status.Status = domain.TxFailed
			if ext.Error != nil {
				status.Error = ext.Error.Module + "." + ext.Error.Name
			}
		case ext.Finalized:
			status.Status = domain.TxConfirmed
		default:
			status.Status = domain.TxPending
		}
		return status, nil
	})
}

func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	if err := a.validateAddress(address); err != nil {
		return nil, err
	}
	if len(a.indexers.List()) == 0 {
		return nil, xerrors.NotImplemented("polkadot incoming history needs an indexer endpoint")
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	transfers, err := rpc.Do(ctx, a.indexers, func(ctx context.Context, base string) ([]transfer, error) {
		return a.subscan.transfers(ctx, base, address, limit)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.IncomingTx, 0, len(transfers))
	for _, t := range transfers {
		if t.To != address || !t.Success {
			continue
		}
		if t.AssetSymbol != "" && !strings.EqualFold(t.AssetSymbol, a.info.Symbol) {
			continue
		}
		amount, err := units.Normalize(t.Amount, a.info.Decimals)
		if err != nil {
			continue
		}
		out = append(out, domain.IncomingTx{
			Chain:       domain.ChainPolkadot,
			TxHash:      t.Hash,
			Address:     address,
			Index:       t.EventIdx,
			Amount:      amount,
			Asset:       a.info.Symbol,
			Status:      domain.TxConfirmed,
			From:        t.From,
			BlockNumber: t.BlockNum,
			Timestamp:   time.Unix(t.BlockTimestamp, 0).UTC(),
		}.WithID())
	}
	return out, nil
}

func (a *Adapter) formatPlanck(raw string) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", xerrors.Upstream(nil, "invalid planck amount %q", raw)
	}
	return units.Format(v, a.info.Decimals), nil
}
