// Package cardano reads the Cardano ledger through Blockfrost. Keys are
// ed25519 enterprise addresses; transactions must be built and signed by the
// caller and are submitted as CBOR.
package cardano

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
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

// typicalTxSize is the byte size of a one input, two output payment.
const typicalTxSize = 300

var txHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type Config struct {
	RPC       domain.ChainRPCConfig // Blockfrost base URLs, including /api/v0
	Network   string                // mainnet, preprod or preview
	ProjectID string
}

type Adapter struct {
	mainnet   bool
	info      domain.ChainInfo
	endpoints *rpc.Endpoints
	client    *blockfrost
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	info, _ := domain.InfoFor(domain.ChainCardano)
	mainnet := cfg.Network == "" || cfg.Network == "mainnet"

	logger = logger.With(zap.String("chain", string(domain.ChainCardano)))
	logger.Info("Cardano chain initialized",
		zap.Bool("mainnet", mainnet),
		zap.Strings("endpoints", cfg.RPC.Endpoints()))

	return &Adapter{
		mainnet:   mainnet,
		info:      info,
		endpoints: rpc.NewEndpoints(domain.ChainCardano, cfg.RPC, logger),
		client:    &blockfrost{http: rpc.NewHTTPClient(cfg.RPC.Timeout, rpc.WithHeader("project_id", cfg.ProjectID))},
		logger:    logger,
	}
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainCardano }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Maturity:     domain.MaturityPartial,
		SignedTxOnly: true,
		Assets:       []string{a.info.Symbol},
		Notes:        "transactions must be built and signed by the caller (CBOR hex)",
	}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	return a.client.health(ctx, endpoint)
}

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	addr, err := EnterpriseAddress(pub, a.mainnet)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("wallet generated", zap.String("address", addr))

	return &domain.Wallet{
			Address:   addr,
			Chain:     domain.ChainCardano,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: hex.EncodeToString(priv.Seed()),
		}, nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && !strings.EqualFold(asset, a.info.Symbol) {
		return xerrors.BadRequest("cardano only supports %s, got %s", a.info.Symbol, asset)
	}
	return nil
}

func (a *Adapter) checkAddress(addr string) error {
	if err := validateAddress(addr, a.mainnet); err != nil {
		return xerrors.BadRequest("invalid Cardano address %s: %v", addr, err)
	}
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	if err := a.checkAddress(wallet.Address); err != nil {
		return nil, err
	}
	raw, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (string, error) {
		return a.client.balance(ctx, endpoint, wallet.Address)
	})
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.Upstream(nil, "cardano: malformed balance %q", raw)
	}
	return &domain.Balance{Amount: units.Format(v, a.info.Decimals), Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
}

// EstimateFee applies the linear fee rule min_fee_a * size + min_fee_b to a
// typical payment size.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	size := int64(typicalTxSize)
	if draft.SignedTx != "" {
		if raw, err := hex.DecodeString(draft.SignedTx); err == nil {
			size = int64(len(raw))
		}
	}
	fee, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (int64, error) {
		feeA, feeB, err := a.client.feeParams(ctx, endpoint)
		if err != nil {
			return 0, err
		}
		return feeA*size + feeB, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.FeeQuote{
		Amount:   units.FormatInt64(fee, a.info.Decimals),
		Currency: a.info.Symbol,
		Priority: draft.Priority.OrDefault(),
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if draft.SignedTx == "" {
		return nil, xerrors.ErrSignedTxRequired
	}
	cbor, err := hex.DecodeString(strings.TrimPrefix(draft.SignedTx, "0x"))
	if err != nil || len(cbor) == 0 {
		return nil, xerrors.BadRequest("signed Cardano transaction must be CBOR hex")
	}
	hash, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (string, error) {
		hash, err := a.client.submit(ctx, endpoint, cbor)
		if rpc.StatusCode(err) == 400 {
			// the ledger rejected the transaction itself
			return "", xerrors.BadRequest("cardano: transaction rejected: %v", err)
		}
		return hash, err
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("transaction submitted", zap.String("tx_hash", hash))
	return &domain.SendResult{Chain: domain.ChainCardano, TxHash: hash, Status: domain.TxPending, ClientTxID: draft.ClientTxID}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid Cardano transaction hash: %s", txID)
	}
	txID = strings.ToLower(txID)
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*domain.TxStatus, error) {
		tx, err := a.client.tx(ctx, endpoint, txID)
		if rpc.IsNotFound(err) {
			return &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID, Status: domain.TxConfirmed, BlockNumber: uint64(tx.BlockHeight)}
		if !tx.ValidContract {
			status.Status = domain.TxFailed
			status.Error = "script validation failed"
			return status, nil
		}
		if tip, err := a.client.latestHeight(ctx, endpoint); err == nil && tip >= tx.BlockHeight {
			status.Confirmations = tip - tx.BlockHeight + 1
		}
		return status, nil
	})
}

// ListIncoming returns the outputs paying addr in transactions that do not
// spend from addr.
func (a *Adapter) ListIncoming(ctx context.Context, addr string, limit int) ([]domain.IncomingTx, error) {
	if err := a.checkAddress(addr); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) ([]domain.IncomingTx, error) {
		txs, err := a.client.addressTxs(ctx, endpoint, addr, limit)
		if err != nil {
			return nil, err
		}
		var out []domain.IncomingTx
		for _, t := range txs {
			utxos, err := a.client.utxos(ctx, endpoint, t.TxHash)
			if err != nil {
				return nil, err
			}
			own := false
			for _, in := range utxos.Inputs {
				if in.Address == addr {
					own = true
					break
				}
			}
			if own {
				continue
			}
			from := ""
			if len(utxos.Inputs) > 0 {
				from = utxos.Inputs[0].Address
			}
			for _, o := range utxos.Outputs {
				if o.Address != addr {
					continue
				}
				v, ok := new(big.Int).SetString(lovelace(o.Amount), 10)
				if !ok || v.Sign() == 0 {
					continue
				}
				out = append(out, domain.IncomingTx{
					Chain:       domain.ChainCardano,
					TxHash:      t.TxHash,
					Address:     addr,
					Index:       o.OutputIndex,
					Amount:      units.Format(v, a.info.Decimals),
					Asset:       a.info.Symbol,
					Status:      domain.TxConfirmed,
					From:        from,
					BlockNumber: uint64(t.BlockHeight),
					Timestamp:   time.Unix(t.BlockTime, 0).UTC(),
				}.WithID())
			}
		}
		return out, nil
	})
}
