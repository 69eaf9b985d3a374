// Package ripple serves the XRP Ledger through rippled's JSON API. Payments
// must arrive as signed tx blobs.
package ripple

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"
)

// rippleEpoch is 2000-01-01T00:00:00Z in unix seconds.
const rippleEpoch = 946684800

var txHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type Config struct {
	RPC domain.ChainRPCConfig
}

type Adapter struct {
	info      domain.ChainInfo
	endpoints *rpc.Endpoints
	client    *rippled
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	info, _ := domain.InfoFor(domain.ChainRipple)
	logger = logger.With(zap.String("chain", string(domain.ChainRipple)))
	logger.Info("XRP Ledger initialized", zap.Strings("endpoints", cfg.RPC.Endpoints()))

	return &Adapter{
		info:      info,
		endpoints: rpc.NewEndpoints(domain.ChainRipple, cfg.RPC, logger),
		client:    &rippled{http: rpc.NewHTTPClient(cfg.RPC.Timeout)},
		logger:    logger,
	}
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainRipple }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Maturity:     domain.MaturityPartial,
		SignedTxOnly: true,
		Assets:       []string{a.info.Symbol},
		Notes:        "payments must be submitted as signed tx blobs",
	}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	return a.client.call(ctx, endpoint, "server_info", nil, nil)
}

// CreateWallet generates a secp256k1 account key. The hex private key is the
// raw scalar, not a family seed.
func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	address := EncodeAccountID(btcutil.Hash160(key.PubKey().SerializeCompressed()))
	a.logger.Info("wallet generated", zap.String("address", address))

	return &domain.Wallet{
			Address:   address,
			Chain:     domain.ChainRipple,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: strings.ToUpper(hex.EncodeToString(key.Serialize())),
		}, nil
}

func validateAddress(address string) error {
	if _, err := DecodeAddress(address); err != nil {
		return xerrors.BadRequest("invalid XRP address: %s", address)
	}
	return nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && !strings.EqualFold(asset, a.info.Symbol) {
		return xerrors.BadRequest("ripple only supports %s, got %s", a.info.Symbol, asset)
	}
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	if err := validateAddress(wallet.Address); err != nil {
		return nil, err
	}
	drops, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (string, error) {
		var info accountInfo
		err := a.client.call(ctx, endpoint, "account_info", map[string]any{
			"account":      wallet.Address,
			"ledger_index": "validated",
		}, &info)
		if isToken(err, "actNotFound") {
			return "0", nil
		}
		if err != nil {
			return "", err
		}
		return info.AccountData.Balance, nil
	})
	if err != nil {
		return nil, err
	}
	amount, err := a.formatDrops(drops)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{Amount: amount, Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
}

// EstimateFee maps priority onto the server's base, open ledger and median
// fee levels.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	priority := draft.Priority.OrDefault()
	fees, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*feeResult, error) {
		var res feeResult
		if err := a.client.call(ctx, endpoint, "fee", nil, &res); err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}

	drops := fees.Drops.OpenLedgerFee
	switch priority {
	case domain.PriorityLow:
		drops = fees.Drops.BaseFee
	case domain.PriorityHigh:
		if fees.Drops.MedianFee != "" {
			drops = fees.Drops.MedianFee
		}
	}
	amount, err := a.formatDrops(drops)
	if err != nil {
		return nil, err
	}
	return &domain.FeeQuote{Amount: amount, Currency: a.info.Symbol, Priority: priority}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	if draft.SignedTx == "" {
		return nil, xerrors.ErrSignedTxRequired
	}
	if _, err := hex.DecodeString(draft.SignedTx); err != nil {
		return nil, xerrors.BadRequest("signed tx blob must be hex")
	}

	res, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*submitResult, error) {
		var res submitResult
		if err := a.client.call(ctx, endpoint, "submit", map[string]any{"tx_blob": draft.SignedTx}, &res); err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}
	// tes applied, ter queued or retried; anything else was rejected
	if !strings.HasPrefix(res.EngineResult, "tes") && !strings.HasPrefix(res.EngineResult, "ter") {
		return nil, xerrors.BadRequest("transaction rejected: %s %s", res.EngineResult, res.EngineResultMessage)
	}

	a.logger.Info("transaction submitted",
		zap.String("tx_hash", res.TxJSON.Hash),
		zap.String("engine_result", res.EngineResult))
	return &domain.SendResult{
		Chain:      domain.ChainRipple,
		TxHash:     res.TxJSON.Hash,
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid transaction hash: %s", txID)
	}
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*domain.TxStatus, error) {
		var res txResult
		err := a.client.call(ctx, endpoint, "tx", map[string]any{"transaction": txID}, &res)
		if isToken(err, "txnNotFound") {
			return &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID, Status: domain.TxPending, BlockNumber: res.LedgerIndex}
		if !res.Validated {
			return status, nil
		}
		if res.Meta.TransactionResult == "tesSUCCESS" {
			status.Status = domain.TxConfirmed
		} else {
			status.Status = domain.TxFailed
			status.Error = res.Meta.TransactionResult
		}
		return status, nil
	})
}

// ListIncoming reports validated XRP payments delivered to address. Issued
// currency payments carry an object delivered_amount and are skipped.
func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	history, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*accountTx, error) {
		var res accountTx
		err := a.client.call(ctx, endpoint, "account_tx", map[string]any{
			"account": address,
			"limit":   limit,
			"forward": false,
		}, &res)
		if isToken(err, "actNotFound") {
			return &accountTx{}, nil
		}
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
	if err != nil {
		return nil, err
	}

	var out []domain.IncomingTx
	for _, entry := range history.Transactions {
		tx := entry.Tx
		if !entry.Validated || tx.TransactionType != "Payment" || tx.Destination != address {
			continue
		}
		if entry.Meta.TransactionResult != "tesSUCCESS" {
			continue
		}
		var drops string
		if err := json.Unmarshal(entry.Meta.DeliveredAmount, &drops); err != nil {
			continue
		}
		amount, err := a.formatDrops(drops)
		if err != nil {
			continue
		}
		out = append(out, domain.IncomingTx{
			Chain:       domain.ChainRipple,
			TxHash:      tx.Hash,
			Address:     address,
			Amount:      amount,
			Asset:       a.info.Symbol,
			Status:      domain.TxConfirmed,
			From:        tx.Account,
			BlockNumber: tx.LedgerIndex,
			Timestamp:   time.Unix(tx.Date+rippleEpoch, 0).UTC(),
		}.WithID())
	}
	return out, nil
}

func (a *Adapter) formatDrops(raw string) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", xerrors.Upstream(nil, "invalid drops amount %q", raw)
	}
	return units.Format(v, a.info.Decimals), nil
}
