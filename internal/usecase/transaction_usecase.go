// internal/usecase/transaction_usecase.go
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/cache"
	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"
	"custody-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	idempotencyNamespace = "sendtx"
	idempotencyTTL       = 24 * time.Hour
	inFlightTTL          = 5 * time.Minute
	inFlightMarker       = "in-flight"
)

type TransactionUsecase struct {
	wallets       *WalletUsecase
	chainRegistry *chains.Registry
	balances      *repository.BalanceCache
	kv            cache.KV
	logger        *zap.Logger
}

func NewTransactionUsecase(
	wallets *WalletUsecase,
	chainRegistry *chains.Registry,
	balances *repository.BalanceCache,
	kv cache.KV,
	logger *zap.Logger,
) *TransactionUsecase {
	return &TransactionUsecase{
		wallets:       wallets,
		chainRegistry: chainRegistry,
		balances:      balances,
		kv:            kv,
		logger:        logger,
	}
}

// SendRequest moves funds out of From. With SignedTx set the transaction is
// broadcast as given and From only needs a chain.
type SendRequest struct {
	From       WalletRef       `json:"from"`
	To         string          `json:"to"`
	Amount     string          `json:"amount"`
	Asset      string          `json:"asset,omitempty"`
	SignedTx   string          `json:"signedTx,omitempty"`
	ClientTxID string          `json:"clientTxId,omitempty"`
	Priority   domain.Priority `json:"priority,omitempty"`
}

func validateAmount(amount string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || !d.IsPositive() {
		return xerrors.ErrInvalidAmount
	}
	return nil
}

// draft resolves the source wallet and builds the adapter draft.
func (uc *TransactionUsecase) draft(ctx context.Context, req SendRequest) (*domain.TxDraft, domain.Adapter, error) {
	var rw *resolvedWallet
	if req.SignedTx != "" && req.From.ID == "" && req.From.Address == "" {
		if req.From.Chain == "" {
			return nil, nil, xerrors.BadRequest("chain is required")
		}
		adapter, err := uc.chainRegistry.Get(req.From.Chain)
		if err != nil {
			return nil, nil, err
		}
		rw = &resolvedWallet{wallet: domain.Wallet{Chain: req.From.Chain}, adapter: adapter}
	} else {
		var err error
		if rw, err = uc.wallets.resolve(ctx, req.From); err != nil {
			return nil, nil, err
		}
	}

	if req.SignedTx == "" {
		if strings.TrimSpace(req.To) == "" {
			return nil, nil, xerrors.BadRequest("destination address is required")
		}
		if err := validateAmount(req.Amount); err != nil {
			return nil, nil, err
		}
	}
	if err := checkAsset(rw.wallet, req.Asset, rw.adapter); err != nil {
		return nil, nil, err
	}

	return &domain.TxDraft{
		Wallet:     rw.wallet,
		To:         strings.TrimSpace(req.To),
		Amount:     strings.TrimSpace(req.Amount),
		Asset:      req.Asset,
		SignedTx:   strings.TrimSpace(req.SignedTx),
		ClientTxID: req.ClientTxID,
		Priority:   req.Priority.OrDefault(),
		Secrets:    rw.secrets,
	}, rw.adapter, nil
}

// EstimateFee quotes the network fee of req without signing anything.
func (uc *TransactionUsecase) EstimateFee(ctx context.Context, req SendRequest) (*domain.FeeQuote, error) {
	draft, adapter, err := uc.draft(ctx, req)
	if err != nil {
		return nil, err
	}
	return adapter.EstimateFee(ctx, draft)
}

// Send signs and broadcasts req. A ClientTxID makes the call idempotent
// for a day: repeating it returns the first result without broadcasting.
func (uc *TransactionUsecase) Send(ctx context.Context, req SendRequest) (*domain.SendResult, error) {
	draft, adapter, err := uc.draft(ctx, req)
	if err != nil {
		return nil, err
	}
	if adapter.Capabilities().SignedTxOnly && draft.SignedTx == "" {
		return nil, xerrors.ErrSignedTxRequired
	}

	key := ""
	if draft.ClientTxID != "" {
		key = string(adapter.Chain()) + ":" + draft.ClientTxID
		prev, err := uc.reserve(ctx, key)
		if err != nil || prev != nil {
			return prev, err
		}
	}

	uc.logger.Info("sending transaction",
		zap.String("chain", string(adapter.Chain())),
		zap.String("wallet_id", draft.Wallet.ID),
		zap.String("from", draft.Wallet.Address),
		zap.String("to", draft.To),
		zap.String("amount", draft.Amount),
		zap.String("asset", draft.Asset),
		zap.Bool("presigned", draft.SignedTx != ""))

	result, err := adapter.SendTransaction(ctx, draft)
	if err != nil {
		if key != "" {
			uc.release(ctx, key)
		}
		uc.logger.Warn("transaction failed",
			zap.String("chain", string(adapter.Chain())),
			zap.String("from", draft.Wallet.Address),
			zap.Error(err))
		return nil, err
	}
	result.ClientTxID = draft.ClientTxID

	if key != "" {
		uc.record(ctx, key, result)
	}
	if draft.Wallet.Address != "" {
		uc.invalidate(ctx, draft, adapter)
	}

	uc.logger.Info("transaction broadcast",
		zap.String("chain", string(adapter.Chain())),
		zap.String("tx_hash", result.TxHash),
		zap.String("status", string(result.Status)))
	return result, nil
}

// reserve claims key. It returns the stored result when key already
// completed, and a BadRequest while another request holds it.
func (uc *TransactionUsecase) reserve(ctx context.Context, key string) (*domain.SendResult, error) {
	ok, err := uc.kv.SetNX(ctx, idempotencyNamespace, key, inFlightMarker, inFlightTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve client tx id: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, found, err := uc.kv.Get(ctx, idempotencyNamespace, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read client tx id: %w", err)
	}
	if !found {
		// expired between the two calls
		return uc.reserve(ctx, key)
	}
	if raw == inFlightMarker {
		return nil, xerrors.BadRequest("transaction with this clientTxId is already in progress")
	}

	var prev domain.SendResult
	if err := json.Unmarshal([]byte(raw), &prev); err != nil {
		return nil, fmt.Errorf("failed to decode recorded result: %w", err)
	}
	uc.logger.Info("returning recorded transaction", zap.String("client_tx_id", prev.ClientTxID))
	return &prev, nil
}

func (uc *TransactionUsecase) record(ctx context.Context, key string, result *domain.SendResult) {
	payload, err := json.Marshal(result)
	if err == nil {
		err = uc.kv.Set(ctx, idempotencyNamespace, key, string(payload), idempotencyTTL)
	}
	if err != nil {
		uc.logger.Error("failed to record transaction result",
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
	}
}

func (uc *TransactionUsecase) release(ctx context.Context, key string) {
	if err := uc.kv.Delete(ctx, idempotencyNamespace, key); err != nil {
		uc.logger.Warn("failed to release client tx id", zap.Error(err))
	}
}

func (uc *TransactionUsecase) invalidate(ctx context.Context, draft *domain.TxDraft, adapter domain.Adapter) {
	assets := []string{adapter.Info().Symbol}
	if draft.Asset != "" && !strings.EqualFold(draft.Asset, adapter.Info().Symbol) {
		assets = append(assets, draft.Asset)
	}
	for _, a := range assets {
		if err := uc.balances.Invalidate(ctx, draft.Wallet.Chain, cacheRef(draft.Wallet), a); err != nil {
			uc.logger.Debug("failed to invalidate balance", zap.Error(err))
		}
	}
}

// GetStatus looks up a transaction on chain.
func (uc *TransactionUsecase) GetStatus(ctx context.Context, chain domain.ChainID, txID string) (*domain.TxStatus, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, xerrors.BadRequest("transaction id is required")
	}
	adapter, err := uc.chainRegistry.Get(chain)
	if err != nil {
		return nil, err
	}
	return adapter.GetStatus(ctx, txID)
}
