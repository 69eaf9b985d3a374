// internal/chains/bitcoin/bitcoin.go
package bitcoin

import (
	"context"
	"encoding/hex"
	"regexp"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var txidPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Fallback sat/vB rates when the fee endpoint is unavailable.
var defaultFeeRates = map[domain.Priority]int64{
	domain.PriorityHigh:   50,
	domain.PriorityNormal: 20,
	domain.PriorityLow:    10,
}

// Blocks to confirmation asked of the fee estimator per priority.
var confirmationTargets = map[domain.Priority]string{
	domain.PriorityHigh:   "1",
	domain.PriorityNormal: "3",
	domain.PriorityLow:    "6",
}

type Config struct {
	Network string // mainnet, testnet, signet, regtest
	RPC     domain.ChainRPCConfig
	Dust    int64
}

type Adapter struct {
	cfg       Config
	params    *chaincfg.Params
	info      domain.ChainInfo
	endpoints *rpc.Endpoints
	client    *esplora
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	params, err := getNetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Dust <= 0 {
		cfg.Dust = DustThreshold
	}
	info, _ := domain.InfoFor(domain.ChainBitcoin)

	logger = logger.With(zap.String("chain", string(domain.ChainBitcoin)))
	if params.Name == chaincfg.MainNetParams.Name {
		logger.Warn("bitcoin mainnet active, transactions use real BTC")
	}
	logger.Info("Bitcoin chain initialized",
		zap.String("network", params.Name),
		zap.Strings("endpoints", cfg.RPC.Endpoints()))

	return &Adapter{
		cfg:       cfg,
		params:    params,
		info:      info,
		endpoints: rpc.NewEndpoints(domain.ChainBitcoin, cfg.RPC, logger),
		client:    &esplora{http: rpc.NewHTTPClient(cfg.RPC.Timeout)},
		logger:    logger,
	}, nil
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainBitcoin }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Maturity: domain.MaturityFull,
		Assets:   []string{a.info.Symbol},
	}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	_, err := a.client.tipHeight(ctx, endpoint)
	return err
}

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	address, wif, err := generateKey(a.params)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("wallet generated", zap.String("address", address))
	return &domain.Wallet{
		Address:   address,
		Chain:     domain.ChainBitcoin,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}, &domain.WalletSecrets{PrivateKey: wif}, nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && asset != a.info.Symbol {
		return xerrors.BadRequest("bitcoin only supports native BTC, got %s", asset)
	}
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	if err := validateAddress(wallet.Address, a.params); err != nil {
		return nil, err
	}
	sats, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (int64, error) {
		return a.client.balance(ctx, base, wallet.Address)
	})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		Amount:   units.FormatInt64(sats, a.info.Decimals),
		Decimals: a.info.Decimals,
		Symbol:   a.info.Symbol,
	}, nil
}

// feeRate returns sat/vB for priority, falling back to static rates.
func (a *Adapter) feeRate(ctx context.Context, priority domain.Priority) decimal.Decimal {
	estimates, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (map[string]float64, error) {
		return a.client.feeEstimates(ctx, base)
	})
	if err == nil {
		if rate, ok := estimates[confirmationTargets[priority]]; ok && rate > 0 {
			return decimal.NewFromFloat(rate)
		}
	}
	a.logger.Warn("failed to estimate fee rate, using defaults", zap.Error(err))
	return decimal.NewFromInt(defaultFeeRates[priority])
}

// EstimateFee runs coin selection when the draft is complete enough,
// otherwise prices a one input, two output spend.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	priority := draft.Priority.OrDefault()
	rate := a.feeRate(ctx, priority)
	fee := FeeFor(1, 2, rate)

	if amount, err := parseSats(draft.Amount); err == nil && draft.Wallet.Address != "" {
		utxos, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) ([]UTXO, error) {
			return a.client.utxos(ctx, base, draft.Wallet.Address)
		})
		if err == nil {
			if sel, err := SelectCoins(utxos, amount, rate, a.cfg.Dust); err == nil {
				fee = sel.Fee
			}
		}
	}

	return &domain.FeeQuote{
		Amount:   units.FormatInt64(fee, a.info.Decimals),
		Currency: a.info.Symbol,
		Priority: priority,
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	if draft.SignedTx != "" {
		if _, err := hex.DecodeString(draft.SignedTx); err != nil {
			return nil, xerrors.BadRequest("signed transaction must be hex")
		}
		return a.broadcast(ctx, draft.SignedTx, draft.ClientTxID)
	}

	from := draft.Wallet.Address
	if err := validateAddress(from, a.params); err != nil {
		return nil, err
	}
	if err := validateAddress(draft.To, a.params); err != nil {
		return nil, err
	}
	amount, err := parseSats(draft.Amount)
	if err != nil {
		return nil, err
	}
	if amount < a.cfg.Dust {
		return nil, xerrors.BadRequest("amount %d sats is below dust threshold %d", amount, a.cfg.Dust)
	}
	key, err := decodeKey(draft.Secrets, from, a.params)
	if err != nil {
		return nil, err
	}

	utxos, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) ([]UTXO, error) {
		return a.client.utxos(ctx, base, from)
	})
	if err != nil {
		return nil, err
	}
	rate := a.feeRate(ctx, draft.Priority.OrDefault())
	sel, err := SelectCoins(utxos, amount, rate, a.cfg.Dust)
	if err != nil {
		return nil, err
	}

	builder, err := NewTransactionBuilder(a.params, key)
	if err != nil {
		return nil, err
	}
	for _, u := range sel.Inputs {
		if err := builder.AddInput(u); err != nil {
			return nil, err
		}
	}
	if err := builder.AddOutput(draft.To, amount); err != nil {
		return nil, xerrors.BadRequest("%v", err)
	}
	if sel.Change > 0 {
		if err := builder.AddOutput(from, sel.Change); err != nil {
			return nil, err
		}
	}
	if err := builder.Sign(); err != nil {
		return nil, err
	}
	rawTx, err := builder.Serialize()
	if err != nil {
		return nil, err
	}

	a.logger.Info("transaction built and signed",
		zap.String("tx_hash", builder.TxHash()),
		zap.Int("inputs", len(sel.Inputs)),
		zap.Int64("amount", amount),
		zap.Int64("fee", sel.Fee),
		zap.Int64("change", sel.Change))

	return a.broadcast(ctx, rawTx, draft.ClientTxID)
}

func (a *Adapter) broadcast(ctx context.Context, rawTx, clientTxID string) (*domain.SendResult, error) {
	txid, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (string, error) {
		return a.client.broadcast(ctx, base, rawTx)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("transaction broadcast", zap.String("tx_hash", txid))
	return &domain.SendResult{
		Chain:      domain.ChainBitcoin,
		TxHash:     txid,
		Status:     domain.TxPending,
		ClientTxID: clientTxID,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txidPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid transaction id: %s", txID)
	}
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (*domain.TxStatus, error) {
		tx, err := a.client.tx(ctx, base, txID)
		if rpc.IsNotFound(err) {
			return &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: tx.TxID, Status: domain.TxPending}
		if !tx.Status.Confirmed {
			return status, nil
		}
		status.Status = domain.TxConfirmed
		status.BlockNumber = tx.Status.BlockHeight
		if tip, err := a.client.tipHeight(ctx, base); err == nil && tip >= tx.Status.BlockHeight {
			status.Confirmations = int64(tip-tx.Status.BlockHeight) + 1
		}
		return status, nil
	})
}

// ListIncoming reports outputs paying address from transactions the
// address did not fund itself.
func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	if err := validateAddress(address, a.params); err != nil {
		return nil, err
	}
	txs, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) ([]esploraTx, error) {
		return a.client.addressTxs(ctx, base, address)
	})
	if err != nil {
		return nil, err
	}

	var out []domain.IncomingTx
	for _, tx := range txs {
		if spendsFrom(tx, address) {
			continue
		}
		from := ""
		if len(tx.Vin) > 0 && tx.Vin[0].Prevout != nil {
			from = tx.Vin[0].Prevout.ScriptPubKeyAddress
		}
		state := domain.TxPending
		var ts time.Time
		if tx.Status.Confirmed {
			state = domain.TxConfirmed
			ts = time.Unix(tx.Status.BlockTime, 0).UTC()
		}
		for i, vout := range tx.Vout {
			if vout.ScriptPubKeyAddress != address {
				continue
			}
			out = append(out, domain.IncomingTx{
				Chain:       domain.ChainBitcoin,
				TxHash:      tx.TxID,
				Address:     address,
				Index:       i,
				Amount:      units.FormatInt64(vout.Value, a.info.Decimals),
				Asset:       a.info.Symbol,
				Status:      state,
				From:        from,
				BlockNumber: tx.Status.BlockHeight,
				Timestamp:   ts,
			}.WithID())
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func spendsFrom(tx esploraTx, address string) bool {
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.ScriptPubKeyAddress == address {
			return true
		}
	}
	return false
}

func parseSats(amount string) (int64, error) {
	v, err := units.ParsePositive(amount, 8)
	if err != nil {
		return 0, xerrors.BadRequest("%v", err)
	}
	if !v.IsInt64() {
		return 0, xerrors.BadRequest("amount out of range: %s", amount)
	}
	return v.Int64(), nil
}
