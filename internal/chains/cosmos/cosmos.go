// Package cosmos implements bank sends on Cosmos SDK chains through the
// LCD REST gateway with locally signed SIGN_MODE_DIRECT transactions.
package cosmos

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var txHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

var priorityMultiplier = map[domain.Priority]decimal.Decimal{
	domain.PriorityLow:    decimal.RequireFromString("0.8"),
	domain.PriorityNormal: decimal.NewFromInt(1),
	domain.PriorityHigh:   decimal.RequireFromString("1.5"),
}

type Config struct {
	RPC      domain.ChainRPCConfig
	ChainID  string
	Prefix   string
	Denom    string
	GasPrice string // in Denom per gas unit
	GasLimit uint64
}

func (c *Config) setDefaults() {
	if c.ChainID == "" {
		c.ChainID = "cosmoshub-4"
	}
	if c.Prefix == "" {
		c.Prefix = "cosmos"
	}
	if c.Denom == "" {
		c.Denom = "uatom"
	}
	if c.GasPrice == "" {
		c.GasPrice = "0.025"
	}
	if c.GasLimit == 0 {
		c.GasLimit = 200000
	}
}

type Adapter struct {
	cfg       Config
	info      domain.ChainInfo
	gasPrice  decimal.Decimal
	endpoints *rpc.Endpoints
	client    *lcd
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	cfg.setDefaults()
	gasPrice, err := decimal.NewFromString(cfg.GasPrice)
	if err != nil || !gasPrice.IsPositive() {
		return nil, xerrors.BadRequest("invalid cosmos gas price: %q", cfg.GasPrice)
	}
	info, _ := domain.InfoFor(domain.ChainCosmos)

	logger = logger.With(zap.String("chain", string(domain.ChainCosmos)))
	logger.Info("Cosmos chain initialized",
		zap.String("chain_id", cfg.ChainID),
		zap.Strings("endpoints", cfg.RPC.Endpoints()))

	return &Adapter{
		cfg:       cfg,
		info:      info,
		gasPrice:  gasPrice,
		endpoints: rpc.NewEndpoints(domain.ChainCosmos, cfg.RPC, logger),
		client:    &lcd{http: rpc.NewHTTPClient(cfg.RPC.Timeout)},
		logger:    logger,
	}, nil
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainCosmos }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Maturity: domain.MaturityFull, Assets: []string{a.info.Symbol}}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	return a.client.latestBlock(ctx, endpoint)
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && !strings.EqualFold(asset, a.info.Symbol) {
		return xerrors.BadRequest("cosmos only supports %s, got %s", a.info.Symbol, asset)
	}
	return nil
}

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	mnemonic, err := newMnemonic()
	if err != nil {
		return nil, nil, err
	}
	key, err := keyFromMnemonic(mnemonic)
	if err != nil {
		return nil, nil, err
	}
	address, err := addressFor(a.cfg.Prefix, key.PubKey())
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("wallet generated", zap.String("address", address))

	return &domain.Wallet{
			Address:   address,
			Chain:     domain.ChainCosmos,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: hex.EncodeToString(key.Serialize()),
			Mnemonic:   mnemonic,
		}, nil
}

func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	if err := validateAddress(a.cfg.Prefix, wallet.Address); err != nil {
		return nil, err
	}
	raw, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (string, error) {
		return a.client.balance(ctx, base, wallet.Address, a.cfg.Denom)
	})
	if err != nil {
		return nil, err
	}
	amount, err := a.formatMinor(raw)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{Amount: amount, Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
}

// fee is ceil(gasLimit * gasPrice * priority multiplier) in the minor denom.
func (a *Adapter) fee(priority domain.Priority) *big.Int {
	return decimal.NewFromInt(int64(a.cfg.GasLimit)).
		Mul(a.gasPrice).
		Mul(priorityMultiplier[priority]).
		Ceil().BigInt()
}

func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	priority := draft.Priority.OrDefault()
	return &domain.FeeQuote{
		Amount:   units.Format(a.fee(priority), a.info.Decimals),
		Currency: a.info.Symbol,
		Priority: priority,
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	var raw []byte
	if draft.SignedTx != "" {
		decoded, err := base64.StdEncoding.DecodeString(draft.SignedTx)
		if err != nil {
			return nil, xerrors.BadRequest("signed transaction must be base64 TxRaw bytes")
		}
		raw = decoded
	} else {
		signed, err := a.buildSigned(ctx, draft)
		if err != nil {
			return nil, err
		}
		raw = signed
	}

	resp, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (*txResponse, error) {
		return a.client.broadcast(ctx, base, raw)
	})
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, xerrors.BadRequest("broadcast rejected with code %d: %s", resp.Code, resp.RawLog)
	}
	hash := resp.TxHash
	if hash == "" {
		hash = txHash(raw)
	}
	a.logger.Info("transaction broadcast", zap.String("tx_hash", hash))

	return &domain.SendResult{
		Chain:      domain.ChainCosmos,
		TxHash:     hash,
		Status:     domain.TxPending,
		ClientTxID: draft.ClientTxID,
	}, nil
}

func (a *Adapter) buildSigned(ctx context.Context, draft *domain.TxDraft) ([]byte, error) {
	from := draft.Wallet.Address
	if err := validateAddress(a.cfg.Prefix, from); err != nil {
		return nil, err
	}
	if err := validateAddress(a.cfg.Prefix, draft.To); err != nil {
		return nil, err
	}
	amount, err := units.ParsePositive(draft.Amount, a.info.Decimals)
	if err != nil {
		return nil, xerrors.BadRequest("%v", err)
	}
	key, err := signingKey(draft.Secrets)
	if err != nil {
		return nil, err
	}
	if derived, err := addressFor(a.cfg.Prefix, key.PubKey()); err != nil || derived != from {
		return nil, xerrors.BadRequest("private key does not match wallet address")
	}

	type accountState struct{ number, sequence uint64 }
	acct, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (accountState, error) {
		num, seq, err := a.client.account(ctx, base, from)
		if rpc.IsNotFound(err) {
			return accountState{}, xerrors.BadRequest("account %s has never been funded", from)
		}
		return accountState{num, seq}, err
	})
	if err != nil {
		return nil, err
	}

	tx := &sendTx{
		From:          from,
		To:            draft.To,
		Amount:        coin{Denom: a.cfg.Denom, Amount: amount.String()},
		Fee:           coin{Denom: a.cfg.Denom, Amount: a.fee(draft.Priority.OrDefault()).String()},
		GasLimit:      a.cfg.GasLimit,
		Memo:          draft.ClientTxID,
		ChainID:       a.cfg.ChainID,
		AccountNumber: acct.number,
		Sequence:      acct.sequence,
	}
	return tx.sign(key), nil
}

func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !txHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid transaction hash: %s", txID)
	}
	hash := strings.ToUpper(txID)
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) (*domain.TxStatus, error) {
		resp, err := a.client.tx(ctx, base, hash)
		if isTxNotFound(err) {
			return &domain.TxStatus{TxHash: hash, Status: domain.TxUnknown}, nil
		}
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: hash, BlockNumber: resp.height()}
		switch {
		case resp.Code != 0:
			status.Status = domain.TxFailed
			status.Error = resp.RawLog
		case status.BlockNumber > 0:
			status.Status = domain.TxConfirmed
			status.Confirmations = 1
		default:
			status.Status = domain.TxPending
		}
		return status, nil
	})
}

// isTxNotFound covers both the 404 and the gRPC gateway "not found" 400.
func isTxNotFound(err error) bool {
	if err == nil {
		return false
	}
	if rpc.IsNotFound(err) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func (a *Adapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	if err := validateAddress(a.cfg.Prefix, address); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	resps, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, base string) ([]txResponse, error) {
		return a.client.received(ctx, base, address, limit)
	})
	if err != nil {
		return nil, err
	}

	var out []domain.IncomingTx
	for _, r := range resps {
		if r.Code != 0 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, r.Timestamp)
		for i, msg := range r.Tx.Body.Messages {
			if msg.Type != msgSendTypeURL || msg.ToAddress != address {
				continue
			}
			for _, c := range msg.Amount {
				if c.Denom != a.cfg.Denom {
					continue
				}
				amount, err := a.formatMinor(c.Amount)
				if err != nil {
					continue
				}
				out = append(out, domain.IncomingTx{
					Chain:       domain.ChainCosmos,
					TxHash:      r.TxHash,
					Address:     address,
					Index:       i,
					Amount:      amount,
					Asset:       a.info.Symbol,
					Status:      domain.TxConfirmed,
					From:        msg.FromAddress,
					BlockNumber: r.height(),
					Timestamp:   ts.UTC(),
				}.WithID())
			}
		}
		if len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}

func (a *Adapter) formatMinor(raw string) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", xerrors.Upstream(nil, "invalid %s amount %q", a.cfg.Denom, raw)
	}
	return units.Format(v, a.info.Decimals), nil
}
