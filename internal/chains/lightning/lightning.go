// Package lightning pays BOLT11 invoices through a custodial LND node. The
// node holds all keys, so wallets are deposit addresses of that node and
// carry no secrets.
package lightning

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"go.uber.org/zap"
)

var paymentHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type Config struct {
	RPC         domain.ChainRPCConfig // LND REST endpoints
	Macaroon    string                // hex admin macaroon
	InsecureTLS bool                  // LND ships a self signed certificate
	FeeLimitPPM int64                 // routing fee cap per million
	MinFeeLimit int64                 // sat
	HistorySize int                   // payments scanned by GetStatus
}

func (c *Config) setDefaults() {
	if c.FeeLimitPPM == 0 {
		c.FeeLimitPPM = 5000
	}
	if c.MinFeeLimit == 0 {
		c.MinFeeLimit = 10
	}
	if c.HistorySize == 0 {
		c.HistorySize = 500
	}
}

type Adapter struct {
	cfg       Config
	info      domain.ChainInfo
	endpoints *rpc.Endpoints
	client    *lnd
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	cfg.setDefaults()
	info, _ := domain.InfoFor(domain.ChainLightning)

	logger = logger.With(zap.String("chain", string(domain.ChainLightning)))
	logger.Info("Lightning node initialized",
		zap.Strings("endpoints", cfg.RPC.Endpoints()),
		zap.Int64("fee_limit_ppm", cfg.FeeLimitPPM))

	opts := []rpc.ClientOption{rpc.WithHeader("Grpc-Metadata-macaroon", cfg.Macaroon)}
	if cfg.InsecureTLS {
		opts = append(opts, rpc.WithInsecureTLS())
	}
	return &Adapter{
		cfg:       cfg,
		info:      info,
		endpoints: rpc.NewEndpoints(domain.ChainLightning, cfg.RPC, logger),
		client:    &lnd{http: rpc.NewHTTPClient(cfg.RPC.Timeout, opts...)},
		logger:    logger,
	}
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainLightning }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Maturity: domain.MaturityPartial,
		Assets:   []string{a.info.Symbol},
		Notes:    "custodial node: keys stay on the node, destinations are BOLT11 invoices",
	}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	return a.client.getInfo(ctx, endpoint)
}

// CreateWallet asks the node for a fresh on-chain deposit address.
func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	addr, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (string, error) {
		return a.client.newAddress(ctx, endpoint)
	})
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("wallet generated", zap.String("address", addr))
	return &domain.Wallet{
		Address:   addr,
		Chain:     domain.ChainLightning,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}, nil, nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && !strings.EqualFold(asset, a.info.Symbol) && !strings.EqualFold(asset, "BTC") {
		return xerrors.BadRequest("lightning only supports %s, got %s", a.info.Symbol, asset)
	}
	return nil
}

// GetBalance reports the node's outbound channel liquidity. All wallets of
// the node share it.
func (a *Adapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	if err := a.checkAsset(asset); err != nil {
		return nil, err
	}
	sats, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (int64, error) {
		return a.client.channelBalance(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{Amount: units.FormatInt64(sats, a.info.Decimals), Decimals: a.info.Decimals, Symbol: a.info.Symbol}, nil
}

func (a *Adapter) feeLimit(amount int64) int64 {
	limit := (amount*a.cfg.FeeLimitPPM + 999_999) / 1_000_000
	if limit < a.cfg.MinFeeLimit {
		return a.cfg.MinFeeLimit
	}
	return limit
}

// invoiceAmount decodes the invoice and settles the amount to pay. Invoices
// without an amount take it from the draft; invoices with one must agree.
func (a *Adapter) invoiceAmount(ctx context.Context, endpoint string, draft *domain.TxDraft) (*payReq, int64, error) {
	req, err := a.client.decodePayReq(ctx, endpoint, draft.To)
	if err != nil {
		if code := rpc.StatusCode(err); code >= 400 && code < 500 {
			return nil, 0, xerrors.BadRequest("invalid lightning invoice: %v", err)
		}
		return nil, 0, err
	}
	invoiced, _ := strconv.ParseInt(req.NumSatoshis, 10, 64)

	var requested int64
	if draft.Amount != "" {
		v, err := units.ParsePositive(draft.Amount, a.info.Decimals)
		if err != nil {
			return nil, 0, err
		}
		requested = v.Int64()
	}
	switch {
	case invoiced == 0 && requested == 0:
		return nil, 0, xerrors.BadRequest("invoice has no amount, one must be given")
	case invoiced == 0:
		return req, requested, nil
	case requested != 0 && requested != invoiced:
		return nil, 0, xerrors.BadRequest("amount %d does not match invoice amount %d", requested, invoiced)
	}
	return req, invoiced, nil
}

// EstimateFee queries a route to the invoice destination and falls back to
// the configured fee cap when the node finds none.
func (a *Adapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	fee, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (int64, error) {
		req, amount, err := a.invoiceAmount(ctx, endpoint, draft)
		if err != nil {
			return 0, err
		}
		fee, err := a.client.routeFee(ctx, endpoint, req.Destination, amount)
		if err != nil {
			a.logger.Debug("route query failed, quoting fee cap", zap.Error(err))
			return a.feeLimit(amount), nil
		}
		return fee, nil
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

// SendTransaction pays the BOLT11 invoice in draft.To and waits for the
// node to settle or fail it.
func (a *Adapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	if draft.SignedTx != "" {
		return nil, xerrors.BadRequest("lightning payments cannot be pre-signed")
	}
	if err := a.checkAsset(draft.Asset); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToLower(draft.To), "ln") {
		return nil, xerrors.BadRequest("destination must be a BOLT11 invoice")
	}

	hash, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (string, error) {
		req, amount, err := a.invoiceAmount(ctx, endpoint, draft)
		if err != nil {
			return "", err
		}
		var explicit int64
		if n, _ := strconv.ParseInt(req.NumSatoshis, 10, 64); n == 0 {
			explicit = amount
		}
		resp, err := a.client.pay(ctx, endpoint, draft.To, explicit, a.feeLimit(amount))
		if err != nil {
			return "", err
		}
		if resp.PaymentError != "" {
			return "", xerrors.BadRequest("lightning payment failed: %s", resp.PaymentError)
		}
		if resp.PaymentHash == "" {
			return req.PaymentHash, nil
		}
		return hexHash(resp.PaymentHash), nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("invoice paid", zap.String("payment_hash", hash))
	return &domain.SendResult{Chain: domain.ChainLightning, TxHash: hash, Status: domain.TxConfirmed, ClientTxID: draft.ClientTxID}, nil
}

// GetStatus looks the payment hash up in the node's recent payments.
func (a *Adapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	if !paymentHashPattern.MatchString(txID) {
		return nil, xerrors.BadRequest("invalid payment hash: %s", txID)
	}
	txID = strings.ToLower(txID)
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (*domain.TxStatus, error) {
		payments, err := a.client.payments(ctx, endpoint, a.cfg.HistorySize)
		if err != nil {
			return nil, err
		}
		status := &domain.TxStatus{TxHash: txID, Status: domain.TxUnknown}
		for _, p := range payments {
			if !strings.EqualFold(p.PaymentHash, txID) {
				continue
			}
			switch p.Status {
			case "SUCCEEDED":
				status.Status = domain.TxConfirmed
			case "FAILED":
				status.Status = domain.TxFailed
				status.Error = p.FailureReason
			default:
				status.Status = domain.TxPending
			}
			break
		}
		return status, nil
	})
}

// ListIncoming returns on-chain deposits to the node address, which fund the
// node's channels.
func (a *Adapter) ListIncoming(ctx context.Context, addr string, limit int) ([]domain.IncomingTx, error) {
	if addr == "" {
		return nil, xerrors.BadRequest("address is required")
	}
	if limit <= 0 {
		limit = 20
	}
	txs, err := rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) ([]chainTx, error) {
		return a.client.transactions(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}

	var out []domain.IncomingTx
	for _, tx := range txs {
		if spendsOwnOutput(tx) {
			continue
		}
		for i, o := range tx.OutputDetails {
			if o.Address != addr {
				continue
			}
			sats, err := strconv.ParseInt(o.Amount, 10, 64)
			if err != nil || sats <= 0 {
				continue
			}
			index := i
			if n, err := strconv.Atoi(o.OutputIndex); err == nil {
				index = n
			}
			ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
			status := domain.TxPending
			if tx.NumConfirmations > 0 {
				status = domain.TxConfirmed
			}
			out = append(out, domain.IncomingTx{
				Chain:       domain.ChainLightning,
				TxHash:      tx.TxHash,
				Address:     addr,
				Index:       index,
				Amount:      units.FormatInt64(sats, a.info.Decimals),
				Asset:       a.info.Symbol,
				Status:      status,
				BlockNumber: uint64(max(tx.BlockHeight, 0)),
				Timestamp:   time.Unix(ts, 0).UTC(),
			}.WithID())
		}
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func spendsOwnOutput(tx chainTx) bool {
	for _, p := range tx.PreviousOutpoints {
		if p.IsOurOutput {
			return true
		}
	}
	return false
}
