// internal/usecase/refinance_usecase.go
package usecase

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"
	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const candidateConcurrency = 8

// RefinanceUsecase funds transfers from the pool of registered wallets
// instead of one caller chosen source.
type RefinanceUsecase struct {
	keystore      repository.Keystore
	index         repository.WalletIndex
	incoming      repository.IncomingStore
	chainRegistry *chains.Registry
	logger        *zap.Logger
}

func NewRefinanceUsecase(
	keystore repository.Keystore,
	index repository.WalletIndex,
	incoming repository.IncomingStore,
	chainRegistry *chains.Registry,
	logger *zap.Logger,
) *RefinanceUsecase {
	return &RefinanceUsecase{
		keystore:      keystore,
		index:         index,
		incoming:      incoming,
		chainRegistry: chainRegistry,
		logger:        logger,
	}
}

type RefinanceRequest struct {
	Chain      domain.ChainID  `json:"chain"`
	To         string          `json:"to"`
	Amount     string          `json:"amount"`
	Asset      string          `json:"asset,omitempty"`
	AllowSplit bool            `json:"allowSplit"`
	Priority   domain.Priority `json:"priority,omitempty"`
}

type RefinanceLeg struct {
	WalletID string         `json:"walletId"`
	From     string         `json:"from"`
	Amount   string         `json:"amount"`
	TxHash   string         `json:"txHash,omitempty"`
	Status   domain.TxState `json:"status"`
	Error    string         `json:"error,omitempty"`
}

type RefinanceResult struct {
	OperationID       string         `json:"operationId"`
	Chain             domain.ChainID `json:"chain"`
	To                string         `json:"to"`
	Asset             string         `json:"asset"`
	RequestedAmount   string         `json:"requestedAmount"`
	TransferredAmount string         `json:"transferredAmount"`
	RemainingAmount   string         `json:"remainingAmount"`
	Legs              []RefinanceLeg `json:"legs"`
}

// candidate is a pool wallet with its live liquidity in minor units.
type candidate struct {
	wallet    domain.Wallet
	secrets   *domain.WalletSecrets
	balance   *big.Int
	spendable *big.Int
	decimals  int
}

type plannedLeg struct {
	candidate *candidate
	amount    *big.Int
}

// Refinance transfers req.Amount to req.To out of pool wallets. Without
// AllowSplit the smallest wallet that covers the whole amount pays; with it
// wallets are drained smallest first until the amount is covered. A pool
// that cannot cover the amount fails with InsufficientFunds before anything
// is sent.
func (uc *RefinanceUsecase) Refinance(ctx context.Context, req RefinanceRequest) (*RefinanceResult, error) {
	adapter, err := uc.chainRegistry.Get(req.Chain)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.To) == "" {
		return nil, xerrors.BadRequest("destination address is required")
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if adapter.Capabilities().SignedTxOnly {
		return nil, xerrors.ErrSignedTxRequired
	}
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if asset == "" {
		asset = adapter.Info().Symbol
	}

	opID := ulid.Make().String()
	log := uc.logger.With(
		zap.String("operation_id", opID),
		zap.String("chain", string(req.Chain)),
		zap.String("asset", asset))

	// 1. Gather live liquidity
	candidates, err := uc.candidates(ctx, adapter, req, asset, log)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, xerrors.InsufficientFunds(req.Amount, "no funded wallets on %s for %s", req.Chain, asset)
	}
	decimals := candidates[0].decimals
	requested, err := units.ParsePositive(req.Amount, decimals)
	if err != nil {
		return nil, xerrors.ErrInvalidAmount
	}

	// 2. Pick sources
	legs, err := planLegs(candidates, requested, req.AllowSplit, decimals)
	if err != nil {
		return nil, err
	}

	log.Info("refinance planned",
		zap.String("amount", req.Amount),
		zap.Int("candidates", len(candidates)),
		zap.Int("legs", len(legs)),
		zap.Bool("split", req.AllowSplit))

	// 3. Send legs one after another
	result := &RefinanceResult{
		OperationID:     opID,
		Chain:           req.Chain,
		To:              strings.TrimSpace(req.To),
		Asset:           asset,
		RequestedAmount: units.Format(requested, decimals),
		Legs:            make([]RefinanceLeg, 0, len(legs)),
	}
	transferred := new(big.Int)
	var firstErr error
	for i, leg := range legs {
		out := RefinanceLeg{
			WalletID: leg.candidate.wallet.ID,
			From:     leg.candidate.wallet.Address,
			Amount:   units.Format(leg.amount, decimals),
		}
		if firstErr != nil {
			out.Status = domain.TxUnknown
			out.Error = "not attempted"
			result.Legs = append(result.Legs, out)
			continue
		}

		sent, err := adapter.SendTransaction(ctx, &domain.TxDraft{
			Wallet:     leg.candidate.wallet,
			To:         result.To,
			Amount:     out.Amount,
			Asset:      req.Asset,
			ClientTxID: fmt.Sprintf("%s-%d", opID, i+1),
			Priority:   req.Priority.OrDefault(),
			Secrets:    leg.candidate.secrets,
		})
		if err != nil {
			log.Warn("refinance leg failed",
				zap.String("wallet_id", out.WalletID),
				zap.String("amount", out.Amount),
				zap.Error(err))
			firstErr = err
			out.Status = domain.TxFailed
			out.Error = err.Error()
			result.Legs = append(result.Legs, out)
			continue
		}

		out.TxHash = sent.TxHash
		out.Status = sent.Status
		transferred.Add(transferred, leg.amount)
		result.Legs = append(result.Legs, out)
	}

	result.TransferredAmount = units.Format(transferred, decimals)
	result.RemainingAmount = units.Format(new(big.Int).Sub(requested, transferred), decimals)

	if transferred.Sign() == 0 && firstErr != nil {
		return nil, firstErr
	}
	log.Info("refinance completed",
		zap.String("transferred", result.TransferredAmount),
		zap.String("remaining", result.RemainingAmount))
	return result, nil
}

// candidates returns pool wallets able to pay, ordered by ascending
// spendable, then balance, then address.
func (uc *RefinanceUsecase) candidates(
	ctx context.Context,
	adapter domain.Adapter,
	req RefinanceRequest,
	asset string,
	log *zap.Logger,
) ([]*candidate, error) {
	wallets, err := uc.index.List(ctx, domain.WalletFilter{Chain: req.Chain})
	if err != nil {
		return nil, err
	}
	dest := domain.NormalizeAddress(req.Chain, req.To)

	found := make([]*candidate, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(candidateConcurrency)
	for i, w := range wallets {
		if domain.NormalizeAddress(w.Chain, w.Address) == dest || !w.Metadata.AllowsAsset(asset) {
			continue
		}
		g.Go(func() error {
			c, err := uc.evaluate(gctx, adapter, w, req, asset)
			if err != nil {
				log.Debug("wallet skipped",
					zap.String("wallet_id", w.ID),
					zap.Error(err))
				return nil
			}
			found[i] = c
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*candidate
	for _, c := range found {
		if c != nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}

	// keep one precision; the native asset's is fixed by the chain
	canonical := adapter.Info().Decimals
	if !strings.EqualFold(asset, adapter.Info().Symbol) {
		sort.Slice(out, func(i, j int) bool { return out[i].wallet.Address < out[j].wallet.Address })
		canonical = out[0].decimals
	}
	filtered := out[:0]
	for _, c := range out {
		if c.decimals == canonical {
			filtered = append(filtered, c)
		}
	}

	sortCandidates(filtered)
	return filtered, nil
}

// evaluate reads balance and fee for w. Wallets without secrets, without any
// recorded deposit or with nothing spendable are rejected.
func (uc *RefinanceUsecase) evaluate(
	ctx context.Context,
	adapter domain.Adapter,
	w domain.Wallet,
	req RefinanceRequest,
	asset string,
) (*candidate, error) {
	active, err := uc.incoming.HasAny(ctx, w.Chain, w.Address)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("no recorded deposits")
	}

	rec, err := uc.keystore.Get(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if rec.Secrets.IsEmpty() {
		return nil, fmt.Errorf("no signing secrets")
	}

	bal, err := adapter.GetBalance(ctx, w, asset)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(bal.Symbol, asset) {
		return nil, fmt.Errorf("balance reported in %s", bal.Symbol)
	}
	balance, err := units.Parse(bal.Amount, bal.Decimals)
	if err != nil {
		return nil, err
	}

	fee, err := adapter.EstimateFee(ctx, &domain.TxDraft{
		Wallet:   w,
		To:       req.To,
		Amount:   req.Amount,
		Asset:    req.Asset,
		Priority: req.Priority.OrDefault(),
		Secrets:  rec.Secrets,
	})
	if err != nil {
		return nil, err
	}

	spendable := new(big.Int).Set(balance)
	if strings.EqualFold(fee.Currency, bal.Symbol) {
		reserved, err := units.Parse(fee.Amount, bal.Decimals)
		if err != nil {
			return nil, err
		}
		spendable.Sub(spendable, reserved)
	}
	if spendable.Sign() <= 0 {
		return nil, fmt.Errorf("nothing spendable")
	}

	return &candidate{
		wallet:    w,
		secrets:   rec.Secrets,
		balance:   balance,
		spendable: spendable,
		decimals:  bal.Decimals,
	}, nil
}

func sortCandidates(cs []*candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if c := cs[i].spendable.Cmp(cs[j].spendable); c != 0 {
			return c < 0
		}
		if c := cs[i].balance.Cmp(cs[j].balance); c != 0 {
			return c < 0
		}
		return cs[i].wallet.Address < cs[j].wallet.Address
	})
}

// planLegs expects cs sorted by sortCandidates.
func planLegs(cs []*candidate, requested *big.Int, split bool, decimals int) ([]plannedLeg, error) {
	if !split {
		for _, c := range cs {
			if c.spendable.Cmp(requested) >= 0 {
				return []plannedLeg{{candidate: c, amount: new(big.Int).Set(requested)}}, nil
			}
		}
		largest := cs[len(cs)-1].spendable
		missing := new(big.Int).Sub(requested, largest)
		return nil, xerrors.InsufficientFunds(units.Format(missing, decimals),
			"no single wallet covers %s; largest spendable is %s",
			units.Format(requested, decimals), units.Format(largest, decimals))
	}

	var legs []plannedLeg
	remaining := new(big.Int).Set(requested)
	for _, c := range cs {
		if remaining.Sign() == 0 {
			break
		}
		amount := new(big.Int).Set(c.spendable)
		if amount.Cmp(remaining) > 0 {
			amount.Set(remaining)
		}
		legs = append(legs, plannedLeg{candidate: c, amount: amount})
		remaining.Sub(remaining, amount)
	}
	if remaining.Sign() > 0 {
		return nil, xerrors.InsufficientFunds(units.Format(remaining, decimals),
			"pool is short of %s by %s", units.Format(requested, decimals), units.Format(remaining, decimals))
	}
	return legs, nil
}
