// internal/usecase/wallet_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"
	"custody-service/internal/xerrors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletRef points at a wallet either by id or by chain and address. An
// address that is not registered is treated as a raw wallet; its secrets,
// if any, come from the caller and are never stored.
type WalletRef struct {
	ID      string                `json:"walletId,omitempty"`
	Chain   domain.ChainID        `json:"chain,omitempty"`
	Address string                `json:"address,omitempty"`
	Secrets *domain.WalletSecrets `json:"secrets,omitempty"`
}

// resolvedWallet is a reference after lookup.
type resolvedWallet struct {
	wallet  domain.Wallet
	secrets *domain.WalletSecrets
	adapter domain.Adapter
}

type WalletUsecase struct {
	keystore      repository.Keystore
	index         repository.WalletIndex
	chainRegistry *chains.Registry
	logger        *zap.Logger
	now           func() time.Time
}

func NewWalletUsecase(
	keystore repository.Keystore,
	index repository.WalletIndex,
	chainRegistry *chains.Registry,
	logger *zap.Logger,
) *WalletUsecase {
	return &WalletUsecase{
		keystore:      keystore,
		index:         index,
		chainRegistry: chainRegistry,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateWallet generates a wallet on chain and stores it with its secrets.
func (uc *WalletUsecase) CreateWallet(ctx context.Context, chain domain.ChainID, label string) (*domain.Wallet, error) {
	return uc.create(ctx, chain, label, domain.WalletMetadata{})
}

// CreateInstitutionalWallet creates a wallet restricted to assets. Every
// asset must be one the chain supports.
func (uc *WalletUsecase) CreateInstitutionalWallet(
	ctx context.Context,
	chain domain.ChainID,
	label string,
	assets []string,
) (*domain.Wallet, error) {
	adapter, err := uc.chainRegistry.Get(chain)
	if err != nil {
		return nil, err
	}

	caps := adapter.Capabilities()
	allowed := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if !caps.SupportsAsset(a) {
			return nil, xerrors.BadRequest("%s does not support asset %s", chain, a)
		}
		allowed = append(allowed, a)
	}
	if len(allowed) == 0 {
		allowed = []string{adapter.Info().Symbol}
	}

	return uc.create(ctx, chain, label, domain.WalletMetadata{
		Institutional:       true,
		InstitutionalAssets: allowed,
	})
}

// EnsureVirtualWallets returns one wallet per chain owned by owner,
// creating the ones that do not exist yet. Chains that fail are reported
// in the error map and skipped.
func (uc *WalletUsecase) EnsureVirtualWallets(
	ctx context.Context,
	owner string,
	chainIDs []domain.ChainID,
) ([]domain.Wallet, map[domain.ChainID]error, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, nil, xerrors.BadRequest("owner is required")
	}
	if len(chainIDs) == 0 {
		chainIDs = uc.chainRegistry.List()
	}

	existing, err := uc.index.List(ctx, domain.WalletFilter{Owner: owner})
	if err != nil {
		return nil, nil, err
	}
	byChain := make(map[domain.ChainID]domain.Wallet, len(existing))
	for _, w := range existing {
		if _, ok := byChain[w.Chain]; !ok {
			byChain[w.Chain] = w
		}
	}

	var (
		wallets  []domain.Wallet
		failures = make(map[domain.ChainID]error)
		created  int
	)
	for _, chain := range chainIDs {
		if w, ok := byChain[chain]; ok {
			wallets = append(wallets, w)
			continue
		}
		w, err := uc.create(ctx, chain, owner, domain.WalletMetadata{VirtualOwner: owner})
		if err != nil {
			uc.logger.Warn("failed to create virtual wallet",
				zap.String("owner", owner),
				zap.String("chain", string(chain)),
				zap.Error(err))
			failures[chain] = err
			continue
		}
		byChain[chain] = *w
		wallets = append(wallets, *w)
		created++
	}

	uc.logger.Info("virtual wallets ensured",
		zap.String("owner", owner),
		zap.Int("created", created),
		zap.Int("total", len(wallets)),
		zap.Int("failed", len(failures)))
	return wallets, failures, nil
}

func (uc *WalletUsecase) create(
	ctx context.Context,
	chain domain.ChainID,
	label string,
	meta domain.WalletMetadata,
) (*domain.Wallet, error) {
	// 1. Get blockchain implementation
	adapter, err := uc.chainRegistry.Get(chain)
	if err != nil {
		return nil, err
	}

	// 2. Generate key material
	wallet, secrets, err := adapter.CreateWallet(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s wallet: %w", chain, err)
	}
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	if wallet.CreatedAt.IsZero() {
		wallet.CreatedAt = uc.now().UTC()
	}
	wallet.Chain = chain
	wallet.Label = label
	wallet.Metadata = meta

	// 3. Persist secrets first so an indexed wallet always has its keys
	if err := uc.keystore.Save(ctx, &repository.KeyRecord{Wallet: *wallet, Secrets: secrets}); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}
	if err := uc.index.Put(ctx, *wallet); err != nil {
		return nil, fmt.Errorf("failed to index wallet: %w", err)
	}

	uc.logger.Info("wallet created",
		zap.String("wallet_id", wallet.ID),
		zap.String("chain", string(chain)),
		zap.String("address", wallet.Address),
		zap.Bool("institutional", meta.Institutional),
		zap.Bool("has_secrets", !secrets.IsEmpty()))
	return wallet, nil
}

// ListWallets never returns secrets.
func (uc *WalletUsecase) ListWallets(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	wallets, err := uc.index.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if wallets == nil {
		wallets = []domain.Wallet{}
	}
	return wallets, nil
}

func (uc *WalletUsecase) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	return uc.index.ByID(ctx, id)
}

// WalletUpdate carries the mutable fields. Nil fields are left unchanged.
type WalletUpdate struct {
	Label *string           `json:"label"`
	Extra map[string]string `json:"extra"`
}

// UpdateWallet changes label and free form metadata. Institutional flags
// and ownership are fixed at creation.
func (uc *WalletUsecase) UpdateWallet(ctx context.Context, id string, upd WalletUpdate) (*domain.Wallet, error) {
	wallet, err := uc.index.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Label != nil {
		wallet.Label = strings.TrimSpace(*upd.Label)
	}
	if upd.Extra != nil {
		wallet.Metadata.Extra = upd.Extra
	}

	if err := uc.keystore.UpdateWallet(ctx, *wallet); err != nil {
		return nil, err
	}
	if err := uc.index.Put(ctx, *wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// RebuildIndex copies every keystore wallet into the index. Run at startup
// when the index does not survive restarts.
func (uc *WalletUsecase) RebuildIndex(ctx context.Context) (int, error) {
	wallets, err := uc.keystore.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load wallets: %w", err)
	}
	for _, w := range wallets {
		if err := uc.index.Put(ctx, w); err != nil {
			return 0, fmt.Errorf("failed to index wallet %s: %w", w.ID, err)
		}
	}
	uc.logger.Info("wallet index rebuilt", zap.Int("wallets", len(wallets)))
	return len(wallets), nil
}

// resolve looks up ref. Caller supplied secrets take precedence over the
// stored ones.
func (uc *WalletUsecase) resolve(ctx context.Context, ref WalletRef) (*resolvedWallet, error) {
	var rec *repository.KeyRecord
	var err error

	switch {
	case ref.ID != "":
		rec, err = uc.keystore.Get(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
	case ref.Address != "":
		if ref.Chain == "" {
			return nil, xerrors.BadRequest("chain is required with an address")
		}
		rec, err = uc.keystore.GetByAddress(ctx, ref.Chain, ref.Address)
		if errors.Is(err, xerrors.ErrWalletNotFound) {
			rec = &repository.KeyRecord{Wallet: domain.Wallet{
				Chain:   ref.Chain,
				Address: strings.TrimSpace(ref.Address),
			}}
		} else if err != nil {
			return nil, err
		}
	default:
		return nil, xerrors.BadRequest("walletId or chain and address are required")
	}

	if ref.Chain != "" && ref.Chain != rec.Wallet.Chain {
		return nil, xerrors.BadRequest("wallet %s is on %s, not %s", rec.Wallet.ID, rec.Wallet.Chain, ref.Chain)
	}

	adapter, err := uc.chainRegistry.Get(rec.Wallet.Chain)
	if err != nil {
		return nil, err
	}

	secrets := rec.Secrets
	if !ref.Secrets.IsEmpty() {
		secrets = ref.Secrets
	}
	return &resolvedWallet{wallet: rec.Wallet, secrets: secrets, adapter: adapter}, nil
}

// checkAsset enforces the institutional allow list. An empty asset means
// the native one.
func checkAsset(w domain.Wallet, asset string, adapter domain.Adapter) error {
	if asset == "" {
		asset = adapter.Info().Symbol
	}
	if !w.Metadata.AllowsAsset(asset) {
		return fmt.Errorf("%w: %s", xerrors.ErrAssetNotAllowed, asset)
	}
	return nil
}
