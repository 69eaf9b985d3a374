package repository

import (
	"context"
	"sync"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"
)

// MemoryKeystore keeps records in process memory, for development and tests.
type MemoryKeystore struct {
	mu        sync.RWMutex
	records   map[string]*KeyRecord
	byAddress map[string]string
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{
		records:   make(map[string]*KeyRecord),
		byAddress: make(map[string]string),
	}
}

func cloneSecrets(s *domain.WalletSecrets) *domain.WalletSecrets {
	if s.IsEmpty() {
		return nil
	}
	c := *s
	return &c
}

func cloneRecord(rec *KeyRecord) *KeyRecord {
	return &KeyRecord{Wallet: rec.Wallet, Secrets: cloneSecrets(rec.Secrets), UpdatedAt: rec.UpdatedAt}
}

func (k *MemoryKeystore) Save(ctx context.Context, rec *KeyRecord) error {
	if rec.Wallet.ID == "" {
		return xerrors.BadRequest("wallet id is required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	key := addressKey(rec.Wallet.Chain, rec.Wallet.Address)
	if id, ok := k.byAddress[key]; ok && id != rec.Wallet.ID {
		return xerrors.BadRequest("wallet address already exists: %s", rec.Wallet.Address)
	}

	stored := cloneRecord(rec)
	if existing, ok := k.records[rec.Wallet.ID]; ok && existing.Secrets != nil {
		stored.Secrets = existing.Secrets
	}
	stored.UpdatedAt = time.Now().UTC()
	k.records[rec.Wallet.ID] = stored
	k.byAddress[key] = rec.Wallet.ID
	return nil
}

func (k *MemoryKeystore) Get(ctx context.Context, id string) (*KeyRecord, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, ok := k.records[id]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return cloneRecord(rec), nil
}

func (k *MemoryKeystore) GetByAddress(ctx context.Context, chain domain.ChainID, address string) (*KeyRecord, error) {
	k.mu.RLock()
	id, ok := k.byAddress[addressKey(chain, address)]
	k.mu.RUnlock()
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return k.Get(ctx, id)
}

func (k *MemoryKeystore) UpdateWallet(ctx context.Context, wallet domain.Wallet) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, ok := k.records[wallet.ID]
	if !ok {
		return xerrors.ErrWalletNotFound
	}
	rec.Wallet.Label = wallet.Label
	rec.Wallet.Metadata = wallet.Metadata
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (k *MemoryKeystore) All(ctx context.Context) ([]domain.Wallet, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]domain.Wallet, 0, len(k.records))
	for _, rec := range k.records {
		out = append(out, rec.Wallet)
	}
	sortWallets(out)
	return out, nil
}
