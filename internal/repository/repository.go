// Package repository holds the keystore, the wallet index, the balance cache
// and the incoming transaction store. Each has an in-memory implementation
// and a networked one; the choice is made once at startup.
package repository

import (
	"context"
	"sort"
	"time"

	"custody-service/internal/domain"
)

// KeyRecord is a wallet with its signing material as held by the keystore.
type KeyRecord struct {
	Wallet    domain.Wallet
	Secrets   *domain.WalletSecrets
	UpdatedAt time.Time
}

// Keystore is the durable store of wallets and their secrets. Secrets are
// immutable once stored; saving a record again only refreshes the wallet.
type Keystore interface {
	Save(ctx context.Context, rec *KeyRecord) error
	Get(ctx context.Context, id string) (*KeyRecord, error)
	GetByAddress(ctx context.Context, chain domain.ChainID, address string) (*KeyRecord, error)
	UpdateWallet(ctx context.Context, wallet domain.Wallet) error
	All(ctx context.Context) ([]domain.Wallet, error)
}

// WalletIndex answers wallet lookups without touching secrets.
type WalletIndex interface {
	Put(ctx context.Context, wallet domain.Wallet) error
	ByID(ctx context.Context, id string) (*domain.Wallet, error)
	ByAddress(ctx context.Context, chain domain.ChainID, address string) (*domain.Wallet, error)
	List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
}

// IncomingStore records observed payments at most once per id and keeps a
// block cursor per chain.
type IncomingStore interface {
	// Record reports whether tx was new
	Record(ctx context.Context, tx domain.IncomingTx) (bool, error)
	// List returns the newest payments to address first
	List(ctx context.Context, chain domain.ChainID, address string, limit int) ([]domain.IncomingTx, error)
	HasAny(ctx context.Context, chain domain.ChainID, address string) (bool, error)
	Cursor(ctx context.Context, chain domain.ChainID) (uint64, bool, error)
	SetCursor(ctx context.Context, chain domain.ChainID, block uint64) error
}

func addressKey(chain domain.ChainID, address string) string {
	return string(chain) + ":" + domain.NormalizeAddress(chain, address)
}

// sortWallets orders by creation time, then id.
func sortWallets(wallets []domain.Wallet) {
	sort.Slice(wallets, func(i, j int) bool {
		if !wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
		}
		return wallets[i].ID < wallets[j].ID
	})
}
