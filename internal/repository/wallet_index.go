package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/redis/go-redis/v9"
)

// MemoryWalletIndex is a WalletIndex held in process memory.
type MemoryWalletIndex struct {
	mu        sync.RWMutex
	wallets   map[string]domain.Wallet
	byAddress map[string]string
}

func NewMemoryWalletIndex() *MemoryWalletIndex {
	return &MemoryWalletIndex{
		wallets:   make(map[string]domain.Wallet),
		byAddress: make(map[string]string),
	}
}

func (m *MemoryWalletIndex) Put(ctx context.Context, wallet domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet.ID] = wallet
	m.byAddress[addressKey(wallet.Chain, wallet.Address)] = wallet.ID
	return nil
}

func (m *MemoryWalletIndex) ByID(ctx context.Context, id string) (*domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return &w, nil
}

func (m *MemoryWalletIndex) ByAddress(ctx context.Context, chain domain.ChainID, address string) (*domain.Wallet, error) {
	m.mu.RLock()
	id, ok := m.byAddress[addressKey(chain, address)]
	m.mu.RUnlock()
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return m.ByID(ctx, id)
}

func (m *MemoryWalletIndex) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Wallet
	for _, w := range m.wallets {
		if filter.Matches(w) {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

const (
	walletKeyPrefix   = "wallet:"
	walletAddrPrefix  = "wallet:addr:"
	walletChainPrefix = "wallets:chain:"
	walletOwnerPrefix = "wallets:owner:"
	walletAllKey      = "wallets:all"
)

// RedisWalletIndex stores each wallet as JSON under wallet:<id> with an
// address pointer and membership sets per chain and per owner.
type RedisWalletIndex struct {
	client redis.UniversalClient
}

func NewRedisWalletIndex(client redis.UniversalClient) *RedisWalletIndex {
	return &RedisWalletIndex{client: client}
}

func (r *RedisWalletIndex) Put(ctx context.Context, wallet domain.Wallet) error {
	payload, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}

	previous, err := r.ByID(ctx, wallet.ID)
	if err != nil && !errors.Is(err, xerrors.ErrWalletNotFound) {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Metadata.VirtualOwner != "" &&
			previous.Metadata.VirtualOwner != wallet.Metadata.VirtualOwner {
			pipe.SRem(ctx, walletOwnerPrefix+previous.Metadata.VirtualOwner, wallet.ID)
		}
		pipe.Set(ctx, walletKeyPrefix+wallet.ID, payload, 0)
		pipe.Set(ctx, walletAddrPrefix+addressKey(wallet.Chain, wallet.Address), wallet.ID, 0)
		pipe.SAdd(ctx, walletAllKey, wallet.ID)
		pipe.SAdd(ctx, walletChainPrefix+string(wallet.Chain), wallet.ID)
		if wallet.Metadata.VirtualOwner != "" {
			pipe.SAdd(ctx, walletOwnerPrefix+wallet.Metadata.VirtualOwner, wallet.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index wallet %s: %w", wallet.ID, err)
	}
	return nil
}

func (r *RedisWalletIndex) ByID(ctx context.Context, id string) (*domain.Wallet, error) {
	raw, err := r.client.Get(ctx, walletKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	var w domain.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode wallet %s: %w", id, err)
	}
	return &w, nil
}

func (r *RedisWalletIndex) ByAddress(ctx context.Context, chain domain.ChainID, address string) (*domain.Wallet, error) {
	id, err := r.client.Get(ctx, walletAddrPrefix+addressKey(chain, address)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}
	return r.ByID(ctx, id)
}

// List reads the narrowest membership set the filter allows, then applies
// the rest of the filter to the decoded wallets.
func (r *RedisWalletIndex) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	if filter.Address != "" && filter.Chain != "" {
		w, err := r.ByAddress(ctx, filter.Chain, filter.Address)
		if errors.Is(err, xerrors.ErrWalletNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !filter.Matches(*w) {
			return nil, nil
		}
		return []domain.Wallet{*w}, nil
	}

	set := walletAllKey
	switch {
	case filter.Owner != "":
		set = walletOwnerPrefix + filter.Owner
	case filter.Chain != "":
		set = walletChainPrefix + string(filter.Chain)
	}
	ids, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.Get(ctx, walletKeyPrefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}

	var out []domain.Wallet
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load wallet: %w", err)
		}
		var w domain.Wallet
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("failed to decode wallet: %w", err)
		}
		if filter.Matches(w) {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}
