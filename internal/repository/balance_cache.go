package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"custody-service/internal/cache"
	"custody-service/internal/domain"
)

const balanceNamespace = "balance"

// CachedBalance is a balance as last read from chain.
type CachedBalance struct {
	domain.Balance
	Chain     domain.ChainID `json:"chain"`
	Ref       string         `json:"ref"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// BalanceCache mirrors fresh balance reads for ttl. Entries are keyed by
// chain, wallet id or address, and asset.
type BalanceCache struct {
	kv  cache.KV
	ttl time.Duration
	now func() time.Time
}

func NewBalanceCache(kv cache.KV, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{kv: kv, ttl: ttl, now: time.Now}
}

func balanceKey(chain domain.ChainID, ref, asset string) string {
	return fmt.Sprintf("%s:%s:%s", chain, domain.NormalizeAddress(chain, ref), strings.ToUpper(asset))
}

func (c *BalanceCache) Put(ctx context.Context, chain domain.ChainID, ref, asset string, bal domain.Balance) error {
	entry := CachedBalance{Balance: bal, Chain: chain, Ref: ref, UpdatedAt: c.now().UTC()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, balanceNamespace, balanceKey(chain, ref, asset), string(payload), c.ttl)
}

// Get returns nil without error when nothing fresh is cached.
func (c *BalanceCache) Get(ctx context.Context, chain domain.ChainID, ref, asset string) (*CachedBalance, error) {
	raw, found, err := c.kv.Get(ctx, balanceNamespace, balanceKey(chain, ref, asset))
	if err != nil || !found {
		return nil, err
	}
	var entry CachedBalance
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	return &entry, nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, chain domain.ChainID, ref, asset string) error {
	return c.kv.Delete(ctx, balanceNamespace, balanceKey(chain, ref, asset))
}
