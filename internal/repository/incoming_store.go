package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"custody-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// MemoryIncomingStore is an IncomingStore held in process memory.
type MemoryIncomingStore struct {
	mu        sync.RWMutex
	txs       map[domain.ChainID]map[string]domain.IncomingTx
	byAddress map[string][]string
	cursors   map[domain.ChainID]uint64
}

func NewMemoryIncomingStore() *MemoryIncomingStore {
	return &MemoryIncomingStore{
		txs:       make(map[domain.ChainID]map[string]domain.IncomingTx),
		byAddress: make(map[string][]string),
		cursors:   make(map[domain.ChainID]uint64),
	}
}

func (m *MemoryIncomingStore) Record(ctx context.Context, tx domain.IncomingTx) (bool, error) {
	tx = tx.WithID()
	m.mu.Lock()
	defer m.mu.Unlock()

	perChain, ok := m.txs[tx.Chain]
	if !ok {
		perChain = make(map[string]domain.IncomingTx)
		m.txs[tx.Chain] = perChain
	}
	if _, dup := perChain[tx.ID]; dup {
		return false, nil
	}
	perChain[tx.ID] = tx
	key := addressKey(tx.Chain, tx.Address)
	m.byAddress[key] = append(m.byAddress[key], tx.ID)
	return true, nil
}

func (m *MemoryIncomingStore) List(ctx context.Context, chain domain.ChainID, address string, limit int) ([]domain.IncomingTx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byAddress[addressKey(chain, address)]
	out := make([]domain.IncomingTx, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.txs[chain][id])
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIncomingStore) HasAny(ctx context.Context, chain domain.ChainID, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byAddress[addressKey(chain, address)]) > 0, nil
}

func (m *MemoryIncomingStore) Cursor(ctx context.Context, chain domain.ChainID) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.cursors[chain]
	return block, ok, nil
}

func (m *MemoryIncomingStore) SetCursor(ctx context.Context, chain domain.ChainID, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[chain] = block
	return nil
}

func sortNewestFirst(txs []domain.IncomingTx) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}

// RedisIncomingStore keeps one hash of payments per chain, keyed by id, and
// one sorted set per address scored by timestamp. Keys of one chain share a
// hash tag so they live in the same cluster slot.
type RedisIncomingStore struct {
	client redis.UniversalClient
}

func NewRedisIncomingStore(client redis.UniversalClient) *RedisIncomingStore {
	return &RedisIncomingStore{client: client}
}

func chainTag(chain domain.ChainID) string {
	return "incoming:{" + string(chain) + "}:"
}

func incomingHashKey(chain domain.ChainID) string {
	return chainTag(chain) + "tx"
}

func incomingAddrKey(chain domain.ChainID, address string) string {
	return chainTag(chain) + "addr:" + domain.NormalizeAddress(chain, address)
}

func cursorKey(chain domain.ChainID) string {
	return chainTag(chain) + "cursor"
}

// recordScript inserts the payment once and always indexes it, so a replay
// repairs an index entry lost before this script was in place.
var recordScript = redis.NewScript(`
local inserted = redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return inserted
`)

// Record runs HSETNX and ZADD in one script so concurrent monitors insert a
// payment once and never leave it unindexed.
func (r *RedisIncomingStore) Record(ctx context.Context, tx domain.IncomingTx) (bool, error) {
	tx = tx.WithID()
	payload, err := json.Marshal(tx)
	if err != nil {
		return false, fmt.Errorf("failed to encode incoming tx: %w", err)
	}
	keys := []string{incomingHashKey(tx.Chain), incomingAddrKey(tx.Chain, tx.Address)}
	inserted, err := recordScript.Run(ctx, r.client, keys, tx.ID, payload, tx.Timestamp.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to record incoming tx: %w", err)
	}
	return inserted == 1, nil
}

func (r *RedisIncomingStore) List(ctx context.Context, chain domain.ChainID, address string, limit int) ([]domain.IncomingTx, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, incomingAddrKey(chain, address), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming txs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.IncomingTx{}, nil
	}
	values, err := r.client.HMGet(ctx, incomingHashKey(chain), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load incoming txs: %w", err)
	}

	out := make([]domain.IncomingTx, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var tx domain.IncomingTx
		if err := json.Unmarshal([]byte(s), &tx); err != nil {
			return nil, fmt.Errorf("failed to decode incoming tx: %w", err)
		}
		out = append(out, tx)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisIncomingStore) HasAny(ctx context.Context, chain domain.ChainID, address string) (bool, error) {
	n, err := r.client.ZCard(ctx, incomingAddrKey(chain, address)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count incoming txs: %w", err)
	}
	return n > 0, nil
}

func (r *RedisIncomingStore) Cursor(ctx context.Context, chain domain.ChainID) (uint64, bool, error) {
	raw, err := r.client.Get(ctx, cursorKey(chain)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor: %w", err)
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor for %s: %w", chain, err)
	}
	return block, true, nil
}

func (r *RedisIncomingStore) SetCursor(ctx context.Context, chain domain.ChainID, block uint64) error {
	return r.client.Set(ctx, cursorKey(chain), strconv.FormatUint(block, 10), 0).Err()
}
