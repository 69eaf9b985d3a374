package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"custody-service/internal/cache"
	"custody-service/internal/domain"
	"custody-service/internal/security"
	"custody-service/internal/xerrors"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func wallet(chain domain.ChainID, address string, created time.Time) domain.Wallet {
	return domain.Wallet{
		ID:        uuid.NewString(),
		Chain:     chain,
		Address:   address,
		CreatedAt: created.UTC().Truncate(time.Microsecond),
	}
}

func exerciseKeystore(t *testing.T, ks Keystore) {
	ctx := context.Background()
	now := time.Now()
	addr := "0xAbC" + uuid.NewString()[:8]

	w := wallet(domain.ChainEthereum, addr, now)
	w.Label = "hot"
	secrets := &domain.WalletSecrets{PrivateKey: "key-1"}
	require.NoError(t, ks.Save(ctx, &KeyRecord{Wallet: w, Secrets: secrets}))

	rec, err := ks.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "hot", rec.Wallet.Label)
	require.NotNil(t, rec.Secrets)
	assert.Equal(t, "key-1", rec.Secrets.PrivateKey)

	byAddr, err := ks.GetByAddress(ctx, domain.ChainEthereum, addr)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byAddr.Wallet.ID)

	// a second save never replaces stored secrets
	require.NoError(t, ks.Save(ctx, &KeyRecord{Wallet: w, Secrets: &domain.WalletSecrets{PrivateKey: "key-2"}}))
	rec, err = ks.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-1", rec.Secrets.PrivateKey)

	other := wallet(domain.ChainEthereum, addr, now)
	err = ks.Save(ctx, &KeyRecord{Wallet: other})
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest), "duplicate address: %v", err)

	w.Label = "cold"
	w.Metadata.VirtualOwner = "user-1"
	w.Address = "ignored"
	require.NoError(t, ks.UpdateWallet(ctx, w))
	rec, err = ks.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "cold", rec.Wallet.Label)
	assert.Equal(t, "user-1", rec.Wallet.Metadata.VirtualOwner)
	assert.Equal(t, addr, rec.Wallet.Address)

	watch := wallet(domain.ChainBitcoin, "bc1q"+uuid.NewString()[:8], now.Add(time.Second))
	require.NoError(t, ks.Save(ctx, &KeyRecord{Wallet: watch}))
	rec, err = ks.Get(ctx, watch.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.Secrets)

	all, err := ks.All(ctx)
	require.NoError(t, err)
	var ids []string
	for _, a := range all {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, w.ID)
	assert.Contains(t, ids, watch.ID)

	_, err = ks.Get(ctx, "missing")
	assert.ErrorIs(t, err, xerrors.ErrWalletNotFound)
	err = ks.UpdateWallet(ctx, domain.Wallet{ID: "missing"})
	assert.ErrorIs(t, err, xerrors.ErrWalletNotFound)
}

func TestMemoryKeystore(t *testing.T) {
	exerciseKeystore(t, NewMemoryKeystore())
}

func TestMemoryKeystore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ks := NewMemoryKeystore()
	w := wallet(domain.ChainSolana, "So1111", time.Now())
	require.NoError(t, ks.Save(ctx, &KeyRecord{Wallet: w, Secrets: &domain.WalletSecrets{Seed: "s"}}))

	rec, err := ks.Get(ctx, w.ID)
	require.NoError(t, err)
	rec.Secrets.Seed = "changed"

	again, err := ks.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "s", again.Secrets.Seed)
}

func TestPostgresKeystore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	key, err := security.GenerateMasterKey()
	require.NoError(t, err)
	enc, err := security.NewEncryption(key)
	require.NoError(t, err)

	ks := NewPostgresKeystore(pool, enc)
	require.NoError(t, ks.Migrate(ctx))
	exerciseKeystore(t, ks)
}

func walletIndexes(t *testing.T) map[string]WalletIndex {
	client, _ := newRedis(t)
	return map[string]WalletIndex{
		"memory": NewMemoryWalletIndex(),
		"redis":  NewRedisWalletIndex(client),
	}
}

func TestWalletIndex(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, idx := range walletIndexes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			eth := wallet(domain.ChainEthereum, "0xAAbb", base)
			eth.Metadata.VirtualOwner = "alice"
			btc := wallet(domain.ChainBitcoin, "bc1qalice", base.Add(time.Minute))
			btc.Metadata.VirtualOwner = "alice"
			btc.Label = "savings"
			sol := wallet(domain.ChainSolana, "SoBob", base.Add(2*time.Minute))
			for _, w := range []domain.Wallet{sol, btc, eth} {
				require.NoError(t, idx.Put(ctx, w))
			}

			got, err := idx.ByID(ctx, btc.ID)
			require.NoError(t, err)
			assert.Equal(t, "savings", got.Label)

			got, err = idx.ByAddress(ctx, domain.ChainEthereum, "0xaaBB")
			require.NoError(t, err)
			assert.Equal(t, eth.ID, got.ID)

			_, err = idx.ByAddress(ctx, domain.ChainSolana, "sobob")
			assert.ErrorIs(t, err, xerrors.ErrWalletNotFound, "non EVM addresses are case sensitive")

			all, err := idx.List(ctx, domain.WalletFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{eth.ID, btc.ID, sol.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

			owned, err := idx.List(ctx, domain.WalletFilter{Owner: "alice"})
			require.NoError(t, err)
			assert.Len(t, owned, 2)

			byChain, err := idx.List(ctx, domain.WalletFilter{Chain: domain.ChainBitcoin, Label: "savings"})
			require.NoError(t, err)
			require.Len(t, byChain, 1)
			assert.Equal(t, btc.ID, byChain[0].ID)

			byAddr, err := idx.List(ctx, domain.WalletFilter{Chain: domain.ChainEthereum, Address: "0xaabb"})
			require.NoError(t, err)
			assert.Len(t, byAddr, 1)

			// moving a wallet to another owner drops it from the old group
			btc.Metadata.VirtualOwner = "bob"
			require.NoError(t, idx.Put(ctx, btc))
			owned, err = idx.List(ctx, domain.WalletFilter{Owner: "alice"})
			require.NoError(t, err)
			require.Len(t, owned, 1)
			assert.Equal(t, eth.ID, owned[0].ID)

			none, err := idx.List(ctx, domain.WalletFilter{Owner: "nobody"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestBalanceCache(t *testing.T) {
	ctx := context.Background()
	client, mr := newRedis(t)
	c := NewBalanceCache(cache.NewRedis(client), 30*time.Second)

	got, err := c.Get(ctx, domain.ChainEthereum, "0xAB", "eth")
	require.NoError(t, err)
	assert.Nil(t, got)

	bal := domain.Balance{Amount: "1.25", Decimals: 18, Symbol: "ETH"}
	require.NoError(t, c.Put(ctx, domain.ChainEthereum, "0xAB", "eth", bal))

	got, err = c.Get(ctx, domain.ChainEthereum, "0xab", "ETH")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1.25", got.Amount)
	assert.Equal(t, domain.ChainEthereum, got.Chain)

	mr.FastForward(31 * time.Second)
	got, err = c.Get(ctx, domain.ChainEthereum, "0xAB", "ETH")
	require.NoError(t, err)
	assert.Nil(t, got, "expired")

	require.NoError(t, c.Put(ctx, domain.ChainEthereum, "0xAB", "ETH", bal))
	require.NoError(t, c.Invalidate(ctx, domain.ChainEthereum, "0xAB", "ETH"))
	got, err = c.Get(ctx, domain.ChainEthereum, "0xAB", "ETH")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func incomingStores(t *testing.T) map[string]IncomingStore {
	client, _ := newRedis(t)
	return map[string]IncomingStore{
		"memory": NewMemoryIncomingStore(),
		"redis":  NewRedisIncomingStore(client),
	}
}

func TestIncomingStore(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range incomingStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx := domain.IncomingTx{
				Chain:     domain.ChainBitcoin,
				TxHash:    "aa",
				Address:   "bc1qdest",
				Index:     0,
				Amount:    "0.1",
				Asset:     "BTC",
				Status:    domain.TxConfirmed,
				Timestamp: base,
			}

			has, err := store.HasAny(ctx, domain.ChainBitcoin, "bc1qdest")
			require.NoError(t, err)
			assert.False(t, has)

			inserted, err := store.Record(ctx, tx)
			require.NoError(t, err)
			assert.True(t, inserted)

			inserted, err = store.Record(ctx, tx)
			require.NoError(t, err)
			assert.False(t, inserted, "same id twice")

			second := tx
			second.Index = 1
			second.Amount = "0.2"
			second.Timestamp = base
			inserted, err = store.Record(ctx, second)
			require.NoError(t, err)
			assert.True(t, inserted, "another output of the same tx")

			newer := tx
			newer.TxHash = "bb"
			newer.Timestamp = base.Add(time.Hour)
			_, err = store.Record(ctx, newer)
			require.NoError(t, err)

			list, err := store.List(ctx, domain.ChainBitcoin, "bc1qdest", 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "bb", list[0].TxHash)
			assert.Equal(t, domain.IncomingID(domain.ChainBitcoin, "bb", "bc1qdest", 0), list[0].ID)

			limited, err := store.List(ctx, domain.ChainBitcoin, "bc1qdest", 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "bb", limited[0].TxHash)

			has, err = store.HasAny(ctx, domain.ChainBitcoin, "bc1qdest")
			require.NoError(t, err)
			assert.True(t, has)

			empty, err := store.List(ctx, domain.ChainSolana, "bc1qdest", 10)
			require.NoError(t, err)
			assert.Empty(t, empty)

			_, ok, err := store.Cursor(ctx, domain.ChainEthereum)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, store.SetCursor(ctx, domain.ChainEthereum, 19_000_123))
			block, ok, err := store.Cursor(ctx, domain.ChainEthereum)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint64(19_000_123), block)
		})
	}
}

func TestRedisIncomingStore_ReplayRepairsIndex(t *testing.T) {
	ctx := context.Background()
	client, mr := newRedis(t)
	store := NewRedisIncomingStore(client)

	tx := domain.IncomingTx{
		Chain:     domain.ChainBitcoin,
		TxHash:    "cc",
		Address:   "bc1qdest",
		Amount:    "0.3",
		Asset:     "BTC",
		Status:    domain.TxConfirmed,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}.WithID()

	// payment stored without its address entry
	payload, err := json.Marshal(tx)
	require.NoError(t, err)
	require.NoError(t, client.HSet(ctx, incomingHashKey(tx.Chain), tx.ID, payload).Err())

	has, err := store.HasAny(ctx, tx.Chain, tx.Address)
	require.NoError(t, err)
	assert.False(t, has)

	inserted, err := store.Record(ctx, tx)
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := store.List(ctx, tx.Chain, tx.Address, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tx.ID, list[0].ID)

	require.NoError(t, store.SetCursor(ctx, tx.Chain, 10))
	for _, key := range mr.Keys() {
		assert.Contains(t, key, "{bitcoin}")
	}
}
