package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// backends returns each KV with a function that moves its clock forward.
func backends(t *testing.T) map[string]struct {
	kv      KV
	advance func(time.Duration)
} {
	t.Helper()

	mem := NewMemory()
	clock := time.Now()
	mem.now = func() time.Time { return clock }

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), []string{mr.Addr()}, "", false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return map[string]struct {
		kv      KV
		advance func(time.Duration)
	}{
		"memory": {mem, func(d time.Duration) { clock = clock.Add(d) }},
		"redis":  {NewRedis(client), mr.FastForward},
	}
}

func TestKV(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := b.kv.Get(ctx, "ns", "missing")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, b.kv.Set(ctx, "ns", "k", "v1", time.Minute))
			v, found, err := b.kv.Get(ctx, "ns", "k")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "v1", v)

			_, found, err = b.kv.Get(ctx, "other", "k")
			require.NoError(t, err)
			assert.False(t, found, "namespaces are separate")

			ok, err := b.kv.SetNX(ctx, "ns", "k", "v2", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			b.advance(2 * time.Minute)
			_, found, err = b.kv.Get(ctx, "ns", "k")
			require.NoError(t, err)
			assert.False(t, found, "expired")

			ok, err = b.kv.SetNX(ctx, "ns", "k", "v3", 0)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, b.kv.Delete(ctx, "ns", "k"))
			_, found, err = b.kv.Get(ctx, "ns", "k")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestNewRedisClientFailsWithoutServer(t *testing.T) {
	_, err := NewRedisClient(context.Background(), []string{"127.0.0.1:1"}, "", false, zap.NewNop())
	assert.Error(t, err)

	_, err = NewRedisClient(context.Background(), nil, "", false, zap.NewNop())
	assert.Error(t, err)
}
