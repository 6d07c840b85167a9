package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/onesided/internal/testutils"
	"github.com/aretw0/onesided/pkg/adapters/redis"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	return testutils.SetupRedis(t)
}

func newWorld(t *testing.T, size int, opts ...redis.Option) (*miniredis.Miniredis, []ports.Transport) {
	t.Helper()
	mr, client := newClient(t)
	opts = append([]redis.Option{redis.WithPollInterval(5 * time.Millisecond)}, opts...)
	world, err := redis.NewWorld(client, size, opts...)
	require.NoError(t, err)
	return mr, world
}

func TestRedisTransport_Contract(t *testing.T) {
	ports.RunTransportContract(t, func(t *testing.T, size int) []ports.Transport {
		_, world := newWorld(t, size)
		return world
	})
}

func TestRedisTransport_InvalidRank(t *testing.T) {
	_, client := newClient(t)

	_, err := redis.NewFromClient(client, 3, 3)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)
	_, err = redis.NewFromClient(client, 0, 0)
	assert.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestRedisTransport_Keys(t *testing.T) {
	mr, world := newWorld(t, 2, redis.WithPrefix("test:"))
	ctx := context.Background()

	h, err := world[1].Register(ctx, "grid", []byte{1, 2, 3})
	require.NoError(t, err)

	got, err := mr.Get("test:win:grid:1")
	require.NoError(t, err)
	assert.Equal(t, "\x01\x02\x03", got)

	require.NoError(t, world[0].Signal(ctx, h, 1, ports.TagPost))
	assert.True(t, mr.Exists("test:mbox:grid:1:0:1:post"))

	require.NoError(t, world[1].Deregister(ctx, h))
	assert.False(t, mr.Exists("test:win:grid:1"))
	assert.False(t, mr.Exists("test:mbox:grid:1:0:1:post"), "mailboxes addressed to the rank go with it")
}

func TestRedisTransport_StaleRegionRejected(t *testing.T) {
	mr, world := newWorld(t, 1)
	require.NoError(t, mr.Set(redis.DefaultPrefix+"win:stale:0", "leftover"))

	_, err := world[0].Register(context.Background(), "stale", make([]byte, 4))
	assert.ErrorIs(t, err, domain.ErrRegistration)
}

func TestRedisTransport_SyncKeepsRemoteWrites(t *testing.T) {
	_, world := newWorld(t, 2)
	ctx := context.Background()

	base := []byte{0, 0, 0, 0, 0, 0}
	h0, err := world[0].Register(ctx, "merge", base)
	require.NoError(t, err)
	h1, err := world[1].Register(ctx, "merge", make([]byte, 6))
	require.NoError(t, err)

	// Local store and remote write to disjoint bytes between two syncs.
	base[0] = 1
	require.NoError(t, world[1].Write(ctx, h1, 0, 4, []byte{5, 6}))
	require.NoError(t, world[0].Sync(ctx, h0))
	assert.Equal(t, []byte{1, 0, 0, 0, 5, 6}, base)

	dst := make([]byte, 6)
	require.NoError(t, world[1].Read(ctx, h1, 0, 0, dst))
	assert.Equal(t, []byte{1, 0, 0, 0, 5, 6}, dst)
}

func TestRedisTransport_ServerLoss(t *testing.T) {
	mr, world := newWorld(t, 1)
	ctx := context.Background()

	h, err := world[0].Register(ctx, "gone", make([]byte, 2))
	require.NoError(t, err)

	mr.Close()
	err = world[0].Sync(ctx, h)
	assert.ErrorIs(t, err, domain.ErrTransportLost)
	err = world[0].Signal(ctx, h, 0, ports.TagBarrier)
	assert.ErrorIs(t, err, domain.ErrTransportLost)
}

func TestRedisTransport_Closed(t *testing.T) {
	_, world := newWorld(t, 1)
	ctx := context.Background()

	require.NoError(t, world[0].Close())
	require.NoError(t, world[0].Close())
	_, err := world[0].Register(ctx, "late", make([]byte, 1))
	assert.ErrorIs(t, err, domain.ErrTransportLost)
}

func TestRedisTransport_LockExpiry(t *testing.T) {
	mr, world := newWorld(t, 2, redis.WithLockTTL(time.Second))
	ctx := context.Background()

	h, err := world[0].Register(ctx, "ttl", make([]byte, 1))
	require.NoError(t, err)

	unlock, err := world[0].Lock(ctx, h, 1)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	// The key expired, so the stale holder learns its epoch was not exclusive.
	err = unlock(ctx)
	assert.ErrorIs(t, err, domain.ErrSynchronization)
}

func TestDiffSpans(t *testing.T) {
	tests := []struct {
		prev, cur []byte
		want      []string
	}{
		{[]byte{}, []byte{}, nil},
		{[]byte{1, 2, 3}, []byte{1, 2, 3}, nil},
		{[]byte{0, 0, 0, 0}, []byte{1, 0, 0, 2}, []string{"0:[1]", "3:[2]"}},
		{[]byte{0, 0, 0, 0}, []byte{0, 7, 8, 0}, []string{"1:[7 8]"}},
		{[]byte{0, 0}, []byte{9, 9}, []string{"0:[9 9]"}},
	}
	for _, tt := range tests {
		var got []string
		for _, s := range redis.DiffSpans(tt.prev, tt.cur) {
			got = append(got, fmt.Sprintf("%d:%v", s.Offset, s.Data))
		}
		assert.Equal(t, tt.want, got, "prev=%v cur=%v", tt.prev, tt.cur)
	}
}
