package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// WorldFactory builds a fresh scope of size ranks and returns one Transport per rank,
// indexed by rank.
type WorldFactory func(t *testing.T, size int) []Transport

// RunTransportContract runs a suite of tests to verify that a Transport implementation
// complies with the interface contract.
func RunTransportContract(t *testing.T, newWorld WorldFactory) {
	ctx := context.Background()

	t.Run("Rank and Size", func(t *testing.T) {
		world := newWorld(t, 3)
		for i, tr := range world {
			assert.Equal(t, domain.Rank(i), tr.Rank())
			assert.Equal(t, 3, tr.Size())
		}
	})

	t.Run("Register Duplicate", func(t *testing.T) {
		world := newWorld(t, 1)
		_, err := world[0].Register(ctx, "dup", make([]byte, 8))
		require.NoError(t, err)

		_, err = world[0].Register(ctx, "dup", make([]byte, 8))
		assert.ErrorIs(t, err, domain.ErrRegistration)

		_, err = world[0].Register(ctx, "", make([]byte, 8))
		assert.ErrorIs(t, err, domain.ErrRegistration)
	})

	t.Run("Alloc and Free", func(t *testing.T) {
		world := newWorld(t, 1)
		buf, err := world[0].Alloc(ctx, 64)
		require.NoError(t, err)
		assert.Len(t, buf, 64)
		for _, b := range buf {
			require.Zero(t, b)
		}
		require.NoError(t, world[0].Free(buf))

		_, err = world[0].Alloc(ctx, -1)
		assert.ErrorIs(t, err, domain.ErrAllocation)
	})

	t.Run("Write Sync Read", func(t *testing.T) {
		world := newWorld(t, 2)
		base0 := make([]byte, 8)
		base1 := make([]byte, 8)
		h0, err := world[0].Register(ctx, "rw", base0)
		require.NoError(t, err)
		h1, err := world[1].Register(ctx, "rw", base1)
		require.NoError(t, err)

		// Rank 1 writes into rank 0's region.
		require.NoError(t, world[1].Write(ctx, h1, 0, 2, []byte{7, 8}))
		require.NoError(t, world[0].Sync(ctx, h0))
		assert.Equal(t, []byte{0, 0, 7, 8, 0, 0, 0, 0}, base0)

		// A local store on rank 0 becomes remotely visible after Sync.
		base0[7] = 9
		require.NoError(t, world[0].Sync(ctx, h0))
		dst := make([]byte, 3)
		require.NoError(t, world[1].Read(ctx, h1, 0, 5, dst))
		assert.Equal(t, []byte{0, 0, 9}, dst)
	})

	t.Run("Out Of Range", func(t *testing.T) {
		world := newWorld(t, 2)
		h0, err := world[0].Register(ctx, "oor", make([]byte, 4))
		require.NoError(t, err)
		_, err = world[1].Register(ctx, "oor", make([]byte, 4))
		require.NoError(t, err)

		err = world[0].Write(ctx, h0, 1, 3, []byte{1, 2})
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
		err = world[0].Read(ctx, h0, 1, 4, make([]byte, 1))
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
		err = world[0].Read(ctx, h0, 1, -1, make([]byte, 1))
		assert.ErrorIs(t, err, domain.ErrOutOfRange)
	})

	t.Run("Deregister", func(t *testing.T) {
		world := newWorld(t, 1)
		base := []byte{1, 2, 3, 4}
		h, err := world[0].Register(ctx, "dereg", base)
		require.NoError(t, err)
		require.NoError(t, world[0].Deregister(ctx, h))
		assert.Equal(t, []byte{1, 2, 3, 4}, base, "deregister must not touch memory")

		// The name is free again.
		_, err = world[0].Register(ctx, "dereg", base)
		assert.NoError(t, err)
	})

	t.Run("Deregister Keeps Next Generation", func(t *testing.T) {
		world := newWorld(t, 2)
		h0, err := world[0].Register(ctx, "again", make([]byte, 1))
		require.NoError(t, err)
		h1, err := world[1].Register(ctx, "again", make([]byte, 1))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), h0.Generation)
		assert.Equal(t, h0.Generation, h1.Generation)

		// Rank 0 re-creates the name and signals before rank 1 has deregistered.
		require.NoError(t, world[0].Deregister(ctx, h0))
		next0, err := world[0].Register(ctx, "again", make([]byte, 1))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), next0.Generation)
		require.NoError(t, world[0].Signal(ctx, next0, 1, TagBarrier))

		require.NoError(t, world[1].Deregister(ctx, h1))
		next1, err := world[1].Register(ctx, "again", make([]byte, 1))
		require.NoError(t, err)
		assert.Equal(t, next0.Generation, next1.Generation)

		short, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		assert.NoError(t, world[1].Await(short, next1, 0, TagBarrier), "the token of the next generation must survive")
	})

	t.Run("Signal Await Counts", func(t *testing.T) {
		world := newWorld(t, 2)
		h0, err := world[0].Register(ctx, "mbox", make([]byte, 1))
		require.NoError(t, err)
		h1, err := world[1].Register(ctx, "mbox", make([]byte, 1))
		require.NoError(t, err)

		require.NoError(t, world[0].Signal(ctx, h0, 1, TagPost))
		require.NoError(t, world[0].Signal(ctx, h0, 1, TagPost))

		require.NoError(t, world[1].Await(ctx, h1, 0, TagPost))
		require.NoError(t, world[1].Await(ctx, h1, 0, TagPost))

		// Tags are independent streams and the mailbox is now empty.
		short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		err = world[1].Await(short, h1, 0, TagPost)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Await Polls With Done Context", func(t *testing.T) {
		world := newWorld(t, 2)
		h0, err := world[0].Register(ctx, "poll", make([]byte, 1))
		require.NoError(t, err)
		h1, err := world[1].Register(ctx, "poll", make([]byte, 1))
		require.NoError(t, err)

		done, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, world[1].Await(done, h1, 0, TagComplete), context.Canceled)
		require.NoError(t, world[0].Signal(ctx, h0, 1, TagComplete))
		assert.NoError(t, world[1].Await(done, h1, 0, TagComplete))
	})

	t.Run("Await Wakes On Signal", func(t *testing.T) {
		world := newWorld(t, 2)
		h0, err := world[0].Register(ctx, "wake", make([]byte, 1))
		require.NoError(t, err)
		h1, err := world[1].Register(ctx, "wake", make([]byte, 1))
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			done <- world[1].Await(ctx, h1, 0, TagComplete)
		}()
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, world[0].Signal(ctx, h0, 1, TagComplete))

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Await did not return after Signal")
		}
	})

	t.Run("Lock Exclusive Per Rank", func(t *testing.T) {
		world := newWorld(t, 3)
		var handles []Handle
		for _, tr := range world {
			h, err := tr.Register(ctx, "lock", make([]byte, 1))
			require.NoError(t, err)
			handles = append(handles, h)
		}

		unlock, err := world[0].Lock(ctx, handles[0], 2)
		require.NoError(t, err)

		// Same target is contended.
		short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		_, err = world[1].Lock(short, handles[1], 2)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// Another target is independent.
		unlockOther, err := world[1].Lock(ctx, handles[1], 0)
		require.NoError(t, err)
		require.NoError(t, unlockOther(ctx))

		require.NoError(t, unlock(ctx))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := world[1].Lock(ctx, handles[1], 2)
			if assert.NoError(t, err) {
				assert.NoError(t, u(ctx))
			}
		}()
		wg.Wait()
	})
}
