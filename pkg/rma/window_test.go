package rma_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/onesided/pkg/adapters/memory"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"github.com/aretw0/onesided/pkg/registry"
	"github.com/aretw0/onesided/pkg/rma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestAllocateRelease_Balance(t *testing.T) {
	for _, length := range []int{0, 1, 7, 1024} {
		t.Run(fmt.Sprintf("len=%d", length), func(t *testing.T) {
			world := runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
				win, err := rma.Allocate[float64](ctx, tr, "balance", length)
				if err != nil {
					return err
				}
				assert.Len(t, win.Local(), length)
				assert.True(t, win.Owned())
				return win.Release(ctx)
			})

			assert.Zero(t, world.Arena().InUse(), "all managed memory must return to the runtime")
			assert.Zero(t, world.Arena().Live())
			assert.Zero(t, world.Regions())
		})
	}
}

func TestAllocate_Zeroed(t *testing.T) {
	runWorld(t, 1, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int32](ctx, tr, "zeroed", 16)
		if err != nil {
			return err
		}
		assert.Equal(t, make([]int32, 16), win.Local())
		assert.Equal(t, domain.Descriptor{Layout: "int32", Size: 4}, win.Descriptor())
		return win.Release(ctx)
	})
}

func TestAllocate_Failures(t *testing.T) {
	ctx := context.Background()
	world := memory.NewWorld(1, memory.WithMaxBytes(64))
	tr := world.Transport(0)

	_, err := rma.Allocate[float64](ctx, tr, "too-big", 9)
	assert.ErrorIs(t, err, domain.ErrAllocation)

	_, err = rma.Allocate[float64](ctx, tr, "negative", -1)
	assert.ErrorIs(t, err, domain.ErrAllocation)

	// Recoverable: a smaller request succeeds.
	win, err := rma.Allocate[float64](ctx, tr, "fits", 8)
	require.NoError(t, err)
	require.NoError(t, win.Release(ctx))
	assert.Zero(t, world.Arena().InUse())
}

func TestAllocate_RegistrationFailureFreesMemory(t *testing.T) {
	ctx := context.Background()
	world := memory.NewWorld(1)
	tr := world.Transport(0)

	first, err := rma.Allocate[int64](ctx, tr, "taken", 4)
	require.NoError(t, err)

	_, err = rma.Allocate[int64](ctx, tr, "taken", 4)
	assert.ErrorIs(t, err, domain.ErrRegistration)
	assert.Equal(t, 32, world.Arena().InUse(), "the failed allocation must not leak")

	require.NoError(t, first.Release(ctx))
	assert.Zero(t, world.Arena().InUse())
}

func TestAttach_ReleaseLeavesCallerBuffer(t *testing.T) {
	ctx := context.Background()
	world := memory.NewWorld(1)
	tr := world.Transport(0)

	buf := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	want := append([]int64(nil), buf...)

	win, err := rma.Attach(ctx, tr, "borrowed", buf)
	require.NoError(t, err)
	assert.False(t, win.Owned())
	assert.Equal(t, 8, win.Len())

	require.NoError(t, win.Release(ctx))

	assert.Equal(t, want, buf, "an attached buffer must never be freed or modified by release")
	assert.Nil(t, win.Local())
	assert.Zero(t, world.Arena().Live())
}

func TestAttach_DuplicateName(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(1).Transport(0)

	win, err := rma.Attach(ctx, tr, "dup", make([]float32, 2))
	require.NoError(t, err)
	defer win.Release(ctx)

	_, err = rma.Attach(ctx, tr, "dup", make([]float32, 2))
	assert.ErrorIs(t, err, domain.ErrRegistration)

	_, err = rma.Attach(ctx, tr, "", make([]float32, 2))
	assert.ErrorIs(t, err, domain.ErrRegistration)
}

func TestRelease_UseAfterRelease(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(1).Transport(0)

	win, err := rma.Allocate[float64](ctx, tr, "gone", 4)
	require.NoError(t, err)
	require.NoError(t, win.Release(ctx))

	assert.ErrorIs(t, win.Release(ctx), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.Fence(ctx), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.GetWhole(0), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.Put(0, 0, 1, []float64{1}, 0, 1), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.LockExclusive(ctx, 0), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.Post(ctx, domain.NewGroup(0)), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.Sync(ctx), domain.ErrUseAfterRelease)
	assert.Equal(t, "released", win.Info().Epoch)
}

func TestRelease_RefusedWhileEpochOpen(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(1).Transport(0)

	win, err := rma.Allocate[float64](ctx, tr, "busy", 4)
	require.NoError(t, err)

	require.NoError(t, win.LockExclusive(ctx, 0))
	assert.ErrorIs(t, win.Release(ctx), domain.ErrSynchronization)

	require.NoError(t, win.Unlock(ctx, 0))
	require.NoError(t, win.Fence(ctx))
	require.NoError(t, win.PutWhole(0))
	assert.ErrorIs(t, win.Release(ctx), domain.ErrSynchronization, "pending transfers block release")

	require.NoError(t, win.Fence(ctx))
	assert.NoError(t, win.Release(ctx))
}

func TestTransportLost_BreaksWindow(t *testing.T) {
	ctx := context.Background()
	world := memory.NewWorld(1)
	tr := world.Transport(0)

	win, err := rma.Allocate[int32](ctx, tr, "fragile", 4)
	require.NoError(t, err)
	require.NoError(t, win.Fence(ctx))
	require.NoError(t, win.PutWhole(0))

	world.Disconnect(0)
	err = win.Fence(ctx)
	assert.ErrorIs(t, err, domain.ErrTransportLost)
	assert.True(t, win.Info().Broken)

	// Every later operation is refused, retroactively as if released.
	assert.ErrorIs(t, win.GetWhole(0), domain.ErrUseAfterRelease)
	assert.ErrorIs(t, win.Fence(ctx), domain.ErrUseAfterRelease)

	// Release still cleans up.
	require.NoError(t, win.Release(ctx))
	assert.Zero(t, world.Arena().InUse())
	assert.Zero(t, world.Regions())
}

func TestWindow_HooksAndRegistry(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(1).Transport(0)
	reg := registry.NewRegistry()

	var created, released, transfers, opened, closed int
	hooks := domain.LifecycleHooks{
		OnWindowCreate:  func(context.Context, *domain.WindowEvent) { created++ },
		OnWindowRelease: func(context.Context, *domain.WindowEvent) { released++ },
		OnTransfer: func(_ context.Context, e *domain.TransferEvent) {
			transfers++
			assert.Equal(t, 16, e.Bytes)
			assert.NoError(t, e.Err)
		},
		OnEpochOpen:  func(context.Context, *domain.EpochEvent) { opened++ },
		OnEpochClose: func(context.Context, *domain.EpochEvent) { closed++ },
	}

	win, err := rma.Allocate[float64](ctx, tr, "observed", 2, rma.WithHooks(hooks), rma.WithRegistry(reg))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, win.Fence(ctx))
	require.NoError(t, win.PutWhole(0))

	info := reg.Snapshot()[0]
	assert.Equal(t, "observed", info.Window)
	assert.Equal(t, domain.ProtocolFence, info.Protocol)
	assert.Equal(t, 1, info.Pending)
	assert.True(t, info.Managed)

	require.NoError(t, win.Fence(ctx, rma.NoSucceed()))
	assert.Equal(t, "idle", win.Info().Epoch)
	require.NoError(t, win.Release(ctx))

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Zero(t, reg.Len())
}

func TestAllocate_SizeOverflow(t *testing.T) {
	world := memory.NewWorld(1)

	_, err := rma.Allocate[float64](context.Background(), world.Transport(0), "huge", 1<<61)
	assert.ErrorIs(t, err, domain.ErrAllocation)
	assert.Zero(t, world.Arena().InUse())
	assert.Zero(t, world.Regions())
}

func TestWindow_RecreateSameName(t *testing.T) {
	const rounds = 5

	world := runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
		next := domain.Rank((int(tr.Rank()) + 1) % tr.Size())
		for round := range rounds {
			win, err := rma.Allocate[int32](ctx, tr, "again", 4)
			if err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			if err := win.Fence(ctx); err != nil {
				return err
			}
			if err := win.Put(next, 0, 1, []int32{int32(round + 1)}, 0, 1); err != nil {
				return err
			}
			if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
				return err
			}
			assert.Equal(t, int32(round+1), win.Local()[0])
			if err := win.Release(ctx); err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
		}
		return nil
	})

	assert.Zero(t, world.Regions())
	assert.Zero(t, world.Mailboxes())
	assert.Zero(t, world.Arena().InUse())
}

func TestAbort_ReleasesLocally(t *testing.T) {
	ctx := context.Background()
	world := memory.NewWorld(1)
	tr := world.Transport(0)

	win, err := rma.Allocate[int64](ctx, tr, "abandoned", 4)
	require.NoError(t, err)
	require.NoError(t, win.LockExclusive(ctx, 0))
	require.NoError(t, win.PutWhole(0))

	require.NoError(t, win.Abort(ctx))
	assert.Zero(t, world.Regions())
	assert.Zero(t, world.Arena().InUse())
	assert.Equal(t, "released", win.Info().Epoch)
	assert.NoError(t, win.Abort(ctx), "aborting twice does nothing")
	assert.ErrorIs(t, win.Release(ctx), domain.ErrUseAfterRelease)

	// The name and the lock are free again.
	again, err := rma.Allocate[int64](ctx, tr, "abandoned", 4)
	require.NoError(t, err)
	require.NoError(t, again.LockExclusive(ctx, 0))
	require.NoError(t, again.Unlock(ctx, 0))
	require.NoError(t, again.Release(ctx))
}

func TestAbort_DoneContext(t *testing.T) {
	world := memory.NewWorld(2)

	err := runRanks(world.Transports(), func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int32](ctx, tr, "cancelled", 2)
		if err != nil {
			return err
		}
		if tr.Rank() == 1 {
			// Rank 1 walks away; rank 0 is left waiting in the fence.
			return multierr.Append(errors.New("rank 1 gave up"), win.Abort(ctx))
		}
		err = win.Fence(ctx)
		return multierr.Append(err, win.Abort(ctx))
	})
	assert.ErrorContains(t, err, "rank 1 gave up")
	assert.Zero(t, world.Regions())
	assert.Zero(t, world.Arena().InUse())
}
