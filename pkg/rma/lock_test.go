package rma_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/onesided/pkg/adapters/memory"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"github.com/aretw0/onesided/pkg/rma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_IndependentTargets(t *testing.T) {
	holding := make(chan struct{})
	finished := make(chan struct{})

	runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int32](ctx, tr, "independent", 1)
		if err != nil {
			return err
		}

		switch tr.Rank() {
		case 0:
			// Hold the lock on rank 1 until rank 2 finished its own epoch on rank 0.
			if err := win.LockExclusive(ctx, 1); err != nil {
				return err
			}
			close(holding)
			select {
			case <-finished:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := win.Unlock(ctx, 1); err != nil {
				return err
			}
		case 2:
			select {
			case <-holding:
			case <-ctx.Done():
				return ctx.Err()
			}
			bounded, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := win.LockExclusive(bounded, 0); err != nil {
				return err
			}
			if err := win.PutWhole(0); err != nil {
				return err
			}
			if err := win.Unlock(bounded, 0); err != nil {
				return err
			}
			close(finished)
		}
		return win.Release(ctx)
	})
}

func TestLock_SameTargetIsExclusive(t *testing.T) {
	holding := make(chan struct{})
	contended := make(chan struct{})

	runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int32](ctx, tr, "exclusive", 1)
		if err != nil {
			return err
		}

		switch tr.Rank() {
		case 0:
			if err := win.LockExclusive(ctx, 2); err != nil {
				return err
			}
			close(holding)
			select {
			case <-contended:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := win.Unlock(ctx, 2); err != nil {
				return err
			}
		case 1:
			select {
			case <-holding:
			case <-ctx.Done():
				return ctx.Err()
			}
			short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			err := win.LockExclusive(short, 2)
			cancel()
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, "idle", win.Info().Epoch, "a failed lock leaves no epoch behind")
			close(contended)

			// The lock is granted once rank 0 lets go.
			if err := win.LockExclusive(ctx, 2); err != nil {
				return err
			}
			if err := win.Unlock(ctx, 2); err != nil {
				return err
			}
		}
		return win.Release(ctx)
	})
}

func TestLock_PutVisibleAfterUnlock(t *testing.T) {
	unlocked := make(chan struct{})

	runWorld(t, 2, func(ctx context.Context, tr ports.Transport) error {
		buf := make([]float64, 4)
		win, err := rma.Attach(ctx, tr, "passive", buf)
		if err != nil {
			return err
		}

		if tr.Rank() == 0 {
			if err := win.LockExclusive(ctx, 1); err != nil {
				return err
			}
			if err := win.Put(1, 2, 2, []float64{1.5, 2.5}, 0, 2); err != nil {
				return err
			}
			assert.Equal(t, 1, win.Pending())
			if err := win.Unlock(ctx, 1); err != nil {
				return err
			}
			assert.Zero(t, win.Pending())
			close(unlocked)
		} else {
			select {
			case <-unlocked:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := win.Sync(ctx); err != nil {
				return err
			}
			assert.Equal(t, []float64{0, 0, 1.5, 2.5}, buf)
		}
		return win.Release(ctx)
	})
}

func TestLock_AllAndUnlockAll(t *testing.T) {
	runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int64](ctx, tr, "all", 3)
		if err != nil {
			return err
		}
		if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
			return err
		}

		// Ranks take turns so that every LockAll succeeds without waiting on the others.
		for turn := 0; turn < tr.Size(); turn++ {
			if int(tr.Rank()) == turn {
				if err := win.LockAll(ctx); err != nil {
					return err
				}
				for r := 0; r < tr.Size(); r++ {
					src := []int64{int64(turn + 1)}
					if err := win.Put(domain.Rank(r), turn, 1, src, 0, 1); err != nil {
						return err
					}
				}
				if err := win.UnlockAll(ctx); err != nil {
					return err
				}
			}
			if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
				return err
			}
		}

		assert.Equal(t, []int64{1, 2, 3}, win.Local())
		return win.Release(ctx)
	})
}

func TestLock_Misuse(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(2).Transport(0)

	win, err := rma.Attach(ctx, tr, "misuse", make([]uint8, 4))
	require.NoError(t, err)

	assert.ErrorIs(t, win.Unlock(ctx, 1), domain.ErrSynchronization, "unlock without lock")
	assert.ErrorIs(t, win.LockExclusive(ctx, 2), domain.ErrOutOfRange)
	assert.ErrorIs(t, win.PutWhole(1), domain.ErrSynchronization, "no epoch to rank 1")

	require.NoError(t, win.LockExclusive(ctx, 1))
	assert.ErrorIs(t, win.LockExclusive(ctx, 1), domain.ErrSynchronization, "double lock")
	assert.ErrorIs(t, win.Post(ctx, domain.NewGroup(1)), domain.ErrSynchronization)
	assert.ErrorIs(t, win.PutWhole(0), domain.ErrSynchronization, "rank 0 is not locked")

	require.NoError(t, win.Unlock(ctx, 1))
	assert.ErrorIs(t, win.Unlock(ctx, 1), domain.ErrSynchronization)
	assert.Equal(t, "idle", win.Info().Epoch)
}
