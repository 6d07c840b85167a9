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

func TestPSCW_RoundTrip(t *testing.T) {
	runWorld(t, 3, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int32](ctx, tr, "pscw", 3)
		if err != nil {
			return err
		}

		if tr.Rank() == 0 {
			win.Local()[0] = 42
			if err := win.Post(ctx, domain.NewGroup(1, 2)); err != nil {
				return err
			}
			if err := win.Wait(ctx); err != nil {
				return err
			}
			assert.Equal(t, []int32{42, 10, 20}, win.Local())
			return win.Release(ctx)
		}

		if err := win.Start(ctx, domain.NewGroup(0)); err != nil {
			return err
		}
		me := int(tr.Rank())
		if err := win.Put(0, me, 1, []int32{int32(me) * 10}, 0, 1); err != nil {
			return err
		}
		seen := make([]int32, 1)
		if err := win.Get(0, 0, 1, seen, 0, 1); err != nil {
			return err
		}
		if err := win.Complete(ctx); err != nil {
			return err
		}
		assert.Equal(t, []int32{42}, seen, "stores made before Post are visible to the origins")
		return win.Release(ctx)
	})
}

func TestPSCW_RepeatedEpochs(t *testing.T) {
	const rounds = 5
	runWorld(t, 2, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[uint64](ctx, tr, "rounds", 1)
		if err != nil {
			return err
		}
		for i := range rounds {
			if tr.Rank() == 1 {
				if err := win.Post(ctx, domain.NewGroup(0)); err != nil {
					return err
				}
				if err := win.Wait(ctx); err != nil {
					return err
				}
				assert.Equal(t, uint64(i+1), win.Local()[0])
				continue
			}
			if err := win.Start(ctx, domain.NewGroup(1)); err != nil {
				return err
			}
			if err := win.Put(1, 0, 1, []uint64{uint64(i + 1)}, 0, 1); err != nil {
				return err
			}
			if err := win.Complete(ctx); err != nil {
				return err
			}
		}
		return win.Release(ctx)
	})
}

func TestPSCW_StartWithoutCompleteIsDetected(t *testing.T) {
	waited := make(chan struct{})

	runWorld(t, 2, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Attach(ctx, tr, "unmatched", make([]float64, 2))
		if err != nil {
			return err
		}

		if tr.Rank() == 0 {
			if err := win.Post(ctx, domain.NewGroup(1)); err != nil {
				return err
			}
			bounded, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			err := win.Wait(bounded)
			cancel()
			assert.ErrorIs(t, err, domain.ErrSynchronization)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, "idle", win.Info().Epoch, "a failed wait abandons the exposure epoch")
			close(waited)
			return win.Release(ctx)
		}

		if err := win.Start(ctx, domain.NewGroup(0)); err != nil {
			return err
		}
		select {
		case <-waited:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := win.Complete(ctx); err != nil {
			return err
		}
		return win.Release(ctx)
	})
}

func TestPSCW_TestPolls(t *testing.T) {
	started := make(chan struct{})
	polled := make(chan struct{})

	runWorld(t, 2, func(ctx context.Context, tr ports.Transport) error {
		win, err := rma.Allocate[int8](ctx, tr, "poll", 2)
		if err != nil {
			return err
		}

		if tr.Rank() == 0 {
			if err := win.Post(ctx, domain.NewGroup(1)); err != nil {
				return err
			}
			select {
			case <-started:
			case <-ctx.Done():
				return ctx.Err()
			}
			done, err := win.Test(ctx)
			if err != nil {
				return err
			}
			assert.False(t, done, "origin has not completed yet")
			close(polled)

			assert.Eventually(t, func() bool {
				done, err = win.Test(ctx)
				return err != nil || done
			}, 5*time.Second, 10*time.Millisecond)
			if err != nil {
				return err
			}
			assert.Equal(t, []int8{5, 6}, win.Local())
			return win.Release(ctx)
		}

		if err := win.Start(ctx, domain.NewGroup(0)); err != nil {
			return err
		}
		close(started)
		select {
		case <-polled:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := win.Put(0, 0, 2, []int8{5, 6}, 0, 2); err != nil {
			return err
		}
		if err := win.Complete(ctx); err != nil {
			return err
		}
		return win.Release(ctx)
	})
}

func TestPSCW_Misuse(t *testing.T) {
	ctx := context.Background()
	tr := memory.NewWorld(2).Transport(0)

	win, err := rma.Attach(ctx, tr, "misuse", make([]int32, 2))
	require.NoError(t, err)

	assert.ErrorIs(t, win.Complete(ctx), domain.ErrSynchronization)
	assert.ErrorIs(t, win.Wait(ctx), domain.ErrSynchronization)
	_, err = win.Test(ctx)
	assert.ErrorIs(t, err, domain.ErrSynchronization)
	assert.ErrorIs(t, win.Post(ctx, domain.NewGroup(5)), domain.ErrOutOfRange)

	require.NoError(t, win.Post(ctx, domain.NewGroup(0)))
	assert.ErrorIs(t, win.Post(ctx, domain.NewGroup(0)), domain.ErrSynchronization)
	assert.ErrorIs(t, win.Fence(ctx), domain.ErrSynchronization, "fence while an exposure epoch is open")
	assert.ErrorIs(t, win.Release(ctx), domain.ErrSynchronization)

	// A rank may be both origin and target of itself.
	require.NoError(t, win.Start(ctx, domain.NewGroup(0)))
	assert.ErrorIs(t, win.Start(ctx, domain.NewGroup(0)), domain.ErrSynchronization)
	assert.ErrorIs(t, win.PutWhole(1), domain.ErrSynchronization, "rank 1 is outside the access group")
	require.NoError(t, win.PutWhole(0))
	require.NoError(t, win.Complete(ctx))
	require.NoError(t, win.Wait(ctx))
}
