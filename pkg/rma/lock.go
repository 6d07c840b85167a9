package rma

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"go.uber.org/multierr"
)

// LockExclusive opens a passive-target epoch to target: it blocks until this rank holds
// the exclusive right to access target's region. Locks on different ranks are
// independent. Locking a rank twice without Unlock fails with domain.ErrSynchronization.
func (w *Window[T]) LockExclusive(ctx context.Context, target domain.Rank) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := checkRank(w.transport.Size(), target); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if w.epoch.fence {
		return fmt.Errorf("%w: lock inside a fence phase (close it with Fence(ctx, NoSucceed()))", domain.ErrSynchronization)
	}
	if w.epoch.active() {
		return fmt.Errorf("%w: lock while %s epoch is open", domain.ErrSynchronization, w.epoch)
	}
	if _, held := w.epoch.locks[target]; held {
		return fmt.Errorf("%w: %s already locked by this rank", domain.ErrSynchronization, target)
	}

	began := time.Now()
	unlock, err := w.transport.Lock(ctx, w.handle, target)
	if err != nil {
		return w.fail(fmt.Errorf("lock %s: %w", target, err))
	}

	if w.epoch.locks == nil {
		w.epoch.locks = make(map[domain.Rank]ports.UnlockFunc)
	}
	w.epoch.locks[target] = unlock
	w.publish()
	w.logger.Debug("lock", "window", w.handle.Window, "rank", w.transport.Rank(), "target", target)
	w.epochOpen(ctx, domain.ProtocolPassive, "lock", time.Since(began))
	return nil
}

// Unlock closes the passive-target epoch to target. When it returns, every transfer
// issued to target under the lock is complete and visible in target's region.
// Unlocking a rank that is not locked fails with domain.ErrSynchronization.
func (w *Window[T]) Unlock(ctx context.Context, target domain.Rank) error {
	if err := w.usable(); err != nil {
		return err
	}
	unlock, held := w.epoch.locks[target]
	if !held {
		return fmt.Errorf("%w: unlock of %s without lock", domain.ErrSynchronization, target)
	}

	err := w.flush(ctx, func(r domain.Rank) bool { return r == target })
	if uerr := unlock(ctx); uerr != nil {
		err = multierr.Append(err, w.fail(fmt.Errorf("unlock %s: %w", target, uerr)))
	}

	delete(w.epoch.locks, target)
	w.publish()
	w.logger.Debug("unlock", "window", w.handle.Window, "rank", w.transport.Rank(), "target", target)
	w.epochClose(ctx, domain.ProtocolPassive, "unlock", 0)
	return err
}

// LockAll locks every rank of the scope in ascending order. On failure the locks
// acquired so far are released.
func (w *Window[T]) LockAll(ctx context.Context) error {
	for r := 0; r < w.transport.Size(); r++ {
		if err := w.LockExclusive(ctx, domain.Rank(r)); err != nil {
			for held := r - 1; held >= 0; held-- {
				err = multierr.Append(err, w.Unlock(ctx, domain.Rank(held)))
			}
			return err
		}
	}
	return nil
}

// UnlockAll releases every lock held by this rank on the window.
func (w *Window[T]) UnlockAll(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	var err error
	for _, r := range slices.Sorted(maps.Keys(w.epoch.locks)) {
		err = multierr.Append(err, w.Unlock(ctx, r))
	}
	return err
}
