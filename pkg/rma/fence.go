package rma

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
)

// Fence is a collective epoch boundary: every rank sharing the window must call it.
// When Fence returns, all transfers issued by any rank since the previous fence are
// complete and visible everywhere, and a new epoch is open unless NoSucceed is given.
//
// Fence fails with domain.ErrSynchronization while an active-target or passive-target
// epoch is open, or when ctx ends before every rank arrived.
func (w *Window[T]) Fence(ctx context.Context, opts ...FenceOption) error {
	if err := w.usable(); err != nil {
		return err
	}
	var cfg fenceConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if w.epoch.active() || w.epoch.locked() {
		return fmt.Errorf("%w: fence while %s epoch is open", domain.ErrSynchronization, w.epoch)
	}
	if cfg.noPrecede && len(w.pending) > 0 {
		return fmt.Errorf("%w: fence asserted no preceding epoch with %d pending transfers", domain.ErrSynchronization, len(w.pending))
	}

	wasOpen := w.epoch.fence
	if err := w.flush(ctx, all); err != nil {
		return err
	}
	if err := w.transport.Sync(ctx, w.handle); err != nil {
		return w.fail(fmt.Errorf("fence: %w", err))
	}

	began := time.Now()
	if err := w.barrier(ctx); err != nil {
		return w.fail(fmt.Errorf("fence: %w", err))
	}
	blocked := time.Since(began)

	if err := w.transport.Sync(ctx, w.handle); err != nil {
		return w.fail(fmt.Errorf("fence: %w", err))
	}

	w.epoch.fence = !cfg.noSucceed
	w.publish()
	w.logger.Debug("fence", "window", w.handle.Window, "rank", w.transport.Rank(), "epoch_open", w.epoch.fence)

	// A fence that closes and opens an epoch reports its wait once, on the open.
	if wasOpen {
		closeBlocked := blocked
		if w.epoch.fence {
			closeBlocked = 0
		}
		w.epochClose(ctx, domain.ProtocolFence, "fence", closeBlocked)
	}
	if w.epoch.fence {
		w.epochOpen(ctx, domain.ProtocolFence, "fence", blocked)
	}
	return nil
}

func (w *Window[T]) epochOpen(ctx context.Context, p domain.Protocol, call string, blocked time.Duration) {
	if w.hooks.OnEpochOpen != nil {
		w.hooks.OnEpochOpen(ctx, w.epochEvent(domain.EventEpochOpen, p, call, blocked))
	}
}

func (w *Window[T]) epochClose(ctx context.Context, p domain.Protocol, call string, blocked time.Duration) {
	if w.hooks.OnEpochClose != nil {
		w.hooks.OnEpochClose(ctx, w.epochEvent(domain.EventEpochClose, p, call, blocked))
	}
}

func (w *Window[T]) epochEvent(t domain.EventType, p domain.Protocol, call string, blocked time.Duration) *domain.EpochEvent {
	return &domain.EpochEvent{
		EventBase: w.eventBase(t),
		Protocol:  p,
		Call:      call,
		Blocked:   blocked,
	}
}
