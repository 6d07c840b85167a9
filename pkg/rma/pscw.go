package rma

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
)

// Post opens an exposure epoch: the ranks of origins may access the local region until
// Wait returns. Post does not block on the origins.
func (w *Window[T]) Post(ctx context.Context, origins domain.Group) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.checkActive("post"); err != nil {
		return err
	}
	if w.epoch.posted != nil {
		return fmt.Errorf("%w: post while exposure epoch to %s is open", domain.ErrSynchronization, w.epoch.posted.group)
	}
	if err := checkGroup(w.transport.Size(), origins); err != nil {
		return fmt.Errorf("post: %w", err)
	}

	// Local stores made before the epoch must be visible to the origins.
	if err := w.transport.Sync(ctx, w.handle); err != nil {
		return w.fail(fmt.Errorf("post: %w", err))
	}
	for _, origin := range origins.Ranks() {
		if err := w.transport.Signal(ctx, w.handle, origin, ports.TagPost); err != nil {
			return w.fail(fmt.Errorf("post to %s: %w", origin, err))
		}
	}

	w.epoch.posted = &exposure{group: origins, waiting: origins.Ranks()}
	w.publish()
	w.logger.Debug("post", "window", w.handle.Window, "rank", w.transport.Rank(), "origins", origins.String())
	w.epochOpen(ctx, domain.ProtocolActive, "post", 0)
	return nil
}

// Start opens an access epoch to the ranks of targets. It blocks until every target
// has posted an exposure epoch that includes this rank.
func (w *Window[T]) Start(ctx context.Context, targets domain.Group) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.checkActive("start"); err != nil {
		return err
	}
	if w.epoch.started != nil {
		return fmt.Errorf("%w: start while access epoch to %s is open", domain.ErrSynchronization, w.epoch.started)
	}
	if err := checkGroup(w.transport.Size(), targets); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	began := time.Now()
	ranks := targets.Ranks()
	for i, target := range ranks {
		if err := w.transport.Await(ctx, w.handle, target, ports.TagPost); err != nil {
			return w.fail(syncWaitError("start", err, ranks[i:]...))
		}
	}

	w.epoch.started = &targets
	w.publish()
	w.logger.Debug("start", "window", w.handle.Window, "rank", w.transport.Rank(), "targets", targets.String())
	w.epochOpen(ctx, domain.ProtocolActive, "start", time.Since(began))
	return nil
}

// Complete closes the access epoch opened by Start. When it returns every transfer
// issued in the epoch has been handed to the targets.
func (w *Window[T]) Complete(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.epoch.started == nil {
		return fmt.Errorf("%w: complete without start", domain.ErrSynchronization)
	}
	targets := *w.epoch.started

	flushErr := w.flush(ctx, targets.Contains)
	w.epoch.started = nil
	w.publish()
	if flushErr != nil {
		return flushErr
	}

	for _, target := range targets.Ranks() {
		if err := w.transport.Signal(ctx, w.handle, target, ports.TagComplete); err != nil {
			return w.fail(fmt.Errorf("complete to %s: %w", target, err))
		}
	}

	w.logger.Debug("complete", "window", w.handle.Window, "rank", w.transport.Rank(), "targets", targets.String())
	w.epochClose(ctx, domain.ProtocolActive, "complete", 0)
	return nil
}

// Wait closes the exposure epoch opened by Post. It blocks until every origin has
// called Complete; the origins' transfers are then visible in the local region.
//
// If ctx ends first, the epoch is abandoned and Wait fails with
// domain.ErrSynchronization naming the origins that did not complete.
func (w *Window[T]) Wait(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	if w.epoch.posted == nil {
		return fmt.Errorf("%w: wait without post", domain.ErrSynchronization)
	}

	began := time.Now()
	exp := w.epoch.posted
	for len(exp.waiting) > 0 {
		origin := exp.waiting[0]
		if err := w.transport.Await(ctx, w.handle, origin, ports.TagComplete); err != nil {
			missing := exp.waiting
			w.epoch.posted = nil
			w.publish()
			return w.fail(syncWaitError("wait", err, missing...))
		}
		exp.waiting = exp.waiting[1:]
	}

	return w.closeExposure(ctx, "wait", time.Since(began))
}

// Test is the non-blocking form of Wait. It consumes the completions that already
// arrived and reports whether all origins completed, in which case the exposure epoch
// is closed as by Wait.
func (w *Window[T]) Test(ctx context.Context) (bool, error) {
	if err := w.usable(); err != nil {
		return false, err
	}
	if w.epoch.posted == nil {
		return false, fmt.Errorf("%w: test without post", domain.ErrSynchronization)
	}

	// A done context makes Await consume only tokens that are already there.
	poll, cancel := context.WithCancel(ctx)
	cancel()

	exp := w.epoch.posted
	var still []domain.Rank
	for _, origin := range exp.waiting {
		err := w.transport.Await(poll, w.handle, origin, ports.TagComplete)
		switch {
		case err == nil:
		case isContextErr(err):
			still = append(still, origin)
		default:
			return false, w.fail(fmt.Errorf("test: %w", err))
		}
	}
	exp.waiting = still
	if len(still) > 0 {
		return false, nil
	}
	return true, w.closeExposure(ctx, "test", 0)
}

func (w *Window[T]) closeExposure(ctx context.Context, call string, blocked time.Duration) error {
	origins := w.epoch.posted.group
	w.epoch.posted = nil
	w.publish()

	if err := w.transport.Sync(ctx, w.handle); err != nil {
		return w.fail(fmt.Errorf("%s: %w", call, err))
	}

	w.logger.Debug(call, "window", w.handle.Window, "rank", w.transport.Rank(), "origins", origins.String())
	w.epochClose(ctx, domain.ProtocolActive, call, blocked)
	return nil
}

// checkActive rejects active-target calls while another protocol is in use.
func (w *Window[T]) checkActive(call string) error {
	if w.epoch.fence {
		return fmt.Errorf("%w: %s inside a fence phase (close it with Fence(ctx, NoSucceed()))", domain.ErrSynchronization, call)
	}
	if w.epoch.locked() {
		return fmt.Errorf("%w: %s while passive-target locks are held", domain.ErrSynchronization, call)
	}
	return nil
}
