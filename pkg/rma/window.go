package rma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"go.uber.org/multierr"
)

// Window is a registered, remotely addressable buffer of T.
//
// A Window belongs to the goroutine that drives its rank and is not safe for
// concurrent use, except Info which may be called from any goroutine.
type Window[T domain.Element] struct {
	transport ports.Transport
	handle    ports.Handle
	desc      domain.Descriptor
	length    int
	local     []T
	own       ownership

	logger *slog.Logger
	hooks  domain.LifecycleHooks
	opts   options

	epoch    epochState
	pending  []transfer
	released bool
	broken   error

	info atomic.Pointer[domain.WindowInfo]
}

// Attach registers buf under name on every rank of the scope. The window borrows buf:
// the caller keeps ownership, must not reallocate it while the window is alive, and may
// only access it outside open epochs.
//
// Attach is collective: it returns once every rank has registered its region.
func Attach[T domain.Element](ctx context.Context, tr ports.Transport, name string, buf []T, opts ...Option) (*Window[T], error) {
	w := newWindow[T](tr, len(buf), attached{}, opts)
	w.local = buf

	h, err := tr.Register(ctx, name, domain.Bytes(buf))
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", name, err)
	}
	w.handle = h

	if err := w.barrier(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("attach %q: %w", name, err), tr.Deregister(ctx, h))
	}

	w.created(ctx)
	return w, nil
}

// Allocate obtains length elements of runtime memory, zeroed, and registers them under
// name on every rank of the scope. The window owns the memory and returns it to the
// runtime on Release.
//
// Allocate is collective: it returns once every rank has registered its region.
func Allocate[T domain.Element](ctx context.Context, tr ports.Transport, name string, length int, opts ...Option) (*Window[T], error) {
	if length < 0 {
		return nil, fmt.Errorf("allocate %q: %w: negative length %d", name, domain.ErrAllocation, length)
	}
	desc := domain.DescriptorFor[T]()
	if desc.Size > 0 && length > math.MaxInt/desc.Size {
		return nil, fmt.Errorf("allocate %q: %w: %d elements of %d bytes overflow the address space", name, domain.ErrAllocation, length, desc.Size)
	}

	mem, err := tr.Alloc(ctx, length*desc.Size)
	if err != nil {
		return nil, fmt.Errorf("allocate %q: %w", name, err)
	}
	own := &managedBuffer{mem: mem}
	w := newWindow[T](tr, length, own, opts)
	w.local = domain.Elements[T](mem)[:length]

	h, err := tr.Register(ctx, name, mem)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("allocate %q: %w", name, err), own.release(tr))
	}
	w.handle = h

	if err := w.barrier(ctx); err != nil {
		err = fmt.Errorf("allocate %q: %w", name, err)
		return nil, multierr.Combine(err, tr.Deregister(ctx, h), own.release(tr))
	}

	w.created(ctx)
	return w, nil
}

func newWindow[T domain.Element](tr ports.Transport, length int, own ownership, opts []Option) *Window[T] {
	o := buildOptions(opts)
	return &Window[T]{
		transport: tr,
		desc:      domain.DescriptorFor[T](),
		length:    length,
		own:       own,
		logger:    o.logger,
		hooks:     o.hooks,
		opts:      o,
	}
}

func (w *Window[T]) created(ctx context.Context) {
	w.publish()
	if w.opts.registry != nil {
		w.opts.registry.Register(w.key(), w)
	}
	w.logger.Debug("window created",
		"window", w.handle.Window,
		"rank", w.transport.Rank(),
		"length", w.length,
		"layout", w.desc.Layout,
		"managed", w.own.managed(),
	)
	if w.hooks.OnWindowCreate != nil {
		w.hooks.OnWindowCreate(ctx, w.windowEvent(domain.EventWindowCreate))
	}
}

// Release ends the window on every rank of the scope, deregisters the local region and,
// for allocated windows, returns the memory to the runtime. The caller's buffer of an
// attached window is never touched.
//
// Release fails with domain.ErrSynchronization while an epoch other than a fence epoch
// is open or transfers are pending; the window stays usable in that case. A window whose
// transport was lost is always released.
func (w *Window[T]) Release(ctx context.Context) error {
	if w.released {
		return fmt.Errorf("%w: window %q released twice", domain.ErrUseAfterRelease, w.handle.Window)
	}

	if w.broken == nil {
		if open := w.epoch.openNonFence(); open != "" {
			return fmt.Errorf("%w: release with open %s epoch", domain.ErrSynchronization, open)
		}
		if len(w.pending) > 0 {
			return fmt.Errorf("%w: release with %d pending transfers", domain.ErrSynchronization, len(w.pending))
		}
		if err := w.barrier(ctx); err != nil {
			if !errors.Is(err, domain.ErrTransportLost) {
				return fmt.Errorf("release %q: %w", w.handle.Window, err)
			}
			w.logger.Warn("transport lost during release barrier, releasing locally",
				"window", w.handle.Window,
				"err", err,
			)
		}
	}

	return w.teardown(ctx)
}

// Abort releases the window on this rank only, without waiting for the other ranks.
// Held locks are dropped, pending transfers are discarded and the open epoch is
// abandoned. It is meant for a rank whose peers have given up on the window, after
// an error or a cancellation; the transport is cleaned up even when ctx is done.
// Aborting a released window does nothing.
func (w *Window[T]) Abort(ctx context.Context) error {
	if w.released {
		return nil
	}
	cleanup := context.WithoutCancel(ctx)

	var err error
	if w.broken == nil {
		for _, target := range slices.Sorted(maps.Keys(w.epoch.locks)) {
			if uerr := w.epoch.locks[target](cleanup); uerr != nil {
				err = multierr.Append(err, fmt.Errorf("unlock %s: %w", target, uerr))
			}
		}
	}
	w.logger.Debug("window aborted",
		"window", w.handle.Window,
		"rank", w.transport.Rank(),
		"epoch", w.epoch.String(),
		"dropped", len(w.pending),
	)
	return multierr.Append(err, w.teardown(cleanup))
}

// teardown deregisters the local region and returns owned memory to the runtime.
func (w *Window[T]) teardown(ctx context.Context) error {
	w.released = true
	w.local = nil
	w.pending = nil
	w.epoch = epochState{}

	var err error
	if derr := w.transport.Deregister(ctx, w.handle); derr != nil {
		err = multierr.Append(err, fmt.Errorf("deregister %q: %w", w.handle.Window, derr))
	}
	if ferr := w.own.release(w.transport); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("free %q: %w", w.handle.Window, ferr))
	}

	if w.opts.registry != nil {
		w.opts.registry.Unregister(w.key())
	}
	w.publish()
	w.logger.Debug("window released", "window", w.handle.Window, "rank", w.transport.Rank())
	if w.hooks.OnWindowRelease != nil {
		w.hooks.OnWindowRelease(ctx, w.windowEvent(domain.EventWindowRelease))
	}
	return err
}

// Local returns the exposed buffer. For an attached window it is the caller's slice.
// It is only safe to access outside open epochs, and returns nil after Release.
func (w *Window[T]) Local() []T {
	return w.local
}

// Len returns the number of exposed elements.
func (w *Window[T]) Len() int {
	return w.length
}

// Descriptor returns the element descriptor.
func (w *Window[T]) Descriptor() domain.Descriptor {
	return w.desc
}

// Name returns the scope-wide window name.
func (w *Window[T]) Name() string {
	return w.handle.Window
}

// Rank returns the local rank.
func (w *Window[T]) Rank() domain.Rank {
	return w.transport.Rank()
}

// Size returns the number of ranks sharing the window.
func (w *Window[T]) Size() int {
	return w.transport.Size()
}

// Owned reports whether the window owns its memory (Allocate) or borrows it (Attach).
func (w *Window[T]) Owned() bool {
	return w.own.managed()
}

// Sync makes local stores visible to other ranks and remote stores visible locally.
// It is required after a passive-target epoch on runtimes that keep a separate
// public copy of each region, and harmless elsewhere.
func (w *Window[T]) Sync(ctx context.Context) error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.transport.Sync(ctx, w.handle); err != nil {
		return w.fail(fmt.Errorf("sync %q: %w", w.handle.Window, err))
	}
	return nil
}

// Info returns a snapshot of the window state. Safe for concurrent use.
func (w *Window[T]) Info() domain.WindowInfo {
	if info := w.info.Load(); info != nil {
		return *info
	}
	return domain.WindowInfo{}
}

func (w *Window[T]) publish() {
	info := domain.WindowInfo{
		Window:     w.handle.Window,
		Rank:       w.transport.Rank(),
		Length:     w.length,
		Descriptor: w.desc,
		Managed:    w.own.managed(),
		Protocol:   w.epoch.protocol(),
		Epoch:      w.epoch.String(),
		Pending:    len(w.pending),
		Broken:     w.broken != nil,
	}
	if w.released {
		info.Epoch = "released"
	}
	w.info.Store(&info)
}

func (w *Window[T]) key() string {
	return fmt.Sprintf("%s/%d", w.handle.Window, w.transport.Rank())
}

// usable rejects operations on released or broken windows.
func (w *Window[T]) usable() error {
	if w.released {
		return fmt.Errorf("%w: window %q", domain.ErrUseAfterRelease, w.handle.Window)
	}
	if w.broken != nil {
		return fmt.Errorf("%w: window %q is broken: %w", domain.ErrUseAfterRelease, w.handle.Window, w.broken)
	}
	return nil
}

// fail marks the window broken when err reports a lost transport, and returns err.
func (w *Window[T]) fail(err error) error {
	if err != nil && errors.Is(err, domain.ErrTransportLost) && w.broken == nil {
		w.broken = err
		w.logger.Warn("transport lost, window must be released",
			"window", w.handle.Window,
			"rank", w.transport.Rank(),
			"err", err,
		)
		w.publish()
	}
	return err
}

func (w *Window[T]) windowEvent(t domain.EventType) *domain.WindowEvent {
	return &domain.WindowEvent{
		EventBase:  w.eventBase(t),
		Length:     w.length,
		Descriptor: w.desc,
		Managed:    w.own.managed(),
	}
}

func (w *Window[T]) eventBase(t domain.EventType) domain.EventBase {
	return domain.EventBase{
		Timestamp: time.Now(),
		Type:      t,
		Window:    w.handle.Window,
		Rank:      w.transport.Rank(),
	}
}
