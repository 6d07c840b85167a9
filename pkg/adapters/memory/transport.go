package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
)

// Transport implements ports.Transport for one rank of a World.
type Transport struct {
	world  *World
	rank   domain.Rank
	closed atomic.Bool
}

var _ ports.Transport = (*Transport)(nil)

// Rank returns the local rank.
func (t *Transport) Rank() domain.Rank {
	return t.rank
}

// Size returns the world size.
func (t *Transport) Size() int {
	return t.world.size
}

func (t *Transport) alive() error {
	if t.closed.Load() {
		return fmt.Errorf("%w: transport of %s is closed", domain.ErrTransportLost, t.rank)
	}
	t.world.mu.Lock()
	lost := t.world.lost[t.rank]
	t.world.mu.Unlock()
	if lost {
		return fmt.Errorf("%w: %s disconnected", domain.ErrTransportLost, t.rank)
	}
	return nil
}

// Alloc returns zeroed memory from the world's arena.
func (t *Transport) Alloc(ctx context.Context, nbytes int) ([]byte, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	return t.world.arena.Alloc(nbytes)
}

// Free returns memory to the world's arena. It works on a lost transport too,
// so that windows can always be released.
func (t *Transport) Free(buf []byte) error {
	return t.world.arena.Free(buf)
}

// Register exposes base in place.
func (t *Transport) Register(ctx context.Context, window string, base []byte) (ports.Handle, error) {
	if err := t.alive(); err != nil {
		return ports.Handle{}, err
	}
	if window == "" {
		return ports.Handle{}, fmt.Errorf("%w: empty window name", domain.ErrRegistration)
	}

	k := regionKey{window: window, rank: t.rank}

	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	t.world.generations[k]++
	if _, exists := t.world.regions[k]; exists {
		return ports.Handle{}, fmt.Errorf("%w: window %q already registered on %s", domain.ErrRegistration, window, t.rank)
	}
	t.world.regions[k] = base
	return ports.Handle{Window: window, Bytes: len(base), Generation: t.world.generations[k]}, nil
}

// Deregister withdraws the region and drops the lock and the mailboxes of its
// generation addressed to this rank. It works on a lost transport too.
func (t *Transport) Deregister(ctx context.Context, h ports.Handle) error {
	k := regionKey{window: h.Window, rank: t.rank}

	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	if _, exists := t.world.regions[k]; !exists {
		return fmt.Errorf("%w: window %q not registered on %s", domain.ErrRegistration, h.Window, t.rank)
	}
	delete(t.world.regions, k)
	delete(t.world.locks, lockKey{window: h.Window, generation: h.Generation, rank: t.rank})
	for mk := range t.world.mailboxes {
		if mk.window == h.Window && mk.generation == h.Generation && mk.to == t.rank {
			delete(t.world.mailboxes, mk)
		}
	}
	return nil
}

// region resolves target's region and validates [offset, offset+n). Caller holds world.mu.
func (t *Transport) region(h ports.Handle, target domain.Rank, offset, n int) ([]byte, error) {
	if target < 0 || int(target) >= t.world.size {
		return nil, fmt.Errorf("%w: %s outside world of size %d", domain.ErrOutOfRange, target, t.world.size)
	}
	region, ok := t.world.regions[regionKey{window: h.Window, rank: target}]
	if !ok {
		return nil, fmt.Errorf("%w: window %q not registered on %s", domain.ErrSynchronization, h.Window, target)
	}
	if offset < 0 || n < 0 || offset+n > len(region) {
		return nil, fmt.Errorf("%w: bytes [%d,%d) of %d on %s", domain.ErrOutOfRange, offset, offset+n, len(region), target)
	}
	return region[offset : offset+n], nil
}

// Read copies from target's region.
func (t *Transport) Read(ctx context.Context, h ports.Handle, target domain.Rank, offset int, dst []byte) error {
	if err := t.alive(); err != nil {
		return err
	}
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	src, err := t.region(h, target, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Write copies into target's region.
func (t *Transport) Write(ctx context.Context, h ports.Handle, target domain.Rank, offset int, src []byte) error {
	if err := t.alive(); err != nil {
		return err
	}
	t.world.mu.Lock()
	defer t.world.mu.Unlock()
	dst, err := t.region(h, target, offset, len(src))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Sync is a no-op: regions are exposed in place.
func (t *Transport) Sync(ctx context.Context, h ports.Handle) error {
	return t.alive()
}

// Signal deposits a token for rank to.
func (t *Transport) Signal(ctx context.Context, h ports.Handle, to domain.Rank, tag ports.Tag) error {
	if err := t.alive(); err != nil {
		return err
	}
	if to < 0 || int(to) >= t.world.size {
		return fmt.Errorf("%w: %s outside world of size %d", domain.ErrOutOfRange, to, t.world.size)
	}
	t.world.mailbox(mailKey{window: h.Window, generation: h.Generation, from: t.rank, to: to, tag: tag}).signal()
	return nil
}

// Await consumes a token sent by rank from.
func (t *Transport) Await(ctx context.Context, h ports.Handle, from domain.Rank, tag ports.Tag) error {
	if err := t.alive(); err != nil {
		return err
	}
	if from < 0 || int(from) >= t.world.size {
		return fmt.Errorf("%w: %s outside world of size %d", domain.ErrOutOfRange, from, t.world.size)
	}
	return t.world.mailbox(mailKey{window: h.Window, generation: h.Generation, from: from, to: t.rank, tag: tag}).await(ctx)
}

// Lock acquires the exclusive lock on target's region.
func (t *Transport) Lock(ctx context.Context, h ports.Handle, target domain.Rank) (ports.UnlockFunc, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	if target < 0 || int(target) >= t.world.size {
		return nil, fmt.Errorf("%w: %s outside world of size %d", domain.ErrOutOfRange, target, t.world.size)
	}

	l := t.world.lock(lockKey{window: h.Window, generation: h.Generation, rank: target})
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once atomic.Bool
	return func(ctx context.Context) error {
		if !once.CompareAndSwap(false, true) {
			return fmt.Errorf("%w: lock on %s already released", domain.ErrSynchronization, target)
		}
		<-l
		return nil
	}, nil
}

// Close marks the transport closed. Regions stay registered until deregistered.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}
