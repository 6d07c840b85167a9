package rma

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
)

// epochState tracks which protocol currently bounds the window's epochs.
//
//	fence:   Idle -(Fence)-> InEpoch -(Fence)-> InEpoch ... -(Fence NoSucceed)-> Idle
//	target:  Idle -(Post)-> Posted -(Wait)-> Idle
//	origin:  Idle -(Start)-> Started -(Complete)-> Idle
//	passive: per rank, Unlocked -(LockExclusive)-> Locked -(Unlock)-> Unlocked
type epochState struct {
	fence   bool
	posted  *exposure
	started *domain.Group
	locks   map[domain.Rank]ports.UnlockFunc
}

// exposure is an open Post: the origins whose Complete has not been observed yet.
type exposure struct {
	group   domain.Group
	waiting []domain.Rank
}

func (e epochState) active() bool {
	return e.posted != nil || e.started != nil
}

func (e epochState) locked() bool {
	return len(e.locks) > 0
}

// openNonFence names the open epoch that prevents release, or "".
func (e epochState) openNonFence() string {
	switch {
	case e.posted != nil:
		return "exposure"
	case e.started != nil:
		return "access"
	case e.locked():
		return "lock"
	}
	return ""
}

func (e epochState) protocol() domain.Protocol {
	switch {
	case e.fence:
		return domain.ProtocolFence
	case e.active():
		return domain.ProtocolActive
	case e.locked():
		return domain.ProtocolPassive
	}
	return domain.ProtocolNone
}

// canAccess reports whether a transfer to target is legal in the current epoch.
func (e epochState) canAccess(target domain.Rank) bool {
	if e.fence {
		return true
	}
	if e.started != nil && e.started.Contains(target) {
		return true
	}
	_, ok := e.locks[target]
	return ok
}

func (e epochState) String() string {
	var parts []string
	if e.fence {
		parts = append(parts, "fence")
	}
	if e.posted != nil {
		parts = append(parts, "posted"+e.posted.group.String())
	}
	if e.started != nil {
		parts = append(parts, "started"+e.started.String())
	}
	if e.locked() {
		ranks := slices.Sorted(maps.Keys(e.locks))
		parts = append(parts, "locked"+domain.NewGroup(ranks...).String())
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, ",")
}

// barrier blocks until every rank of the scope entered it.
// Tokens are counted per (sender, receiver), so consecutive barriers cannot mix.
func (w *Window[T]) barrier(ctx context.Context) error {
	self := w.transport.Rank()
	size := w.transport.Size()

	for r := 0; r < size; r++ {
		if peer := domain.Rank(r); peer != self {
			if err := w.transport.Signal(ctx, w.handle, peer, ports.TagBarrier); err != nil {
				return fmt.Errorf("barrier signal to %s: %w", peer, err)
			}
		}
	}
	for r := 0; r < size; r++ {
		if peer := domain.Rank(r); peer != self {
			if err := w.transport.Await(ctx, w.handle, peer, ports.TagBarrier); err != nil {
				return syncWaitError("barrier", err, peer)
			}
		}
	}
	return nil
}

// syncWaitError classifies an error raised while waiting on peers. Context expiry means
// the peers did not hold up their side of the protocol.
func syncWaitError(call string, err error, missing ...domain.Rank) error {
	if isContextErr(err) {
		return fmt.Errorf("%w: %s: waiting on %s: %w", domain.ErrSynchronization, call, domain.NewGroup(missing...), err)
	}
	return fmt.Errorf("%s: %w", call, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func checkRank(size int, r domain.Rank) error {
	if r < 0 || int(r) >= size {
		return fmt.Errorf("%w: %s outside scope of size %d", domain.ErrOutOfRange, r, size)
	}
	return nil
}

func checkGroup(size int, g domain.Group) error {
	for _, r := range g.Ranks() {
		if err := checkRank(size, r); err != nil {
			return err
		}
	}
	return nil
}
