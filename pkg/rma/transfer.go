package rma

import (
	"context"
	"fmt"

	"github.com/aretw0/onesided/pkg/domain"
)

type opKind string

const (
	opGet opKind = "get"
	opPut opKind = "put"
)

// transfer is a queued Get or Put. local aliases the caller's buffer.
type transfer struct {
	op     opKind
	target domain.Rank
	offset int // bytes into the target region
	local  []byte
}

// Get queues a copy of targetCount elements at targetOffset of target's region into
// local[localOffset:]. The data is only guaranteed to be in local once the epoch closes.
//
// localCount must equal targetCount (domain.ErrCountMismatch) and both ranges must fit
// their buffers (domain.ErrOutOfRange). An access epoch to target must be open
// (domain.ErrSynchronization).
func (w *Window[T]) Get(target domain.Rank, targetOffset, targetCount int, local []T, localOffset, localCount int) error {
	return w.enqueue(opGet, target, targetOffset, targetCount, local, localOffset, localCount)
}

// Put queues a copy of local[localOffset:localOffset+localCount] into target's region at
// targetOffset. It is only guaranteed visible at target once the epoch closes, and local
// must not be modified before then. Contracts are those of Get.
func (w *Window[T]) Put(target domain.Rank, targetOffset, targetCount int, local []T, localOffset, localCount int) error {
	return w.enqueue(opPut, target, targetOffset, targetCount, local, localOffset, localCount)
}

// GetWhole queues a copy of target's whole region into the window's own buffer.
func (w *Window[T]) GetWhole(target domain.Rank) error {
	if err := w.usable(); err != nil {
		return err
	}
	return w.Get(target, 0, w.length, w.local, 0, len(w.local))
}

// PutWhole queues a copy of the window's own buffer over target's whole region.
func (w *Window[T]) PutWhole(target domain.Rank) error {
	if err := w.usable(); err != nil {
		return err
	}
	return w.Put(target, 0, w.length, w.local, 0, len(w.local))
}

// Pending returns the number of queued transfers.
func (w *Window[T]) Pending() int {
	return len(w.pending)
}

func (w *Window[T]) enqueue(op opKind, target domain.Rank, targetOffset, targetCount int, local []T, localOffset, localCount int) error {
	if err := w.usable(); err != nil {
		return err
	}
	if localCount != targetCount {
		return fmt.Errorf("%s: %w: local %d, target %d", op, domain.ErrCountMismatch, localCount, targetCount)
	}
	if targetOffset < 0 || targetCount < 0 || targetOffset > w.length-targetCount {
		return fmt.Errorf("%s: %w: target [%d,+%d) of %d", op, domain.ErrOutOfRange, targetOffset, targetCount, w.length)
	}
	if localOffset < 0 || localOffset > len(local)-localCount {
		return fmt.Errorf("%s: %w: local [%d,+%d) of %d", op, domain.ErrOutOfRange, localOffset, localCount, len(local))
	}
	if err := checkRank(w.transport.Size(), target); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !w.epoch.canAccess(target) {
		return fmt.Errorf("%s: %w: no access epoch open to %s", op, domain.ErrSynchronization, target)
	}

	w.pending = append(w.pending, transfer{
		op:     op,
		target: target,
		offset: targetOffset * w.desc.Size,
		local:  domain.Bytes(local[localOffset : localOffset+localCount]),
	})
	w.publish()
	return nil
}

// flush hands the queued transfers whose target satisfies match to the runtime, in issue order.
// Flushed transfers leave the queue even when one of them fails.
func (w *Window[T]) flush(ctx context.Context, match func(domain.Rank) bool) error {
	if len(w.pending) == 0 {
		return nil
	}

	var rest []transfer
	var firstErr error
	for _, tr := range w.pending {
		if !match(tr.target) {
			rest = append(rest, tr)
			continue
		}
		if firstErr != nil {
			continue
		}

		var err error
		switch tr.op {
		case opGet:
			err = w.transport.Read(ctx, w.handle, tr.target, tr.offset, tr.local)
		case opPut:
			err = w.transport.Write(ctx, w.handle, tr.target, tr.offset, tr.local)
		}
		if w.hooks.OnTransfer != nil {
			w.hooks.OnTransfer(ctx, &domain.TransferEvent{
				EventBase: w.eventBase(domain.EventTransfer),
				Op:        string(tr.op),
				Target:    tr.target,
				Bytes:     len(tr.local),
				Err:       err,
			})
		}
		if err != nil {
			firstErr = w.fail(fmt.Errorf("%s %s at byte %d: %w", tr.op, tr.target, tr.offset, err))
		}
	}
	w.pending = rest
	w.publish()
	return firstErr
}

func all(domain.Rank) bool { return true }
