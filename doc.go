/*
Package onesided implements one-sided communication between the ranks of a
communication scope: windows of typed memory that any rank can read (Get) and write
(Put) without the owner taking part in each transfer.

# Concept

Every rank of a scope exposes a region of local memory under a shared window name.
A window either borrows a buffer the caller owns (Attach) or holds memory obtained
from the runtime (Allocate), which is returned when the window is released.

Transfers are only legal inside an epoch, and they complete when the epoch closes.
Three protocols bound epochs:

  - Fence: a collective call that closes one epoch for every rank and opens the next.
  - Post/Start/Complete/Wait: targets expose their region to a group of origins,
    origins access a group of targets.
  - Lock/Unlock: an origin takes the exclusive lock on one target's region.

The protocols live in package rma. This package wires them to a runtime built from
configuration: an in-process world for tests and single-process programs, or Redis
for ranks running as separate processes.

# Usage

	rt, err := onesided.New(onesided.WithConfig(cfg))
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	err = rt.Run(ctx, func(ctx context.Context, tr ports.Transport) error {
		win, err := onesided.Allocate[float64](ctx, rt, tr, "grid", 1024)
		if err != nil {
			return err
		}
		if err := win.Fence(ctx); err != nil {
			return err
		}
		prev := domain.Rank((int(tr.Rank()) + tr.Size() - 1) % tr.Size())
		halo := make([]float64, 1024)
		if err := win.Get(prev, 0, 1024, halo, 0, 1024); err != nil {
			return err
		}
		if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
			return err
		}
		return win.Release(ctx)
	})

# Hazards

Transfers are not atomic. Two transfers to overlapping bytes of one region in the same
epoch, or a transfer racing local stores of the owner, leave the bytes undefined.
Reading the local buffer while it is exposed is only meaningful after the epoch that
wrote it has closed.
*/
package onesided
