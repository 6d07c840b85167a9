/*
Package rma implements memory windows for one-sided communication.

A Window exposes a contiguous buffer of elements to every rank of a communication
scope. Any rank can Get from or Put into another rank's region of the window
without the target taking part in the transfer. Transfers are queued and only
guaranteed complete, and visible, when the epoch that contains them closes.

# Ownership

Attach registers a caller-owned slice: the window never frees it. Allocate obtains
the buffer from the runtime and returns it to the runtime on Release. Release
deregisters the region before any owned memory is freed. Every operation on a
released window fails with domain.ErrUseAfterRelease.

# Epochs

Three protocols bound an epoch. Only one may be active on a window at a time.

  - Fence: collective. Two consecutive Fence calls delimit an epoch.
  - Post/Start/Complete/Wait: targets Post an exposure epoch to a group of origins,
    origins Start an access epoch on a group of targets.
  - LockExclusive/Unlock: the origin locks one target's region; the target does
    not participate.

# Hazards

A Put and a Get or local access touching overlapping elements of the same window in
the same epoch give undefined results. The local buffer of a Put must not be
modified, and the local buffer of a Get must not be read, until the epoch closes.
Local reads and writes of Window.Local are only safe outside open epochs.
*/
package rma
