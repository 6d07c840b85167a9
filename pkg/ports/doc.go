/*
Package ports defines the driven ports (interfaces) for the one-sided communication core.

These interfaces decouple the RMA core from the runtime that actually moves bytes,
allowing windows to run over an in-process world of goroutines or over Redis.

# Key Interfaces

  - Transport: The runtime boundary of one rank. Registers and allocates memory,
    moves bytes between ranks, exposes counting mailboxes (Signal/Await) from which
    barriers and active-target epochs are built, and grants exclusive per-rank locks.
  - UnlockFunc: Releases a lock obtained from Transport.Lock.
*/
package ports
