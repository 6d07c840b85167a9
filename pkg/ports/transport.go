package ports

import (
	"context"

	"github.com/aretw0/onesided/pkg/domain"
)

// UnlockFunc releases a lock acquired with Transport.Lock.
type UnlockFunc func(ctx context.Context) error

// Handle identifies a registered region to the runtime.
type Handle struct {
	// Window is the scope-wide window name. Every rank registers its own region
	// under the same name.
	Window string
	// Bytes is the size of the local region in bytes.
	Bytes int
	// Generation counts the registrations of Window on this rank, starting at 1.
	// Creation is collective, so every rank of the scope agrees on it. Mailboxes and
	// locks are scoped to one generation, which lets a name be re-created while a
	// slower peer is still tearing down the previous window.
	Generation uint64
}

// Tag separates independent mailbox streams between the same pair of ranks.
type Tag string

const (
	TagBarrier  Tag = "barrier"
	TagPost     Tag = "post"
	TagComplete Tag = "complete"
)

// Transport is the runtime boundary of one rank within a communication scope.
//
// Implementations are used by a single goroutine per rank, except Rank and Size
// which must be safe to call concurrently.
// Connection failures must be reported wrapping domain.ErrTransportLost.
type Transport interface {
	// Rank returns the local rank, 0 <= Rank() < Size().
	Rank() domain.Rank

	// Size returns the number of ranks in the scope.
	Size() int

	// Alloc returns nbytes of runtime memory, zeroed.
	// Returns domain.ErrAllocation when the request cannot be satisfied.
	Alloc(ctx context.Context, nbytes int) ([]byte, error)

	// Free returns memory obtained from Alloc.
	Free(buf []byte) error

	// Register exposes base under the window name for this rank.
	// Every call advances the generation of the name, also when it fails.
	// Returns domain.ErrRegistration when the region is rejected.
	Register(ctx context.Context, window string, base []byte) (Handle, error)

	// Deregister withdraws the region. The memory itself is not touched. State of
	// later generations of the same name is left alone.
	Deregister(ctx context.Context, h Handle) error

	// Read copies len(dst) bytes at offset of target's region into dst.
	Read(ctx context.Context, h Handle, target domain.Rank, offset int, dst []byte) error

	// Write copies src into target's region at offset.
	Write(ctx context.Context, h Handle, target domain.Rank, offset int, src []byte) error

	// Sync reconciles the local region with its remotely visible copy: local stores
	// become visible to other ranks and remote writes become visible locally.
	Sync(ctx context.Context, h Handle) error

	// Signal deposits one token in the (window, local rank -> to, tag) mailbox.
	// It never blocks on the receiver.
	Signal(ctx context.Context, h Handle, to domain.Rank, tag Tag) error

	// Await consumes one token from the (window, from -> local rank, tag) mailbox,
	// blocking until one is available or ctx is done. A token that is already
	// available is consumed even when ctx is done, which makes Await usable as a poll.
	Await(ctx context.Context, h Handle, from domain.Rank, tag Tag) error

	// Lock acquires the exclusive lock on target's region of the window.
	// It blocks until the lock is acquired or ctx is done.
	Lock(ctx context.Context, h Handle, target domain.Rank) (UnlockFunc, error)

	// Close releases the transport's resources.
	Close() error
}
