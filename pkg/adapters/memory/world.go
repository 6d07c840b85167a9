// Package memory provides an in-process runtime: a World of ranks sharing one address space.
//
// Each rank is expected to be driven by its own goroutine. Regions are exposed in place
// (there is no separate public copy), so remote writes land directly in the owner's buffer.
package memory

import (
	"fmt"
	"sync"

	"github.com/aretw0/onesided/internal/arena"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
)

type regionKey struct {
	window string
	rank   domain.Rank
}

type lockKey struct {
	window     string
	generation uint64
	rank       domain.Rank
}

type mailKey struct {
	window     string
	generation uint64
	from       domain.Rank
	to         domain.Rank
	tag        ports.Tag
}

// World is an in-process communication scope of a fixed number of ranks.
// Safe for concurrent use by all of its ranks.
type World struct {
	size  int
	arena *arena.Arena

	mu          sync.Mutex
	regions     map[regionKey][]byte
	generations map[regionKey]uint64
	mailboxes   map[mailKey]*mailbox
	locks       map[lockKey]chan struct{}
	lost        map[domain.Rank]bool
}

// Option configures the World.
type Option func(*World)

// WithArena sets the allocator used for managed windows.
func WithArena(a *arena.Arena) Option {
	return func(w *World) {
		w.arena = a
	}
}

// WithMaxBytes caps the memory available to managed windows across all ranks.
func WithMaxBytes(n int) Option {
	return func(w *World) {
		w.arena = arena.New(n)
	}
}

// NewWorld creates a world of size ranks.
func NewWorld(size int, opts ...Option) *World {
	w := &World{
		size:        size,
		arena:       arena.New(0),
		regions:     make(map[regionKey][]byte),
		generations: make(map[regionKey]uint64),
		mailboxes:   make(map[mailKey]*mailbox),
		locks:       make(map[lockKey]chan struct{}),
		lost:        make(map[domain.Rank]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.size
}

// Arena returns the allocator backing managed windows.
func (w *World) Arena() *arena.Arena {
	return w.arena
}

// Transport returns the runtime boundary of the given rank.
func (w *World) Transport(rank domain.Rank) *Transport {
	if rank < 0 || int(rank) >= w.size {
		panic(fmt.Sprintf("memory: rank %d outside world of size %d", rank, w.size))
	}
	return &Transport{world: w, rank: rank}
}

// Transports returns one transport per rank, indexed by rank.
func (w *World) Transports() []ports.Transport {
	out := make([]ports.Transport, w.size)
	for i := range out {
		out[i] = w.Transport(domain.Rank(i))
	}
	return out
}

// Disconnect simulates the loss of rank's connection: every later call made by
// that rank fails with domain.ErrTransportLost.
func (w *World) Disconnect(rank domain.Rank) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lost[rank] = true
}

// Mailboxes returns the number of mailboxes that have been used and not dropped yet.
func (w *World) Mailboxes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.mailboxes)
}

// Regions returns the number of registered regions.
func (w *World) Regions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.regions)
}

func (w *World) mailbox(k mailKey) *mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	mb, ok := w.mailboxes[k]
	if !ok {
		mb = newMailbox()
		w.mailboxes[k] = mb
	}
	return mb
}

func (w *World) lock(k lockKey) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[k]
	if !ok {
		l = make(chan struct{}, 1)
		w.locks[k] = l
	}
	return l
}
