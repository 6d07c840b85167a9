// Package arena implements the runtime allocator backing managed windows.
//
// Memory is mapped outside the Go heap where the platform allows it, so that a
// managed window's buffer has a stable address for its whole registration and is
// never moved or collected by the Go runtime. Buffers must be returned with Free.
package arena

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/aretw0/onesided/pkg/domain"
)

// Arena hands out runtime memory within an optional byte budget.
// Safe for concurrent use.
type Arena struct {
	mu       sync.Mutex
	maxBytes int
	inUse    int
	live     map[uintptr]int
}

// New creates an arena. A maxBytes of zero means no budget.
func New(maxBytes int) *Arena {
	return &Arena{
		maxBytes: maxBytes,
		live:     make(map[uintptr]int),
	}
}

// Alloc returns n zeroed bytes.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", domain.ErrAllocation, n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxBytes > 0 && a.inUse+n > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", domain.ErrAllocation, n, a.inUse, a.maxBytes)
	}

	buf, err := mapMemory(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAllocation, err)
	}
	a.live[base(buf)] = n
	a.inUse += n
	return buf, nil
}

// Free returns a buffer obtained from Alloc. Freeing foreign memory is an error.
func (a *Arena) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.live[base(buf)]
	if !ok {
		return fmt.Errorf("arena: buffer at %#x was not allocated here", base(buf))
	}
	if err := unmapMemory(buf[:n:n]); err != nil {
		return fmt.Errorf("arena: unmap failed: %w", err)
	}
	delete(a.live, base(buf))
	a.inUse -= n
	return nil
}

// InUse returns the number of bytes currently allocated.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Live returns the number of outstanding allocations.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func base(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}
