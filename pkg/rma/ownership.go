package rma

import (
	"github.com/aretw0/onesided/pkg/ports"
)

// ownership decides who frees a window's memory.
type ownership interface {
	managed() bool
	// release is called after the region has been deregistered.
	release(tr ports.Transport) error
}

// attached borrows a caller-owned buffer; release leaves it alone.
type attached struct{}

func (attached) managed() bool { return false }

func (attached) release(ports.Transport) error { return nil }

// managedBuffer owns runtime memory that goes back to the runtime allocator.
type managedBuffer struct {
	mem []byte
}

func (*managedBuffer) managed() bool { return true }

func (m *managedBuffer) release(tr ports.Transport) error {
	mem := m.mem
	m.mem = nil
	return tr.Free(mem)
}
