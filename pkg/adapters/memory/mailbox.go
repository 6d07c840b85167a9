package memory

import (
	"context"
	"sync"
)

// mailbox is a counting semaphore with a single consumer.
type mailbox struct {
	mu     sync.Mutex
	tokens int
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) signal() {
	m.mu.Lock()
	m.tokens++
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) await(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.tokens > 0 {
			m.tokens--
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
		}
	}
}
