package http

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aretw0/onesided/pkg/domain"
)

// Event is one lifecycle event, already encoded for the wire.
type Event struct {
	Type domain.EventType
	Data []byte
}

// StreamManager fans lifecycle events out to the connected SSE clients.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	dropped     int
}

// NewStreamManager creates a manager with no subscribers.
func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a client. The returned function unsubscribes it and closes the
// channel.
func (sm *StreamManager) Subscribe() (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, 64)
	sm.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.subscribers, ch)
			close(ch)
		})
	}
}

// Subscribers returns the number of connected clients.
func (sm *StreamManager) Subscribers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// Dropped returns how many events were skipped because a client was too slow.
func (sm *StreamManager) Dropped() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.dropped
}

// Broadcast encodes v and hands it to every client without blocking.
func (sm *StreamManager) Broadcast(t domain.EventType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for ch := range sm.subscribers {
		select {
		case ch <- Event{Type: t, Data: data}:
		default:
			// Slow client
			sm.dropped++
		}
	}
}

// Hooks returns lifecycle hooks that broadcast every event.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnWindowCreate: func(_ context.Context, e *domain.WindowEvent) {
			sm.Broadcast(e.Type, e)
		},
		OnWindowRelease: func(_ context.Context, e *domain.WindowEvent) {
			sm.Broadcast(e.Type, e)
		},
		OnTransfer: func(_ context.Context, e *domain.TransferEvent) {
			sm.Broadcast(e.Type, transferPayload{TransferEvent: e, Error: errString(e.Err)})
		},
		OnEpochOpen: func(_ context.Context, e *domain.EpochEvent) {
			sm.Broadcast(e.Type, e)
		},
		OnEpochClose: func(_ context.Context, e *domain.EpochEvent) {
			sm.Broadcast(e.Type, e)
		},
	}
}

// transferPayload carries the transfer error as text; errors do not marshal.
type transferPayload struct {
	*domain.TransferEvent
	Error string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
