package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventWindowCreate  EventType = "window_create"
	EventWindowRelease EventType = "window_release"
	EventTransfer      EventType = "transfer"
	EventEpochOpen     EventType = "epoch_open"
	EventEpochClose    EventType = "epoch_close"
)

// Protocol names an epoch synchronization protocol.
type Protocol string

const (
	ProtocolNone    Protocol = ""
	ProtocolFence   Protocol = "fence"
	ProtocolActive  Protocol = "pscw"
	ProtocolPassive Protocol = "lock"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Window    string    `json:"window"`
	Rank      Rank      `json:"rank"`
}

// WindowEvent is emitted when a window is created or released.
type WindowEvent struct {
	EventBase
	Length     int        `json:"length"`
	Descriptor Descriptor `json:"descriptor"`
	Managed    bool       `json:"managed"`
}

// TransferEvent is emitted when a queued transfer is flushed to the runtime.
type TransferEvent struct {
	EventBase
	Op     string `json:"op"` // "get" or "put"
	Target Rank   `json:"target"`
	Bytes  int    `json:"bytes"`
	Err    error  `json:"-"`
}

// EpochEvent is emitted when a protocol call opens or closes an epoch.
type EpochEvent struct {
	EventBase
	Protocol Protocol `json:"protocol"`
	Call     string   `json:"call"`

	// Blocked is the time the call spent waiting on peers. A call that closes one
	// epoch and opens the next reports it on the open event only.
	Blocked time.Duration `json:"blocked"`
}

// LifecycleHooks defines callbacks for window observability.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnWindowCreate  func(context.Context, *WindowEvent)
	OnWindowRelease func(context.Context, *WindowEvent)
	OnTransfer      func(context.Context, *TransferEvent)
	OnEpochOpen     func(context.Context, *EpochEvent)
	OnEpochClose    func(context.Context, *EpochEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnWindowCreate:  chain(h.OnWindowCreate, other.OnWindowCreate),
		OnWindowRelease: chain(h.OnWindowRelease, other.OnWindowRelease),
		OnTransfer:      chain(h.OnTransfer, other.OnTransfer),
		OnEpochOpen:     chain(h.OnEpochOpen, other.OnEpochOpen),
		OnEpochClose:    chain(h.OnEpochClose, other.OnEpochClose),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

// WindowInfo is a point-in-time snapshot of a window, used for introspection.
type WindowInfo struct {
	Window     string     `json:"window"`
	Rank       Rank       `json:"rank"`
	Length     int        `json:"length"`
	Descriptor Descriptor `json:"descriptor"`
	Managed    bool       `json:"managed"`
	Protocol   Protocol   `json:"protocol,omitempty"`
	Epoch      string     `json:"epoch"`
	Pending    int        `json:"pending"`
	Broken     bool       `json:"broken,omitempty"`
}
