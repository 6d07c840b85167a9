// Package registry tracks the windows that are alive in this process.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"github.com/aretw0/onesided/pkg/domain"
)

// Inspector is implemented by anything that can describe itself as a window.
type Inspector interface {
	Info() domain.WindowInfo
}

// Registry manages the live windows.
type Registry struct {
	mu      sync.RWMutex
	windows map[string]Inspector
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		windows: make(map[string]Inspector),
	}
}

// Register adds a window under key.
// If a window with the same key exists, it is overwritten.
func (r *Registry) Register(key string, w Inspector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[key] = w
}

// Unregister removes the window registered under key.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, key)
}

// Len returns the number of live windows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}

// Snapshot returns the info of every live window, ordered by window name then rank.
func (r *Registry) Snapshot() []domain.WindowInfo {
	r.mu.RLock()
	out := make([]domain.WindowInfo, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.WindowInfo) int {
		if c := cmp.Compare(a.Window, b.Window); c != 0 {
			return c
		}
		return cmp.Compare(a.Rank, b.Rank)
	})
	return out
}
