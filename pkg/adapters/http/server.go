// Package http exposes the windows of a process for introspection: health, a JSON view
// of the registry, a server-sent event stream of window lifecycle events and the
// Prometheus metrics.
package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/onesided"
	"github.com/aretw0/onesided/internal/logging"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WindowSource lists the live windows of the process.
type WindowSource interface {
	Snapshot() []domain.WindowInfo
}

// Server serves the introspection endpoints.
type Server struct {
	Windows  WindowSource
	Streams  *StreamManager
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.Gatherer = g
	}
}

// WithStreams publishes the events of sm on /events.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithLogger sets the logger for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = l
	}
}

// NewHandler creates the HTTP handler for windows.
func NewHandler(windows WindowSource, opts ...Option) http.Handler {
	server := &Server{
		Windows:  windows,
		Streams:  NewStreamManager(),
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Get("/healthz", server.GetHealth)
	r.Get("/info", server.GetInfo)
	r.Get("/windows", server.ListWindows)
	r.Get("/windows/{name}", server.GetWindow)
	r.Get("/events", server.SubscribeEvents)
	r.Handle("/metrics", promhttp.HandlerFor(server.Gatherer, promhttp.HandlerOpts{}))
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"app":         "onesided",
		"version":     strings.TrimSpace(onesided.Version),
		"windows":     len(s.Windows.Snapshot()),
		"subscribers": s.Streams.Subscribers(),
	})
}

// ListWindows handles GET /windows. The optional rank query parameter keeps the
// windows of one rank.
func (s *Server) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows := s.Windows.Snapshot()
	if q := r.URL.Query().Get("rank"); q != "" {
		var rank int
		if _, err := fmt.Sscanf(q, "%d", &rank); err != nil {
			http.Error(w, fmt.Sprintf("invalid rank %q", q), http.StatusBadRequest)
			return
		}
		kept := windows[:0]
		for _, info := range windows {
			if int(info.Rank) == rank {
				kept = append(kept, info)
			}
		}
		windows = kept
	}
	if windows == nil {
		windows = []domain.WindowInfo{}
	}
	s.writeJSON(w, windows)
}

// GetWindow handles GET /windows/{name}: every local rank's view of one window.
func (s *Server) GetWindow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var found []domain.WindowInfo
	for _, info := range s.Windows.Snapshot() {
		if info.Window == name {
			found = append(found, info)
		}
	}
	if len(found) == 0 {
		http.Error(w, fmt.Sprintf("window %q not found", name), http.StatusNotFound)
		return
	}
	s.writeJSON(w, found)
}

// SubscribeEvents handles GET /events (SSE). The optional type query parameter is a
// comma separated list of event types to keep.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	keep := map[domain.EventType]bool{}
	if q := r.URL.Query().Get("type"); q != "" {
		for _, t := range strings.Split(q, ",") {
			keep[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	ch, cancel := s.Streams.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if len(keep) > 0 && !keep[ev.Type] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}
