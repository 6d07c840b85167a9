package observability

import (
	"context"

	"github.com/aretw0/onesided/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors fed by window lifecycle events.
type Metrics struct {
	windows        prometheus.Gauge
	transfers      *prometheus.CounterVec
	transferBytes  *prometheus.CounterVec
	transferErrors *prometheus.CounterVec
	epochs         *prometheus.CounterVec
	syncWait       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		windows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onesided_windows_active",
			Help: "Number of windows created and not yet released.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesided_transfers_total",
			Help: "Transfers flushed to the runtime.",
		}, []string{"op"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesided_transfer_bytes_total",
			Help: "Bytes moved by flushed transfers.",
		}, []string{"op"}),
		transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesided_transfer_errors_total",
			Help: "Transfers the runtime failed to carry out.",
		}, []string{"op"}),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesided_epochs_total",
			Help: "Epochs closed, by synchronization protocol.",
		}, []string{"protocol"}),
		syncWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onesided_sync_wait_seconds",
			Help:    "Time spent blocked on peers by synchronization calls.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"protocol"}),
	}

	for _, c := range []prometheus.Collector{m.windows, m.transfers, m.transferBytes, m.transferErrors, m.epochs, m.syncWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns the lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnWindowCreate: func(context.Context, *domain.WindowEvent) {
			m.windows.Inc()
		},
		OnWindowRelease: func(context.Context, *domain.WindowEvent) {
			m.windows.Dec()
		},
		OnTransfer: func(_ context.Context, e *domain.TransferEvent) {
			if e.Err != nil {
				m.transferErrors.WithLabelValues(e.Op).Inc()
				return
			}
			m.transfers.WithLabelValues(e.Op).Inc()
			m.transferBytes.WithLabelValues(e.Op).Add(float64(e.Bytes))
		},
		OnEpochOpen: func(_ context.Context, e *domain.EpochEvent) {
			m.observeWait(e)
		},
		OnEpochClose: func(_ context.Context, e *domain.EpochEvent) {
			m.epochs.WithLabelValues(string(e.Protocol)).Inc()
			m.observeWait(e)
		},
	}
}

// observeWait records calls that actually waited on peers.
func (m *Metrics) observeWait(e *domain.EpochEvent) {
	if e.Blocked > 0 {
		m.syncWait.WithLabelValues(string(e.Protocol)).Observe(e.Blocked.Seconds())
	}
}
