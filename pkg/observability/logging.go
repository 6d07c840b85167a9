package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/onesided/pkg/domain"
)

// LogHooks returns lifecycle hooks that write every event to logger. Transfers and
// epochs are logged at Debug, window lifecycle at Info and failed transfers at Warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnWindowCreate: func(ctx context.Context, e *domain.WindowEvent) {
			logger.InfoContext(ctx, "window_create",
				"window", e.Window,
				"rank", e.Rank,
				"length", e.Length,
				"layout", e.Descriptor.Layout,
				"managed", e.Managed,
			)
		},
		OnWindowRelease: func(ctx context.Context, e *domain.WindowEvent) {
			logger.InfoContext(ctx, "window_release", "window", e.Window, "rank", e.Rank)
		},
		OnTransfer: func(ctx context.Context, e *domain.TransferEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "transfer_failed",
					"window", e.Window,
					"rank", e.Rank,
					"op", e.Op,
					"target", e.Target,
					"error", e.Err,
				)
				return
			}
			logger.DebugContext(ctx, "transfer",
				"window", e.Window,
				"rank", e.Rank,
				"op", e.Op,
				"target", e.Target,
				"bytes", e.Bytes,
			)
		},
		OnEpochOpen: func(ctx context.Context, e *domain.EpochEvent) {
			logger.DebugContext(ctx, "epoch_open",
				"window", e.Window,
				"rank", e.Rank,
				"protocol", e.Protocol,
				"call", e.Call,
				"blocked", e.Blocked,
			)
		},
		OnEpochClose: func(ctx context.Context, e *domain.EpochEvent) {
			logger.DebugContext(ctx, "epoch_close",
				"window", e.Window,
				"rank", e.Rank,
				"protocol", e.Protocol,
				"call", e.Call,
			)
		},
	}
}
