package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/onesided"
	"github.com/aretw0/onesided/internal/cli"
	httpAdapter "github.com/aretw0/onesided/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scenarios in a loop behind the introspection server",
	Long: `Hosts every rank of the scope, runs the demonstration scenarios every --interval
and serves /healthz, /windows, /events and /metrics while doing so.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions(cmd)
		opts.AllRanks = true
		if opts.Size == 0 {
			opts.Size = 2
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		if cmd.Flags().Changed("addr") {
			opts.MetricsAddr, _ = cmd.Flags().GetString("addr")
		}

		reg := prometheus.NewRegistry()
		streams := httpAdapter.NewStreamManager()
		rt, err := cli.NewRuntime(opts, reg, onesided.WithLifecycleHooks(streams.Hooks()))
		if err != nil {
			return err
		}
		defer rt.Close()
		logger := rt.Logger()

		addr := rt.Config().Metrics.Addr
		if addr == "" {
			addr, _ = cmd.Flags().GetString("addr")
		}

		srv := &http.Server{
			Addr: addr,
			Handler: httpAdapter.NewHandler(rt.Registry(),
				httpAdapter.WithGatherer(reg),
				httpAdapter.WithStreams(streams),
				httpAdapter.WithLogger(logger),
			),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("introspection server listening", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for running := true; running; {
			if err := cli.RunScenarios(ctx, rt, cmd.OutOrStdout(), cli.ScenarioNames()...); err != nil && ctx.Err() == nil {
				logger.Error("scenario round failed", "error", err)
			}
			select {
			case err := <-serverErrors:
				return err
			case <-ctx.Done():
				running = false
			case <-ticker.C:
			}
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return srv.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":9464", "Listen address (overrides metrics.addr)")
	serveCmd.Flags().Duration("interval", 5*time.Second, "Pause between scenario rounds")
}
