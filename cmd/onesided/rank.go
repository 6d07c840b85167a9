package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/onesided/internal/cli"
	"github.com/spf13/cobra"
)

var rankCmd = &cobra.Command{
	Use:   "rank [scenario...]",
	Short: "Run one rank of the scenarios against a shared Redis",
	Long: `Runs the named scenarios (default: ring) as a single rank. Start one process per
rank, each with its own --rank (or ONESIDED_RANK) and the same --size and Redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions(cmd)
		if opts.Transport == "" {
			opts.Transport = "redis"
		}
		if cmd.Flags().Changed("rank") {
			opts.Rank, _ = cmd.Flags().GetInt("rank")
			opts.RankSet = true
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		rt, err := cli.NewRuntime(opts, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		names := args
		if len(names) == 0 {
			names = []string{"ring"}
		}
		return cli.RunScenarios(ctx, rt, cmd.OutOrStdout(), names...)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)
	rankCmd.Flags().Int("rank", 0, "Rank of this process")
	rankCmd.Flags().Duration("timeout", 2*time.Minute, "Give up when peers do not show up in time (0 waits forever)")
}
