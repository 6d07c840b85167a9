package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aretw0/onesided/internal/cli"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo [scenario...]",
	Short: "Run demonstration scenarios with every rank in this process",
	Long: `Runs the named scenarios (default: all of them) with every rank of the scope
hosted by this process. Known scenarios: ` + strings.Join(cli.ScenarioNames(), ", ") + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions(cmd)
		opts.AllRanks = true
		if opts.Size == 0 {
			opts.Size = 2
		}

		rt, err := cli.NewRuntime(opts, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		names := args
		if len(names) == 0 {
			names = cli.ScenarioNames()
		}
		return cli.RunScenarios(ctx, rt, cmd.OutOrStdout(), names...)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
