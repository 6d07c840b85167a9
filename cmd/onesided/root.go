package main

import (
	"fmt"
	"os"

	"github.com/aretw0/onesided/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "onesided",
	Short: "onesided runs one-sided communication programs over shared windows",
	Long: `onesided exposes typed memory windows between the ranks of a communication scope
and moves data with one-sided put/get bounded by fence, post/start/complete/wait
or lock/unlock epochs.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to onesided.yaml")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("transport", "", "Runtime transport: memory or redis")
	flags.Int("size", 0, "Number of ranks in the scope")
	flags.String("redis-addr", "", "Redis address for the redis transport")
}

// runOptions collects the persistent flags of cmd.
func runOptions(cmd *cobra.Command) cli.RunOptions {
	flags := cmd.Flags()
	opts := cli.RunOptions{}
	opts.ConfigPath, _ = flags.GetString("config")
	opts.LogLevel, _ = flags.GetString("log-level")
	opts.LogFormat, _ = flags.GetString("log-format")
	opts.Transport, _ = flags.GetString("transport")
	opts.Size, _ = flags.GetInt("size")
	opts.RedisAddr, _ = flags.GetString("redis-addr")
	return opts
}
