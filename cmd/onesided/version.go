package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/onesided"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of onesided",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "onesided version %s\n", strings.TrimSpace(onesided.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
