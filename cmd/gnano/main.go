package main

import (
	"os"

	"github.com/spf13/cobra"
)

var network string

var rootCmd = &cobra.Command{
	Use:          "gnano",
	Short:        "Block-lattice node",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&network, "network", "n", "live", "Network to use: live, beta or test")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
