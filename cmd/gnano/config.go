package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tundak/nano-node-sub003/node"
	"github.com/tundak/nano-node-sub003/params"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default config for a network",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := params.ParseNetwork(network)
		if err != nil {
			return err
		}

		cfg := node.DefaultConfig(selected)

		return cfg.Encode(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
