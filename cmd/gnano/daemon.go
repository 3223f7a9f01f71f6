package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tundak/nano-node-sub003/node"
	"github.com/tundak/nano-node-sub003/params"
)

var configFileName string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the node until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadOrCreateConfig(configFileName)
		if err != nil {
			return err
		}

		n, err := node.New(cfg)
		if err != nil {
			return errors.Wrap(err, "initiating node instance")
		}

		if err := n.Start(); err != nil {
			n.Stop()
			return err
		}

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

		sig := <-signals
		logrus.Infof("Received %s, shutting down", sig)
		n.Stop()

		return nil
	},
}

// loadOrCreateConfig writes the network's defaults to path on first run.
func loadOrCreateConfig(path string) (*node.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		selected, err := params.ParseNetwork(network)
		if err != nil {
			return nil, err
		}

		cfg := node.DefaultConfig(selected)

		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "creating config")
		}
		defer f.Close()

		if err := cfg.Encode(f); err != nil {
			return nil, err
		}

		logrus.Infof("Wrote default %s config to %s", selected, path)

		return &cfg, nil
	}

	return node.LoadConfig(path)
}

func init() {
	daemonCmd.Flags().StringVarP(&configFileName, "config", "c", "./config.toml", "TOML config file path")
	rootCmd.AddCommand(daemonCmd)
}
