package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/tundak/nano-node-sub003/utils"
	"github.com/tundak/nano-node-sub003/work"
)

var (
	workRoot       string
	workDifficulty string
	workThreads    uint
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Generate proof of work for a root",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := params.ParseNetwork(network)
		if err != nil {
			return err
		}

		root, err := types.StringToHash(workRoot)
		if err != nil {
			return errors.Wrap(err, "invalid root")
		}

		networkParams := params.New(selected)
		difficulty := networkParams.PublishThreshold
		if workDifficulty != "" {
			difficulty, err = strconv.ParseUint(workDifficulty, 16, 64)
			if err != nil {
				return errors.Wrap(err, "invalid difficulty")
			}
		}

		cfg := work.DefaultConfig()
		if workThreads != 0 {
			cfg.Threads = workThreads
		}

		pool := work.NewPool(&cfg, nil, utils.NewLogger("Work", false))
		pool.Start()
		defer pool.Stop()

		started := time.Now()
		result, err := pool.Generate(*root, difficulty)
		if err != nil {
			return err
		}

		achieved := work.Difficulty(*root, result)
		fmt.Printf("work:       %s\n", result.ToHexString())
		fmt.Printf("difficulty: %016x (%.2fx)\n", achieved, work.ToMultiplier(achieved, networkParams.PublishThreshold))
		fmt.Printf("took:       %s\n", time.Since(started).Round(time.Millisecond))

		return nil
	},
}

func init() {
	workCmd.Flags().StringVarP(&workRoot, "root", "r", "", "Hex root to generate work for")
	workCmd.Flags().StringVarP(&workDifficulty, "difficulty", "d", "", "Hex difficulty, defaults to the network's publish threshold")
	workCmd.Flags().UintVarP(&workThreads, "threads", "t", 0, "Worker threads, defaults to the CPU count")
	workCmd.MarkFlagRequired("root")
	rootCmd.AddCommand(workCmd)
}
