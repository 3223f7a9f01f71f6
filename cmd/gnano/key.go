package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tundak/nano-node-sub003/types"
)

var privateKey string

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Expand a private key into its public key and address",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := types.KeyPairFromHex(privateKey)
		if err != nil {
			return err
		}

		fmt.Printf("public:  %s\n", keys.Address.ToHexString())
		fmt.Printf("account: %s\n", keys.Address.ToNanoAddress())

		return nil
	},
}

func init() {
	keyCmd.Flags().StringVarP(&privateKey, "private", "p", "", "Hex encoded 32 byte private key")
	keyCmd.MarkFlagRequired("private")
	rootCmd.AddCommand(keyCmd)
}
