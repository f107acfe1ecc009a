package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/rudp/core/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a pre-shared key for the client's --key flag",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("keygen: %w", err)
		}
		fmt.Println(crypto.EncodeKey(key))
		return nil
	},
}
