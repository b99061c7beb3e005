package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"ballot-backend/models"
)

var votesAddress string

func init() {
	votesCmd.Flags().StringVarP(&votesAddress, "address", "a", "", "only list ballots cast by this address")
	rootCmd.AddCommand(votesCmd)
}

var votesCmd = &cobra.Command{
	Use:   "votes",
	Short: "Print stored ballots as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer closeStore()

		var votes []models.Vote
		if votesAddress != "" {
			votes, err = store.ListByAddress(cmd.Context(), votesAddress)
		} else {
			votes, err = store.All(cmd.Context())
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(votes)
	},
}
