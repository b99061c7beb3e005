package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ballot-backend/catalog"
)

func init() {
	rootCmd.AddCommand(validateDataCmd)
}

var validateDataCmd = &cobra.Command{
	Use:   "validate-data",
	Short: "Check config.toml and the candidate/category catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.DataPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d candidates, %d categories in %s\n",
			len(cat.Candidates()), len(cat.Categories()), cfg.DataPath)
		return nil
	},
}
