package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed and failed requests past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}

		app, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		deleted, err := app.repo.PurgeOlderThan(cmd.Context(), purgeDays)
		if err != nil {
			return err
		}

		fmt.Printf("deleted %d requests older than %d days\n", deleted, purgeDays)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 30, "retention window in days")
}
