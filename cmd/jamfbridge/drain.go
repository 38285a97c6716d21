package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process pending requests once and exit",
	Long: `Drain claims one batch of pending requests, dispatches them to
Jamf Pro, and exits. Useful from cron or for manual queue recovery.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		result, err := app.processor.Drain(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("claimed=%d completed=%d failed=%d reclaimed=%d\n",
			result.Claimed, result.Completed, result.Failed, result.Reclaimed)
		return nil
	},
}
