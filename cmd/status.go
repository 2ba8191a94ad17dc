package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusLimit int

// statusCmd prints the operation-log read model: totals plus the most
// recent entries, newest first.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent reconciliation and interaction outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.store.LogSummary(cmd.Context(), statusLimit)
		if err != nil {
			return fmt.Errorf("failed to read operation log: %w", err)
		}

		fmt.Printf("Operations: %d total, %d succeeded, %d failed\n",
			summary.Total, summary.SuccessCount, summary.ErrorCount)

		if len(summary.RecentEntries) == 0 {
			return nil
		}
		fmt.Println()
		for _, entry := range summary.RecentEntries {
			mapping := entry.MappingID
			if mapping == "" {
				mapping = "-"
			}
			fmt.Printf("%s  %-11s  %-7s  %-12s  %s\n",
				entry.CreatedAt.Format("2006-01-02 15:04:05"),
				entry.Operation, entry.Status, mapping, entry.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of recent entries to show")
}
