package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/pkg/models"
)

var syncMapping string

// syncCmd triggers one reconciliation pass and prints the result. The run
// applies everything it can; failures are aggregated, printed verbatim,
// and reflected in the exit code.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile tracker records into channel messages",
	Long: `This command runs one reconciliation pass: it fetches open records from
each active mapping's tracker connection, diffs them against the local
cache, and creates, updates, or deletes channel messages to match. Pass
--mapping to reconcile a single mapping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var result models.SyncResult
		if syncMapping != "" {
			result = a.engine.RunMapping(ctx, syncMapping)
		} else {
			result = a.engine.RunFull(ctx)
		}

		fmt.Printf("Processed %d records\n", result.IssuesProcessed)
		for _, warning := range result.Warnings {
			fmt.Printf("warning: %s\n", warning)
		}
		for _, errMsg := range result.Errors {
			fmt.Printf("error: %s\n", errMsg)
		}
		if !result.Success {
			return fmt.Errorf("sync completed with %d errors", len(result.Errors))
		}
		fmt.Println("Sync complete")
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncMapping, "mapping", "m", "", "reconcile only the named mapping")
}
