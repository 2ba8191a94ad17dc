package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var testConnection string

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Inspect and probe configured connections",
}

// connectionsTestCmd probes each connection's credentials with the
// adapters' read-only checks, the surface the connection-management UI
// calls before persisting new credentials.
var connectionsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe tracker connections and the chat bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		failed := 0
		probe := func(name string, test func(ctx context.Context) bool) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if test(ctx) {
				fmt.Printf("%-30s ok\n", name)
				return
			}
			fmt.Printf("%-30s FAILED\n", name)
			failed++
		}

		for _, conn := range a.cfg.Connections {
			if testConnection != "" && conn.ID != testConnection {
				continue
			}
			adapter, err := a.trackers.Adapter(conn.ID)
			if err != nil {
				fmt.Printf("%-30s FAILED (%v)\n", conn.ID, err)
				failed++
				continue
			}
			probe(conn.ID, adapter.TestConnection)
		}

		if testConnection == "" {
			probe("discord", a.channel.TestConnection)
		}

		if failed > 0 {
			return fmt.Errorf("%d connection probe(s) failed", failed)
		}
		return nil
	},
}

func init() {
	connectionsTestCmd.Flags().StringVarP(&testConnection, "connection", "c", "", "probe only the named connection")
	connectionsCmd.AddCommand(connectionsTestCmd)
}
