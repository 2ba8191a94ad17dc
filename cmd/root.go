package cmd

import (
	"github.com/spf13/cobra"
)

// cfgFile is the --config override shared by all commands.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether mirrors open tracker records into chat channel messages",
	Long: `Tether is a bridge between issue trackers and chat channels. It mirrors
open records from Notion, JIRA, or GitHub connections into Discord channel
messages, keeps them updated as records change, removes them when records
resolve, and lets users resolve records straight from the channel.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(statusCmd)
}
