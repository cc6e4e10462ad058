package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "confidant",
	Short: "Persistent memory for persona chat companions",
	Long:  "Confidant keeps memory cards for chat companion clients: who they are, the people in their lives, and what has happened to them. Single Go binary backed by SQLite.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
