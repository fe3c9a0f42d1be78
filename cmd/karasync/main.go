package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "karasync",
	Short: "One-way sync of OpenWebUI chats into a Karakeep list",
	Long: `karasync mirrors OpenWebUI chat records into a Karakeep (Hoarder)
bookmark list. Sync is incremental and idempotent: a persisted watermark
selects changed chats, and the chat id embedded in each bookmark title
matches records to bookmarks created by earlier runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default karasync.yaml in ., the user config dir, or ~/.karasync)")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
