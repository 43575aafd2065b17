package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// Initialized by PersistentPreRunE for every command except version.
var app *application

var rootCmd = &cobra.Command{
	Use:   "maildedup",
	Short: "Detect and group duplicate emails",
	Long: `maildedup fingerprints incoming email by normalized sender, subject and body,
and groups messages with identical fingerprints.

Configuration is read from the environment (DB_DRIVER, DB_PATH, DATABASE_URL,
LOG_LEVEL, ALIAS_FILE, IMAP_HOST or ACCOUNT_n_*, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		a, err := newApplication(cmd.Context())
		if err != nil {
			return err
		}
		app = a
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("maildedup version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// execute runs the command line and releases the application afterwards,
// including when the command failed.
func execute(args []string) error {
	defer closeApplication()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func closeApplication() {
	if app != nil {
		app.Close()
		app = nil
	}
}

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
