package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brandon/mail-dedup/internal/ingest"
	"github.com/brandon/mail-dedup/internal/mailsource"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch recent mail over IMAP and ingest it",
	Long: `Fetch the newest IMAP_FETCH_LIMIT messages of each configured account and ingest them.

Examples:
  # Sync every account's IMAP_MAILBOX
  maildedup sync

  # Sync one account and mailbox
  maildedup sync --account work --mailbox Archive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.cfg.RequireAccounts(); err != nil {
			return err
		}
		account, _ := cmd.Flags().GetString("account")
		mailbox, _ := cmd.Flags().GetString("mailbox")

		manager := mailsource.NewManager(app.cfg, app.ingester, app.logger)
		defer manager.Close() //nolint:errcheck

		reports := make(map[string]*ingest.BatchReport)
		if account != "" {
			rep, err := manager.SyncAccount(cmd.Context(), account, mailbox)
			if err != nil {
				return err
			}
			reports[account] = rep
		} else {
			reports = manager.SyncAll(cmd.Context())
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		for _, name := range manager.Accounts() {
			rep, ok := reports[name]
			if !ok {
				continue
			}
			fmt.Printf("%s\n", cyan(name))
			printBatchReport(rep, 0)
		}
		if len(reports) == 0 {
			return fmt.Errorf("no account synced")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("account", "", "Only sync this account")
	syncCmd.Flags().String("mailbox", "", "Mailbox to sync (default: IMAP_MAILBOX)")
	rootCmd.AddCommand(syncCmd)
}
