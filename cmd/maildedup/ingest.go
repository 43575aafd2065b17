package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brandon/mail-dedup/internal/ingest"
	"github.com/brandon/mail-dedup/internal/mailsource"
	"github.com/brandon/mail-dedup/pkg/types"
)

var ingestFilesCmd = &cobra.Command{
	Use:   "ingest-files <path>...",
	Short: "Ingest .eml files",
	Long: `Parse and ingest RFC 5322 message files. Directories are walked for *.eml files.

Examples:
  maildedup ingest-files ./export/
  maildedup ingest-files a.eml b.eml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := collectEMLFiles(args)
		if err != nil {
			return err
		}

		var emails []types.RawEmail
		parseFailures := 0
		for _, p := range paths {
			raw, err := mailsource.ReadFile(p)
			if err != nil {
				parseFailures++
				app.logger.WithError(err).WithField("path", p).Warn("Skipping unreadable message")
				continue
			}
			emails = append(emails, raw)
		}

		rep := app.ingester.IngestBatch(cmd.Context(), emails)
		printBatchReport(rep, parseFailures)
		if rep.Failed > 0 || parseFailures > 0 {
			return fmt.Errorf("%d of %d files failed", rep.Failed+parseFailures, len(paths))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <email-id>",
	Short: "Delete an email and repair its duplicate group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid email id %q: %w", args[0], err)
		}
		if err := app.ingester.Remove(cmd.Context(), id); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted email %d\n", green("✓"), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestFilesCmd)
	rootCmd.AddCommand(deleteCmd)
}

// collectEMLFiles expands directories into their *.eml files. Explicit file
// arguments are kept whatever their extension.
func collectEMLFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".eml") {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func printBatchReport(rep *ingest.BatchReport, parseFailures int) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("Ingested:         %s\n", green(rep.Succeeded))
	fmt.Printf("  New groups:     %d\n", rep.NewGroups)
	fmt.Printf("  Duplicates:     %s\n", yellow(rep.Attached))
	fmt.Printf("  Already stored: %s\n", gray(rep.AlreadyIngested))
	if failed := rep.Failed + parseFailures; failed > 0 {
		fmt.Printf("Failed:           %s\n", red(failed))
		for _, item := range rep.Items {
			if item.Error != "" {
				fmt.Printf("  #%d: %s\n", item.Index, item.Error)
			}
		}
	}
}
