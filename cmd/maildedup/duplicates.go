package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brandon/mail-dedup/internal/report"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List duplicate groups",
	Long: `List groups of duplicate emails, most recently seen first.

Examples:
  maildedup duplicates
  maildedup duplicates --sender alice@example.com --since 2024-01-01T00:00:00Z
  maildedup duplicates --min-members 1 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		q := report.ListQuery{}
		q.MinMembers, _ = flags.GetInt("min-members")
		q.Sender, _ = flags.GetString("sender")
		q.Subject, _ = flags.GetString("subject")
		q.Limit, _ = flags.GetInt("limit")
		q.Offset, _ = flags.GetInt("offset")
		asJSON, _ := flags.GetBool("json")

		var err error
		if q.Since, err = timeFlag(cmd, "since"); err != nil {
			return err
		}
		if q.Until, err = timeFlag(cmd, "until"); err != nil {
			return err
		}

		groups, err := app.reports.ListGroups(cmd.Context(), q)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(groups)
		}

		if len(groups) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No duplicate groups"))
			return nil
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		for _, g := range groups {
			fmt.Printf("%s  %s members  %s .. %s  %s\n",
				yellow(fmt.Sprintf("#%d", g.ID)),
				strconv.Itoa(g.MemberCount),
				g.FirstSeen.Format("2006-01-02 15:04"),
				g.LastSeen.Format("2006-01-02 15:04"),
				g.ContentFingerprint[:12])
		}
		return nil
	},
}

var groupCmd = &cobra.Command{
	Use:   "group <group-id>",
	Short: "Show a duplicate group and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid group id %q: %w", args[0], err)
		}
		d, err := app.reports.Group(cmd.Context(), id)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(d)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== Group #%d ===", d.Group.ID)))
		fmt.Printf("Fingerprint: %s (%s)\n", d.Group.ContentFingerprint, d.Group.NormalizationVersion)
		fmt.Printf("Members:     %d\n", d.Group.MemberCount)
		fmt.Printf("First seen:  %s\n", d.Group.FirstSeen.Format(time.RFC3339))
		fmt.Printf("Last seen:   %s\n", d.Group.LastSeen.Format(time.RFC3339))
		fmt.Printf("Senders:     %v\n", d.CanonicalSenders)
		if d.PrimaryMissing {
			fmt.Printf("%s\n", red("Stored primary is missing; showing earliest member as primary"))
		}
		fmt.Println()
		for _, m := range d.Members {
			marker := " "
			if d.Group.PrimaryEmailID != nil && *d.Group.PrimaryEmailID == m.EmailID {
				marker = green("●")
			}
			fmt.Printf("  %s %-6d %s  %-8s %-30s %s\n", marker, m.EmailID, m.SentAt.Format("2006-01-02 15:04"), m.EmailType, m.SenderEmail, m.Subject)
		}
		fmt.Println()
		return nil
	},
}

var emailGroupCmd = &cobra.Command{
	Use:   "email-group <email-id>",
	Short: "Show which duplicate group an email belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid email id %q: %w", args[0], err)
		}
		m, err := app.reports.Membership(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show deduplication statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.reports.Stats(cmd.Context())
		if err != nil {
			return err
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("Emails:           %d\n", st.Emails)
		fmt.Printf("Groups:           %d\n", st.Groups)
		fmt.Printf("Duplicate groups: %s\n", yellow(st.DuplicateGroups))
		fmt.Printf("Duplicate emails: %s\n", yellow(st.DuplicateEmails))
		return nil
	},
}

func init() {
	duplicatesCmd.Flags().Int("min-members", report.DefaultMinMembers, "Minimum group size")
	duplicatesCmd.Flags().String("sender", "", "Only groups with a member from this sender (substring)")
	duplicatesCmd.Flags().String("subject", "", "Only groups with a member whose subject matches (substring)")
	duplicatesCmd.Flags().String("since", "", "Only groups last seen at or after this time (RFC 3339)")
	duplicatesCmd.Flags().String("until", "", "Only groups first seen at or before this time (RFC 3339)")
	duplicatesCmd.Flags().Int("limit", 0, "Maximum groups to list (default: SEARCH_RESULT_LIMIT)")
	duplicatesCmd.Flags().Int("offset", 0, "Groups to skip")
	duplicatesCmd.Flags().Bool("json", false, "Output JSON")
	groupCmd.Flags().Bool("json", false, "Output JSON")

	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(emailGroupCmd)
	rootCmd.AddCommand(statsCmd)
}

func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
