package mailsource

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/config"
	"github.com/brandon/mail-dedup/internal/ingest"
	"github.com/brandon/mail-dedup/pkg/types"
)

// Ingester is the part of ingest.Coordinator the manager needs.
type Ingester interface {
	IngestBatch(ctx context.Context, emails []types.RawEmail) *ingest.BatchReport
}

// Manager syncs configured accounts into the ingestion pipeline
type Manager struct {
	fetchers   map[string]Fetcher
	ingester   Ingester
	mailbox    string
	fetchLimit int
	logger     *logrus.Logger
}

// NewManager creates an IMAP fetcher per configured account
func NewManager(cfg *config.Config, ingester Ingester, logger *logrus.Logger) *Manager {
	fetchers := make(map[string]Fetcher, len(cfg.Accounts))
	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		fetchers[acc.Name] = NewIMAPClient(acc, logger)
	}
	return newManager(fetchers, ingester, cfg.IMAPMailbox, cfg.IMAPFetchLimit, logger)
}

func newManager(fetchers map[string]Fetcher, ingester Ingester, mailbox string, fetchLimit int, logger *logrus.Logger) *Manager {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Manager{
		fetchers:   fetchers,
		ingester:   ingester,
		mailbox:    mailbox,
		fetchLimit: fetchLimit,
		logger:     logger,
	}
}

// Accounts lists the configured account names in sorted order
func (m *Manager) Accounts() []string {
	names := make([]string, 0, len(m.fetchers))
	for name := range m.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyncAccount fetches recent mail of one account and ingests it. An empty
// mailbox uses the configured default.
func (m *Manager) SyncAccount(ctx context.Context, accountName, mailbox string) (*ingest.BatchReport, error) {
	fetcher, ok := m.fetchers[accountName]
	if !ok {
		return nil, fmt.Errorf("account not found: %s", accountName)
	}
	if mailbox == "" {
		mailbox = m.mailbox
	}

	emails, err := fetcher.FetchRecent(ctx, mailbox, m.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", accountName, mailbox, err)
	}

	report := m.ingester.IngestBatch(ctx, emails)
	m.logger.WithFields(logrus.Fields{
		"account":    accountName,
		"mailbox":    mailbox,
		"fetched":    len(emails),
		"new_groups": report.NewGroups,
		"attached":   report.Attached,
		"failed":     report.Failed,
	}).Info("Synced mailbox")
	return report, nil
}

// SyncAll syncs every account. A failing account is logged and skipped; the
// returned map holds the reports of the accounts that succeeded.
func (m *Manager) SyncAll(ctx context.Context) map[string]*ingest.BatchReport {
	reports := make(map[string]*ingest.BatchReport, len(m.fetchers))
	for _, name := range m.Accounts() {
		report, err := m.SyncAccount(ctx, name, "")
		if err != nil {
			m.logger.WithError(err).WithField("account", name).Warn("Failed to sync account")
			continue
		}
		reports[name] = report
	}
	return reports
}

// Close closes all connections
func (m *Manager) Close() error {
	var firstErr error
	for _, f := range m.fetchers {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
