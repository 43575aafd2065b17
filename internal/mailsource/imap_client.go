package mailsource

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/config"
	"github.com/brandon/mail-dedup/pkg/types"
)

// Fetcher returns the most recent messages of a mailbox.
type Fetcher interface {
	FetchRecent(ctx context.Context, mailbox string, limit int) ([]types.RawEmail, error)
	Close() error
}

// IMAPClient wraps an IMAP client connection
type IMAPClient struct {
	config *config.AccountConfig
	client *client.Client
	logger *logrus.Logger
}

var _ Fetcher = (*IMAPClient)(nil)

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{config: cfg, logger: logger}
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect() error {
	if c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)
	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.client = cl
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}

// FetchRecent fetches up to limit of the newest messages in mailbox without
// marking them seen. Messages that fail to parse are logged and skipped.
func (c *IMAPClient) FetchRecent(ctx context.Context, mailbox string, limit int) ([]types.RawEmail, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := uint32(1)
	if limit > 0 && mbox.Messages > uint32(limit) {
		start = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var emails []types.RawEmail
	for msg := range messages {
		raw, err := c.parseMessage(msg, section, mailbox, mbox.UidValidity)
		if err != nil {
			c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Skipping unparseable message")
			continue
		}
		emails = append(emails, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account": c.config.Name,
		"mailbox": mailbox,
		"count":   len(emails),
	}).Debug("Fetched messages")
	return emails, nil
}

func (c *IMAPClient) parseMessage(msg *imap.Message, section *imap.BodySectionName, mailbox string, uidValidity uint32) (types.RawEmail, error) {
	body := msg.GetBody(section)
	if body == nil {
		return types.RawEmail{}, fmt.Errorf("message %d has no body", msg.Uid)
	}
	raw, err := ParseMessage(body)
	if err != nil {
		return types.RawEmail{}, err
	}
	if raw.SourceMessageID == "" {
		raw.SourceMessageID = fallbackSourceID(c.config.Name, mailbox, uidValidity, msg.Uid)
	}
	return withReceived(raw, msg.InternalDate), nil
}
