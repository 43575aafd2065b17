// Package ingest runs the per-email pipeline: fingerprint, store and group
// in one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/brandon/mail-dedup/internal/fingerprint"
	"github.com/brandon/mail-dedup/internal/grouping"
	"github.com/brandon/mail-dedup/internal/normalize"
	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// Options tunes batch ingestion.
type Options struct {
	// Workers bounds concurrent Ingest calls in IngestBatch.
	Workers int
	// RatePerSecond throttles IngestBatch. Zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// DefaultOptions returns four workers and no throttle.
func DefaultOptions() Options {
	return Options{Workers: 4}
}

// Result is the outcome of ingesting one email.
type Result struct {
	EmailID         int64  `json:"email_id"`
	GroupID         int64  `json:"group_id"`
	IsNewGroup      bool   `json:"is_new_group"`
	AlreadyIngested bool   `json:"already_ingested"`
	MemberCount     int    `json:"member_count"`
	Fingerprint     string `json:"fingerprint"`
	TraceID         string `json:"trace_id"`
}

// Coordinator ties the fingerprint generator, the group manager and a store
// together.
type Coordinator struct {
	store     storage.Storage
	generator *fingerprint.Generator
	groups    *grouping.Manager
	limiter   *rate.Limiter
	workers   int
	logger    *logrus.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store storage.Storage, generator *fingerprint.Generator, groups *grouping.Manager, opts Options, logger *logrus.Logger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	c := &Coordinator{
		store:     store,
		generator: generator,
		groups:    groups,
		workers:   opts.Workers,
		logger:    logger,
		now:       time.Now,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return c
}

// Ingest fingerprints raw, stores it and assigns it to its duplicate group.
// Either every write commits or none does. Re-delivery of an email whose
// SourceMessageID is already stored returns the existing assignment with
// AlreadyIngested set and changes nothing.
func (c *Coordinator) Ingest(ctx context.Context, raw types.RawEmail) (*Result, error) {
	traceID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{
		"trace_id":          traceID,
		"source_message_id": raw.SourceMessageID,
	})

	if repaired := sanitize(&raw); repaired {
		log.Warn("Repaired invalid UTF-8 or NUL bytes in email")
	}

	fp := c.generator.Generate(fingerprint.Message{
		Sender:         raw.Sender,
		Subject:        raw.Subject,
		Body:           raw.Body,
		ThreadPosition: threadPosition(raw),
		MessageID:      raw.SourceMessageID,
		InReplyTo:      raw.InReplyTo,
		References:     raw.References,
	})
	if fp.HTMLFallback {
		log.Warn("Malformed HTML body, fell back to sanitized text")
	}
	log = log.WithField("fingerprint", fp.Value)

	email := &types.Email{
		SourceMessageID:      raw.SourceMessageID,
		SenderEmail:          raw.Sender,
		Subject:              raw.Subject,
		Body:                 raw.Body,
		SentAt:               raw.SentAt,
		ReceivedAt:           raw.ReceivedAt,
		ContentFingerprint:   fp.Value,
		NormalizedSubject:    fp.Subject,
		NormalizedBody:       fp.Body,
		NormalizationVersion: fp.Version,
		DisplaySubject:       fp.DisplaySubject,
		DisplayBody:          fp.DisplayBody,
		EmailType:            string(fp.Kind),
		QuotedContentHash:    fp.QuotedHash,
		ThreadHash:           fp.ThreadHash,
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = c.now()
	}
	if email.SentAt.IsZero() {
		email.SentAt = email.ReceivedAt
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingestion: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return c.existing(ctx, tx, raw.SourceMessageID, traceID, log)
		}
		return nil, fmt.Errorf("failed to store email: %w", err)
	}

	a, err := c.groups.Assign(ctx, tx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to assign duplicate group: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ingestion: %w", err)
	}

	log.WithFields(logrus.Fields{
		"email_id":     email.ID,
		"group_id":     a.Group.ID,
		"new_group":    a.IsNew,
		"member_count": a.Group.MemberCount,
	}).Debug("Email ingested")

	return &Result{
		EmailID:     email.ID,
		GroupID:     a.Group.ID,
		IsNewGroup:  a.IsNew,
		MemberCount: a.Group.MemberCount,
		Fingerprint: fp.Value,
		TraceID:     traceID,
	}, nil
}

func (c *Coordinator) existing(ctx context.Context, tx storage.Tx, sourceID, traceID string, log *logrus.Entry) (*Result, error) {
	e, err := tx.EmailBySourceID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load already ingested email: %w", err)
	}
	res := &Result{
		EmailID:         e.ID,
		AlreadyIngested: true,
		Fingerprint:     e.ContentFingerprint,
		TraceID:         traceID,
	}
	if e.DuplicateGroupID != nil {
		res.GroupID = *e.DuplicateGroupID
	}
	log.WithField("email_id", e.ID).Debug("Email already ingested")
	return res, nil
}

// sanitize makes the text fields storable: invalid UTF-8 becomes U+FFFD and
// NUL bytes are removed. It reports whether anything changed.
func sanitize(raw *types.RawEmail) bool {
	changed := false
	clean := func(s string) string {
		out := strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
		if out != s {
			changed = true
		}
		return out
	}
	raw.SourceMessageID = clean(raw.SourceMessageID)
	raw.Sender = clean(raw.Sender)
	raw.Subject = clean(raw.Subject)
	raw.Body = clean(raw.Body)
	raw.InReplyTo = clean(raw.InReplyTo)
	if len(raw.References) > 0 {
		refs := make([]string, len(raw.References))
		for i, r := range raw.References {
			refs[i] = clean(r)
		}
		raw.References = refs
	}
	return changed
}

// threadPosition prefers message headers and falls back to counting reply
// markers in the subject.
func threadPosition(raw types.RawEmail) int {
	if n := len(raw.References); n > 0 {
		return n
	}
	if raw.InReplyTo != "" {
		return 1
	}
	return normalize.ReplyDepth(raw.Subject)
}

// ItemResult is one entry of a BatchReport.
type ItemResult struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BatchReport summarizes IngestBatch.
type BatchReport struct {
	Items           []ItemResult `json:"items"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	NewGroups       int          `json:"new_groups"`
	Attached        int          `json:"attached"`
	AlreadyIngested int          `json:"already_ingested"`
}

// IngestBatch ingests emails concurrently. A failing email is recorded in
// the report and does not stop the others. Cancelling ctx stops emails that
// have not started yet.
func (c *Coordinator) IngestBatch(ctx context.Context, emails []types.RawEmail) *BatchReport {
	report := &BatchReport{Items: make([]ItemResult, len(emails))}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.workers)

	for i := range emails {
		i := i
		g.Go(func() error {
			item := ItemResult{Index: i}
			res, err := c.ingestThrottled(ctx, emails[i])
			if err != nil {
				item.Error = err.Error()
				c.logger.WithError(err).WithField("index", i).Error("Failed to ingest email")
			} else {
				item.Result = res
			}

			mu.Lock()
			defer mu.Unlock()
			report.Items[i] = item
			switch {
			case err != nil:
				report.Failed++
			case res.AlreadyIngested:
				report.Succeeded++
				report.AlreadyIngested++
			case res.IsNewGroup:
				report.Succeeded++
				report.NewGroups++
			default:
				report.Succeeded++
				report.Attached++
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	c.logger.WithFields(logrus.Fields{
		"total":            len(emails),
		"succeeded":        report.Succeeded,
		"failed":           report.Failed,
		"new_groups":       report.NewGroups,
		"attached":         report.Attached,
		"already_ingested": report.AlreadyIngested,
	}).Info("Batch ingested")
	return report
}

func (c *Coordinator) ingestThrottled(ctx context.Context, raw types.RawEmail) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}
	return c.Ingest(ctx, raw)
}

// Remove deletes a stored email and repairs its group.
func (c *Coordinator) Remove(ctx context.Context, emailID int64) error {
	if err := c.store.DeleteEmail(ctx, emailID); err != nil {
		return fmt.Errorf("failed to remove email %d: %w", emailID, err)
	}
	return nil
}
