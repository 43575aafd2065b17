package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-dedup/internal/alias"
	"github.com/brandon/mail-dedup/internal/fingerprint"
	"github.com/brandon/mail-dedup/internal/grouping"
	"github.com/brandon/mail-dedup/internal/normalize"
	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/internal/storage/sqlite"
	"github.com/brandon/mail-dedup/pkg/types"
)

var base = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newStore(t *testing.T) *sqlite.Storage {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "dedup.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newCoordinator(store storage.Storage, opts Options) *Coordinator {
	logger := quietLogger()
	gen := fingerprint.NewGenerator(
		normalize.New(normalize.DefaultOptions()),
		alias.New(alias.DefaultTable().WithDotInsensitive("co.com")),
	)
	c := NewCoordinator(store, gen, grouping.NewManager(grouping.DefaultMaxAttempts, logger), opts, logger)
	c.now = func() time.Time { return base }
	return c
}

func report(sent time.Time) types.RawEmail {
	return types.RawEmail{
		Sender:  "a.b@co.com",
		Subject: "Report",
		Body:    "The quarterly report is attached.\n\nThanks,\nAlice",
		SentAt:  sent,
	}
}

func TestIngestGroupsEquivalentMessages(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	first, err := c.Ingest(ctx, report(base))
	require.NoError(t, err)
	assert.True(t, first.IsNewGroup)
	assert.Equal(t, 1, first.MemberCount)
	assert.NotEmpty(t, first.TraceID)

	second, err := c.Ingest(ctx, types.RawEmail{
		Sender:  "Alice <ab+lists@co.com>",
		Subject: "Re: Report",
		Body:    "<html><body><p>The quarterly report is attached.</p><p>Thanks,<br>Alice</p></body></html>",
		SentAt:  base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, second.IsNewGroup)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 2, second.MemberCount)

	m, err := s.GroupMembership(ctx, second.EmailID)
	require.NoError(t, err)
	assert.Equal(t, first.EmailID, m.PrimaryEmailID)
	assert.False(t, m.IsPrimary)
	assert.Equal(t, 2, m.MemberCount)
}

func TestIngestKeepsDistinctContentApart(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	first, err := c.Ingest(ctx, report(base))
	require.NoError(t, err)

	other := report(base)
	other.Body = "The annual report is attached."
	second, err := c.Ingest(ctx, other)
	require.NoError(t, err)

	assert.True(t, second.IsNewGroup)
	assert.NotEqual(t, first.GroupID, second.GroupID)
}

func TestIngestRedelivery(t *testing.T) {
	tests := []struct {
		name        string
		sourceID    string
		wantCount   int
		wantAlready bool
	}{
		{name: "with source id", sourceID: "<abc@mail.co.com>", wantCount: 1, wantAlready: true},
		{name: "without source id", sourceID: "", wantCount: 2, wantAlready: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			c := newCoordinator(s, DefaultOptions())
			ctx := context.Background()

			raw := report(base)
			raw.SourceMessageID = tt.sourceID
			first, err := c.Ingest(ctx, raw)
			require.NoError(t, err)
			again, err := c.Ingest(ctx, raw)
			require.NoError(t, err)

			assert.Equal(t, first.GroupID, again.GroupID)
			assert.Equal(t, tt.wantAlready, again.AlreadyIngested)
			if tt.wantAlready {
				assert.Equal(t, first.EmailID, again.EmailID)
			}

			detail, err := s.GroupDetail(ctx, first.GroupID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, detail.Group.MemberCount)
			assert.Len(t, detail.Members, tt.wantCount)
		})
	}
}

func TestIngestConcurrentSameFingerprint(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	const n = 12
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Ingest(ctx, report(base.Add(time.Duration(i)*time.Minute)))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	newGroups := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].GroupID, r.GroupID)
		if r.IsNewGroup {
			newGroups++
		}
	}
	assert.Equal(t, 1, newGroups)

	detail, err := s.GroupDetail(ctx, results[0].GroupID)
	require.NoError(t, err)
	assert.Equal(t, n, detail.Group.MemberCount)
	assert.Len(t, detail.Members, n)
	assert.True(t, detail.Group.FirstSeen.Equal(base))
	assert.True(t, detail.Group.LastSeen.Equal(base.Add((n-1)*time.Minute)))
}

func TestIngestSeenBoundsAndTimeFallback(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	late, err := c.Ingest(ctx, report(base.Add(48*time.Hour)))
	require.NoError(t, err)
	_, err = c.Ingest(ctx, report(base.Add(-48*time.Hour)))
	require.NoError(t, err)

	noDates := report(time.Time{})
	fromReceived, err := c.Ingest(ctx, noDates)
	require.NoError(t, err)

	withReceived := report(time.Time{})
	withReceived.ReceivedAt = base.Add(72 * time.Hour)
	_, err = c.Ingest(ctx, withReceived)
	require.NoError(t, err)

	e, err := s.GetEmail(ctx, fromReceived.EmailID)
	require.NoError(t, err)
	assert.True(t, e.SentAt.Equal(base))
	assert.True(t, e.ReceivedAt.Equal(base))

	detail, err := s.GroupDetail(ctx, late.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 4, detail.Group.MemberCount)
	assert.True(t, detail.Group.FirstSeen.Equal(base.Add(-48*time.Hour)))
	assert.True(t, detail.Group.LastSeen.Equal(base.Add(72*time.Hour)))
	for _, m := range detail.Members {
		assert.False(t, m.SentAt.Before(detail.Group.FirstSeen))
		assert.False(t, m.SentAt.After(detail.Group.LastSeen))
	}
}

// failingStore fails LinkEmail to exercise rollback.
type failingStore struct {
	storage.Storage
}

func (f failingStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := f.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{Tx: tx}, nil
}

type failingTx struct {
	storage.Tx
}

var errLink = errors.New("link failed")

func (failingTx) LinkEmail(ctx context.Context, emailID, groupID int64) error {
	return errLink
}

func TestIngestRollsBackOnFailure(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(failingStore{Storage: s}, DefaultOptions())
	ctx := context.Background()

	_, err := c.Ingest(ctx, report(base))
	require.ErrorIs(t, err, errLink)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Emails)
	assert.Zero(t, stats.Groups)
}

func TestIngestBatch(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, Options{Workers: 3, RatePerSecond: 1000, Burst: 10})
	ctx := context.Background()

	var emails []types.RawEmail
	for i := 0; i < 5; i++ {
		raw := report(base.Add(time.Duration(i) * time.Minute))
		raw.SourceMessageID = fmt.Sprintf("<m%d@co.com>", i)
		emails = append(emails, raw)
	}
	emails = append(emails, emails[0])
	unique := report(base)
	unique.Body = "Something else entirely"
	emails = append(emails, unique)

	rep := c.IngestBatch(ctx, emails)
	assert.Equal(t, len(emails), rep.Succeeded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 2, rep.NewGroups)
	assert.Equal(t, 4, rep.Attached)
	assert.Equal(t, 1, rep.AlreadyIngested)
	require.Len(t, rep.Items, len(emails))
	for i, item := range rep.Items {
		assert.Equal(t, i, item.Index)
		assert.NotNil(t, item.Result)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Emails)
	assert.Equal(t, 2, stats.Groups)
	assert.Equal(t, 1, stats.DuplicateGroups)
	assert.Equal(t, 4, stats.DuplicateEmails)
}

func TestIngestBatchContinuesPastFailures(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(failingStore{Storage: s}, Options{Workers: 2})

	rep := c.IngestBatch(context.Background(), []types.RawEmail{report(base), report(base)})
	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Succeeded)
	for _, item := range rep.Items {
		assert.Contains(t, item.Error, "link failed")
	}
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	first, err := c.Ingest(ctx, report(base))
	require.NoError(t, err)
	second, err := c.Ingest(ctx, report(base.Add(time.Hour)))
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, first.EmailID))

	m, err := s.GroupMembership(ctx, second.EmailID)
	require.NoError(t, err)
	assert.True(t, m.IsPrimary)
	assert.Equal(t, 1, m.MemberCount)

	assert.ErrorIs(t, c.Remove(ctx, first.EmailID), storage.ErrNotFound)
}

func TestIngestStoresMessageStructure(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	tests := []struct {
		name       string
		raw        types.RawEmail
		wantType   string
		wantQuoted bool
	}{
		{
			name: "original",
			raw: types.RawEmail{
				SourceMessageID: "<plan@co.com>",
				Sender:          "alice@co.com",
				Subject:         "Plan",
				Body:            "Here is the plan.",
				SentAt:          base,
			},
			wantType: "original",
		},
		{
			name: "reply",
			raw: types.RawEmail{
				SourceMessageID: "<reply@example.com>",
				Sender:          "bob@example.com",
				Subject:         "Re: Plan",
				Body:            "Looks good to me.\n\n> Here is the plan.",
				SentAt:          base.Add(time.Hour),
				InReplyTo:       "plan@co.com",
				References:      []string{"plan@co.com"},
			},
			wantType:   "reply",
			wantQuoted: true,
		},
		{
			name: "forward",
			raw: types.RawEmail{
				SourceMessageID: "<fwd@example.com>",
				Sender:          "carol@example.com",
				Subject:         "Fwd: Plan",
				Body:            "FYI\n---------- Forwarded message ---------\nFrom: alice@co.com\nSubject: Plan\n\nHere is the plan.",
				SentAt:          base.Add(2 * time.Hour),
			},
			wantType:   "forward",
			wantQuoted: true,
		},
	}

	stored := make(map[string]*types.Email)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Ingest(ctx, tt.raw)
			require.NoError(t, err)

			e, err := s.GetEmail(ctx, res.EmailID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, e.EmailType)
			assert.NotEmpty(t, e.ThreadHash)
			if tt.wantQuoted {
				assert.NotEmpty(t, e.QuotedContentHash)
			} else {
				assert.Empty(t, e.QuotedContentHash)
			}
			stored[tt.name] = e
		})
	}

	require.Len(t, stored, 3)
	assert.Equal(t, stored["original"].ThreadHash, stored["reply"].ThreadHash)
	assert.Equal(t, stored["reply"].QuotedContentHash, stored["forward"].QuotedContentHash)
}

func TestIngestKeepsDisplayText(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	res, err := c.Ingest(ctx, types.RawEmail{
		Sender:  "alice@co.com",
		Subject: "RE: Quarterly  Report for ACME",
		Body:    "Hello Team,\n\nThe Q3 numbers are In.",
		SentAt:  base,
	})
	require.NoError(t, err)

	e, err := s.GetEmail(ctx, res.EmailID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report for ACME", e.DisplaySubject)
	assert.Equal(t, "Hello Team, The Q3 numbers are In.", e.DisplayBody)
	assert.Equal(t, "quarterly report for acme", e.NormalizedSubject)
	assert.Equal(t, "hello team, the q3 numbers are in.", e.NormalizedBody)

	d, err := s.GroupDetail(ctx, res.GroupID)
	require.NoError(t, err)
	require.Len(t, d.Members, 1)
	assert.Equal(t, "Quarterly Report for ACME", d.Members[0].DisplaySubject)
	assert.Equal(t, "original", d.Members[0].EmailType)
}

func TestIngestRepairsInvalidText(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, DefaultOptions())
	ctx := context.Background()

	res, err := c.Ingest(ctx, types.RawEmail{
		Sender:  "alice@co.com",
		Subject: "Bad\x00 bytes",
		Body:    "caf\xe9 menu\x00\xff",
		SentAt:  base,
	})
	require.NoError(t, err)

	e, err := s.GetEmail(ctx, res.EmailID)
	require.NoError(t, err)
	assert.Equal(t, "Bad bytes", e.Subject)
	assert.Equal(t, "caf\uFFFD menu\uFFFD", e.Body)
	assert.True(t, utf8.ValidString(e.Body))
}
