package postgres

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// Tests run against a live server when MAILDEDUP_TEST_PG_URL is set.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	url := os.Getenv("MAILDEDUP_TEST_PG_URL")
	if url == "" {
		t.Skip("MAILDEDUP_TEST_PG_URL not set")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := New(context.Background(), DefaultConfig(url), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEmail(sourceID, fingerprint string, sent time.Time) *types.Email {
	return &types.Email{
		SourceMessageID:      sourceID,
		SenderEmail:          "alice@example.com",
		Subject:              "Report",
		Body:                 "body",
		SentAt:               sent,
		ReceivedAt:           sent.Add(time.Minute),
		ContentFingerprint:   fingerprint,
		NormalizedSubject:    "report",
		NormalizedBody:       "body",
		NormalizationVersion: "fp1",
	}
}

func ingest(ctx context.Context, s *Storage, e *types.Email) (int64, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.InsertEmail(ctx, e); err != nil {
		return 0, err
	}
	g := &types.DuplicateGroup{
		ContentFingerprint:   e.ContentFingerprint,
		PrimaryEmailID:       &e.ID,
		FirstSeen:            e.SentAt,
		LastSeen:             e.SentAt,
		NormalizationVersion: e.NormalizationVersion,
	}
	created, err := tx.CreateGroup(ctx, g)
	if err != nil {
		return 0, err
	}
	groupID := g.ID
	if !created {
		existing, err := tx.GroupByFingerprint(ctx, e.ContentFingerprint)
		if err != nil {
			return 0, err
		}
		if _, err := tx.AttachToGroup(ctx, existing.ID, e.SentAt); err != nil {
			return 0, err
		}
		groupID = existing.ID
	}
	if err := tx.LinkEmail(ctx, e.ID, groupID); err != nil {
		return 0, err
	}
	return groupID, tx.Commit(ctx)
}

func TestCreateAndAttach(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fp := uuid.NewString()

	first := newEmail("", fp, base)
	second := newEmail("", fp, base.Add(-time.Hour))

	g1, err := ingest(ctx, s, first)
	require.NoError(t, err)
	g2, err := ingest(ctx, s, second)
	require.NoError(t, err)
	assert.Equal(t, g1, g2)

	detail, err := s.GroupDetail(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Group.MemberCount)
	assert.True(t, detail.Group.FirstSeen.Equal(base.Add(-time.Hour)))
	assert.True(t, detail.Group.LastSeen.Equal(base))
	require.NotNil(t, detail.Group.PrimaryEmailID)
	assert.Equal(t, first.ID, *detail.Group.PrimaryEmailID)

	m, err := s.GroupMembership(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, m.Grouped)
	assert.False(t, m.IsPrimary)
	assert.Equal(t, first.ID, m.PrimaryEmailID)
}

func TestInsertEmailIsIdempotentOnSourceID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	sourceID := uuid.NewString()

	_, err := ingest(ctx, s, newEmail(sourceID, uuid.NewString(), base))
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	err = tx.InsertEmail(ctx, newEmail(sourceID, uuid.NewString(), base))
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	existing, err := tx.EmailBySourceID(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, sourceID, existing.SourceMessageID)
}

func TestConcurrentIngestSharesOneGroup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fp := uuid.NewString()

	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			groupID, err := ingest(ctx, s, newEmail("", fp, base.Add(time.Duration(i)*time.Minute)))
			assert.NoError(t, err)
			mu.Lock()
			ids[groupID] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, ids, 1)
	for id := range ids {
		detail, err := s.GroupDetail(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, n, detail.Group.MemberCount)
		assert.Len(t, detail.Members, n)
		assert.True(t, detail.Group.FirstSeen.Equal(base))
		assert.True(t, detail.Group.LastSeen.Equal(base.Add((n-1)*time.Minute)))
	}
}

func TestDeleteEmailRepairsGroup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fp := uuid.NewString()

	first := newEmail("", fp, base)
	second := newEmail("", fp, base.Add(time.Hour))
	groupID, err := ingest(ctx, s, first)
	require.NoError(t, err)
	_, err = ingest(ctx, s, second)
	require.NoError(t, err)

	require.NoError(t, s.DeleteEmail(ctx, first.ID))

	detail, err := s.GroupDetail(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Group.MemberCount)
	require.NotNil(t, detail.Group.PrimaryEmailID)
	assert.Equal(t, second.ID, *detail.Group.PrimaryEmailID)
	assert.False(t, detail.PrimaryMissing)
	assert.True(t, detail.Group.FirstSeen.Equal(second.SentAt))

	require.NoError(t, s.DeleteEmail(ctx, second.ID))
	_, err = s.GroupDetail(ctx, groupID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListDuplicateGroupsFiltersBySender(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fp := uuid.NewString()
	sender := uuid.NewString() + "@example.org"

	for i := 0; i < 2; i++ {
		e := newEmail("", fp, base.Add(time.Duration(i)*time.Hour))
		e.SenderEmail = sender
		_, err := ingest(ctx, s, e)
		require.NoError(t, err)
	}

	groups, err := s.ListDuplicateGroups(ctx, storage.ListOptions{MinMembers: 2, Sender: sender})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, fp, groups[0].ContentFingerprint)
	assert.Equal(t, 2, groups[0].MemberCount)
}

func TestCreateGroupFailureKeepsTransactionUsable(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback() //nolint:errcheck

	missing := int64(-1)
	_, err = tx.CreateGroup(ctx, &types.DuplicateGroup{
		ContentFingerprint:   uuid.NewString(),
		PrimaryEmailID:       &missing,
		FirstSeen:            base,
		LastSeen:             base,
		NormalizationVersion: "fp1",
	})
	require.Error(t, err)

	e := newEmail(uuid.NewString(), uuid.NewString(), base)
	e.EmailType = "forward"
	require.NoError(t, tx.InsertEmail(ctx, e))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "forward", got.EmailType)
}

func TestListDuplicateGroupsMatchesFiltersLiterally(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	tag := uuid.NewString()

	for _, subject := range []string{tag + " 100% done", tag + " 1000 done"} {
		fp := uuid.NewString()
		for i := 0; i < 2; i++ {
			e := newEmail("", fp, base.Add(time.Duration(i)*time.Hour))
			e.Subject = subject
			_, err := ingest(ctx, s, e)
			require.NoError(t, err)
		}
	}

	groups, err := s.ListDuplicateGroups(ctx, storage.ListOptions{MinMembers: 2, Subject: tag + " 100%"})
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}
