package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

const emailColumns = `id, source_message_id, sender_email, subject, body, sent_at, received_at,
	content_fingerprint, duplicate_group_id, normalized_subject, normalized_body, normalization_version,
	display_subject, display_body, email_type, quoted_content_hash, thread_hash`

const groupColumns = `id, content_fingerprint, primary_email_id, member_count, first_seen, last_seen,
	normalization_version, created_at, updated_at`

var errTxDone = errors.New("transaction already finished")

// tx holds a connection with an open IMMEDIATE transaction.
type tx struct {
	conn *sql.Conn
	done bool
}

func (t *tx) InsertEmail(ctx context.Context, e *types.Email) error {
	now := formatTime(time.Now())
	err := t.conn.QueryRowContext(ctx, `
		INSERT INTO emails (
			source_message_id, sender_email, subject, body, sent_at, received_at,
			content_fingerprint, duplicate_group_id, normalized_subject, normalized_body,
			normalization_version, display_subject, display_body, email_type,
			quoted_content_hash, thread_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_message_id) DO NOTHING
		RETURNING id
	`,
		nullString(e.SourceMessageID),
		e.SenderEmail,
		e.Subject,
		e.Body,
		formatTime(e.SentAt),
		formatTime(e.ReceivedAt),
		e.ContentFingerprint,
		nullInt64(e.DuplicateGroupID),
		e.NormalizedSubject,
		e.NormalizedBody,
		e.NormalizationVersion,
		e.DisplaySubject,
		e.DisplayBody,
		storage.EmailType(e.EmailType),
		nullString(e.QuotedContentHash),
		nullString(e.ThreadHash),
		now,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", mapError(err))
	}
	return nil
}

func (t *tx) EmailBySourceID(ctx context.Context, sourceMessageID string) (*types.Email, error) {
	row := t.conn.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE source_message_id = ?`, sourceMessageID)
	e, err := scanEmail(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get email by source id: %w", mapError(err))
	}
	return e, nil
}

func (t *tx) CreateGroup(ctx context.Context, g *types.DuplicateGroup) (bool, error) {
	now := time.Now().UTC()
	var id int64
	err := t.conn.QueryRowContext(ctx, `
		INSERT INTO duplicate_groups (
			content_fingerprint, primary_email_id, member_count, first_seen, last_seen,
			normalization_version, created_at, updated_at
		) VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(content_fingerprint) DO NOTHING
		RETURNING id
	`,
		g.ContentFingerprint,
		nullInt64(g.PrimaryEmailID),
		formatTime(g.FirstSeen),
		formatTime(g.LastSeen),
		g.NormalizationVersion,
		formatTime(now),
		formatTime(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create duplicate group: %w", mapError(err))
	}

	g.ID = id
	g.MemberCount = 1
	g.CreatedAt = now
	g.UpdatedAt = now
	return true, nil
}

func (t *tx) GroupByFingerprint(ctx context.Context, fingerprint string) (*types.DuplicateGroup, error) {
	row := t.conn.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM duplicate_groups WHERE content_fingerprint = ?`, fingerprint)
	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate group: %w", mapError(err))
	}
	return g, nil
}

func (t *tx) AttachToGroup(ctx context.Context, groupID int64, seen time.Time) (*types.DuplicateGroup, error) {
	ts := formatTime(seen)
	row := t.conn.QueryRowContext(ctx, `
		UPDATE duplicate_groups
		SET member_count = member_count + 1,
			first_seen = MIN(first_seen, ?),
			last_seen = MAX(last_seen, ?),
			updated_at = ?
		WHERE id = ?
		RETURNING `+groupColumns,
		ts, ts, formatTime(time.Now()), groupID,
	)
	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to duplicate group: %w", mapError(err))
	}
	return g, nil
}

func (t *tx) LinkEmail(ctx context.Context, emailID, groupID int64) error {
	res, err := t.conn.ExecContext(ctx, `UPDATE emails SET duplicate_group_id = ? WHERE id = ?`, groupID, emailID)
	if err != nil {
		return fmt.Errorf("failed to link email to group: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to link email %d: %w", emailID, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.done = true
	return t.conn.Close()
}

// Rollback uses a background context so cleanup still happens after the
// caller's context was canceled.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(row scanner) (*types.Email, error) {
	var (
		e                types.Email
		sourceID         sql.NullString
		sentAt, received string
		groupID          sql.NullInt64
		quoted, thread   sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&sourceID,
		&e.SenderEmail,
		&e.Subject,
		&e.Body,
		&sentAt,
		&received,
		&e.ContentFingerprint,
		&groupID,
		&e.NormalizedSubject,
		&e.NormalizedBody,
		&e.NormalizationVersion,
		&e.DisplaySubject,
		&e.DisplayBody,
		&e.EmailType,
		&quoted,
		&thread,
	); err != nil {
		return nil, err
	}

	var err error
	if e.SentAt, err = parseTime(sentAt); err != nil {
		return nil, err
	}
	if e.ReceivedAt, err = parseTime(received); err != nil {
		return nil, err
	}
	e.SourceMessageID = sourceID.String
	e.QuotedContentHash = quoted.String
	e.ThreadHash = thread.String
	e.DuplicateGroupID = int64Ptr(groupID)
	return &e, nil
}

func scanGroup(row scanner) (*types.DuplicateGroup, error) {
	var (
		g                                      types.DuplicateGroup
		primary                                sql.NullInt64
		firstSeen, lastSeen, created, updated string
	)
	if err := row.Scan(
		&g.ID,
		&g.ContentFingerprint,
		&primary,
		&g.MemberCount,
		&firstSeen,
		&lastSeen,
		&g.NormalizationVersion,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&g.FirstSeen, firstSeen},
		{&g.LastSeen, lastSeen},
		{&g.CreatedAt, created},
		{&g.UpdatedAt, updated},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	g.PrimaryEmailID = int64Ptr(primary)
	return &g, nil
}
