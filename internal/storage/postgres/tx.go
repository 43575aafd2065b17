package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

const emailColumns = `id, source_message_id, sender_email, subject, body, sent_at, received_at,
	content_fingerprint, duplicate_group_id, normalized_subject, normalized_body, normalization_version,
	display_subject, display_body, email_type, quoted_content_hash, thread_hash`

const groupColumns = `id, content_fingerprint, primary_email_id, member_count, first_seen, last_seen,
	normalization_version, created_at, updated_at`

type tx struct {
	tx pgx.Tx
}

func (t *tx) InsertEmail(ctx context.Context, e *types.Email) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO emails (
			source_message_id, sender_email, subject, body, sent_at, received_at,
			content_fingerprint, duplicate_group_id, normalized_subject, normalized_body,
			normalization_version, display_subject, display_body, email_type,
			quoted_content_hash, thread_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source_message_id) DO NOTHING
		RETURNING id
	`,
		nullable(e.SourceMessageID),
		e.SenderEmail,
		e.Subject,
		e.Body,
		e.SentAt.UTC(),
		e.ReceivedAt.UTC(),
		e.ContentFingerprint,
		e.DuplicateGroupID,
		e.NormalizedSubject,
		e.NormalizedBody,
		e.NormalizationVersion,
		e.DisplaySubject,
		e.DisplayBody,
		storage.EmailType(e.EmailType),
		nullable(e.QuotedContentHash),
		nullable(e.ThreadHash),
	).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", mapError(err))
	}
	return nil
}

func (t *tx) EmailBySourceID(ctx context.Context, sourceMessageID string) (*types.Email, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE source_message_id = $1`, sourceMessageID)
	e, err := scanEmail(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get email by source id: %w", mapError(err))
	}
	return e, nil
}

// CreateGroup runs inside a savepoint: Postgres aborts the whole transaction
// on a unique violation, and the savepoint confines that to this statement so
// the caller can re-read and attach.
func (t *tx) CreateGroup(ctx context.Context, g *types.DuplicateGroup) (bool, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open savepoint: %w", err)
	}

	var (
		id      int64
		created time.Time
	)
	err = sp.QueryRow(ctx, `
		INSERT INTO duplicate_groups (
			content_fingerprint, primary_email_id, member_count, first_seen, last_seen,
			normalization_version
		) VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (content_fingerprint) DO NOTHING
		RETURNING id, created_at
	`,
		g.ContentFingerprint,
		g.PrimaryEmailID,
		g.FirstSeen.UTC(),
		g.LastSeen.UTC(),
		g.NormalizationVersion,
	).Scan(&id, &created)
	if err != nil {
		if rerr := sp.Rollback(ctx); rerr != nil {
			return false, fmt.Errorf("failed to roll back savepoint: %w", rerr)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create duplicate group: %w", mapError(err))
	}
	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to release savepoint: %w", err)
	}

	g.ID = id
	g.MemberCount = 1
	g.CreatedAt = created
	g.UpdatedAt = created
	return true, nil
}

func (t *tx) GroupByFingerprint(ctx context.Context, fingerprint string) (*types.DuplicateGroup, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM duplicate_groups WHERE content_fingerprint = $1`, fingerprint)
	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate group: %w", mapError(err))
	}
	return g, nil
}

// AttachToGroup relies on the row lock taken by UPDATE: concurrent attaches
// to one group serialize and each sees the previous increment.
func (t *tx) AttachToGroup(ctx context.Context, groupID int64, seen time.Time) (*types.DuplicateGroup, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE duplicate_groups
		SET member_count = member_count + 1,
			first_seen = LEAST(first_seen, $1),
			last_seen = GREATEST(last_seen, $1),
			updated_at = NOW()
		WHERE id = $2
		RETURNING `+groupColumns,
		seen.UTC(), groupID,
	)
	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to duplicate group: %w", mapError(err))
	}
	return g, nil
}

func (t *tx) LinkEmail(ctx context.Context, emailID, groupID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE emails SET duplicate_group_id = $1 WHERE id = $2`, groupID, emailID)
	if err != nil {
		return fmt.Errorf("failed to link email to group: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to link email %d: %w", emailID, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanEmail(row pgx.Row) (*types.Email, error) {
	var (
		e              types.Email
		sourceID       *string
		quoted, thread *string
	)
	if err := row.Scan(
		&e.ID,
		&sourceID,
		&e.SenderEmail,
		&e.Subject,
		&e.Body,
		&e.SentAt,
		&e.ReceivedAt,
		&e.ContentFingerprint,
		&e.DuplicateGroupID,
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
	if sourceID != nil {
		e.SourceMessageID = *sourceID
	}
	if quoted != nil {
		e.QuotedContentHash = *quoted
	}
	if thread != nil {
		e.ThreadHash = *thread
	}
	e.SentAt = e.SentAt.UTC()
	e.ReceivedAt = e.ReceivedAt.UTC()
	return &e, nil
}

func scanGroup(row pgx.Row) (*types.DuplicateGroup, error) {
	var g types.DuplicateGroup
	if err := row.Scan(
		&g.ID,
		&g.ContentFingerprint,
		&g.PrimaryEmailID,
		&g.MemberCount,
		&g.FirstSeen,
		&g.LastSeen,
		&g.NormalizationVersion,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.FirstSeen = g.FirstSeen.UTC()
	g.LastSeen = g.LastSeen.UTC()
	return &g, nil
}
