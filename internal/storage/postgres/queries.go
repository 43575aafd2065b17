package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// GetEmail returns a stored email by id.
func (s *Storage) GetEmail(ctx context.Context, id int64) (*types.Email, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get email %d: %w", id, mapError(err))
	}
	return e, nil
}

// GroupMembership mirrors the SQLite backend: a missing primary is replaced
// by the earliest remaining member and flagged.
func (s *Storage) GroupMembership(ctx context.Context, emailID int64) (*types.Membership, error) {
	var (
		groupID     *int64
		primaryID   *int64
		memberCount *int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT e.duplicate_group_id, p.id, g.member_count
		FROM emails e
		LEFT JOIN duplicate_groups g ON g.id = e.duplicate_group_id
		LEFT JOIN emails p ON p.id = g.primary_email_id AND p.duplicate_group_id = g.id
		WHERE e.id = $1
	`, emailID).Scan(&groupID, &primaryID, &memberCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership of email %d: %w", emailID, mapError(err))
	}

	m := &types.Membership{EmailID: emailID}
	if groupID == nil || memberCount == nil {
		return m, nil
	}
	m.Grouped = true
	m.GroupID = *groupID
	m.MemberCount = *memberCount

	if primaryID != nil {
		m.PrimaryEmailID = *primaryID
	} else {
		err := s.pool.QueryRow(ctx, `
			SELECT id FROM emails WHERE duplicate_group_id = $1 ORDER BY sent_at, id LIMIT 1
		`, m.GroupID).Scan(&m.PrimaryEmailID)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest member of group %d: %w", m.GroupID, mapError(err))
		}
		m.PrimaryMissing = true
	}
	m.IsPrimary = m.PrimaryEmailID == emailID
	return m, nil
}

// ListDuplicateGroups returns groups newest first.
func (s *Storage) ListDuplicateGroups(ctx context.Context, opts storage.ListOptions) ([]*types.DuplicateGroup, error) {
	if opts.MinMembers < 1 {
		opts.MinMembers = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	args := []any{opts.MinMembers}
	conditions := []string{"g.member_count >= $1"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Sender != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM emails e WHERE e.duplicate_group_id = g.id AND e.sender_email ILIKE "+arg(storage.ContainsPattern(opts.Sender))+" ESCAPE '\\')")
	}
	if opts.Subject != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM emails e WHERE e.duplicate_group_id = g.id AND e.subject ILIKE "+arg(storage.ContainsPattern(opts.Subject))+" ESCAPE '\\')")
	}
	if opts.Since != nil {
		conditions = append(conditions, "g.last_seen >= "+arg(opts.Since.UTC()))
	}
	if opts.Until != nil {
		conditions = append(conditions, "g.first_seen <= "+arg(opts.Until.UTC()))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM duplicate_groups g
		WHERE %s
		ORDER BY g.last_seen DESC, g.id DESC
		LIMIT %s OFFSET %s
	`, prefixed("g", groupColumns), strings.Join(conditions, " AND "), arg(opts.Limit), arg(opts.Offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}
	defer rows.Close()

	var groups []*types.DuplicateGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}
	return groups, nil
}

// GroupDetail returns a group with its members ordered by send time.
func (s *Storage) GroupDetail(ctx context.Context, groupID int64) (*types.GroupDetail, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM duplicate_groups WHERE id = $1`, groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate group %d: %w", groupID, mapError(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_email, subject, display_subject, email_type, sent_at
		FROM emails
		WHERE duplicate_group_id = $1
		ORDER BY sent_at, id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	detail := &types.GroupDetail{Group: *g}
	for rows.Next() {
		var m types.GroupMember
		if err := rows.Scan(&m.EmailID, &m.SenderEmail, &m.Subject, &m.DisplaySubject, &m.EmailType, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		m.SentAt = m.SentAt.UTC()
		detail.Members = append(detail.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}

	if len(detail.Members) > 0 {
		found := false
		if detail.Group.PrimaryEmailID != nil {
			for _, m := range detail.Members {
				if m.EmailID == *detail.Group.PrimaryEmailID {
					found = true
					break
				}
			}
		}
		if !found {
			id := detail.Members[0].EmailID
			detail.Group.PrimaryEmailID = &id
			detail.PrimaryMissing = true
		}
	}
	storage.DistinctMembers(detail)
	return detail, nil
}

// Stats counts emails and groups.
func (s *Storage) Stats(ctx context.Context) (*types.Stats, error) {
	var st types.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM emails),
			(SELECT COUNT(*) FROM duplicate_groups),
			(SELECT COUNT(*) FROM duplicate_groups WHERE member_count > 1),
			(SELECT COALESCE(SUM(member_count - 1), 0) FROM duplicate_groups WHERE member_count > 1)
	`).Scan(&st.Emails, &st.Groups, &st.DuplicateGroups, &st.DuplicateEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &st, nil
}

// DeleteEmail removes an email and repairs its group in one transaction.
// The group row is locked first so a concurrent attach cannot interleave.
func (s *Storage) DeleteEmail(ctx context.Context, id int64) error {
	t, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer t.Rollback(context.Background()) //nolint:errcheck

	var groupID *int64
	if err := t.QueryRow(ctx, `SELECT duplicate_group_id FROM emails WHERE id = $1`, id).Scan(&groupID); err != nil {
		return fmt.Errorf("failed to delete email %d: %w", id, mapError(err))
	}
	if groupID != nil {
		if _, err := t.Exec(ctx, `SELECT 1 FROM duplicate_groups WHERE id = $1 FOR UPDATE`, *groupID); err != nil {
			return fmt.Errorf("failed to lock group %d: %w", *groupID, err)
		}
	}

	if _, err := t.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete email %d: %w", id, err)
	}

	if groupID != nil {
		var remaining int
		err := t.QueryRow(ctx, `
			UPDATE duplicate_groups SET member_count = member_count - 1, updated_at = NOW()
			WHERE id = $1
			RETURNING member_count
		`, *groupID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("failed to decrement group %d: %w", *groupID, mapError(err))
		}

		if remaining <= 0 {
			_, err = t.Exec(ctx, `DELETE FROM duplicate_groups WHERE id = $1`, *groupID)
		} else {
			_, err = t.Exec(ctx, `
				UPDATE duplicate_groups g SET
					first_seen = b.first_seen,
					last_seen = b.last_seen,
					primary_email_id = COALESCE(
						(SELECT e.id FROM emails e WHERE e.id = g.primary_email_id AND e.duplicate_group_id = g.id),
						(SELECT e.id FROM emails e WHERE e.duplicate_group_id = g.id ORDER BY e.sent_at, e.id LIMIT 1)
					)
				FROM (
					SELECT MIN(sent_at) AS first_seen, MAX(sent_at) AS last_seen
					FROM emails WHERE duplicate_group_id = $1
				) b
				WHERE g.id = $1
			`, *groupID)
		}
		if err != nil {
			return fmt.Errorf("failed to repair group %d: %w", *groupID, err)
		}
	}

	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"email_id": id, "group_id": groupID}).Info("Deleted email")
	return nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
