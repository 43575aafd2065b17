package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// GetEmail returns a stored email by id.
func (s *Storage) GetEmail(ctx context.Context, id int64) (*types.Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get email %d: %w", id, mapError(err))
	}
	return e, nil
}

// GroupMembership reports the group of an email. When the group's primary
// reference is missing the earliest remaining member stands in and
// PrimaryMissing is set.
func (s *Storage) GroupMembership(ctx context.Context, emailID int64) (*types.Membership, error) {
	var (
		groupID     sql.NullInt64
		primaryID   sql.NullInt64
		memberCount sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.duplicate_group_id, p.id, g.member_count
		FROM emails e
		LEFT JOIN duplicate_groups g ON g.id = e.duplicate_group_id
		LEFT JOIN emails p ON p.id = g.primary_email_id AND p.duplicate_group_id = g.id
		WHERE e.id = ?
	`, emailID).Scan(&groupID, &primaryID, &memberCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership of email %d: %w", emailID, mapError(err))
	}

	m := &types.Membership{EmailID: emailID}
	if !groupID.Valid || !memberCount.Valid {
		return m, nil
	}
	m.Grouped = true
	m.GroupID = groupID.Int64
	m.MemberCount = int(memberCount.Int64)

	if primaryID.Valid {
		m.PrimaryEmailID = primaryID.Int64
	} else {
		fallback, err := s.earliestMember(ctx, m.GroupID)
		if err != nil {
			return nil, err
		}
		m.PrimaryEmailID = fallback
		m.PrimaryMissing = true
	}
	m.IsPrimary = m.PrimaryEmailID == emailID
	return m, nil
}

func (s *Storage) earliestMember(ctx context.Context, groupID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM emails WHERE duplicate_group_id = ? ORDER BY sent_at, id LIMIT 1
	`, groupID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to find earliest member of group %d: %w", groupID, mapError(err))
	}
	return id, nil
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

	conditions := []string{"g.member_count >= ?"}
	args := []any{opts.MinMembers}

	if opts.Sender != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM emails e WHERE e.duplicate_group_id = g.id AND e.sender_email LIKE ? ESCAPE '\\')")
		args = append(args, storage.ContainsPattern(opts.Sender))
	}
	if opts.Subject != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM emails e WHERE e.duplicate_group_id = g.id AND e.subject LIKE ? ESCAPE '\\')")
		args = append(args, storage.ContainsPattern(opts.Subject))
	}
	if opts.Since != nil {
		conditions = append(conditions, "g.last_seen >= ?")
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		conditions = append(conditions, "g.first_seen <= ?")
		args = append(args, formatTime(*opts.Until))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM duplicate_groups g
		WHERE %s
		ORDER BY g.last_seen DESC, g.id DESC
		LIMIT ? OFFSET ?
	`, prefixed("g", groupColumns), strings.Join(conditions, " AND "))
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM duplicate_groups WHERE id = ?`, groupID)
	g, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate group %d: %w", groupID, mapError(err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_email, subject, display_subject, email_type, sent_at
		FROM emails
		WHERE duplicate_group_id = ?
		ORDER BY sent_at, id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	detail := &types.GroupDetail{Group: *g}
	for rows.Next() {
		var (
			m      types.GroupMember
			sentAt string
		)
		if err := rows.Scan(&m.EmailID, &m.SenderEmail, &m.Subject, &m.DisplaySubject, &m.EmailType, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		if m.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		detail.Members = append(detail.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}

	resolvePrimary(detail)
	storage.DistinctMembers(detail)
	return detail, nil
}

// resolvePrimary substitutes the earliest member when the stored primary is
// not among the members.
func resolvePrimary(d *types.GroupDetail) {
	if len(d.Members) == 0 {
		return
	}
	if d.Group.PrimaryEmailID != nil {
		for _, m := range d.Members {
			if m.EmailID == *d.Group.PrimaryEmailID {
				return
			}
		}
	}
	id := d.Members[0].EmailID
	d.Group.PrimaryEmailID = &id
	d.PrimaryMissing = true
}

// Stats counts emails and groups.
func (s *Storage) Stats(ctx context.Context) (*types.Stats, error) {
	var st types.Stats
	err := s.db.QueryRowContext(ctx, `
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
func (s *Storage) DeleteEmail(ctx context.Context, id int64) error {
	t, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer t.Rollback() //nolint:errcheck

	conn := t.(*tx).conn

	var groupID sql.NullInt64
	err = conn.QueryRowContext(ctx, `DELETE FROM emails WHERE id = ? RETURNING duplicate_group_id`, id).Scan(&groupID)
	if err != nil {
		return fmt.Errorf("failed to delete email %d: %w", id, mapError(err))
	}

	if groupID.Valid {
		if err := repairGroup(ctx, conn, groupID.Int64); err != nil {
			return err
		}
	}

	if err := t.Commit(ctx); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"email_id": id,
		"group_id": groupID.Int64,
	}).Info("Deleted email")
	return nil
}

// repairGroup runs after a member was removed. The FK has already cleared
// primary_email_id if the removed email was the primary.
func repairGroup(ctx context.Context, conn *sql.Conn, groupID int64) error {
	var remaining int
	err := conn.QueryRowContext(ctx, `
		UPDATE duplicate_groups SET member_count = member_count - 1, updated_at = ?
		WHERE id = ?
		RETURNING member_count
	`, formatTime(time.Now()), groupID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to decrement group %d: %w", groupID, err)
	}

	if remaining <= 0 {
		if _, err := conn.ExecContext(ctx, `DELETE FROM duplicate_groups WHERE id = ?`, groupID); err != nil {
			return fmt.Errorf("failed to delete empty group %d: %w", groupID, err)
		}
		return nil
	}

	_, err = conn.ExecContext(ctx, `
		UPDATE duplicate_groups SET
			first_seen = (SELECT MIN(sent_at) FROM emails WHERE duplicate_group_id = ?),
			last_seen = (SELECT MAX(sent_at) FROM emails WHERE duplicate_group_id = ?),
			primary_email_id = COALESCE(
				(SELECT e.id FROM emails e WHERE e.id = duplicate_groups.primary_email_id AND e.duplicate_group_id = ?),
				(SELECT e.id FROM emails e WHERE e.duplicate_group_id = ? ORDER BY e.sent_at, e.id LIMIT 1)
			)
		WHERE id = ?
	`, groupID, groupID, groupID, groupID, groupID)
	if err != nil {
		return fmt.Errorf("failed to repair group %d: %w", groupID, err)
	}
	return nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
