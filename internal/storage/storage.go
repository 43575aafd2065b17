// Package storage defines the persistence contract shared by the SQLite and
// PostgreSQL backends.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brandon/mail-dedup/pkg/types"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write hit a unique constraint.
	ErrConflict = errors.New("unique constraint conflict")
	// ErrAlreadyExists is returned by InsertEmail when an email with the same
	// source message id is already stored.
	ErrAlreadyExists = errors.New("email already ingested")
)

// Tx is one ingestion unit of work. Every method runs inside the same
// database transaction; nothing is visible to readers before Commit.
type Tx interface {
	// InsertEmail stores e and sets e.ID. It returns ErrAlreadyExists when
	// e.SourceMessageID is set and already present.
	InsertEmail(ctx context.Context, e *types.Email) error
	EmailBySourceID(ctx context.Context, sourceMessageID string) (*types.Email, error)

	// CreateGroup inserts g unless a group with the same fingerprint exists.
	// created is false on conflict, with g left untouched. A unique violation
	// reported as ErrConflict leaves the transaction usable.
	CreateGroup(ctx context.Context, g *types.DuplicateGroup) (created bool, err error)
	GroupByFingerprint(ctx context.Context, fingerprint string) (*types.DuplicateGroup, error)
	// AttachToGroup increments member_count and widens the seen bounds in a
	// single statement. It returns ErrNotFound if the group vanished.
	AttachToGroup(ctx context.Context, groupID int64, seen time.Time) (*types.DuplicateGroup, error)
	LinkEmail(ctx context.Context, emailID, groupID int64) error

	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback() error
}

// ListOptions filters ListDuplicateGroups.
// Empty string and nil fields do not filter.
type ListOptions struct {
	MinMembers int
	Sender     string
	Subject    string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Storage is implemented by each backend.
type Storage interface {
	Begin(ctx context.Context) (Tx, error)

	GetEmail(ctx context.Context, id int64) (*types.Email, error)
	GroupMembership(ctx context.Context, emailID int64) (*types.Membership, error)
	ListDuplicateGroups(ctx context.Context, opts ListOptions) ([]*types.DuplicateGroup, error)
	GroupDetail(ctx context.Context, groupID int64) (*types.GroupDetail, error)
	Stats(ctx context.Context) (*types.Stats, error)

	// DeleteEmail removes an email and repairs its group: member_count is
	// decremented, seen bounds recomputed, the earliest remaining member
	// promoted to primary, and an emptied group deleted.
	DeleteEmail(ctx context.Context, id int64) error

	Close() error
}

// DistinctMembers fills the Senders and Subjects of a detail from its members,
// keeping first-seen order.
func DistinctMembers(d *types.GroupDetail) {
	seenSender := make(map[string]bool)
	seenSubject := make(map[string]bool)
	d.Senders = d.Senders[:0]
	d.Subjects = d.Subjects[:0]
	for _, m := range d.Members {
		if !seenSender[m.SenderEmail] {
			seenSender[m.SenderEmail] = true
			d.Senders = append(d.Senders, m.SenderEmail)
		}
		if !seenSubject[m.Subject] {
			seenSubject[m.Subject] = true
			d.Subjects = append(d.Subjects, m.Subject)
		}
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching s literally anywhere in a
// value. Queries using it must declare ESCAPE '\'.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// EmailType returns t, or "original" when t is empty.
func EmailType(t string) string {
	if t == "" {
		return "original"
	}
	return t
}
