// Package grouping assigns stored emails to duplicate groups keyed by
// content fingerprint.
package grouping

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// DefaultMaxAttempts bounds the find-or-create loop.
const DefaultMaxAttempts = 3

// ErrContention is returned when a group kept vanishing between lookup and
// attach for every attempt.
var ErrContention = errors.New("duplicate group assignment contention")

// Assignment describes where an email landed.
type Assignment struct {
	Group *types.DuplicateGroup
	IsNew bool
}

// Manager performs find-or-create on duplicate groups inside a caller's
// transaction.
type Manager struct {
	maxAttempts int
	logger      *logrus.Logger
}

// NewManager creates a manager. maxAttempts below 1 uses the default.
func NewManager(maxAttempts int, logger *logrus.Logger) *Manager {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{maxAttempts: maxAttempts, logger: logger}
}

// Assign puts email into the group for its fingerprint. The email must
// already be inserted in tx. A newly created group gets the email as primary
// with member_count 1; an existing group is attached to with a single atomic
// increment that also widens first_seen and last_seen to email.SentAt.
func (m *Manager) Assign(ctx context.Context, tx storage.Tx, email *types.Email) (*Assignment, error) {
	if email.ID == 0 {
		return nil, fmt.Errorf("failed to assign group: email has no id")
	}
	if email.ContentFingerprint == "" {
		return nil, fmt.Errorf("failed to assign group: email %d has no fingerprint", email.ID)
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		a, err := m.tryAssign(ctx, tx, email)
		if err == nil {
			if err := tx.LinkEmail(ctx, email.ID, a.Group.ID); err != nil {
				return nil, err
			}
			email.DuplicateGroupID = &a.Group.ID
			return a, nil
		}
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		m.logger.WithFields(logrus.Fields{
			"email_id":    email.ID,
			"fingerprint": email.ContentFingerprint,
			"attempt":     attempt,
		}).Debug("Retrying group assignment")
	}
	return nil, fmt.Errorf("failed to assign email %d after %d attempts: %w", email.ID, m.maxAttempts, ErrContention)
}

func (m *Manager) tryAssign(ctx context.Context, tx storage.Tx, email *types.Email) (*Assignment, error) {
	primary := email.ID
	g := &types.DuplicateGroup{
		ContentFingerprint:   email.ContentFingerprint,
		PrimaryEmailID:       &primary,
		MemberCount:          1,
		FirstSeen:            email.SentAt,
		LastSeen:             email.SentAt,
		NormalizationVersion: email.NormalizationVersion,
	}
	created, err := tx.CreateGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	if created {
		return &Assignment{Group: g, IsNew: true}, nil
	}

	existing, err := tx.GroupByFingerprint(ctx, email.ContentFingerprint)
	if err != nil {
		return nil, err
	}
	attached, err := tx.AttachToGroup(ctx, existing.ID, email.SentAt)
	if err != nil {
		return nil, err
	}
	return &Assignment{Group: attached}, nil
}
