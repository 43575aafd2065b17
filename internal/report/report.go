// Package report answers read-only questions about duplicate groups.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-dedup/internal/alias"
	"github.com/brandon/mail-dedup/internal/storage"
	"github.com/brandon/mail-dedup/pkg/types"
)

// DefaultMinMembers hides singleton groups from listings.
const DefaultMinMembers = 2

// ListQuery selects duplicate groups. Zero values use defaults.
type ListQuery struct {
	MinMembers int
	Sender     string
	Subject    string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Service wraps a store with request validation and canonical sender
// resolution.
type Service struct {
	store        storage.Storage
	resolver     *alias.Resolver
	defaultLimit int
	logger       *logrus.Logger
}

// NewService creates a Service. defaultLimit applies when a query sets no
// limit and is clamped to 1..1000.
func NewService(store storage.Storage, resolver *alias.Resolver, defaultLimit int, logger *logrus.Logger) *Service {
	return &Service{
		store:        store,
		resolver:     resolver,
		defaultLimit: clampLimit(defaultLimit, 100),
		logger:       logger,
	}
}

// Email returns a stored email with its normalization audit fields.
func (s *Service) Email(ctx context.Context, emailID int64) (*types.Email, error) {
	e, err := s.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return e, nil
}

// Membership reports the group of an email and whether it is the primary.
func (s *Service) Membership(ctx context.Context, emailID int64) (*types.Membership, error) {
	m, err := s.store.GroupMembership(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email group: %w", err)
	}
	if m.PrimaryMissing {
		s.logger.WithFields(logrus.Fields{
			"email_id": emailID,
			"group_id": m.GroupID,
		}).Warn("Duplicate group references a missing primary email")
	}
	return m, nil
}

// ListGroups lists groups with at least MinMembers members, newest first.
func (s *Service) ListGroups(ctx context.Context, q ListQuery) ([]*types.DuplicateGroup, error) {
	if q.MinMembers < 1 {
		q.MinMembers = DefaultMinMembers
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	groups, err := s.store.ListDuplicateGroups(ctx, storage.ListOptions{
		MinMembers: q.MinMembers,
		Sender:     q.Sender,
		Subject:    q.Subject,
		Since:      q.Since,
		Until:      q.Until,
		Limit:      clampLimit(q.Limit, s.defaultLimit),
		Offset:     q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}
	return groups, nil
}

// Group returns a group with its members and distinct raw and canonical
// senders.
func (s *Service) Group(ctx context.Context, groupID int64) (*types.GroupDetail, error) {
	d, err := s.store.GroupDetail(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get duplicate group: %w", err)
	}
	if d.PrimaryMissing {
		s.logger.WithField("group_id", groupID).Warn("Duplicate group references a missing primary email")
	}

	seen := make(map[string]bool)
	d.CanonicalSenders = d.CanonicalSenders[:0]
	for _, sender := range d.Senders {
		c := s.resolver.Resolve(sender)
		if !seen[c] {
			seen[c] = true
			d.CanonicalSenders = append(d.CanonicalSenders, c)
		}
	}
	return d, nil
}

// Stats summarizes the store.
func (s *Service) Stats(ctx context.Context) (*types.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	if limit < 1 {
		return 1
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
