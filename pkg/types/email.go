package types

import "time"

// Email is a single ingested message as persisted by the store.
type Email struct {
	ID                   int64     `json:"id"`
	SourceMessageID      string    `json:"source_message_id,omitempty"`
	SenderEmail          string    `json:"sender_email"`
	Subject              string    `json:"subject"`
	Body                 string    `json:"body,omitempty"`
	SentAt               time.Time `json:"sent_at"`
	ReceivedAt           time.Time `json:"received_at"`
	ContentFingerprint   string    `json:"content_fingerprint"`
	DuplicateGroupID     *int64    `json:"duplicate_group_id,omitempty"`
	NormalizedSubject    string    `json:"normalized_subject,omitempty"`
	NormalizedBody       string    `json:"normalized_body,omitempty"`
	NormalizationVersion string    `json:"normalization_version"`

	// DisplaySubject and DisplayBody are the normalized text before case
	// folding, kept for auditing.
	DisplaySubject string `json:"display_subject,omitempty"`
	DisplayBody    string `json:"display_body,omitempty"`
	// EmailType is "original", "reply" or "forward".
	EmailType         string `json:"email_type"`
	QuotedContentHash string `json:"quoted_content_hash,omitempty"`
	ThreadHash        string `json:"thread_hash,omitempty"`
}

// RawEmail is an unprocessed message handed to the ingestion pipeline by a mail source.
type RawEmail struct {
	SourceMessageID string
	Sender          string
	Subject         string
	Body            string
	SentAt          time.Time
	ReceivedAt      time.Time
	InReplyTo       string
	References      []string
}

// DuplicateGroup collects every email sharing one content fingerprint.
type DuplicateGroup struct {
	ID                   int64     `json:"id"`
	ContentFingerprint   string    `json:"content_fingerprint"`
	PrimaryEmailID       *int64    `json:"primary_email_id,omitempty"`
	MemberCount          int       `json:"member_count"`
	FirstSeen            time.Time `json:"first_seen"`
	LastSeen             time.Time `json:"last_seen"`
	NormalizationVersion string    `json:"normalization_version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Membership answers "which group is this email in, and is it the primary".
type Membership struct {
	EmailID        int64 `json:"email_id"`
	GroupID        int64 `json:"group_id"`
	Grouped        bool  `json:"grouped"`
	PrimaryEmailID int64 `json:"primary_email_id"`
	IsPrimary      bool  `json:"is_primary"`
	// PrimaryMissing is set when the stored primary reference was gone and
	// the earliest remaining member was reported instead.
	PrimaryMissing bool `json:"primary_missing,omitempty"`
	MemberCount    int  `json:"member_count"`
}

// GroupMember is the per-email row of a group detail report.
type GroupMember struct {
	EmailID        int64     `json:"email_id"`
	SenderEmail    string    `json:"sender_email"`
	Subject        string    `json:"subject"`
	DisplaySubject string    `json:"display_subject"`
	EmailType      string    `json:"email_type"`
	SentAt         time.Time `json:"sent_at"`
}

// GroupDetail is a duplicate group with its members and distinct senders/subjects.
type GroupDetail struct {
	Group            DuplicateGroup `json:"group"`
	PrimaryMissing   bool           `json:"primary_missing,omitempty"`
	Members          []GroupMember  `json:"members"`
	Senders          []string       `json:"senders"`
	CanonicalSenders []string       `json:"canonical_senders"`
	Subjects         []string       `json:"subjects"`
}

// Stats summarizes the deduplication state of the store.
type Stats struct {
	Emails          int `json:"emails"`
	Groups          int `json:"groups"`
	DuplicateGroups int `json:"duplicate_groups"`
	DuplicateEmails int `json:"duplicate_emails"`
}
