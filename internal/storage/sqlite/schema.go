package sqlite

// Schema is applied on every open. Timestamps are TEXT in timeLayout so that
// MIN/MAX and ORDER BY compare them chronologically.
const Schema = `
CREATE TABLE IF NOT EXISTS emails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_message_id TEXT UNIQUE,
	sender_email TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	sent_at TEXT NOT NULL,
	received_at TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	duplicate_group_id INTEGER REFERENCES duplicate_groups(id) ON DELETE SET NULL,
	normalized_subject TEXT NOT NULL DEFAULT '',
	normalized_body TEXT NOT NULL DEFAULT '',
	normalization_version TEXT NOT NULL,
	display_subject TEXT NOT NULL DEFAULT '',
	display_body TEXT NOT NULL DEFAULT '',
	email_type TEXT NOT NULL DEFAULT 'original' CHECK (email_type IN ('original', 'reply', 'forward')),
	quoted_content_hash TEXT,
	thread_hash TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_fingerprint ON emails(content_fingerprint);
CREATE INDEX IF NOT EXISTS idx_emails_quoted ON emails(quoted_content_hash);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_hash, sent_at);
CREATE INDEX IF NOT EXISTS idx_emails_group ON emails(duplicate_group_id, sent_at, id);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_email);

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_fingerprint TEXT NOT NULL UNIQUE,
	primary_email_id INTEGER REFERENCES emails(id) ON DELETE SET NULL,
	member_count INTEGER NOT NULL DEFAULT 0 CHECK (member_count >= 0),
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	normalization_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_groups_members ON duplicate_groups(member_count, last_seen);
`
