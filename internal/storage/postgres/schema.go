package postgres

// schema is idempotent. The emails -> duplicate_groups -> emails cycle is
// closed with a named constraint added after both tables exist.
const schema = `
CREATE TABLE IF NOT EXISTS duplicate_groups (
	id BIGSERIAL PRIMARY KEY,
	content_fingerprint TEXT NOT NULL UNIQUE,
	primary_email_id BIGINT,
	member_count INTEGER NOT NULL DEFAULT 0 CHECK (member_count >= 0),
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	normalization_version TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS emails (
	id BIGSERIAL PRIMARY KEY,
	source_message_id TEXT UNIQUE,
	sender_email TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	sent_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	content_fingerprint TEXT NOT NULL,
	duplicate_group_id BIGINT REFERENCES duplicate_groups(id) ON DELETE SET NULL,
	normalized_subject TEXT NOT NULL DEFAULT '',
	normalized_body TEXT NOT NULL DEFAULT '',
	normalization_version TEXT NOT NULL,
	display_subject TEXT NOT NULL DEFAULT '',
	display_body TEXT NOT NULL DEFAULT '',
	email_type TEXT NOT NULL DEFAULT 'original' CHECK (email_type IN ('original', 'reply', 'forward')),
	quoted_content_hash TEXT,
	thread_hash TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_emails_fingerprint ON emails(content_fingerprint);
CREATE INDEX IF NOT EXISTS idx_emails_quoted ON emails(quoted_content_hash);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_hash, sent_at);
CREATE INDEX IF NOT EXISTS idx_emails_group ON emails(duplicate_group_id, sent_at, id);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_email);
CREATE INDEX IF NOT EXISTS idx_groups_members ON duplicate_groups(member_count, last_seen);

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'duplicate_groups_primary_email_fk') THEN
		ALTER TABLE duplicate_groups
			ADD CONSTRAINT duplicate_groups_primary_email_fk
			FOREIGN KEY (primary_email_id) REFERENCES emails(id) ON DELETE SET NULL;
	END IF;
END
$$;
`
