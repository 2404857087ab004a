package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                   TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	total_contacts       INTEGER NOT NULL DEFAULT 0,
	messages_sent        INTEGER NOT NULL DEFAULT 0,
	messages_delivered   INTEGER NOT NULL DEFAULT 0,
	messages_failed      INTEGER NOT NULL DEFAULT 0,
	current_progress     INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	started_at           TEXT,
	paused_at            TEXT,
	stopped_at           TEXT,
	completed_at         TEXT,
	updated_at           TEXT NOT NULL,
	message_content      TEXT NOT NULL DEFAULT '',
	male_content         TEXT NOT NULL DEFAULT '',
	female_content       TEXT NOT NULL DEFAULT '',
	use_gender_templates INTEGER NOT NULL DEFAULT 0,
	duplicate_mode       TEXT NOT NULL DEFAULT 'per_campaign',
	last_error           TEXT NOT NULL DEFAULT '',
	error_count          INTEGER NOT NULL DEFAULT 0,
	attachment_filename     TEXT NOT NULL DEFAULT '',
	attachment_content_type TEXT NOT NULL DEFAULT '',
	attachment_size_bytes   INTEGER NOT NULL DEFAULT 0,
	attachment_data_base64  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS workflow_entries (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	contact_id     TEXT NOT NULL,
	status         TEXT NOT NULL,
	added_at       TEXT NOT NULL,
	processed_at   TEXT,
	delivered_at   TEXT,
	opened_at      TEXT,
	clicked_at     TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	rendered_body  TEXT NOT NULL DEFAULT '',
	attachments    TEXT NOT NULL DEFAULT '[]',
	UNIQUE(campaign_id, contact_id)
);
CREATE INDEX IF NOT EXISTS idx_workflow_entries_campaign_added
	ON workflow_entries(campaign_id, added_at);

CREATE TABLE IF NOT EXISTS sent_phone_records (
	owner_id         TEXT NOT NULL,
	phone            TEXT NOT NULL,
	first_sent_at    TEXT NOT NULL,
	last_sent_at     TEXT NOT NULL,
	send_count       INTEGER NOT NULL DEFAULT 0,
	last_campaign_id TEXT NOT NULL DEFAULT '',
	last_status      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY(owner_id, phone)
);

CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	first_name      TEXT NOT NULL DEFAULT '',
	arabic_name     TEXT NOT NULL DEFAULT '',
	english_name    TEXT NOT NULL DEFAULT '',
	formatted_phone TEXT NOT NULL DEFAULT '',
	gender          TEXT NOT NULL DEFAULT 'U',
	is_selected     INTEGER NOT NULL DEFAULT 1,
	status          TEXT NOT NULL DEFAULT 'new'
);
`
