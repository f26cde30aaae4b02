package storage

// schema creates every table the engine owns if it does not already exist.
// Migrations are forward-only: there is no down-migration path, matching the
// "schema migrations are forward-only" external-interface contract.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	username   TEXT,
	first_name TEXT,
	last_name  TEXT,
	checksum   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS media (
	id         INTEGER PRIMARY KEY,
	mime_type  TEXT,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	file_name  TEXT,
	checksum   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER NOT NULL,
	channel_id     INTEGER NOT NULL,
	user_id        INTEGER REFERENCES users(id),
	media_id       INTEGER REFERENCES media(id),
	date_unix      INTEGER NOT NULL,
	text           TEXT,
	checksum       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (channel_id, id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	entity     TEXT NOT NULL,
	context    TEXT NOT NULL,
	last_id    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (entity, context)
);

CREATE TABLE IF NOT EXISTS account_channel_access (
	phone        TEXT NOT NULL,
	channel_id   INTEGER NOT NULL,
	name         TEXT,
	access_hash  INTEGER,
	last_seen    INTEGER NOT NULL,
	PRIMARY KEY (phone, channel_id)
);

CREATE TABLE IF NOT EXISTS file_hashes (
	file_id    TEXT PRIMARY KEY,
	sha256     TEXT NOT NULL,
	phash      TEXT,
	fhash      TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_file_inventory (
	channel_id INTEGER NOT NULL,
	file_id    TEXT NOT NULL,
	msg_id     INTEGER NOT NULL,
	topic_id   INTEGER,
	PRIMARY KEY (channel_id, file_id, msg_id)
);

CREATE TABLE IF NOT EXISTS channel_forward_schedule (
	id               TEXT PRIMARY KEY,
	origin_channel    INTEGER NOT NULL,
	destination_channel INTEGER NOT NULL,
	cron_expr        TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_message_id  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channel_forward_stats (
	schedule_id        TEXT NOT NULL,
	run_at             INTEGER NOT NULL,
	messages_forwarded INTEGER NOT NULL,
	files_forwarded    INTEGER NOT NULL,
	bytes_forwarded    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_forward_schedule (
	id           TEXT PRIMARY KEY,
	source_channel      INTEGER NOT NULL,
	destination_channel INTEGER,
	cron_expr    TEXT NOT NULL,
	mime_whitelist TEXT,
	min_size_bytes INTEGER NOT NULL DEFAULT 0,
	max_size_bytes INTEGER NOT NULL DEFAULT 0,
	enabled      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS file_forward_queue (
	id           TEXT PRIMARY KEY,
	schedule_id  TEXT NOT NULL,
	message_id   INTEGER NOT NULL,
	file_id      TEXT NOT NULL,
	destination  INTEGER,
	priority     INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_forward_stats (
	schedule_id     TEXT NOT NULL,
	run_at          INTEGER NOT NULL,
	files_forwarded INTEGER NOT NULL,
	bytes_forwarded INTEGER NOT NULL,
	errors          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS category_to_group_mapping (
	category TEXT PRIMARY KEY,
	group_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS category_stats (
	category        TEXT PRIMARY KEY,
	files_sorted    INTEGER NOT NULL DEFAULT 0,
	bytes_sorted    INTEGER NOT NULL DEFAULT 0,
	last_sorted_at  INTEGER
);

CREATE TABLE IF NOT EXISTS sorting_groups (
	group_id   INTEGER PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sorting_audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id     TEXT NOT NULL,
	category    TEXT NOT NULL,
	group_id    INTEGER NOT NULL,
	sorted_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attribution_stats (
	source_channel_id INTEGER PRIMARY KEY,
	attributions      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS migration_progress (
	name        TEXT PRIMARY KEY,
	applied_at  INTEGER NOT NULL
);
`
