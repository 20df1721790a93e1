package database

// Migration is one monotonic, idempotent-or-guarded schema step.
type Migration struct {
	Version int
	SQL     string
}

// migrations holds every schema version in order. Each entry is applied
// inside its own transaction and recorded in the migrations table; see
// Migrate/applyMigration in database.go.
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE contacts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				addr TEXT NOT NULL COLLATE NOCASE UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				authname TEXT NOT NULL DEFAULT '',
				origin INTEGER NOT NULL DEFAULT 0,
				blocked INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT '',
				selfavatar_sent_at INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL DEFAULT 0
			);

			-- Reserved low ids: 1=self, 2=info/device (see chatstore/contact.go).
			INSERT INTO contacts (id, addr, name, origin, blocked, created_at)
				VALUES (1, 'self@local', 'Me', 262144, 0, 0);
			INSERT INTO contacts (id, addr, name, origin, blocked, created_at)
				VALUES (2, 'device@local', 'Device', 262144, 0, 0);
		`,
	},
	{
		Version: 2,
		SQL: `
			CREATE TABLE chats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				type INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				grpid TEXT NOT NULL DEFAULT '',
				archived INTEGER NOT NULL DEFAULT 0,
				blocked INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL DEFAULT 0,
				param TEXT NOT NULL DEFAULT '',
				gossiped_timestamp INTEGER NOT NULL DEFAULT 0,
				ephemeral_timer INTEGER NOT NULL DEFAULT 0,
				locations_send_until INTEGER NOT NULL DEFAULT 0,
				muted_until INTEGER NOT NULL DEFAULT 0,
				unpromoted INTEGER NOT NULL DEFAULT 0
			);

			-- Reserved low ids: 1=deaddrop, 5=starred, 6=archived-link
			-- (see chatstore/chat.go). Deaddrop behaves like an ordinary
			-- single chat (type 100); starred/archived-link are
			-- pseudo-entries, not real conversations, and use type 0.
			INSERT INTO chats (id, type, name, created_at) VALUES (1, 100, 'Deaddrop', 0);
			INSERT INTO chats (id, type, name, created_at) VALUES (5, 0, 'Starred', 0);
			INSERT INTO chats (id, type, name, created_at) VALUES (6, 0, 'Archived Chats', 0);

			CREATE TABLE chats_contacts (
				chat_id INTEGER NOT NULL REFERENCES chats(id),
				contact_id INTEGER NOT NULL REFERENCES contacts(id),
				PRIMARY KEY (chat_id, contact_id)
			);
		`,
	},
	{
		Version: 3,
		SQL: `
			CREATE TABLE msgs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id INTEGER NOT NULL REFERENCES chats(id),
				from_id INTEGER NOT NULL REFERENCES contacts(id),
				to_id INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL,
				timestamp_sent INTEGER NOT NULL DEFAULT 0,
				timestamp_rcvd INTEGER NOT NULL DEFAULT 0,
				type INTEGER NOT NULL DEFAULT 0,
				state INTEGER NOT NULL,
				rfc724_mid TEXT NOT NULL UNIQUE,
				mime_in_reply_to TEXT NOT NULL DEFAULT '',
				mime_references TEXT NOT NULL DEFAULT '',
				server_folder TEXT NOT NULL DEFAULT '',
				server_uid INTEGER NOT NULL DEFAULT 0,
				hidden INTEGER NOT NULL DEFAULT 0,
				starred INTEGER NOT NULL DEFAULT 0,
				subject TEXT NOT NULL DEFAULT '',
				param TEXT NOT NULL DEFAULT '',
				ephemeral_timer INTEGER NOT NULL DEFAULT 0,
				ephemeral_timestamp INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				location_id INTEGER NOT NULL DEFAULT 0,
				mime_headers BLOB
			);
			CREATE INDEX idx_msgs_chat_id ON msgs(chat_id, timestamp, id);
			CREATE INDEX idx_msgs_server ON msgs(server_folder, server_uid);

			CREATE TABLE msgs_mdns (
				msg_id INTEGER NOT NULL REFERENCES msgs(id),
				contact_id INTEGER NOT NULL REFERENCES contacts(id),
				timestamp_sent INTEGER NOT NULL,
				PRIMARY KEY (msg_id, contact_id)
			);
		`,
	},
	{
		Version: 4,
		SQL: `
			CREATE TABLE leftgrps (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				grpid TEXT NOT NULL UNIQUE
			);

			CREATE TABLE keypairs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				addr TEXT NOT NULL,
				is_default INTEGER NOT NULL DEFAULT 0,
				public_key BLOB NOT NULL,
				encrypted_private_key TEXT,
				created_at INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE acpeerstates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				addr TEXT NOT NULL COLLATE NOCASE UNIQUE,
				last_seen INTEGER NOT NULL DEFAULT 0,
				last_seen_autocrypt INTEGER NOT NULL DEFAULT 0,
				prefer_encrypt INTEGER NOT NULL DEFAULT 0,
				public_key BLOB,
				public_key_fingerprint TEXT NOT NULL DEFAULT '',
				gossip_key BLOB,
				gossip_key_fingerprint TEXT NOT NULL DEFAULT '',
				gossip_timestamp INTEGER NOT NULL DEFAULT 0,
				verified_key BLOB,
				verified_key_fingerprint TEXT NOT NULL DEFAULT '',
				verified_which INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE tokens (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				namespace TEXT NOT NULL,
				foreign_id INTEGER NOT NULL DEFAULT 0,
				token TEXT NOT NULL,
				timestamp INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_tokens_lookup ON tokens(namespace, foreign_id);

			CREATE TABLE locations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				accuracy REAL NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL,
				chat_id INTEGER NOT NULL REFERENCES chats(id),
				from_id INTEGER NOT NULL REFERENCES contacts(id),
				marker TEXT,
				independent INTEGER NOT NULL DEFAULT 0
			);
		`,
	},
	{
		Version: 5,
		SQL: `
			CREATE TABLE jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				action TEXT NOT NULL,
				foreign_id INTEGER NOT NULL DEFAULT 0,
				param TEXT NOT NULL DEFAULT '',
				added_timestamp INTEGER NOT NULL,
				desired_timestamp INTEGER NOT NULL,
				tries INTEGER NOT NULL DEFAULT 0,
				thread TEXT NOT NULL
			);
			CREATE INDEX idx_jobs_dispatch ON jobs(thread, desired_timestamp);

			CREATE TABLE imap_sync (
				folder TEXT PRIMARY KEY,
				uidvalidity INTEGER NOT NULL DEFAULT 0,
				uid_next INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE config (
				keyname TEXT PRIMARY KEY,
				value TEXT
			);
		`,
	},
	{
		// Supplemented, spec-silent: CardDAV contact enrichment sources
		// (see internal/contactsync).
		Version: 6,
		SQL: `
			CREATE TABLE contact_sources (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				encrypted_password TEXT,
				last_sync_at INTEGER NOT NULL DEFAULT 0
			);
		`,
	},
}
