package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL DEFAULT 'info'
		CHECK(type IN ('info', 'warning', 'error', 'success')),
	priority            TEXT NOT NULL DEFAULT 'medium'
		CHECK(priority IN ('low', 'medium', 'high', 'critical')),
	category            TEXT NOT NULL DEFAULT 'system',
	title               TEXT NOT NULL,
	message             TEXT NOT NULL DEFAULT '',
	action_url          TEXT NOT NULL DEFAULT '',
	action_label        TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'unread'
		CHECK(status IN ('unread', 'read', 'archived', 'dismissed')),
	related_entity_id   TEXT NOT NULL DEFAULT '',
	related_entity_type TEXT NOT NULL DEFAULT '',
	metadata            TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	expires_at          DATETIME,
	read_at             DATETIME,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_updated
	ON notifications(updated_at);

CREATE TABLE IF NOT EXISTS settings (
	id         INTEGER PRIMARY KEY CHECK(id = 1),
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
