package store

// Local durable state: the offline sync queue and entity snapshots.
// sync_tasks rows are written atomically per task so a crash mid-drain
// never loses or duplicates work; dead_letters keeps exhausted tasks
// for inspection.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_tasks (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	priority   TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_tasks_created ON sync_tasks(created_at);

CREATE TABLE IF NOT EXISTS dead_letters (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	priority   TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	failed_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`
