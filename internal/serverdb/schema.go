package serverdb

// migrations are applied in order; a database at PRAGMA user_version N has
// run the first N. Append only.
var migrations = []string{
	// 1: accounts and their keys
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		expires_at DATETIME,
		last_used_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX idx_api_keys_user ON api_keys(user_id);`,

	// 2: one versioned blob per (user, resource); deleted rows are tombstones
	`CREATE TABLE user_data (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		resource TEXT NOT NULL,
		ref INTEGER NOT NULL,
		content TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		machine_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, resource)
	);`,
}

// SchemaVersion is the user_version of a fully migrated database.
var SchemaVersion = len(migrations)
