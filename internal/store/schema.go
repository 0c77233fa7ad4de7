// Package store implements the persistence engine (spec §4.5, §4.6, §6):
// the durable catalogue of users, channels, subscriptions and messages; the
// relevance-evicting channel cache; the batched message write queue; and
// the snapshot ring. The database is a single sqlite file (modernc.org/sqlite,
// a pure-Go driver) so save_snapshot/load_snapshot can copy and swap it as
// a whole file, which a client/server database could not support.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uuid             TEXT PRIMARY KEY,
	username         TEXT UNIQUE NOT NULL,
	password         BLOB NOT NULL,
	salt             BLOB NOT NULL,
	is_authenticated INTEGER NOT NULL DEFAULT 0,
	last_auth        DATETIME,
	created          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	profile_picture  TEXT REFERENCES files(uuid)
);

CREATE TABLE IF NOT EXISTS files (
	uuid        TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	filesize    INTEGER NOT NULL,
	filedata    BLOB NOT NULL,
	upload_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	uuid          TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT,
	created       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_request  DATETIME
);

CREATE TABLE IF NOT EXISTS channels_users (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL REFERENCES channels(uuid),
	user    TEXT NOT NULL REFERENCES users(uuid),
	UNIQUE(channel, user)
);

CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind      TEXT NOT NULL CHECK (kind IN ('text', 'file')),
	sender    TEXT NOT NULL REFERENCES users(uuid),
	channel   TEXT NOT NULL REFERENCES channels(uuid),
	content   BLOB NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	file      TEXT REFERENCES files(uuid)
);
`

// openDB opens (creating if absent) the sqlite database at dbPath and
// applies the schema, idempotently.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // a single sqlite file, writes already serialized by Engine's mutex

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return db, nil
}

// databaseFilePath joins the configured database directory and file name.
func databaseFilePath(dir, name string) string {
	return filepath.Join(dir, name)
}
