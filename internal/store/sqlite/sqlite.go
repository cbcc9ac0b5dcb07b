// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// Store bundles the sqlite-backed rate-limit counters and usage log on
// one database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "opening sqlite db %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "pinging sqlite db %s", dbPath)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, pwerr.Wrapf(err, pwerr.CodeStoreDatabaseFailure, "migrating sqlite db %s", dbPath)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	subject_id     TEXT NOT NULL,
	scope_id       TEXT NOT NULL,
	bucket         TEXT NOT NULL,
	window_start   INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL,
	count          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (subject_id, scope_id, bucket, window_start, window_seconds)
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_window_end
	ON rate_limit_counters(window_start, window_seconds);

CREATE TABLE IF NOT EXISTS usage_log (
	id           TEXT PRIMARY KEY,
	subject      TEXT NOT NULL,
	request_kind TEXT NOT NULL,
	provider     TEXT NOT NULL,
	tokens_in    INTEGER NOT NULL DEFAULT 0,
	tokens_out   INTEGER NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL,
	error_code   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_log_subject ON usage_log(subject, created_at);

CREATE TABLE IF NOT EXISTS provider_configs (
	id     TEXT PRIMARY KEY,
	kind   TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
