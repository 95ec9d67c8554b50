// Package migrations holds the registered, numbered schema steps. Each
// file registers exactly one migration via an init func, the way the
// teacher's internal/storage/sqlite/migrations/NNN_*.go files each own
// one ALTER. This one is the exception spec.md's Design Note 3 calls
// for: rather than replaying the teacher's original incremental history,
// it creates the full end-state schema in one step, with 002+ carrying
// genuine follow-on changes made since.
package migrations

import "github.com/untoldecay/templedb/internal/migrate"

func init() {
	migrate.Register(migrate.Migration{
		ID:       1,
		Filename: "001_initial_schema.sql",
		Up:       initialSchema,
	})
}

const initialSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS file_types (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS content_blobs (
	hash         TEXT PRIMARY KEY,
	content_type TEXT NOT NULL CHECK (content_type IN ('text', 'binary')),
	size_bytes   INTEGER NOT NULL,
	line_count   INTEGER NOT NULL DEFAULT 0,
	payload      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS project_files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	path          TEXT NOT NULL,
	file_type_id  INTEGER REFERENCES file_types(id),
	lines_of_code INTEGER NOT NULL DEFAULT 0,
	owner         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (project_id, path)
);

CREATE INDEX IF NOT EXISTS idx_project_files_project ON project_files(project_id);

-- (file_id, content_hash) history. At most one row per file_id has
-- is_current=1, enforced by the partial unique index below; that a file
-- with history has exactly one current row is maintained in code
-- (repo.SetCurrentContent), since a partial-index predicate can express
-- "at most one" but not "exactly one".
CREATE TABLE IF NOT EXISTS file_contents (
	file_id      INTEGER NOT NULL REFERENCES project_files(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL REFERENCES content_blobs(hash),
	version      INTEGER NOT NULL CHECK (version >= 1),
	is_current   INTEGER NOT NULL DEFAULT 0 CHECK (is_current IN (0, 1)),
	PRIMARY KEY (file_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_file_contents_current
	ON file_contents(file_id) WHERE is_current = 1;

CREATE TABLE IF NOT EXISTS branches (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id     INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	head_commit_id INTEGER,
	is_default     INTEGER NOT NULL DEFAULT 0 CHECK (is_default IN (0, 1)),
	is_protected   INTEGER NOT NULL DEFAULT 0 CHECK (is_protected IN (0, 1)),
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS commits (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	branch_id       INTEGER NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	commit_hash     TEXT NOT NULL UNIQUE,
	parent_id       INTEGER REFERENCES commits(id),
	merge_parent_id INTEGER REFERENCES commits(id),
	author          TEXT NOT NULL,
	email           TEXT NOT NULL,
	message         TEXT NOT NULL,
	timestamp       DATETIME NOT NULL,
	files_changed   INTEGER NOT NULL DEFAULT 0,
	lines_added     INTEGER NOT NULL DEFAULT 0,
	lines_removed   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_commits_parent ON commits(parent_id);

-- branches.head_commit_id references commits, but commits reference
-- branches too; the FK is added with no enforcement cycle by leaving it
-- untyped here and maintained only in application code (the commit
-- transaction in version.Engine.CreateCommit),
-- matching the teacher's own deferred-FK treatment of mutually
-- recursive tables (see internal/storage/sqlite: depends_on_id).

CREATE TABLE IF NOT EXISTS file_states (
	commit_id     INTEGER NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
	file_id       INTEGER NOT NULL REFERENCES project_files(id) ON DELETE CASCADE,
	content_hash  TEXT NOT NULL REFERENCES content_blobs(hash),
	change_type   TEXT NOT NULL CHECK (change_type IN ('added', 'modified', 'deleted', 'renamed')),
	previous_path TEXT,
	PRIMARY KEY (commit_id, file_id)
);

CREATE INDEX IF NOT EXISTS idx_file_states_file ON file_states(file_id);

CREATE TABLE IF NOT EXISTS working_states (
	project_id   INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	branch_id    INTEGER NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	file_id      INTEGER NOT NULL REFERENCES project_files(id) ON DELETE CASCADE,
	content_hash TEXT REFERENCES content_blobs(hash),
	state        TEXT NOT NULL CHECK (state IN ('unmodified', 'modified', 'added', 'deleted', 'conflict')),
	staged       INTEGER NOT NULL DEFAULT 0 CHECK (staged IN (0, 1)),
	PRIMARY KEY (branch_id, file_id)
);

CREATE INDEX IF NOT EXISTS idx_working_states_staged ON working_states(branch_id, staged);

CREATE TABLE IF NOT EXISTS checkouts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	branch_id     INTEGER NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	checkout_path TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_sync_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (project_id, checkout_path)
);

CREATE TABLE IF NOT EXISTS checkout_snapshots (
	checkout_id  INTEGER NOT NULL REFERENCES checkouts(id) ON DELETE CASCADE,
	file_id      INTEGER NOT NULL REFERENCES project_files(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL REFERENCES content_blobs(hash),
	version      INTEGER NOT NULL,
	PRIMARY KEY (checkout_id, file_id)
);

CREATE TABLE IF NOT EXISTS conflicts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	checkout_id     INTEGER NOT NULL REFERENCES checkouts(id) ON DELETE CASCADE,
	file_id         INTEGER NOT NULL REFERENCES project_files(id) ON DELETE CASCADE,
	path            TEXT NOT NULL,
	base_version    INTEGER NOT NULL,
	base_hash       TEXT NOT NULL,
	current_version INTEGER NOT NULL,
	current_hash    TEXT NOT NULL,
	conflict_type   TEXT NOT NULL CHECK (conflict_type IN ('version_mismatch', 'content_diverged')),
	resolution      TEXT NOT NULL DEFAULT '' CHECK (resolution IN ('', 'force', 'abandoned')),
	resolved_by     TEXT NOT NULL DEFAULT '',
	opened_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_conflicts_open
	ON conflicts(checkout_id, file_id) WHERE resolution = '';
`
