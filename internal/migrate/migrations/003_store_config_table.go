package migrations

import "github.com/untoldecay/templedb/internal/migrate"

func init() {
	migrate.Register(migrate.Migration{
		ID:       3,
		Filename: "003_store_config_table.sql",
		// A small key-value table for store-level bookkeeping that isn't
		// part of the domain model proper: last GC run, last backup
		// timestamp. Mirrors the teacher's compaction_config migration,
		// which adds similar housekeeping rows rather than dedicated
		// columns on a domain table. Both keys are seeded empty; blob GC
		// and backup do not write them.
		Up: `
CREATE TABLE IF NOT EXISTS store_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
INSERT OR IGNORE INTO store_config (key, value) VALUES ('last_blob_gc_at', '');
INSERT OR IGNORE INTO store_config (key, value) VALUES ('last_backup_at', '');
`,
	})
}
