package migrations

import "github.com/untoldecay/templedb/internal/migrate"

func init() {
	migrate.Register(migrate.Migration{
		ID:       5,
		Filename: "005_seed_file_types.sql",
		// Seeds the catch-all dictionary entries the Scanner's pattern
		// table falls back to when nothing more specific matches, so
		// get_or_create_file never needs a fallback INSERT of its own.
		Up: `
INSERT OR IGNORE INTO file_types (name, category) VALUES ('unknown', 'other');
INSERT OR IGNORE INTO file_types (name, category) VALUES ('binary', 'other');
`,
	})
}
