package migrations

import "github.com/untoldecay/templedb/internal/migrate"

func init() {
	migrate.Register(migrate.Migration{
		ID:       6,
		Filename: "006_unreferenced_blobs_view.sql",
		// Backs the explicit blob garbage-collection routine (spec.md
		// §4.C: deletion only by a GC pass, never implicitly). Computing
		// "zero references" as a view keeps the reference rule in one
		// place instead of duplicating the NOT EXISTS pair in Go.
		Up: `
CREATE VIEW IF NOT EXISTS unreferenced_blobs AS
SELECT h.hash FROM content_blobs h
WHERE NOT EXISTS (SELECT 1 FROM file_contents fc WHERE fc.content_hash = h.hash)
  AND NOT EXISTS (SELECT 1 FROM file_states fs WHERE fs.content_hash = h.hash)
  AND NOT EXISTS (SELECT 1 FROM working_states ws WHERE ws.content_hash = h.hash)
  AND NOT EXISTS (SELECT 1 FROM checkout_snapshots cs WHERE cs.content_hash = h.hash);
`,
	})
}
