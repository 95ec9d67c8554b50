// Package migrate implements the schema migration ledger: a strictly
// ordered, forward-only, never-re-applied list of numbered migrations.
// It generalizes the teacher's internal/storage/sqlite migration runner
// (internal/storage/sqlite/migrations.go) from a flat idempotent
// check-then-ALTER list into a ledger-tracked one, per spec.md §4.B and
// Design Note 3: author migration 001 as the full end-state schema, then
// add 002+ going forward, each applied exactly once and recorded by id.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single numbered step: a pure SQL script (Up) plus an
// optional data-rewrite step (Rewrite) executed in the same transaction
// as the schema change, mirroring the teacher's post-ALTER batch-UPDATE
// idiom in migrations/010_content_hash_column.go. Rewrite takes the
// ambient *sql.DB rather than a fresh *sql.Tx: Run already holds the
// enclosing BEGIN EXCLUSIVE for the whole migration batch, and SQLite
// does not support a nested BEGIN on the same connection, so Rewrite's
// statements simply join that transaction.
type Migration struct {
	ID       int
	Filename string
	Up       string
	Rewrite  func(ctx context.Context, db *sql.DB) error
}

// registry is the ordered, contiguous, 1-indexed list of all migrations.
// Filled by the init func of each internal/migrate/migrations/00N_*.go file.
var registry []Migration

// Register appends a migration to the registry. Called from each
// 00N_*.go file's init so the registry order matches file order without
// a hand-maintained list, the way the teacher's migrationsList const
// would otherwise require manual upkeep.
func Register(m Migration) {
	registry = append(registry, m)
}

// Run creates the ledger table if absent, reads the highest applied id,
// and applies every migration whose id exceeds it, strictly in ascending
// order, all inside one enclosing transaction: no migration is committed
// on its own, and a failure in any of them rolls back every migration of
// that run. It fails loudly if the
// registry is missing an id or is out of order — spec.md §4.B's "fails
// loudly on a missing or non-contiguous id."
//
// Grounded on the teacher's RunMigrations: a PRAGMA foreign_keys=OFF
// window (some migrations recreate tables and would otherwise trip
// ON DELETE CASCADE) wrapped in a cross-process BEGIN EXCLUSIVE, so two
// processes racing to open a fresh store never both attempt migration
// 001.
// Run is called once, from store.Open, before the pool is handed to any
// other component; it relies on the pool already being capped to a
// single connection (store.Open sets SetMaxOpenConns(1) first) so that
// the sequence of raw, unpooled BEGIN EXCLUSIVE / ... / COMMIT
// statements below all land on the same underlying connection.
func Run(ctx context.Context, db *sql.DB) error {
	if err := validateRegistry(); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys for migration: %w", err)
	}
	defer func() { _, _ = db.ExecContext(context.Background(), "PRAGMA foreign_keys = ON") }()

	if _, err := db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive migration lock: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	applied, err := maxApplied(ctx, db)
	if err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}

	for _, m := range registry {
		if m.ID <= applied {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", m.ID, m.Filename, err)
		}
	}

	if _, err := db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true
	return nil
}

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS migration_ledger (
	id         INTEGER PRIMARY KEY,
	filename   TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

func maxApplied(ctx context.Context, db *sql.DB) (int, error) {
	var max sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(id) FROM migration_ledger").Scan(&max); err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// validateRegistry enforces registration in strictly ascending,
// contiguous, 1-based order. A gap or duplicate is an authoring error,
// not a runtime one, but is only discoverable once Run is called.
func validateRegistry() error {
	for i, m := range registry {
		want := i + 1
		if m.ID != want {
			return fmt.Errorf("migration registry is non-contiguous: expected id %d, found %d (%s)", want, m.ID, m.Filename)
		}
	}
	return nil
}

// applyOne runs a migration's Up script (which may contain multiple
// statements; SQLite's Exec accepts a semicolon-separated batch) and its
// optional Rewrite step, then records the ledger row — all within the
// single enclosing transaction Run already holds via BEGIN EXCLUSIVE, so
// a mid-migration failure rolls back every change Run has made so far,
// not just the failing migration.
func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	if m.Up != "" {
		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if m.Rewrite != nil {
		if err := m.Rewrite(ctx, db); err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO migration_ledger (id, filename) VALUES (?, ?)", m.ID, m.Filename); err != nil {
		return fmt.Errorf("record ledger row: %w", err)
	}
	return nil
}

// AppliedCount reports how many ledger rows exist, used by tests
// asserting S8's idempotence property.
func AppliedCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migration_ledger").Scan(&n)
	return n, err
}
