package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/templedb/internal/migrate"
)

func init() {
	migrate.Register(migrate.Migration{
		ID:       4,
		Filename: "004_commit_is_merge_flag.sql",
		Up: `
ALTER TABLE commits ADD COLUMN is_merge INTEGER NOT NULL DEFAULT 0 CHECK (is_merge IN (0, 1));
CREATE INDEX IF NOT EXISTS idx_commits_is_merge ON commits(branch_id, is_merge);
`,
		Rewrite: backfillIsMerge,
	})
}

// backfillIsMerge sets is_merge=1 for any commit rows that already carry
// a merge_parent_id, so the new column and its index are correct for
// stores upgraded from before this migration rather than only for
// commits created afterward. Grounded on the teacher's
// 010_content_hash_column.go backfill: a SAVEPOINT around a prepared
// batch UPDATE, run inside the ambient migration transaction.
func backfillIsMerge(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "SAVEPOINT backfill_is_merge"); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	released := false
	defer func() {
		if !released {
			_, _ = db.ExecContext(context.Background(), "ROLLBACK TO SAVEPOINT backfill_is_merge")
		}
	}()

	if _, err := db.ExecContext(ctx, `
		UPDATE commits SET is_merge = 1 WHERE merge_parent_id IS NOT NULL
	`); err != nil {
		return fmt.Errorf("backfill is_merge: %w", err)
	}

	if _, err := db.ExecContext(ctx, "RELEASE SAVEPOINT backfill_is_merge"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	released = true
	return nil
}
