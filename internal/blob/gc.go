package blob

import (
	"context"
	"database/sql"
	"fmt"
)

// GC deletes every blob the unreferenced_blobs view reports (migration
// 006): content_blobs rows with zero references from file_contents,
// file_states, working_states, or checkout_snapshots. Not required for
// correctness — spec.md §4.C makes blob deletion opt-in, invoked only by
// an explicit GC pass — so it is wired to `tdb backup gc`, not run
// automatically.
func (s *Store) GC(ctx context.Context) (deleted int, err error) {
	err = s.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, execErr := conn.ExecContext(ctx, `
			DELETE FROM content_blobs WHERE hash IN (SELECT hash FROM unreferenced_blobs)
		`)
		if execErr != nil {
			return execErr
		}
		n, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return rowsErr
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("blob gc: %w", err)
	}
	return deleted, nil
}
