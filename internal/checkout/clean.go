package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// CleanStale scans checkouts rows for projectID whose checkout_path no
// longer exists on disk: spec.md §4.F's stale-checkout cleanup. It
// always returns the stale paths it found; with force it also deletes
// those rows (and their snapshots, via checkout_snapshots' ON DELETE
// CASCADE) so a later `checkout` to the same path doesn't trip the
// ON CONFLICT(project_id, checkout_path) upsert against a row nothing
// backs anymore.
func (e *Engine) CleanStale(ctx context.Context, projectID int64, force bool) ([]string, error) {
	rows, err := e.db.Raw().QueryContext(ctx, `
		SELECT id, checkout_path FROM checkouts WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list checkouts: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id   int64
		path string
	}
	var stale []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.path); err != nil {
			return nil, fmt.Errorf("scan checkout: %w", err)
		}
		if _, statErr := os.Stat(c.path); os.IsNotExist(statErr) {
			stale = append(stale, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(stale))
	for _, c := range stale {
		paths = append(paths, c.path)
	}
	if !force || len(stale) == 0 {
		return paths, nil
	}

	err = e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		for _, c := range stale {
			if _, err := conn.ExecContext(ctx, `DELETE FROM checkout_snapshots WHERE checkout_id = ?`, c.id); err != nil {
				return fmt.Errorf("clear snapshots for %s: %w", c.path, err)
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM checkouts WHERE id = ?`, c.id); err != nil {
				return fmt.Errorf("remove checkout %s: %w", c.path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
