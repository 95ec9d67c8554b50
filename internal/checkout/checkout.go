// Package checkout implements the checkout/commit engine: spec.md §4.F.
// It materializes a branch head to a directory, re-scans it later, and
// reconciles the difference back through the Version engine under
// optimistic-locking conflict detection. Grounded on the teacher's
// multi-repo hydration cache (multirepo.go) for the "rescan, diff
// against a remembered snapshot" shape. No file lock is taken on a
// checkout directory: concurrent commits are ordered only by the
// store's transactions and the snapshot (hash, version) check.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/scan"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
	"github.com/untoldecay/templedb/internal/version"
)

type Engine struct {
	db         *store.DB
	repo       *repo.Repo
	blobs      *blob.Store
	version    *version.Engine
	classifier *scan.Classifier
}

func New(db *store.DB, r *repo.Repo, b *blob.Store, v *version.Engine, c *scan.Classifier) *Engine {
	return &Engine{db: db, repo: r, blobs: b, version: v, classifier: c}
}

// Checkout materializes branch's head commit to dir: spec.md §4.F steps
// 1-4. Directory materialization happens outside the store transaction
// (filesystem writes aren't transactional against SQLite), but the
// Checkout row and its snapshots are written in one transaction so a
// crash between "files written" and "snapshot recorded" is recoverable
// by re-running checkout --force rather than leaving a half-registered
// checkout.
func (e *Engine) Checkout(ctx context.Context, projectID, branchID int64, dir string, force bool) (int64, error) {
	if _, err := os.Stat(dir); err == nil {
		if !force {
			return 0, fmt.Errorf("checkout dir %s: %w", dir, tdberr.ErrPathExists)
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("stat %s: %w: %v", dir, tdberr.ErrIOError, err)
	}

	var headCommitID sql.NullInt64
	if err := e.db.Raw().QueryRowContext(ctx, `SELECT head_commit_id FROM branches WHERE id = ?`, branchID).Scan(&headCommitID); err != nil {
		return 0, fmt.Errorf("read branch head: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create checkout dir %s: %w: %v", dir, tdberr.ErrIOError, err)
	}

	var tree []version.TreeEntry
	if headCommitID.Valid {
		t, err := e.version.Tree(ctx, headCommitID.Int64)
		if err != nil {
			return 0, fmt.Errorf("load tree: %w", err)
		}
		tree = t
	}

	for _, entry := range tree {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := e.materialize(ctx, dir, entry.Path, entry.ContentHash); err != nil {
			return 0, err
		}
	}

	var checkoutID int64
	err := store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			if err := conn.QueryRowContext(ctx, `
				INSERT INTO checkouts (project_id, branch_id, checkout_path) VALUES (?, ?, ?)
				ON CONFLICT(project_id, checkout_path) DO UPDATE SET
					branch_id = excluded.branch_id,
					last_sync_at = CURRENT_TIMESTAMP
				RETURNING id
			`, projectID, branchID, dir).Scan(&checkoutID); err != nil {
				return fmt.Errorf("record checkout: %w", err)
			}

			if _, err := conn.ExecContext(ctx, `DELETE FROM checkout_snapshots WHERE checkout_id = ?`, checkoutID); err != nil {
				return fmt.Errorf("clear stale snapshots: %w", err)
			}

			for _, entry := range tree {
				fileID, err := e.fileIDForPath(ctx, conn, projectID, entry.Path)
				if err != nil {
					return err
				}
				_, ver, err := e.currentContent(ctx, conn, fileID)
				if err != nil {
					return fmt.Errorf("read current content for %s: %w", entry.Path, err)
				}
				if _, err := conn.ExecContext(ctx, `
					INSERT INTO checkout_snapshots (checkout_id, file_id, content_hash, version) VALUES (?, ?, ?, ?)
				`, checkoutID, fileID, entry.ContentHash, ver); err != nil {
					return fmt.Errorf("record snapshot for %s: %w", entry.Path, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return checkoutID, nil
}

// ByPath resolves a checkout's id from its recorded directory, scoped to
// projectID, for CLI callers that only have a project ref and a
// directory a prior `checkout` materialized. Scoping by project catches
// a caller pointing the wrong project at someone else's checkout dir.
func (e *Engine) ByPath(ctx context.Context, projectID int64, dir string) (int64, error) {
	var id int64
	err := e.db.Raw().QueryRowContext(ctx, `
		SELECT id FROM checkouts WHERE project_id = ? AND checkout_path = ?
	`, projectID, dir).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("checkout %s: %w", dir, tdberr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve checkout %s: %w", dir, err)
	}
	return id, nil
}

func (e *Engine) materialize(ctx context.Context, dir, relPath, hash string) error {
	data, err := e.blobs.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", relPath, err)
	}
	target := filepath.Join(dir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w: %v", relPath, tdberr.ErrIOError, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", relPath, tdberr.ErrIOError, err)
	}
	return nil
}

func (e *Engine) fileIDForPath(ctx context.Context, conn *sql.Conn, projectID int64, path string) (int64, error) {
	var id int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM project_files WHERE project_id = ? AND path = ?`, projectID, path).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("file %s: %w", path, tdberr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup file %s: %w", path, err)
	}
	return id, nil
}

func (e *Engine) currentContent(ctx context.Context, conn *sql.Conn, fileID int64) (string, int, error) {
	var hash string
	var v int
	err := conn.QueryRowContext(ctx, `
		SELECT content_hash, version FROM file_contents WHERE file_id = ? AND is_current = 1
	`, fileID).Scan(&hash, &v)
	if err != nil {
		return "", 0, err
	}
	return hash, v, nil
}

// diffEntry is one file's classification relative to its checkout
// snapshot, computed by Rescan. changeType is one of model.ChangeType's
// values, or unchanged for a file whose hash didn't move.
type diffEntry struct {
	path         string
	previousPath string
	fileID       int64
	changeType   model.ChangeType
	newHash      string
	descriptor   model.FileDescriptor
	hasSnapshot  bool
	snapHash     string
	snapVersion  int

	conflict       model.ConflictType
	currentHash    string
	currentVersion int
}

// unchanged marks a diffEntry whose content hash matches its checkout
// snapshot — not one of model.ChangeType's persisted values, since an
// unchanged file is never written to file_states.
const unchanged model.ChangeType = "unchanged"
