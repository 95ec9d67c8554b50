package version

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/store"
)

// SetWorkingState upserts the (branch, file) working-state row, used by
// the checkout engine's rescan to record added/modified/deleted/conflict
// transitions per spec.md §4.E's state machine diagram.
func (e *Engine) SetWorkingState(ctx context.Context, projectID, branchID, fileID int64, hash string, state model.WorkingStatus) error {
	return store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			var hashArg any
			if hash != "" {
				hashArg = hash
			}
			_, err := conn.ExecContext(ctx, `
				INSERT INTO working_states (project_id, branch_id, file_id, content_hash, state, staged)
				VALUES (?, ?, ?, ?, ?, 0)
				ON CONFLICT(branch_id, file_id) DO UPDATE SET
					content_hash = excluded.content_hash,
					state = excluded.state
			`, projectID, branchID, fileID, hashArg, string(state))
			return err
		})
	})
}

// Stage marks a (branch, file) row as staged without changing its
// state, so `commit` later includes it.
func (e *Engine) Stage(ctx context.Context, branchID, fileID int64) error {
	return store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `UPDATE working_states SET staged = 1 WHERE branch_id = ? AND file_id = ?`, branchID, fileID)
			return err
		})
	})
}

// Unstage clears staged while preserving state, per spec.md §4.E: "unstage
// (reset) clears staged but preserves state."
func (e *Engine) Unstage(ctx context.Context, branchID, fileID int64) error {
	return store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `UPDATE working_states SET staged = 0 WHERE branch_id = ? AND file_id = ?`, branchID, fileID)
			return err
		})
	})
}

// Status returns every non-unmodified working-state row for (project,
// branch) — the data behind `tdb vcs status`.
func (e *Engine) Status(ctx context.Context, projectID, branchID int64) ([]model.WorkingState, error) {
	rows, err := e.db.Raw().QueryContext(ctx, `
		SELECT project_id, branch_id, file_id, content_hash, state, staged
		FROM working_states
		WHERE project_id = ? AND branch_id = ? AND state != 'unmodified'
		ORDER BY file_id
	`, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer rows.Close()

	var out []model.WorkingState
	for rows.Next() {
		var w model.WorkingState
		var hash sql.NullString
		var state string
		var staged int
		if err := rows.Scan(&w.ProjectID, &w.BranchID, &w.FileID, &hash, &state, &staged); err != nil {
			return nil, fmt.Errorf("scan working state: %w", err)
		}
		w.ContentHash = hash.String
		w.State = model.WorkingStatus(state)
		w.Staged = staged == 1
		out = append(out, w)
	}
	return out, rows.Err()
}

// StagedEntries returns every row staged for (project, branch), ready to
// hand to CreateCommit.
func (e *Engine) StagedEntries(ctx context.Context, projectID, branchID int64) ([]StagedEntry, error) {
	rows, err := e.db.Raw().QueryContext(ctx, `
		SELECT ws.file_id, pf.path, ws.content_hash, ws.state
		FROM working_states ws
		JOIN project_files pf ON pf.id = ws.file_id
		WHERE ws.project_id = ? AND ws.branch_id = ? AND ws.staged = 1
		ORDER BY pf.path
	`, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("staged entries: %w", err)
	}
	defer rows.Close()

	var out []StagedEntry
	for rows.Next() {
		var s StagedEntry
		var hash sql.NullString
		var state string
		if err := rows.Scan(&s.FileID, &s.Path, &hash, &state); err != nil {
			return nil, fmt.Errorf("scan staged entry: %w", err)
		}
		s.ContentHash = hash.String
		switch model.WorkingStatus(state) {
		case model.StateAdded:
			s.ChangeType = model.ChangeAdded
		case model.StateDeleted:
			s.ChangeType = model.ChangeDeleted
		default:
			s.ChangeType = model.ChangeModified
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Log lists the project's commits, only those recorded against branchID
// when it is non-nil, in reverse chronological order (ties broken by
// commit_hash, per spec.md §4.E), optionally capped at limit
// (0 = unbounded). It filters on commits.branch_id and does not follow
// parent links.
func (e *Engine) Log(ctx context.Context, projectID int64, branchID *int64, limit int) ([]model.Commit, error) {
	query := `
		SELECT id, project_id, branch_id, commit_hash, parent_id, merge_parent_id, author, email, message, timestamp, files_changed, lines_added, lines_removed
		FROM commits WHERE project_id = ?`
	args := []any{projectID}
	if branchID != nil {
		query += " AND branch_id = ?"
		args = append(args, *branchID)
	}
	query += " ORDER BY timestamp DESC, commit_hash DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := e.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer rows.Close()

	var out []model.Commit
	for rows.Next() {
		var c model.Commit
		var parentID, mergeParentID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.BranchID, &c.CommitHash, &parentID, &mergeParentID, &c.Author, &c.Email, &c.Message, &c.Timestamp, &c.FilesChanged, &c.LinesAdded, &c.LinesRemoved); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if parentID.Valid {
			c.ParentID = &parentID.Int64
		}
		if mergeParentID.Valid {
			c.MergeParentID = &mergeParentID.Int64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
