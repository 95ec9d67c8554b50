// Package version implements the commit/branch model and working-state
// machine: spec.md §4.E. Grounded on the teacher's recursive-CTE view
// style (internal/storage/sqlite/schema.go's ready_issues/blocked_issues
// views) for walking a commit's ancestry to reconstruct its tree, and on
// hash_ids.go's INSERT...ON CONFLICT...RETURNING idiom for
// get-or-create branch lookups.
package version

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

type Engine struct {
	db   *store.DB
	repo *repo.Repo
}

func New(db *store.DB, r *repo.Repo) *Engine {
	return &Engine{db: db, repo: r}
}

// GetOrCreateBranch returns name's branch id within project, creating it
// if absent. It takes no parent branch: a new branch always starts with
// no head commit. The first branch ever created for a project is marked
// is_default.
func (e *Engine) GetOrCreateBranch(ctx context.Context, projectID int64, name string) (int64, error) {
	var id int64
	err := store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			var count int
			if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches WHERE project_id = ?`, projectID).Scan(&count); err != nil {
				return err
			}
			isDefault := 0
			if count == 0 {
				isDefault = 1
			}
			return conn.QueryRowContext(ctx, `
				INSERT INTO branches (project_id, name, is_default) VALUES (?, ?, ?)
				ON CONFLICT(project_id, name) DO UPDATE SET name = excluded.name
				RETURNING id
			`, projectID, name, isDefault).Scan(&id)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("get or create branch %s: %w", name, err)
	}
	return id, nil
}

func (e *Engine) ListBranches(ctx context.Context, projectID int64) ([]model.Branch, error) {
	rows, err := e.db.Raw().QueryContext(ctx, `
		SELECT id, project_id, name, head_commit_id, is_default, is_protected, created_at
		FROM branches WHERE project_id = ? ORDER BY is_default DESC, name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []model.Branch
	for rows.Next() {
		var b model.Branch
		var head sql.NullInt64
		var isDefault, isProtected int
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &head, &isDefault, &isProtected, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if head.Valid {
			b.HeadCommitID = &head.Int64
		}
		b.IsDefault = isDefault == 1
		b.IsProtected = isProtected == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

// StagedEntry is the caller-facing shape for CreateCommit's input,
// matching model.StagingEntry but decoupled from whatever storage
// representation staging uses.
type StagedEntry struct {
	FileID       int64
	Path         string
	ContentHash  string
	ChangeType   model.ChangeType
	PreviousPath string // set only when ChangeType == model.ChangeRenamed
}

// IdempotentReplay is returned (wrapping the existing commit id) when
// CreateCommit's computed tree hashes to a commit that already exists
// for the project — spec.md §4.E step 2.
type IdempotentReplay struct {
	CommitID int64
}

func (e IdempotentReplay) Error() string {
	return fmt.Sprintf("idempotent replay of commit %d", e.CommitID)
}

// CreateCommit executes spec.md §4.E's commit operation atomically.
// staged must be non-empty; the caller (checkout engine or the staging
// API) is responsible for enforcing "no open conflicts for any involved
// file" before calling.
func (e *Engine) CreateCommit(ctx context.Context, projectID, branchID int64, staged []StagedEntry, author, email, message string) (int64, string, error) {
	if len(staged) == 0 {
		return 0, "", fmt.Errorf("create commit: %w: no staged entries", tdberr.ErrUsage)
	}

	var commitID int64
	var hash string
	err := store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			var err error
			commitID, hash, err = e.commitTx(ctx, conn, projectID, branchID, staged, author, email, message)
			return err
		})
	})
	if err != nil {
		var replay IdempotentReplay
		if ok := asIdempotentReplay(err, &replay); ok {
			return replay.CommitID, hash, nil
		}
		return 0, "", err
	}
	return commitID, hash, nil
}

func asIdempotentReplay(err error, out *IdempotentReplay) bool {
	ir, ok := err.(IdempotentReplay)
	if ok {
		*out = ir
	}
	return ok
}

func (e *Engine) commitTx(ctx context.Context, conn *sql.Conn, projectID, branchID int64, staged []StagedEntry, author, email, message string) (int64, string, error) {
	var parentID sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT head_commit_id FROM branches WHERE id = ?`, branchID).Scan(&parentID); err != nil {
		return 0, "", fmt.Errorf("read branch head: %w", err)
	}

	var parentHash string
	var tree []TreeEntry
	if parentID.Valid {
		var err error
		tree, err = treeAt(ctx, conn, parentID.Int64)
		if err != nil {
			return 0, "", fmt.Errorf("reconstruct parent tree: %w", err)
		}
		if err := conn.QueryRowContext(ctx, `SELECT commit_hash FROM commits WHERE id = ?`, parentID.Int64).Scan(&parentHash); err != nil {
			return 0, "", fmt.Errorf("read parent hash: %w", err)
		}
	}

	tree = applyStaged(tree, staged)

	now := time.Now().UTC()
	hash := CanonicalEncoding{
		Tree:       tree,
		ParentHash: parentHash,
		Author:     author,
		Email:      email,
		Timestamp:  now,
		Message:    message,
	}.Hash()

	var existing int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM commits WHERE commit_hash = ? AND project_id = ?`, hash, projectID).Scan(&existing)
	if err == nil {
		return 0, hash, IdempotentReplay{CommitID: existing}
	}
	if err != sql.ErrNoRows {
		return 0, "", fmt.Errorf("check existing commit: %w", err)
	}

	added, removed := diffCounts(staged)
	var parentArg any
	if parentID.Valid {
		parentArg = parentID.Int64
	}
	res, err := conn.ExecContext(ctx, `
		INSERT INTO commits (project_id, branch_id, commit_hash, parent_id, author, email, message, timestamp, files_changed, lines_added, lines_removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, projectID, branchID, hash, parentArg, author, email, message, now.Format(time.RFC3339), len(staged), added, removed)
	if err != nil {
		return 0, "", fmt.Errorf("insert commit: %w", err)
	}
	commitID, err := res.LastInsertId()
	if err != nil {
		return 0, "", err
	}

	for _, s := range staged {
		var prevPath any
		if s.PreviousPath != "" {
			prevPath = s.PreviousPath
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO file_states (commit_id, file_id, content_hash, change_type, previous_path) VALUES (?, ?, ?, ?, ?)
		`, commitID, s.FileID, s.ContentHash, string(s.ChangeType), prevPath); err != nil {
			return 0, "", fmt.Errorf("insert file_state for file %d: %w", s.FileID, err)
		}

		if s.ChangeType != model.ChangeDeleted {
			_, prevVersion, err := e.currentContentInTx(ctx, conn, s.FileID)
			if err != nil && err != sql.ErrNoRows {
				return 0, "", fmt.Errorf("read current content for file %d: %w", s.FileID, err)
			}
			if err := e.repo.SetCurrentContent(ctx, conn, s.FileID, s.ContentHash, prevVersion); err != nil {
				return 0, "", fmt.Errorf("set current content for file %d: %w", s.FileID, err)
			}
		}

		if _, err := conn.ExecContext(ctx, `
			UPDATE working_states SET staged = 0, state = 'unmodified', content_hash = ?
			WHERE branch_id = ? AND file_id = ?
		`, s.ContentHash, branchID, s.FileID); err != nil {
			return 0, "", fmt.Errorf("reset working state for file %d: %w", s.FileID, err)
		}
	}

	if _, err := conn.ExecContext(ctx, `UPDATE branches SET head_commit_id = ? WHERE id = ?`, commitID, branchID); err != nil {
		return 0, "", fmt.Errorf("update branch head: %w", err)
	}

	return commitID, hash, nil
}

func (e *Engine) currentContentInTx(ctx context.Context, conn *sql.Conn, fileID int64) (string, int, error) {
	var hash string
	var version int
	err := conn.QueryRowContext(ctx, `
		SELECT content_hash, version FROM file_contents WHERE file_id = ? AND is_current = 1
	`, fileID).Scan(&hash, &version)
	return hash, version, err
}

func applyStaged(tree []TreeEntry, staged []StagedEntry) []TreeEntry {
	byPath := make(map[string]TreeEntry, len(tree))
	for _, e := range tree {
		byPath[e.Path] = e
	}
	for _, s := range staged {
		switch s.ChangeType {
		case model.ChangeDeleted:
			delete(byPath, s.Path)
		case model.ChangeRenamed:
			delete(byPath, s.PreviousPath)
			byPath[s.Path] = TreeEntry{Path: s.Path, ContentHash: s.ContentHash}
		default:
			byPath[s.Path] = TreeEntry{Path: s.Path, ContentHash: s.ContentHash}
		}
	}
	out := make([]TreeEntry, 0, len(byPath))
	for _, e := range byPath {
		out = append(out, e)
	}
	return out
}

func diffCounts(staged []StagedEntry) (added, removed int) {
	for _, s := range staged {
		switch s.ChangeType {
		case model.ChangeAdded:
			added++
		case model.ChangeDeleted:
			removed++
		}
	}
	return added, removed
}

// treeAt reconstructs a commit's full (path, content_hash) tree by
// walking its ancestry chain and, for each file, taking the nearest
// ancestor's file_state — mirroring the teacher's recursive-CTE view
// style for hierarchy propagation, applied here to commit lineage
// instead of issue parent-child trees.
func treeAt(ctx context.Context, conn *sql.Conn, commitID int64) ([]TreeEntry, error) {
	rows, err := conn.QueryContext(ctx, `
		WITH RECURSIVE chain(commit_id, depth) AS (
			SELECT id, 0 FROM commits WHERE id = ?
			UNION ALL
			SELECT c.parent_id, chain.depth + 1
			FROM commits c JOIN chain ON c.id = chain.commit_id
			WHERE c.parent_id IS NOT NULL
		)
		SELECT pf.path, fs.content_hash, fs.change_type
		FROM file_states fs
		JOIN chain ON chain.commit_id = fs.commit_id
		JOIN project_files pf ON pf.id = fs.file_id
		WHERE NOT EXISTS (
			SELECT 1 FROM file_states fs2
			JOIN chain c2 ON c2.commit_id = fs2.commit_id
			WHERE fs2.file_id = fs.file_id AND c2.depth < chain.depth
		)
	`, commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TreeEntry
	for rows.Next() {
		var path, hash, changeType string
		if err := rows.Scan(&path, &hash, &changeType); err != nil {
			return nil, err
		}
		if changeType == string(model.ChangeDeleted) {
			continue
		}
		out = append(out, TreeEntry{Path: path, ContentHash: hash})
	}
	return out, rows.Err()
}

// Tree is the exported form of treeAt, used by the checkout engine to
// materialize a commit and by the query façade to show one.
func (e *Engine) Tree(ctx context.Context, commitID int64) ([]TreeEntry, error) {
	conn, err := e.db.Raw().Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return treeAt(ctx, conn, commitID)
}
