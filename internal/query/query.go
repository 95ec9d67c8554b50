// Package query implements the read-only façade: spec.md §4.H. Every
// operation that looks a file up by path takes a projectID, except
// SearchByPath, whose projectID is optional (nil searches every
// project). No separate checker enforces this.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
	"github.com/untoldecay/templedb/internal/version"
)

type Facade struct {
	db      *store.DB
	repo    *repo.Repo
	version *version.Engine
	blobs   *blob.Store
}

func New(db *store.DB, r *repo.Repo, v *version.Engine, b *blob.Store) *Facade {
	return &Facade{db: db, repo: r, version: v, blobs: b}
}

func (f *Facade) ListProjects(ctx context.Context) ([]model.Project, error) {
	return f.repo.ListProjects(ctx)
}

// ShowProject resolves ref as a slug, falling back to a numeric id.
func (f *Facade) ShowProject(ctx context.Context, ref string) (model.Project, error) {
	if p, err := f.repo.GetProjectBySlug(ctx, ref); err == nil {
		return p, nil
	}
	var id int64
	if _, err := fmt.Sscanf(ref, "%d", &id); err == nil {
		return f.repo.GetProject(ctx, id)
	}
	return model.Project{}, fmt.Errorf("project %s: %w", ref, tdberr.ErrProjectNotFound)
}

func (f *Facade) ListBranches(ctx context.Context, projectID int64) ([]model.Branch, error) {
	return f.version.ListBranches(ctx, projectID)
}

func (f *Facade) Log(ctx context.Context, projectID int64, branchID *int64, limit int) ([]model.Commit, error) {
	return f.version.Log(ctx, projectID, branchID, limit)
}

// StatusKind tags one Status entry, per spec.md §9's "tagged union over
// {modified, added, deleted, conflict}" design note.
type StatusKind string

const (
	StatusModified StatusKind = "modified"
	StatusAdded    StatusKind = "added"
	StatusDeleted  StatusKind = "deleted"
	StatusConflict StatusKind = "conflict"
)

type StatusEntry struct {
	Path string
	Kind StatusKind
}

// Status reports every file away from unmodified for (project, branch):
// working_states for modified/added/deleted, plus any unresolved row in
// conflicts for files checked out under that branch.
func (f *Facade) Status(ctx context.Context, projectID, branchID int64) ([]StatusEntry, error) {
	working, err := f.version.Status(ctx, projectID, branchID)
	if err != nil {
		return nil, err
	}

	paths := make(map[int64]string)
	var fileIDs []int64
	for _, w := range working {
		fileIDs = append(fileIDs, w.FileID)
	}

	rows, err := f.db.Raw().QueryContext(ctx, `
		SELECT id, path FROM project_files WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("status: load paths: %w", err)
	}
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return nil, err
		}
		paths[id] = path
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []StatusEntry
	for _, w := range working {
		var kind StatusKind
		switch w.State {
		case model.StateAdded:
			kind = StatusAdded
		case model.StateDeleted:
			kind = StatusDeleted
		case model.StateConflict:
			kind = StatusConflict
		default:
			kind = StatusModified
		}
		out = append(out, StatusEntry{Path: paths[w.FileID], Kind: kind})
	}

	conflictRows, err := f.db.Raw().QueryContext(ctx, `
		SELECT DISTINCT co.path
		FROM conflicts co
		JOIN checkouts c ON c.id = co.checkout_id
		WHERE c.project_id = ? AND c.branch_id = ? AND co.resolution = ''
	`, projectID, branchID)
	if err != nil {
		return nil, fmt.Errorf("status: load conflicts: %w", err)
	}
	defer conflictRows.Close()
	for conflictRows.Next() {
		var path string
		if err := conflictRows.Scan(&path); err != nil {
			return nil, err
		}
		out = append(out, StatusEntry{Path: path, Kind: StatusConflict})
	}
	return out, conflictRows.Err()
}

// FileHistoryEntry is one commit touching a file, in descending time order.
type FileHistoryEntry struct {
	Commit     model.Commit
	ChangeType model.ChangeType
	ContentHash string
}

// FileHistory returns every commit, on any branch of the project, that
// recorded a file_states row for path, most recent first.
func (f *Facade) FileHistory(ctx context.Context, projectID int64, path string) ([]FileHistoryEntry, error) {
	file, err := f.repo.GetFileByPath(ctx, projectID, path)
	if err != nil {
		return nil, err
	}

	rows, err := f.db.Raw().QueryContext(ctx, `
		SELECT c.id, c.project_id, c.branch_id, c.commit_hash, c.parent_id, c.merge_parent_id,
		       c.author, c.email, c.message, c.timestamp, c.files_changed, c.lines_added, c.lines_removed,
		       fs.change_type, fs.content_hash
		FROM file_states fs
		JOIN commits c ON c.id = fs.commit_id
		WHERE fs.file_id = ?
		ORDER BY c.timestamp DESC, c.commit_hash DESC
	`, file.ID)
	if err != nil {
		return nil, fmt.Errorf("file history %s: %w", path, err)
	}
	defer rows.Close()

	var out []FileHistoryEntry
	for rows.Next() {
		var e FileHistoryEntry
		var c model.Commit
		var parentID, mergeParentID sql.NullInt64
		var changeType string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.BranchID, &c.CommitHash, &parentID, &mergeParentID,
			&c.Author, &c.Email, &c.Message, &c.Timestamp, &c.FilesChanged, &c.LinesAdded, &c.LinesRemoved,
			&changeType, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("scan file history: %w", err)
		}
		if parentID.Valid {
			c.ParentID = &parentID.Int64
		}
		if mergeParentID.Valid {
			c.MergeParentID = &mergeParentID.Int64
		}
		e.Commit = c
		e.ChangeType = model.ChangeType(changeType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DiffLine is one line of a unified-style line diff.
type DiffLine struct {
	Op   byte // ' ', '+', '-'
	Text string
}

// DiffResult is Diff's output: either a line diff (text), a one-line
// binary notice, or a whole-file-removed/added marker.
type DiffResult struct {
	Binary  bool
	Summary string
	Lines   []DiffLine
}

// Diff compares path's content at two commit-hash prefixes (or the
// file's current stored content, its is_current file_contents row, when
// a or b is ""; no checkout directory is read), per spec.md §4.H. Text
// files get a line-level diff (classic LCS); binary files get a
// "binary differs" notice instead of a byte diff.
func (f *Facade) Diff(ctx context.Context, projectID int64, path, aPrefix, bPrefix string) (DiffResult, error) {
	aHash, err := f.resolveContentHash(ctx, projectID, path, aPrefix)
	if err != nil {
		return DiffResult{}, err
	}
	bHash, err := f.resolveContentHash(ctx, projectID, path, bPrefix)
	if err != nil {
		return DiffResult{}, err
	}

	if aHash == "" && bHash == "" {
		return DiffResult{}, fmt.Errorf("diff %s: %w: no content on either side", path, tdberr.ErrNotFound)
	}
	if aHash == "" {
		return DiffResult{Summary: fmt.Sprintf("%s: file added", path)}, nil
	}
	if bHash == "" {
		return DiffResult{Summary: fmt.Sprintf("%s: file removed", path)}, nil
	}
	if aHash == bHash {
		return DiffResult{Summary: fmt.Sprintf("%s: unchanged", path)}, nil
	}

	aInfo, err := f.blobs.Info(ctx, aHash)
	if err != nil {
		return DiffResult{}, err
	}
	bInfo, err := f.blobs.Info(ctx, bHash)
	if err != nil {
		return DiffResult{}, err
	}
	if aInfo.ContentType == model.ContentBinary || bInfo.ContentType == model.ContentBinary {
		return DiffResult{Binary: true, Summary: fmt.Sprintf("%s: binary differs", path)}, nil
	}

	aData, err := f.blobs.Get(ctx, aHash)
	if err != nil {
		return DiffResult{}, err
	}
	bData, err := f.blobs.Get(ctx, bHash)
	if err != nil {
		return DiffResult{}, err
	}

	return DiffResult{Lines: lineDiff(splitLines(aData), splitLines(bData))}, nil
}

// resolveContentHash returns path's content hash at commitPrefix, or its
// current content hash when commitPrefix is "". Returns "" if the file
// does not exist at that point.
func (f *Facade) resolveContentHash(ctx context.Context, projectID int64, path, commitPrefix string) (string, error) {
	if commitPrefix == "" {
		file, err := f.repo.GetFileByPath(ctx, projectID, path)
		if err != nil {
			if isNotFound(err) {
				return "", nil
			}
			return "", err
		}
		hash, _, err := f.repo.CurrentContent(ctx, file.ID)
		if isNotFound(err) {
			return "", nil
		}
		return hash, err
	}

	commitID, err := f.resolveCommitHash(ctx, projectID, commitPrefix)
	if err != nil {
		return "", err
	}
	tree, err := f.version.Tree(ctx, commitID)
	if err != nil {
		return "", err
	}
	for _, e := range tree {
		if e.Path == path {
			return e.ContentHash, nil
		}
	}
	return "", nil
}

func isNotFound(err error) bool {
	return errors.Is(err, tdberr.ErrNotFound)
}

// SearchByPath lists every project_files row whose path contains
// substr, optionally scoped to one project.
func (f *Facade) SearchByPath(ctx context.Context, substr string, projectID *int64) ([]model.ProjectFile, error) {
	query := `
		SELECT id, project_id, path, file_type_id, lines_of_code, owner, created_at, updated_at
		FROM project_files WHERE path LIKE ?`
	args := []any{"%" + substr + "%"}
	if projectID != nil {
		query += " AND project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY path"

	rows, err := f.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search by path %q: %w", substr, err)
	}
	defer rows.Close()

	var out []model.ProjectFile
	for rows.Next() {
		var pf model.ProjectFile
		if err := rows.Scan(&pf.ID, &pf.ProjectID, &pf.Path, &pf.FileTypeID, &pf.LinesOfCode, &pf.Owner, &pf.CreatedAt, &pf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

// ShowCommit resolves hashPrefix to a commit within projectID, returning
// tdberr.AmbiguousHashError if more than one commit matches, or
// tdberr.ErrNotFound if none does.
func (f *Facade) ShowCommit(ctx context.Context, projectID int64, hashPrefix string) (model.Commit, []version.TreeEntry, error) {
	commitID, err := f.resolveCommitHash(ctx, projectID, hashPrefix)
	if err != nil {
		return model.Commit{}, nil, err
	}

	var c model.Commit
	var parentID, mergeParentID sql.NullInt64
	err = f.db.Raw().QueryRowContext(ctx, `
		SELECT id, project_id, branch_id, commit_hash, parent_id, merge_parent_id, author, email, message, timestamp, files_changed, lines_added, lines_removed
		FROM commits WHERE id = ?
	`, commitID).Scan(&c.ID, &c.ProjectID, &c.BranchID, &c.CommitHash, &parentID, &mergeParentID, &c.Author, &c.Email, &c.Message, &c.Timestamp, &c.FilesChanged, &c.LinesAdded, &c.LinesRemoved)
	if err != nil {
		return model.Commit{}, nil, fmt.Errorf("show commit %s: %w", hashPrefix, err)
	}
	if parentID.Valid {
		c.ParentID = &parentID.Int64
	}
	if mergeParentID.Valid {
		c.MergeParentID = &mergeParentID.Int64
	}

	tree, err := f.version.Tree(ctx, commitID)
	if err != nil {
		return model.Commit{}, nil, err
	}
	return c, tree, nil
}

// resolveCommitHash implements spec.md §6's prefix-lookup rule: hashes
// shorter than 40 hex chars are prefix-matched, must be unique within
// the project.
func (f *Facade) resolveCommitHash(ctx context.Context, projectID int64, prefix string) (int64, error) {
	rows, err := f.db.Raw().QueryContext(ctx, `
		SELECT id, commit_hash FROM commits WHERE project_id = ? AND commit_hash LIKE ?
	`, projectID, prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("resolve commit %s: %w", prefix, err)
	}
	defer rows.Close()

	var ids []int64
	var hashes []string
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return 0, err
		}
		ids = append(ids, id)
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("commit %s: %w", prefix, tdberr.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		sort.Strings(hashes)
		return 0, &tdberr.AmbiguousHashError{Prefix: prefix, Candidates: hashes}
	}
}

func splitLines(data []byte) []string {
	text := string(data)
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineDiff computes a classic O(n*m) LCS-based line diff between a and b.
func lineDiff(a, b []string) []DiffLine {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out []DiffLine
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			out = append(out, DiffLine{Op: ' ', Text: a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, DiffLine{Op: '-', Text: a[i]})
			i++
		default:
			out = append(out, DiffLine{Op: '+', Text: b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, DiffLine{Op: '-', Text: a[i]})
	}
	for ; j < m; j++ {
		out = append(out, DiffLine{Op: '+', Text: b[j]})
	}
	return out
}
