// Package repo implements the Project and File registry: spec.md §4.D.
// Grounded on the teacher's insertIssue/insertIssueStrict split
// (internal/storage/sqlite/issues.go) for the AlreadyExists-demoted
// upsert idiom, and on hash_ids.go's
// INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING for the get-or-create
// lookups (GetOrCreateFile, GetOrCreateFileType). SetCurrentContent
// instead reads the file's current version inside the caller's
// transaction, compares it with the expected one, and inserts the next
// version as current.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

type Repo struct {
	db *store.DB
}

func New(db *store.DB) *Repo {
	return &Repo{db: db}
}

// CreateProject inserts a new project. tdberr.ErrAlreadyExists on a
// duplicate slug — this is one of the few creates spec.md does NOT want
// demoted to success, since re-importing under an existing slug without
// --slug is very likely a caller mistake, not a benign retry.
func (r *Repo) CreateProject(ctx context.Context, slug, name, metadata string) (int64, error) {
	if metadata == "" {
		metadata = "{}"
	}
	var id int64
	err := store.Retry(ctx, func() error {
		return r.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			res, err := conn.ExecContext(ctx, `
				INSERT INTO projects (slug, name, metadata) VALUES (?, ?, ?)
			`, slug, name, metadata)
			if err != nil {
				if isUniqueConstraintError(err) {
					return fmt.Errorf("project %s: %w", slug, tdberr.ErrAlreadyExists)
				}
				return err
			}
			id, err = res.LastInsertId()
			return err
		})
	})
	return id, err
}

func (r *Repo) GetProjectBySlug(ctx context.Context, slug string) (model.Project, error) {
	return r.scanProject(ctx, "SELECT id, slug, name, metadata, created_at FROM projects WHERE slug = ?", slug)
}

func (r *Repo) GetProject(ctx context.Context, id int64) (model.Project, error) {
	return r.scanProject(ctx, "SELECT id, slug, name, metadata, created_at FROM projects WHERE id = ?", id)
}

func (r *Repo) scanProject(ctx context.Context, query string, arg any) (model.Project, error) {
	var p model.Project
	err := r.db.Raw().QueryRowContext(ctx, query, arg).Scan(&p.ID, &p.Slug, &p.Name, &p.Metadata, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Project{}, fmt.Errorf("project: %w", tdberr.ErrProjectNotFound)
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *Repo) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := r.db.Raw().QueryContext(ctx, "SELECT id, slug, name, metadata, created_at FROM projects ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Metadata, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetOrCreateFileType looks up a file type by name, creating it with the
// given category if absent. The Scanner's pattern table is the source of
// truth for (name, category) pairs; this just makes the dictionary
// self-populating rather than requiring a separate seed step per type.
func (r *Repo) GetOrCreateFileType(ctx context.Context, name, category string) (int64, error) {
	var id int64
	err := store.Retry(ctx, func() error {
		return r.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			err := conn.QueryRowContext(ctx, `
				INSERT INTO file_types (name, category) VALUES (?, ?)
				ON CONFLICT(name) DO UPDATE SET name = excluded.name
				RETURNING id
			`, name, category).Scan(&id)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("get or create file type %s: %w", name, err)
	}
	return id, nil
}

// GetOrCreateFile upserts on (project_id, path): a second scan or commit
// touching a path that already has identity returns the existing
// file_id rather than erroring, matching spec.md §4.D's "upsert
// semantics".
func (r *Repo) GetOrCreateFile(ctx context.Context, projectID int64, path string, fileTypeID int64) (int64, error) {
	var id int64
	err := store.Retry(ctx, func() error {
		return r.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			err := conn.QueryRowContext(ctx, `
				INSERT INTO project_files (project_id, path, file_type_id)
				VALUES (?, ?, ?)
				ON CONFLICT(project_id, path) DO UPDATE SET
					file_type_id = excluded.file_type_id,
					updated_at = CURRENT_TIMESTAMP
				RETURNING id
			`, projectID, path, fileTypeID).Scan(&id)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("get or create file %s: %w", path, err)
	}
	return id, nil
}

func (r *Repo) GetFileByPath(ctx context.Context, projectID int64, path string) (model.ProjectFile, error) {
	return r.scanFile(ctx, `
		SELECT id, project_id, path, file_type_id, lines_of_code, owner, created_at, updated_at
		FROM project_files WHERE project_id = ? AND path = ?
	`, projectID, path)
}

func (r *Repo) GetFile(ctx context.Context, fileID int64) (model.ProjectFile, error) {
	return r.scanFile(ctx, `
		SELECT id, project_id, path, file_type_id, lines_of_code, owner, created_at, updated_at
		FROM project_files WHERE id = ?
	`, fileID)
}

func (r *Repo) scanFile(ctx context.Context, query string, args ...any) (model.ProjectFile, error) {
	var f model.ProjectFile
	err := r.db.Raw().QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.ProjectID, &f.Path, &f.FileTypeID, &f.LinesOfCode, &f.Owner, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return model.ProjectFile{}, fmt.Errorf("file: %w", tdberr.ErrNotFound)
	}
	if err != nil {
		return model.ProjectFile{}, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (r *Repo) ListFiles(ctx context.Context, projectID int64) ([]model.ProjectFile, error) {
	rows, err := r.db.Raw().QueryContext(ctx, `
		SELECT id, project_id, path, file_type_id, lines_of_code, owner, created_at, updated_at
		FROM project_files WHERE project_id = ? ORDER BY path
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []model.ProjectFile
	for rows.Next() {
		var f model.ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.FileTypeID, &f.LinesOfCode, &f.Owner, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetCurrentContent atomically flips the previous current row's
// is_current to 0 and inserts the new one, failing with
// tdberr.ErrVersionConflict if expectedPrevVersion doesn't match what's
// actually current — the optimistic-locking primitive every write path
// above the repo layer (version engine, checkout engine) builds on.
func (r *Repo) SetCurrentContent(ctx context.Context, conn *sql.Conn, fileID int64, hash string, expectedPrevVersion int) error {
	var currentVersion sql.NullInt64
	err := conn.QueryRowContext(ctx, `
		SELECT version FROM file_contents WHERE file_id = ? AND is_current = 1
	`, fileID).Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read current version: %w", err)
	}

	actual := int(currentVersion.Int64)
	if err == sql.ErrNoRows {
		actual = 0
	}
	if actual != expectedPrevVersion {
		return fmt.Errorf("file %d: expected version %d, found %d: %w", fileID, expectedPrevVersion, actual, tdberr.ErrVersionConflict)
	}

	if err == nil {
		if _, err := conn.ExecContext(ctx, `
			UPDATE file_contents SET is_current = 0 WHERE file_id = ? AND is_current = 1
		`, fileID); err != nil {
			return fmt.Errorf("clear previous current: %w", err)
		}
	}

	newVersion := expectedPrevVersion + 1
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO file_contents (file_id, content_hash, version, is_current) VALUES (?, ?, ?, 1)
	`, fileID, hash, newVersion); err != nil {
		return fmt.Errorf("insert new current: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE project_files SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, fileID); err != nil {
		return fmt.Errorf("touch file: %w", err)
	}
	return nil
}

// CurrentContent returns the current (content_hash, version) for a file.
func (r *Repo) CurrentContent(ctx context.Context, fileID int64) (hash string, version int, err error) {
	err = r.db.Raw().QueryRowContext(ctx, `
		SELECT content_hash, version FROM file_contents WHERE file_id = ? AND is_current = 1
	`, fileID).Scan(&hash, &version)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("current content for file %d: %w", fileID, tdberr.ErrNotFound)
	}
	if err != nil {
		return "", 0, fmt.Errorf("current content: %w", err)
	}
	return hash, version, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
