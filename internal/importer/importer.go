// Package importer implements `project import`: creating a Project from
// a directory tree and recording its initial commit. It is the one
// orchestration step spec.md's module list never names explicitly
// (Scanner, Repo, Blob Store, and Version each do one part of it), so it
// lives here rather than bolted onto any single engine — grounded on the
// teacher's import.go (cmd/bd/import.go), which plays the same
// read-a-source/walk-it/commit-the-result role for JSONL import.
package importer

import (
	"context"
	"fmt"
	"os"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/scan"
	"github.com/untoldecay/templedb/internal/tdberr"
	"github.com/untoldecay/templedb/internal/version"
)

// Result is what a successful Import produces.
type Result struct {
	ProjectID    int64
	BranchID     int64
	CommitID     int64
	CommitHash   string
	FilesImported int
}

// Import creates a project named by slug (name defaults to slug when
// empty) rooted at dir, walks dir with classifier, stores every file's
// content as a blob, and records the whole tree as one initial commit on
// the project's default "main" branch. dir must already exist and be a
// directory: spec.md §6's `project import` exit code 3.
func Import(ctx context.Context, r *repo.Repo, b *blob.Store, v *version.Engine, classifier *scan.Classifier, slug, name, dir, author, email string) (Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w: %v", dir, tdberr.ErrIOError, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("import %s: %w", dir, tdberr.ErrNotADirectory)
	}

	if name == "" {
		name = slug
	}
	projectID, err := r.CreateProject(ctx, slug, name, "{}")
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", dir, err)
	}

	branchID, err := v.GetOrCreateBranch(ctx, projectID, "main")
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", dir, err)
	}

	descriptors, err := classifier.Walk(ctx, dir)
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", dir, err)
	}

	staged := make([]version.StagedEntry, 0, len(descriptors))
	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		data, err := os.ReadFile(d.AbsPath)
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w: %v", d.Path, tdberr.ErrIOError, err)
		}
		hash, err := b.Put(ctx, data)
		if err != nil {
			return Result{}, fmt.Errorf("import %s: %w", d.Path, err)
		}

		fileTypeID, err := r.GetOrCreateFileType(ctx, d.TypeName, d.Category)
		if err != nil {
			return Result{}, err
		}
		fileID, err := r.GetOrCreateFile(ctx, projectID, d.Path, fileTypeID)
		if err != nil {
			return Result{}, err
		}

		staged = append(staged, version.StagedEntry{
			FileID:      fileID,
			Path:        d.Path,
			ContentHash: hash,
			ChangeType:  model.ChangeAdded,
		})
	}

	if len(staged) == 0 {
		return Result{ProjectID: projectID, BranchID: branchID}, nil
	}

	commitID, hash, err := v.CreateCommit(ctx, projectID, branchID, staged, author, email, "initial import")
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", dir, err)
	}

	return Result{
		ProjectID:     projectID,
		BranchID:      branchID,
		CommitID:      commitID,
		CommitHash:    hash,
		FilesImported: len(staged),
	}, nil
}
