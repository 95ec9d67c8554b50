// Package watch pre-warms a checkout's working-state rows by observing
// its directory for filesystem events and eagerly flipping the touched
// file's WorkingState from unmodified to modified, so `tdb vcs status`
// reflects an edit without the caller paying for a full checkout Rescan
// walk first. It never auto-stages or auto-commits. Not in spec.md — a
// SPEC_FULL-only domain-stack addition wired to the teacher's own
// fsnotify dependency (otherwise used only by cmd/bd/daemon_watcher.go's
// JSONL-file watching), disabled unless a caller explicitly starts one.
package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/templedb/internal/logging"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/version"
)

// Watcher pre-warms WorkingState rows for one checkout.
type Watcher struct {
	repo      *repo.Repo
	version   *version.Engine
	projectID int64
	branchID  int64
	dir       string
}

// New returns a Watcher scoped to (projectID, branchID), rooted at dir.
func New(r *repo.Repo, v *version.Engine, projectID, branchID int64, dir string) *Watcher {
	return &Watcher{repo: r, version: v, projectID: projectID, branchID: branchID, dir: dir}
}

// Run blocks, watching dir recursively until ctx is cancelled. Each
// write/create event on a known project file flips its WorkingState to
// modified; events on paths with no project_files row (new, untracked
// files) are logged but otherwise ignored — Rescan, not the watcher, is
// what assigns an untracked file its identity.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addRecursive(fw, w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.markModified(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("watch: %v", err)
		}
	}
}

func (w *Watcher) markModified(ctx context.Context, absPath string) {
	rel, err := filepath.Rel(w.dir, absPath)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	file, err := w.repo.GetFileByPath(ctx, w.projectID, rel)
	if err != nil {
		logging.Debugf("watch: %s not tracked yet, skipping pre-warm", rel)
		return
	}
	if err := w.version.SetWorkingState(ctx, w.projectID, w.branchID, file.ID, "", model.StateModified); err != nil {
		logging.Warnf("watch: pre-warm %s: %v", rel, err)
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
