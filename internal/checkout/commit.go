package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
	"github.com/untoldecay/templedb/internal/version"
)

// Strategy selects how Commit handles files whose store state has moved
// past the checkout's recorded basis: spec.md §4.F step 3.
type Strategy string

const (
	StrategyAbort Strategy = "abort"
	StrategyForce Strategy = "force"
)

// checkoutRow is the subset of a checkouts row Commit needs.
type checkoutRow struct {
	id        int64
	projectID int64
	branchID  int64
	path      string
}

// Rescan walks a checkout's directory and classifies every file relative
// to the snapshot checkout recorded: added, modified, deleted, renamed,
// or unchanged. Renames are detected heuristically by matching content
// hash between the added and deleted sets — spec.md §4.F's "if
// ambiguous, treat as delete+add" — so a hash shared by more than one
// candidate on either side is left as separate delete/add entries rather
// than guessed at.
func (e *Engine) Rescan(ctx context.Context, checkoutID int64) ([]diffEntry, error) {
	co, err := e.loadCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	descriptors, err := e.classifier.Walk(ctx, co.path)
	if err != nil {
		return nil, fmt.Errorf("rescan %s: %w", co.path, err)
	}

	snapshots, err := e.loadSnapshots(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(descriptors))
	var added []diffEntry
	var kept []diffEntry

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[d.Path] = true
		hash := e.hashOf(d)

		fileTypeID, err := e.repo.GetOrCreateFileType(ctx, d.TypeName, d.Category)
		if err != nil {
			return nil, err
		}
		fileID, err := e.repo.GetOrCreateFile(ctx, co.projectID, d.Path, fileTypeID)
		if err != nil {
			return nil, err
		}

		snap, hasSnap := snapshots[d.Path]
		entry := diffEntry{
			path:        d.Path,
			fileID:      fileID,
			newHash:     hash,
			descriptor:  d,
			hasSnapshot: hasSnap,
		}
		if hasSnap {
			entry.snapHash = snap.ContentHash
			entry.snapVersion = snap.Version
		}

		switch {
		case !hasSnap:
			entry.changeType = model.ChangeAdded
			added = append(added, entry)
		case snap.ContentHash != hash:
			entry.changeType = model.ChangeModified
			kept = append(kept, entry)
		default:
			entry.changeType = unchanged
			kept = append(kept, entry)
		}
	}

	var missing []diffEntry
	for path, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[path] {
			continue
		}
		missing = append(missing, diffEntry{
			path:        path,
			fileID:      snap.FileID,
			changeType:  model.ChangeDeleted,
			hasSnapshot: true,
			snapHash:    snap.ContentHash,
			snapVersion: snap.Version,
		})
	}

	out := append([]diffEntry{}, kept...)
	out = append(out, pairRenames(added, missing)...)

	if err := e.syncWorkingStates(ctx, co, out); err != nil {
		return nil, err
	}
	return out, nil
}

// syncWorkingStates persists a rescan's diff into working_states so `tdb
// vcs status` reflects the checkout directory's edits without requiring
// the optional watch.Watcher (spec.md §4.E's edit→modified transition).
// A file whose content matches its snapshot again (reverted by hand, or
// just committed) is written back to unmodified rather than left stale.
func (e *Engine) syncWorkingStates(ctx context.Context, co checkoutRow, entries []diffEntry) error {
	existing, err := e.version.Status(ctx, co.projectID, co.branchID)
	if err != nil {
		return err
	}
	stale := make(map[int64]bool, len(existing))
	for _, w := range existing {
		stale[w.FileID] = true
	}

	touched := make(map[int64]bool, len(entries))
	for _, d := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		touched[d.fileID] = true
		var state model.WorkingStatus
		switch d.changeType {
		case model.ChangeAdded, model.ChangeRenamed:
			state = model.StateAdded
		case model.ChangeModified:
			state = model.StateModified
		case model.ChangeDeleted:
			state = model.StateDeleted
		default: // unchanged
			if !stale[d.fileID] {
				continue
			}
			state = model.StateUnmodified
		}
		if err := e.version.SetWorkingState(ctx, co.projectID, co.branchID, d.fileID, d.newHash, state); err != nil {
			return err
		}
	}

	// A stale working-state row this rescan didn't classify at all was
	// added after checkout and removed again before ever being committed
	// (no descriptor, no recorded snapshot to report as deleted) — clear
	// it rather than leave a ghost add/modify flag behind.
	for fileID := range stale {
		if touched[fileID] {
			continue
		}
		if err := e.version.SetWorkingState(ctx, co.projectID, co.branchID, fileID, "", model.StateUnmodified); err != nil {
			return err
		}
	}
	return nil
}

// pairRenames matches added entries against missing (deleted) entries by
// content hash. A hash claimed by more than one entry on either side is
// ambiguous and falls back to separate delete+add entries.
func pairRenames(added, missing []diffEntry) []diffEntry {
	addedByHash := make(map[string][]diffEntry)
	for _, a := range added {
		addedByHash[a.newHash] = append(addedByHash[a.newHash], a)
	}
	missingByHash := make(map[string][]diffEntry)
	for _, m := range missing {
		missingByHash[m.snapHash] = append(missingByHash[m.snapHash], m)
	}

	usedAdded := make(map[string]bool)
	usedMissing := make(map[string]bool)
	var out []diffEntry

	for hash, addCandidates := range addedByHash {
		delCandidates := missingByHash[hash]
		if len(addCandidates) != 1 || len(delCandidates) != 1 {
			continue
		}
		a, m := addCandidates[0], delCandidates[0]
		a.changeType = model.ChangeRenamed
		a.previousPath = m.path
		a.hasSnapshot = true
		a.snapHash = m.snapHash
		a.snapVersion = m.snapVersion
		out = append(out, a)
		usedAdded[a.path] = true
		usedMissing[m.path] = true
	}

	for _, a := range added {
		if !usedAdded[a.path] {
			out = append(out, a)
		}
	}
	for _, m := range missing {
		if !usedMissing[m.path] {
			out = append(out, m)
		}
	}
	return out
}

// conflictsFor classifies each diffEntry against the store's current
// content, per spec.md §4.F step 2: version_mismatch when the store has
// advanced past what the checkout last observed, content_diverged when
// the versions match but the hashes don't (can only happen if something
// wrote file_contents out of band).
func (e *Engine) conflictsFor(ctx context.Context, conn *sql.Conn, entries []diffEntry) ([]diffEntry, error) {
	out := make([]diffEntry, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = entry
		if !entry.hasSnapshot || entry.changeType == model.ChangeDeleted {
			continue
		}
		hash, v, err := e.currentContent(ctx, conn, entry.fileID)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("read current content for %s: %w", entry.path, err)
		}
		switch {
		case err == sql.ErrNoRows:
			// file has no current content yet (never committed); no
			// conflict possible against a store state that doesn't exist.
		case v > entry.snapVersion && hash != entry.snapHash:
			// spec.md §4.F step 2: version-mismatch requires the content to
			// have actually diverged too — a file edited then reverted back
			// to its checkout snapshot's bytes isn't a conflict even though
			// the store version moved on.
			out[i].conflict = model.ConflictVersionMismatch
			out[i].currentHash = hash
			out[i].currentVersion = v
		case v == entry.snapVersion && hash != entry.snapHash:
			out[i].conflict = model.ConflictContentDiverged
			out[i].currentHash = hash
			out[i].currentVersion = v
		}
	}
	return out, nil
}

// Commit executes spec.md §4.F's commit operation: rescan the checkout,
// classify conflicts, and either abort (recording the conflicts for the
// caller to resolve) or force through them, then run the resulting
// change set through the Version engine as one commit.
func (e *Engine) Commit(ctx context.Context, checkoutID int64, author, email, message string, strategy Strategy) (int64, string, error) {
	co, err := e.loadCheckout(ctx, checkoutID)
	if err != nil {
		return 0, "", err
	}

	diffs, err := e.Rescan(ctx, checkoutID)
	if err != nil {
		return 0, "", err
	}

	var changed []diffEntry
	for _, d := range diffs {
		if d.changeType != unchanged {
			changed = append(changed, d)
		}
	}
	if len(changed) == 0 {
		return 0, "", fmt.Errorf("commit %s: %w", co.path, tdberr.ErrNothingToCommit)
	}

	// abortPaths is set inside the transaction below when strategy=abort
	// hits a conflict. The conflict rows it records must survive even
	// though the rest of the commit is skipped, so that case commits the
	// transaction (recording the conflicts) and reports the abort to the
	// caller afterward, rather than returning an error that would roll
	// the conflict rows back too — spec.md §4.F step 3's "record conflict
	// rows ... leave the store [otherwise] untouched."
	var abortPaths []string

	var commitID int64
	var hash string
	err = store.Retry(ctx, func() error {
		return e.db.WithTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
			abortPaths = nil
			classified, err := e.conflictsFor(ctx, conn, changed)
			if err != nil {
				return err
			}

			var conflicted []diffEntry
			for _, d := range classified {
				if d.conflict != "" {
					conflicted = append(conflicted, d)
				}
			}

			if len(conflicted) > 0 {
				if strategy == StrategyAbort {
					if err := e.recordConflicts(ctx, conn, co, conflicted, model.ResolutionNone, ""); err != nil {
						return err
					}
					for _, c := range conflicted {
						abortPaths = append(abortPaths, c.path)
					}
					return nil
				}
				if err := e.recordConflicts(ctx, conn, co, conflicted, model.ResolutionForce, author); err != nil {
					return err
				}
			}

			staged := make([]version.StagedEntry, 0, len(classified))
			for _, d := range classified {
				if d.changeType == model.ChangeDeleted {
					staged = append(staged, version.StagedEntry{
						FileID:     d.fileID,
						Path:       d.path,
						ChangeType: model.ChangeDeleted,
					})
					continue
				}

				data, err := os.ReadFile(d.descriptor.AbsPath)
				if err != nil {
					return fmt.Errorf("read %s: %w: %v", d.path, tdberr.ErrIOError, err)
				}
				blobHash, err := e.blobs.Put(ctx, data)
				if err != nil {
					return err
				}

				staged = append(staged, version.StagedEntry{
					FileID:       d.fileID,
					Path:         d.path,
					ContentHash:  blobHash,
					ChangeType:   d.changeType,
					PreviousPath: d.previousPath,
				})
			}

			id, h, err := e.createCommitInTx(ctx, conn, co.projectID, co.branchID, staged, author, email, message)
			if err != nil {
				return err
			}
			commitID, hash = id, h

			if err := e.refreshSnapshots(ctx, conn, checkoutID, co.projectID); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `UPDATE checkouts SET last_sync_at = CURRENT_TIMESTAMP WHERE id = ?`, checkoutID); err != nil {
				return fmt.Errorf("touch checkout: %w", err)
			}

			// The change just committed, so the working-state rows Rescan
			// wrote above are stale: spec.md §4.E's edit→modified transition
			// returns to unmodified once the edit is committed (S3).
			for _, d := range staged {
				if err := e.version.SetWorkingState(ctx, co.projectID, co.branchID, d.FileID, d.ContentHash, model.StateUnmodified); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, "", err
	}
	if len(abortPaths) > 0 {
		return 0, "", &tdberr.CommitConflict{Paths: abortPaths}
	}
	return commitID, hash, nil
}

// createCommitInTx runs the Version engine's commit logic on the
// already-open connection. version.Engine.CreateCommit opens its own
// transaction via store.Retry+WithTx, which WithTx's savepoint nesting
// makes safe to call from within checkout's own transaction.
func (e *Engine) createCommitInTx(ctx context.Context, conn *sql.Conn, projectID, branchID int64, staged []version.StagedEntry, author, email, message string) (int64, string, error) {
	return e.version.CreateCommit(ctx, projectID, branchID, staged, author, email, message)
}

func (e *Engine) recordConflicts(ctx context.Context, conn *sql.Conn, co checkoutRow, entries []diffEntry, resolution model.ConflictResolution, resolvedBy string) error {
	for _, d := range entries {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO conflicts (checkout_id, file_id, path, base_version, base_hash, current_version, current_hash, conflict_type, resolution, resolved_by, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CASE WHEN ? <> '' THEN CURRENT_TIMESTAMP ELSE NULL END)
		`, co.id, d.fileID, d.path, d.snapVersion, d.snapHash, d.currentVersion, d.currentHash, string(d.conflict), string(resolution), resolvedBy, string(resolution)); err != nil {
			return fmt.Errorf("record conflict for %s: %w", d.path, err)
		}
	}
	return nil
}

func (e *Engine) refreshSnapshots(ctx context.Context, conn *sql.Conn, checkoutID, projectID int64) error {
	if _, err := conn.ExecContext(ctx, `DELETE FROM checkout_snapshots WHERE checkout_id = ?`, checkoutID); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT fc.file_id, fc.content_hash, fc.version
		FROM file_contents fc
		JOIN project_files pf ON pf.id = fc.file_id
		WHERE fc.is_current = 1 AND pf.project_id = ?
	`, projectID)
	if err != nil {
		return fmt.Errorf("read current content: %w", err)
	}
	defer rows.Close()

	type row struct {
		fileID int64
		hash   string
		ver    int
	}
	var snaps []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.fileID, &r.hash, &r.ver); err != nil {
			return err
		}
		snaps = append(snaps, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range snaps {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO checkout_snapshots (checkout_id, file_id, content_hash, version) VALUES (?, ?, ?, ?)
		`, checkoutID, r.fileID, r.hash, r.ver); err != nil {
			return fmt.Errorf("write snapshot for file %d: %w", r.fileID, err)
		}
	}
	return nil
}

func (e *Engine) loadCheckout(ctx context.Context, checkoutID int64) (checkoutRow, error) {
	var co checkoutRow
	co.id = checkoutID
	err := e.db.Raw().QueryRowContext(ctx, `
		SELECT project_id, branch_id, checkout_path FROM checkouts WHERE id = ?
	`, checkoutID).Scan(&co.projectID, &co.branchID, &co.path)
	if err == sql.ErrNoRows {
		return checkoutRow{}, fmt.Errorf("checkout %d: %w", checkoutID, tdberr.ErrNotFound)
	}
	if err != nil {
		return checkoutRow{}, fmt.Errorf("load checkout %d: %w", checkoutID, err)
	}
	return co, nil
}

type snapshotInfo struct {
	FileID      int64
	ContentHash string
	Version     int
}

func (e *Engine) loadSnapshots(ctx context.Context, checkoutID int64) (map[string]snapshotInfo, error) {
	rows, err := e.db.Raw().QueryContext(ctx, `
		SELECT pf.path, cs.file_id, cs.content_hash, cs.version
		FROM checkout_snapshots cs
		JOIN project_files pf ON pf.id = cs.file_id
		WHERE cs.checkout_id = ?
	`, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]snapshotInfo)
	for rows.Next() {
		var path string
		var info snapshotInfo
		if err := rows.Scan(&path, &info.FileID, &info.ContentHash, &info.Version); err != nil {
			return nil, err
		}
		out[path] = info
	}
	return out, rows.Err()
}

func (e *Engine) hashOf(d model.FileDescriptor) string {
	data, err := os.ReadFile(d.AbsPath)
	if err != nil {
		return ""
	}
	return blob.Hash(data)
}
