package checkout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/untoldecay/templedb/internal/blob"
	"github.com/untoldecay/templedb/internal/migrate"
	_ "github.com/untoldecay/templedb/internal/migrate/migrations"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/scan"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
	"github.com/untoldecay/templedb/internal/version"
)

type testEnv struct {
	engine    *Engine
	repo      *repo.Repo
	blobs     *blob.Store
	version   *version.Engine
	projectID int64
	branchID  int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tdb.sqlite3")
	db, err := store.Open(context.Background(), path, migrate.Run)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := repo.New(db)
	b := blob.New(db)
	v := version.New(db, r)
	c, err := scan.LoadClassifier("", 0)
	if err != nil {
		t.Fatalf("LoadClassifier: %v", err)
	}

	ctx := context.Background()
	projectID, err := r.CreateProject(ctx, "demo", "Demo", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	branchID, err := v.GetOrCreateBranch(ctx, projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}

	return &testEnv{
		engine:    New(db, r, b, v, c),
		repo:      r,
		blobs:     b,
		version:   v,
		projectID: projectID,
		branchID:  branchID,
	}
}

// commitFile stages and commits a single file's content directly through
// the version engine, bypassing a real checkout directory, so engine-level
// tests can seed store state without round-tripping through the filesystem.
func (e *testEnv) commitFile(t *testing.T, path, content string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	typeID, err := e.repo.GetOrCreateFileType(ctx, "go", "source")
	if err != nil {
		t.Fatalf("GetOrCreateFileType: %v", err)
	}
	fileID, err := e.repo.GetOrCreateFile(ctx, e.projectID, path, typeID)
	if err != nil {
		t.Fatalf("GetOrCreateFile: %v", err)
	}
	hash, err := e.blobs.Put(ctx, []byte(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	commitID, commitHash, err := e.version.CreateCommit(ctx, e.projectID, e.branchID, []version.StagedEntry{
		{FileID: fileID, Path: path, ContentHash: hash, ChangeType: model.ChangeAdded},
	}, "Ada", "ada@example.com", "seed "+path)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	return commitID, commitHash
}

func TestCheckoutMaterializesBranchHead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if checkoutID == 0 {
		t.Fatal("expected a non-zero checkout id")
	}

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "package main\n" {
		t.Fatalf("unexpected materialized content: %q", data)
	}

	resolved, err := env.engine.ByPath(ctx, env.projectID, dir)
	if err != nil {
		t.Fatalf("ByPath: %v", err)
	}
	if resolved != checkoutID {
		t.Fatalf("expected ByPath to resolve %d, got %d", checkoutID, resolved)
	}
}

func TestCheckoutRefusesExistingDirWithoutForce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := t.TempDir() // already exists
	_, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if !errors.Is(err, tdberr.ErrPathExists) {
		t.Fatalf("expected ErrPathExists, got %v", err)
	}

	if _, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, true); err != nil {
		t.Fatalf("expected force=true to succeed, got %v", err)
	}
}

func TestByPathUnknownDirIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ByPath(context.Background(), env.projectID, "/nowhere")
	if !errors.Is(err, tdberr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRescanDetectsAddedModifiedAndDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "keep.go", "package keep\n")
	env.commitFile(t, "change.go", "package change\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Modify an existing file, delete another isn't tested here (only two
	// files exist and both came from checkout), and add a brand new one.
	if err := os.WriteFile(filepath.Join(dir, "change.go"), []byte("package change2\n"), 0o644); err != nil {
		t.Fatalf("modify change.go: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "keep.go")); err != nil {
		t.Fatalf("remove keep.go: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.go"), []byte("package new\n"), 0o644); err != nil {
		t.Fatalf("write new.go: %v", err)
	}

	diffs, err := env.engine.Rescan(ctx, checkoutID)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	byPath := make(map[string]diffEntry)
	for _, d := range diffs {
		byPath[d.path] = d
	}
	if d, ok := byPath["change.go"]; !ok || d.changeType != model.ChangeModified {
		t.Fatalf("expected change.go modified, got %+v", d)
	}
	if d, ok := byPath["keep.go"]; !ok || d.changeType != model.ChangeDeleted {
		t.Fatalf("expected keep.go deleted, got %+v", d)
	}
	if d, ok := byPath["new.go"]; !ok || d.changeType != model.ChangeAdded {
		t.Fatalf("expected new.go added, got %+v", d)
	}
}

func TestRescanPersistsWorkingStatesAndCommitResetsThem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "keep.go", "package keep\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "keep.go"), []byte("package keep2\n"), 0o644); err != nil {
		t.Fatalf("modify keep.go: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.go"), []byte("package new\n"), 0o644); err != nil {
		t.Fatalf("write new.go: %v", err)
	}

	if _, err := env.engine.Rescan(ctx, checkoutID); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	status, err := env.version.Status(ctx, env.projectID, env.branchID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	byFile := make(map[int64]model.WorkingStatus)
	for _, s := range status {
		byFile[s.FileID] = s.State
	}
	var sawModified, sawAdded bool
	for _, state := range byFile {
		if state == model.StateModified {
			sawModified = true
		}
		if state == model.StateAdded {
			sawAdded = true
		}
	}
	if !sawModified || !sawAdded {
		t.Fatalf("expected a rescan (without a watcher) to populate modified/added working states, got %v", byFile)
	}

	// Reverting keep.go's edit back to its checkout snapshot content must
	// clear its stale modified flag rather than leave it spuriously
	// conflicting later; new.go is still a pending add at this point.
	if err := os.WriteFile(filepath.Join(dir, "keep.go"), []byte("package keep\n"), 0o644); err != nil {
		t.Fatalf("revert keep.go: %v", err)
	}
	if _, err := env.engine.Rescan(ctx, checkoutID); err != nil {
		t.Fatalf("second Rescan: %v", err)
	}
	status, err = env.version.Status(ctx, env.projectID, env.branchID)
	if err != nil {
		t.Fatalf("Status after revert: %v", err)
	}
	byFile = make(map[int64]model.WorkingStatus)
	for _, s := range status {
		byFile[s.FileID] = s.State
	}
	for _, state := range byFile {
		if state == model.StateModified {
			t.Fatalf("expected the reverted file's modified flag cleared, got %v", byFile)
		}
	}
	if len(byFile) != 1 {
		t.Fatalf("expected only new.go's added state to remain, got %v", byFile)
	}

	// Now make a real change and commit both files: every working state
	// must return to unmodified once committed (spec's
	// edit->modified->unmodified cycle).
	if err := os.WriteFile(filepath.Join(dir, "keep.go"), []byte("package keep3\n"), 0o644); err != nil {
		t.Fatalf("modify keep.go again: %v", err)
	}
	if _, _, err := env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "edit keep.go, add new.go", StrategyAbort); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	status, err = env.version.Status(ctx, env.projectID, env.branchID)
	if err != nil {
		t.Fatalf("Status after commit: %v", err)
	}
	if len(status) != 0 {
		t.Fatalf("expected working states cleared after commit, got %+v", status)
	}
}

func TestCommitAdvancesBranchAndRefreshesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("modify main.go: %v", err)
	}

	commitID, hash, err := env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "edit main.go", StrategyAbort)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commitID == 0 || hash == "" {
		t.Fatalf("expected a commit id and hash, got (%d, %q)", commitID, hash)
	}

	// A second commit with no further changes has nothing to commit.
	_, _, err = env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "noop", StrategyAbort)
	if !errors.Is(err, tdberr.ErrNothingToCommit) {
		t.Fatalf("expected ErrNothingToCommit, got %v", err)
	}
}

func TestCommitAbortsOnConflictAndForceOverrides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Advance the store past the checkout's basis out from under it by
	// committing a second version directly through the version engine.
	env.commitFile(t, "main.go", "package main\n\n// advanced\n")

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\n// local edit\n"), 0o644); err != nil {
		t.Fatalf("modify main.go locally: %v", err)
	}

	_, _, err = env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "local edit", StrategyAbort)
	var conflict *tdberr.CommitConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *tdberr.CommitConflict, got %v", err)
	}
	if len(conflict.Paths) != 1 || conflict.Paths[0] != "main.go" {
		t.Fatalf("unexpected conflict paths: %v", conflict.Paths)
	}

	commitID, _, err := env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "force through", StrategyForce)
	if err != nil {
		t.Fatalf("expected force strategy to succeed, got %v", err)
	}
	if commitID == 0 {
		t.Fatal("expected a commit id from the forced commit")
	}
}

func TestCommitNoConflictWhenStoreContentRevertedToSnapshotHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := filepath.Join(t.TempDir(), "wc")
	checkoutID, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Advance the store's version twice behind the checkout's back, ending
	// up with the exact same content (and hash) the checkout's snapshot
	// recorded. The store's version number is now ahead of the snapshot,
	// but the content never actually diverged.
	env.commitFile(t, "main.go", "package main\n\n// advanced\n")
	env.commitFile(t, "main.go", "package main\n")

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\n// local edit\n"), 0o644); err != nil {
		t.Fatalf("modify main.go locally: %v", err)
	}

	commitID, _, err := env.engine.Commit(ctx, checkoutID, "Ada", "ada@example.com", "local edit", StrategyAbort)
	if err != nil {
		t.Fatalf("expected no conflict when the store's content reverted back to the snapshot hash, got %v", err)
	}
	if commitID == 0 {
		t.Fatal("expected a commit id")
	}
}

func TestCleanStaleReportsAndRemovesMissingDirs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.commitFile(t, "main.go", "package main\n")

	dir := filepath.Join(t.TempDir(), "wc")
	if _, err := env.engine.Checkout(ctx, env.projectID, env.branchID, dir, false); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove checkout dir: %v", err)
	}

	stale, err := env.engine.CleanStale(ctx, env.projectID, false)
	if err != nil {
		t.Fatalf("CleanStale (report only): %v", err)
	}
	if len(stale) != 1 || stale[0] != dir {
		t.Fatalf("expected [%s], got %v", dir, stale)
	}

	if _, err := env.engine.ByPath(ctx, env.projectID, dir); err != nil {
		t.Fatalf("expected checkout row to still exist before force clean: %v", err)
	}

	stale, err = env.engine.CleanStale(ctx, env.projectID, true)
	if err != nil {
		t.Fatalf("CleanStale (force): %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale path reported, got %v", stale)
	}
	if _, err := env.engine.ByPath(ctx, env.projectID, dir); !errors.Is(err, tdberr.ErrNotFound) {
		t.Fatalf("expected checkout row removed after force clean, got %v", err)
	}
}
