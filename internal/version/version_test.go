package version

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/templedb/internal/migrate"
	_ "github.com/untoldecay/templedb/internal/migrate/migrations"
	"github.com/untoldecay/templedb/internal/model"
	"github.com/untoldecay/templedb/internal/repo"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

type testEnv struct {
	engine    *Engine
	repo      *repo.Repo
	projectID int64
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
	ctx := context.Background()
	projectID, err := r.CreateProject(ctx, "demo", "Demo", "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	// The tests below use made-up content hashes; every content_hash
	// column references content_blobs, so seed a row for each of them.
	for _, h := range []string{"hash1", "h"} {
		if _, err := db.Raw().ExecContext(ctx, `INSERT INTO content_blobs (hash, content_type, size_bytes, payload) VALUES (?, 'text', 0, x'')`, h); err != nil {
			t.Fatalf("seed blob %s: %v", h, err)
		}
	}
	return &testEnv{engine: New(db, r), repo: r, projectID: projectID}
}

func (e *testEnv) file(t *testing.T, path string) int64 {
	t.Helper()
	typeID, err := e.repo.GetOrCreateFileType(context.Background(), "go", "source")
	if err != nil {
		t.Fatalf("GetOrCreateFileType: %v", err)
	}
	fileID, err := e.repo.GetOrCreateFile(context.Background(), e.projectID, path, typeID)
	if err != nil {
		t.Fatalf("GetOrCreateFile(%s): %v", path, err)
	}
	return fileID
}

func TestGetOrCreateBranchFirstIsDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id1, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	if _, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "feature"); err != nil {
		t.Fatalf("GetOrCreateBranch(feature): %v", err)
	}

	branches, err := env.engine.ListBranches(ctx, env.projectID)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(branches))
	}
	// is_default DESC, name order: main (default) first.
	if branches[0].ID != id1 || !branches[0].IsDefault {
		t.Fatalf("expected main to be the first, default branch: %+v", branches[0])
	}
	if branches[1].IsDefault {
		t.Fatalf("expected feature not to be marked default: %+v", branches[1])
	}
}

func TestGetOrCreateBranchIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id1, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	id2, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch (again): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same branch id across calls, got %d and %d", id1, id2)
	}
}

func TestCreateCommitRequiresStagedEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}

	_, _, err = env.engine.CreateCommit(ctx, env.projectID, branchID, nil, "a", "a@x.com", "empty")
	if !errors.Is(err, tdberr.ErrUsage) {
		t.Fatalf("expected ErrUsage for an empty staged set, got %v", err)
	}
}

func TestCreateCommitBuildsTreeAndAdvancesBranchHead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	fileID := env.file(t, "main.go")

	commitID, hash, err := env.engine.CreateCommit(ctx, env.projectID, branchID, []StagedEntry{
		{FileID: fileID, Path: "main.go", ContentHash: "hash1", ChangeType: model.ChangeAdded},
	}, "Ada", "ada@example.com", "initial commit")
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if commitID == 0 || hash == "" {
		t.Fatalf("expected a commit id and hash, got (%d, %q)", commitID, hash)
	}

	tree, err := env.engine.Tree(ctx, commitID)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree) != 1 || tree[0].Path != "main.go" || tree[0].ContentHash != "hash1" {
		t.Fatalf("unexpected tree: %+v", tree)
	}

	branches, err := env.engine.ListBranches(ctx, env.projectID)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if branches[0].HeadCommitID == nil || *branches[0].HeadCommitID != commitID {
		t.Fatalf("expected branch head to advance to the new commit, got %+v", branches[0])
	}
}

func TestCreateCommitIsIdempotentReplayOnIdenticalTree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	fileID := env.file(t, "main.go")
	staged := []StagedEntry{{FileID: fileID, Path: "main.go", ContentHash: "hash1", ChangeType: model.ChangeAdded}}
	// The first commit becomes main's head, so a second commit on main
	// would carry it as parent and hash differently. A second branch with
	// no head yet gives a commit with no parent, like the first one.
	otherBranchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "replay")
	if err != nil {
		t.Fatalf("GetOrCreateBranch(replay): %v", err)
	}

	// Commit hashing truncates its timestamp to second resolution
	// (hash.go), so two calls landing in the same wall-clock second with
	// an identical tree/parent/author/message must collide and the
	// second one must replay rather than duplicate (spec.md §4.E step 2).
	// Wait for a fresh second boundary first so both calls below land well
	// within the same second.
	waitForFreshSecond(t)
	id1, hash1, err := env.engine.CreateCommit(ctx, env.projectID, branchID, staged, "Ada", "ada@example.com", "same message")
	if err != nil {
		t.Fatalf("first CreateCommit: %v", err)
	}
	id2, hash2, err := env.engine.CreateCommit(ctx, env.projectID, otherBranchID, staged, "Ada", "ada@example.com", "same message")
	if err != nil {
		t.Fatalf("second CreateCommit: %v", err)
	}
	if hash1 != hash2 {
		t.Fatalf("expected identical canonical hashes within the same second, got %s and %s", hash1, hash2)
	}
	if id1 != id2 {
		t.Fatalf("expected the second call to replay the first commit's id, got %d and %d", id1, id2)
	}
}

// waitForFreshSecond blocks until just after a wall-clock second boundary,
// giving the caller close to a full second of margin before the next one.
func waitForFreshSecond(t *testing.T) {
	t.Helper()
	now := time.Now()
	time.Sleep(time.Until(now.Truncate(time.Second).Add(time.Second + 10*time.Millisecond)))
}

func TestSetWorkingStateUpsertsAndStatusFiltersUnmodified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	fileID := env.file(t, "main.go")

	if err := env.engine.SetWorkingState(ctx, env.projectID, branchID, fileID, "hash1", model.StateAdded); err != nil {
		t.Fatalf("SetWorkingState: %v", err)
	}

	status, err := env.engine.Status(ctx, env.projectID, branchID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 1 || status[0].State != model.StateAdded {
		t.Fatalf("expected 1 added entry, got %+v", status)
	}

	if err := env.engine.SetWorkingState(ctx, env.projectID, branchID, fileID, "hash1", model.StateUnmodified); err != nil {
		t.Fatalf("SetWorkingState (reset): %v", err)
	}
	status, err = env.engine.Status(ctx, env.projectID, branchID)
	if err != nil {
		t.Fatalf("Status (after reset): %v", err)
	}
	if len(status) != 0 {
		t.Fatalf("expected unmodified rows to be excluded from Status, got %+v", status)
	}
}

func TestStageAndUnstagePreserveState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}
	fileID := env.file(t, "main.go")
	if err := env.engine.SetWorkingState(ctx, env.projectID, branchID, fileID, "hash1", model.StateModified); err != nil {
		t.Fatalf("SetWorkingState: %v", err)
	}

	if err := env.engine.Stage(ctx, branchID, fileID); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	staged, err := env.engine.StagedEntries(ctx, env.projectID, branchID)
	if err != nil {
		t.Fatalf("StagedEntries: %v", err)
	}
	if len(staged) != 1 || staged[0].ChangeType != model.ChangeModified {
		t.Fatalf("expected 1 staged modified entry, got %+v", staged)
	}

	if err := env.engine.Unstage(ctx, branchID, fileID); err != nil {
		t.Fatalf("Unstage: %v", err)
	}
	staged, err = env.engine.StagedEntries(ctx, env.projectID, branchID)
	if err != nil {
		t.Fatalf("StagedEntries (after unstage): %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected no staged entries after Unstage, got %+v", staged)
	}

	status, err := env.engine.Status(ctx, env.projectID, branchID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 1 || status[0].State != model.StateModified {
		t.Fatalf("expected Unstage to preserve state=modified, got %+v", status)
	}
}

func TestLogOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID, err := env.engine.GetOrCreateBranch(ctx, env.projectID, "main")
	if err != nil {
		t.Fatalf("GetOrCreateBranch: %v", err)
	}

	for i, path := range []string{"a.go", "b.go", "c.go"} {
		// Commit timestamps have second resolution and same-second ties
		// sort by commit_hash, so give each commit its own second.
		if i > 0 {
			waitForFreshSecond(t)
		}
		fileID := env.file(t, path)
		if _, _, err := env.engine.CreateCommit(ctx, env.projectID, branchID, []StagedEntry{
			{FileID: fileID, Path: path, ContentHash: "h", ChangeType: model.ChangeAdded},
		}, "Ada", "ada@example.com", path); err != nil {
			t.Fatalf("CreateCommit %d: %v", i, err)
		}
	}

	commits, err := env.engine.Log(ctx, env.projectID, nil, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Message != "c.go" {
		t.Fatalf("expected newest-first order, got %s first", commits[0].Message)
	}

	limited, err := env.engine.Log(ctx, env.projectID, nil, 2)
	if err != nil {
		t.Fatalf("Log with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit=2 to cap results, got %d", len(limited))
	}
}
