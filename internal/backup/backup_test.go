package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/templedb/internal/migrate"
	_ "github.com/untoldecay/templedb/internal/migrate/migrations"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

func newTestStore(t *testing.T) (*store.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tdb.sqlite3")
	db, err := store.Open(context.Background(), path, migrate.Run)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestCreateWritesBackupFileAndManifest(t *testing.T) {
	db, _ := newTestStore(t)
	backupDir := t.TempDir()
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	path, err := Create(context.Background(), db, backupDir, "", now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if filepath.Base(path) != "templedb-20260102-150405.sqlite" {
		t.Fatalf("unexpected backup filename: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
	if _, err := os.Stat(manifestPath(path)); err != nil {
		t.Fatalf("expected manifest file to exist: %v", err)
	}

	manifests, err := List(backupDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(manifests) != 1 || manifests[0].BackupPath != path {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
}

func TestCreateRefusesExistingExplicitPath(t *testing.T) {
	db, _ := newTestStore(t)
	backupDir := t.TempDir()
	explicit := filepath.Join(backupDir, "mine.sqlite")
	if err := os.WriteFile(explicit, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seed existing file: %v", err)
	}

	_, err := Create(context.Background(), db, backupDir, explicit, time.Now().UTC())
	if !errors.Is(err, tdberr.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRestoreCopiesBackupOverStoreWithSafetyCopy(t *testing.T) {
	db, storePath := newTestStore(t)
	backupDir := t.TempDir()
	backupPath, err := Create(context.Background(), db, backupDir, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close store before restore: %v", err)
	}

	dataDir := filepath.Dir(storePath)
	safetyPath, err := Restore(context.Background(), dataDir, storePath, backupPath)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if safetyPath == "" {
		t.Fatal("expected a safety copy path since the store already existed")
	}
	if _, err := os.Stat(safetyPath); err != nil {
		t.Fatalf("expected safety copy to exist: %v", err)
	}
	if _, err := os.Stat(storePath); err != nil {
		t.Fatalf("expected restored store file to exist: %v", err)
	}
}

func TestRestoreMissingBackupIsIOError(t *testing.T) {
	dataDir := t.TempDir()
	_, err := Restore(context.Background(), dataDir, filepath.Join(dataDir, "store.sqlite"), filepath.Join(dataDir, "missing.sqlite"))
	if !errors.Is(err, tdberr.ErrIOError) {
		t.Fatalf("expected ErrIOError, got %v", err)
	}
}

func TestListEmptyDirReturnsNil(t *testing.T) {
	manifests, err := List(filepath.Join(t.TempDir(), "no-such-dir"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if manifests != nil {
		t.Fatalf("expected nil for a missing backup dir, got %v", manifests)
	}
}
