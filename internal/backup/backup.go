// Package backup implements online backup/restore of the store file:
// spec.md §6. "The store's native backup API" is satisfied here through
// SQLite's own VACUUM INTO statement rather than a driver-specific Go
// binding — it is SQLite's own online-backup primitive (a consistent
// snapshot taken without blocking concurrent readers) and, unlike a
// driver-level backup API, is portable SQL reachable through
// database/sql without depending on a type assertion into the driver's
// internal connection type. Grounded on the teacher's migrate_dolt.go
// copyFile-before-destructive-operation idiom for the restore-side
// safety copy, and on gopkg.in/yaml.v3 (already in the teacher's stack)
// for the manifest sidecar.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/templedb/internal/lockfile"
	"github.com/untoldecay/templedb/internal/store"
	"github.com/untoldecay/templedb/internal/tdberr"
)

// Manifest is the YAML sidecar written next to every backup file,
// recording enough to sanity-check a restore before it overwrites the
// live store.
type Manifest struct {
	CreatedAt    time.Time `yaml:"created_at"`
	SourcePath   string    `yaml:"source_path"`
	BackupPath   string    `yaml:"backup_path"`
	SizeBytes    int64     `yaml:"size_bytes"`
	MigrationSeq int       `yaml:"migration_seq"`
}

// Create runs VACUUM INTO against db, producing a timestamped backup
// file (or the caller-supplied path) plus its manifest. now is passed
// in rather than read from time.Now() so callers control the filename
// deterministically in tests.
func Create(ctx context.Context, db *store.DB, backupDir, explicitPath string, now time.Time) (string, error) {
	path := explicitPath
	if path == "" {
		path = filepath.Join(backupDir, fmt.Sprintf("templedb-%s.sqlite", now.Format("20060102-150405")))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup path %s: %w", path, tdberr.ErrAlreadyExists)
	}

	if _, err := db.Raw().ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat backup %s: %w", path, err)
	}

	var migrationSeq int
	_ = db.Raw().QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM migration_ledger`).Scan(&migrationSeq)

	m := Manifest{
		CreatedAt:    now,
		BackupPath:   path,
		SizeBytes:    info.Size(),
		MigrationSeq: migrationSeq,
	}
	if err := writeManifest(manifestPath(path), m); err != nil {
		return "", err
	}
	return path, nil
}

// Restore replaces storePath with backupPath's contents, guarded by a
// lockfile.Lock over the data directory (so a concurrent `tdb` process
// can't observe a half-replaced file) and preceded by an automatic
// safety copy of the current store, per spec.md §6. db must be closed by
// the caller before calling Restore — SQLite does not support swapping
// out the file underneath an open connection pool.
func Restore(ctx context.Context, dataDir, storePath, backupPath string) (safetyPath string, err error) {
	if _, statErr := os.Stat(backupPath); statErr != nil {
		return "", fmt.Errorf("backup %s: %w: %v", backupPath, tdberr.ErrIOError, statErr)
	}

	lock, err := lockfile.New(dataDir)
	if err != nil {
		return "", err
	}

	err = lock.WithExclusive(ctx, func() error {
		if _, statErr := os.Stat(storePath); statErr == nil {
			safetyPath = filepath.Join(filepath.Dir(storePath), fmt.Sprintf("templedb-pre-restore-%s.sqlite", time.Now().UTC().Format("20060102-150405")))
			if err := copyFile(storePath, safetyPath); err != nil {
				return fmt.Errorf("safety copy: %w", err)
			}
		}
		return copyFile(backupPath, storePath)
	})
	if err != nil {
		return "", err
	}
	return safetyPath, nil
}

// List returns every backup manifest under backupDir, most recent first.
func List(backupDir string) ([]Manifest, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var out []Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".manifest.yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(backupDir, e.Name()))
		if err != nil {
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func manifestPath(backupPath string) string {
	return strings.TrimSuffix(backupPath, filepath.Ext(backupPath)) + ".manifest.yaml"
}

func writeManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}
