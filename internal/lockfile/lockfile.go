// Package lockfile provides cross-process advisory locking for
// filesystem state TempleDB does not otherwise serialize through the
// store's own transactions: the data directory while backup.Restore
// swaps the store file. The checkout engine does not take a lock
// through this package. Grounded on the teacher's internal/daemon/registry.go
// withFileLock pattern, built directly on github.com/gofrs/flock rather
// than the teacher's own internal/lockfile wrapper (not present in the
// retrieved source subset).
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock wraps a flock.Flock scoped to a single path, creating the lock
// file lazily.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock for <dir>/.lock, creating dir if needed.
func New(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, ".lock")
	return &Lock{path: path, fl: flock.New(path)}, nil
}

// WithExclusive blocks until it acquires an exclusive lock (polling with
// a short backoff, since flock's blocking variants are platform-specific
// and this keeps behavior uniform), runs fn, then always unlocks.
func (l *Lock) WithExclusive(ctx context.Context, fn func() error) error {
	if err := l.lockExclusive(ctx); err != nil {
		return err
	}
	defer func() { _ = l.fl.Unlock() }()
	return fn()
}

func (l *Lock) lockExclusive(ctx context.Context) error {
	for {
		ok, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("lock %s: %w", l.path, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}
