// Package tdberr defines the error kinds surfaced by every TempleDB
// component. Kinds are plain sentinel errors wrapped with fmt.Errorf's
// %w, so callers use errors.Is/errors.As rather than type switches.
package tdberr

import "errors"

var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by create operations on a duplicate key,
	// such as repo.CreateProject on a slug already in use. Upsert-style
	// lookups (repo.GetOrCreateFile) never return it: they return the
	// existing row instead.
	ErrAlreadyExists = errors.New("already exists")

	// ErrIntegrityViolation wraps a constraint failure; the constraint name
	// reported by the driver is preserved in the wrapping message.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrVersionConflict is returned when SetCurrentContent's expected
	// previous version does not match the row actually present.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAmbiguousHash is returned when a commit-hash prefix matches more
	// than one commit within a project.
	ErrAmbiguousHash = errors.New("ambiguous hash")

	// ErrDatabaseLocked corresponds to SQLITE_BUSY/SQLITE_LOCKED. Callers
	// should retry through store.Retry rather than surfacing it directly.
	ErrDatabaseLocked = errors.New("database locked")

	// ErrIOError wraps filesystem failures encountered during checkout or
	// commit materialization.
	ErrIOError = errors.New("io error")

	// ErrCancelled names the cancellation error kind. No component in this
	// module returns it: an operation stopped by a cancelled context
	// returns the context's own error (context.Canceled).
	ErrCancelled = errors.New("cancelled")

	// ErrCorruption is fatal: the store file itself is unreadable or fails
	// its integrity check. Callers must shut down cleanly without writing.
	ErrCorruption = errors.New("corruption")

	// ErrUsage indicates a caller-supplied argument was invalid (maps to
	// CLI exit code 2).
	ErrUsage = errors.New("usage error")

	// ErrPathExists is returned by Checkout when the target directory
	// already exists and force was not requested.
	ErrPathExists = errors.New("path exists")

	// ErrProjectNotFound is a NotFound specialization returned by repo's
	// project lookups and the query façade for clearer CLI messaging.
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotADirectory is returned by project import when the given path
	// is not a directory — its own CLI exit code, distinct from a general
	// usage mistake.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNothingToCommit is returned by checkout.Engine.Commit when a
	// rescan finds no changed files — its own CLI exit code, distinct from
	// a general usage mistake.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// CommitConflict is returned by checkout.Engine.Commit under
// strategy=abort when one or more files conflict. It carries the
// machine-readable list spec.md §7 requires on stderr.
type CommitConflict struct {
	Paths []string
}

func (e *CommitConflict) Error() string {
	return "commit conflict: " + joinPaths(e.Paths)
}

func (e *CommitConflict) Is(target error) bool {
	return target == ErrCommitConflict
}

// ErrCommitConflict is the sentinel matched by errors.Is(err, ErrCommitConflict)
// for any *CommitConflict value.
var ErrCommitConflict = errors.New("commit conflict")

// AmbiguousHashError carries the candidate commit hashes a prefix matched.
type AmbiguousHashError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousHashError) Error() string {
	return "ambiguous hash prefix " + e.Prefix + ": " + joinPaths(e.Candidates)
}

func (e *AmbiguousHashError) Is(target error) bool {
	return target == ErrAmbiguousHash
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
