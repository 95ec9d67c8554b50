package main

import (
	"errors"

	"github.com/untoldecay/templedb/internal/tdberr"
)

// exitFor maps an error to the per-command exit code table in spec.md
// §6. Only the codes the table actually distinguishes are mapped;
// anything else falls through to the generic-error code.
func exitFor(err error) int {
	switch {
	case errors.Is(err, tdberr.ErrNotADirectory):
		return exitNotADirectory
	case errors.Is(err, tdberr.ErrPathExists):
		return exitPathExists
	case errors.Is(err, tdberr.ErrProjectNotFound):
		return exitProjectNotFound
	case errors.Is(err, tdberr.ErrCommitConflict):
		return exitConflict
	case errors.Is(err, tdberr.ErrNothingToCommit):
		return exitNothingToCommit
	case errors.Is(err, tdberr.ErrAmbiguousHash):
		return exitAmbiguousHash
	case errors.Is(err, tdberr.ErrNotFound):
		return exitNotFound
	case errors.Is(err, tdberr.ErrUsage), errors.Is(err, tdberr.ErrAlreadyExists):
		return exitUsage
	default:
		return exitGenericError
	}
}
