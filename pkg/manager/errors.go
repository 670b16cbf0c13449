package manager

import (
	"errors"
	"fmt"
	"strings"
)

// Manager operation errors
var (
	// ErrUnknownArchive indicates a category name outside the managed set.
	ErrUnknownArchive = errors.New("unknown archive category")

	// ErrConflict indicates target archive directories already hold data.
	ErrConflict = errors.New("archives already contain data")

	// ErrPasswordRequired indicates an encrypted backup with neither a
	// password nor a readable key sidecar beside it.
	ErrPasswordRequired = errors.New("password required to decrypt backup")

	// ErrUnrecognizedBackup indicates the backup artifact is neither a
	// category directory tree, a tar archive, nor a gzip stream.
	ErrUnrecognizedBackup = errors.New("unrecognized backup format")
)

// ConflictError reports the non-empty archive directories blocking a
// restore or import. It matches ErrConflict under errors.Is.
type ConflictError struct {
	// Paths lists the non-empty directories.
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), strings.Join(e.Paths, ", "))
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
