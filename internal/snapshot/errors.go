package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no metadata object matches a snapshot id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrTransfer marks failed object-store operations.
	ErrTransfer = errors.New("transfer failed")
	// ErrConflict marks a restore target that is already populated.
	ErrConflict = errors.New("restore target already exists")
	// ErrNotFinalized is returned for metadata documents without a checksum.
	ErrNotFinalized = errors.New("snapshot metadata is not finalized")
	// ErrChecksumMismatch is returned when downloaded archive bytes do not
	// match the recorded checksum.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	// ErrEmptySnapshot is returned when none of the requested paths is a repository.
	ErrEmptySnapshot = errors.New("no repositories to snapshot")
)

// NotFoundError names the id that could not be resolved.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError names the first restore target path that already exists.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("target path already exists: %s (use overwrite to replace)", e.Path)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// TransferError wraps an object-store failure with the operation and key.
type TransferError struct {
	Op  string
	Key string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}
